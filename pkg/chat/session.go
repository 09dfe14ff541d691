package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/spellbook/pkg/conversation"
	"github.com/go-go-golems/spellbook/pkg/events"
	"github.com/go-go-golems/spellbook/pkg/execution"
	"github.com/go-go-golems/spellbook/pkg/llm"
	"github.com/go-go-golems/spellbook/pkg/personas"
	"github.com/go-go-golems/spellbook/pkg/settings"
	"github.com/go-go-golems/spellbook/pkg/snippets"
	"github.com/go-go-golems/spellbook/pkg/store"
	"github.com/go-go-golems/spellbook/pkg/tokens"
)

// ErrCatalogUnsupported is returned by AvailableModels when the configured
// client cannot enumerate models.
var ErrCatalogUnsupported = errors.New("the configured client does not expose a model catalog")

// Session is the single entry point for chat interactions. It owns the
// conversation ledger and coordinates its collaborators: the model client,
// persona and snippet providers, the configuration resolver, the execution
// context provider, persistence and event publishing.
//
// All collaborators are injected at construction time; a Session holds no
// global state and multiple independent sessions can coexist in one process.
type Session struct {
	id string

	ledger   *conversation.Ledger
	rollback *conversation.RollbackEngine
	resolver *settings.Resolver

	client    llm.Client
	personas  personas.Provider
	snippets  snippets.Provider
	store     store.Store
	exec      execution.Provider
	publisher *events.PublisherManager

	activePersona *personas.Persona
	overrides     map[string]interface{}
	autosave      bool

	// lastExecSignature identifies the execution the session saw last, so
	// that rollback fires once per new execution instead of once per call.
	lastExecSignature string
}

type SessionOption func(*Session)

func WithID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

func WithPersonaProvider(p personas.Provider) SessionOption {
	return func(s *Session) {
		s.personas = p
	}
}

func WithSnippetProvider(p snippets.Provider) SessionOption {
	return func(s *Session) {
		s.snippets = p
	}
}

// WithStore enables persistence. The session autosaves after every
// successful turn unless WithAutosave(false) is also given.
func WithStore(st store.Store) SessionOption {
	return func(s *Session) {
		s.store = st
	}
}

func WithAutosave(enabled bool) SessionOption {
	return func(s *Session) {
		s.autosave = enabled
	}
}

func WithExecutionProvider(p execution.Provider) SessionOption {
	return func(s *Session) {
		s.exec = p
	}
}

func WithPublisher(pm *events.PublisherManager) SessionOption {
	return func(s *Session) {
		s.publisher = pm
	}
}

func WithDefaultModel(model string) SessionOption {
	return func(s *Session) {
		s.resolver = settings.NewResolver(model)
	}
}

func NewSession(client llm.Client, options ...SessionOption) (*Session, error) {
	if client == nil {
		return nil, errors.New("a model client is required")
	}

	ledger := conversation.NewLedger()
	s := &Session{
		id:        uuid.NewString(),
		ledger:    ledger,
		rollback:  conversation.NewRollbackEngine(ledger),
		resolver:  settings.NewResolver(""),
		client:    client,
		exec:      execution.NullProvider{},
		overrides: map[string]interface{}{},
		autosave:  true,
	}

	for _, option := range options {
		option(s)
	}

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// History returns a copy of the current conversation in order.
func (s *Session) History() []*conversation.Message {
	return s.ledger.Snapshot()
}

type sendConfig struct {
	params      map[string]interface{}
	personaName string
	onChunk     llm.ChunkHandler
}

type SendOption func(*sendConfig)

// WithParams supplies call-scoped request parameters. They take precedence
// over every other configuration layer for this call only.
func WithParams(params map[string]interface{}) SendOption {
	return func(c *sendConfig) {
		c.params = params
	}
}

// WithPersona swaps in a different persona for this call only. The session's
// active persona is untouched.
func WithPersona(name string) SendOption {
	return func(c *sendConfig) {
		c.personaName = name
	}
}

// WithChunkHandler forwards streamed completion deltas to the caller.
func WithChunkHandler(onChunk llm.ChunkHandler) SendOption {
	return func(c *sendConfig) {
		c.onChunk = onChunk
	}
}

// Send runs one chat turn: it rolls back any previous contribution of the
// current execution unit, appends the user message, resolves the effective
// configuration, sends the deduplicated conversation to the model and
// appends the reply.
//
// On any failure after the user message has been appended, the message is
// removed again so the ledger returns to its exact pre-call state.
func (s *Session) Send(ctx context.Context, prompt string, options ...SendOption) (string, error) {
	cfg := &sendConfig{}
	for _, option := range options {
		option(cfg)
	}

	execCtx := s.exec.Current()
	s.syncExecution(execCtx, true)

	callPersona, err := s.callPersona(cfg.personaName)
	if err != nil {
		return "", err
	}

	messageOptions := []conversation.MessageOption{}
	if execCtx.CellKey != "" {
		messageOptions = append(messageOptions, conversation.WithCellKey(execCtx.CellKey))
	}
	if execCtx.ExecutionCount != nil {
		messageOptions = append(messageOptions, conversation.WithExecutionCount(*execCtx.ExecutionCount))
	}
	userMessage := conversation.NewMessage(conversation.RoleUser, prompt, messageOptions...)
	userPosition := s.ledger.Append(userMessage)

	revert := func() {
		s.ledger.RemoveAt(userPosition, userMessage.ID)
	}

	var personaParams map[string]interface{}
	if callPersona != nil {
		personaParams = callPersona.Params
	}
	model, params, err := s.resolver.Resolve(personaParams, s.overrides, cfg.params)
	if err != nil {
		revert()
		return "", err
	}

	meta := events.EventMetadata{SessionID: s.id, Model: model}
	s.publish(events.NewStartEvent(meta, prompt))

	payload := s.payloadFor(callPersona, cfg.personaName != "")
	payload = conversation.Deduplicate(payload)

	log.Debug().
		Str("session_id", s.id).
		Str("model", model).
		Str("cell_key", execCtx.CellKey).
		Int("payload_size", len(payload)).
		Msg("sending chat turn")

	accumulator := events.NewStreamAccumulator()
	onChunk := func(delta string) {
		accumulator.Add(delta)
		s.publish(events.NewPartialCompletionEvent(meta, delta, accumulator.String()))
		if cfg.onChunk != nil {
			cfg.onChunk(delta)
		}
	}

	content, usage, err := s.client.Send(ctx, payload, model, params, onChunk)
	if err != nil {
		revert()
		s.publish(events.NewErrorEvent(meta, err))
		return "", errors.Wrap(err, "chat turn failed")
	}

	s.recordReply(payload, content, model, usage, messageOptions)
	s.publish(events.NewFinalEvent(meta, content))

	if s.store != nil && s.autosave {
		snapshot := s.ledger.Snapshot()
		saveMeta := store.Summarize(snapshot)
		saveMeta.Persona = s.personaName()
		if err := s.store.Save(ctx, s.id, snapshot, saveMeta); err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("autosave failed")
		}
	}

	return content, nil
}

// recordReply enriches the just-sent user message with its share of the
// usage numbers, then appends the assistant reply. The enrichment has to
// happen while the user message is still the last entry.
func (s *Session) recordReply(
	payload []*conversation.Message,
	content string,
	model string,
	usage *llm.Usage,
	messageOptions []conversation.MessageOption,
) {
	if usage == nil {
		inputTokens := 0
		for _, msg := range payload {
			inputTokens += tokens.Count(msg.Content, model)
		}
		usage = &llm.Usage{
			InputTokens:  inputTokens,
			OutputTokens: tokens.Count(content, model),
		}
	}

	s.ledger.EnrichLast(map[string]interface{}{
		conversation.MetadataTokensIn:  usage.InputTokens,
		conversation.MetadataModelUsed: model,
	})

	assistantMetadata := map[string]interface{}{
		conversation.MetadataTokensIn:    usage.InputTokens,
		conversation.MetadataTokensOut:   usage.OutputTokens,
		conversation.MetadataTotalTokens: usage.Total(),
		conversation.MetadataCost:        estimateCost(model, usage),
		conversation.MetadataModelUsed:   model,
	}
	assistantOptions := append([]conversation.MessageOption{}, messageOptions...)
	assistantOptions = append(assistantOptions, conversation.WithMetadata(assistantMetadata))
	s.ledger.Append(conversation.NewMessage(conversation.RoleAssistant, content, assistantOptions...))
}

// payloadFor builds the message sequence for one call. With a call-scoped
// persona the ledger's persona messages are masked out and the override's
// system message leads instead; the ledger itself is untouched.
func (s *Session) payloadFor(callPersona *personas.Persona, override bool) []*conversation.Message {
	snapshot := s.ledger.Snapshot()
	if !override {
		return snapshot
	}

	payload := make([]*conversation.Message, 0, len(snapshot)+1)
	if callPersona != nil && callPersona.SystemMessage != "" {
		payload = append(payload, conversation.NewMessage(
			conversation.RoleSystem,
			callPersona.SystemMessage,
			conversation.WithProvenance(conversation.ProvenancePersona),
		))
	}
	for _, msg := range snapshot {
		if msg.Provenance == conversation.ProvenancePersona {
			continue
		}
		payload = append(payload, msg)
	}
	return payload
}

func (s *Session) callPersona(overrideName string) (*personas.Persona, error) {
	if overrideName == "" {
		return s.activePersona, nil
	}
	if s.personas == nil {
		return nil, errors.New("no persona provider configured")
	}
	p, err := s.personas.Get(overrideName)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load persona %q", overrideName)
	}
	return p, nil
}

func (s *Session) personaName() string {
	if s.activePersona == nil {
		return ""
	}
	return s.activePersona.Name
}

// syncExecution rolls back the current execution unit's previous
// contribution when a new execution of it begins. Reruns are detected by the
// (cell key, execution count) pair changing; every ledger-affecting entry
// point calls this, so a snippet added and a prompt sent within the same
// execution share one rollback.
//
// Hosts that expose no execution counter cannot distinguish a rerun from a
// continuation; for them every prompt is treated as a rerun.
func (s *Session) syncExecution(execCtx execution.Context, isPrompt bool) {
	if execCtx.CellKey == "" {
		return
	}
	if execCtx.ExecutionCount == nil {
		if isPrompt {
			s.rollback.Rollback(execCtx.CellKey)
		}
		return
	}
	signature := execCtx.CellKey + "\x00" + strconv.Itoa(*execCtx.ExecutionCount)
	if signature == s.lastExecSignature {
		return
	}
	s.rollback.Rollback(execCtx.CellKey)
	s.lastExecSignature = signature
}

func (s *Session) publish(e events.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishBlind(e)
}

// SetPersona makes the named persona active. Its system message is installed
// at the head of the conversation, replacing any previous persona message.
func (s *Session) SetPersona(name string) error {
	if s.personas == nil {
		return errors.New("no persona provider configured")
	}
	p, err := s.personas.Get(name)
	if err != nil {
		return errors.Wrapf(err, "could not load persona %q", name)
	}

	s.installPersonaMessage(p)
	s.activePersona = p
	log.Info().Str("session_id", s.id).Str("persona", name).Msg("persona activated")
	return nil
}

// ClearPersona drops the active persona and removes its system message from
// the conversation.
func (s *Session) ClearPersona() {
	s.installPersonaMessage(nil)
	s.activePersona = nil
}

func (s *Session) installPersonaMessage(p *personas.Persona) {
	entries := make([]*conversation.Message, 0, s.ledger.Len()+1)
	if p != nil && p.SystemMessage != "" {
		entries = append(entries, conversation.NewMessage(
			conversation.RoleSystem,
			p.SystemMessage,
			conversation.WithProvenance(conversation.ProvenancePersona),
			conversation.WithMetadata(map[string]interface{}{
				conversation.MetadataSource: p.Source,
			}),
		))
	}
	for _, msg := range s.ledger.Snapshot() {
		if msg.Provenance == conversation.ProvenancePersona {
			continue
		}
		entries = append(entries, msg)
	}
	s.ledger.Replace(entries)
}

// ActivePersona returns the active persona's name, or "" when none is set.
func (s *Session) ActivePersona() string {
	return s.personaName()
}

// AddSnippet injects the named snippet into the conversation under the given
// role. Snippets are ordinary ledger entries; they participate in rollback
// via the current execution unit like any other message.
func (s *Session) AddSnippet(name string, role conversation.Role) error {
	if s.snippets == nil {
		return errors.New("no snippet provider configured")
	}
	content, err := s.snippets.Get(name)
	if err != nil {
		return errors.Wrapf(err, "could not load snippet %q", name)
	}

	execCtx := s.exec.Current()
	s.syncExecution(execCtx, false)

	options := []conversation.MessageOption{
		conversation.WithMetadata(map[string]interface{}{
			conversation.MetadataIsSnippet: true,
			conversation.MetadataSource:    name,
		}),
	}
	if execCtx.CellKey != "" {
		options = append(options, conversation.WithCellKey(execCtx.CellKey))
	}
	if execCtx.ExecutionCount != nil {
		options = append(options, conversation.WithExecutionCount(*execCtx.ExecutionCount))
	}
	if role == conversation.RoleSystem {
		options = append(options, conversation.WithProvenance(conversation.ProvenanceInjected))
	}

	s.ledger.Append(conversation.NewMessage(role, content, options...))
	return nil
}

// SetOverride sets a session-level configuration override. Overrides sit
// between persona parameters and call parameters in precedence and are not
// filtered; the caller owns the key space.
func (s *Session) SetOverride(key string, value interface{}) {
	s.overrides[key] = value
}

func (s *Session) RemoveOverride(key string) {
	delete(s.overrides, key)
}

func (s *Session) ClearOverrides() {
	s.overrides = map[string]interface{}{}
}

// Overrides returns a copy of the current overrides with secret-looking
// values masked, for display.
func (s *Session) Overrides() map[string]interface{} {
	ret := make(map[string]interface{}, len(s.overrides))
	for key, value := range s.overrides {
		if isSensitiveKey(key) {
			ret[key] = "****"
			continue
		}
		ret[key] = value
	}
	return ret
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range []string{"key", "token", "secret", "password"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// ClearConversation empties the ledger. With keepSystem, system messages
// (persona and injected context) survive.
func (s *Session) ClearConversation(keepSystem bool) {
	s.ledger.Clear(keepSystem)
}

// NewConversation clears everything and assigns a fresh session id.
func (s *Session) NewConversation() {
	s.ledger.Clear(false)
	s.lastExecSignature = ""
	s.id = uuid.NewString()
}

// SaveConversation persists the current conversation under the session id
// and returns that id.
func (s *Session) SaveConversation(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", errors.New("no conversation store configured")
	}
	snapshot := s.ledger.Snapshot()
	meta := store.Summarize(snapshot)
	meta.Persona = s.personaName()
	if err := s.store.Save(ctx, s.id, snapshot, meta); err != nil {
		return "", err
	}
	return s.id, nil
}

// LoadConversation replaces the current conversation with a persisted one.
// The session id switches to the loaded conversation's id.
func (s *Session) LoadConversation(ctx context.Context, id string) error {
	if s.store == nil {
		return errors.New("no conversation store configured")
	}
	messages, _, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	s.ledger.Replace(messages)
	s.lastExecSignature = ""
	s.id = id
	return nil
}

// ListConversations lists persisted conversations.
func (s *Session) ListConversations(ctx context.Context) ([]store.Entry, error) {
	if s.store == nil {
		return nil, errors.New("no conversation store configured")
	}
	return s.store.List(ctx)
}

// AvailableModels enumerates the backend's models when the client supports
// it, and returns ErrCatalogUnsupported otherwise.
func (s *Session) AvailableModels(ctx context.Context) ([]llm.ModelInfo, error) {
	catalog, ok := s.client.(llm.ModelCatalog)
	if !ok {
		return nil, ErrCatalogUnsupported
	}
	return catalog.AvailableModels(ctx)
}
