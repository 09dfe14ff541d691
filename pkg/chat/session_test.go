package chat

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/spellbook/pkg/conversation"
	"github.com/go-go-golems/spellbook/pkg/execution"
	"github.com/go-go-golems/spellbook/pkg/llm"
	"github.com/go-go-golems/spellbook/pkg/personas"
	"github.com/go-go-golems/spellbook/pkg/snippets"
	"github.com/go-go-golems/spellbook/pkg/store"
)

// fakeClient scripts replies and records what it was asked to send.
type fakeClient struct {
	reply  string
	chunks []string
	usage  *llm.Usage
	err    error

	lastMessages []*conversation.Message
	lastModel    string
	lastParams   map[string]interface{}
	calls        int
}

var _ llm.Client = (*fakeClient)(nil)

func (c *fakeClient) Send(
	_ context.Context,
	messages []*conversation.Message,
	model string,
	params map[string]interface{},
	onChunk llm.ChunkHandler,
) (string, *llm.Usage, error) {
	c.calls++
	c.lastMessages = messages
	c.lastModel = model
	c.lastParams = params
	if c.err != nil {
		return "", nil, c.err
	}
	for _, chunk := range c.chunks {
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return c.reply, c.usage, nil
}

func pirateStore(t *testing.T) *personas.InMemoryStore {
	t.Helper()
	ps := personas.NewInMemoryStore()
	ps.Put(&personas.Persona{
		Name:          "pirate",
		SystemMessage: "Arr!",
		Params:        map[string]interface{}{"temperature": 0.9},
	})
	ps.Put(&personas.Persona{
		Name:          "butler",
		SystemMessage: "At your service.",
	})
	return ps
}

func newTestSession(t *testing.T, client *fakeClient, options ...SessionOption) *Session {
	t.Helper()
	options = append([]SessionOption{WithDefaultModel("gpt-4")}, options...)
	s, err := NewSession(client, options...)
	require.NoError(t, err)
	return s
}

func TestSendAppendsUserAndAssistant(t *testing.T) {
	client := &fakeClient{reply: "hello!", usage: &llm.Usage{InputTokens: 7, OutputTokens: 3}}
	s := newTestSession(t, client)

	reply, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello!", reply)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello!", history[1].Content)

	assert.Equal(t, 7, history[0].Metadata[conversation.MetadataTokensIn])
	assert.Equal(t, "gpt-4", history[0].Metadata[conversation.MetadataModelUsed])
	assert.Equal(t, 3, history[1].Metadata[conversation.MetadataTokensOut])
	assert.Equal(t, 10, history[1].Metadata[conversation.MetadataTotalTokens])
	assert.InDelta(t, 7*0.00003+3*0.00006, history[1].Metadata[conversation.MetadataCost].(float64), 1e-9)
}

func TestSendRevertsUserMessageOnFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	s := newTestSession(t, client)

	_, err := s.Send(context.Background(), "first")
	require.Error(t, err)
	assert.Empty(t, s.History())

	// A later successful call starts from a clean slate.
	client.err = nil
	client.reply = "ok"
	_, err = s.Send(context.Background(), "second")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Content)
}

func TestSendNoModelFailsBeforeInvoking(t *testing.T) {
	client := &fakeClient{reply: "never"}
	s, err := NewSession(client)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 0, client.calls)
	assert.Empty(t, s.History())
}

func TestCellRerunReplacesPreviousContribution(t *testing.T) {
	client := &fakeClient{reply: "v1"}
	exec := execution.NewManualProvider()
	s := newTestSession(t, client, WithExecutionProvider(exec))

	exec.Set("c1", 1)
	_, err := s.Send(context.Background(), "question v1")
	require.NoError(t, err)
	require.Len(t, s.History(), 2)

	client.reply = "v2"
	exec.Set("c1", 2)
	_, err = s.Send(context.Background(), "question v2")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "question v2", history[0].Content)
	assert.Equal(t, "v2", history[1].Content)
}

func TestCellRerunKeepsOtherCells(t *testing.T) {
	client := &fakeClient{reply: "a1"}
	exec := execution.NewManualProvider()
	s := newTestSession(t, client, WithExecutionProvider(exec))

	exec.Set("c1", 1)
	_, err := s.Send(context.Background(), "from c1")
	require.NoError(t, err)

	client.reply = "a2"
	exec.Set("c2", 2)
	_, err = s.Send(context.Background(), "from c2")
	require.NoError(t, err)

	client.reply = "a2 again"
	exec.Set("c2", 3)
	_, err = s.Send(context.Background(), "from c2 reworded")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, "from c1", history[0].Content)
	assert.Equal(t, "a1", history[1].Content)
	assert.Equal(t, "from c2 reworded", history[2].Content)
	assert.Equal(t, "a2 again", history[3].Content)
}

func TestSetPersonaLeadsConversation(t *testing.T) {
	client := &fakeClient{reply: "Ahoy!"}
	s := newTestSession(t, client, WithPersonaProvider(pirateStore(t)))

	require.NoError(t, s.SetPersona("pirate"))
	assert.Equal(t, "pirate", s.ActivePersona())

	reply, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Ahoy!", reply)

	require.NotEmpty(t, client.lastMessages)
	assert.Equal(t, conversation.RoleSystem, client.lastMessages[0].Role)
	assert.Equal(t, "Arr!", client.lastMessages[0].Content)
	assert.Equal(t, conversation.ProvenancePersona, client.lastMessages[0].Provenance)

	// Persona params flow into the resolved configuration.
	assert.Equal(t, 0.9, client.lastParams["temperature"])
}

func TestSetPersonaReplacesPreviousPersona(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client, WithPersonaProvider(pirateStore(t)))

	require.NoError(t, s.SetPersona("pirate"))
	require.NoError(t, s.SetPersona("butler"))

	var systemMessages []string
	for _, msg := range s.History() {
		if msg.Role == conversation.RoleSystem {
			systemMessages = append(systemMessages, msg.Content)
		}
	}
	assert.Equal(t, []string{"At your service."}, systemMessages)
}

func TestCallScopedPersonaDoesNotStick(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client, WithPersonaProvider(pirateStore(t)))
	require.NoError(t, s.SetPersona("pirate"))

	_, err := s.Send(context.Background(), "hello", WithPersona("butler"))
	require.NoError(t, err)

	// The call saw the butler persona.
	assert.Equal(t, "At your service.", client.lastMessages[0].Content)

	// The ledger still carries the pirate persona.
	assert.Equal(t, "pirate", s.ActivePersona())
	assert.Equal(t, "Arr!", s.History()[0].Content)

	_, err = s.Send(context.Background(), "and now?")
	require.NoError(t, err)
	assert.Equal(t, "Arr!", client.lastMessages[0].Content)
}

func TestOverridePrecedence(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client, WithPersonaProvider(pirateStore(t)))
	require.NoError(t, s.SetPersona("pirate"))

	s.SetOverride("temperature", 0.2)
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 0.2, client.lastParams["temperature"])

	_, err = s.Send(context.Background(), "hi again", WithParams(map[string]interface{}{"temperature": 0.5}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, client.lastParams["temperature"])

	s.RemoveOverride("temperature")
	_, err = s.Send(context.Background(), "once more")
	require.NoError(t, err)
	assert.Equal(t, 0.9, client.lastParams["temperature"])
}

func TestCallScopedModelOverride(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client)

	_, err := s.Send(context.Background(), "hi", WithParams(map[string]interface{}{"model": "gpt-4o"}))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.lastModel)
	assert.NotContains(t, client.lastParams, "model")
}

func TestOverridesMasksSecrets(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client)

	s.SetOverride("api_key", "sk-very-secret")
	s.SetOverride("temperature", 0.3)

	shown := s.Overrides()
	assert.Equal(t, "****", shown["api_key"])
	assert.Equal(t, 0.3, shown["temperature"])
}

func TestStreamingChunksReachHandlerButNotLedger(t *testing.T) {
	client := &fakeClient{reply: "Arr, matey!", chunks: []string{"Arr", ", matey!"}}
	s := newTestSession(t, client)

	var received []string
	_, err := s.Send(context.Background(), "hi", WithChunkHandler(func(delta string) {
		received = append(received, delta)
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"Arr", ", matey!"}, received)
	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Arr, matey!", history[1].Content)
}

func TestSnippetInjection(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	sp := snippets.NewInMemoryProvider()
	sp.Put("context", "the project uses Go modules")
	s := newTestSession(t, client, WithSnippetProvider(sp))

	require.NoError(t, s.AddSnippet("context", conversation.RoleSystem))

	history := s.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSnippet())
	assert.Equal(t, conversation.ProvenanceInjected, history[0].Provenance)
	assert.Equal(t, "context", history[0].Metadata[conversation.MetadataSource])
}

func TestSnippetRollsBackWithItsCell(t *testing.T) {
	client := &fakeClient{reply: "first"}
	exec := execution.NewManualProvider()
	sp := snippets.NewInMemoryProvider()
	sp.Put("docs", "relevant docs")
	s := newTestSession(t, client, WithExecutionProvider(exec), WithSnippetProvider(sp))

	exec.Set("c1", 1)
	require.NoError(t, s.AddSnippet("docs", conversation.RoleUser))
	_, err := s.Send(context.Background(), "use the docs")
	require.NoError(t, err)
	require.Len(t, s.History(), 3)

	client.reply = "second"
	exec.Set("c1", 2)
	require.NoError(t, s.AddSnippet("docs", conversation.RoleUser))
	_, err = s.Send(context.Background(), "use the docs differently")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, "relevant docs", history[0].Content)
	assert.Equal(t, "use the docs differently", history[1].Content)
	assert.Equal(t, "second", history[2].Content)
}

func TestAutosaveAndLoad(t *testing.T) {
	client := &fakeClient{reply: "saved reply"}
	st := store.NewMemoryStore()
	s := newTestSession(t, client, WithStore(st))

	_, err := s.Send(context.Background(), "remember this")
	require.NoError(t, err)

	entries, err := s.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID(), entries[0].ID)
	assert.Equal(t, 2, entries[0].Metadata.MessageCount)

	savedID := s.ID()
	s.NewConversation()
	assert.Empty(t, s.History())
	assert.NotEqual(t, savedID, s.ID())

	require.NoError(t, s.LoadConversation(context.Background(), savedID))
	assert.Equal(t, savedID, s.ID())
	require.Len(t, s.History(), 2)
	assert.Equal(t, "remember this", s.History()[0].Content)
}

func TestClearConversationKeepSystem(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	s := newTestSession(t, client, WithPersonaProvider(pirateStore(t)))
	require.NoError(t, s.SetPersona("pirate"))
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	s.ClearConversation(true)
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, conversation.RoleSystem, history[0].Role)
}

func TestAvailableModelsUnsupported(t *testing.T) {
	s := newTestSession(t, &fakeClient{})
	_, err := s.AvailableModels(context.Background())
	require.ErrorIs(t, err, ErrCatalogUnsupported)
}

type catalogClient struct {
	fakeClient
}

func (c *catalogClient) AvailableModels(context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{ID: "gpt-4", OwnedBy: "openai"}}, nil
}

func TestAvailableModelsSupported(t *testing.T) {
	client := &catalogClient{fakeClient{reply: "ok"}}
	s, err := NewSession(client, WithDefaultModel("gpt-4"))
	require.NoError(t, err)

	models, err := s.AvailableModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4", models[0].ID)
}

func TestEstimatedUsageWhenClientReportsNone(t *testing.T) {
	client := &fakeClient{reply: "a reply with several words in it"}
	s := newTestSession(t, client)

	_, err := s.Send(context.Background(), "a question")
	require.NoError(t, err)

	history := s.History()
	tokensOut, ok := history[1].Metadata[conversation.MetadataTokensOut].(int)
	require.True(t, ok)
	assert.Greater(t, tokensOut, 0)
}
