package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provenance tags a system message with its origin, so that downstream
// passes can order persona prompts before injected context without relying
// on content heuristics. Non-system messages leave it empty.
type Provenance string

const (
	ProvenanceNone     Provenance = ""
	ProvenancePersona  Provenance = "persona"
	ProvenanceInjected Provenance = "injected"
)

// Well-known metadata keys. All of them are optional and populated by
// callers or collaborators; the ledger itself never requires them.
const (
	MetadataTokensIn    = "tokens_in"
	MetadataTokensOut   = "tokens_out"
	MetadataTotalTokens = "total_tokens"
	MetadataCost        = "cost"
	MetadataModelUsed   = "model_used"
	MetadataIsSnippet   = "is_snippet"
	MetadataSource      = "source"
)

// Message is a single ledger entry. Once appended to a Ledger it is never
// mutated in place; the only allowed mutation is metadata enrichment of the
// most recently appended entry (see Ledger.EnrichLast).
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// CellKey identifies the execution unit (notebook cell) that produced
	// this message. Empty outside a notebook.
	CellKey string `json:"cellKey,omitempty"`
	// ExecutionCount is the host's execution counter at creation time.
	// Descriptive metadata only, never used for ordering.
	ExecutionCount *int `json:"executionCount,omitempty"`

	Provenance Provenance             `json:"provenance,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Time       time.Time              `json:"time"`
}

type MessageOption func(*Message)

func WithCellKey(key string) MessageOption {
	return func(m *Message) {
		m.CellKey = key
	}
}

func WithExecutionCount(count int) MessageOption {
	return func(m *Message) {
		m.ExecutionCount = &count
	}
}

func WithProvenance(p Provenance) MessageOption {
	return func(m *Message) {
		m.Provenance = p
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

// NewMessage builds a Message and assigns its identifier. When the message
// carries execution context the ID is derived deterministically from
// (role, content, cell key, execution count), so re-sending identical
// content under the same execution context yields the same ID. Without
// execution context the ID is random.
func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		Role:    role,
		Content: content,
		Time:    time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	if ret.ID == "" {
		if ret.CellKey != "" || ret.ExecutionCount != nil {
			ret.ID = deriveMessageID(ret.Role, ret.Content, ret.CellKey, ret.ExecutionCount)
		} else {
			ret.ID = uuid.NewString()
		}
	}

	return ret
}

func deriveMessageID(role Role, content string, cellKey string, executionCount *int) string {
	count := ""
	if executionCount != nil {
		count = strconv.Itoa(*executionCount)
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s", role, content, cellKey, count)))
	return hex.EncodeToString(h[:16])
}

// IsSnippet reports whether the message was injected from a snippet.
func (m *Message) IsSnippet() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetadataIsSnippet].(bool)
	return ok && v
}

// Clone returns a copy with its own metadata map.
func (m *Message) Clone() *Message {
	ret := *m
	if m.Metadata != nil {
		ret.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			ret.Metadata[k] = v
		}
	}
	if m.ExecutionCount != nil {
		count := *m.ExecutionCount
		ret.ExecutionCount = &count
	}
	return &ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, m.Content)
}
