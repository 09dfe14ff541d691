package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/spellbook/pkg/conversation"
)

// ErrNotFound is returned when a conversation id resolves to nothing.
var ErrNotFound = errors.New("conversation not found")

// Metadata summarizes a saved conversation so listings do not need to load
// full payloads.
type Metadata struct {
	SavedAt      time.Time `json:"savedAt"`
	MessageCount int       `json:"messageCount"`
	Turns        int       `json:"turns"`
	Model        string    `json:"model,omitempty"`
	Persona      string    `json:"persona,omitempty"`
	TotalTokens  int       `json:"totalTokens,omitempty"`
}

// Entry pairs a saved conversation id with its metadata, for listings.
type Entry struct {
	ID       string
	Metadata Metadata
}

// Store persists conversation snapshots. Implementations must not retain the
// slices passed to Save; callers may keep mutating their ledger afterwards.
type Store interface {
	Save(ctx context.Context, id string, messages []*conversation.Message, meta Metadata) error
	Load(ctx context.Context, id string) ([]*conversation.Message, Metadata, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id string) error
}

// Summarize computes listing metadata from a message slice.
func Summarize(messages []*conversation.Message) Metadata {
	meta := Metadata{
		SavedAt:      time.Now(),
		MessageCount: len(messages),
	}
	for _, msg := range messages {
		if msg.Role == conversation.RoleUser {
			meta.Turns++
		}
		if msg.Metadata == nil {
			continue
		}
		if total, ok := toInt(msg.Metadata[conversation.MetadataTotalTokens]); ok {
			meta.TotalTokens += total
		}
		if model, ok := msg.Metadata[conversation.MetadataModelUsed].(string); ok && model != "" {
			meta.Model = model
		}
	}
	return meta
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
