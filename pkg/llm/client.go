package llm

import (
	"context"
	"fmt"

	"github.com/go-go-golems/spellbook/pkg/conversation"
)

// Usage reports token consumption for a single completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ChunkHandler receives streamed completion deltas as they arrive. It is
// called from the goroutine driving the stream; handlers must not block for
// long.
type ChunkHandler func(delta string)

// Client sends a prepared message sequence to a model and returns the full
// assistant reply. Implementations stream when the transport supports it,
// forwarding deltas to onChunk; onChunk may be nil.
type Client interface {
	Send(ctx context.Context, messages []*conversation.Message, model string, params map[string]interface{}, onChunk ChunkHandler) (string, *Usage, error)
}

// ModelInfo describes one model the backend can serve.
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// ModelCatalog is implemented by clients that can enumerate their backend's
// models. Callers check for it explicitly instead of assuming every Client
// has one.
type ModelCatalog interface {
	AvailableModels(ctx context.Context) ([]ModelInfo, error)
}

// InteractionError wraps a failed completion call with enough context to
// report it without losing the cause.
type InteractionError struct {
	Model string
	Cause error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("llm interaction with %s failed: %v", e.Model, e.Cause)
}

func (e *InteractionError) Unwrap() error {
	return e.Cause
}

func NewInteractionError(model string, cause error) *InteractionError {
	return &InteractionError{Model: model, Cause: cause}
}
