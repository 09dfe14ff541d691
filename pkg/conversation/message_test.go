package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDDeterministicWithExecutionContext(t *testing.T) {
	a := NewMessage(RoleUser, "hello", WithCellKey("c1"), WithExecutionCount(3))
	b := NewMessage(RoleUser, "hello", WithCellKey("c1"), WithExecutionCount(3))

	assert.Equal(t, a.ID, b.ID)
}

func TestMessageIDVariesWithContext(t *testing.T) {
	a := NewMessage(RoleUser, "hello", WithCellKey("c1"))
	b := NewMessage(RoleUser, "hello", WithCellKey("c2"))
	c := NewMessage(RoleAssistant, "hello", WithCellKey("c1"))

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestMessageIDRandomWithoutContext(t *testing.T) {
	a := NewMessage(RoleUser, "hello")
	b := NewMessage(RoleUser, "hello")

	assert.NotEqual(t, a.ID, b.ID)
}

func TestMessageCloneIsDeep(t *testing.T) {
	m := NewMessage(RoleAssistant, "x",
		WithExecutionCount(7),
		WithMetadata(map[string]interface{}{MetadataTokensOut: 3}),
	)

	c := m.Clone()
	c.Metadata[MetadataTokensOut] = 99
	*c.ExecutionCount = 8

	assert.Equal(t, 3, m.Metadata[MetadataTokensOut])
	assert.Equal(t, 7, *m.ExecutionCount)
}

func TestIsSnippet(t *testing.T) {
	plain := NewMessage(RoleSystem, "x")
	snippet := NewMessage(RoleSystem, "x", WithMetadata(map[string]interface{}{MetadataIsSnippet: true}))

	assert.False(t, plain.IsSnippet())
	assert.True(t, snippet.IsSnippet())
}
