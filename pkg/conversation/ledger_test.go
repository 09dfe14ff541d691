package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(content, cellKey string) *Message {
	if cellKey == "" {
		return NewMessage(RoleUser, content)
	}
	return NewMessage(RoleUser, content, WithCellKey(cellKey))
}

func assistantMsg(content, cellKey string) *Message {
	if cellKey == "" {
		return NewMessage(RoleAssistant, content)
	}
	return NewMessage(RoleAssistant, content, WithCellKey(cellKey))
}

func TestLedgerAppendUpdatesCellIndex(t *testing.T) {
	l := NewLedger()

	pos := l.Append(userMsg("hello", "c1"))
	assert.Equal(t, 0, pos)

	pos = l.Append(assistantMsg("hi", "c1"))
	assert.Equal(t, 1, pos)

	last, ok := l.LastPositionFor("c1")
	require.True(t, ok)
	assert.Equal(t, 1, last)

	require.NoError(t, l.CheckConsistency())
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	l := NewLedger()
	l.Append(userMsg("a", ""))

	snap := l.Snapshot()
	require.Len(t, snap, 1)

	snap[0] = userMsg("mutated", "")
	assert.Equal(t, "a", l.Snapshot()[0].Content)
}

func TestLedgerReplaceRebuildsIndexLastWriteWins(t *testing.T) {
	l := NewLedger()
	l.Append(userMsg("old", "stale"))

	l.Replace([]*Message{
		userMsg("x", "c1"),
		assistantMsg("y", "c1"),
		userMsg("z", "c2"),
	})

	assert.Equal(t, 3, l.Len())

	pos, ok := l.LastPositionFor("c1")
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	pos, ok = l.LastPositionFor("c2")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = l.LastPositionFor("stale")
	assert.False(t, ok)

	require.NoError(t, l.CheckConsistency())
}

func TestLedgerTruncate(t *testing.T) {
	l := NewLedger()
	l.Append(userMsg("a", "c1"))
	l.Append(assistantMsg("b", "c1"))
	l.Append(userMsg("c", "c2"))

	l.Truncate(1)

	assert.Equal(t, 1, l.Len())
	pos, ok := l.LastPositionFor("c1")
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	_, ok = l.LastPositionFor("c2")
	assert.False(t, ok)

	// truncating past the end is a no-op
	l.Truncate(10)
	assert.Equal(t, 1, l.Len())

	require.NoError(t, l.CheckConsistency())
}

func TestLedgerClearKeepSystemDropsCellIndex(t *testing.T) {
	l := NewLedger()
	l.Append(NewMessage(RoleSystem, "be nice"))
	l.Append(userMsg("hi", "c1"))
	l.Append(assistantMsg("hello", "c1"))

	l.Clear(true)

	require.Equal(t, 1, l.Len())
	assert.Equal(t, RoleSystem, l.Snapshot()[0].Role)
	_, ok := l.LastPositionFor("c1")
	assert.False(t, ok)
}

func TestLedgerClearAll(t *testing.T) {
	l := NewLedger()
	l.Append(NewMessage(RoleSystem, "be nice"))
	l.Append(userMsg("hi", "c1"))

	l.Clear(false)

	assert.Equal(t, 0, l.Len())
}

func TestLedgerRemoveAtIsIdempotent(t *testing.T) {
	l := NewLedger()
	l.Append(userMsg("a", ""))
	msg := userMsg("b", "c1")
	pos := l.Append(msg)

	assert.True(t, l.RemoveAt(pos, msg.ID))
	assert.Equal(t, 1, l.Len())

	// second removal at the same position is a no-op
	assert.False(t, l.RemoveAt(pos, msg.ID))
	assert.Equal(t, 1, l.Len())

	_, ok := l.LastPositionFor("c1")
	assert.False(t, ok)
}

func TestLedgerRemoveAtChecksIdentity(t *testing.T) {
	l := NewLedger()
	kept := userMsg("keep me", "")
	l.Append(kept)

	assert.False(t, l.RemoveAt(0, "some-other-id"))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerEnrichLast(t *testing.T) {
	l := NewLedger()
	l.Append(userMsg("q", ""))
	l.Append(assistantMsg("a", ""))

	l.EnrichLast(map[string]interface{}{
		MetadataTokensOut: 12,
		MetadataModelUsed: "gpt-4",
	})

	last := l.Last()
	require.NotNil(t, last)
	assert.Equal(t, 12, last.Metadata[MetadataTokensOut])
	assert.Equal(t, "gpt-4", last.Metadata[MetadataModelUsed])

	// first entry untouched
	assert.Nil(t, l.Snapshot()[0].Metadata)
}
