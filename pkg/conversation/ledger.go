package conversation

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrLedgerInconsistent signals that the cell index no longer matches the
// entries it was derived from. This is a programming-error signal and should
// be unreachable through the public API.
var ErrLedgerInconsistent = errors.New("ledger cell index inconsistent with entries")

// Ledger is the append-biased, ordered conversation store for one session.
//
// Alongside the entries it maintains a cell index mapping each execution
// unit key to the position of the last entry that unit contributed. The
// index is a cache: it can always be rebuilt by a single scan over the
// entries, and every structural mutation besides Append rebuilds it.
//
// The host environment runs execution units to completion one at a time,
// so the ledger performs no locking; all mutation is sequential relative
// to a single session.
type Ledger struct {
	entries   []*Message
	cellIndex map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{
		cellIndex: make(map[string]int),
	}
}

// Append adds a message at the end and returns its position. If the message
// carries a cell key, the index is updated to point at the new position.
func (l *Ledger) Append(msg *Message) int {
	l.entries = append(l.entries, msg)
	position := len(l.entries) - 1
	if msg.CellKey != "" {
		l.cellIndex[msg.CellKey] = position
		log.Debug().
			Str("cell_key", msg.CellKey).
			Int("position", position).
			Str("role", string(msg.Role)).
			Msg("updated cell index on append")
	}
	return position
}

// Snapshot returns a copy of the entries in conversation order. The
// returned slice is owned by the caller; internal storage is never exposed.
func (l *Ledger) Snapshot() []*Message {
	ret := make([]*Message, len(l.entries))
	copy(ret, l.entries)
	return ret
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Last returns the most recently appended entry, or nil when empty.
func (l *Ledger) Last() *Message {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// LastPositionFor returns the position of the last entry contributed by the
// given execution unit key.
func (l *Ledger) LastPositionFor(cellKey string) (int, bool) {
	pos, ok := l.cellIndex[cellKey]
	return pos, ok
}

// EntryAt returns the entry at the given position.
func (l *Ledger) EntryAt(position int) (*Message, bool) {
	if position < 0 || position >= len(l.entries) {
		return nil, false
	}
	return l.entries[position], true
}

// Replace swaps in a whole new entry list (used when hydrating a persisted
// conversation) and rebuilds the cell index from scratch, last write wins.
func (l *Ledger) Replace(entries []*Message) {
	l.entries = make([]*Message, len(entries))
	copy(l.entries, entries)
	l.rebuildIndex()
	log.Info().Int("count", len(l.entries)).Msg("ledger replaced")
}

// Truncate drops all entries at or after the given position and rebuilds
// the cell index. Positions at or beyond the current length are a no-op.
func (l *Ledger) Truncate(position int) {
	if position < 0 {
		position = 0
	}
	if position >= len(l.entries) {
		return
	}
	removed := len(l.entries) - position
	l.entries = l.entries[:position]
	l.rebuildIndex()
	log.Debug().
		Int("removed", removed).
		Int("remaining", len(l.entries)).
		Msg("ledger truncated")
}

// RemoveAt removes the entry at the given position if it still exists and
// matches the given message ID. It is used to revert a just-appended entry
// after a failed model call; the position check makes the operation
// idempotent. Returns whether an entry was removed.
func (l *Ledger) RemoveAt(position int, id string) bool {
	if position < 0 || position >= len(l.entries) {
		return false
	}
	if l.entries[position].ID != id {
		return false
	}
	l.entries = append(l.entries[:position], l.entries[position+1:]...)
	l.rebuildIndex()
	return true
}

// Clear empties the ledger. With keepSystem, system-role entries are
// retained but the cell index is dropped entirely, since the surviving
// entries lose their execution association.
func (l *Ledger) Clear(keepSystem bool) {
	if keepSystem {
		kept := make([]*Message, 0, len(l.entries))
		for _, m := range l.entries {
			if m.Role == RoleSystem {
				kept = append(kept, m)
			}
		}
		l.entries = kept
	} else {
		l.entries = nil
	}
	l.cellIndex = make(map[string]int)
	log.Info().Bool("keep_system", keepSystem).Int("remaining", len(l.entries)).Msg("ledger cleared")
}

// EnrichLast merges metadata into the most recently appended entry. This is
// the only mutation allowed on an appended message.
func (l *Ledger) EnrichLast(metadata map[string]interface{}) {
	last := l.Last()
	if last == nil || len(metadata) == 0 {
		return
	}
	if last.Metadata == nil {
		last.Metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		last.Metadata[k] = v
	}
}

// CheckConsistency verifies that every index entry points at an in-bounds
// position whose message carries the indexed key. A failure here indicates
// a bug in the ledger itself, not bad input.
func (l *Ledger) CheckConsistency() error {
	for key, pos := range l.cellIndex {
		if pos < 0 || pos >= len(l.entries) {
			return errors.Wrapf(ErrLedgerInconsistent, "key %q points at position %d with %d entries", key, pos, len(l.entries))
		}
		if l.entries[pos].CellKey != key {
			return errors.Wrapf(ErrLedgerInconsistent, "key %q points at entry owned by %q", key, l.entries[pos].CellKey)
		}
	}
	return nil
}

func (l *Ledger) rebuildIndex() {
	l.cellIndex = make(map[string]int)
	for i, msg := range l.entries {
		if msg.CellKey != "" {
			l.cellIndex[msg.CellKey] = i
		}
	}
}
