package conversation

import (
	"github.com/rs/zerolog/log"
)

// RollbackEngine makes re-running an execution unit idempotent with respect
// to ledger content: before the unit contributes again, its previous
// contribution is removed, so the rerun looks like a first run.
type RollbackEngine struct {
	ledger *Ledger
}

func NewRollbackEngine(ledger *Ledger) *RollbackEngine {
	return &RollbackEngine{ledger: ledger}
}

// Rollback truncates the ledger back to the first entry of the given unit's
// most recent contiguous contribution. It returns whether a truncation
// occurred. An empty or unknown key is a no-op.
//
// A single execution of a unit can append several messages (user prompt,
// snippet injections, assistant reply); nothing else runs concurrently with
// cell execution, so those messages are contiguous by construction.
// Contiguous ownership is the single authoritative rule: rollback does not
// require the unit's last contribution to be an assistant message, so a run
// that errored after the user message still rolls back cleanly.
func (r *RollbackEngine) Rollback(cellKey string) bool {
	if cellKey == "" {
		log.Debug().Msg("rollback requested without cell key, skipping")
		return false
	}

	last, ok := r.ledger.LastPositionFor(cellKey)
	if !ok {
		log.Debug().Str("cell_key", cellKey).Msg("cell never contributed, nothing to roll back")
		return false
	}

	first := last
	for first > 0 {
		entry, ok := r.ledger.EntryAt(first - 1)
		if !ok || entry.CellKey != cellKey {
			break
		}
		first--
	}

	log.Info().
		Str("cell_key", cellKey).
		Int("first", first).
		Int("last", last).
		Msg("cell rerun detected, rolling back ledger")
	r.ledger.Truncate(first)
	return true
}
