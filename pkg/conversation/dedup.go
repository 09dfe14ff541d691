package conversation

import (
	"github.com/rs/zerolog/log"
)

// Deduplicate produces the message list actually handed to the model,
// collapsing accidental repeats without discarding distinct context.
//
// Non-system messages are deduplicated by (role, content), keeping the last
// occurrence and preserving the relative order of the kept entries. System
// messages are handled separately: the persona prompt is identified first
// (by its provenance tag when present, otherwise by the shortest-content
// heuristic) and always emitted first; the remaining system messages are
// deduplicated by exact content, keeping the latest occurrence. A system
// and a non-system message with identical text are never considered
// duplicates of each other.
//
// The pass is a fixed point: applying it to its own output changes nothing.
func Deduplicate(messages []*Message) []*Message {
	if len(messages) == 0 {
		return nil
	}

	var system, rest []*Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	seen := map[string]bool{}
	dedupedRest := make([]*Message, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		key := string(rest[i].Role) + "\x00" + rest[i].Content
		if seen[key] {
			log.Debug().Str("role", string(rest[i].Role)).Msg("dropping duplicate message")
			continue
		}
		seen[key] = true
		dedupedRest = append([]*Message{rest[i]}, dedupedRest...)
	}

	persona := pickPersonaMessage(system)

	seenContent := map[string]bool{}
	if persona != nil {
		seenContent[persona.Content] = true
	}
	var injected []*Message
	for i := len(system) - 1; i >= 0; i-- {
		if system[i] == persona {
			continue
		}
		if seenContent[system[i].Content] {
			log.Debug().Msg("dropping duplicate system message")
			continue
		}
		seenContent[system[i].Content] = true
		injected = append([]*Message{system[i]}, injected...)
	}

	result := make([]*Message, 0, len(messages))
	if persona != nil {
		result = append(result, persona)
	}
	result = append(result, injected...)
	result = append(result, dedupedRest...)

	if len(result) < len(messages) {
		log.Info().Int("removed", len(messages)-len(result)).Msg("removed duplicate messages before model call")
	}
	return result
}

// pickPersonaMessage selects the system message that plays the persona
// role. Messages tagged with persona provenance win outright (first tag in
// conversation order if several). Untagged conversations fall back to
// treating the shortest system message as the persona prompt, which is a
// stated heuristic: a persona prompt is typically much shorter than
// injected documents.
func pickPersonaMessage(system []*Message) *Message {
	if len(system) == 0 {
		return nil
	}

	for _, m := range system {
		if m.Provenance == ProvenancePersona {
			return m
		}
	}

	shortest := system[0]
	for _, m := range system[1:] {
		if len(m.Content) < len(shortest.Content) {
			shortest = m
		}
	}
	return shortest
}
