// Package combat decodes combat-state payloads into snapshots. It only
// reads pre-computed state; it never computes rules outcomes.
package combat

import (
	"encoding/json"

	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

// Snapshot is a full combat-state record decoded from one
// combat_state_update event's payload.
type Snapshot struct {
	Round      int               `json:"round"`
	Combatants []json.RawMessage `json:"combatants"`
	// Current is the index of the combatant whose turn it is, if any.
	Current *int `json:"current"`
}

// Decode parses a combat_state_update payload into a Snapshot.
func Decode(data json.RawMessage) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, scriberr.New(scriberr.CodeDecodeFailed, "empty combat state payload")
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeDecodeFailed, "invalid combat state payload")
	}
	return &s, nil
}

// groupProbe sniffs the discriminator and children of a serialized combatant.
type groupProbe struct {
	Type       string            `json:"type"`
	Combatants []json.RawMessage `json:"combatants"`
}

// CombatantPayloads returns the raw combatant payloads in initiative order.
// When includeGroups is false, group entries are replaced by their member
// combatants.
func (s *Snapshot) CombatantPayloads(includeGroups bool) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(s.Combatants))
	for _, raw := range s.Combatants {
		var probe groupProbe
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Type == "group" && !includeGroups {
			out = append(out, probe.Combatants...)
			continue
		}
		out = append(out, raw)
	}
	return out
}

// CurrentPayload returns the raw payload of the current-turn combatant, or
// nil when no turn pointer is set.
func (s *Snapshot) CurrentPayload() json.RawMessage {
	if s.Current == nil || *s.Current < 0 || *s.Current >= len(s.Combatants) {
		return nil
	}
	return s.Combatants[*s.Current]
}
