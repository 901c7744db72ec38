package worldstate

import (
	"strings"

	"reverie/internal/types"
)

// ApplyUpdate merges a proposed update into a snapshot and returns the new
// state, or nil when the merge changes nothing. The input state is never
// mutated and a non-nil result is always fully applied.
func ApplyUpdate(current types.WorldState, u *Update) *types.WorldState {
	if u == nil || u.isEmpty() {
		return nil
	}

	next := current.Clone()
	changed := false

	if len(u.InventoryRemove) > 0 {
		drop := make(map[string]bool, len(u.InventoryRemove))
		for _, item := range u.InventoryRemove {
			drop[strings.ToLower(item)] = true
		}
		var kept []string
		for _, item := range next.Inventory {
			if drop[strings.ToLower(item)] {
				changed = true
				continue
			}
			kept = append(kept, item)
		}
		next.Inventory = kept
	}

	if len(u.InventoryAdd) > 0 {
		have := make(map[string]bool, len(next.Inventory))
		for _, item := range next.Inventory {
			have[strings.ToLower(item)] = true
		}
		for _, item := range u.InventoryAdd {
			key := strings.ToLower(item)
			if !have[key] {
				next.Inventory = append(next.Inventory, item)
				have[key] = true
				changed = true
			}
		}
	}

	if u.Location != "" && u.Location != next.Location {
		next.Location = u.Location
		changed = true
	}

	for entity, delta := range u.RelationshipDeltas {
		if delta == 0 {
			continue
		}
		if next.Relationships == nil {
			next.Relationships = make(map[string]int)
		}
		after := types.ClampRelationship(next.Relationships[entity] + delta)
		if after != next.Relationships[entity] || !hasKey(next.Relationships, entity) {
			next.Relationships[entity] = after
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return &next
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}
