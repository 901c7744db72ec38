// Package worldstate derives structured scene state (inventory, location,
// relationship standings) from extracted facts. All functions are pure:
// no I/O, no clocks, no mutation of inputs.
package worldstate

import (
	"strings"

	"reverie/internal/types"
)

// consequenceImportanceFloor is the importance at which a consequence fact
// is allowed to move relationship standings.
const consequenceImportanceFloor = 7

// Update is a proposed delta against a world state snapshot. Nil slices
// and maps mean "no change of that kind".
type Update struct {
	InventoryAdd       []string
	InventoryRemove    []string
	Location           string // empty means unchanged
	RelationshipDeltas map[string]int
}

// isEmpty reports whether the update proposes nothing.
func (u *Update) isEmpty() bool {
	return len(u.InventoryAdd) == 0 && len(u.InventoryRemove) == 0 &&
		u.Location == "" && len(u.RelationshipDeltas) == 0
}

// DeriveUpdates classifies a batch of facts against the current state and
// proposes inventory, location, and relationship changes. Returns nil when
// nothing in the batch moves the state. characterName and userName exclude
// the protagonists from being treated as items, places, or standings.
func DeriveUpdates(facts []types.Fact, current types.WorldState, characterName, userName string) *Update {
	u := &Update{}

	deriveInventory(facts, current, characterName, userName, u)
	deriveLocation(facts, characterName, userName, u)
	deriveRelationships(facts, characterName, userName, u)

	if u.isEmpty() {
		return nil
	}
	return u
}

func deriveInventory(facts []types.Fact, current types.WorldState, characterName, userName string, u *Update) {
	have := make(map[string]bool, len(current.Inventory))
	for _, item := range current.Inventory {
		have[strings.ToLower(item)] = true
	}
	adding := make(map[string]bool)

	for _, f := range facts {
		isItem := f.Category == types.CategoryItem
		losing := matchesAny(f.Text, loseKeywords)
		gaining := matchesAny(f.Text, obtainKeywords)
		if !isItem && !losing && !gaining {
			continue
		}

		for _, entity := range f.RelatedEntities {
			if isProtagonist(entity, characterName, userName) {
				continue
			}
			key := strings.ToLower(entity)
			switch {
			case losing:
				// Only items actually held can be removed.
				if have[key] {
					u.InventoryRemove = append(u.InventoryRemove, entity)
					delete(have, key)
				}
			default:
				if !have[key] && !adding[key] {
					u.InventoryAdd = append(u.InventoryAdd, entity)
					adding[key] = true
				}
			}
		}
	}
}

func deriveLocation(facts []types.Fact, characterName, userName string, u *Update) {
	// Last-mentioned non-character entity across matching facts wins.
	for _, f := range facts {
		if f.Category != types.CategoryLocation && !matchesAny(f.Text, movementKeywords) {
			continue
		}
		for _, entity := range f.RelatedEntities {
			if !isProtagonist(entity, characterName, userName) {
				u.Location = entity
			}
		}
	}
}

func deriveRelationships(facts []types.Fact, characterName, userName string, u *Update) {
	for _, f := range facts {
		qualifies := f.Category == types.CategoryRelationship ||
			matchesAny(f.Text, relationshipKeywords) ||
			(f.Category == types.CategoryConsequence && f.Importance >= consequenceImportanceFloor)
		if !qualifies {
			continue
		}

		sign := sentimentSign(f.Text)
		if sign == 0 {
			continue
		}
		delta := sign * ((f.Importance + 1) / 2) // ceil(importance/2)

		for _, entity := range f.RelatedEntities {
			if isProtagonist(entity, characterName, userName) {
				continue
			}
			if u.RelationshipDeltas == nil {
				u.RelationshipDeltas = make(map[string]int)
			}
			u.RelationshipDeltas[entity] += delta
		}
	}
}

func isProtagonist(entity, characterName, userName string) bool {
	return strings.EqualFold(entity, characterName) || strings.EqualFold(entity, userName)
}
