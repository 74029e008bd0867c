// Package invariants checks the structural rules every State must satisfy
// after any mutation. A failure here is an engine defect, never bad input.
package invariants

import (
	"fmt"

	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

const (
	NameStacking     = "stacking"
	NameBounds       = "bounds"
	NameNonNegative  = "non_negative"
	NameReferential  = "referential"
	NameMapShape     = "map_shape"
	NameIDAllocation = "id_allocation"
)

type Violation struct {
	Name   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation: %s: %s", v.Name, v.Detail)
}

func violation(name, format string, args ...any) *Violation {
	return &Violation{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// Check runs every invariant and returns the first violation found.
// Traversal is in id order so the reported violation is deterministic.
func Check(s *state.State, r *rules.Rules) error {
	for _, fn := range []func(*state.State, *rules.Rules) *Violation{
		checkMapShape,
		checkReferential,
		checkIDAllocation,
		checkBounds,
		checkStacking,
		checkNonNegative,
	} {
		if v := fn(s, r); v != nil {
			return v
		}
	}
	return nil
}

func checkMapShape(s *state.State, r *rules.Rules) *Violation {
	if s.Width <= 0 || s.Height <= 0 {
		return violation(NameMapShape, "map size %dx%d", s.Width, s.Height)
	}
	if len(s.Terrain) != s.Width*s.Height {
		return violation(NameMapShape, "terrain has %d cells for %dx%d", len(s.Terrain), s.Width, s.Height)
	}
	for i, t := range s.Terrain {
		if _, ok := r.Terrain(t); !ok {
			return violation(NameMapShape, "cell %d has unknown terrain %d", i, t)
		}
	}
	return nil
}

func checkReferential(s *state.State, r *rules.Rules) *Violation {
	if len(s.Order) != len(s.Players) {
		return violation(NameReferential, "player order lists %d of %d players", len(s.Order), len(s.Players))
	}
	for _, id := range s.Order {
		if _, ok := s.Players[id]; !ok {
			return violation(NameReferential, "player order names missing player %d", id)
		}
	}
	for _, id := range s.SortedPlayerIDs() {
		p := s.Players[id]
		if p.ID != id {
			return violation(NameReferential, "player key %d holds id %d", id, p.ID)
		}
		for tech, ok := range p.Techs {
			if ok && !r.HasTech(tech) {
				return violation(NameReferential, "player %d knows unknown tech %s", id, tech)
			}
		}
		if p.Research != "" && !r.HasTech(p.Research) {
			return violation(NameReferential, "player %d researches unknown tech %s", id, p.Research)
		}
		for slot, pol := range p.Policies {
			if slot < 0 || slot >= r.PolicySlots {
				return violation(NameReferential, "player %d uses policy slot %d", id, slot)
			}
			if _, ok := r.Policy(pol); !ok {
				return violation(NameReferential, "player %d slots unknown policy %s", id, pol)
			}
		}
		for other := range p.OpenBorders {
			if _, ok := s.Players[other]; !ok || other == id {
				return violation(NameReferential, "player %d has open borders with %d", id, other)
			}
		}
	}
	seenCityTile := map[state.TileCoord]state.CityID{}
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.ID != id {
			return violation(NameReferential, "city key %d holds id %d", id, c.ID)
		}
		if _, ok := s.Players[c.Owner]; !ok {
			return violation(NameReferential, "city %d owned by missing player %d", id, c.Owner)
		}
		if other, dup := seenCityTile[c.Tile]; dup {
			return violation(NameReferential, "cities %d and %d share tile %s", other, id, c.Tile)
		}
		seenCityTile[c.Tile] = id
		for _, d := range c.Districts {
			if _, ok := r.District(d.Kind); !ok {
				return violation(NameReferential, "city %d has unknown district %s", id, d.Kind)
			}
		}
	}
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.ID != id {
			return violation(NameReferential, "unit key %d holds id %d", id, u.ID)
		}
		if _, ok := s.Players[u.Owner]; !ok {
			return violation(NameReferential, "unit %d owned by missing player %d", id, u.Owner)
		}
		if _, ok := r.Unit(u.Kind); !ok {
			return violation(NameReferential, "unit %d has unknown kind %s", id, u.Kind)
		}
	}
	for _, id := range s.SortedDealIDs() {
		d := s.Deals[id]
		if d.ID != id {
			return violation(NameReferential, "deal key %d holds id %d", id, d.ID)
		}
		if _, ok := s.Players[d.From]; !ok {
			return violation(NameReferential, "deal %d from missing player %d", id, d.From)
		}
		if _, ok := s.Players[d.To]; !ok {
			return violation(NameReferential, "deal %d to missing player %d", id, d.To)
		}
		if d.From == d.To {
			return violation(NameReferential, "deal %d addressed to its sender", id)
		}
	}
	return nil
}

func checkIDAllocation(s *state.State, _ *rules.Rules) *Violation {
	seen := map[uint64]string{}
	claim := func(id uint64, what string) *Violation {
		if id == 0 || id >= s.NextID {
			return violation(NameIDAllocation, "%s %d outside allocated range [1,%d)", what, id, s.NextID)
		}
		if prev, dup := seen[id]; dup {
			return violation(NameIDAllocation, "id %d used by both %s and %s", id, prev, what)
		}
		seen[id] = what
		return nil
	}
	for _, id := range s.SortedCityIDs() {
		if v := claim(uint64(id), "city"); v != nil {
			return v
		}
	}
	for _, id := range s.SortedUnitIDs() {
		if v := claim(uint64(id), "unit"); v != nil {
			return v
		}
	}
	for _, id := range s.SortedDealIDs() {
		if v := claim(uint64(id), "deal"); v != nil {
			return v
		}
	}
	return nil
}

func passable(s *state.State, r *rules.Rules, t state.TileCoord) bool {
	def, ok := r.Terrain(s.TerrainAt(t))
	return ok && def.Passable
}

func checkBounds(s *state.State, r *rules.Rules) *Violation {
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if !s.InBounds(u.Tile) {
			return violation(NameBounds, "unit %d at %s outside %dx%d", id, u.Tile, s.Width, s.Height)
		}
		if !passable(s, r, u.Tile) {
			return violation(NameBounds, "unit %d on impassable tile %s", id, u.Tile)
		}
	}
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if !s.InBounds(c.Tile) || !passable(s, r, c.Tile) {
			return violation(NameBounds, "city %d on invalid tile %s", id, c.Tile)
		}
		for _, d := range c.Districts {
			if !s.InBounds(d.Tile) || !passable(s, r, d.Tile) {
				return violation(NameBounds, "city %d district %s on invalid tile %s", id, d.Kind, d.Tile)
			}
		}
	}
	return nil
}

// checkStacking allows at most one combat and one civilian unit per tile.
func checkStacking(s *state.State, r *rules.Rules) *Violation {
	type slot struct {
		combat   state.UnitID
		civilian state.UnitID
	}
	tiles := map[state.TileCoord]*slot{}
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		def, _ := r.Unit(u.Kind)
		sl := tiles[u.Tile]
		if sl == nil {
			sl = &slot{}
			tiles[u.Tile] = sl
		}
		if def.Combat {
			if sl.combat != 0 {
				return violation(NameStacking, "combat units %d and %d share %s", sl.combat, id, u.Tile)
			}
			sl.combat = id
		} else {
			if sl.civilian != 0 {
				return violation(NameStacking, "civilian units %d and %d share %s", sl.civilian, id, u.Tile)
			}
			sl.civilian = id
		}
	}
	for _, id := range s.SortedUnitIDs() {
		sl := tiles[s.Units[id].Tile]
		if sl.combat != id || sl.civilian == 0 {
			continue
		}
		a, b := s.Units[sl.combat], s.Units[sl.civilian]
		if a.Owner != b.Owner {
			return violation(NameStacking, "units %d and %d of different owners share %s", a.ID, b.ID, a.Tile)
		}
	}
	return nil
}

func checkNonNegative(s *state.State, r *rules.Rules) *Violation {
	for _, id := range s.SortedPlayerIDs() {
		res := s.Players[id].Resources
		if res.Gold < 0 || res.Production < 0 || res.Science < 0 || res.Culture < 0 {
			return violation(NameNonNegative, "player %d resources %+v", id, res)
		}
		if s.Players[id].ResearchProgress < 0 {
			return violation(NameNonNegative, "player %d research progress %d", id, s.Players[id].ResearchProgress)
		}
	}
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Population < 1 {
			return violation(NameNonNegative, "city %d population %d", id, c.Population)
		}
		if c.FoodStore < 0 {
			return violation(NameNonNegative, "city %d food store %d", id, c.FoodStore)
		}
	}
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.HP < 1 || u.HP > 100 {
			return violation(NameNonNegative, "unit %d hp %d", id, u.HP)
		}
		def, _ := r.Unit(u.Kind)
		if u.MovesLeft < 0 || u.MovesLeft > def.Moves {
			return violation(NameNonNegative, "unit %d moves left %d of %d", id, u.MovesLeft, def.Moves)
		}
	}
	return nil
}
