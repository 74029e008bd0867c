package engine

import (
	"encoding/json"
	"sort"

	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/state"
)

// EnumerateLegalActions lists every action validate accepts for player,
// in a deterministic order. OfferDeal takes a free-form payload, so it is
// listed once per eligible recipient with the empty offer.
func (e *Engine) EnumerateLegalActions(s *state.State, player state.PlayerID) []action.Action {
	if !CanAct(s, player) {
		return nil
	}
	var out []action.Action
	keep := func(a action.Action) {
		if e.validate(s, player, a) == nil {
			out = append(out, a)
		}
	}

	keep(action.EndTurn{})

	units := s.SortedUnitIDs()
	for _, id := range units {
		u := s.Units[id]
		if u.Owner != player {
			continue
		}
		for _, m := range e.moveCandidates(s, u) {
			keep(m)
		}
		for _, tid := range units {
			if t := s.Units[tid]; t.Owner != player && distance(u.Tile, t.Tile) == 1 {
				keep(action.Attack{Attacker: id, Target: tid})
			}
		}
		keep(action.Fortify{Unit: id})
	}

	for _, cid := range s.SortedCityIDs() {
		c := s.Cities[cid]
		if c.Owner != player {
			continue
		}
		for _, def := range e.rules.Units {
			keep(action.BuildUnit{City: cid, UnitKind: def.ID})
		}
		radius := int32(e.rules.CityRadius)
		for _, def := range e.rules.Districts {
			for y := c.Tile.Y - radius; y <= c.Tile.Y+radius; y++ {
				for x := c.Tile.X - radius; x <= c.Tile.X+radius; x++ {
					keep(action.BuildDistrict{City: cid, DistrictKind: def.ID, Tile: state.TileCoord{X: x, Y: y}})
				}
			}
		}
	}

	for slot := 0; slot < e.rules.PolicySlots; slot++ {
		for _, def := range e.rules.Policies {
			keep(action.SetPolicy{Slot: slot, PolicyID: def.ID})
		}
	}
	for _, def := range e.rules.Techs {
		keep(action.ChooseTech{TechID: def.ID})
	}
	for _, pid := range s.SortedPlayerIDs() {
		keep(action.OfferDeal{To: pid, Deal: json.RawMessage(EmptyDeal)})
	}
	for _, did := range s.SortedDealIDs() {
		keep(action.AcceptDeal{Deal: did})
		keep(action.DeclineDeal{Deal: did})
	}
	return out
}

// moveCandidates lists every simple path from u's tile whose cost fits in
// its remaining moves. Steps are expanded in row-major neighbour order.
func (e *Engine) moveCandidates(s *state.State, u *state.Unit) []action.Action {
	if u.MovesLeft <= 0 {
		return nil
	}
	var out []action.Action
	visited := map[state.TileCoord]bool{u.Tile: true}
	var path []state.TileCoord
	var walk func(from state.TileCoord, cost int)
	walk = func(from state.TileCoord, cost int) {
		for _, n := range neighbours(from) {
			if visited[n] || !passableAt(s, e.rules, n) {
				continue
			}
			t, _ := e.rules.Terrain(s.TerrainAt(n))
			next := cost + t.MoveCost
			if next > u.MovesLeft {
				continue
			}
			path = append(path, n)
			visited[n] = true
			out = append(out, action.MoveUnit{Unit: u.ID, Path: append([]state.TileCoord(nil), path...), AP: next})
			walk(n, next)
			visited[n] = false
			path = path[:len(path)-1]
		}
	}
	walk(u.Tile, 0)
	return out
}

// VisibleTiles are the tiles within sight radius of any of the player's
// cities or units, in row-major order.
func (e *Engine) VisibleTiles(s *state.State, player state.PlayerID) []state.TileCoord {
	seen := map[state.TileCoord]bool{}
	radius := int32(e.rules.SightRadius)
	mark := func(c state.TileCoord) {
		for y := c.Y - radius; y <= c.Y+radius; y++ {
			for x := c.X - radius; x <= c.X+radius; x++ {
				t := state.TileCoord{X: x, Y: y}
				if s.InBounds(t) {
					seen[t] = true
				}
			}
		}
	}
	for _, id := range s.SortedCityIDs() {
		if c := s.Cities[id]; c.Owner == player {
			mark(c.Tile)
		}
	}
	for _, id := range s.SortedUnitIDs() {
		if u := s.Units[id]; u.Owner == player {
			mark(u.Tile)
		}
	}
	out := make([]state.TileCoord, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
