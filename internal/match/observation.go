package match

import (
	"context"
	"fmt"
	"sort"

	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/state"
)

// GetObservation is a pure read of one player's view. It never observes a
// half-applied mutation.
func (m *Manager) GetObservation(ctx context.Context, matchID string, player uint64) (protocol.Observation, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Observation{}, err
	}
	rec, err := m.lookup(matchID)
	if err != nil {
		return protocol.Observation{}, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	pid := state.PlayerID(player)
	p, ok := rec.state.Players[pid]
	if !ok {
		return protocol.Observation{}, protocol.NewError(protocol.ErrBadRequest, fmt.Sprintf("player %d is not in match %s", player, matchID))
	}
	s := rec.state
	obs := protocol.Observation{
		MatchID:   rec.id,
		Turn:      s.Turn,
		PlayerID:  player,
		Status:    string(rec.status),
		View:      m.view(s, pid),
		Resources: protocol.ResourcesObs(p.Resources),
		Tech:      m.techObs(p),
		Diplomacy: diplomacyObs(s, pid),
		StateHash: rec.hash.String(),
	}
	y := m.engine.YieldsFor(s, pid)
	obs.Yields = protocol.YieldsObs{
		Food:       y.Food,
		Production: y.Production,
		Gold:       y.Gold,
		Science:    y.Science,
		Culture:    y.Culture,
		Upkeep:     m.engine.Upkeep(s, pid),
	}
	obs.LegalActions = []protocol.ActionLite{}
	if rec.status != StatusEnded {
		for _, a := range m.engine.EnumerateLegalActions(s, pid) {
			b, err := action.Encode(a)
			if err != nil {
				return protocol.Observation{}, protocol.NewError(protocol.ErrInternal, err.Error())
			}
			obs.LegalActions = append(obs.LegalActions, protocol.ActionLite{ActionType: string(a.Kind()), Payload: b})
		}
	}
	return obs, nil
}

func (m *Manager) view(s *state.State, pid state.PlayerID) protocol.ViewObs {
	r := m.engine.Rules()
	tiles := m.engine.VisibleTiles(s, pid)
	visible := make(map[state.TileCoord]bool, len(tiles))
	v := protocol.ViewObs{
		Width:  s.Width,
		Height: s.Height,
		Tiles:  make([]protocol.TileObs, 0, len(tiles)),
		Cities: []protocol.CityObs{},
		Units:  []protocol.UnitObs{},
	}
	for _, t := range tiles {
		visible[t] = true
		def, _ := r.Terrain(s.TerrainAt(t))
		v.Tiles = append(v.Tiles, protocol.TileObs{X: t.X, Y: t.Y, Terrain: def.ID})
	}
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner != pid && !visible[c.Tile] {
			continue
		}
		districts := make([]string, 0, len(c.Districts))
		for _, d := range c.Districts {
			districts = append(districts, d.Kind)
		}
		v.Cities = append(v.Cities, protocol.CityObs{
			ID: uint64(id), Owner: uint64(c.Owner), X: c.Tile.X, Y: c.Tile.Y,
			Population: c.Population, Districts: districts,
		})
	}
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.Owner != pid && !visible[u.Tile] {
			continue
		}
		v.Units = append(v.Units, protocol.UnitObs{
			ID: uint64(id), Owner: uint64(u.Owner), Kind: u.Kind, X: u.Tile.X, Y: u.Tile.Y,
			HP: u.HP, MovesLeft: u.MovesLeft, Fortified: u.Fortified,
		})
	}
	return v
}

func (m *Manager) techObs(p *state.Player) protocol.TechObs {
	r := m.engine.Rules()
	t := protocol.TechObs{
		Known:       []string{},
		Available:   []string{},
		Researching: p.Research,
		Progress:    p.ResearchProgress,
		Policies:    []string{},
	}
	for _, def := range r.Techs {
		if p.Techs[def.ID] {
			t.Known = append(t.Known, def.ID)
			continue
		}
		ready := true
		for _, pre := range def.Prereqs {
			if !p.Techs[pre] {
				ready = false
				break
			}
		}
		if ready {
			t.Available = append(t.Available, def.ID)
		}
	}
	slots := make([]int, 0, len(p.Policies))
	for slot := range p.Policies {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		t.Policies = append(t.Policies, p.Policies[slot])
	}
	return t
}

func diplomacyObs(s *state.State, pid state.PlayerID) protocol.DiplomacyObs {
	d := protocol.DiplomacyObs{Relations: []protocol.RelationObs{}, OpenOffers: []protocol.OfferObs{}}
	me := s.Players[pid]
	for _, other := range s.Order {
		if other == pid {
			continue
		}
		op := s.Players[other]
		d.Relations = append(d.Relations, protocol.RelationObs{
			PlayerID:        uint64(other),
			Alive:           op.Alive,
			BordersOpenTo:   me.OpenBorders[other],
			BordersOpenFrom: op.OpenBorders[pid],
		})
	}
	for _, id := range s.SortedDealIDs() {
		deal := s.Deals[id]
		if deal.From != pid && deal.To != pid {
			continue
		}
		d.OpenOffers = append(d.OpenOffers, protocol.OfferObs{
			DealID: uint64(id), From: uint64(deal.From), To: uint64(deal.To),
			DealJSON: deal.Payload, OfferedTurn: deal.OfferedTurn,
		})
	}
	return d
}
