package ai

import (
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/mathx"
	"dryas.ai/internal/sim/state"
)

// Planner picks one action at a time from the legal set with fixed
// priorities. Ties go to the earliest action in enumeration order, so the
// choice is a pure function of the state.
type Planner struct {
	engine     *engine.Engine
	negotiator *Negotiator
	// MaxUnits caps how many units the planner trains per city.
	MaxUnits int
}

func NewPlanner(e *engine.Engine, n *Negotiator) *Planner {
	return &Planner{engine: e, negotiator: n, MaxUnits: 3}
}

// SelectAction returns the next action for player, or false when the
// player cannot act.
func (pl *Planner) SelectAction(s *state.State, player state.PlayerID) (action.Action, bool) {
	legal := pl.engine.EnumerateLegalActions(s, player)
	if len(legal) == 0 {
		return nil, false
	}
	var best action.Action
	bestScore := -1 << 30
	for _, a := range legal {
		if sc := pl.score(s, player, a); sc > bestScore {
			best, bestScore = a, sc
		}
	}
	if off, ok := best.(action.OfferDeal); ok && pl.negotiator != nil {
		// The enumerated offer is empty; replace it with a real proposal.
		if real, ok := pl.negotiator.GenerateDeal(s, player, off.To); ok {
			return real, true
		}
		return action.EndTurn{}, true
	}
	return best, true
}

func (pl *Planner) score(s *state.State, player state.PlayerID, a action.Action) int {
	r := pl.engine.Rules()
	p := s.Players[player]
	switch v := a.(type) {
	case action.EndTurn:
		return 0
	case action.AcceptDeal:
		if pl.negotiator == nil {
			return -1
		}
		d := s.Deals[v.Deal]
		if ok, _, _ := pl.negotiator.EvaluateDeal(s, player, []byte(d.Payload)); ok {
			return 90
		}
		return -1
	case action.DeclineDeal:
		if pl.negotiator == nil {
			return 5
		}
		d := s.Deals[v.Deal]
		if ok, _, _ := pl.negotiator.EvaluateDeal(s, player, []byte(d.Payload)); ok {
			return -1
		}
		return 85
	case action.ChooseTech:
		if p.Research != "" {
			return -1
		}
		def, _ := r.Tech(v.TechID)
		return 80 - def.Cost
	case action.Attack:
		target := s.Units[v.Target]
		return 70 + (100-target.HP)/4
	case action.BuildUnit:
		def, _ := r.Unit(v.UnitKind)
		if !def.Combat || pl.ownedUnits(s, player) >= pl.MaxUnits*pl.ownedCities(s, player) {
			return -1
		}
		return 50 + def.Strength/5
	case action.BuildDistrict:
		def, _ := r.District(v.DistrictKind)
		y := def.Yields
		return 40 + y.Food + y.Production + y.Gold + y.Science + y.Culture
	case action.SetPolicy:
		if _, used := p.Policies[v.Slot]; used {
			return -1
		}
		return 45
	case action.MoveUnit:
		return pl.scoreMove(s, player, v)
	case action.Fortify:
		return 2
	case action.OfferDeal:
		if pl.negotiator == nil {
			return -1
		}
		if _, ok := pl.negotiator.GenerateDeal(s, player, v.To); ok {
			return 20
		}
		return -1
	default:
		action.Unhandled(a)
		return 0
	}
}

// scoreMove rewards combat units for closing on the nearest enemy city and
// civilians for staying home.
func (pl *Planner) scoreMove(s *state.State, player state.PlayerID, m action.MoveUnit) int {
	u := s.Units[m.Unit]
	def, _ := pl.engine.Rules().Unit(u.Kind)
	if !def.Combat {
		return -1
	}
	dest := m.Path[len(m.Path)-1]
	target, ok := pl.nearestEnemyCity(s, player, u.Tile)
	if !ok {
		return -1
	}
	before := chebyshev(u.Tile, target)
	after := chebyshev(dest, target)
	if after >= before {
		return -1
	}
	return 10 + (before-after)*5 - m.AP
}

func (pl *Planner) nearestEnemyCity(s *state.State, player state.PlayerID, from state.TileCoord) (state.TileCoord, bool) {
	best, found := state.TileCoord{}, false
	bestDist := 0
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner == player {
			continue
		}
		if d := chebyshev(from, c.Tile); !found || d < bestDist {
			best, bestDist, found = c.Tile, d, true
		}
	}
	return best, found
}

func (pl *Planner) ownedUnits(s *state.State, player state.PlayerID) int {
	n := 0
	for _, u := range s.Units {
		if u.Owner == player {
			n++
		}
	}
	return n
}

func (pl *Planner) ownedCities(s *state.State, player state.PlayerID) int {
	n := 0
	for _, c := range s.Cities {
		if c.Owner == player {
			n++
		}
	}
	return n
}

func chebyshev(a, b state.TileCoord) int {
	return mathx.Chebyshev(int(a.X), int(a.Y), int(b.X), int(b.Y))
}
