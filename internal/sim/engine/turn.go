package engine

import (
	"dryas.ai/internal/sim/mathx"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

// CityYields is what one city produces per turn before food consumption.
func (e *Engine) CityYields(s *state.State, c *state.City) rules.Yields {
	r := e.rules
	y := r.CityBase.Add(r.PerPop.Scale(c.Population))
	if t, ok := r.Terrain(s.TerrainAt(c.Tile)); ok {
		y = y.Add(t.Yields)
	}
	for _, d := range c.Districts {
		if def, ok := r.District(d.Kind); ok {
			y = y.Add(def.Yields)
		}
	}
	return y
}

// YieldsFor sums a player's per-turn yields: every city plus slotted policies.
func (e *Engine) YieldsFor(s *state.State, player state.PlayerID) rules.Yields {
	var y rules.Yields
	p, ok := s.Players[player]
	if !ok || !p.Alive {
		return y
	}
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner == player {
			y = y.Add(e.CityYields(s, c))
		}
	}
	for slot := 0; slot < e.rules.PolicySlots; slot++ {
		if id, ok := p.Policies[slot]; ok {
			if def, ok := e.rules.Policy(id); ok {
				y = y.Add(def.Yields)
			}
		}
	}
	return y
}

// Upkeep is the gold a player's units cost per turn.
func (e *Engine) Upkeep(s *state.State, player state.PlayerID) int64 {
	var total int64
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.Owner != player {
			continue
		}
		def, _ := e.rules.Unit(u.Kind)
		total += int64(def.Upkeep)
	}
	return total
}

func (e *Engine) endTurn(s *state.State) Effects {
	var fx Effects
	for _, pid := range s.SortedPlayerIDs() {
		p := s.Players[pid]
		if !p.Alive {
			continue
		}
		y := e.YieldsFor(s, pid)
		e.growCities(s, pid, &fx)

		p.Resources.Production += int64(y.Production)
		p.Resources.Gold += int64(y.Gold)
		p.Resources.Culture += int64(y.Culture)
		e.research(s, p, int64(y.Science), &fx)

		e.payUpkeep(s, p, &fx)
		e.refreshUnits(s, pid)
		p.EndedTurn = false
		fx.set("player", uint64(pid), "resources", p.Resources)
	}

	e.expireDeals(s, &fx)
	e.eliminate(s, &fx)

	s.Turn++
	fx.set("state", 0, "turn", s.Turn)
	fx.event("turn_started", 0, "turn %d began", s.Turn)
	return fx
}

func (e *Engine) growCities(s *state.State, pid state.PlayerID, fx *Effects) {
	r := e.rules
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner != pid {
			continue
		}
		net := e.CityYields(s, c).Food - r.FoodPerPop*c.Population
		c.FoodStore += net
		if c.FoodStore < 0 {
			c.FoodStore = 0
			if c.Population > 1 {
				c.Population--
				fx.set("city", uint64(c.ID), "population", c.Population)
				fx.event("city_starved", pid, "city %d shrank to %d", c.ID, c.Population)
			}
		}
		need := r.Growth.BaseCost + r.Growth.PerPop*(c.Population-1)
		if c.FoodStore >= need {
			c.FoodStore -= need
			c.Population++
			fx.set("city", uint64(c.ID), "population", c.Population)
			fx.event("city_grew", pid, "city %d grew to %d", c.ID, c.Population)
		}
	}
}

// research adds science to the current tech. Without a target, or past
// completion, science accumulates in the player's pool.
func (e *Engine) research(s *state.State, p *state.Player, science int64, fx *Effects) {
	if p.Research == "" {
		p.Resources.Science += science
		return
	}
	def, ok := e.rules.Tech(p.Research)
	if !ok {
		p.Research = ""
		p.ResearchProgress = 0
		p.Resources.Science += science
		return
	}
	p.ResearchProgress += science
	if p.ResearchProgress < int64(def.Cost) {
		return
	}
	p.Resources.Science += p.ResearchProgress - int64(def.Cost)
	p.Techs[def.ID] = true
	p.Research = ""
	p.ResearchProgress = 0
	fx.set("player", uint64(p.ID), "tech", def.ID)
	fx.event("tech_learned", p.ID, "player %d learned %s", p.ID, def.ID)
}

// payUpkeep disbands units in descending id order while gold cannot cover
// the bill. Gold never goes negative.
func (e *Engine) payUpkeep(s *state.State, p *state.Player, fx *Effects) {
	upkeep := e.Upkeep(s, p.ID)
	if upkeep > p.Resources.Gold {
		ids := s.SortedUnitIDs()
		for i := len(ids) - 1; i >= 0 && upkeep > p.Resources.Gold; i-- {
			u := s.Units[ids[i]]
			if u.Owner != p.ID {
				continue
			}
			def, _ := e.rules.Unit(u.Kind)
			if def.Upkeep == 0 {
				continue
			}
			upkeep -= int64(def.Upkeep)
			delete(s.Units, u.ID)
			fx.remove("unit", uint64(u.ID))
			fx.event("unit_disbanded", p.ID, "unit %d disbanded for lack of gold", u.ID)
		}
	}
	p.Resources.Gold -= upkeep
}

func (e *Engine) refreshUnits(s *state.State, pid state.PlayerID) {
	h := e.rules.Heal
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.Owner != pid {
			continue
		}
		def, _ := e.rules.Unit(u.Kind)
		heal := h.Idle
		if u.Fortified {
			heal = h.Fortified
		}
		if u.Attacked {
			heal = 0
		}
		u.HP = mathx.ClampInt(u.HP+heal, 1, 100)
		u.MovesLeft = def.Moves
		u.Attacked = false
	}
}

func (e *Engine) expireDeals(s *state.State, fx *Effects) {
	for _, id := range s.SortedDealIDs() {
		d := s.Deals[id]
		from, to := s.Players[d.From], s.Players[d.To]
		age := int(s.Turn+1) - int(d.OfferedTurn)
		if age < e.rules.DealExpiryTurns && from.Alive && to.Alive {
			continue
		}
		delete(s.Deals, id)
		fx.remove("deal", uint64(id))
		fx.event("deal_expired", d.From, "deal %d to player %d expired", id, d.To)
	}
}

// eliminate marks players with no cities and no units as out of the game.
func (e *Engine) eliminate(s *state.State, fx *Effects) {
	holdings := map[state.PlayerID]int{}
	for _, c := range s.Cities {
		holdings[c.Owner]++
	}
	for _, u := range s.Units {
		holdings[u.Owner]++
	}
	for _, pid := range s.SortedPlayerIDs() {
		p := s.Players[pid]
		if !p.Alive || holdings[pid] > 0 {
			continue
		}
		p.Alive = false
		p.EndedTurn = false
		fx.set("player", uint64(pid), "alive", false)
		fx.event("player_eliminated", pid, "player %d was eliminated", pid)
		for _, id := range s.SortedDealIDs() {
			if d := s.Deals[id]; d.From == pid || d.To == pid {
				delete(s.Deals, id)
				fx.remove("deal", uint64(id))
			}
		}
	}
}
