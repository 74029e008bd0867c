package engine

import (
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/mathx"
	"dryas.ai/internal/sim/state"
)

// apply assumes validate accepted a against s.
func (e *Engine) apply(s *state.State, player state.PlayerID, a action.Action) Effects {
	var fx Effects
	switch v := a.(type) {
	case action.EndTurn:
		s.Players[player].EndedTurn = true
		fx.set("player", uint64(player), "ended_turn", true)
		fx.event("turn_ended", player, "player %d ended turn %d", player, s.Turn)
	case action.MoveUnit:
		e.applyMove(s, player, v, &fx)
	case action.Attack:
		e.applyAttack(s, player, v, &fx)
	case action.Fortify:
		u := s.Units[v.Unit]
		u.Fortified = true
		u.MovesLeft = 0
		fx.set("unit", uint64(u.ID), "fortified", true)
		fx.set("unit", uint64(u.ID), "moves_left", 0)
	case action.BuildUnit:
		e.applyBuildUnit(s, player, v, &fx)
	case action.BuildDistrict:
		def, _ := e.rules.District(v.DistrictKind)
		p := s.Players[player]
		p.Resources.Production -= int64(def.Cost)
		c := s.Cities[v.City]
		c.Districts = append(c.Districts, state.District{Kind: def.ID, Tile: v.Tile})
		fx.set("player", uint64(player), "production", p.Resources.Production)
		fx.set("city", uint64(c.ID), "district", def.ID+"@"+v.Tile.String())
		fx.event("district_built", player, "city %d built a %s at %s", c.ID, def.ID, v.Tile)
	case action.SetPolicy:
		def, _ := e.rules.Policy(v.PolicyID)
		p := s.Players[player]
		p.Resources.Culture -= int64(def.Cost)
		p.Policies[v.Slot] = def.ID
		fx.set("player", uint64(player), "culture", p.Resources.Culture)
		fx.set("player", uint64(player), "policy", def.ID)
		fx.event("policy_set", player, "player %d adopted %s in slot %d", player, def.ID, v.Slot)
	case action.ChooseTech:
		p := s.Players[player]
		p.Research = v.TechID
		p.ResearchProgress = 0
		fx.set("player", uint64(player), "research", v.TechID)
		fx.event("research_started", player, "player %d started researching %s", player, v.TechID)
	case action.OfferDeal:
		_, canon, _ := parseDeal(v.Deal)
		id := state.DealID(s.AllocID())
		s.Deals[id] = &state.Deal{ID: id, From: player, To: v.To, Payload: canon, OfferedTurn: s.Turn}
		fx.create("deal", uint64(id), canon)
		fx.event("deal_offered", player, "player %d offered deal %d to player %d", player, id, v.To)
	case action.AcceptDeal:
		e.applyAcceptDeal(s, player, v, &fx)
	case action.DeclineDeal:
		d := s.Deals[v.Deal]
		delete(s.Deals, v.Deal)
		fx.remove("deal", uint64(v.Deal))
		fx.event("deal_declined", player, "player %d declined deal %d from player %d", player, d.ID, d.From)
	default:
		action.Unhandled(a)
	}
	return fx
}

func (e *Engine) applyMove(s *state.State, player state.PlayerID, v action.MoveUnit, fx *Effects) {
	u := s.Units[v.Unit]
	dest := v.Path[len(v.Path)-1]
	def, _ := e.rules.Unit(u.Kind)
	captured := capturable(s, player, def.Combat, dest)
	u.Tile = dest
	u.MovesLeft -= v.AP
	u.Fortified = false
	fx.set("unit", uint64(u.ID), "tile", dest)
	fx.set("unit", uint64(u.ID), "moves_left", u.MovesLeft)
	if captured {
		c := s.CityAt(dest)
		prev := c.Owner
		c.Owner = player
		fx.set("city", uint64(c.ID), "owner", player)
		fx.event("city_captured", player, "player %d captured city %d from player %d", player, c.ID, prev)
	}
}

// damage is an integer roll from strengths, terrain, fortification and a
// hash of (seed, turn, attacker, defender). It never reads a clock or RNG.
func (e *Engine) damage(s *state.State, att, def *state.Unit) int {
	cr := e.rules.Combat
	attDef, _ := e.rules.Unit(att.Kind)
	defDef, _ := e.rules.Unit(def.Kind)
	terrain, _ := e.rules.Terrain(s.TerrainAt(def.Tile))
	bonus := 1000 + terrain.DefensePermille
	if def.Fortified {
		bonus += cr.FortifyBonusPermille
	}
	defStr := defDef.Strength * bonus / 1000
	base := cr.BaseDamage + (attDef.Strength-defStr)*cr.DamagePerStrength
	roll := mathx.Permille(mathx.Hash3(s.Seed, uint64(s.Turn), uint64(att.ID), uint64(def.ID)))
	scale := 1000 - cr.RollPermille + 2*cr.RollPermille*roll/1000
	return mathx.ClampInt(base*scale/1000, cr.MinDamage, cr.MaxDamage)
}

func (e *Engine) applyAttack(s *state.State, player state.PlayerID, v action.Attack, fx *Effects) {
	att := s.Units[v.Attacker]
	target := s.Units[v.Target]
	targetDef, _ := e.rules.Unit(target.Kind)

	dmg := e.damage(s, att, target)
	// Retaliation is computed before the defender takes damage.
	ret := 0
	if targetDef.Combat {
		ret = e.damage(s, target, att) / 2
	}
	target.HP -= dmg
	att.HP -= ret
	att.MovesLeft = 0
	att.Attacked = true
	att.Fortified = false
	fx.event("attack", player, "unit %d hit unit %d for %d, took %d", att.ID, target.ID, dmg, ret)

	if target.HP <= 0 {
		delete(s.Units, target.ID)
		fx.remove("unit", uint64(target.ID))
		fx.event("unit_destroyed", target.Owner, "unit %d was destroyed by unit %d", target.ID, att.ID)
	} else {
		fx.set("unit", uint64(target.ID), "hp", target.HP)
	}
	if att.HP <= 0 {
		delete(s.Units, att.ID)
		fx.remove("unit", uint64(att.ID))
		fx.event("unit_destroyed", player, "unit %d fell attacking unit %d", att.ID, target.ID)
	} else {
		fx.set("unit", uint64(att.ID), "hp", att.HP)
		fx.set("unit", uint64(att.ID), "moves_left", 0)
	}
}

func (e *Engine) applyBuildUnit(s *state.State, player state.PlayerID, v action.BuildUnit, fx *Effects) {
	def, _ := e.rules.Unit(v.UnitKind)
	c := s.Cities[v.City]
	p := s.Players[player]
	at, _ := placement(s, e.rules, player, def, c.Tile)
	p.Resources.Production -= int64(def.Cost)
	id := state.UnitID(s.AllocID())
	s.Units[id] = &state.Unit{ID: id, Owner: player, Kind: def.ID, Tile: at, HP: 100}
	fx.set("player", uint64(player), "production", p.Resources.Production)
	fx.create("unit", uint64(id), def.ID+"@"+at.String())
	fx.event("unit_built", player, "city %d trained a %s", c.ID, def.ID)
}

func (e *Engine) applyAcceptDeal(s *state.State, player state.PlayerID, v action.AcceptDeal, fx *Effects) {
	d := s.Deals[v.Deal]
	terms, _, _ := parseDeal([]byte(d.Payload))
	from := s.Players[d.From]
	to := s.Players[player]

	from.Resources.Gold -= terms.Give.Gold
	to.Resources.Gold += terms.Give.Gold
	to.Resources.Gold -= terms.Take.Gold
	from.Resources.Gold += terms.Take.Gold
	if terms.Give.OpenBorders {
		from.OpenBorders[to.ID] = true
		fx.set("player", uint64(from.ID), "open_borders", to.ID)
	}
	if terms.Take.OpenBorders {
		to.OpenBorders[from.ID] = true
		fx.set("player", uint64(to.ID), "open_borders", from.ID)
	}
	delete(s.Deals, d.ID)
	fx.set("player", uint64(from.ID), "gold", from.Resources.Gold)
	fx.set("player", uint64(to.ID), "gold", to.Resources.Gold)
	fx.remove("deal", uint64(d.ID))
	fx.event("deal_accepted", player, "player %d accepted deal %d from player %d", player, d.ID, d.From)
}
