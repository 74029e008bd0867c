package engine

import (
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/state"
)

func (e *Engine) validate(s *state.State, player state.PlayerID, a action.Action) *InvalidAction {
	if a == nil {
		return reject(protocol.ErrInvalidAction, "nil action")
	}
	if r := actorCheck(s, player); r != nil {
		return r
	}
	switch v := a.(type) {
	case action.EndTurn:
		return nil
	case action.MoveUnit:
		return e.validateMove(s, player, v)
	case action.Attack:
		return e.validateAttack(s, player, v)
	case action.Fortify:
		return e.validateFortify(s, player, v)
	case action.BuildUnit:
		return e.validateBuildUnit(s, player, v)
	case action.BuildDistrict:
		return e.validateBuildDistrict(s, player, v)
	case action.SetPolicy:
		return e.validateSetPolicy(s, player, v)
	case action.ChooseTech:
		return e.validateChooseTech(s, player, v)
	case action.OfferDeal:
		return e.validateOfferDeal(s, player, v)
	case action.AcceptDeal:
		return e.validateAcceptDeal(s, player, v)
	case action.DeclineDeal:
		return e.validateDeclineDeal(s, player, v)
	default:
		action.Unhandled(a)
		return nil
	}
}

func ownedUnit(s *state.State, player state.PlayerID, id state.UnitID) (*state.Unit, *InvalidAction) {
	u, ok := s.Units[id]
	if !ok {
		return nil, reject(protocol.ErrInvalidTarget, "unknown unit %d", id)
	}
	if u.Owner != player {
		return nil, reject(protocol.ErrNoPermission, "unit %d belongs to player %d", id, u.Owner)
	}
	return u, nil
}

func ownedCity(s *state.State, player state.PlayerID, id state.CityID) (*state.City, *InvalidAction) {
	c, ok := s.Cities[id]
	if !ok {
		return nil, reject(protocol.ErrInvalidTarget, "unknown city %d", id)
	}
	if c.Owner != player {
		return nil, reject(protocol.ErrNoPermission, "city %d belongs to player %d", id, c.Owner)
	}
	return c, nil
}

// inForeignTerritory reports whether t lies within city radius of a city
// whose owner has not opened borders to player.
func (e *Engine) inForeignTerritory(s *state.State, player state.PlayerID, t state.TileCoord) bool {
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner == player || distance(c.Tile, t) > e.rules.CityRadius {
			continue
		}
		if owner, ok := s.Players[c.Owner]; ok && owner.OpenBorders[player] {
			continue
		}
		return true
	}
	return false
}

func (e *Engine) validateMove(s *state.State, player state.PlayerID, v action.MoveUnit) *InvalidAction {
	u, rej := ownedUnit(s, player, v.Unit)
	if rej != nil {
		return rej
	}
	if len(v.Path) == 0 {
		return reject(protocol.ErrInvalidAction, "empty path")
	}
	if u.MovesLeft <= 0 {
		return reject(protocol.ErrNoResource, "unit %d has no moves left", u.ID)
	}
	def, _ := e.rules.Unit(u.Kind)
	prev := u.Tile
	visited := map[state.TileCoord]bool{u.Tile: true}
	cost := 0
	for i, step := range v.Path {
		if !s.InBounds(step) {
			return reject(protocol.ErrInvalidAction, "step %d %s out of bounds", i, step)
		}
		if distance(prev, step) != 1 {
			return reject(protocol.ErrInvalidAction, "step %d %s not adjacent to %s", i, step, prev)
		}
		if visited[step] {
			return reject(protocol.ErrInvalidAction, "step %d revisits %s", i, step)
		}
		visited[step] = true
		if !passableAt(s, e.rules, step) {
			return reject(protocol.ErrBlocked, "step %d %s is impassable", i, step)
		}
		for _, other := range s.UnitsAt(step) {
			if other.Owner != player {
				return reject(protocol.ErrBlocked, "step %d %s holds enemy unit %d", i, step, other.ID)
			}
		}
		last := i == len(v.Path)-1
		if c := s.CityAt(step); c != nil && c.Owner != player && !(last && def.Combat) {
			return reject(protocol.ErrBlocked, "step %d %s is enemy city %d", i, step, c.ID)
		}
		if !def.Combat && e.inForeignTerritory(s, player, step) {
			return reject(protocol.ErrBlocked, "step %d %s is in closed foreign territory", i, step)
		}
		t, _ := e.rules.Terrain(s.TerrainAt(step))
		cost += t.MoveCost
		prev = step
	}
	if v.AP != cost {
		return reject(protocol.ErrInvalidAction, "declared ap %d, path costs %d", v.AP, cost)
	}
	if cost > u.MovesLeft {
		return reject(protocol.ErrNoResource, "path costs %d, unit %d has %d moves", cost, u.ID, u.MovesLeft)
	}
	if !canOccupy(s, e.rules, player, def, prev) && !capturable(s, player, def.Combat, prev) {
		return reject(protocol.ErrBlocked, "destination %s is occupied", prev)
	}
	return nil
}

// capturable reports whether a combat unit ending on t takes an enemy city.
func capturable(s *state.State, player state.PlayerID, combat bool, t state.TileCoord) bool {
	c := s.CityAt(t)
	return combat && c != nil && c.Owner != player && len(s.UnitsAt(t)) == 0
}

func (e *Engine) validateAttack(s *state.State, player state.PlayerID, v action.Attack) *InvalidAction {
	u, rej := ownedUnit(s, player, v.Attacker)
	if rej != nil {
		return rej
	}
	def, _ := e.rules.Unit(u.Kind)
	if !def.Combat {
		return reject(protocol.ErrInvalidAction, "unit %d cannot attack", u.ID)
	}
	if u.Attacked {
		return reject(protocol.ErrNoResource, "unit %d already attacked this turn", u.ID)
	}
	if u.MovesLeft <= 0 {
		return reject(protocol.ErrNoResource, "unit %d has no moves left", u.ID)
	}
	target, ok := s.Units[v.Target]
	if !ok {
		return reject(protocol.ErrInvalidTarget, "unknown target %d", v.Target)
	}
	if target.Owner == player {
		return reject(protocol.ErrInvalidTarget, "target %d is friendly", target.ID)
	}
	if distance(u.Tile, target.Tile) != 1 {
		return reject(protocol.ErrInvalidTarget, "target %d is not adjacent", target.ID)
	}
	return nil
}

func (e *Engine) validateFortify(s *state.State, player state.PlayerID, v action.Fortify) *InvalidAction {
	u, rej := ownedUnit(s, player, v.Unit)
	if rej != nil {
		return rej
	}
	def, _ := e.rules.Unit(u.Kind)
	if !def.Combat {
		return reject(protocol.ErrInvalidAction, "unit %d cannot fortify", u.ID)
	}
	if u.Fortified {
		return reject(protocol.ErrInvalidAction, "unit %d already fortified", u.ID)
	}
	if u.MovesLeft <= 0 {
		return reject(protocol.ErrNoResource, "unit %d has no moves left", u.ID)
	}
	return nil
}

func (e *Engine) validateBuildUnit(s *state.State, player state.PlayerID, v action.BuildUnit) *InvalidAction {
	c, rej := ownedCity(s, player, v.City)
	if rej != nil {
		return rej
	}
	def, ok := e.rules.Unit(v.UnitKind)
	if !ok {
		return reject(protocol.ErrInvalidAction, "unknown unit kind %q", v.UnitKind)
	}
	p := s.Players[player]
	if def.RequiresTech != "" && !p.Techs[def.RequiresTech] {
		return reject(protocol.ErrInvalidAction, "%s requires %s", def.ID, def.RequiresTech)
	}
	if p.Resources.Production < int64(def.Cost) {
		return reject(protocol.ErrNoResource, "%s costs %d production, have %d", def.ID, def.Cost, p.Resources.Production)
	}
	if _, ok := placement(s, e.rules, player, def, c.Tile); !ok {
		return reject(protocol.ErrBlocked, "no room around city %d for %s", c.ID, def.ID)
	}
	return nil
}

func (e *Engine) validateBuildDistrict(s *state.State, player state.PlayerID, v action.BuildDistrict) *InvalidAction {
	c, rej := ownedCity(s, player, v.City)
	if rej != nil {
		return rej
	}
	def, ok := e.rules.District(v.DistrictKind)
	if !ok {
		return reject(protocol.ErrInvalidAction, "unknown district kind %q", v.DistrictKind)
	}
	if c.HasDistrict(def.ID) {
		return reject(protocol.ErrInvalidAction, "city %d already has a %s", c.ID, def.ID)
	}
	if !s.InBounds(v.Tile) {
		return reject(protocol.ErrInvalidTarget, "tile %s out of bounds", v.Tile)
	}
	if d := distance(c.Tile, v.Tile); d < 1 || d > e.rules.CityRadius {
		return reject(protocol.ErrInvalidTarget, "tile %s outside city %d radius", v.Tile, c.ID)
	}
	if !passableAt(s, e.rules, v.Tile) {
		return reject(protocol.ErrBlocked, "tile %s is impassable", v.Tile)
	}
	if s.CityAt(v.Tile) != nil {
		return reject(protocol.ErrBlocked, "tile %s is a city centre", v.Tile)
	}
	if _, taken := s.DistrictAt(v.Tile); taken {
		return reject(protocol.ErrBlocked, "tile %s already has a district", v.Tile)
	}
	p := s.Players[player]
	if def.RequiresTech != "" && !p.Techs[def.RequiresTech] {
		return reject(protocol.ErrInvalidAction, "%s requires %s", def.ID, def.RequiresTech)
	}
	if p.Resources.Production < int64(def.Cost) {
		return reject(protocol.ErrNoResource, "%s costs %d production, have %d", def.ID, def.Cost, p.Resources.Production)
	}
	return nil
}

func (e *Engine) validateSetPolicy(s *state.State, player state.PlayerID, v action.SetPolicy) *InvalidAction {
	if v.Slot < 0 || v.Slot >= e.rules.PolicySlots {
		return reject(protocol.ErrInvalidAction, "policy slot %d out of range", v.Slot)
	}
	def, ok := e.rules.Policy(v.PolicyID)
	if !ok {
		return reject(protocol.ErrInvalidAction, "unknown policy %q", v.PolicyID)
	}
	p := s.Players[player]
	for slot, id := range p.Policies {
		if id == def.ID {
			return reject(protocol.ErrInvalidAction, "policy %s already in slot %d", def.ID, slot)
		}
	}
	if p.Resources.Culture < int64(def.Cost) {
		return reject(protocol.ErrNoResource, "%s costs %d culture, have %d", def.ID, def.Cost, p.Resources.Culture)
	}
	return nil
}

func (e *Engine) validateChooseTech(s *state.State, player state.PlayerID, v action.ChooseTech) *InvalidAction {
	def, ok := e.rules.Tech(v.TechID)
	if !ok {
		return reject(protocol.ErrInvalidAction, "unknown tech %q", v.TechID)
	}
	p := s.Players[player]
	if p.Techs[def.ID] {
		return reject(protocol.ErrInvalidAction, "tech %s already known", def.ID)
	}
	if p.Research == def.ID {
		return reject(protocol.ErrInvalidAction, "already researching %s", def.ID)
	}
	for _, pre := range def.Prereqs {
		if !p.Techs[pre] {
			return reject(protocol.ErrInvalidAction, "%s requires %s", def.ID, pre)
		}
	}
	return nil
}

func (e *Engine) validateOfferDeal(s *state.State, player state.PlayerID, v action.OfferDeal) *InvalidAction {
	to, ok := s.Players[v.To]
	if !ok || !to.Alive || v.To == player {
		return reject(protocol.ErrInvalidTarget, "player %d cannot receive offers", v.To)
	}
	if _, _, err := parseDeal(v.Deal); err != nil {
		return reject(protocol.ErrInvalidAction, "%v", err)
	}
	pending := 0
	for _, d := range s.Deals {
		if d.From == player {
			pending++
		}
	}
	if pending >= e.rules.MaxPendingDeals {
		return reject(protocol.ErrNoResource, "player %d has %d pending offers", player, pending)
	}
	return nil
}

func addressedDeal(s *state.State, player state.PlayerID, id state.DealID) (*state.Deal, *InvalidAction) {
	d, ok := s.Deals[id]
	if !ok {
		return nil, reject(protocol.ErrInvalidTarget, "unknown deal %d", id)
	}
	if d.To != player {
		return nil, reject(protocol.ErrNoPermission, "deal %d is not addressed to player %d", id, player)
	}
	return d, nil
}

func (e *Engine) validateAcceptDeal(s *state.State, player state.PlayerID, v action.AcceptDeal) *InvalidAction {
	d, rej := addressedDeal(s, player, v.Deal)
	if rej != nil {
		return rej
	}
	from, ok := s.Players[d.From]
	if !ok || !from.Alive {
		return reject(protocol.ErrInvalidTarget, "deal %d sender is gone", d.ID)
	}
	terms, _, err := parseDeal([]byte(d.Payload))
	if err != nil {
		return reject(protocol.ErrInvalidAction, "deal %d: %v", d.ID, err)
	}
	if from.Resources.Gold < terms.Give.Gold {
		return reject(protocol.ErrNoResource, "sender cannot pay %d gold", terms.Give.Gold)
	}
	if s.Players[player].Resources.Gold < terms.Take.Gold {
		return reject(protocol.ErrNoResource, "cannot pay %d gold", terms.Take.Gold)
	}
	return nil
}

func (e *Engine) validateDeclineDeal(s *state.State, player state.PlayerID, v action.DeclineDeal) *InvalidAction {
	_, rej := addressedDeal(s, player, v.Deal)
	return rej
}
