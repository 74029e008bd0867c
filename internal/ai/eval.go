// Package ai holds the computer-player collaborators. They read state and
// go through the engine's public API; none of them mutates a State.
package ai

import (
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/state"
)

// Weights for EvaluateState. Integer so two runs score identically.
const (
	weightPop      = 12
	weightCity     = 40
	weightDistrict = 10
	weightTech     = 8
	weightStrength = 1
	weightYield    = 3
	goldDivisor    = 5
	eliminated     = -1000
)

type Evaluator struct {
	engine *engine.Engine
}

func NewEvaluator(e *engine.Engine) *Evaluator { return &Evaluator{engine: e} }

// EvaluateState scores player's position as its own strength minus the
// average strength of the living opponents.
func (ev *Evaluator) EvaluateState(s *state.State, player state.PlayerID) float64 {
	p, ok := s.Players[player]
	if !ok || !p.Alive {
		return eliminated
	}
	own := ev.strength(s, player)
	var others, n int64
	for _, id := range s.LivingPlayers() {
		if id == player {
			continue
		}
		others += ev.strength(s, id)
		n++
	}
	if n == 0 {
		return float64(own)
	}
	return float64(own) - float64(others)/float64(n)
}

func (ev *Evaluator) strength(s *state.State, player state.PlayerID) int64 {
	r := ev.engine.Rules()
	var score int64
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if c.Owner != player {
			continue
		}
		score += weightCity + int64(c.Population)*weightPop + int64(len(c.Districts))*weightDistrict
	}
	for _, id := range s.SortedUnitIDs() {
		u := s.Units[id]
		if u.Owner != player {
			continue
		}
		def, _ := r.Unit(u.Kind)
		score += int64(def.Strength*u.HP/100) * weightStrength
	}
	p := s.Players[player]
	for _, known := range p.Techs {
		if known {
			score += weightTech
		}
	}
	y := ev.engine.YieldsFor(s, player)
	score += int64(y.Production+y.Gold+y.Science+y.Culture) * weightYield
	score += p.Resources.Gold / goldDivisor
	return score
}
