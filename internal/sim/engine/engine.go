// Package engine validates and applies actions to a State, advances turns and
// enumerates legal actions. Every function here is deterministic: the result
// depends only on the State, the rules and the arguments.
package engine

import (
	"fmt"

	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/invariants"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

type Engine struct {
	rules           *rules.Rules
	checkInvariants bool
}

type Option func(*Engine)

// WithInvariantChecks makes ApplyAction and EndTurn mutate a clone, run the
// invariant checker on it and commit only a clean result.
func WithInvariantChecks(on bool) Option {
	return func(e *Engine) { e.checkInvariants = on }
}

func New(r *rules.Rules, opts ...Option) *Engine {
	e := &Engine{rules: r}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Rules() *rules.Rules { return e.rules }

// InvalidAction is a rejection caused by the caller. State is unchanged.
type InvalidAction struct {
	Code   string
	Reason string
}

func (e *InvalidAction) Error() string {
	return fmt.Sprintf("invalid action (%s): %s", e.Code, e.Reason)
}

func reject(code, format string, args ...any) *InvalidAction {
	return &InvalidAction{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// InvariantViolation means an accepted mutation produced an illegal state.
// It is an engine defect; the mutation was discarded.
type InvariantViolation struct {
	During    string
	Violation *invariants.Violation
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s (during %s)", e.Violation.Error(), e.During)
}

func (e *InvariantViolation) Unwrap() error { return e.Violation }

type Delta struct {
	Op     string `json:"op"`
	Entity string `json:"entity"`
	ID     uint64 `json:"id"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Event struct {
	Type   string         `json:"type"`
	Player state.PlayerID `json:"player"`
	Text   string         `json:"text"`
}

// Effects reports what a mutation already did, in the order it happened.
type Effects struct {
	Deltas []Delta `json:"deltas"`
	Events []Event `json:"events"`
}

func (fx *Effects) set(entity string, id uint64, field string, value any) {
	fx.Deltas = append(fx.Deltas, Delta{Op: "set", Entity: entity, ID: id, Field: field, Value: fmt.Sprint(value)})
}

func (fx *Effects) create(entity string, id uint64, value any) {
	fx.Deltas = append(fx.Deltas, Delta{Op: "create", Entity: entity, ID: id, Value: fmt.Sprint(value)})
}

func (fx *Effects) remove(entity string, id uint64) {
	fx.Deltas = append(fx.Deltas, Delta{Op: "remove", Entity: entity, ID: id})
}

func (fx *Effects) event(typ string, player state.PlayerID, format string, args ...any) {
	fx.Events = append(fx.Events, Event{Type: typ, Player: player, Text: fmt.Sprintf(format, args...)})
}

// ValidateAction is pure. It accepts exactly the actions ApplyAction accepts.
func (e *Engine) ValidateAction(s *state.State, player state.PlayerID, a action.Action) error {
	if r := e.validate(s, player, a); r != nil {
		return r
	}
	return nil
}

// ApplyAction mutates s if a is accepted. On any error s is unchanged.
func (e *Engine) ApplyAction(s *state.State, player state.PlayerID, a action.Action) (Effects, error) {
	if r := e.validate(s, player, a); r != nil {
		return Effects{}, r
	}
	if !e.checkInvariants {
		return e.apply(s, player, a), nil
	}
	next := s.Clone()
	fx := e.apply(next, player, a)
	if err := invariants.Check(next, e.rules); err != nil {
		return Effects{}, &InvariantViolation{During: action.Describe(a), Violation: err.(*invariants.Violation)}
	}
	*s = *next
	return fx, nil
}

// EndTurn runs end-of-turn bookkeeping for every living player and
// increments the turn, as one step.
func (e *Engine) EndTurn(s *state.State) (Effects, error) {
	if !e.checkInvariants {
		return e.endTurn(s), nil
	}
	next := s.Clone()
	fx := e.endTurn(next)
	if err := invariants.Check(next, e.rules); err != nil {
		return Effects{}, &InvariantViolation{During: "end of turn", Violation: err.(*invariants.Violation)}
	}
	*s = *next
	return fx, nil
}

// GameOver reports whether at most one player is alive or the turn limit
// has been reached.
func (e *Engine) GameOver(s *state.State) bool {
	if len(s.LivingPlayers()) <= 1 {
		return true
	}
	return e.rules.MaxTurns > 0 && int(s.Turn) >= e.rules.MaxTurns
}

// Winner is the single surviving player, if the game ended that way.
func (e *Engine) Winner(s *state.State) (state.PlayerID, bool) {
	living := s.LivingPlayers()
	if len(living) == 1 {
		return living[0], true
	}
	return 0, false
}

// CanAct reports whether player may submit actions this turn.
func CanAct(s *state.State, player state.PlayerID) bool {
	p, ok := s.Players[player]
	return ok && p.Alive && !p.EndedTurn
}

func actorCheck(s *state.State, player state.PlayerID) *InvalidAction {
	p, ok := s.Players[player]
	if !ok {
		return reject(protocol.ErrNoPermission, "unknown player %d", player)
	}
	if !p.Alive {
		return reject(protocol.ErrNoPermission, "player %d is eliminated", player)
	}
	if p.EndedTurn {
		return reject(protocol.ErrNoPermission, "player %d already ended turn %d", player, s.Turn)
	}
	return nil
}
