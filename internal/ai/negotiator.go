package ai

import (
	"encoding/json"
	"fmt"

	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/state"
)

type DealValidator interface {
	ValidateDeal(payload []byte) error
}

// Gold-equivalent value of granting open borders.
const openBordersValue = 15

type Negotiator struct {
	engine    *engine.Engine
	validator DealValidator
}

func NewNegotiator(e *engine.Engine, v DealValidator) *Negotiator {
	return &Negotiator{engine: e, validator: v}
}

type side struct {
	Gold        int64 `json:"gold,omitempty"`
	OpenBorders bool  `json:"open_borders,omitempty"`
}

type terms struct {
	Give side `json:"give"`
	Take side `json:"take"`
}

func (s side) value() int64 {
	v := s.Gold
	if s.OpenBorders {
		v += openBordersValue
	}
	return v
}

// GenerateDeal proposes buying open borders from `to` when from can spare
// the gold and does not already have them.
func (n *Negotiator) GenerateDeal(s *state.State, from, to state.PlayerID) (action.OfferDeal, bool) {
	pf, ok1 := s.Players[from]
	pt, ok2 := s.Players[to]
	if !ok1 || !ok2 || !pf.Alive || !pt.Alive || from == to {
		return action.OfferDeal{}, false
	}
	if pt.OpenBorders[from] {
		return action.OfferDeal{}, false
	}
	surplus := pf.Resources.Gold - 2*n.engine.Upkeep(s, from)
	if surplus < openBordersValue {
		return action.OfferDeal{}, false
	}
	raw, _ := json.Marshal(terms{
		Give: side{Gold: openBordersValue},
		Take: side{OpenBorders: true},
	})
	offer := action.OfferDeal{To: to, Deal: raw}
	if n.validator != nil && n.validator.ValidateDeal(raw) != nil {
		return action.OfferDeal{}, false
	}
	if n.engine.ValidateAction(s, from, offer) != nil {
		return action.OfferDeal{}, false
	}
	return offer, true
}

// EvaluateDeal decides whether player accepts payload, which is written from
// the proposer's side: "give" flows to player and "take" flows from player.
// A rejected but salvageable offer comes back with a counter-offer.
func (n *Negotiator) EvaluateDeal(s *state.State, player state.PlayerID, payload []byte) (bool, string, []byte) {
	if n.validator != nil {
		if err := n.validator.ValidateDeal(payload); err != nil {
			return false, err.Error(), nil
		}
	}
	p, ok := s.Players[player]
	if !ok || !p.Alive {
		return false, fmt.Sprintf("player %d cannot negotiate", player), nil
	}
	var t terms
	if err := json.Unmarshal(payload, &t); err != nil {
		return false, err.Error(), nil
	}
	if t.Take.Gold > p.Resources.Gold {
		return false, fmt.Sprintf("cannot pay %d gold", t.Take.Gold), n.counter(t, p.Resources.Gold)
	}
	gain, cost := t.Give.value(), t.Take.value()
	if gain < cost {
		return false, fmt.Sprintf("offer worth %d, asks %d", gain, cost), n.counter(t, p.Resources.Gold)
	}
	return true, "accepted", nil
}

// counter keeps what the proposer gives and trims the gold asked until the
// exchange is even and affordable. No counter when nothing can balance.
func (n *Negotiator) counter(t terms, budget int64) []byte {
	gold := t.Give.value()
	if t.Take.OpenBorders {
		gold -= openBordersValue
	}
	if gold > budget {
		gold = budget
	}
	if gold > t.Take.Gold {
		gold = t.Take.Gold
	}
	if gold < 0 || (gold == 0 && !t.Take.OpenBorders) {
		return nil
	}
	c := terms{Give: t.Give, Take: side{Gold: gold, OpenBorders: t.Take.OpenBorders}}
	if c == t {
		return nil
	}
	raw, _ := json.Marshal(c)
	if n.validator != nil && n.validator.ValidateDeal(raw) != nil {
		return nil
	}
	return raw
}
