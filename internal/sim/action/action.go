// Package action defines the closed set of player actions and their wire codec.
//
// Action is sealed: only the types in this file implement it. Every consumer
// switches over the concrete types and treats anything else as a programming
// error (see Unhandled), so adding a variant fails loudly in every place that
// has not been taught about it.
package action

import (
	"encoding/json"
	"fmt"

	"dryas.ai/internal/sim/state"
)

type Kind string

const (
	KindEndTurn       Kind = "END_TURN"
	KindMoveUnit      Kind = "MOVE_UNIT"
	KindAttack        Kind = "ATTACK"
	KindFortify       Kind = "FORTIFY"
	KindBuildUnit     Kind = "BUILD_UNIT"
	KindBuildDistrict Kind = "BUILD_DISTRICT"
	KindSetPolicy     Kind = "SET_POLICY"
	KindChooseTech    Kind = "CHOOSE_TECH"
	KindOfferDeal     Kind = "OFFER_DEAL"
	KindAcceptDeal    Kind = "ACCEPT_DEAL"
	KindDeclineDeal   Kind = "DECLINE_DEAL"
)

// AllKinds lists every variant in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindEndTurn,
		KindMoveUnit,
		KindAttack,
		KindFortify,
		KindBuildUnit,
		KindBuildDistrict,
		KindSetPolicy,
		KindChooseTech,
		KindOfferDeal,
		KindAcceptDeal,
		KindDeclineDeal,
	}
}

type Action interface {
	Kind() Kind
	sealed()
}

type EndTurn struct{}

type MoveUnit struct {
	Unit state.UnitID      `json:"unit"`
	Path []state.TileCoord `json:"path"`
	// AP is the action-point cost the client claims for the path.
	AP int `json:"ap"`
}

type Attack struct {
	Attacker state.UnitID `json:"attacker"`
	Target   state.UnitID `json:"target"`
}

type Fortify struct {
	Unit state.UnitID `json:"unit"`
}

type BuildUnit struct {
	City     state.CityID `json:"city"`
	UnitKind string       `json:"kind"`
}

type BuildDistrict struct {
	City         state.CityID    `json:"city"`
	DistrictKind string          `json:"kind"`
	Tile         state.TileCoord `json:"tile"`
}

type SetPolicy struct {
	Slot     int    `json:"slot"`
	PolicyID string `json:"id"`
}

type ChooseTech struct {
	TechID string `json:"id"`
}

type OfferDeal struct {
	To   state.PlayerID  `json:"to"`
	Deal json.RawMessage `json:"deal"`
}

type AcceptDeal struct {
	Deal state.DealID `json:"deal"`
}

type DeclineDeal struct {
	Deal state.DealID `json:"deal"`
}

func (EndTurn) Kind() Kind       { return KindEndTurn }
func (MoveUnit) Kind() Kind      { return KindMoveUnit }
func (Attack) Kind() Kind        { return KindAttack }
func (Fortify) Kind() Kind       { return KindFortify }
func (BuildUnit) Kind() Kind     { return KindBuildUnit }
func (BuildDistrict) Kind() Kind { return KindBuildDistrict }
func (SetPolicy) Kind() Kind     { return KindSetPolicy }
func (ChooseTech) Kind() Kind    { return KindChooseTech }
func (OfferDeal) Kind() Kind     { return KindOfferDeal }
func (AcceptDeal) Kind() Kind    { return KindAcceptDeal }
func (DeclineDeal) Kind() Kind   { return KindDeclineDeal }

func (EndTurn) sealed()       {}
func (MoveUnit) sealed()      {}
func (Attack) sealed()        {}
func (Fortify) sealed()       {}
func (BuildUnit) sealed()     {}
func (BuildDistrict) sealed() {}
func (SetPolicy) sealed()     {}
func (ChooseTech) sealed()    {}
func (OfferDeal) sealed()     {}
func (AcceptDeal) sealed()    {}
func (DeclineDeal) sealed()   {}

// Unhandled is the fatal path for a switch that met a variant it does not know.
func Unhandled(a Action) {
	panic(fmt.Sprintf("action: unhandled variant %T", a))
}

// Describe renders a short human-readable form, used in events and logs.
func Describe(a Action) string {
	switch v := a.(type) {
	case EndTurn:
		return "end turn"
	case MoveUnit:
		dst := "nowhere"
		if len(v.Path) > 0 {
			dst = v.Path[len(v.Path)-1].String()
		}
		return fmt.Sprintf("move unit %d to %s (%d ap)", v.Unit, dst, v.AP)
	case Attack:
		return fmt.Sprintf("unit %d attacks unit %d", v.Attacker, v.Target)
	case Fortify:
		return fmt.Sprintf("fortify unit %d", v.Unit)
	case BuildUnit:
		return fmt.Sprintf("city %d builds %s", v.City, v.UnitKind)
	case BuildDistrict:
		return fmt.Sprintf("city %d builds %s district at %s", v.City, v.DistrictKind, v.Tile)
	case SetPolicy:
		return fmt.Sprintf("slot %d policy %s", v.Slot, v.PolicyID)
	case ChooseTech:
		return fmt.Sprintf("research %s", v.TechID)
	case OfferDeal:
		return fmt.Sprintf("offer deal to player %d", v.To)
	case AcceptDeal:
		return fmt.Sprintf("accept deal %d", v.Deal)
	case DeclineDeal:
		return fmt.Sprintf("decline deal %d", v.Deal)
	default:
		Unhandled(a)
		return ""
	}
}
