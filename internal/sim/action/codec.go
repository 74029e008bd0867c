package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Encode renders a as a tagged JSON object: {"type":"MOVE_UNIT", ...fields}.
// The output is deterministic for a given value.
func Encode(a Action) ([]byte, error) {
	switch v := a.(type) {
	case EndTurn:
		return json.Marshal(struct {
			Type Kind `json:"type"`
		}{KindEndTurn})
	case MoveUnit:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			MoveUnit
		}{KindMoveUnit, v})
	case Attack:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Attack
		}{KindAttack, v})
	case Fortify:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Fortify
		}{KindFortify, v})
	case BuildUnit:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			BuildUnit
		}{KindBuildUnit, v})
	case BuildDistrict:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			BuildDistrict
		}{KindBuildDistrict, v})
	case SetPolicy:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			SetPolicy
		}{KindSetPolicy, v})
	case ChooseTech:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ChooseTech
		}{KindChooseTech, v})
	case OfferDeal:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			OfferDeal
		}{KindOfferDeal, v})
	case AcceptDeal:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			AcceptDeal
		}{KindAcceptDeal, v})
	case DeclineDeal:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			DeclineDeal
		}{KindDeclineDeal, v})
	default:
		Unhandled(a)
		return nil, nil
	}
}

// MustEncode is Encode for values built in code, where failure is a bug.
func MustEncode(a Action) []byte {
	b, err := Encode(a)
	if err != nil {
		panic(fmt.Sprintf("action: encode %T: %v", a, err))
	}
	return b
}

// Decode parses a tagged JSON action. Unknown types, unknown fields and
// trailing data are rejected.
func Decode(b []byte) (Action, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	switch head.Type {
	case KindEndTurn:
		var v struct {
			Type Kind `json:"type"`
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return EndTurn{}, nil
	case KindMoveUnit:
		var v struct {
			Type Kind `json:"type"`
			MoveUnit
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.MoveUnit, nil
	case KindAttack:
		var v struct {
			Type Kind `json:"type"`
			Attack
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.Attack, nil
	case KindFortify:
		var v struct {
			Type Kind `json:"type"`
			Fortify
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.Fortify, nil
	case KindBuildUnit:
		var v struct {
			Type Kind `json:"type"`
			BuildUnit
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.BuildUnit, nil
	case KindBuildDistrict:
		var v struct {
			Type Kind `json:"type"`
			BuildDistrict
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.BuildDistrict, nil
	case KindSetPolicy:
		var v struct {
			Type Kind `json:"type"`
			SetPolicy
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.SetPolicy, nil
	case KindChooseTech:
		var v struct {
			Type Kind `json:"type"`
			ChooseTech
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.ChooseTech, nil
	case KindOfferDeal:
		var v struct {
			Type Kind `json:"type"`
			OfferDeal
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		if len(v.Deal) == 0 {
			return nil, errors.New("decode action: OFFER_DEAL missing deal")
		}
		return v.OfferDeal, nil
	case KindAcceptDeal:
		var v struct {
			Type Kind `json:"type"`
			AcceptDeal
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.AcceptDeal, nil
	case KindDeclineDeal:
		var v struct {
			Type Kind `json:"type"`
			DeclineDeal
		}
		if err := strict(b, &v); err != nil {
			return nil, err
		}
		return v.DeclineDeal, nil
	case "":
		return nil, errors.New("decode action: missing type")
	default:
		return nil, fmt.Errorf("decode action: unknown type %q", head.Type)
	}
}

func strict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("decode action: trailing data")
	}
	return nil
}
