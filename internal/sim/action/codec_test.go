package action

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"dryas.ai/internal/sim/state"
)

func samples() map[Kind]Action {
	return map[Kind]Action{
		KindEndTurn:       EndTurn{},
		KindMoveUnit:      MoveUnit{Unit: 7, Path: []state.TileCoord{{X: 1, Y: 2}, {X: 2, Y: 2}}, AP: 2},
		KindAttack:        Attack{Attacker: 3, Target: 9},
		KindFortify:       Fortify{Unit: 4},
		KindBuildUnit:     BuildUnit{City: 2, UnitKind: "warrior"},
		KindBuildDistrict: BuildDistrict{City: 2, DistrictKind: "farm", Tile: state.TileCoord{X: 3, Y: 4}},
		KindSetPolicy:     SetPolicy{Slot: 1, PolicyID: "discipline"},
		KindChooseTech:    ChooseTech{TechID: "pottery"},
		KindOfferDeal:     OfferDeal{To: 1, Deal: json.RawMessage(`{"give":{"gold":5},"take":{}}`)},
		KindAcceptDeal:    AcceptDeal{Deal: 11},
		KindDeclineDeal:   DeclineDeal{Deal: 12},
	}
}

func TestCodec_EveryKindEncodesAndDecodes(t *testing.T) {
	s := samples()
	if len(s) != len(AllKinds()) {
		t.Fatalf("samples cover %d kinds, AllKinds has %d", len(s), len(AllKinds()))
	}
	for _, k := range AllKinds() {
		a, ok := s[k]
		if !ok {
			t.Fatalf("no sample for %s", k)
		}
		if a.Kind() != k {
			t.Fatalf("sample for %s reports kind %s", k, a.Kind())
		}
		b, err := Encode(a)
		if err != nil {
			t.Fatalf("encode %s: %v", k, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v (%s)", k, err, b)
		}
		if !reflect.DeepEqual(got, a) {
			t.Fatalf("%s changed through the codec: %#v vs %#v", k, got, a)
		}
		if Describe(a) == "" {
			t.Fatalf("empty description for %s", k)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a := MoveUnit{Unit: 1, Path: []state.TileCoord{{X: 0, Y: 1}}, AP: 1}
	if !bytes.Equal(MustEncode(a), MustEncode(a)) {
		t.Fatalf("encoding not deterministic")
	}
	want := `{"type":"MOVE_UNIT","unit":1,"path":[{"x":0,"y":1}],"ap":1}`
	if got := string(MustEncode(a)); got != want {
		t.Fatalf("encoding = %s, want %s", got, want)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []string{
		``,
		`not json`,
		`{}`,
		`{"type":"TELEPORT"}`,
		`{"type":"FORTIFY","unit":1,"extra":true}`,
		`{"type":"MOVE_UNIT","unit":-1,"path":[],"ap":0}`,
		`{"type":"END_TURN"} {"type":"END_TURN"}`,
		`{"type":"OFFER_DEAL","to":1}`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); err == nil {
			t.Fatalf("expected decode error for %q", c)
		}
	}
}

type rogue struct{}

func (rogue) Kind() Kind { return "ROGUE" }
func (rogue) sealed()    {}

func TestUnhandledVariantPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown variant")
		}
	}()
	_, _ = Encode(rogue{})
}
