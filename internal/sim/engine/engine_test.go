package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"dryas.ai/internal/deal"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/digest"
	"dryas.ai/internal/sim/invariants"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

func twoPlayers() []PlayerSpec {
	return []PlayerSpec{{ID: 0, Name: "red"}, {ID: 1, Name: "blue"}}
}

func newMatch(t *testing.T, seed int64) (*Engine, *state.State) {
	t.Helper()
	e := New(rules.Defaults(), WithInvariantChecks(true))
	s, err := e.NewState(seed, twoPlayers())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return e, s
}

func invalidCode(err error) string {
	var ia *InvalidAction
	if errors.As(err, &ia) {
		return ia.Code
	}
	return ""
}

func TestNewState_DeterministicAndValid(t *testing.T) {
	e, a := newMatch(t, 42)
	_, b := newMatch(t, 42)
	if digest.StateHash(a) != digest.StateHash(b) {
		t.Fatalf("same seed produced different states")
	}
	if a.Turn != 0 {
		t.Fatalf("turn = %d, want 0", a.Turn)
	}
	if err := invariants.Check(a, e.Rules()); err != nil {
		t.Fatalf("initial state: %v", err)
	}
	_, c := newMatch(t, 43)
	if digest.StateHash(a) == digest.StateHash(c) {
		t.Fatalf("different seeds produced identical states")
	}
	if len(a.Cities) != 2 || len(a.Units) != 4 {
		t.Fatalf("expected 2 capitals and 4 start units, got %d cities %d units", len(a.Cities), len(a.Units))
	}
}

func TestNewState_RejectsBadPlayers(t *testing.T) {
	e := New(rules.Defaults())
	if _, err := e.NewState(1, []PlayerSpec{{ID: 0}}); err == nil {
		t.Fatalf("expected single player rejected")
	}
	if _, err := e.NewState(1, []PlayerSpec{{ID: 3}, {ID: 3}}); err == nil {
		t.Fatalf("expected duplicate ids rejected")
	}
}

func TestEndTurnAction_LocksPlayerUntilAdvance(t *testing.T) {
	e, s := newMatch(t, 42)
	h0 := digest.StateHash(s)
	if _, err := e.ApplyAction(s, 0, action.EndTurn{}); err != nil {
		t.Fatalf("end turn: %v", err)
	}
	if digest.StateHash(s) == h0 {
		t.Fatalf("end turn did not change the state hash")
	}
	if _, err := e.ApplyAction(s, 0, action.EndTurn{}); invalidCode(err) != protocol.ErrNoPermission {
		t.Fatalf("expected second end turn rejected, got %v", err)
	}
	if got := e.EnumerateLegalActions(s, 0); len(got) != 0 {
		t.Fatalf("player who ended turn still has %d legal actions", len(got))
	}
	if _, err := e.EndTurn(s); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Turn != 1 || s.Players[0].EndedTurn {
		t.Fatalf("advance did not reset turn state: turn=%d ended=%v", s.Turn, s.Players[0].EndedTurn)
	}
}

func TestApplyAction_RejectionLeavesStateUnchanged(t *testing.T) {
	e, s := newMatch(t, 7)
	var uid state.UnitID
	for _, id := range s.SortedUnitIDs() {
		if s.Units[id].Owner == 0 {
			uid = id
			break
		}
	}
	u := s.Units[uid]
	before := digest.StateHash(s)
	cases := []action.Action{
		action.MoveUnit{Unit: uid},
		action.MoveUnit{Unit: uid, Path: []state.TileCoord{{X: u.Tile.X + 3, Y: u.Tile.Y}}, AP: 1},
		action.MoveUnit{Unit: 9999, Path: []state.TileCoord{u.Tile}, AP: 1},
		action.BuildUnit{City: 9999, UnitKind: "warrior"},
		action.BuildUnit{City: 1, UnitKind: "dragon"},
		action.ChooseTech{TechID: "agriculture"},
		action.ChooseTech{TechID: "writing"},
		action.SetPolicy{Slot: 5, PolicyID: "discipline"},
		action.SetPolicy{Slot: 0, PolicyID: "discipline"},
		action.OfferDeal{To: 0, Deal: json.RawMessage(EmptyDeal)},
		action.OfferDeal{To: 1, Deal: json.RawMessage(`{"give":{"gold":-5}}`)},
		action.AcceptDeal{Deal: 12345},
	}
	for _, a := range cases {
		if err := e.ValidateAction(s, 0, a); err == nil {
			t.Fatalf("expected %s rejected", action.Describe(a))
		}
		if _, err := e.ApplyAction(s, 0, a); err == nil {
			t.Fatalf("apply accepted %s", action.Describe(a))
		}
		if digest.StateHash(s) != before {
			t.Fatalf("rejected %s changed the state", action.Describe(a))
		}
	}
}

func TestMoveUnit_APMustMatchPathCost(t *testing.T) {
	e, s := newMatch(t, 42)
	var move action.MoveUnit
	for _, a := range e.EnumerateLegalActions(s, 0) {
		if m, ok := a.(action.MoveUnit); ok && len(m.Path) == 1 {
			move = m
			break
		}
	}
	if move.Unit == 0 {
		t.Fatalf("no single-step move available")
	}
	wrong := move
	wrong.AP = move.AP + 1
	if err := e.ValidateAction(s, 0, wrong); invalidCode(err) != protocol.ErrInvalidAction {
		t.Fatalf("expected ap mismatch rejected, got %v", err)
	}
	if _, err := e.ApplyAction(s, 0, move); err != nil {
		t.Fatalf("move: %v", err)
	}
	u := s.Units[move.Unit]
	if u.Tile != move.Path[0] {
		t.Fatalf("unit at %s, want %s", u.Tile, move.Path[0])
	}
}

// duel sets up two adjacent warriors on passable ground.
func duel(t *testing.T, e *Engine, s *state.State) (*state.Unit, *state.Unit) {
	t.Helper()
	for y := 0; y < s.Height; y++ {
		for x := 0; x+1 < s.Width; x++ {
			a := state.TileCoord{X: int32(x), Y: int32(y)}
			b := state.TileCoord{X: int32(x + 1), Y: int32(y)}
			if !passableAt(s, e.Rules(), a) || !passableAt(s, e.Rules(), b) {
				continue
			}
			if len(s.UnitsAt(a)) > 0 || len(s.UnitsAt(b)) > 0 || s.CityAt(a) != nil || s.CityAt(b) != nil {
				continue
			}
			ua := &state.Unit{ID: state.UnitID(s.AllocID()), Owner: 0, Kind: "warrior", Tile: a, HP: 100, MovesLeft: 2}
			ub := &state.Unit{ID: state.UnitID(s.AllocID()), Owner: 1, Kind: "warrior", Tile: b, HP: 100, MovesLeft: 2}
			s.Units[ua.ID] = ua
			s.Units[ub.ID] = ub
			return ua, ub
		}
	}
	t.Fatalf("no room for a duel")
	return nil, nil
}

func TestAttack_DeterministicDamage(t *testing.T) {
	e, s1 := newMatch(t, 42)
	_, s2 := newMatch(t, 42)
	a1, d1 := duel(t, e, s1)
	duel(t, e, s2)

	if _, err := e.ApplyAction(s1, 0, action.Attack{Attacker: a1.ID, Target: d1.ID}); err != nil {
		t.Fatalf("attack: %v", err)
	}
	if _, err := e.ApplyAction(s2, 0, action.Attack{Attacker: a1.ID, Target: d1.ID}); err != nil {
		t.Fatalf("attack: %v", err)
	}
	if digest.StateHash(s1) != digest.StateHash(s2) {
		t.Fatalf("combat outcome differs between replays")
	}
	def := s1.Units[d1.ID]
	if def != nil && def.HP >= 100 {
		t.Fatalf("defender took no damage")
	}
	if att := s1.Units[a1.ID]; att != nil {
		if att.MovesLeft != 0 || !att.Attacked {
			t.Fatalf("attacker not spent: %+v", att)
		}
		if _, err := e.ApplyAction(s1, 0, action.Attack{Attacker: a1.ID, Target: d1.ID}); err == nil {
			t.Fatalf("second attack in one turn accepted")
		}
	}
}

func TestFortify(t *testing.T) {
	e, s := newMatch(t, 42)
	a, _ := duel(t, e, s)
	if _, err := e.ApplyAction(s, 0, action.Fortify{Unit: a.ID}); err != nil {
		t.Fatalf("fortify: %v", err)
	}
	if !s.Units[a.ID].Fortified || s.Units[a.ID].MovesLeft != 0 {
		t.Fatalf("unit not fortified: %+v", s.Units[a.ID])
	}
	if _, err := e.ApplyAction(s, 0, action.Fortify{Unit: a.ID}); err == nil {
		t.Fatalf("double fortify accepted")
	}
}

func TestBuildUnit_SpendsProduction(t *testing.T) {
	e, s := newMatch(t, 42)
	var city state.CityID
	for _, id := range s.SortedCityIDs() {
		if s.Cities[id].Owner == 0 {
			city = id
		}
	}
	s.Players[0].Resources.Production = 10
	before := len(s.Units)
	if _, err := e.ApplyAction(s, 0, action.BuildUnit{City: city, UnitKind: "warrior"}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(s.Units) != before+1 || s.Players[0].Resources.Production != 0 {
		t.Fatalf("build did not create unit or spend production")
	}
	if _, err := e.ApplyAction(s, 0, action.BuildUnit{City: city, UnitKind: "warrior"}); invalidCode(err) != protocol.ErrNoResource {
		t.Fatalf("expected no-resource rejection, got %v", err)
	}
	if _, err := e.ApplyAction(s, 0, action.BuildUnit{City: city, UnitKind: "archer"}); invalidCode(err) != protocol.ErrInvalidAction {
		t.Fatalf("expected tech-locked rejection, got %v", err)
	}
}

func TestResearch_CompletesTech(t *testing.T) {
	e, s := newMatch(t, 42)
	if _, err := e.ApplyAction(s, 0, action.ChooseTech{TechID: "pottery"}); err != nil {
		t.Fatalf("choose tech: %v", err)
	}
	for i := 0; i < 20 && !s.Players[0].Techs["pottery"]; i++ {
		if _, err := e.EndTurn(s); err != nil {
			t.Fatalf("end turn: %v", err)
		}
	}
	if !s.Players[0].Techs["pottery"] || s.Players[0].Research != "" {
		t.Fatalf("pottery not learned after 20 turns")
	}
}

func TestUpkeep_DisbandsHighestIDsFirst(t *testing.T) {
	e, s := newMatch(t, 42)
	a, _ := duel(t, e, s)
	s.Players[0].Resources.Gold = 0
	// Strip income so upkeep cannot be paid.
	for _, c := range s.Cities {
		if c.Owner == 0 {
			c.Owner = 1
		}
	}
	var starter state.UnitID
	for _, id := range s.SortedUnitIDs() {
		if u := s.Units[id]; u.Owner == 0 && u.Kind == "warrior" && id != a.ID {
			starter = id
		}
	}
	if _, err := e.EndTurn(s); err != nil {
		t.Fatalf("end turn: %v", err)
	}
	if _, ok := s.Units[a.ID]; ok {
		t.Fatalf("newest warrior should be disbanded first")
	}
	if _, ok := s.Units[starter]; ok {
		t.Fatalf("no gold left for the older warrior either")
	}
	if g := s.Players[0].Resources.Gold; g < 0 {
		t.Fatalf("gold went negative: %d", g)
	}
}

func TestDeals_OfferAcceptTransfersGold(t *testing.T) {
	e, s := newMatch(t, 42)
	s.Players[0].Resources.Gold = 30
	s.Players[1].Resources.Gold = 5
	offer := action.OfferDeal{To: 1, Deal: json.RawMessage(`{ "take": {"gold": 5}, "give": {"gold": 10, "open_borders": true} }`)}
	if _, err := e.ApplyAction(s, 0, offer); err != nil {
		t.Fatalf("offer: %v", err)
	}
	ids := s.SortedDealIDs()
	if len(ids) != 1 {
		t.Fatalf("expected one pending deal, got %d", len(ids))
	}
	d := s.Deals[ids[0]]
	if d.Payload != `{"give":{"gold":10,"open_borders":true},"take":{"gold":5}}` {
		t.Fatalf("payload not canonical: %s", d.Payload)
	}
	if _, err := e.ApplyAction(s, 0, action.AcceptDeal{Deal: d.ID}); invalidCode(err) != protocol.ErrNoPermission {
		t.Fatalf("sender accepted own deal: %v", err)
	}
	if _, err := e.ApplyAction(s, 1, action.AcceptDeal{Deal: d.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.Players[0].Resources.Gold != 25 || s.Players[1].Resources.Gold != 10 {
		t.Fatalf("gold after deal: %d / %d", s.Players[0].Resources.Gold, s.Players[1].Resources.Gold)
	}
	if !s.Players[0].OpenBorders[1] {
		t.Fatalf("open borders not granted")
	}
	if len(s.Deals) != 0 {
		t.Fatalf("accepted deal still pending")
	}
}

func TestDeals_OfferMatchesDealSchema(t *testing.T) {
	e, s := newMatch(t, 42)
	s.Players[0].Resources.Gold = 50
	schema := deal.MustValidator()
	cases := []string{
		EmptyDeal,
		`{"give":{"gold":5},"take":{"open_borders":true},"duration":30,"threat":{"casus_belli":"border"},"conditions":["peace"]}`,
		`{"give":{}}`,
		`{"take":{}}`,
		`{"give":{},"take":{},"duration":99}`,
		`{"give":{},"take":{},"duration":0}`,
		`{"give":{},"take":{},"duration":"5"}`,
		`{"give":{},"take":{},"bonus":1}`,
		`{"give":{"silver":1},"take":{}}`,
	}
	for _, raw := range cases {
		offer := action.OfferDeal{To: 1, Deal: json.RawMessage(raw)}
		engineOK := e.ValidateAction(s, 0, offer) == nil
		schemaOK := schema.ValidateDeal([]byte(raw)) == nil
		if engineOK != schemaOK {
			t.Fatalf("%s: engine accepted=%v, schema accepted=%v", raw, engineOK, schemaOK)
		}
		if !engineOK && invalidCode(e.ValidateAction(s, 0, offer)) != protocol.ErrInvalidAction {
			t.Fatalf("%s: wrong rejection code", raw)
		}
	}
}

func TestDeals_Expire(t *testing.T) {
	e, s := newMatch(t, 42)
	if _, err := e.ApplyAction(s, 0, action.OfferDeal{To: 1, Deal: json.RawMessage(EmptyDeal)}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	for i := 0; i < e.Rules().DealExpiryTurns; i++ {
		if _, err := e.EndTurn(s); err != nil {
			t.Fatalf("end turn: %v", err)
		}
	}
	if len(s.Deals) != 0 {
		t.Fatalf("deal did not expire")
	}
}

func TestGameOver(t *testing.T) {
	r := rules.Defaults()
	r.MaxTurns = 2
	e := New(r)
	s, err := e.NewState(42, twoPlayers())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if e.GameOver(s) {
		t.Fatalf("game over at turn 0")
	}
	for i := 0; i < 2; i++ {
		if _, err := e.EndTurn(s); err != nil {
			t.Fatalf("end turn: %v", err)
		}
	}
	if !e.GameOver(s) {
		t.Fatalf("expected game over at max turns")
	}

	_, s2 := newMatch(t, 42)
	for id, u := range s2.Units {
		if u.Owner == 1 {
			delete(s2.Units, id)
		}
	}
	for id, c := range s2.Cities {
		if c.Owner == 1 {
			delete(s2.Cities, id)
		}
	}
	e2 := New(rules.Defaults())
	if _, err := e2.EndTurn(s2); err != nil {
		t.Fatalf("end turn: %v", err)
	}
	if s2.Players[1].Alive || !e2.GameOver(s2) {
		t.Fatalf("expected player 1 eliminated and game over")
	}
	if w, ok := e2.Winner(s2); !ok || w != 0 {
		t.Fatalf("winner = %d/%v", w, ok)
	}
}

func TestInvariantViolation_IsReportedAndDiscarded(t *testing.T) {
	e, s := newMatch(t, 42)
	// Corrupt the state behind the engine's back: two warriors on one tile.
	var warrior *state.Unit
	for _, id := range s.SortedUnitIDs() {
		if u := s.Units[id]; u.Owner == 0 && u.Kind == "warrior" {
			warrior = u
		}
	}
	id := state.UnitID(s.AllocID())
	s.Units[id] = &state.Unit{ID: id, Owner: 0, Kind: "warrior", Tile: warrior.Tile, HP: 100}
	before := digest.StateHash(s)
	_, err := e.ApplyAction(s, 0, action.EndTurn{})
	var iv *InvariantViolation
	if !errors.As(err, &iv) || iv.Violation.Name != invariants.NameStacking {
		t.Fatalf("expected stacking violation, got %v", err)
	}
	if digest.StateHash(s) != before {
		t.Fatalf("violating mutation was committed")
	}
}

// randomAction mixes legal actions with arbitrary, mostly illegal ones.
func randomAction(rng *rand.Rand, e *Engine, s *state.State, player state.PlayerID) action.Action {
	if rng.Intn(10) < 6 {
		legal := e.EnumerateLegalActions(s, player)
		if len(legal) > 0 {
			return legal[rng.Intn(len(legal))]
		}
	}
	tile := func() state.TileCoord {
		return state.TileCoord{X: int32(rng.Intn(s.Width+2) - 1), Y: int32(rng.Intn(s.Height+2) - 1)}
	}
	id := func() uint64 { return uint64(rng.Intn(int(s.NextID) + 2)) }
	switch rng.Intn(11) {
	case 0:
		return action.EndTurn{}
	case 1:
		n := rng.Intn(4)
		path := make([]state.TileCoord, n)
		for i := range path {
			path[i] = tile()
		}
		return action.MoveUnit{Unit: state.UnitID(id()), Path: path, AP: rng.Intn(4)}
	case 2:
		return action.Attack{Attacker: state.UnitID(id()), Target: state.UnitID(id())}
	case 3:
		return action.Fortify{Unit: state.UnitID(id())}
	case 4:
		kinds := []string{"warrior", "scout", "archer", "nope"}
		return action.BuildUnit{City: state.CityID(id()), UnitKind: kinds[rng.Intn(len(kinds))]}
	case 5:
		kinds := []string{"farm", "campus", "nope"}
		return action.BuildDistrict{City: state.CityID(id()), DistrictKind: kinds[rng.Intn(len(kinds))], Tile: tile()}
	case 6:
		return action.SetPolicy{Slot: rng.Intn(4) - 1, PolicyID: e.Rules().Policies[rng.Intn(len(e.Rules().Policies))].ID}
	case 7:
		return action.ChooseTech{TechID: e.Rules().Techs[rng.Intn(len(e.Rules().Techs))].ID}
	case 8:
		payloads := []string{EmptyDeal, `{"give":{"gold":3},"take":{}}`, `{"give":{},"take":{"gold":1000}}`, `{"give":{"gold":3}}`, `[]`, `{"give":{"gold":1.5},"take":{}}`}
		return action.OfferDeal{To: state.PlayerID(rng.Intn(3)), Deal: json.RawMessage(payloads[rng.Intn(len(payloads))])}
	case 9:
		return action.AcceptDeal{Deal: state.DealID(id())}
	default:
		return action.DeclineDeal{Deal: state.DealID(id())}
	}
}

// playout applies n random actions, advancing the turn when both players are
// done, and returns the encoded action log.
func playout(t *testing.T, e *Engine, s *state.State, seed int64, n int, check bool) [][]byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var log [][]byte
	for i := 0; i < n; i++ {
		player := state.PlayerID(rng.Intn(2))
		a := randomAction(rng, e, s, player)
		log = append(log, action.MustEncode(a))

		validErr := e.ValidateAction(s, player, a)
		before := digest.StateHash(s)
		_, applyErr := e.ApplyAction(s, player, a)
		var iv *InvariantViolation
		if errors.As(applyErr, &iv) {
			t.Fatalf("step %d %s: %v", i, action.Describe(a), applyErr)
		}
		if (validErr == nil) != (applyErr == nil) {
			t.Fatalf("step %d %s: validate=%v apply=%v", i, action.Describe(a), validErr, applyErr)
		}
		if applyErr != nil && digest.StateHash(s) != before {
			t.Fatalf("step %d: rejected action mutated state", i)
		}
		if check {
			if err := invariants.Check(s, e.Rules()); err != nil {
				t.Fatalf("step %d %s: %v", i, action.Describe(a), err)
			}
		}
		if !CanAct(s, 0) && !CanAct(s, 1) {
			if _, err := e.EndTurn(s); err != nil {
				t.Fatalf("step %d end turn: %v", i, err)
			}
			if check {
				if err := invariants.Check(s, e.Rules()); err != nil {
					t.Fatalf("step %d after end turn: %v", i, err)
				}
			}
		}
	}
	return log
}

func TestProperty_Determinism(t *testing.T) {
	seeds := rand.New(rand.NewSource(1))
	for round := 0; round < 10; round++ {
		seed := seeds.Int63()
		n := seeds.Intn(51)
		e := New(rules.Defaults(), WithInvariantChecks(true))
		s1, err := e.NewState(seed, twoPlayers())
		if err != nil {
			t.Fatalf("new state: %v", err)
		}
		s2, _ := e.NewState(seed, twoPlayers())
		log1 := playout(t, e, s1, seed, n, false)
		log2 := playout(t, e, s2, seed, n, false)
		for i := range log1 {
			if !bytes.Equal(log1[i], log2[i]) {
				t.Fatalf("round %d: action streams diverged at %d", round, i)
			}
		}
		if digest.StateHash(s1) != digest.StateHash(s2) {
			t.Fatalf("round %d seed %d: replays diverged", round, seed)
		}
	}
}

func TestProperty_InvariantsHoldUnderRandomActions(t *testing.T) {
	seeds := rand.New(rand.NewSource(2))
	for round := 0; round < 10; round++ {
		seed := seeds.Int63()
		e := New(rules.Defaults())
		s, err := e.NewState(seed, twoPlayers())
		if err != nil {
			t.Fatalf("new state: %v", err)
		}
		playout(t, e, s, seed, seeds.Intn(101), true)
	}
}

func TestProperty_EnumerationMatchesValidation(t *testing.T) {
	seeds := rand.New(rand.NewSource(3))
	for round := 0; round < 5; round++ {
		seed := seeds.Int63()
		e := New(rules.Defaults())
		s, err := e.NewState(seed, twoPlayers())
		if err != nil {
			t.Fatalf("new state: %v", err)
		}
		playout(t, e, s, seed, 30, false)

		rng := rand.New(rand.NewSource(seed))
		for _, player := range []state.PlayerID{0, 1} {
			legal := e.EnumerateLegalActions(s, player)
			listed := map[string]bool{}
			for _, a := range legal {
				if err := e.ValidateAction(s, player, a); err != nil {
					t.Fatalf("enumerated action rejected: %s: %v", action.Describe(a), err)
				}
				listed[string(action.MustEncode(a))] = true
			}
			again := e.EnumerateLegalActions(s, player)
			if len(again) != len(legal) {
				t.Fatalf("enumeration not deterministic")
			}
			for i := 0; i < 300; i++ {
				a := randomAction(rng, e, s, player)
				if _, free := a.(action.OfferDeal); free {
					continue
				}
				if e.ValidateAction(s, player, a) == nil && !listed[string(action.MustEncode(a))] {
					t.Fatalf("valid action missing from enumeration: %s", action.Describe(a))
				}
			}
		}
	}
}
