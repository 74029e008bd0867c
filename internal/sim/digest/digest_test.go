package digest

import (
	"testing"

	"dryas.ai/internal/sim/state"
)

func sample() *state.State {
	s := state.New(42, "0.1.0", 4, 3)
	s.Order = []state.PlayerID{0, 1}
	for _, id := range s.Order {
		s.Players[id] = &state.Player{
			ID:          id,
			Alive:       true,
			Techs:       map[string]bool{"agriculture": true, "mining": true},
			Policies:    map[int]string{0: "discipline"},
			OpenBorders: map[state.PlayerID]bool{},
		}
	}
	s.Units[5] = &state.Unit{ID: 5, Owner: 0, Kind: "warrior", Tile: state.TileCoord{X: 1, Y: 1}, HP: 100}
	s.Units[2] = &state.Unit{ID: 2, Owner: 1, Kind: "worker", Tile: state.TileCoord{X: 2, Y: 1}, HP: 100}
	s.NextID = 6
	return s
}

func TestStateHash_DeterministicAcrossClones(t *testing.T) {
	s := sample()
	h1 := StateHash(s)
	h2 := StateHash(s.Clone())
	if h1 != h2 {
		t.Fatalf("clone hash mismatch: %s vs %s", h1, h2)
	}
	for i := 0; i < 20; i++ {
		if StateHash(s) != h1 {
			t.Fatalf("hash unstable on iteration %d", i)
		}
	}
}

func TestStateHash_IndependentOfInsertionOrder(t *testing.T) {
	a := sample()
	b := state.New(42, "0.1.0", 4, 3)
	b.Order = []state.PlayerID{0, 1}
	// Insert in the opposite order.
	b.Units[2] = &state.Unit{ID: 2, Owner: 1, Kind: "worker", Tile: state.TileCoord{X: 2, Y: 1}, HP: 100}
	b.Units[5] = &state.Unit{ID: 5, Owner: 0, Kind: "warrior", Tile: state.TileCoord{X: 1, Y: 1}, HP: 100}
	for _, id := range []state.PlayerID{1, 0} {
		b.Players[id] = &state.Player{
			ID:          id,
			Alive:       true,
			Techs:       map[string]bool{"mining": true, "agriculture": true},
			Policies:    map[int]string{0: "discipline"},
			OpenBorders: map[state.PlayerID]bool{},
		}
	}
	b.NextID = 6
	if StateHash(a) != StateHash(b) {
		t.Fatalf("hash depends on insertion order")
	}
}

func TestStateHash_SensitiveToContent(t *testing.T) {
	base := StateHash(sample())

	s := sample()
	s.Units[5].HP = 99
	if StateHash(s) == base {
		t.Fatalf("hp change not reflected")
	}

	s = sample()
	s.Turn = 1
	if StateHash(s) == base {
		t.Fatalf("turn change not reflected")
	}

	s = sample()
	s.Players[1].EndedTurn = true
	if StateHash(s) == base {
		t.Fatalf("ended-turn change not reflected")
	}

	s = sample()
	s.Players[0].Techs["mining"] = false
	if StateHash(s) == base {
		t.Fatalf("tech set change not reflected")
	}
}

func TestParseHash128(t *testing.T) {
	h := StateHash(sample())
	got, err := ParseHash128(h.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != h {
		t.Fatalf("parse mismatch")
	}
	if _, err := ParseHash128("abcd"); err == nil {
		t.Fatalf("expected short hash rejected")
	}
	if len(h.Prefix8()) != 8 {
		t.Fatalf("prefix length")
	}
}
