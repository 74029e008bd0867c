package invariants

import (
	"errors"
	"testing"

	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

// fixture builds a small legal world: two players, one city each and a
// warrior beside each city.
func fixture() *state.State {
	s := state.New(1, "test", 6, 4)
	for _, id := range []state.PlayerID{0, 1} {
		s.Order = append(s.Order, id)
		s.Players[id] = &state.Player{
			ID:          id,
			Alive:       true,
			Techs:       map[string]bool{},
			Policies:    map[int]string{},
			OpenBorders: map[state.PlayerID]bool{},
		}
	}
	c0 := state.CityID(s.AllocID())
	s.Cities[c0] = &state.City{ID: c0, Owner: 0, Tile: state.TileCoord{X: 0, Y: 0}, Population: 1}
	c1 := state.CityID(s.AllocID())
	s.Cities[c1] = &state.City{ID: c1, Owner: 1, Tile: state.TileCoord{X: 5, Y: 3}, Population: 1}
	u0 := state.UnitID(s.AllocID())
	s.Units[u0] = &state.Unit{ID: u0, Owner: 0, Kind: "warrior", Tile: state.TileCoord{X: 1, Y: 0}, HP: 100, MovesLeft: 2}
	u1 := state.UnitID(s.AllocID())
	s.Units[u1] = &state.Unit{ID: u1, Owner: 1, Kind: "warrior", Tile: state.TileCoord{X: 4, Y: 3}, HP: 100, MovesLeft: 2}
	return s
}

func expect(t *testing.T, s *state.State, name string) {
	t.Helper()
	err := Check(s, rules.Defaults())
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected %s violation, got %v", name, err)
	}
	if v.Name != name {
		t.Fatalf("expected %s violation, got %s: %s", name, v.Name, v.Detail)
	}
}

func TestCheck_FixtureIsValid(t *testing.T) {
	if err := Check(fixture(), rules.Defaults()); err != nil {
		t.Fatalf("fixture invalid: %v", err)
	}
}

func TestCheck_Stacking(t *testing.T) {
	s := fixture()
	id := state.UnitID(s.AllocID())
	s.Units[id] = &state.Unit{ID: id, Owner: 0, Kind: "scout", Tile: state.TileCoord{X: 1, Y: 0}, HP: 100}
	expect(t, s, NameStacking)

	s = fixture()
	id = state.UnitID(s.AllocID())
	s.Units[id] = &state.Unit{ID: id, Owner: 1, Kind: "worker", Tile: state.TileCoord{X: 1, Y: 0}, HP: 100}
	expect(t, s, NameStacking)

	s = fixture()
	id = state.UnitID(s.AllocID())
	s.Units[id] = &state.Unit{ID: id, Owner: 0, Kind: "worker", Tile: state.TileCoord{X: 1, Y: 0}, HP: 100}
	if err := Check(s, rules.Defaults()); err != nil {
		t.Fatalf("own combat and civilian may share a tile: %v", err)
	}
}

func TestCheck_Bounds(t *testing.T) {
	s := fixture()
	for _, u := range s.Units {
		if u.Owner == 0 {
			u.Tile = state.TileCoord{X: -1, Y: 0}
		}
	}
	expect(t, s, NameBounds)

	s = fixture()
	r := rules.Defaults()
	mountain, _ := r.TerrainIndex("mountain")
	s.SetTerrain(state.TileCoord{X: 1, Y: 0}, byte(mountain))
	expect(t, s, NameBounds)
}

func TestCheck_NonNegative(t *testing.T) {
	s := fixture()
	s.Players[1].Resources.Gold = -1
	expect(t, s, NameNonNegative)

	s = fixture()
	for _, c := range s.Cities {
		c.Population = 0
	}
	expect(t, s, NameNonNegative)

	s = fixture()
	for _, u := range s.Units {
		u.MovesLeft = 9
	}
	expect(t, s, NameNonNegative)
}

func TestCheck_Referential(t *testing.T) {
	s := fixture()
	for _, c := range s.Cities {
		c.Owner = 7
	}
	expect(t, s, NameReferential)

	s = fixture()
	for _, u := range s.Units {
		u.Kind = "dragon"
	}
	expect(t, s, NameReferential)
}

func TestCheck_IDAllocation(t *testing.T) {
	s := fixture()
	s.NextID = 2
	expect(t, s, NameIDAllocation)
}

func TestCheck_MapShape(t *testing.T) {
	s := fixture()
	s.Terrain = s.Terrain[:3]
	expect(t, s, NameMapShape)
}
