package engine

import (
	"errors"
	"fmt"

	"dryas.ai/internal/sim/mathx"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

type PlayerSpec struct {
	ID   state.PlayerID
	Name string
}

const regionSalt = 0x5eed_0f_7e44a1

// NewState builds the turn-0 state for a match. The map and start positions
// are a pure function of seed, rules and the player list.
func (e *Engine) NewState(seed int64, players []PlayerSpec) (*state.State, error) {
	if len(players) < 2 {
		return nil, errors.New("need at least two players")
	}
	seen := map[state.PlayerID]bool{}
	for _, p := range players {
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate player id %d", p.ID)
		}
		seen[p.ID] = true
	}
	r := e.rules
	s := state.New(seed, r.Version, r.Map.Width, r.Map.Height)
	generateTerrain(s, r)

	for _, ps := range players {
		name := ps.Name
		if name == "" {
			name = fmt.Sprintf("player-%d", ps.ID)
		}
		p := &state.Player{
			ID:    ps.ID,
			Name:  name,
			Alive: true,
			Resources: state.Resources{
				Gold:       r.StartResources.Gold,
				Production: r.StartResources.Production,
				Science:    r.StartResources.Science,
				Culture:    r.StartResources.Culture,
			},
			Techs:       map[string]bool{},
			Policies:    map[int]string{},
			OpenBorders: map[state.PlayerID]bool{},
		}
		for _, t := range r.StartTechs {
			p.Techs[t] = true
		}
		s.Order = append(s.Order, ps.ID)
		s.Players[ps.ID] = p
	}

	for i, pid := range s.Order {
		tile, ok := capitalSite(s, r, i, len(s.Order))
		if !ok {
			return nil, fmt.Errorf("no passable start tile for player %d", pid)
		}
		cid := state.CityID(s.AllocID())
		s.Cities[cid] = &state.City{ID: cid, Owner: pid, Tile: tile, Population: 1}
		for _, kind := range r.StartUnits {
			def, _ := r.Unit(kind)
			at, ok := placement(s, r, pid, def, tile)
			if !ok {
				return nil, fmt.Errorf("no room for start unit %s of player %d", kind, pid)
			}
			uid := state.UnitID(s.AllocID())
			s.Units[uid] = &state.Unit{ID: uid, Owner: pid, Kind: kind, Tile: at, HP: 100, MovesLeft: def.Moves}
		}
	}
	return s, nil
}

func generateTerrain(s *state.State, r *rules.Rules) {
	total := 0
	for _, t := range r.Terrains {
		total += t.Weight
	}
	pick := func(h uint64) byte {
		v := int(h % uint64(total))
		for i, t := range r.Terrains {
			if v < t.Weight {
				return byte(i)
			}
			v -= t.Weight
		}
		return 0
	}
	rs := r.Map.RegionSize
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			h := mathx.Hash2(s.Seed, x, y)
			var t byte
			if mathx.Permille(h) < r.Map.RegionPermille {
				t = pick(mathx.Hash2(s.Seed^regionSalt, x/rs, y/rs))
			} else {
				t = pick(h >> 10)
			}
			s.SetTerrain(state.TileCoord{X: int32(x), Y: int32(y)}, t)
		}
	}
}

func passableAt(s *state.State, r *rules.Rules, t state.TileCoord) bool {
	if !s.InBounds(t) {
		return false
	}
	def, ok := r.Terrain(s.TerrainAt(t))
	return ok && def.Passable
}

// capitalSite spreads capitals along the map's middle row and searches
// outward in rings from each anchor. The first pass keeps capitals apart;
// the second only requires a free passable tile.
func capitalSite(s *state.State, r *rules.Rules, i, n int) (state.TileCoord, bool) {
	ax := (2*i + 1) * s.Width / (2 * n)
	ay := s.Height / 2
	if i%2 == 1 {
		ay = s.Height/2 - 1
	}
	spacing := 2*r.CityRadius + 1
	maxRing := mathx.MaxInt(s.Width, s.Height)
	for pass := 0; pass < 2; pass++ {
		for ring := 0; ring <= maxRing; ring++ {
			for _, t := range ringTiles(ax, ay, ring) {
				if !passableAt(s, r, t) || s.CityAt(t) != nil {
					continue
				}
				if pass == 0 && nearCity(s, t, spacing) {
					continue
				}
				return t, true
			}
		}
	}
	return state.TileCoord{}, false
}

func nearCity(s *state.State, t state.TileCoord, dist int) bool {
	for _, id := range s.SortedCityIDs() {
		c := s.Cities[id]
		if distance(c.Tile, t) < dist {
			return true
		}
	}
	return false
}

// ringTiles lists the tiles at exactly Chebyshev distance ring from (cx,cy)
// in row-major order.
func ringTiles(cx, cy, ring int) []state.TileCoord {
	if ring == 0 {
		return []state.TileCoord{{X: int32(cx), Y: int32(cy)}}
	}
	var out []state.TileCoord
	for y := cy - ring; y <= cy+ring; y++ {
		for x := cx - ring; x <= cx+ring; x++ {
			if mathx.Chebyshev(x, y, cx, cy) == ring {
				out = append(out, state.TileCoord{X: int32(x), Y: int32(y)})
			}
		}
	}
	return out
}

func distance(a, b state.TileCoord) int {
	return mathx.Chebyshev(int(a.X), int(a.Y), int(b.X), int(b.Y))
}

// neighbours returns the 8 adjacent tiles in row-major order, unfiltered.
func neighbours(t state.TileCoord) []state.TileCoord {
	out := make([]state.TileCoord, 0, 8)
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, state.TileCoord{X: t.X + dx, Y: t.Y + dy})
		}
	}
	return out
}

// canOccupy reports whether a unit of def owned by owner may end on t.
func canOccupy(s *state.State, r *rules.Rules, owner state.PlayerID, def rules.UnitDef, t state.TileCoord) bool {
	if !passableAt(s, r, t) {
		return false
	}
	if c := s.CityAt(t); c != nil && c.Owner != owner {
		return false
	}
	for _, u := range s.UnitsAt(t) {
		if u.Owner != owner {
			return false
		}
		other, _ := r.Unit(u.Kind)
		if other.Combat == def.Combat {
			return false
		}
	}
	return true
}

// placement finds where a new unit appears: the city tile, else the first
// free neighbour in row-major order.
func placement(s *state.State, r *rules.Rules, owner state.PlayerID, def rules.UnitDef, at state.TileCoord) (state.TileCoord, bool) {
	if canOccupy(s, r, owner, def, at) {
		return at, true
	}
	for _, n := range neighbours(at) {
		if canOccupy(s, r, owner, def, n) {
			return n, true
		}
	}
	return state.TileCoord{}, false
}
