// Package state is the canonical in-memory form of one match's world.
//
// State is mutated only by the engine package. Everything else (transport,
// orchestration, AI) reads it, and must hold the owning match's read lock
// while doing so.
package state

import (
	"fmt"
	"sort"
)

type PlayerID uint64
type CityID uint64
type UnitID uint64
type DealID uint64

type TileCoord struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func (t TileCoord) String() string { return fmt.Sprintf("(%d,%d)", t.X, t.Y) }

type Resources struct {
	Gold       int64 `json:"gold"`
	Production int64 `json:"production"`
	Science    int64 `json:"science"`
	Culture    int64 `json:"culture"`
}

type Player struct {
	ID        PlayerID
	Name      string
	Alive     bool
	EndedTurn bool

	Resources Resources

	Techs            map[string]bool
	Research         string
	ResearchProgress int64

	// Policies maps slot index -> policy id.
	Policies    map[int]string
	OpenBorders map[PlayerID]bool
}

type District struct {
	Kind string
	Tile TileCoord
}

type City struct {
	ID         CityID
	Owner      PlayerID
	Tile       TileCoord
	Population int
	FoodStore  int
	Districts  []District
}

func (c *City) HasDistrict(kind string) bool {
	for _, d := range c.Districts {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

type Unit struct {
	ID        UnitID
	Owner     PlayerID
	Kind      string
	Tile      TileCoord
	HP        int
	MovesLeft int
	Fortified bool
	Attacked  bool
}

type Deal struct {
	ID          DealID
	From        PlayerID
	To          PlayerID
	Payload     string
	OfferedTurn uint32
}

type State struct {
	Turn         uint32
	RulesVersion string
	Seed         int64

	Width   int
	Height  int
	Terrain []byte // row-major, indexes into the ruleset's terrain list

	// Order is the player list in match-creation order.
	Order   []PlayerID
	Players map[PlayerID]*Player
	Cities  map[CityID]*City
	Units   map[UnitID]*Unit
	Deals   map[DealID]*Deal

	// NextID is shared by cities, units and deals; ids are never reused.
	NextID uint64
}

func New(seed int64, rulesVersion string, width, height int) *State {
	return &State{
		RulesVersion: rulesVersion,
		Seed:         seed,
		Width:        width,
		Height:       height,
		Terrain:      make([]byte, width*height),
		Players:      map[PlayerID]*Player{},
		Cities:       map[CityID]*City{},
		Units:        map[UnitID]*Unit{},
		Deals:        map[DealID]*Deal{},
		NextID:       1,
	}
}

func (s *State) InBounds(t TileCoord) bool {
	return t.X >= 0 && t.Y >= 0 && int(t.X) < s.Width && int(t.Y) < s.Height
}

// TerrainAt returns the terrain index of an in-bounds tile.
func (s *State) TerrainAt(t TileCoord) byte {
	return s.Terrain[int(t.Y)*s.Width+int(t.X)]
}

func (s *State) SetTerrain(t TileCoord, v byte) {
	s.Terrain[int(t.Y)*s.Width+int(t.X)] = v
}

func (s *State) AllocID() uint64 {
	id := s.NextID
	s.NextID++
	return id
}

func (s *State) SortedPlayerIDs() []PlayerID {
	out := make([]PlayerID, 0, len(s.Players))
	for id := range s.Players {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) SortedCityIDs() []CityID {
	out := make([]CityID, 0, len(s.Cities))
	for id := range s.Cities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) SortedUnitIDs() []UnitID {
	out := make([]UnitID, 0, len(s.Units))
	for id := range s.Units {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) SortedDealIDs() []DealID {
	out := make([]DealID, 0, len(s.Deals))
	for id := range s.Deals {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnitsAt returns the units on a tile in id order.
func (s *State) UnitsAt(t TileCoord) []*Unit {
	var out []*Unit
	for _, u := range s.Units {
		if u.Tile == t {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) CityAt(t TileCoord) *City {
	for _, c := range s.Cities {
		if c.Tile == t {
			return c
		}
	}
	return nil
}

// DistrictAt reports the city owning a district on t, if any.
func (s *State) DistrictAt(t TileCoord) (*City, bool) {
	for _, c := range s.Cities {
		for _, d := range c.Districts {
			if d.Tile == t {
				return c, true
			}
		}
	}
	return nil, false
}

func (s *State) LivingPlayers() []PlayerID {
	var out []PlayerID
	for _, id := range s.SortedPlayerIDs() {
		if s.Players[id].Alive {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *State) Clone() *State {
	c := &State{
		Turn:         s.Turn,
		RulesVersion: s.RulesVersion,
		Seed:         s.Seed,
		Width:        s.Width,
		Height:       s.Height,
		Terrain:      append([]byte(nil), s.Terrain...),
		Order:        append([]PlayerID(nil), s.Order...),
		Players:      make(map[PlayerID]*Player, len(s.Players)),
		Cities:       make(map[CityID]*City, len(s.Cities)),
		Units:        make(map[UnitID]*Unit, len(s.Units)),
		Deals:        make(map[DealID]*Deal, len(s.Deals)),
		NextID:       s.NextID,
	}
	for id, p := range s.Players {
		cp := *p
		cp.Techs = make(map[string]bool, len(p.Techs))
		for k, v := range p.Techs {
			cp.Techs[k] = v
		}
		cp.Policies = make(map[int]string, len(p.Policies))
		for k, v := range p.Policies {
			cp.Policies[k] = v
		}
		cp.OpenBorders = make(map[PlayerID]bool, len(p.OpenBorders))
		for k, v := range p.OpenBorders {
			cp.OpenBorders[k] = v
		}
		c.Players[id] = &cp
	}
	for id, city := range s.Cities {
		cc := *city
		cc.Districts = append([]District(nil), city.Districts...)
		c.Cities[id] = &cc
	}
	for id, u := range s.Units {
		cu := *u
		c.Units[id] = &cu
	}
	for id, d := range s.Deals {
		cd := *d
		c.Deals[id] = &cd
	}
	return c
}
