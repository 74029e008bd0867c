// Package digest computes the canonical state hash that clients bind their
// action identifiers to.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"dryas.ai/internal/sim/state"
)

// FormatTag versions the canonical field order below. Changing the order or
// the encoding of any field requires a new tag.
const FormatTag = "dryas/state/v1"

// Hash128 is the first 16 bytes of the sha256 of a state's canonical encoding.
type Hash128 [16]byte

func (h Hash128) String() string { return hex.EncodeToString(h[:]) }

// Prefix8 is the 8-byte prefix clients bind action identifiers to.
func (h Hash128) Prefix8() []byte {
	out := make([]byte, 8)
	copy(out, h[:8])
	return out
}

func (h Hash128) IsZero() bool { return h == Hash128{} }

func ParseHash128(s string) (Hash128, error) {
	var h Hash128
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// StateHash traverses s in a fixed order: header, terrain, players, cities,
// units, deals, each collection sorted by id. Map iteration order never
// reaches the hash.
func StateHash(s *state.State) Hash128 {
	h := sha256.New()
	var tmp [8]byte

	writeString(h, &tmp, FormatTag)
	writeString(h, &tmp, s.RulesVersion)
	writeU64(h, &tmp, uint64(s.Seed))
	writeU64(h, &tmp, uint64(s.Turn))
	writeU64(h, &tmp, uint64(s.Width))
	writeU64(h, &tmp, uint64(s.Height))
	writeU64(h, &tmp, uint64(len(s.Terrain)))
	h.Write(s.Terrain)
	writeU64(h, &tmp, s.NextID)

	digestOrder(h, &tmp, s.Order)
	digestPlayers(h, &tmp, s)
	digestCities(h, &tmp, s)
	digestUnits(h, &tmp, s)
	digestDeals(h, &tmp, s)

	var out Hash128
	copy(out[:], h.Sum(nil))
	return out
}

func writeU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeI64(h hashWriter, tmp *[8]byte, v int64) {
	writeU64(h, tmp, uint64(v))
}

// Strings are length-prefixed so adjacent fields cannot alias.
func writeString(h hashWriter, tmp *[8]byte, s string) {
	writeU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func writeBool(h hashWriter, v bool) {
	h.Write([]byte{BoolByte(v)})
}

func BoolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func writeTile(h hashWriter, tmp *[8]byte, t state.TileCoord) {
	writeI64(h, tmp, int64(t.X))
	writeI64(h, tmp, int64(t.Y))
}

func digestOrder(h hashWriter, tmp *[8]byte, order []state.PlayerID) {
	writeU64(h, tmp, uint64(len(order)))
	for _, id := range order {
		writeU64(h, tmp, uint64(id))
	}
}

func digestPlayers(h hashWriter, tmp *[8]byte, s *state.State) {
	ids := s.SortedPlayerIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		p := s.Players[id]
		writeU64(h, tmp, uint64(id))
		writeString(h, tmp, p.Name)
		writeBool(h, p.Alive)
		writeBool(h, p.EndedTurn)
		writeI64(h, tmp, p.Resources.Gold)
		writeI64(h, tmp, p.Resources.Production)
		writeI64(h, tmp, p.Resources.Science)
		writeI64(h, tmp, p.Resources.Culture)

		writeSortedSet(h, tmp, p.Techs)
		writeString(h, tmp, p.Research)
		writeI64(h, tmp, p.ResearchProgress)

		slots := make([]int, 0, len(p.Policies))
		for slot := range p.Policies {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		writeU64(h, tmp, uint64(len(slots)))
		for _, slot := range slots {
			writeI64(h, tmp, int64(slot))
			writeString(h, tmp, p.Policies[slot])
		}

		partners := make([]state.PlayerID, 0, len(p.OpenBorders))
		for pid, ok := range p.OpenBorders {
			if ok {
				partners = append(partners, pid)
			}
		}
		sort.Slice(partners, func(i, j int) bool { return partners[i] < partners[j] })
		writeU64(h, tmp, uint64(len(partners)))
		for _, pid := range partners {
			writeU64(h, tmp, uint64(pid))
		}
	}
}

func writeSortedSet(h hashWriter, tmp *[8]byte, set map[string]bool) {
	keys := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	writeU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		writeString(h, tmp, k)
	}
}

func digestCities(h hashWriter, tmp *[8]byte, s *state.State) {
	ids := s.SortedCityIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		c := s.Cities[id]
		writeU64(h, tmp, uint64(id))
		writeU64(h, tmp, uint64(c.Owner))
		writeTile(h, tmp, c.Tile)
		writeI64(h, tmp, int64(c.Population))
		writeI64(h, tmp, int64(c.FoodStore))
		// District order is build order, which is part of the content.
		writeU64(h, tmp, uint64(len(c.Districts)))
		for _, d := range c.Districts {
			writeString(h, tmp, d.Kind)
			writeTile(h, tmp, d.Tile)
		}
	}
}

func digestUnits(h hashWriter, tmp *[8]byte, s *state.State) {
	ids := s.SortedUnitIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		u := s.Units[id]
		writeU64(h, tmp, uint64(id))
		writeU64(h, tmp, uint64(u.Owner))
		writeString(h, tmp, u.Kind)
		writeTile(h, tmp, u.Tile)
		writeI64(h, tmp, int64(u.HP))
		writeI64(h, tmp, int64(u.MovesLeft))
		h.Write([]byte{BoolByte(u.Fortified), BoolByte(u.Attacked)})
	}
}

func digestDeals(h hashWriter, tmp *[8]byte, s *state.State) {
	ids := s.SortedDealIDs()
	writeU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		d := s.Deals[id]
		writeU64(h, tmp, uint64(id))
		writeU64(h, tmp, uint64(d.From))
		writeU64(h, tmp, uint64(d.To))
		writeString(h, tmp, d.Payload)
		writeU64(h, tmp, uint64(d.OfferedTurn))
	}
}
