package match

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PrefixLen is the number of leading state-hash bytes bound into an action id.
const PrefixLen = 8

const sep = 0x7C // '|'

// ComputeActionID is the lowercase hex SHA-256 of
// match_id | u64le(turn) | u64le(player) | action_bytes | prefix,
// where '|' is the single byte 0x7C. Clients must reproduce it bit for bit.
func ComputeActionID(matchID string, turn uint32, player uint64, actionBytes, prefix []byte) (string, error) {
	if len(prefix) != PrefixLen {
		return "", fmt.Errorf("prev_state_hash_prefix must be %d bytes, got %d", PrefixLen, len(prefix))
	}
	h := sha256.New()
	var u [8]byte
	h.Write([]byte(matchID))
	h.Write([]byte{sep})
	binary.LittleEndian.PutUint64(u[:], uint64(turn))
	h.Write(u[:])
	h.Write([]byte{sep})
	binary.LittleEndian.PutUint64(u[:], player)
	h.Write(u[:])
	h.Write([]byte{sep})
	h.Write(actionBytes)
	h.Write([]byte{sep})
	h.Write(prefix)
	return hex.EncodeToString(h.Sum(nil)), nil
}
