package match

import (
	"sync"

	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/state"
)

type Status string

const (
	StatusCreated Status = "CREATED"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
)

// AckStore persists acknowledgements so duplicate detection survives a
// restart. Implementations must be safe for concurrent use.
type AckStore interface {
	GetAck(matchID, actionID string) (protocol.Ack, bool, error)
	PutAck(matchID, actionID string, turn uint32, ack protocol.Ack) error
}

// MemoryAckStore keeps acks in a map. It is the default AckStore.
type MemoryAckStore struct {
	mu   sync.Mutex
	acks map[string]protocol.Ack
}

func NewMemoryAckStore() *MemoryAckStore {
	return &MemoryAckStore{acks: map[string]protocol.Ack{}}
}

func (m *MemoryAckStore) GetAck(matchID, actionID string) (protocol.Ack, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.acks[matchID+"/"+actionID]
	return a, ok, nil
}

func (m *MemoryAckStore) PutAck(matchID, actionID string, _ uint32, ack protocol.Ack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[matchID+"/"+actionID] = ack
	return nil
}

const (
	EntryCreate  = "create"
	EntryAction  = "action"
	EntryAdvance = "advance"
)

// JournalEntry is one line of a match's write-ahead journal. Entries of a
// match have strictly increasing Seq starting at 1.
type JournalEntry struct {
	MatchID string `json:"match_id"`
	Seq     uint64 `json:"seq"`
	Kind    string `json:"kind"`
	Turn    uint32 `json:"turn"`

	// create
	Seed    int64    `json:"seed,omitempty"`
	Players []uint64 `json:"players,omitempty"`

	// action
	PlayerID    uint64        `json:"player_id,omitempty"`
	ActionID    string        `json:"action_id,omitempty"`
	ActionBytes []byte        `json:"action_bytes,omitempty"`
	Ack         *protocol.Ack `json:"ack,omitempty"`

	// StateHash is the hash after the entry was applied.
	StateHash string `json:"state_hash"`
	Status    Status `json:"status"`
}

type Journal interface {
	Append(e JournalEntry) error
}

// Checkpoint is a full copy of a match handed to a SnapshotSink. State is
// a private clone; the sink may keep it.
type Checkpoint struct {
	MatchID   string
	Players   []uint64
	Status    Status
	Seq       uint64
	StateHash string
	State     *state.State
}

type SnapshotSink interface {
	SaveSnapshot(cp Checkpoint) error
}

// TeeJournal appends to every journal in order and returns the first error.
// Later journals still see the entry when an earlier one fails.
func TeeJournal(js ...Journal) Journal { return teeJournal(js) }

type teeJournal []Journal

func (t teeJournal) Append(e JournalEntry) error {
	var first error
	for _, j := range t {
		if j == nil {
			continue
		}
		if err := j.Append(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
