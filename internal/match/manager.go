// Package match owns every running match: it serializes mutations per
// match, binds action ids to their content and replays stored acks for
// duplicate submissions.
package match

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/digest"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/state"
)

type DealValidator interface {
	ValidateDeal(payload []byte) error
}

// Negotiator decides whether player accepts a deal payload written from the
// proposer's side. A non-nil counter is offered back on rejection.
type Negotiator interface {
	EvaluateDeal(s *state.State, player state.PlayerID, payload []byte) (accepted bool, reason string, counter []byte)
}

type Options struct {
	Engine     *engine.Engine
	Validator  DealValidator
	Negotiator Negotiator

	// Acks defaults to an in-memory store.
	Acks      AckStore
	Journal   Journal
	Snapshots SnapshotSink

	// Events receives every advance's batch while the match lock is held.
	// It must not block or call back into the Manager.
	Events func(protocol.EventBatch)

	Logger *log.Logger
}

// record is one match. Its fields are guarded by mu; the manager map only
// guards lookup and insertion.
type record struct {
	mu sync.RWMutex

	id      string
	players []state.PlayerID
	status  Status
	state   *state.State
	hash    digest.Hash128
	acks    map[string]protocol.Ack
	seq     uint64
}

type Manager struct {
	engine     *engine.Engine
	validator  DealValidator
	negotiator Negotiator
	acks       AckStore
	journal    Journal
	snapshots  SnapshotSink
	events     func(protocol.EventBatch)
	logger     *log.Logger

	mu      sync.RWMutex
	matches map[string]*record

	stats counters
}

type counters struct {
	matches             atomic.Uint64
	submissions         atomic.Uint64
	accepted            atomic.Uint64
	rejected            atomic.Uint64
	duplicates          atomic.Uint64
	mismatches          atomic.Uint64
	invariantViolations atomic.Uint64
	advances            atomic.Uint64
	persistErrors       atomic.Uint64
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("match: nil engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[match] ", log.LstdFlags|log.Lmicroseconds)
	}
	acks := opts.Acks
	if acks == nil {
		acks = NewMemoryAckStore()
	}
	return &Manager{
		engine:     opts.Engine,
		validator:  opts.Validator,
		negotiator: opts.Negotiator,
		acks:       acks,
		journal:    opts.Journal,
		snapshots:  opts.Snapshots,
		events:     opts.Events,
		logger:     logger,
		matches:    map[string]*record{},
	}, nil
}

func (m *Manager) Engine() *engine.Engine { return m.engine }

func (m *Manager) lookup(matchID string) (*record, error) {
	m.mu.RLock()
	rec := m.matches[matchID]
	m.mu.RUnlock()
	if rec == nil {
		return nil, protocol.NewError(protocol.ErrMatchNotFound, "unknown match "+matchID)
	}
	return rec, nil
}

func (m *Manager) insert(rec *record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.matches[rec.id]; dup {
		return protocol.NewError(protocol.ErrConflict, "match "+rec.id+" already exists")
	}
	m.matches[rec.id] = rec
	m.stats.matches.Add(1)
	return nil
}

// MatchIDs lists every match in lexical order.
func (m *Manager) MatchIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.matches))
	for id := range m.matches {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Created struct {
	MatchID      string
	Turn         uint32
	StateHash    digest.Hash128
	RulesVersion string
	RulesDigest  string
	HashFormat   string
}

// CreateMatch builds the turn-0 state for seed and players. An empty
// matchID gets a generated one; reusing an existing id is E_CONFLICT.
func (m *Manager) CreateMatch(ctx context.Context, matchID string, seed int64, players []uint64) (Created, error) {
	if err := ctx.Err(); err != nil {
		return Created{}, err
	}
	if matchID == "" {
		matchID = "match_" + uuid.NewString()
	}
	specs := make([]engine.PlayerSpec, 0, len(players))
	ids := make([]state.PlayerID, 0, len(players))
	for _, p := range players {
		specs = append(specs, engine.PlayerSpec{ID: state.PlayerID(p), Name: fmt.Sprintf("player-%d", p)})
		ids = append(ids, state.PlayerID(p))
	}
	s, err := m.engine.NewState(seed, specs)
	if err != nil {
		return Created{}, protocol.NewError(protocol.ErrBadRequest, err.Error())
	}
	rec := &record{
		id:      matchID,
		players: ids,
		status:  StatusCreated,
		state:   s,
		hash:    digest.StateHash(s),
		acks:    map[string]protocol.Ack{},
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := m.insert(rec); err != nil {
		return Created{}, err
	}
	m.record(rec, JournalEntry{Kind: EntryCreate, Seed: seed, Players: append([]uint64(nil), players...)})
	m.checkpoint(rec)
	m.logger.Printf("created match=%s seed=%d players=%v hash=%s", matchID, seed, players, rec.hash)
	r := m.engine.Rules()
	return Created{
		MatchID:      matchID,
		Turn:         s.Turn,
		StateHash:    rec.hash,
		RulesVersion: r.Version,
		RulesDigest:  r.Digest(),
		HashFormat:   digest.FormatTag,
	}, nil
}

type Submission struct {
	MatchID             string
	Turn                uint32
	PlayerID            uint64
	ActionID            string
	ActionBytes         []byte
	PrevStateHashPrefix []byte
}

// SubmitAction applies an action at most once per action id. Returned acks
// are rejections of the action; returned errors are rejections of the
// request and leave no trace.
func (m *Manager) SubmitAction(ctx context.Context, sub Submission) (protocol.Ack, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Ack{}, err
	}
	m.stats.submissions.Add(1)
	want, err := ComputeActionID(sub.MatchID, sub.Turn, sub.PlayerID, sub.ActionBytes, sub.PrevStateHashPrefix)
	if err != nil {
		return protocol.Ack{}, protocol.NewError(protocol.ErrBadRequest, err.Error())
	}
	if want != sub.ActionID {
		m.stats.mismatches.Add(1)
		return protocol.Ack{}, protocol.NewError(protocol.ErrActionIDMismatch, "action_id does not match submitted content")
	}
	rec, err := m.lookup(sub.MatchID)
	if err != nil {
		return protocol.Ack{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ack, ok := rec.acks[sub.ActionID]; ok {
		m.stats.duplicates.Add(1)
		return ack, nil
	}
	ack, ok, err := m.acks.GetAck(rec.id, sub.ActionID)
	if err != nil {
		return protocol.Ack{}, protocol.NewError(protocol.ErrInternal, "ack store: "+err.Error())
	}
	if ok {
		rec.acks[sub.ActionID] = ack
		m.stats.duplicates.Add(1)
		return ack, nil
	}
	if rec.status == StatusEnded {
		return protocol.Ack{}, protocol.NewError(protocol.ErrMatchEnded, "match "+rec.id+" has ended")
	}

	a, err := action.Decode(sub.ActionBytes)
	if err != nil {
		m.stats.rejected.Add(1)
		return rejectedAck(sub.ActionID, protocol.ErrBadRequest, err.Error()), nil
	}
	if sub.Turn != rec.state.Turn {
		m.stats.rejected.Add(1)
		return rejectedAck(sub.ActionID, protocol.ErrStale, fmt.Sprintf("turn %d is not current turn %d", sub.Turn, rec.state.Turn)), nil
	}
	if !bytes.Equal(sub.PrevStateHashPrefix, rec.hash.Prefix8()) {
		m.stats.rejected.Add(1)
		return rejectedAck(sub.ActionID, protocol.ErrStale, "prev_state_hash_prefix does not match current state"), nil
	}

	player := state.PlayerID(sub.PlayerID)
	if _, err := m.engine.ApplyAction(rec.state, player, a); err != nil {
		var inv *engine.InvariantViolation
		if errors.As(err, &inv) {
			m.invariantViolation(rec, inv)
			return protocol.Ack{}, protocol.NewError(protocol.ErrInvariant, inv.Error())
		}
		var bad *engine.InvalidAction
		if !errors.As(err, &bad) {
			return protocol.Ack{}, protocol.NewError(protocol.ErrInternal, err.Error())
		}
		m.stats.rejected.Add(1)
		ack = rejectedAck(sub.ActionID, bad.Code, bad.Reason)
	} else {
		m.stats.accepted.Add(1)
		rec.hash = digest.StateHash(rec.state)
		if rec.status == StatusCreated {
			rec.status = StatusActive
		}
		ack = protocol.Ack{Accepted: true, ActionID: sub.ActionID, NewStateHash: rec.hash.String()}
	}

	rec.acks[sub.ActionID] = ack
	if err := m.acks.PutAck(rec.id, sub.ActionID, sub.Turn, ack); err != nil {
		m.stats.persistErrors.Add(1)
		m.logger.Printf("match=%s store ack %s: %v", rec.id, sub.ActionID, err)
	}
	stored := ack
	m.record(rec, JournalEntry{
		Kind:        EntryAction,
		Turn:        sub.Turn,
		PlayerID:    sub.PlayerID,
		ActionID:    sub.ActionID,
		ActionBytes: append([]byte(nil), sub.ActionBytes...),
		Ack:         &stored,
	})
	return ack, nil
}

func rejectedAck(actionID, code, reason string) protocol.Ack {
	return protocol.Ack{Accepted: false, Code: code, Error: reason, ActionID: actionID}
}

// Advance ends the current turn for everyone. It is not idempotent: every
// call moves the match forward one turn.
func (m *Manager) Advance(ctx context.Context, matchID string) (protocol.EventBatch, error) {
	if err := ctx.Err(); err != nil {
		return protocol.EventBatch{}, err
	}
	rec, err := m.lookup(matchID)
	if err != nil {
		return protocol.EventBatch{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == StatusEnded {
		return protocol.EventBatch{}, protocol.NewError(protocol.ErrMatchEnded, "match "+rec.id+" has ended")
	}
	fx, err := m.engine.EndTurn(rec.state)
	if err != nil {
		var inv *engine.InvariantViolation
		if errors.As(err, &inv) {
			m.invariantViolation(rec, inv)
			return protocol.EventBatch{}, protocol.NewError(protocol.ErrInvariant, inv.Error())
		}
		return protocol.EventBatch{}, protocol.NewError(protocol.ErrInternal, err.Error())
	}
	m.stats.advances.Add(1)
	events := make([]protocol.Event, 0, len(fx.Events)+1)
	for _, ev := range fx.Events {
		events = append(events, protocol.Event{Type: ev.Type, Player: uint64(ev.Player), Text: ev.Text})
	}
	rec.status = StatusActive
	if m.engine.GameOver(rec.state) {
		rec.status = StatusEnded
		text := "no winner"
		var winner uint64
		if w, ok := m.engine.Winner(rec.state); ok {
			winner = uint64(w)
			text = fmt.Sprintf("player %d wins", w)
		}
		events = append(events, protocol.Event{Type: "game_over", Player: winner, Text: text})
		m.logger.Printf("match=%s ended at turn %d: %s", rec.id, rec.state.Turn, text)
	}
	rec.hash = digest.StateHash(rec.state)
	m.record(rec, JournalEntry{Kind: EntryAdvance})
	m.checkpoint(rec)
	batch := protocol.EventBatch{
		MatchID:   rec.id,
		Turn:      rec.state.Turn,
		Events:    events,
		StateHash: rec.hash.String(),
		Status:    string(rec.status),
	}
	if m.events != nil {
		m.events(batch)
	}
	return batch, nil
}

// Negotiate asks the recipient's negotiator about a deal. Nothing is
// stored; a schema failure is a rejection, not an error.
func (m *Manager) Negotiate(ctx context.Context, matchID string, from, to uint64, payload []byte) (protocol.DealResponse, error) {
	if err := ctx.Err(); err != nil {
		return protocol.DealResponse{}, err
	}
	rec, err := m.lookup(matchID)
	if err != nil {
		return protocol.DealResponse{}, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if _, ok := rec.state.Players[state.PlayerID(from)]; !ok {
		return protocol.DealResponse{}, protocol.NewError(protocol.ErrBadRequest, fmt.Sprintf("unknown player %d", from))
	}
	if _, ok := rec.state.Players[state.PlayerID(to)]; !ok || from == to {
		return protocol.DealResponse{}, protocol.NewError(protocol.ErrBadRequest, fmt.Sprintf("bad recipient %d", to))
	}
	if m.validator != nil {
		if err := m.validator.ValidateDeal(payload); err != nil {
			return protocol.DealResponse{Accepted: false, Reason: err.Error()}, nil
		}
	}
	if m.negotiator == nil {
		return protocol.DealResponse{Accepted: false, Reason: "no negotiator configured"}, nil
	}
	ok, reason, counter := m.negotiator.EvaluateDeal(rec.state, state.PlayerID(to), payload)
	return protocol.DealResponse{Accepted: ok, Reason: reason, CounterOfferJSON: string(counter)}, nil
}

// View runs fn with the match state under the read lock. fn must not keep
// s or mutate it.
func (m *Manager) View(matchID string, fn func(s *state.State, status Status)) error {
	rec, err := m.lookup(matchID)
	if err != nil {
		return err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	fn(rec.state, rec.status)
	return nil
}

func (m *Manager) invariantViolation(rec *record, inv *engine.InvariantViolation) {
	m.stats.invariantViolations.Add(1)
	m.logger.Printf("INVARIANT VIOLATION match=%s turn=%d hash=%s: %v", rec.id, rec.state.Turn, rec.hash, inv)
}

// record appends e to the journal with the next sequence number. Caller
// holds rec.mu.
func (m *Manager) record(rec *record, e JournalEntry) {
	rec.seq++
	if m.journal == nil {
		return
	}
	e.MatchID = rec.id
	e.Seq = rec.seq
	if e.Kind != EntryAction {
		e.Turn = rec.state.Turn
	}
	e.StateHash = rec.hash.String()
	e.Status = rec.status
	if err := m.journal.Append(e); err != nil {
		m.stats.persistErrors.Add(1)
		m.logger.Printf("match=%s journal seq=%d: %v", rec.id, e.Seq, err)
	}
}

// checkpoint hands a copy of the match to the snapshot sink. Caller holds
// rec.mu.
func (m *Manager) checkpoint(rec *record) {
	if m.snapshots == nil {
		return
	}
	if err := m.snapshots.SaveSnapshot(rec.checkpoint()); err != nil {
		m.stats.persistErrors.Add(1)
		m.logger.Printf("match=%s snapshot turn=%d: %v", rec.id, rec.state.Turn, err)
	}
}

func (rec *record) checkpoint() Checkpoint {
	players := make([]uint64, len(rec.players))
	for i, p := range rec.players {
		players[i] = uint64(p)
	}
	return Checkpoint{
		MatchID:   rec.id,
		Players:   players,
		Status:    rec.status,
		Seq:       rec.seq,
		StateHash: rec.hash.String(),
		State:     rec.state.Clone(),
	}
}

// CheckpointAll snapshots every match, e.g. on shutdown.
func (m *Manager) CheckpointAll() {
	for _, id := range m.MatchIDs() {
		rec, err := m.lookup(id)
		if err != nil {
			continue
		}
		rec.mu.RLock()
		m.checkpoint(rec)
		rec.mu.RUnlock()
	}
}

type Metrics struct {
	Matches             uint64
	Submissions         uint64
	Accepted            uint64
	Rejected            uint64
	Duplicates          uint64
	Mismatches          uint64
	InvariantViolations uint64
	Advances            uint64
	PersistErrors       uint64
}

func (m *Manager) Metrics() Metrics {
	return Metrics{
		Matches:             m.stats.matches.Load(),
		Submissions:         m.stats.submissions.Load(),
		Accepted:            m.stats.accepted.Load(),
		Rejected:            m.stats.rejected.Load(),
		Duplicates:          m.stats.duplicates.Load(),
		Mismatches:          m.stats.mismatches.Load(),
		InvariantViolations: m.stats.invariantViolations.Load(),
		Advances:            m.stats.advances.Load(),
		PersistErrors:       m.stats.persistErrors.Load(),
	}
}
