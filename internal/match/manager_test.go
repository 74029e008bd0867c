package match

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"dryas.ai/internal/ai"
	"dryas.ai/internal/deal"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/digest"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/rules"
)

type memJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *memJournal) Append(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}

type memSnapshots struct {
	mu   sync.Mutex
	last map[string]Checkpoint
}

func (s *memSnapshots) SaveSnapshot(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = map[string]Checkpoint{}
	}
	s.last[cp.MatchID] = cp
	return nil
}

func newManager(t *testing.T, r *rules.Rules, opts Options) *Manager {
	t.Helper()
	if r == nil {
		r = rules.Defaults()
	}
	e := engine.New(r, engine.WithInvariantChecks(true))
	opts.Engine = e
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Validator == nil {
		opts.Validator = deal.MustValidator()
	}
	if opts.Negotiator == nil {
		opts.Negotiator = ai.NewNegotiator(e, deal.MustValidator())
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func errCode(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// prepare builds a correctly bound submission against the current state.
func prepare(t *testing.T, m *Manager, matchID string, player uint64, payload []byte) Submission {
	t.Helper()
	obs, err := m.GetObservation(context.Background(), matchID, player)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	h, err := digest.ParseHash128(obs.StateHash)
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}
	sub := Submission{
		MatchID:             matchID,
		Turn:                obs.Turn,
		PlayerID:            player,
		ActionBytes:         payload,
		PrevStateHashPrefix: h.Prefix8(),
	}
	sub.ActionID, err = ComputeActionID(sub.MatchID, sub.Turn, sub.PlayerID, sub.ActionBytes, sub.PrevStateHashPrefix)
	if err != nil {
		t.Fatalf("action id: %v", err)
	}
	return sub
}

func currentHash(t *testing.T, m *Manager, matchID string) string {
	t.Helper()
	obs, err := m.GetObservation(context.Background(), matchID, 0)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	return obs.StateHash
}

func TestComputeActionID(t *testing.T) {
	prefix := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	a, err := ComputeActionID("m", 3, 1, []byte(`{"type":"END_TURN"}`), prefix)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, _ := ComputeActionID("m", 3, 1, []byte(`{"type":"END_TURN"}`), prefix)
	if a != b || len(a) != 64 {
		t.Fatalf("unstable or malformed id %q %q", a, b)
	}
	if _, err := ComputeActionID("m", 3, 1, nil, prefix[:7]); err == nil {
		t.Fatalf("expected short prefix rejected")
	}
	// The separator keeps "m1"+turn apart from "m"+"1"-prefixed content.
	c, _ := ComputeActionID("m1", 3, 1, []byte(`x`), prefix)
	d, _ := ComputeActionID("m", 3, 1, []byte(`1x`), prefix)
	if c == d {
		t.Fatalf("ids collide across field boundaries")
	}
}

func TestEndToEnd_Seed42(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	created, err := m.CreateMatch(ctx, "e2e", 42, []uint64{0, 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Turn != 0 || created.StateHash.IsZero() {
		t.Fatalf("unexpected created %+v", created)
	}
	h0 := created.StateHash.String()

	sub := prepare(t, m, "e2e", 0, action.MustEncode(action.EndTurn{}))
	ack1, err := m.SubmitAction(ctx, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ack1.Accepted || ack1.NewStateHash == "" || ack1.NewStateHash == h0 || ack1.ActionID != sub.ActionID {
		t.Fatalf("unexpected ack %+v (h0=%s)", ack1, h0)
	}
	h1 := currentHash(t, m, "e2e")

	ack2, err := m.SubmitAction(ctx, sub)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	b1, _ := json.Marshal(ack1)
	b2, _ := json.Marshal(ack2)
	if string(b1) != string(b2) {
		t.Fatalf("acks differ:\n%s\n%s", b1, b2)
	}
	if currentHash(t, m, "e2e") != h1 {
		t.Fatalf("duplicate submission changed state")
	}
	if got := m.Metrics().Duplicates; got != 1 {
		t.Fatalf("duplicates=%d", got)
	}

	batch, err := m.Advance(ctx, "e2e")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if batch.Turn != 1 {
		t.Fatalf("advance turn=%d, want 1", batch.Turn)
	}
	// A late retry of the first submission still gets its original ack.
	ack3, err := m.SubmitAction(ctx, sub)
	if err != nil {
		t.Fatalf("late resubmit: %v", err)
	}
	if ack3 != ack1 {
		t.Fatalf("late retry ack %+v != %+v", ack3, ack1)
	}
	obs, _ := m.GetObservation(ctx, "e2e", 0)
	if obs.Turn != 1 || obs.StateHash != batch.StateHash {
		t.Fatalf("observation turn=%d hash=%s after advance %+v", obs.Turn, obs.StateHash, batch)
	}
}

func TestSubmit_DecodeFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "bad", 42, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := currentHash(t, m, "bad")
	for _, payload := range []string{`not json`, `{"type":"TELEPORT"}`, `{"type":"FORTIFY","unit":1,"extra":true}`} {
		sub := prepare(t, m, "bad", 0, []byte(payload))
		ack, err := m.SubmitAction(ctx, sub)
		if err != nil {
			t.Fatalf("submit %s: %v", payload, err)
		}
		if ack.Accepted || ack.Error == "" || ack.NewStateHash != "" {
			t.Fatalf("payload %s: unexpected ack %+v", payload, ack)
		}
	}
	if currentHash(t, m, "bad") != before {
		t.Fatalf("decode failures changed state")
	}
}

func TestSubmit_IdentifierBinding(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "bind", 7, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateMatch(ctx, "bind2", 7, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	base := prepare(t, m, "bind", 0, action.MustEncode(action.EndTurn{}))
	variants := []func(s *Submission){
		func(s *Submission) { s.MatchID = "bind2" },
		func(s *Submission) { s.Turn++ },
		func(s *Submission) { s.PlayerID = 1 },
		func(s *Submission) { s.ActionBytes = []byte(`{"type":"END_TURN" }`) },
		func(s *Submission) { s.PrevStateHashPrefix = []byte{9, 9, 9, 9, 9, 9, 9, 9} },
	}
	before := currentHash(t, m, "bind")
	for i, mutate := range variants {
		sub := base
		sub.ActionBytes = append([]byte(nil), base.ActionBytes...)
		mutate(&sub)
		_, err := m.SubmitAction(ctx, sub)
		if errCode(err) != protocol.ErrActionIDMismatch {
			t.Fatalf("variant %d: expected mismatch, got %v", i, err)
		}
	}
	if got := m.Metrics().Mismatches; got != uint64(len(variants)) {
		t.Fatalf("mismatches=%d", got)
	}
	if currentHash(t, m, "bind") != before {
		t.Fatalf("mismatched submissions changed state")
	}
}

func TestSubmit_BoundaryErrors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	prefix := make([]byte, PrefixLen)
	id, _ := ComputeActionID("ghost", 0, 0, []byte(`{"type":"END_TURN"}`), prefix)
	_, err := m.SubmitAction(ctx, Submission{MatchID: "ghost", ActionID: id, ActionBytes: []byte(`{"type":"END_TURN"}`), PrevStateHashPrefix: prefix})
	if errCode(err) != protocol.ErrMatchNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.GetObservation(ctx, "ghost", 0); errCode(err) != protocol.ErrMatchNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.Advance(ctx, "ghost"); errCode(err) != protocol.ErrMatchNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.CreateMatch(ctx, "dup", 1, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateMatch(ctx, "dup", 1, []uint64{0, 1}); errCode(err) != protocol.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := m.CreateMatch(ctx, "", 1, []uint64{0}); errCode(err) != protocol.ErrBadRequest {
		t.Fatalf("expected bad request for one player, got %v", err)
	}
	c, err := m.CreateMatch(ctx, "", 1, []uint64{0, 1})
	if err != nil || c.MatchID == "" {
		t.Fatalf("generated id: %+v %v", c, err)
	}
	if _, err := m.GetObservation(ctx, "dup", 5); errCode(err) != protocol.ErrBadRequest {
		t.Fatalf("expected bad request for unknown player, got %v", err)
	}
}

func TestSubmit_StaleIsNotStored(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "stale", 3, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	old := prepare(t, m, "stale", 1, action.MustEncode(action.EndTurn{}))
	if _, err := m.SubmitAction(ctx, prepare(t, m, "stale", 0, action.MustEncode(action.EndTurn{}))); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ack, err := m.SubmitAction(ctx, old)
	if err != nil {
		t.Fatalf("stale submit: %v", err)
	}
	if ack.Accepted || ack.Code != protocol.ErrStale {
		t.Fatalf("expected stale ack, got %+v", ack)
	}
	// Not stored: a fresh submission of the same content is judged again.
	fresh := prepare(t, m, "stale", 1, action.MustEncode(action.EndTurn{}))
	ack, err = m.SubmitAction(ctx, fresh)
	if err != nil || !ack.Accepted {
		t.Fatalf("fresh submit: %+v %v", ack, err)
	}
	if m.Metrics().Duplicates != 0 {
		t.Fatalf("stale ack was replayed as a duplicate")
	}
}

func TestSubmit_EngineRejectionIsStored(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "rej", 3, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sub := prepare(t, m, "rej", 0, action.MustEncode(action.Fortify{Unit: 999999}))
	ack, err := m.SubmitAction(ctx, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.Accepted || ack.Code == "" || ack.NewStateHash != "" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	again, _ := m.SubmitAction(ctx, sub)
	if again != ack || m.Metrics().Duplicates != 1 {
		t.Fatalf("rejection not replayed: %+v", again)
	}
}

func TestSubmit_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "race", 11, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateMatch(ctx, "other", 12, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sub := prepare(t, m, "race", 0, action.MustEncode(action.EndTurn{}))
	const n = 16
	acks := make([]protocol.Ack, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack, err := m.SubmitAction(ctx, sub)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			acks[i] = ack
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetObservation(ctx, "race", 1); err != nil {
				t.Errorf("observe: %v", err)
			}
			if _, err := m.Advance(ctx, "other"); err != nil {
				t.Errorf("advance other: %v", err)
			}
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if acks[i] != acks[0] {
			t.Fatalf("ack %d differs: %+v vs %+v", i, acks[i], acks[0])
		}
	}
	if !acks[0].Accepted {
		t.Fatalf("expected accepted ack, got %+v", acks[0])
	}
	met := m.Metrics()
	if met.Accepted != 1 || met.Duplicates != n-1 {
		t.Fatalf("metrics %+v", met)
	}
}

func TestAdvance_EndsMatch(t *testing.T) {
	ctx := context.Background()
	r := rules.Defaults()
	r.MaxTurns = 2
	snaps := &memSnapshots{}
	m := newManager(t, r, Options{Snapshots: snaps})
	if _, err := m.CreateMatch(ctx, "short", 5, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	b1, err := m.Advance(ctx, "short")
	if err != nil || b1.Status != string(StatusActive) {
		t.Fatalf("advance 1: %+v %v", b1, err)
	}
	b2, err := m.Advance(ctx, "short")
	if err != nil {
		t.Fatalf("advance 2: %v", err)
	}
	if b2.Status != string(StatusEnded) || len(b2.Events) == 0 || b2.Events[len(b2.Events)-1].Type != "game_over" {
		t.Fatalf("expected game over batch, got %+v", b2)
	}
	if _, err := m.Advance(ctx, "short"); errCode(err) != protocol.ErrMatchEnded {
		t.Fatalf("expected ended, got %v", err)
	}
	sub := prepare(t, m, "short", 0, action.MustEncode(action.EndTurn{}))
	if _, err := m.SubmitAction(ctx, sub); errCode(err) != protocol.ErrMatchEnded {
		t.Fatalf("expected ended, got %v", err)
	}
	obs, err := m.GetObservation(ctx, "short", 0)
	if err != nil || obs.Status != string(StatusEnded) || len(obs.LegalActions) != 0 {
		t.Fatalf("ended observation: %+v %v", obs.Status, err)
	}
	cp := snaps.last["short"]
	if cp.Status != StatusEnded || cp.State == nil || cp.StateHash != b2.StateHash {
		t.Fatalf("last snapshot %+v", cp)
	}
}

func TestObservation_LegalActionsAreSubmittable(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "obs", 42, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	obs, err := m.GetObservation(ctx, "obs", 0)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(obs.View.Tiles) == 0 || len(obs.View.Cities) == 0 || len(obs.LegalActions) == 0 {
		t.Fatalf("sparse observation: tiles=%d cities=%d legal=%d", len(obs.View.Tiles), len(obs.View.Cities), len(obs.LegalActions))
	}
	if len(obs.Diplomacy.Relations) != 1 || obs.Diplomacy.Relations[0].PlayerID != 1 {
		t.Fatalf("relations %+v", obs.Diplomacy.Relations)
	}
	for _, la := range obs.LegalActions {
		a, err := action.Decode(la.Payload)
		if err != nil {
			t.Fatalf("legal payload %s does not decode: %v", la.Payload, err)
		}
		if string(a.Kind()) != la.ActionType {
			t.Fatalf("type %s for payload %s", la.ActionType, la.Payload)
		}
	}
	pick := obs.LegalActions[len(obs.LegalActions)-1]
	ack, err := m.SubmitAction(ctx, prepare(t, m, "obs", 0, pick.Payload))
	if err != nil || !ack.Accepted {
		t.Fatalf("legal action rejected: %+v %v", ack, err)
	}
}

func TestNegotiate(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, Options{})
	if _, err := m.CreateMatch(ctx, "deal", 42, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := currentHash(t, m, "deal")
	resp, err := m.Negotiate(ctx, "deal", 0, 1, []byte(`{"give":{}}`))
	if err != nil || resp.Accepted || resp.Reason == "" {
		t.Fatalf("schema failure: %+v %v", resp, err)
	}
	resp, err = m.Negotiate(ctx, "deal", 0, 1, []byte(`{"give":{},"take":{}}`))
	if err != nil || !resp.Accepted {
		t.Fatalf("empty deal: %+v %v", resp, err)
	}
	if _, err := m.Negotiate(ctx, "deal", 0, 0, []byte(`{"give":{},"take":{}}`)); errCode(err) != protocol.ErrBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := m.Negotiate(ctx, "nope", 0, 1, nil); errCode(err) != protocol.ErrMatchNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if currentHash(t, m, "deal") != before {
		t.Fatalf("negotiation changed state")
	}
}

func TestRestore_ReplaysJournalAndKeepsAcks(t *testing.T) {
	ctx := context.Background()
	journal := &memJournal{}
	snaps := &memSnapshots{}
	acks := NewMemoryAckStore()
	m := newManager(t, nil, Options{Journal: journal, Snapshots: snaps, Acks: acks})
	if _, err := m.CreateMatch(ctx, "wal", 9, []uint64{0, 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	first := prepare(t, m, "wal", 0, action.MustEncode(action.EndTurn{}))
	firstAck, _ := m.SubmitAction(ctx, first)
	if _, err := m.Advance(ctx, "wal"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	cp := snaps.last["wal"]
	second := prepare(t, m, "wal", 1, action.MustEncode(action.EndTurn{}))
	if _, err := m.SubmitAction(ctx, second); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := currentHash(t, m, "wal")

	// From the journal alone.
	fromLog := newManager(t, nil, Options{})
	if err := fromLog.Restore(nil, journal.all()); err != nil {
		t.Fatalf("restore from journal: %v", err)
	}
	if got := currentHash(t, fromLog, "wal"); got != want {
		t.Fatalf("journal replay hash %s, want %s", got, want)
	}
	again, err := fromLog.SubmitAction(ctx, first)
	if err != nil || again != firstAck {
		t.Fatalf("restored ack %+v %v, want %+v", again, err, firstAck)
	}

	// From the snapshot plus the journal tail, with acks from the durable store.
	fromSnap := newManager(t, nil, Options{Acks: acks})
	if err := fromSnap.Restore(&cp, journal.all()); err != nil {
		t.Fatalf("restore from snapshot: %v", err)
	}
	if got := currentHash(t, fromSnap, "wal"); got != want {
		t.Fatalf("snapshot replay hash %s, want %s", got, want)
	}

	tampered := journal.all()
	tampered[len(tampered)-1].StateHash = "00000000000000000000000000000000"
	if err := newManager(t, nil, Options{}).Restore(nil, tampered); err == nil {
		t.Fatalf("expected hash mismatch on tampered journal")
	}
}
