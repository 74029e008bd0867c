package match

import (
	"fmt"
	"sort"

	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/digest"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/state"
)

// Restore rebuilds a match after a restart. cp may be nil when no snapshot
// was taken, in which case entries must start with the create entry.
// Entries at or below the snapshot's Seq only repopulate the ack table;
// later ones are replayed and each resulting hash is checked against the
// journal.
func (m *Manager) Restore(cp *Checkpoint, entries []JournalEntry) error {
	sorted := append([]JournalEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	rec := &record{acks: map[string]protocol.Ack{}}
	if cp != nil {
		if cp.State == nil {
			return fmt.Errorf("restore %s: snapshot has no state", cp.MatchID)
		}
		rec.id = cp.MatchID
		rec.status = cp.Status
		rec.state = cp.State.Clone()
		rec.seq = cp.Seq
		for _, p := range cp.Players {
			rec.players = append(rec.players, state.PlayerID(p))
		}
		rec.hash = digest.StateHash(rec.state)
		if cp.StateHash != "" && cp.StateHash != rec.hash.String() {
			return fmt.Errorf("restore %s: snapshot hash %s, state hashes to %s", rec.id, cp.StateHash, rec.hash)
		}
	}

	for _, e := range sorted {
		if rec.id == "" {
			rec.id = e.MatchID
		}
		if e.MatchID != rec.id {
			return fmt.Errorf("restore %s: entry %d belongs to %s", rec.id, e.Seq, e.MatchID)
		}
		if e.Kind == EntryAction && e.Ack != nil {
			rec.acks[e.ActionID] = *e.Ack
		}
		if cp != nil && e.Seq <= cp.Seq {
			continue
		}
		if e.Seq != rec.seq+1 {
			return fmt.Errorf("restore %s: journal gap, want seq %d got %d", rec.id, rec.seq+1, e.Seq)
		}
		if err := m.replay(rec, e); err != nil {
			return fmt.Errorf("restore %s seq %d: %w", rec.id, e.Seq, err)
		}
		rec.seq = e.Seq
		if got := rec.hash.String(); got != e.StateHash {
			return fmt.Errorf("restore %s seq %d: replay hash %s, journal says %s", rec.id, e.Seq, got, e.StateHash)
		}
		rec.status = e.Status
	}
	if rec.state == nil {
		return fmt.Errorf("restore %s: no snapshot and no create entry", rec.id)
	}
	if err := m.insert(rec); err != nil {
		return err
	}
	m.logger.Printf("restored match=%s turn=%d seq=%d acks=%d hash=%s", rec.id, rec.state.Turn, rec.seq, len(rec.acks), rec.hash)
	return nil
}

func (m *Manager) replay(rec *record, e JournalEntry) error {
	switch e.Kind {
	case EntryCreate:
		if rec.state != nil {
			return fmt.Errorf("second create entry")
		}
		specs := make([]engine.PlayerSpec, 0, len(e.Players))
		for _, p := range e.Players {
			specs = append(specs, engine.PlayerSpec{ID: state.PlayerID(p), Name: fmt.Sprintf("player-%d", p)})
			rec.players = append(rec.players, state.PlayerID(p))
		}
		s, err := m.engine.NewState(e.Seed, specs)
		if err != nil {
			return err
		}
		rec.state = s
	case EntryAction:
		if rec.state == nil {
			return fmt.Errorf("action before create")
		}
		if e.Ack == nil || !e.Ack.Accepted {
			return nil
		}
		a, err := action.Decode(e.ActionBytes)
		if err != nil {
			return err
		}
		if _, err := m.engine.ApplyAction(rec.state, state.PlayerID(e.PlayerID), a); err != nil {
			return err
		}
	case EntryAdvance:
		if rec.state == nil {
			return fmt.Errorf("advance before create")
		}
		if _, err := m.engine.EndTurn(rec.state); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	rec.hash = digest.StateHash(rec.state)
	return nil
}
