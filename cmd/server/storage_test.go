package main

import (
	"context"
	"io"
	"log"
	"testing"

	"dryas.ai/internal/match"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/rules"
)

func openManager(t *testing.T, dir string) (*match.Manager, *storage) {
	t.Helper()
	st, err := openStorage(dir, false, 2)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	m, err := match.NewManager(st.options(match.Options{
		Engine: engine.New(rules.Defaults(), engine.WithInvariantChecks(true)),
		Logger: log.New(io.Discard, "", 0),
	}))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m, st
}

func TestStorage_RestartKeepsStateAndAcks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	m1, st1 := openManager(t, dir)
	created, err := m1.CreateMatch(ctx, "persist", 42, []uint64{0, 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := action.MustEncode(action.EndTurn{})
	prefix := created.StateHash.Prefix8()
	id, _ := match.ComputeActionID("persist", 0, 0, payload, prefix)
	sub := match.Submission{MatchID: "persist", Turn: 0, PlayerID: 0, ActionID: id, ActionBytes: payload, PrevStateHashPrefix: prefix}
	ack1, err := m1.SubmitAction(ctx, sub)
	if err != nil || !ack1.Accepted {
		t.Fatalf("submit: %+v %v", ack1, err)
	}
	batch, err := m1.Advance(ctx, "persist")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	st1.close(logger)

	m2, st2 := openManager(t, dir)
	defer st2.close(logger)
	n, failed := st2.restore(m2, logger)
	if n != 1 || failed != 0 {
		t.Fatalf("restored=%d failed=%d", n, failed)
	}
	obs, err := m2.GetObservation(ctx, "persist", 0)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	if obs.StateHash != batch.StateHash || obs.Turn != 1 {
		t.Fatalf("restored hash=%s turn=%d, want %s turn 1", obs.StateHash, obs.Turn, batch.StateHash)
	}
	ack2, err := m2.SubmitAction(ctx, sub)
	if err != nil || ack2 != ack1 {
		t.Fatalf("replayed ack %+v %v, want %+v", ack2, err, ack1)
	}

	rows, err := st2.db.ListMatches(ctx)
	if err != nil || len(rows) != 1 || rows[0].MatchID != "persist" || rows[0].Turn != 1 {
		t.Fatalf("index rows %+v %v", rows, err)
	}
}
