// Package ackdb is the durable side of submission dedupe plus a queryable
// index of matches and their journal.
//
// Acks are written synchronously: once PutAck returns, a restarted server
// replays the same ack for the same action id. Index rows go through a
// buffered writer goroutine and may be dropped under load; the JSONL
// journal remains the source of truth for those.
package ackdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
)

type Store struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqEntry reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind     reqKind
	entry    match.JournalEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	MatchID   string
	Seq       uint64
	Turn      uint32
	Path      string
	StateHash string
}

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, ch: make(chan req, 65536)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS acks (
			match_id TEXT NOT NULL,
			action_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			ack_json TEXT NOT NULL,
			PRIMARY KEY (match_id, action_id)
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			players TEXT NOT NULL,
			status TEXT NOT NULL,
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			state_hash TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS journal (
			match_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			turn INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			action_id TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			state_hash TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (match_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_match_turn ON journal(match_id, turn);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			match_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			path TEXT NOT NULL,
			state_hash TEXT NOT NULL,
			PRIMARY KEY (match_id, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) GetAck(matchID, actionID string) (protocol.Ack, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT ack_json FROM acks WHERE match_id=? AND action_id=?`, matchID, actionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Ack{}, false, nil
	}
	if err != nil {
		return protocol.Ack{}, false, err
	}
	var ack protocol.Ack
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		return protocol.Ack{}, false, fmt.Errorf("decode ack %s/%s: %w", matchID, actionID, err)
	}
	return ack, true, nil
}

// PutAck keeps the first ack stored for an action id.
func (s *Store) PutAck(matchID, actionID string, turn uint32, ack protocol.Ack) error {
	b, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO acks(match_id,action_id,turn,accepted,ack_json) VALUES(?,?,?,?,?)`,
		matchID, actionID, int64(turn), boolInt(ack.Accepted), string(b))
	return err
}

// Append indexes a journal entry. It never blocks the caller.
func (s *Store) Append(e match.JournalEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEntry, entry: e}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *Store) RecordSnapshot(path string, cp match.Checkpoint) {
	if s == nil || s.closed.Load() {
		return
	}
	var turn uint32
	if cp.State != nil {
		turn = cp.State.Turn
	}
	r := snapshotRow{MatchID: cp.MatchID, Seq: cp.Seq, Turn: turn, Path: path, StateHash: cp.StateHash}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped counts index rows discarded because the writer fell behind.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Flush waits until every row queued before the call has been committed.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type MatchRow struct {
	MatchID   string   `json:"match_id"`
	Seed      int64    `json:"seed"`
	Players   []uint64 `json:"players"`
	Status    string   `json:"status"`
	Turn      uint32   `json:"turn"`
	Seq       uint64   `json:"seq"`
	StateHash string   `json:"state_hash"`
	UpdatedAt string   `json:"updated_at"`
}

func (s *Store) ListMatches(ctx context.Context) ([]MatchRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,seed,players,status,turn,seq,state_hash,updated_at FROM matches ORDER BY match_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchRow
	for rows.Next() {
		var r MatchRow
		var players string
		var turn, seq int64
		if err := rows.Scan(&r.MatchID, &r.Seed, &players, &r.Status, &turn, &seq, &r.StateHash, &r.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(players), &r.Players)
		r.Turn = uint32(turn)
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

type JournalRow struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Turn      uint32 `json:"turn"`
	PlayerID  uint64 `json:"player_id"`
	ActionID  string `json:"action_id"`
	Accepted  bool   `json:"accepted"`
	StateHash string `json:"state_hash"`
}

// JournalForTurn lists the indexed entries of one turn in sequence order.
func (s *Store) JournalForTurn(ctx context.Context, matchID string, turn uint32) ([]JournalRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,kind,turn,player_id,action_id,accepted,state_hash FROM journal WHERE match_id=? AND turn=? ORDER BY seq`,
		matchID, int64(turn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalRow
	for rows.Next() {
		var r JournalRow
		var seq, t, player, accepted int64
		if err := rows.Scan(&seq, &r.Kind, &t, &player, &r.ActionID, &accepted, &r.StateHash); err != nil {
			return nil, err
		}
		r.Seq, r.Turn, r.PlayerID, r.Accepted = uint64(seq), uint32(t), uint64(player), accepted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

type SnapshotRow struct {
	Seq       uint64 `json:"seq"`
	Turn      uint32 `json:"turn"`
	Path      string `json:"path"`
	StateHash string `json:"state_hash"`
}

// Snapshots lists the indexed snapshots of a match, newest first. Pruned
// files keep their rows.
func (s *Store) Snapshots(ctx context.Context, matchID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,turn,path,state_hash FROM snapshots WHERE match_id=? ORDER BY seq DESC`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var seq, turn int64
		if err := rows.Scan(&seq, &turn, &r.Path, &r.StateHash); err != nil {
			return nil, err
		}
		r.Seq, r.Turn = uint64(seq), uint32(turn)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) loop() {
	ctx := context.Background()

	insertJournal, _ := s.db.Prepare(`INSERT OR REPLACE INTO journal(match_id,seq,kind,turn,player_id,action_id,accepted,state_hash,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	createMatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO matches(match_id,seed,players,status,turn,seq,state_hash,updated_at) VALUES(?,?,?,?,?,?,?,?)`)
	updateMatch, _ := s.db.Prepare(`UPDATE matches SET status=?,turn=?,seq=?,state_hash=?,updated_at=? WHERE match_id=? AND seq<?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(match_id,seq,turn,path,state_hash) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertJournal, createMatch, updateMatch, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqEntry:
			e := r.entry
			raw, _ := json.Marshal(e)
			accepted := e.Ack != nil && e.Ack.Accepted
			if insertJournal != nil {
				if _, err := tx.Stmt(insertJournal).Exec(
					e.MatchID, int64(e.Seq), e.Kind, int64(e.Turn), int64(e.PlayerID),
					e.ActionID, boolInt(accepted), e.StateHash, string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if e.Kind == match.EntryCreate && createMatch != nil {
				players, _ := json.Marshal(e.Players)
				if _, err := tx.Stmt(createMatch).Exec(
					e.MatchID, e.Seed, string(players), string(e.Status), int64(e.Turn), int64(e.Seq), e.StateHash, now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			} else if updateMatch != nil {
				if _, err := tx.Stmt(updateMatch).Exec(
					string(e.Status), int64(e.Turn), int64(e.Seq), e.StateHash, now, e.MatchID, int64(e.Seq),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.MatchID, int64(sn.Seq), int64(sn.Turn), sn.Path, sn.StateHash); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}
