// Package snapshot stores match checkpoints as zstd-compressed files: one
// JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"dryas.ai/internal/match"
	"dryas.ai/internal/sim/state"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	MatchID   string `json:"match_id"`
	Turn      uint32 `json:"turn"`
	Seq       uint64 `json:"seq"`
	StateHash string `json:"state_hash"`
}

type SnapshotV1 struct {
	Header  Header       `json:"header"`
	Players []uint64     `json:"players"`
	Status  match.Status `json:"status"`
	State   *state.State `json:"state"`
}

func FromCheckpoint(cp match.Checkpoint) SnapshotV1 {
	var turn uint32
	if cp.State != nil {
		turn = cp.State.Turn
	}
	return SnapshotV1{
		Header: Header{
			Version:   Version,
			MatchID:   cp.MatchID,
			Turn:      turn,
			Seq:       cp.Seq,
			StateHash: cp.StateHash,
		},
		Players: cp.Players,
		Status:  cp.Status,
		State:   cp.State,
	}
}

func (s SnapshotV1) Checkpoint() match.Checkpoint {
	return match.Checkpoint{
		MatchID:   s.Header.MatchID,
		Players:   s.Players,
		Status:    s.Status,
		Seq:       s.Header.Seq,
		StateHash: s.Header.StateHash,
		State:     s.State,
	}
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.State == nil {
		return snap, fmt.Errorf("snapshot %s has no state", path)
	}
	// gob drops empty maps; Clone rebuilds every map.
	snap.State = snap.State.Clone()
	return snap, nil
}

// Indexer is told about every snapshot written.
type Indexer interface {
	RecordSnapshot(path string, cp match.Checkpoint)
}

// Store lays snapshots out as <dir>/<match_id>/snapshots/<seq>.snap.zst and
// implements match.SnapshotSink.
type Store struct {
	dir   string
	index Indexer
	// Keep is how many snapshots per match survive pruning; 0 keeps all.
	Keep int
}

func NewStore(dir string, index Indexer) *Store {
	return &Store{dir: dir, index: index, Keep: 4}
}

func (s *Store) pathFor(matchID string, seq uint64) string {
	return filepath.Join(s.dir, matchID, "snapshots", fmt.Sprintf("%012d.snap.zst", seq))
}

func (s *Store) SaveSnapshot(cp match.Checkpoint) error {
	if cp.MatchID == "" || strings.ContainsAny(cp.MatchID, `/\`) {
		return fmt.Errorf("bad match id %q", cp.MatchID)
	}
	path := s.pathFor(cp.MatchID, cp.Seq)
	if err := WriteSnapshot(path, FromCheckpoint(cp)); err != nil {
		return err
	}
	if s.index != nil {
		s.index.RecordSnapshot(path, cp)
	}
	return s.prune(cp.MatchID)
}

func (s *Store) seqs(matchID string) ([]uint64, error) {
	ents, err := os.ReadDir(filepath.Join(s.dir, matchID, "snapshots"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) prune(matchID string) error {
	if s.Keep <= 0 {
		return nil
	}
	seqs, err := s.seqs(matchID)
	if err != nil {
		return err
	}
	for len(seqs) > s.Keep {
		if err := os.Remove(s.pathFor(matchID, seqs[0])); err != nil && !os.IsNotExist(err) {
			return err
		}
		seqs = seqs[1:]
	}
	return nil
}

// Latest returns the newest readable snapshot of a match, if any.
func (s *Store) Latest(matchID string) (SnapshotV1, bool, error) {
	seqs, err := s.seqs(matchID)
	if err != nil {
		return SnapshotV1{}, false, err
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		snap, err := ReadSnapshot(s.pathFor(matchID, seqs[i]))
		if err == nil {
			return snap, true, nil
		}
	}
	return SnapshotV1{}, false, nil
}
