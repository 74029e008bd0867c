// Package journal is the write-ahead log of match mutations: zstd-compressed
// JSONL, one directory per match, rotated hourly.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"dryas.ai/internal/match"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as one line and flushes it through the compressor, so a
// crash loses at most a torn final line.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Journal keeps one writer per match under <dir>/<match_id>/journal and
// implements match.Journal.
type Journal struct {
	dir string

	mu      sync.Mutex
	writers map[string]*JSONLZstdWriter
}

func New(dir string) *Journal {
	return &Journal{dir: dir, writers: map[string]*JSONLZstdWriter{}}
}

func matchDir(dir, matchID string) string {
	return filepath.Join(dir, matchID, "journal")
}

func (j *Journal) Append(e match.JournalEntry) error {
	if e.MatchID == "" || strings.ContainsAny(e.MatchID, `/\`) {
		return fmt.Errorf("bad match id %q", e.MatchID)
	}
	j.mu.Lock()
	w := j.writers[e.MatchID]
	if w == nil {
		w = NewJSONLZstdWriter(matchDir(j.dir, e.MatchID), "journal")
		j.writers[e.MatchID] = w
	}
	j.mu.Unlock()
	return w.Write(e)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var first error
	for id, w := range j.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(j.writers, id)
	}
	return first
}

// Matches lists match ids that have a journal under dir.
func Matches(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if fi, err := os.Stat(matchDir(dir, e.Name())); err == nil && fi.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Read returns every entry of a match in file order. A torn final line is
// dropped.
func Read(dir, matchID string) ([]match.JournalEntry, error) {
	files, err := filepath.Glob(filepath.Join(matchDir(dir, matchID), "*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []match.JournalEntry
	for _, path := range files {
		err := ReadFile(path, func(e match.JournalEntry) error {
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func ReadFile(path string, fn func(match.JournalEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var e match.JournalEntry
			if jerr := json.Unmarshal(line, &e); jerr != nil {
				return fmt.Errorf("%s: %w", path, jerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("%s: %w", path, err)
	}
}
