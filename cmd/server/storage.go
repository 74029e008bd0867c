package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"dryas.ai/internal/match"
	"dryas.ai/internal/persistence/ackdb"
	"dryas.ai/internal/persistence/journal"
	"dryas.ai/internal/persistence/snapshot"
)

// storage bundles the on-disk collaborators of the match manager. The
// journal and snapshots always live under <data>/matches; the sqlite index
// is optional.
type storage struct {
	matchDir string
	journal  *journal.Journal
	snaps    *snapshot.Store
	db       *ackdb.Store
}

func openStorage(dataDir string, disableDB bool, keepSnapshots int) (*storage, error) {
	st := &storage{matchDir: filepath.Join(dataDir, "matches")}
	if err := os.MkdirAll(st.matchDir, 0o755); err != nil {
		return nil, err
	}
	var index snapshot.Indexer
	if !disableDB {
		db, err := ackdb.OpenSQLite(filepath.Join(dataDir, "index", "matches.sqlite"))
		if err != nil {
			return nil, err
		}
		st.db = db
		index = db
	}
	st.journal = journal.New(st.matchDir)
	st.snaps = snapshot.NewStore(st.matchDir, index)
	st.snaps.Keep = keepSnapshots
	return st, nil
}

// options fills the persistence hooks of a manager.
func (st *storage) options(opts match.Options) match.Options {
	opts.Snapshots = st.snaps
	if st.db != nil {
		opts.Acks = st.db
		opts.Journal = match.TeeJournal(st.journal, st.db)
	} else {
		opts.Journal = st.journal
	}
	return opts
}

// restore rebuilds every journaled match. A match that fails to verify is
// logged and left out; its files are not touched.
func (st *storage) restore(m *match.Manager, logger *log.Logger) (restored, failed int) {
	ids, err := journal.Matches(st.matchDir)
	if err != nil {
		logger.Printf("restore: list journals: %v", err)
		return 0, 0
	}
	for _, id := range ids {
		entries, err := journal.Read(st.matchDir, id)
		if err != nil {
			logger.Printf("restore %s: read journal: %v", id, err)
			failed++
			continue
		}
		var cp *match.Checkpoint
		snap, ok, err := st.snaps.Latest(id)
		if err != nil {
			logger.Printf("restore %s: snapshots: %v", id, err)
		}
		if ok {
			c := snap.Checkpoint()
			cp = &c
		}
		if err := m.Restore(cp, entries); err != nil {
			logger.Printf("restore %s: %v", id, err)
			failed++
			continue
		}
		restored++
	}
	return restored, failed
}

func (st *storage) close(logger *log.Logger) {
	if err := st.journal.Close(); err != nil {
		logger.Printf("journal close: %v", err)
	}
	if st.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.db.Flush(ctx); err != nil {
		logger.Printf("index flush: %v", err)
	}
	if err := st.db.Close(); err != nil {
		logger.Printf("index close: %v", err)
	}
}
