package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dryas.ai/internal/persistence/ackdb"
	"dryas.ai/internal/persistence/journal"
	"dryas.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "checkpoint":
			checkpointCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	ids, err := journal.Matches(filepath.Join(*dataDir, "matches"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

// dbCmd queries the sqlite index: matches (default), turn or snapshots.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/matches.sqlite)")
	matchID := fs.String("match", "", "match id (turn, snapshots)")
	turn := fs.Uint("turn", 0, "turn (turn)")
	_ = fs.Parse(args)

	q := "matches"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "matches.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	db, err := ackdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out any
	switch q {
	case "matches":
		out, err = db.ListMatches(ctx)
	case "turn":
		if *matchID == "" {
			fmt.Fprintln(os.Stderr, "missing -match")
			os.Exit(2)
		}
		out, err = db.JournalForTurn(ctx, *matchID, uint32(*turn))
	case "snapshots":
		if *matchID == "" {
			fmt.Fprintln(os.Stderr, "missing -match")
			os.Exit(2)
		}
		out, err = db.Snapshots(ctx, *matchID)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(matches|turn|snapshots)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(out)
}

// snapshotCmd prints the header of a snapshot file, or of a match's latest.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	matchID := fs.String("match", "", "match id (latest snapshot)")
	path := fs.String("path", "", "snapshot file (overrides -match)")
	_ = fs.Parse(args)

	var (
		snap snapshot.SnapshotV1
		err  error
	)
	switch {
	case *path != "":
		snap, err = snapshot.ReadSnapshot(*path)
	case *matchID != "":
		var ok bool
		snap, ok, err = snapshot.NewStore(filepath.Join(*dataDir, "matches"), nil).Latest(*matchID)
		if err == nil && !ok {
			err = fmt.Errorf("no snapshot for %s", *matchID)
		}
	default:
		fmt.Fprintln(os.Stderr, "missing -match or -path")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}
	printJSON(struct {
		snapshot.Header
		Players []uint64 `json:"players"`
		Status  string   `json:"status"`
		Cities  int      `json:"cities"`
		Units   int      `json:"units"`
	}{snap.Header, snap.Players, string(snap.Status), len(snap.State.Cities), len(snap.State.Units)})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
