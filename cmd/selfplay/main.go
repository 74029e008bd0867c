// Command selfplay runs a match between planner-driven players entirely in
// process, going through the same submission path as remote clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"dryas.ai/internal/ai"
	"dryas.ai/internal/deal"
	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/action"
	"dryas.ai/internal/sim/digest"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/sim/state"
)

// maxActionsPerTurn bounds one player's actions before it is forced to end
// its turn.
const maxActionsPerTurn = 32

func main() {
	var (
		seed      = flag.Int64("seed", 42, "match seed")
		players   = flag.String("players", "0,1", "comma separated player ids")
		turns     = flag.Int("turns", 50, "turns to play (0 only prints the initial hash)")
		rulesPath = flag.String("rules", "", "path to rules.yaml (empty for built-in rules)")
		verbose   = flag.Bool("v", false, "log every event")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[selfplay] ", log.LstdFlags|log.Lmicroseconds)

	ids, err := parsePlayers(*players)
	if err != nil {
		logger.Fatalf("players: %v", err)
	}
	rs, err := rules.Load(*rulesPath)
	if err != nil {
		logger.Fatalf("load rules: %v", err)
	}

	eng := engine.New(rs, engine.WithInvariantChecks(true))
	validator := deal.MustValidator()
	negotiator := ai.NewNegotiator(eng, validator)
	mgr, err := match.NewManager(match.Options{
		Engine:     eng,
		Validator:  validator,
		Negotiator: negotiator,
		Logger:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		logger.Fatalf("manager: %v", err)
	}

	ctx := context.Background()
	created, err := mgr.CreateMatch(ctx, "selfplay", *seed, ids)
	if err != nil {
		logger.Fatalf("create: %v", err)
	}
	fmt.Printf("initial state hash=%s seed=%d rules=%s digest=%s\n", created.StateHash, *seed, created.RulesVersion, created.RulesDigest)
	if *turns <= 0 {
		return
	}

	planner := ai.NewPlanner(eng, negotiator)
	evaluator := ai.NewEvaluator(eng)
	for t := 0; t < *turns; t++ {
		for _, p := range ids {
			if err := playTurn(ctx, mgr, planner, "selfplay", p); err != nil {
				logger.Fatalf("player %d: %v", p, err)
			}
		}
		batch, err := mgr.Advance(ctx, "selfplay")
		if err != nil {
			logger.Fatalf("advance: %v", err)
		}
		if *verbose {
			for _, ev := range batch.Events {
				logger.Printf("turn=%d %s player=%d %s", batch.Turn, ev.Type, ev.Player, ev.Text)
			}
		}
		logger.Printf("turn=%d hash=%s status=%s events=%d", batch.Turn, batch.StateHash, batch.Status, len(batch.Events))
		if batch.Status == string(match.StatusEnded) {
			break
		}
	}

	m := mgr.Metrics()
	logger.Printf("submissions=%d accepted=%d rejected=%d advances=%d", m.Submissions, m.Accepted, m.Rejected, m.Advances)
	_ = mgr.View("selfplay", func(s *state.State, status match.Status) {
		for _, p := range ids {
			fmt.Printf("player=%d score=%.3f\n", p, evaluator.EvaluateState(s, state.PlayerID(p)))
		}
		fmt.Printf("final turn=%d status=%s hash=%s\n", s.Turn, status, digest.StateHash(s))
	})
}

// playTurn submits planner actions for one player until it ends its turn,
// runs out of actions or gets rejected.
func playTurn(ctx context.Context, mgr *match.Manager, planner *ai.Planner, matchID string, player uint64) error {
	for i := 0; i < maxActionsPerTurn; i++ {
		var (
			a        action.Action
			ok       bool
			turn     uint32
			hash     digest.Hash128
			isActive bool
		)
		err := mgr.View(matchID, func(s *state.State, status match.Status) {
			isActive = status != match.StatusEnded
			if isActive {
				a, ok = planner.SelectAction(s, state.PlayerID(player))
			}
			turn = s.Turn
			hash = digest.StateHash(s)
		})
		if err != nil {
			return err
		}
		if !isActive || !ok {
			return nil
		}
		payload, err := action.Encode(a)
		if err != nil {
			return err
		}
		id, err := match.ComputeActionID(matchID, turn, player, payload, hash.Prefix8())
		if err != nil {
			return err
		}
		ack, err := mgr.SubmitAction(ctx, match.Submission{
			MatchID:             matchID,
			Turn:                turn,
			PlayerID:            player,
			ActionID:            id,
			ActionBytes:         payload,
			PrevStateHashPrefix: hash.Prefix8(),
		})
		if err != nil {
			return err
		}
		if !ack.Accepted {
			if ack.Code == protocol.ErrStale {
				continue
			}
			return nil
		}
		if a.Kind() == action.KindEndTurn {
			return nil
		}
	}
	return nil
}

func parsePlayers(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad player id %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
