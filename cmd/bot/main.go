package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/digest"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		matchID  = flag.String("match", "", "match to join; empty creates one")
		seed     = flag.Int64("seed", 42, "seed for a created match")
		player   = flag.Uint64("player", 0, "player id to act as")
		opponent = flag.Uint64("opponent", 1, "second player of a created match")
		advance  = flag.Bool("advance", true, "advance the turn after ending it")
		actions  = flag.Int("actions", 4, "max actions before ending a turn")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		conn.Close()
	}()

	c := &client{conn: conn, log: logger}
	id := *matchID
	if id == "" {
		var created protocol.MatchCreatedMsg
		if err := c.call(protocol.CreateMatchReq{
			Type:            protocol.TypeCreateMatch,
			ProtocolVersion: protocol.Version,
			Seed:            *seed,
			Players:         []uint64{*player, *opponent},
		}, &created); err != nil {
			logger.Fatalf("create: %v", err)
		}
		id = created.MatchID
		logger.Printf("MATCH_CREATED match=%s hash=%s rules=%s", id, created.StateHash, created.RulesVersion)
	}

	r := rand.New(rand.NewSource(*seed ^ int64(*player)))
	lastTurn, spent := ^uint32(0), 0
	for {
		var obs protocol.ObservationMsg
		if err := c.call(protocol.GetObservationReq{
			Type:            protocol.TypeGetObservation,
			ProtocolVersion: protocol.Version,
			MatchID:         id,
			PlayerID:        *player,
		}, &obs); err != nil {
			logger.Fatalf("observation: %v", err)
		}
		if obs.Status == string(match.StatusEnded) {
			logger.Printf("match ended at turn %d", obs.Turn)
			return
		}
		if obs.Turn != lastTurn {
			lastTurn, spent = obs.Turn, 0
		}
		a, ok := pick(r, obs.LegalActions, *actions-spent)
		if !ok {
			if !*advance {
				c.waitBatch(id)
				continue
			}
			if err := c.advance(id); err != nil {
				logger.Fatalf("advance: %v", err)
			}
			continue
		}
		ack, err := c.submit(id, obs.Observation, *player, a)
		if err != nil {
			logger.Fatalf("submit: %v", err)
		}
		spent++
		logger.Printf("turn=%d %s accepted=%v code=%s", obs.Turn, a.ActionType, ack.Accepted, ack.Code)
	}
}

// pick chooses a random non-END_TURN action while budget remains, then
// END_TURN. It reports false when nothing is legal.
func pick(r *rand.Rand, legal []protocol.ActionLite, budget int) (protocol.ActionLite, bool) {
	if len(legal) == 0 {
		return protocol.ActionLite{}, false
	}
	var others []protocol.ActionLite
	var end protocol.ActionLite
	hasEnd := false
	for _, a := range legal {
		if a.ActionType == "END_TURN" {
			end, hasEnd = a, true
			continue
		}
		if a.ActionType == "OFFER_DEAL" {
			continue
		}
		others = append(others, a)
	}
	if len(others) > 0 && (budget > 0 || !hasEnd) && r.Intn(4) != 0 {
		return others[r.Intn(len(others))], true
	}
	if hasEnd {
		return end, true
	}
	return others[r.Intn(len(others))], true
}

type client struct {
	conn *websocket.Conn
	log  *log.Logger
	next int
}

// call sends req with a fresh req_id and decodes the matching reply into
// out. Unrelated frames (event broadcasts) are logged and skipped.
func (c *client) call(req any, out any) error {
	c.next++
	reqID := fmt.Sprintf("r%d", c.next)
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	fields["req_id"] = json.RawMessage(strconv.Quote(reqID))
	if err := c.conn.WriteJSON(fields); err != nil {
		return err
	}
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.ReqID != reqID {
			c.logFrame(base, msg)
			continue
		}
		if base.Type == protocol.TypeError {
			var em protocol.ErrorMsg
			_ = json.Unmarshal(msg, &em)
			return fmt.Errorf("%s: %s", em.Code, em.Message)
		}
		return json.Unmarshal(msg, out)
	}
}

func (c *client) logFrame(base protocol.BaseMessage, msg []byte) {
	if base.Type != protocol.TypeEventBatch {
		return
	}
	var b protocol.EventBatchMsg
	if err := json.Unmarshal(msg, &b); err != nil {
		return
	}
	c.log.Printf("EVENT_BATCH turn=%d events=%d hash=%s status=%s", b.Turn, len(b.Events), b.StateHash, b.Status)
}

func (c *client) submit(matchID string, obs protocol.Observation, player uint64, a protocol.ActionLite) (protocol.Ack, error) {
	h, err := digest.ParseHash128(obs.StateHash)
	if err != nil {
		return protocol.Ack{}, err
	}
	prefix := h.Prefix8()
	id, err := match.ComputeActionID(matchID, obs.Turn, player, a.Payload, prefix)
	if err != nil {
		return protocol.Ack{}, err
	}
	var ack protocol.AckMsg
	err = c.call(protocol.SubmitActionReq{
		Type:                protocol.TypeSubmitAction,
		ProtocolVersion:     protocol.Version,
		MatchID:             matchID,
		Turn:                obs.Turn,
		PlayerID:            player,
		ActionID:            id,
		ActionBytes:         a.Payload,
		PrevStateHashPrefix: prefix,
	}, &ack)
	return ack.Ack, err
}

func (c *client) advance(matchID string) error {
	var b protocol.EventBatchMsg
	if err := c.call(protocol.AdvanceReq{Type: protocol.TypeAdvance, ProtocolVersion: protocol.Version, MatchID: matchID}, &b); err != nil {
		return err
	}
	c.log.Printf("advanced to turn=%d hash=%s status=%s", b.Turn, b.StateHash, b.Status)
	return nil
}

// waitBatch blocks until the next EVENT_BATCH for matchID arrives.
func (c *client) waitBatch(matchID string) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Fatalf("read: %v", err)
		}
		var b protocol.EventBatchMsg
		if json.Unmarshal(msg, &b) == nil && b.Type == protocol.TypeEventBatch && b.MatchID == matchID {
			c.log.Printf("EVENT_BATCH turn=%d hash=%s", b.Turn, b.StateHash)
			return
		}
	}
}
