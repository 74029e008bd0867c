package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"dryas.ai/internal/protocol"
)

func TestSchemas_ValidateMarshalledMessages(t *testing.T) {
	validate := func(msgType string, v any) {
		t.Helper()
		s, err := protocol.CompileSchema(msgType)
		if err != nil {
			t.Fatalf("compile %s: %v", msgType, err)
		}
		raw, _ := json.Marshal(v)
		var doc any
		_ = json.Unmarshal(raw, &doc)
		if err := s.Validate(doc); err != nil {
			t.Fatalf("validate %s: %v\n%s", msgType, err, raw)
		}
	}

	validate(protocol.TypeCreateMatch, protocol.CreateMatchReq{
		Type: protocol.TypeCreateMatch, ProtocolVersion: protocol.Version, Seed: 42, Players: []uint64{0, 1},
	})
	validate(protocol.TypeSubmitAction, protocol.SubmitActionReq{
		Type:                protocol.TypeSubmitAction,
		ProtocolVersion:     protocol.Version,
		MatchID:             "match_42",
		PlayerID:            0,
		ActionID:            strings.Repeat("ab", 32),
		ActionBytes:         []byte(`{"type":"END_TURN"}`),
		PrevStateHashPrefix: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	validate(protocol.TypeAck, protocol.AckMsg{
		Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
		Ack: protocol.Ack{Accepted: true, ActionID: "x", NewStateHash: strings.Repeat("0f", 16)},
	})
	validate(protocol.TypeAck, protocol.AckMsg{
		Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
		Ack: protocol.Ack{Accepted: false, Code: protocol.ErrInvalidAction, Error: "bad", ActionID: "x"},
	})
	validate(protocol.TypeEventBatch, protocol.EventBatchMsg{
		Type: protocol.TypeEventBatch, ProtocolVersion: protocol.Version,
		EventBatch: protocol.EventBatch{
			MatchID: "m", Turn: 1, StateHash: strings.Repeat("0f", 16), Status: "ACTIVE",
			Events: []protocol.Event{{Type: "turn_started", Text: "turn 1 began"}},
		},
	})
}

func TestRequestValidator_RejectsMalformed(t *testing.T) {
	v, err := protocol.NewRequestValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	ok := `{"type":"ADVANCE","protocol_version":"1.0","match_id":"m"}`
	if err := v.Validate(protocol.TypeAdvance, []byte(ok)); err != nil {
		t.Fatalf("valid advance rejected: %v", err)
	}
	bad := []string{
		`{"type":"ADVANCE","protocol_version":"1.0"}`,
		`{"type":"ADVANCE","protocol_version":"1.0","match_id":""}`,
		`not json`,
	}
	for _, b := range bad {
		err := v.Validate(protocol.TypeAdvance, []byte(b))
		pe, isProto := err.(*protocol.Error)
		if !isProto || pe.Code != protocol.ErrProtoBadRequest {
			t.Fatalf("expected proto bad request for %s, got %v", b, err)
		}
	}
	sub := `{"type":"SUBMIT_ACTION","protocol_version":"1.0","match_id":"m","turn":0,"player_id":0,"action_id":"short","action_bytes":"","prev_state_hash_prefix":"AQIDBAUGBwg="}`
	if err := v.Validate(protocol.TypeSubmitAction, []byte(sub)); err == nil {
		t.Fatalf("expected malformed action id rejected")
	}
}
