package main

import (
	"math/rand"
	"testing"

	"dryas.ai/internal/protocol"
)

func TestPick(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	if _, ok := pick(r, nil, 3); ok {
		t.Fatalf("picked from empty set")
	}
	legal := []protocol.ActionLite{
		{ActionType: "OFFER_DEAL", Payload: []byte(`{}`)},
		{ActionType: "FORTIFY", Payload: []byte(`{"type":"FORTIFY","unit":1}`)},
		{ActionType: "END_TURN", Payload: []byte(`{"type":"END_TURN"}`)},
	}
	for i := 0; i < 50; i++ {
		a, ok := pick(r, legal, 0)
		if !ok || a.ActionType != "END_TURN" {
			t.Fatalf("exhausted budget picked %+v", a)
		}
	}
	sawOther := false
	for i := 0; i < 50; i++ {
		a, _ := pick(r, legal, 5)
		if a.ActionType == "OFFER_DEAL" {
			t.Fatalf("bot never offers deals")
		}
		sawOther = sawOther || a.ActionType == "FORTIFY"
	}
	if !sawOther {
		t.Fatalf("budget never spent")
	}
}
