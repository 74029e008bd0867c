package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// MaxDealPayload bounds the stored size of an offer.
const MaxDealPayload = 4096

// EmptyDeal is the canonical offer with no clauses.
const EmptyDeal = `{"give":{},"take":{}}`

type dealSide struct {
	Gold        int64
	OpenBorders bool
}

// dealTerms is the part of a deal payload the engine acts on. The engine
// checks the payload's keys, required sides and duration. The inner shape of
// the remaining clauses is the deal schema's concern.
type dealTerms struct {
	Give dealSide
	Take dealSide
}

// parseDeal checks the payload the engine needs and returns it in canonical
// form: keys sorted, no insignificant whitespace, numbers kept as written.
func parseDeal(raw []byte) (dealTerms, string, error) {
	var terms dealTerms
	if len(raw) > MaxDealPayload {
		return terms, "", fmt.Errorf("deal payload exceeds %d bytes", MaxDealPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return terms, "", fmt.Errorf("deal payload: %w", err)
	}
	if doc == nil {
		return terms, "", errors.New("deal payload must be an object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return terms, "", errors.New("deal payload: trailing data")
	}
	if k, ok := unknownKey(doc, dealKeys); ok {
		return terms, "", fmt.Errorf("deal payload: unknown field %q", k)
	}
	if err := checkDuration(doc); err != nil {
		return terms, "", err
	}
	var err error
	if terms.Give, err = parseSide(doc, "give"); err != nil {
		return terms, "", err
	}
	if terms.Take, err = parseSide(doc, "take"); err != nil {
		return terms, "", err
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return terms, "", fmt.Errorf("deal payload: %w", err)
	}
	return terms, string(canon), nil
}

var (
	dealKeys = map[string]bool{"give": true, "take": true, "duration": true, "threat": true, "conditions": true}
	sideKeys = map[string]bool{"gold": true, "open_borders": true, "research_agreement": true, "iron_license": true}
)

// unknownKey reports the smallest key of m not in allowed.
func unknownKey(m map[string]any, allowed map[string]bool) (string, bool) {
	var bad []string
	for k := range m {
		if !allowed[k] {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return "", false
	}
	sort.Strings(bad)
	return bad[0], true
}

// maxDealDuration matches the deal schema's duration bound.
const maxDealDuration = 30

func checkDuration(doc map[string]any) error {
	v, ok := doc["duration"]
	if !ok {
		return nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return errors.New("deal duration must be a number")
	}
	d, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || d < 1 || d > maxDealDuration {
		return fmt.Errorf("deal duration must be an integer in 1..%d", maxDealDuration)
	}
	return nil
}

func parseSide(doc map[string]any, key string) (dealSide, error) {
	var side dealSide
	v, ok := doc[key]
	if !ok {
		return side, fmt.Errorf("deal %s is required", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return side, fmt.Errorf("deal %s must be an object", key)
	}
	if k, ok := unknownKey(m, sideKeys); ok {
		return side, fmt.Errorf("deal %s: unknown field %q", key, k)
	}
	if g, ok := m["gold"]; ok {
		n, ok := g.(json.Number)
		if !ok {
			return side, fmt.Errorf("deal %s.gold must be a number", key)
		}
		gold, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil || gold < 0 {
			return side, fmt.Errorf("deal %s.gold must be a non-negative integer", key)
		}
		side.Gold = gold
	}
	if ob, ok := m["open_borders"]; ok {
		b, ok := ob.(bool)
		if !ok {
			return side, fmt.Errorf("deal %s.open_borders must be a boolean", key)
		}
		side.OpenBorders = b
	}
	return side, nil
}
