package main

import (
	"strings"
	"testing"

	"dryas.ai/internal/match"
)

func TestWriteMetrics(t *testing.T) {
	var b strings.Builder
	writeMetrics(&b, match.Metrics{Matches: 2, Submissions: 7, InvariantViolations: 1}, 3, nil)
	out := b.String()
	for _, want := range []string{
		"dryas_matches 2\n",
		"dryas_submissions_total 7\n",
		"dryas_invariant_violations_total 1\n",
		"dryas_ws_broadcast_dropped_total 3\n",
		"# TYPE dryas_advances_total counter\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "dryas_index_dropped_total") {
		t.Fatalf("index metric without an index")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	if !isLoopbackRemote("127.0.0.1:5555") || !isLoopbackRemote("[::1]:80") {
		t.Fatalf("loopback not recognised")
	}
	if isLoopbackRemote("10.0.0.3:80") || isLoopbackRemote("garbage") {
		t.Fatalf("non-loopback accepted")
	}
}
