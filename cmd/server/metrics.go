package main

import (
	"fmt"
	"io"

	"dryas.ai/internal/match"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m match.Metrics, wsDropped uint64, st *storage) {
	fmt.Fprintf(w, "# HELP dryas_matches Matches currently held in memory.\n")
	fmt.Fprintf(w, "# TYPE dryas_matches gauge\n")
	fmt.Fprintf(w, "dryas_matches %d\n", m.Matches)

	counter(w, "dryas_submissions_total", "Submissions received, including duplicates.", m.Submissions)
	counter(w, "dryas_submissions_accepted_total", "Submissions applied to a match.", m.Accepted)
	counter(w, "dryas_submissions_rejected_total", "Submissions answered with a rejected ack.", m.Rejected)
	counter(w, "dryas_submissions_duplicate_total", "Submissions answered from the ack store.", m.Duplicates)
	counter(w, "dryas_action_id_mismatch_total", "Submissions whose action id did not match its inputs.", m.Mismatches)
	counter(w, "dryas_invariant_violations_total", "Invariant violations detected after a transition.", m.InvariantViolations)
	counter(w, "dryas_advances_total", "Turn advances.", m.Advances)
	counter(w, "dryas_persist_errors_total", "Journal or snapshot writes that failed.", m.PersistErrors)
	counter(w, "dryas_ws_broadcast_dropped_total", "Event batches not delivered to a slow WebSocket subscriber.", wsDropped)

	if st != nil && st.db != nil {
		counter(w, "dryas_index_dropped_total", "Index rows discarded because the sqlite writer fell behind.", st.db.Dropped())
	}
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
