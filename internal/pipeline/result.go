package pipeline

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Per-row load outcomes.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// RowFailure records one row the destination rejected. Key is the row's
// natural-key value when the table has one, so operators can find the source
// row; Reason carries the remote error text.
type RowFailure struct {
	Batch  int // 1-based batch index
	Row    int // 0-based index in input order across the whole run
	Key    string
	Reason string
}

// Run statuses.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial_failure"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one table's run.
//
// On completed runs (Err == nil): Loaded + Failed == Transformed == Extracted.
// Skipped rows (upsert-if-newer found the remote copy newer) count toward
// Loaded: the destination already holds the desired state.
type Result struct {
	RunID string
	Table string
	List  string

	Status Status

	Extracted   int
	Transformed int
	Loaded      int
	Created     int
	Updated     int
	Skipped     int
	Failed      int

	Failures []RowFailure

	// FailedBatch is the 1-based index of the batch whose submission failed
	// fatally; 0 when the run completed.
	FailedBatch int

	// Err is the fatal error that stopped the run, nil on completed runs
	// (even runs with row failures).
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// finalize derives Status and FailedBatch from the counters and Err.
func (r *Result) finalize() {
	if r.Err != nil {
		r.Status = StatusFailed
		var be *BatchError
		if errors.As(r.Err, &be) {
			r.FailedBatch = be.Batch
		}
		return
	}
	switch {
	case r.Failed == 0:
		r.Status = StatusSuccess
	case r.Loaded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// MultiResult aggregates a run over several tables.
type MultiResult struct {
	RunID      string
	Tables     []Result
	Status     Status
	Loaded     int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// finalize derives aggregate counters and the overall status: success when
// every table succeeded, failed when none did, partial otherwise.
func (m *MultiResult) finalize() {
	m.Loaded, m.Failed = 0, 0
	ok := 0
	for _, t := range m.Tables {
		m.Loaded += t.Loaded
		m.Failed += t.Failed
		if t.Status == StatusSuccess {
			ok++
		}
	}
	switch {
	case len(m.Tables) == 0 || ok == len(m.Tables):
		m.Status = StatusSuccess
	case ok > 0 || m.Loaded > 0:
		m.Status = StatusPartial
	default:
		m.Status = StatusFailed
	}
}

// WriteSummary prints the human-readable end-of-run block. Machine-parseable
// detail goes to the structured log lines instead.
func (m *MultiResult) WriteSummary(w io.Writer) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "Sync Results")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Run ID:   %s\n", m.RunID)
	fmt.Fprintf(w, "Started:  %s\n", m.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Finished: %s\n", m.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Status:   %s\n", strings.ToUpper(string(m.Status)))
	fmt.Fprintf(w, "Loaded:   %d\n", m.Loaded)
	fmt.Fprintf(w, "Failed:   %d\n", m.Failed)

	for _, t := range m.Tables {
		fmt.Fprintln(w, strings.Repeat("-", 60))
		fmt.Fprintf(w, "%s -> %s\n", t.Table, t.List)
		fmt.Fprintf(w, "  status=%s extracted=%d loaded=%d failed=%d\n",
			t.Status, t.Extracted, t.Loaded, t.Failed)
		if t.Err != nil {
			fmt.Fprintf(w, "  fatal: %v\n", t.Err)
		}
		const maxShown = 5
		for i, f := range t.Failures {
			if i == maxShown {
				fmt.Fprintf(w, "  ... and %d more failures\n", len(t.Failures)-maxShown)
				break
			}
			fmt.Fprintf(w, "  row %d (key=%q): %s\n", f.Row, f.Key, f.Reason)
		}
	}
	fmt.Fprintln(w, line)
}
