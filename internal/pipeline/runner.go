package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"spsync/internal/config"
	"spsync/internal/source"
)

// Runner syncs a set of tables sequentially over one source connection and
// one destination client.
//
// A fatal failure in one table does not stop later tables: each table's
// result records its own outcome, and the aggregate status reflects the mix.
type Runner struct {
	Source    source.Source
	Dest      Destination
	BatchSize int
	Backoff   time.Duration
	DryRun    bool
	Logf      func(format string, v ...any)

	// Seams for deterministic tests.
	now      func() time.Time
	newRunID func() string
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// Run executes every table in order and returns the aggregate result.
func (r *Runner) Run(ctx context.Context, tables []config.TableSpec) MultiResult {
	runID := uuid.NewString()
	if r.newRunID != nil {
		runID = r.newRunID()
	}

	multi := MultiResult{RunID: runID, StartedAt: r.clock()}
	if r.Logf != nil {
		r.Logf("run=%s tables=%d dry_run=%v", runID, len(tables), r.DryRun)
	}

	for _, spec := range tables {
		p := &Pipeline{
			Source:    r.Source,
			Dest:      r.Dest,
			BatchSize: r.BatchSize,
			Backoff:   r.Backoff,
			DryRun:    r.DryRun,
			Logf:      r.Logf,
			now:       r.now,
			newRunID:  r.newRunID,
		}
		res, err := p.Run(ctx, spec)
		multi.Tables = append(multi.Tables, res)
		if err != nil && r.Logf != nil {
			r.Logf("table=%s fatal: %v", spec.Name, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	multi.FinishedAt = r.clock()
	multi.finalize()
	return multi
}
