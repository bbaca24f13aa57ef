package pipeline

import (
	"context"
	"fmt"
	"time"

	"spsync/internal/metrics"
	"spsync/internal/sharepoint"
	"spsync/internal/transform"
)

// ListWriter is the destination collaborator consumed by the Loader.
// *sharepoint.Client implements it; tests inject fakes.
type ListWriter interface {
	CreateItem(ctx context.Context, h sharepoint.ListHandle, fields map[string]any) (string, error)
	UpdateItem(ctx context.Context, h sharepoint.ListHandle, itemID string, fields map[string]any) error
	ItemIndex(ctx context.Context, h sharepoint.ListHandle, keyField string) (map[string]sharepoint.ItemRef, error)
}

// LoadSpec is the resolved per-table load plan.
//
// RowKeyField/RowModifiedField are target-row field names (i.e. after the
// field mapping ran); KeyField is the destination list's field name used to
// build the remote index. They usually coincide, but a key column mapped to a
// different list field keeps them distinct.
type LoadSpec struct {
	Table    string
	Handle   sharepoint.ListHandle
	Strategy string

	KeyField         string
	RowKeyField      string
	RowModifiedField string
}

// RowOutcome is one row's load result, keyed to input order.
type RowOutcome struct {
	Kind   string // OutcomeCreated, OutcomeUpdated, OutcomeSkipped, OutcomeFailed
	Batch  int    // 1-based
	Row    int    // 0-based, input order across the run
	Key    string
	Reason string // remote error text for OutcomeFailed
}

// Loader submits batches of target rows to a destination list.
//
// Failure contract (the one real invariant in this program):
//   - a row the remote rejects is recorded and NEVER stops the run
//   - a transport failure gets one retry with fixed backoff when transient,
//     then stops the run fatally with the failing batch index
//   - auth failures stop immediately; retrying an expired credential is
//     pointless
type Loader struct {
	Writer  ListWriter
	Backoff time.Duration
	Logf    func(format string, v ...any)

	// sleep is a test seam; production uses time.Sleep.
	sleep func(d time.Duration)
}

func (l *Loader) logf(format string, v ...any) {
	if l.Logf != nil {
		l.Logf(format, v...)
	}
}

func (l *Loader) pause() {
	if l.sleep != nil {
		l.sleep(l.Backoff)
		return
	}
	time.Sleep(l.Backoff)
}

// submit runs fn, retrying exactly once after a fixed backoff when the
// failure is transient. Any other failure, and a second transient failure,
// return as-is.
func (l *Loader) submit(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !sharepoint.IsTransient(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	l.logf("transient transport error, retrying once after %s: %v", l.Backoff, err)
	l.pause()
	return fn()
}

// Load submits every row of every batch in order and returns per-row
// outcomes. On a fatal transport failure it returns the outcomes recorded so
// far plus a *BatchError naming the failing batch; rows after that point were
// never attempted.
func (l *Loader) Load(ctx context.Context, batches [][]transform.TargetRow, spec LoadSpec) ([]RowOutcome, error) {
	var index map[string]sharepoint.ItemRef
	if spec.Strategy != "" && spec.Strategy != "create" && spec.KeyField != "" {
		var err error
		err = l.submit(ctx, func() error {
			var ierr error
			index, ierr = l.Writer.ItemIndex(ctx, spec.Handle, spec.KeyField)
			return ierr
		})
		if err != nil {
			return nil, &ConnectivityError{Stage: StageLoad, Err: fmt.Errorf("index %s by %s: %w", spec.Handle.Name, spec.KeyField, err)}
		}
		l.logf("table=%s indexed existing items count=%d key=%s", spec.Table, len(index), spec.KeyField)
	}

	var outcomes []RowOutcome
	rowNum := 0
	for bi, batch := range batches {
		batchNo := bi + 1
		l.logf("table=%s batch=%d/%d size=%d", spec.Table, batchNo, len(batches), len(batch))
		metrics.CountBatch(spec.Table)

		for _, row := range batch {
			out, err := l.submitRow(ctx, spec, index, row)
			if err != nil {
				return outcomes, &BatchError{Batch: batchNo, Err: err}
			}
			out.Batch = batchNo
			out.Row = rowNum
			outcomes = append(outcomes, out)
			rowNum++
		}
	}
	return outcomes, nil
}

// submitRow creates or updates one item per the conflict strategy. A non-nil
// error is always fatal for the run; remote row rejections come back as an
// OutcomeFailed with no error.
func (l *Loader) submitRow(ctx context.Context, spec LoadSpec, index map[string]sharepoint.ItemRef, row transform.TargetRow) (RowOutcome, error) {
	var key string
	if spec.RowKeyField != "" {
		key = row.Key(spec.RowKeyField)
	}
	fields := row.Fields()

	if index != nil && key != "" {
		if ref, ok := index[key]; ok {
			if spec.Strategy == "upsert-if-newer" && spec.RowModifiedField != "" {
				if src, ok := parseRowTime(row.Key(spec.RowModifiedField)); ok && !src.After(ref.Modified) {
					return RowOutcome{Kind: OutcomeSkipped, Key: key}, nil
				}
			}
			err := l.submit(ctx, func() error {
				return l.Writer.UpdateItem(ctx, spec.Handle, ref.ID, fields)
			})
			if err == nil {
				return RowOutcome{Kind: OutcomeUpdated, Key: key}, nil
			}
			if sharepoint.IsRowRejection(err) {
				return RowOutcome{Kind: OutcomeFailed, Key: key, Reason: err.Error()}, nil
			}
			return RowOutcome{}, err
		}
	}

	var itemID string
	err := l.submit(ctx, func() error {
		var cerr error
		itemID, cerr = l.Writer.CreateItem(ctx, spec.Handle, fields)
		return cerr
	})
	if err == nil {
		if index != nil && key != "" {
			// Later rows with the same key in this run must update, not
			// duplicate.
			index[key] = sharepoint.ItemRef{ID: itemID, Modified: time.Now().UTC()}
		}
		return RowOutcome{Kind: OutcomeCreated, Key: key}, nil
	}
	if sharepoint.IsRowRejection(err) {
		return RowOutcome{Kind: OutcomeFailed, Key: key, Reason: err.Error()}, nil
	}
	return RowOutcome{}, err
}

// parseRowTime parses the coerced RFC-3339 form a mapped timestamp takes in a
// target row.
func parseRowTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
