// Package pipeline sequences one sync run: Extract → Transform → Load, with
// per-row failure isolation during load and fatal propagation for
// stage-level failures.
//
// Execution is single-threaded and strictly sequential: one extraction call,
// one in-memory transform pass, then batch-by-batch submission. Throughput is
// bounded by the destination's rate limits, so local concurrency would buy
// nothing and risk throttling.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spsync/internal/config"
	"spsync/internal/metrics"
	"spsync/internal/sharepoint"
	"spsync/internal/source"
	"spsync/internal/transform"
)

// Destination is the full load-side collaborator: list resolution plus item
// writes. *sharepoint.Client implements it.
type Destination interface {
	ResolveList(ctx context.Context, displayName string) (sharepoint.ListHandle, error)
	ListWriter
}

// Pipeline runs single-table syncs against a fixed source and destination.
type Pipeline struct {
	Source source.Source
	Dest   Destination

	// BatchSize is the global default; table specs may override it.
	BatchSize int

	// Backoff is the fixed delay before the single transient retry.
	Backoff time.Duration

	// DryRun stops after transform: extraction and mapping run for real,
	// nothing is written to the destination.
	DryRun bool

	Logf func(format string, v ...any)

	// Seams for deterministic tests.
	now      func() time.Time
	newRunID func() string
}

func (p *Pipeline) logf(format string, v ...any) {
	if p.Logf != nil {
		p.Logf(format, v...)
	}
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) runID() string {
	if p.newRunID != nil {
		return p.newRunID()
	}
	return uuid.NewString()
}

// Run executes one table's sync. The returned Result is always populated;
// the error is non-nil exactly when the run stopped fatally (Result.Err
// carries the same error).
//
// Completed runs satisfy Loaded + Failed == Transformed == Extracted.
func (p *Pipeline) Run(ctx context.Context, spec config.TableSpec) (Result, error) {
	res := Result{
		RunID:     p.runID(),
		Table:     spec.Name,
		List:      spec.List,
		StartedAt: p.clock(),
	}

	// Extract.
	stepStart := time.Now()
	rs, err := p.Source.Query(ctx, spec.Query)
	if err != nil {
		res.Err = &ConnectivityError{Stage: StageExtract, Err: err}
		metrics.StepDone(StageExtract, "error", spec.Name, time.Since(stepStart))
		return p.finish(res)
	}
	res.Extracted = rs.Len()
	metrics.StepDone(StageExtract, "ok", spec.Name, time.Since(stepStart))
	metrics.CountRows("extracted", spec.Name, res.Extracted)
	p.logf("table=%s stage=extract ok rows=%d duration=%s", spec.Name, res.Extracted, sinceMS(stepStart))

	// Transform. Total by construction: row count is preserved and no value
	// errors exist.
	stepStart = time.Now()
	mapper := transform.NewMapper(spec.FieldMap)
	rows := mapper.MapAll(rs)
	res.Transformed = len(rows)
	metrics.StepDone(StageTransform, "ok", spec.Name, time.Since(stepStart))
	p.logf("table=%s stage=transform ok rows=%d duration=%s", spec.Name, res.Transformed, sinceMS(stepStart))

	if p.DryRun {
		p.logf("table=%s dry-run: skipping load", spec.Name)
		return p.finish(res)
	}

	// Load.
	stepStart = time.Now()
	handle, err := p.Dest.ResolveList(ctx, spec.List)
	if err != nil {
		res.Err = &ConnectivityError{Stage: StageLoad, Err: err}
		metrics.StepDone(StageLoad, "error", spec.Name, time.Since(stepStart))
		return p.finish(res)
	}

	batchSize := spec.EffectiveBatchSize(p.BatchSize)
	batches, err := transform.Chunk(rows, batchSize)
	if err != nil {
		// Registry validation rejects non-positive sizes before any I/O;
		// reaching this means a caller bypassed it.
		res.Err = fmt.Errorf("table %s: %w", spec.Name, err)
		return p.finish(res)
	}

	loader := &Loader{Writer: p.Dest, Backoff: p.Backoff, Logf: p.Logf}
	outcomes, err := loader.Load(ctx, batches, p.loadSpec(spec, handle))
	for _, out := range outcomes {
		switch out.Kind {
		case OutcomeCreated:
			res.Created++
			res.Loaded++
		case OutcomeUpdated:
			res.Updated++
			res.Loaded++
		case OutcomeSkipped:
			res.Skipped++
			res.Loaded++
		case OutcomeFailed:
			res.Failed++
			res.Failures = append(res.Failures, RowFailure{
				Batch:  out.Batch,
				Row:    out.Row,
				Key:    out.Key,
				Reason: out.Reason,
			})
		}
	}
	metrics.CountRows("loaded", spec.Name, res.Loaded)
	metrics.CountRows("failed", spec.Name, res.Failed)
	if err != nil {
		res.Err = err
		metrics.StepDone(StageLoad, "error", spec.Name, time.Since(stepStart))
		return p.finish(res)
	}
	metrics.StepDone(StageLoad, "ok", spec.Name, time.Since(stepStart))
	p.logf("table=%s stage=load ok loaded=%d failed=%d batches=%d duration=%s",
		spec.Name, res.Loaded, res.Failed, len(batches), sinceMS(stepStart))

	return p.finish(res)
}

// loadSpec resolves the key and modified-time columns into target-row field
// names: a mapped column lands under its target name, an unmapped one keeps
// its source name. Tables without a key column still get a row identifier
// for failure records: the first mapped field stands in.
func (p *Pipeline) loadSpec(spec config.TableSpec, handle sharepoint.ListHandle) LoadSpec {
	ls := LoadSpec{
		Table:    spec.Name,
		Handle:   handle,
		Strategy: spec.EffectiveStrategy(),
		KeyField: spec.KeyField,
	}
	switch {
	case spec.KeyColumn != "":
		ls.RowKeyField = targetFieldFor(spec.FieldMap, spec.KeyColumn)
	case len(spec.FieldMap) > 0:
		ls.RowKeyField = spec.FieldMap[0].Target
	}
	if spec.ModifiedColumn != "" {
		ls.RowModifiedField = targetFieldFor(spec.FieldMap, spec.ModifiedColumn)
	}
	return ls
}

func targetFieldFor(fm []config.FieldMapping, column string) string {
	for _, m := range fm {
		if m.Source == column {
			return m.Target
		}
	}
	return column
}

func (p *Pipeline) finish(res Result) (Result, error) {
	res.FinishedAt = p.clock()
	res.finalize()
	p.logf("table=%s run=%s status=%s extracted=%d loaded=%d failed=%d",
		res.Table, res.RunID, res.Status, res.Extracted, res.Loaded, res.Failed)
	return res, res.Err
}

func sinceMS(start time.Time) time.Duration {
	return time.Since(start).Truncate(time.Millisecond)
}
