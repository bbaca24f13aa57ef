package pipeline

import "fmt"

// Stage names used in errors, logs and metrics.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageLoad      = "load"
)

// ConnectivityError is a fatal stage-level failure: the source or the
// destination could not be reached or refused the credential. The run stops at
// the named stage.
type ConnectivityError struct {
	Stage string
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("stage %s: connectivity: %v", e.Stage, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// BatchError is a fatal batch-level transport failure during load. Batch is
// the 1-based index of the batch that could not be submitted; earlier batches
// remain committed.
type BatchError struct {
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Batch, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
