// Package metrics is a minimal facade between the sync pipeline and a
// metrics backend. The pipeline emits counters and histograms through
// package-level functions; the process wires a concrete backend (Datadog) at
// startup via SetBackend, or leaves the default nop in place.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are free-form metric dimensions (step, status, kind, table).
type Labels map[string]string

// Backend receives metric writes. Implementations must be safe for
// concurrent use and must never block the caller on network I/O; buffering
// plus Flush is the expected model.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forces buffered metrics out. Callers usually defer this at process
// exit.
func Flush() error {
	return current().Flush()
}

// StepDone records one pipeline step completion with its duration.
// status is "ok" or "error".
func StepDone(step, status, table string, d time.Duration) {
	labels := Labels{"step": step, "status": status, "table": table}
	IncCounter("sync_step_total", 1, labels)
	ObserveHistogram("sync_step_duration_seconds", d.Seconds(), labels)
}

// CountRows adds to the per-kind row counter (extracted, loaded, failed).
func CountRows(kind, table string, n int) {
	if n <= 0 {
		return
	}
	IncCounter("sync_rows_total", float64(n), Labels{"kind": kind, "table": table})
}

// CountBatch counts one submitted batch.
func CountBatch(table string) {
	IncCounter("sync_batches_total", 1, Labels{"table": table})
}

// CountHTTPRequest counts one destination API call by operation and HTTP
// status. status 0 means the request never got a response.
func CountHTTPRequest(op string, status int) {
	IncCounter("sync_http_requests_total", 1, Labels{"op": op, "status": strconv.Itoa(status)})
}
