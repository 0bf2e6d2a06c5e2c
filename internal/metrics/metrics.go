// Package metrics is the backend-neutral metrics seam used by the ingest
// service. Callers record through the package-level functions; a backend
// (datadog, prompush) is installed once at startup with SetBackend. Until
// then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by the service.
const (
	RequestsTotal      = "ingest_requests_total"       // labels: status, kind
	RowsTotal          = "ingest_rows_total"           // labels: table
	SchemaChangesTotal = "ingest_schema_changes_total" // labels: action
	DurationSeconds    = "ingest_duration_seconds"     // labels: stage, status
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// ObserveDuration records time.Since(start) in seconds.
func ObserveDuration(name string, start time.Time, labels Labels) {
	current().ObserveHistogram(name, time.Since(start).Seconds(), labels)
}

// Flush pushes buffered observations, if the backend buffers.
func Flush() error {
	return current().Flush()
}
