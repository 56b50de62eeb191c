// Package metrics defines a minimal backend seam for run telemetry.
//
// The pipeline depends only on this package; concrete backends (Datadog) live
// in subpackages and are wired at startup. The default backend is a no-op, so
// instrumentation calls are always safe.
package metrics

import "sync"

// Labels are metric tags (stage, status, dataset...).
type Labels map[string]string

// Backend is implemented by concrete metric sinks.
type Backend interface {
	// IncCounter adds delta to a named counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveDuration records one duration sample in seconds.
	ObserveDuration(name string, seconds float64, labels Labels)

	// Flush submits buffered metrics immediately.
	Flush() error

	// Close stops background work and performs a final flush.
	Close() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)      {}
func (nopBackend) ObserveDuration(string, float64, Labels) {}

func (nopBackend) Flush() error { return nil }
func (nopBackend) Close() error { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a named counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveDuration records one duration sample in seconds.
func ObserveDuration(name string, seconds float64, labels Labels) {
	current().ObserveDuration(name, seconds, labels)
}

// Flush submits buffered metrics on the installed backend.
func Flush() error { return current().Flush() }

// Close closes the installed backend.
func Close() error { return current().Close() }
