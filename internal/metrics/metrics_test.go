package metrics

import "testing"

type recordingBackend struct {
	counters  map[string]float64
	durations map[string][]float64
}

func (r *recordingBackend) IncCounter(name string, delta float64, _ Labels) {
	r.counters[name] += delta
}

func (r *recordingBackend) ObserveDuration(name string, seconds float64, _ Labels) {
	r.durations[name] = append(r.durations[name], seconds)
}

func (r *recordingBackend) Flush() error { return nil }
func (r *recordingBackend) Close() error { return nil }

func TestPackageLevelFuncsUseInstalledBackend(t *testing.T) {
	rec := &recordingBackend{
		counters:  make(map[string]float64),
		durations: make(map[string][]float64),
	}
	SetBackend(rec)
	defer SetBackend(nil)

	IncCounter("etl.rows.loaded", 10, nil)
	IncCounter("etl.rows.loaded", 5, nil)
	ObserveDuration("etl.stage.duration", 1.5, nil)

	if rec.counters["etl.rows.loaded"] != 15 {
		t.Errorf("counter = %v, want 15", rec.counters["etl.rows.loaded"])
	}
	if len(rec.durations["etl.stage.duration"]) != 1 {
		t.Errorf("durations = %v", rec.durations)
	}
}

func TestNopBackendByDefault(t *testing.T) {
	SetBackend(nil)

	// Must not panic with no backend installed.
	IncCounter("x", 1, nil)
	ObserveDuration("y", 1, nil)
	if err := Flush(); err != nil {
		t.Errorf("Flush on nop backend: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("Close on nop backend: %v", err)
	}
}
