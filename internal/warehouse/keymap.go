package warehouse

import (
	"sync"
	"time"
)

// SurrogateKeyMap holds the natural-key -> surrogate-key mappings built by
// the dimension loads of a single run. It is an explicit value handed from
// the dimension loader to the fact loader, never cached across runs.
//
// Transaction dates resolve through the deterministic calendar instead of a
// stored mapping: the key is computable, only the range needs checking.
type SurrogateKeyMap struct {
	mu   sync.Mutex
	dims map[string]map[string]int64

	calStart, calEnd time.Time
}

// NewSurrogateKeyMap creates an empty map whose date resolution accepts
// [calStart, calEnd].
func NewSurrogateKeyMap(calStart, calEnd time.Time) *SurrogateKeyMap {
	return &SurrogateKeyMap{
		dims:     make(map[string]map[string]int64),
		calStart: time.Date(calStart.Year(), calStart.Month(), calStart.Day(), 0, 0, 0, 0, time.UTC),
		calEnd:   time.Date(calEnd.Year(), calEnd.Month(), calEnd.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// Merge adds one dimension's key mappings. Safe for concurrent dimension
// loads; each dimension's key space has a single producer.
func (m *SurrogateKeyMap) Merge(table string, kv map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst := m.dims[table]
	if dst == nil {
		dst = make(map[string]int64, len(kv))
		m.dims[table] = dst
	}
	for k, v := range kv {
		dst[k] = v
	}
}

// Lookup resolves a natural key against one dimension table. Keys are
// normalized with NormalizeKey before lookup.
func (m *SurrogateKeyMap) Lookup(table string, key any) (int64, bool) {
	nk := NormalizeKey(key)
	if nk == "" {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kv := m.dims[table]
	if kv == nil {
		return 0, false
	}
	id, ok := kv[nk]
	return id, ok
}

// DateKey resolves a transaction date to its calendar surrogate. A date
// outside the configured range is a resolution miss.
func (m *SurrogateKeyMap) DateKey(t time.Time) (int64, bool) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(m.calStart) || day.After(m.calEnd) {
		return 0, false
	}
	return DateKey(day), true
}

// Size returns the number of mappings held for a table. For tests and logs.
func (m *SurrogateKeyMap) Size(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dims[table])
}
