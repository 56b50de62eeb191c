// Package warehouse defines the backend-agnostic interface to the star
// schema warehouse, plus the shared schema specs and the surrogate key map
// the loaders exchange.
package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a warehouse backend.
type Config struct {
	// Kind must match a registered backend kind
	// ("postgres", "mysql", "mssql", "sqlite").
	Kind string
	DSN  string

	// CalendarStart/CalendarEnd bound the pre-populated date dimension.
	CalendarStart time.Time
	CalendarEnd   time.Time
}

// Warehouse is the backend-agnostic interface consumed by the dimension and
// fact loaders and the audit recorder. Each backend implements the upsert
// semantics in its own dialect (Postgres and SQLite ON CONFLICT, MySQL ON
// DUPLICATE KEY, SQL Server update-then-insert).
type Warehouse interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates the star schema tables if absent and populates
	// the date dimension for the configured calendar range. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertDimensionRows writes dimension rows keyed by natural key:
	// existing rows are updated in place (surrogate keys are never
	// reassigned), new rows are inserted with a fresh surrogate key.
	// Rows are ordered [natural_key, attributes...] per spec.Columns().
	// Returns the number of rows written (inserted + updated).
	UpsertDimensionRows(ctx context.Context, spec DimensionSpec, rows [][]any) (int64, error)

	// SelectSurrogates returns natural key -> surrogate key for the given
	// keys. Keys absent from the dimension are simply missing from the
	// result, not an error.
	SelectSurrogates(ctx context.Context, spec DimensionSpec, keys []any) (map[string]int64, error)

	// UpsertFactRows bulk-writes fact rows, insert-or-update on the fact's
	// dedupe columns so re-ingesting identical transactions does not
	// inflate fact counts. Rows are ordered per spec.Columns.
	UpsertFactRows(ctx context.Context, spec FactSpec, rows [][]any) (int64, error)

	// InsertAudit appends one audit record. Callers treat failures as
	// non-fatal; see pipeline.Recorder.
	InsertAudit(ctx context.Context, rec AuditRecord) error
}

// LoadError marks a terminal dimension or fact write failure. It aborts the
// whole Load stage.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a warehouse backend under a kind. Called from init() in
// backend packages. Registering the same kind twice panics to fail fast on
// ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("warehouse: Register called with empty kind")
	}
	if f == nil {
		panic("warehouse: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("warehouse: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Warehouse using the registered backend factory.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("warehouse: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported warehouse.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
