// Package postgres implements warehouse.Warehouse on top of pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"salesetl/internal/warehouse"
)

// calendarChunk bounds the parameter count of one dim_date insert
// (9 columns per row).
const calendarChunk = 500

// Warehouse implements warehouse.Warehouse for Postgres using ON CONFLICT
// upserts.
type Warehouse struct {
	pool *pgxpool.Pool
	cfg  warehouse.Config
}

// New creates a new Postgres-backed Warehouse.
func New(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Warehouse{pool: pool, cfg: cfg}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS dim_date (
		date_key    BIGINT PRIMARY KEY,
		full_date   DATE NOT NULL,
		year        INT NOT NULL,
		quarter     INT NOT NULL,
		month       INT NOT NULL,
		day         INT NOT NULL,
		day_of_week INT NOT NULL,
		month_name  TEXT NOT NULL,
		is_weekend  BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_customer (
		customer_key  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		customer_code TEXT NOT NULL UNIQUE,
		customer_name TEXT,
		city          TEXT,
		state         TEXT,
		region        TEXT,
		segment       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS dim_product (
		product_key  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		product_code TEXT NOT NULL UNIQUE,
		product_name TEXT,
		category     TEXT,
		unit_cost    DOUBLE PRECISION,
		unit_price   DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS dim_sales_rep (
		rep_key   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		rep_code  TEXT NOT NULL UNIQUE,
		rep_name  TEXT,
		region    TEXT,
		hire_date DATE
	)`,
	`CREATE TABLE IF NOT EXISTS fact_sales (
		sales_key    BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		date_key     BIGINT NOT NULL REFERENCES dim_date (date_key),
		customer_key BIGINT NOT NULL REFERENCES dim_customer (customer_key),
		product_key  BIGINT NOT NULL REFERENCES dim_product (product_key),
		rep_key      BIGINT NOT NULL REFERENCES dim_sales_rep (rep_key),
		quantity     BIGINT NOT NULL,
		unit_price   DOUBLE PRECISION NOT NULL,
		total_amount DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS etl_audit (
		audit_key         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id            TEXT NOT NULL,
		pipeline_name     TEXT NOT NULL,
		stage             TEXT NOT NULL,
		status            TEXT NOT NULL,
		table_name        TEXT,
		records_processed BIGINT NOT NULL DEFAULT 0,
		error_message     TEXT,
		start_time        TIMESTAMPTZ NOT NULL,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		logged_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the star schema tables if absent and populates the
// calendar range. Idempotent.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	cal := warehouse.CalendarRows(w.cfg.CalendarStart, w.cfg.CalendarEnd)
	for start := 0; start < len(cal); start += calendarChunk {
		end := min(start+calendarChunk, len(cal))
		sql, args := buildCalendarInsertSQL(warehouse.DateDimension, warehouse.CalendarColumns, cal[start:end])
		if _, err := w.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("populate %s: %w", warehouse.DateDimension, err)
		}
	}
	return nil
}

// UpsertDimensionRows bulk-upserts dimension rows by natural key.
func (w *Warehouse) UpsertDimensionRows(ctx context.Context, spec warehouse.DimensionSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildDimensionUpsertSQL(spec.Table, spec.Columns(), rows)
	cmd, err := w.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SelectSurrogates fetches natural key -> surrogate key for a key batch.
func (w *Warehouse) SelectSurrogates(ctx context.Context, spec warehouse.DimensionSpec, keys []any) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	sql, args := buildSurrogateSelectSQL(spec.Table, spec.NaturalKeyColumn, spec.SurrogateColumn, keys)
	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key any
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[warehouse.NormalizeKey(key)] = id
	}
	return out, rows.Err()
}

// UpsertFactRows bulk-upserts fact rows deduped on the spec's natural
// identity.
func (w *Warehouse) UpsertFactRows(ctx context.Context, spec warehouse.FactSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildFactUpsertSQL(spec.Table, spec.Columns, rows, spec.DedupeColumns)
	cmd, err := w.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// InsertAudit appends one audit record.
func (w *Warehouse) InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO etl_audit
			(run_id, pipeline_name, stage, status, table_name,
			 records_processed, error_message, start_time, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.RunID, rec.Pipeline, rec.Stage, rec.Status, rec.Table,
		rec.Records, rec.ErrorMessage, rec.StartTime, rec.Duration.Milliseconds(),
	)
	return err
}
