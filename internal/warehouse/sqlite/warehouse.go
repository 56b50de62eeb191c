// Package sqlite implements warehouse.Warehouse on top of modernc.org/sqlite
// (pure Go, no cgo). It is the backend of choice for local development and
// for exercising the full load path in tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"salesetl/internal/warehouse"
)

const calendarChunk = 500

// Warehouse implements warehouse.Warehouse for SQLite using ON CONFLICT
// upserts.
type Warehouse struct {
	db  *sql.DB
	cfg warehouse.Config
}

// New creates a new SQLite-backed Warehouse. DSN is a file path or
// ":memory:".
func New(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; a larger pool only produces
	// SQLITE_BUSY under concurrent loads.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Warehouse{db: db, cfg: cfg}, nil
}

// Close closes the database.
func (w *Warehouse) Close() {
	w.db.Close()
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS dim_date (
		date_key    INTEGER PRIMARY KEY,
		full_date   TEXT NOT NULL,
		year        INTEGER NOT NULL,
		quarter     INTEGER NOT NULL,
		month       INTEGER NOT NULL,
		day         INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		month_name  TEXT NOT NULL,
		is_weekend  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_customer (
		customer_key  INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_code TEXT NOT NULL UNIQUE,
		customer_name TEXT,
		city          TEXT,
		state         TEXT,
		region        TEXT,
		segment       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS dim_product (
		product_key  INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL UNIQUE,
		product_name TEXT,
		category     TEXT,
		unit_cost    REAL,
		unit_price   REAL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_sales_rep (
		rep_key   INTEGER PRIMARY KEY AUTOINCREMENT,
		rep_code  TEXT NOT NULL UNIQUE,
		rep_name  TEXT,
		region    TEXT,
		hire_date TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS fact_sales (
		sales_key    INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT NOT NULL UNIQUE,
		date_key     INTEGER NOT NULL REFERENCES dim_date (date_key),
		customer_key INTEGER NOT NULL REFERENCES dim_customer (customer_key),
		product_key  INTEGER NOT NULL REFERENCES dim_product (product_key),
		rep_key      INTEGER NOT NULL REFERENCES dim_sales_rep (rep_key),
		quantity     INTEGER NOT NULL,
		unit_price   REAL NOT NULL,
		total_amount REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS etl_audit (
		audit_key         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id            TEXT NOT NULL,
		pipeline_name     TEXT NOT NULL,
		stage             TEXT NOT NULL,
		status            TEXT NOT NULL,
		table_name        TEXT,
		records_processed INTEGER NOT NULL DEFAULT 0,
		error_message     TEXT,
		start_time        TEXT NOT NULL,
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		logged_at         TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
}

// EnsureSchema creates the star schema tables if absent and populates the
// calendar range. Idempotent.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	cal := warehouse.CalendarRows(w.cfg.CalendarStart, w.cfg.CalendarEnd)
	for start := 0; start < len(cal); start += calendarChunk {
		end := min(start+calendarChunk, len(cal))
		sqlText, args := buildCalendarInsertSQL(warehouse.DateDimension, warehouse.CalendarColumns, cal[start:end])
		if _, err := w.db.ExecContext(ctx, sqlText, args...); err != nil {
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
	sqlText, args := buildDimensionUpsertSQL(spec.Table, spec.Columns(), rows)
	res, err := w.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SelectSurrogates fetches natural key -> surrogate key for a key batch.
func (w *Warehouse) SelectSurrogates(ctx context.Context, spec warehouse.DimensionSpec, keys []any) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	sqlText, args := buildSurrogateSelectSQL(spec.Table, spec.NaturalKeyColumn, spec.SurrogateColumn, keys)
	rows, err := w.db.QueryContext(ctx, sqlText, args...)
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
	sqlText, args := buildFactUpsertSQL(spec.Table, spec.Columns, rows, spec.DedupeColumns)
	res, err := w.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAudit appends one audit record.
func (w *Warehouse) InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO etl_audit
			(run_id, pipeline_name, stage, status, table_name,
			 records_processed, error_message, start_time, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Pipeline, rec.Stage, rec.Status, rec.Table,
		rec.Records, rec.ErrorMessage, rec.StartTime.UTC().Format("2006-01-02 15:04:05"),
		rec.Duration.Milliseconds(),
	)
	return err
}

// sqIdent quotes an identifier for SQLite.
func sqIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func buildDimensionUpsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	b.WriteString(sqIdent(columns[0]))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

func buildFactUpsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	writeIdentList(&b, dedupeColumns)
	b.WriteString(") DO UPDATE SET ")

	dedupe := make(map[string]bool, len(dedupeColumns))
	for _, c := range dedupeColumns {
		dedupe[c] = true
	}
	first := true
	for _, c := range columns {
		if dedupe[c] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(sqIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

func buildCalendarInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")
	args := writeValuePlaceholders(&b, columns, rows)
	b.WriteString(" ON CONFLICT (")
	b.WriteString(sqIdent(columns[0]))
	b.WriteString(") DO NOTHING;")
	return b.String(), args
}

func buildSurrogateSelectSQL(table, keyColumn, surrogateColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(sqIdent(keyColumn))
	b.WriteString(", ")
	b.WriteString(sqIdent(surrogateColumn))
	b.WriteString(" FROM ")
	b.WriteString(sqIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(sqIdent(keyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, k)
	}
	b.WriteString(");")
	return b.String(), args
}

func writeIdentList(b *strings.Builder, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqIdent(c))
	}
}

func writeValuePlaceholders(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	return args
}
