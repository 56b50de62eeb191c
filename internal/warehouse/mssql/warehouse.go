// Package mssql implements warehouse.Warehouse on top of database/sql and
// the go-mssqldb "sqlserver" driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver

	"salesetl/internal/warehouse"
)

// SQL Server has a hard limit of 2100 parameters per statement; with up to 9
// columns per row this stays comfortably below it.
const rowChunk = 200

// Warehouse implements warehouse.Warehouse for SQL Server.
type Warehouse struct {
	db  *sql.DB
	cfg warehouse.Config
}

// New creates a new SQL Server-backed Warehouse.
func New(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return &Warehouse{db: db, cfg: cfg}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.db.Close()
}

var ddl = []string{
	`IF OBJECT_ID('dim_date', 'U') IS NULL CREATE TABLE dim_date (
		date_key    BIGINT PRIMARY KEY,
		full_date   DATE NOT NULL,
		year        INT NOT NULL,
		quarter     INT NOT NULL,
		month       INT NOT NULL,
		day         INT NOT NULL,
		day_of_week INT NOT NULL,
		month_name  NVARCHAR(16) NOT NULL,
		is_weekend  BIT NOT NULL
	)`,
	`IF OBJECT_ID('dim_customer', 'U') IS NULL CREATE TABLE dim_customer (
		customer_key  BIGINT IDENTITY(1,1) PRIMARY KEY,
		customer_code NVARCHAR(64) NOT NULL UNIQUE,
		customer_name NVARCHAR(255),
		city          NVARCHAR(128),
		state         NVARCHAR(128),
		region        NVARCHAR(128),
		segment       NVARCHAR(128)
	)`,
	`IF OBJECT_ID('dim_product', 'U') IS NULL CREATE TABLE dim_product (
		product_key  BIGINT IDENTITY(1,1) PRIMARY KEY,
		product_code NVARCHAR(64) NOT NULL UNIQUE,
		product_name NVARCHAR(255),
		category     NVARCHAR(128),
		unit_cost    FLOAT,
		unit_price   FLOAT
	)`,
	`IF OBJECT_ID('dim_sales_rep', 'U') IS NULL CREATE TABLE dim_sales_rep (
		rep_key   BIGINT IDENTITY(1,1) PRIMARY KEY,
		rep_code  NVARCHAR(64) NOT NULL UNIQUE,
		rep_name  NVARCHAR(255),
		region    NVARCHAR(128),
		hire_date DATE
	)`,
	`IF OBJECT_ID('fact_sales', 'U') IS NULL CREATE TABLE fact_sales (
		sales_key    BIGINT IDENTITY(1,1) PRIMARY KEY,
		order_number NVARCHAR(64) NOT NULL UNIQUE,
		date_key     BIGINT NOT NULL REFERENCES dim_date (date_key),
		customer_key BIGINT NOT NULL REFERENCES dim_customer (customer_key),
		product_key  BIGINT NOT NULL REFERENCES dim_product (product_key),
		rep_key      BIGINT NOT NULL REFERENCES dim_sales_rep (rep_key),
		quantity     BIGINT NOT NULL,
		unit_price   FLOAT NOT NULL,
		total_amount FLOAT NOT NULL
	)`,
	`IF OBJECT_ID('etl_audit', 'U') IS NULL CREATE TABLE etl_audit (
		audit_key         BIGINT IDENTITY(1,1) PRIMARY KEY,
		run_id            NVARCHAR(64) NOT NULL,
		pipeline_name     NVARCHAR(128) NOT NULL,
		stage             NVARCHAR(32) NOT NULL,
		status            NVARCHAR(32) NOT NULL,
		table_name        NVARCHAR(128),
		records_processed BIGINT NOT NULL DEFAULT 0,
		error_message     NVARCHAR(MAX),
		start_time        DATETIME2 NOT NULL,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		logged_at         DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
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
	dim := warehouse.DimensionSpec{Table: warehouse.DateDimension, NaturalKeyColumn: "date_key"}
	for start := 0; start < len(cal); start += rowChunk {
		end := min(start+rowChunk, len(cal))
		sqlText, args := buildInsertMissingSQL(dim.Table, warehouse.CalendarColumns, []string{"date_key"}, cal[start:end])
		if _, err := w.db.ExecContext(ctx, sqlText, args...); err != nil {
			return fmt.Errorf("populate %s: %w", warehouse.DateDimension, err)
		}
	}
	return nil
}

// upsert runs the two-statement update+insert upsert inside one transaction,
// chunked to respect the parameter limit.
func (w *Warehouse) upsert(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += rowChunk {
		end := min(start+rowChunk, len(rows))
		part := rows[start:end]

		updSQL, updArgs := buildUpdateFromValuesSQL(table, columns, keyColumns, part)
		if _, err := tx.ExecContext(ctx, updSQL, updArgs...); err != nil {
			return 0, fmt.Errorf("update %s: %w", table, err)
		}

		insSQL, insArgs := buildInsertMissingSQL(table, columns, keyColumns, part)
		if _, err := tx.ExecContext(ctx, insSQL, insArgs...); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}

		// Every row in the chunk is either updated or inserted.
		total += int64(len(part))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// UpsertDimensionRows bulk-upserts dimension rows by natural key.
func (w *Warehouse) UpsertDimensionRows(ctx context.Context, spec warehouse.DimensionSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return w.upsert(ctx, spec.Table, spec.Columns(), []string{spec.NaturalKeyColumn}, rows)
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
	return w.upsert(ctx, spec.Table, spec.Columns, spec.DedupeColumns, rows)
}

// InsertAudit appends one audit record.
func (w *Warehouse) InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO etl_audit
			(run_id, pipeline_name, stage, status, table_name,
			 records_processed, error_message, start_time, duration_ms)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9)`,
		rec.RunID, rec.Pipeline, rec.Stage, rec.Status, rec.Table,
		rec.Records, rec.ErrorMessage, rec.StartTime, rec.Duration.Milliseconds(),
	)
	return err
}
