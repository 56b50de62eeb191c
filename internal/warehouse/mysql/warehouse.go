// Package mysql implements warehouse.Warehouse on top of database/sql and
// the go-sql-driver. DSNs should carry parseTime=true so DATE columns scan
// as time.Time.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"salesetl/internal/warehouse"
)

const calendarChunk = 500

// Warehouse implements warehouse.Warehouse for MySQL using
// ON DUPLICATE KEY UPDATE upserts.
type Warehouse struct {
	db  *sql.DB
	cfg warehouse.Config
}

// New creates a new MySQL-backed Warehouse.
func New(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &Warehouse{db: db, cfg: cfg}, nil
}

// NewWithDB wraps an existing connection. For tests.
func NewWithDB(db *sql.DB, cfg warehouse.Config) *Warehouse {
	return &Warehouse{db: db, cfg: cfg}
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.db.Close()
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
		month_name  VARCHAR(16) NOT NULL,
		is_weekend  BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_customer (
		customer_key  BIGINT AUTO_INCREMENT PRIMARY KEY,
		customer_code VARCHAR(64) NOT NULL UNIQUE,
		customer_name VARCHAR(255),
		city          VARCHAR(128),
		state         VARCHAR(128),
		region        VARCHAR(128),
		segment       VARCHAR(128)
	)`,
	`CREATE TABLE IF NOT EXISTS dim_product (
		product_key  BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_code VARCHAR(64) NOT NULL UNIQUE,
		product_name VARCHAR(255),
		category     VARCHAR(128),
		unit_cost    DOUBLE,
		unit_price   DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS dim_sales_rep (
		rep_key   BIGINT AUTO_INCREMENT PRIMARY KEY,
		rep_code  VARCHAR(64) NOT NULL UNIQUE,
		rep_name  VARCHAR(255),
		region    VARCHAR(128),
		hire_date DATE
	)`,
	`CREATE TABLE IF NOT EXISTS fact_sales (
		sales_key    BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(64) NOT NULL UNIQUE,
		date_key     BIGINT NOT NULL,
		customer_key BIGINT NOT NULL,
		product_key  BIGINT NOT NULL,
		rep_key      BIGINT NOT NULL,
		quantity     BIGINT NOT NULL,
		unit_price   DOUBLE NOT NULL,
		total_amount DOUBLE NOT NULL,
		FOREIGN KEY (date_key) REFERENCES dim_date (date_key),
		FOREIGN KEY (customer_key) REFERENCES dim_customer (customer_key),
		FOREIGN KEY (product_key) REFERENCES dim_product (product_key),
		FOREIGN KEY (rep_key) REFERENCES dim_sales_rep (rep_key)
	)`,
	`CREATE TABLE IF NOT EXISTS etl_audit (
		audit_key         BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id            VARCHAR(64) NOT NULL,
		pipeline_name     VARCHAR(128) NOT NULL,
		stage             VARCHAR(32) NOT NULL,
		status            VARCHAR(32) NOT NULL,
		table_name        VARCHAR(128),
		records_processed BIGINT NOT NULL DEFAULT 0,
		error_message     TEXT,
		start_time        DATETIME NOT NULL,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		logged_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
//
// The returned count is len(rows): every row is either inserted or updated,
// and MySQL's affected-rows accounting (1 insert, 2 update, 0 no-change)
// would otherwise misreport records written.
func (w *Warehouse) UpsertDimensionRows(ctx context.Context, spec warehouse.DimensionSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sqlText, args := buildDimensionUpsertSQL(spec.Table, spec.Columns(), rows)
	if _, err := w.db.ExecContext(ctx, sqlText, args...); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
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
	if _, err := w.db.ExecContext(ctx, sqlText, args...); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// InsertAudit appends one audit record.
func (w *Warehouse) InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO etl_audit
			(run_id, pipeline_name, stage, status, table_name,
			 records_processed, error_message, start_time, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Pipeline, rec.Stage, rec.Status, rec.Table,
		rec.Records, rec.ErrorMessage, rec.StartTime, rec.Duration.Milliseconds(),
	)
	return err
}
