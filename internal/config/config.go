// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration for a salesetl run.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Source    SourceConfig    `mapstructure:"source"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// PipelineConfig names the pipeline for audit records and metrics tags.
type PipelineConfig struct {
	Name string `mapstructure:"name"`
}

// SourceConfig locates the raw flat files.
type SourceConfig struct {
	Path string `mapstructure:"path"`

	// Charset selects the source file encoding: "" / "utf-8" (default)
	// or "windows-1252" for legacy exports.
	Charset string `mapstructure:"charset"`
}

// WarehouseConfig selects and connects the warehouse backend.
type WarehouseConfig struct {
	// Kind is the backend kind: "postgres" | "mysql" | "mssql" | "sqlite".
	Kind string `mapstructure:"kind"`
	DSN  string `mapstructure:"dsn"`

	Calendar CalendarConfig `mapstructure:"calendar"`
}

// CalendarConfig bounds the pre-populated date dimension. Transaction dates
// outside this range fail resolution.
type CalendarConfig struct {
	Start string `mapstructure:"start"` // YYYY-MM-DD
	End   string `mapstructure:"end"`   // YYYY-MM-DD
}

// Range parses the configured bounds.
func (c CalendarConfig) Range() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", c.Start)
	if err != nil {
		return start, end, fmt.Errorf("calendar.start: %w", err)
	}
	end, err = time.Parse("2006-01-02", c.End)
	if err != nil {
		return start, end, fmt.Errorf("calendar.end: %w", err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("calendar.end %s before calendar.start %s", c.End, c.Start)
	}
	return start, end, nil
}

// RuntimeConfig controls load batching and concurrency.
type RuntimeConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	LoaderWorkers int `mapstructure:"loader_workers"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, or a file path
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend string `mapstructure:"backend"` // "datadog" or "none"
	Tags    string `mapstructure:"tags"`    // extra tags, comma separated "k:v,k:v"
}
