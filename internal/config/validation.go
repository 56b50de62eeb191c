package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

var validWarehouseKinds = map[string]bool{
	"postgres": true,
	"mysql":    true,
	"mssql":    true,
	"sqlite":   true,
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Pipeline.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "must not be empty"})
	}
	if c.Source.Path == "" {
		errs = append(errs, ValidationError{Field: "source.path", Message: "must not be empty"})
	}
	switch c.Source.Charset {
	case "", "utf-8", "windows-1252":
	default:
		errs = append(errs, ValidationError{
			Field:   "source.charset",
			Message: fmt.Sprintf("unsupported charset %q (use utf-8 or windows-1252)", c.Source.Charset),
		})
	}

	if !validWarehouseKinds[c.Warehouse.Kind] {
		errs = append(errs, ValidationError{
			Field:   "warehouse.kind",
			Message: fmt.Sprintf("unsupported kind %q (use postgres, mysql, mssql or sqlite)", c.Warehouse.Kind),
		})
	}
	if c.Warehouse.DSN == "" {
		errs = append(errs, ValidationError{Field: "warehouse.dsn", Message: "must not be empty"})
	}
	if _, _, err := c.Warehouse.Calendar.Range(); err != nil {
		errs = append(errs, ValidationError{Field: "warehouse.calendar", Message: err.Error()})
	}

	if c.Runtime.BatchSize < 0 {
		errs = append(errs, ValidationError{Field: "runtime.batch_size", Message: "must not be negative"})
	}
	if c.Runtime.LoaderWorkers < 0 {
		errs = append(errs, ValidationError{Field: "runtime.loader_workers", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
