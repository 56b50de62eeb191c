package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"salesetl/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "salesetl",
	Short: "Flat-file sales ETL into a star-schema warehouse",
	Long: `salesetl moves flat-file sales data (CSV and HTML exports) into a
dimensional warehouse in a single three-stage run:

  Extract    read the source directory's datasets
  Transform  normalize, coerce types, deduplicate by natural key
  Load       upsert dimensions, resolve surrogate keys, upsert facts

Every stage transition is recorded in the warehouse's etl_audit table, and
reruns of the same input are idempotent.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "salesetl.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
}

// loadConfig loads the config file, applies CLI overrides, and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
