package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"salesetl/internal/warehouse"
	_ "salesetl/internal/warehouse/all"
)

var checkConnect bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and optionally check warehouse connectivity",
	Long: `Validate checks the configuration file: required fields, supported
warehouse kind and charset, and a well-formed calendar range.

With --connect it additionally opens the warehouse connection to verify the
DSN actually works.

Example:
  salesetl validate --config salesetl.yaml --connect`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&checkConnect, "connect", false,
		"Also open the warehouse connection")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cmd.Printf("Config file: %s\n", cfgFile)
	cmd.Printf("Pipeline:    %s\n", cfg.Pipeline.Name)
	cmd.Printf("Warehouse:   %s\n", cfg.Warehouse.Kind)
	cmd.Printf("Source:      %s\n", cfg.Source.Path)
	cmd.Printf("Calendar:    %s .. %s\n", cfg.Warehouse.Calendar.Start, cfg.Warehouse.Calendar.End)

	if checkConnect {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		calStart, calEnd, err := cfg.Warehouse.Calendar.Range()
		if err != nil {
			return err
		}
		wh, err := warehouse.Open(ctx, warehouse.Config{
			Kind:          cfg.Warehouse.Kind,
			DSN:           cfg.Warehouse.DSN,
			CalendarStart: calStart,
			CalendarEnd:   calEnd,
		})
		if err != nil {
			return fmt.Errorf("warehouse connection failed: %w", err)
		}
		wh.Close()
		cmd.Println("Warehouse connection OK")
	}

	cmd.Println("Configuration valid")
	return nil
}
