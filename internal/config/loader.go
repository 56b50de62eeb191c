package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfig returns a Config with sensible defaults. File values and CLI
// overrides are layered on top.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{Name: "sales_analytics_etl"},
		Source:   SourceConfig{Path: "data/raw"},
		Warehouse: WarehouseConfig{
			Kind: "postgres",
			Calendar: CalendarConfig{
				Start: "2020-01-01",
				End:   "2030-12-31",
			},
		},
		Runtime: RuntimeConfig{
			BatchSize:     1024,
			LoaderWorkers: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{Backend: "none"},
	}
}

// Load reads configuration from the specified YAML file and performs
// environment variable substitution on credential-bearing fields.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance. Useful for
// testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Warehouse.DSN = expandEnvVar(cfg.Warehouse.DSN)
	cfg.Source.Path = expandEnvVar(cfg.Source.Path)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
// Unset variables are left as-is so DSN fragments like $5 in passwords do not
// silently vanish.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
