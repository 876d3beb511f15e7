// Package config defines all configuration for the simulation runner.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via SIM_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Scenario  ScenarioConfig  `mapstructure:"scenario"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Export    ExportConfig    `mapstructure:"export"`
	Store     StoreConfig     `mapstructure:"store"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// EngineConfig selects and parameterizes the execution engine.
//
//   - Type:        CLOB, LMSR or HYBRID.
//   - B:           LMSR liquidity parameter (> 0).
//   - TickSize:    CLOB price granularity (> 0, at most 0.01).
//   - RoutingMode: CLOB_FIRST, LMSR_FIRST or SPREAD_BASED (hybrid only).
//   - MaxSpread:   spread threshold for SPREAD_BASED routing.
//   - MinDepth:    depth threshold for SPREAD_BASED routing.
//   - DepthTicks:  how many top levels count toward depth (>= 1).
type EngineConfig struct {
	Type        string `mapstructure:"type"`
	B           string `mapstructure:"b"`
	TickSize    string `mapstructure:"tick_size"`
	RoutingMode string `mapstructure:"routing_mode"`
	MaxSpread   string `mapstructure:"max_spread"`
	MinDepth    string `mapstructure:"min_depth"`
	DepthTicks  int    `mapstructure:"depth_ticks"`
}

// ScenarioConfig selects the synthetic workload.
type ScenarioConfig struct {
	Name          string  `mapstructure:"name"`
	Seed          uint32  `mapstructure:"seed"`
	NumTraders    int     `mapstructure:"num_traders"`
	InitialCash   string  `mapstructure:"initial_cash"`
	InitialShares string  `mapstructure:"initial_shares"`
	NumOrders     int     `mapstructure:"num_orders"`
	TimeWindow    float64 `mapstructure:"time_window"`
	ArrivalRate   float64 `mapstructure:"arrival_rate"`
	Outcome       string  `mapstructure:"settle_outcome"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExportConfig sets where run artifacts are written. Empty paths disable
// the corresponding artifact.
type ExportConfig struct {
	LogsJSON   string `mapstructure:"logs_json"`
	ResultsCSV string `mapstructure:"results_csv"`
	Golden     string `mapstructure:"golden"`
}

// StoreConfig sets where the run archive database lives. Empty disables
// archiving.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DashboardConfig controls the read-only results server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with SIM_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.type", "HYBRID")
	v.SetDefault("engine.b", "100")
	v.SetDefault("engine.tick_size", "0.01")
	v.SetDefault("engine.routing_mode", "CLOB_FIRST")
	v.SetDefault("engine.max_spread", "0.05")
	v.SetDefault("engine.min_depth", "10")
	v.SetDefault("engine.depth_ticks", 5)
	v.SetDefault("scenario.name", "baseline")
	v.SetDefault("scenario.seed", 42)
	v.SetDefault("scenario.settle_outcome", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8089)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Engine.Type {
	case "CLOB", "LMSR", "HYBRID":
	default:
		return fmt.Errorf("engine.type must be one of: CLOB, LMSR, HYBRID (got %q)", c.Engine.Type)
	}
	switch c.Engine.RoutingMode {
	case "CLOB_FIRST", "LMSR_FIRST", "SPREAD_BASED":
	default:
		return fmt.Errorf("engine.routing_mode must be one of: CLOB_FIRST, LMSR_FIRST, SPREAD_BASED (got %q)", c.Engine.RoutingMode)
	}
	if c.Engine.DepthTicks < 1 {
		return fmt.Errorf("engine.depth_ticks must be >= 1")
	}
	switch c.Scenario.Outcome {
	case "", "YES", "NO":
	default:
		return fmt.Errorf("scenario.settle_outcome must be YES, NO or empty (got %q)", c.Scenario.Outcome)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid port, got %d", c.Dashboard.Port)
	}
	return nil
}
