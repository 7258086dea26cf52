package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"backscan/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backscan platform.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Scan     ScanConfig     `yaml:"scan"`
	Backtest BacktestConfig `yaml:"backtest"`
	Runs     RunsConfig     `yaml:"runs"`
}

// Storage holds paths for data persistence. DataDir is the root for both
// the parquet layout and the per-market research databases; SQLitePath,
// when set, pins every market to one explicit database file.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls data gathering behaviour per market.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// ScanConfig bounds the concurrent scan pipeline. Zero values fall back to
// runtime defaults (workers derived from CPU count).
type ScanConfig struct {
	MaxWorkers    int `yaml:"max_workers"`
	RowsPerSymbol int `yaml:"rows_per_symbol"`
}

// BacktestConfig supplies simulation defaults applied to requests that omit
// the corresponding fields.
type BacktestConfig struct {
	InitialCash    float64 `yaml:"initial_cash"`
	MaxPositions   int     `yaml:"max_positions"`
	PositionPct    float64 `yaml:"position_pct"`
	CommissionRate float64 `yaml:"commission_rate"`
	Slippage       float64 `yaml:"slippage"`
	HoldingBars    int     `yaml:"holding_bars"`
}

// RunsConfig controls persistence of finished scan/backtest run summaries.
type RunsConfig struct {
	HistoryPath string `yaml:"history_path"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyBacktestDefaults(&cfg.Backtest)

	return cfg, nil
}

// applyBacktestDefaults fills simulation fields an abbreviated config file
// leaves at zero. The engine itself treats zero rates as zero cost; the
// config layer is where the reference rates come from, so a config without a
// backtest block still produces realistic fills. An explicit zero rate has
// to be requested per run (CLI flag or request field).
func applyBacktestDefaults(bt *BacktestConfig) {
	if bt.InitialCash == 0 {
		bt.InitialCash = domain.DefaultInitialCash
	}
	if bt.MaxPositions <= 0 {
		bt.MaxPositions = domain.DefaultMaxPositions
	}
	if bt.PositionPct == 0 {
		bt.PositionPct = domain.DefaultPositionPct
	}
	if bt.CommissionRate == 0 {
		bt.CommissionRate = domain.DefaultCommissionRate
	}
	if bt.Slippage == 0 {
		bt.Slippage = domain.DefaultSlippage
	}
	if bt.HoldingBars <= 0 {
		bt.HoldingBars = domain.DefaultHoldingBars
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_1"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("RUN_HISTORY_PATH"); v != "" {
		cfg.Runs.HistoryPath = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
