package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
	Risk           RiskConfig           `yaml:"risk" mapstructure:"risk"`
	Benchmark      BenchmarkConfig      `yaml:"benchmark" mapstructure:"benchmark"`
	Duplicate      DuplicateConfig      `yaml:"duplicate" mapstructure:"duplicate"`
	Compliance     ComplianceConfig     `yaml:"compliance" mapstructure:"compliance"`
	Policy         PolicyConfig         `yaml:"policy" mapstructure:"policy"`
	Counterfactual CounterfactualConfig `yaml:"counterfactual" mapstructure:"counterfactual"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RiskConfig configures the orchestrator and arithmetic checks.
type RiskConfig struct {
	// Tolerance is the absolute amount, in minor currency units, by which a
	// declared total may differ from the recomputed one before it counts as
	// a mismatch.
	Tolerance         float64            `yaml:"tolerance" mapstructure:"tolerance"`
	MaxContribDetails int                `yaml:"max_contrib_details" mapstructure:"max_contrib_details"`
	PriorWeights      map[string]float64 `yaml:"prior_weights" mapstructure:"prior_weights"`
}

// BenchmarkConfig configures the price baseline engine.
type BenchmarkConfig struct {
	MinSamples int     `yaml:"min_samples" mapstructure:"min_samples"`
	ZCap       float64 `yaml:"z_cap" mapstructure:"z_cap"`
	ScaleFloor float64 `yaml:"scale_floor" mapstructure:"scale_floor"`
}

// DuplicateConfig configures duplicate detection rules.
type DuplicateConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	AmountTolerance     float64 `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
}

// ComplianceConfig configures the regulatory-ID verification adapter.
type ComplianceConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // none, fixture, http
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	FixturePath string  `yaml:"fixture_path" mapstructure:"fixture_path"`
}

// PolicyConfig configures the adaptive weighting policy.
type PolicyConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Epsilon      float64 `yaml:"epsilon" mapstructure:"epsilon"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
}

// CounterfactualConfig bounds what-if evaluations.
type CounterfactualConfig struct {
	MaxLines    int     `yaml:"max_lines" mapstructure:"max_lines"`
	MaxDeltaPct float64 `yaml:"max_delta_pct" mapstructure:"max_delta_pct"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "risk-engine.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("risk.tolerance", 0.5)
	v.SetDefault("risk.max_contrib_details", 8)
	v.SetDefault("risk.prior_weights", map[string]float64{
		"market_outlier": 0.30,
		"arithmetic":     0.25,
		"duplicate":      0.25,
		"gst_compliance": 0.20,
	})
	v.SetDefault("benchmark.min_samples", 5)
	v.SetDefault("benchmark.z_cap", 6.0)
	v.SetDefault("benchmark.scale_floor", 0.01)
	v.SetDefault("duplicate.similarity_threshold", 0.82)
	v.SetDefault("duplicate.amount_tolerance", 0.5)
	v.SetDefault("compliance.provider", "none")
	v.SetDefault("compliance.timeout_secs", 10)
	v.SetDefault("compliance.rate_per_sec", 5)
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.epsilon", 0.1)
	v.SetDefault("policy.learning_rate", 0.2)
	v.SetDefault("counterfactual.max_lines", 200)
	v.SetDefault("counterfactual.max_delta_pct", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
