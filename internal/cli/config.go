package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/internal/solver"
)

// apiKeyEnv 覆寫 solver.api_key，避免把金鑰寫進設定檔
const apiKeyEnv = "YKT_API_KEY"

// Config represents the complete configuration file
// Maps config file fields through YAML tags
type Config struct {
	Orchestrator struct {
		MaxConcurrent int `yaml:"max_concurrent"`
	} `yaml:"orchestrator"`

	Solver struct {
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		Model       string        `yaml:"model"`
		Temperature *float64      `yaml:"temperature"` // 未設定時為 0.7；可明確設為 0
		Timeout     time.Duration `yaml:"timeout"`
		MinDuration time.Duration `yaml:"min_duration"` // 最短顯示時間，避免載入動畫閃爍
	} `yaml:"solver"`

	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`  // debug / info / warn / error
		Format string `yaml:"format"` // text / json
	} `yaml:"log"`
}

// applyDefaults 補上零值欄位
func (c *Config) applyDefaults() {
	if c.Orchestrator.MaxConcurrent == 0 {
		c.Orchestrator.MaxConcurrent = orchestrator.DefaultMaxConcurrent
	}
	if c.Solver.Model == "" {
		c.Solver.Model = solver.DefaultModel
	}
	if c.Solver.Temperature == nil {
		temperature := solver.DefaultTemperature
		c.Solver.Temperature = &temperature
	}
	if c.Solver.Timeout == 0 {
		c.Solver.Timeout = solver.DefaultTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8787"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) solverConfig() solver.Config {
	return solver.Config{
		BaseURL:     c.Solver.BaseURL,
		APIKey:      c.Solver.APIKey,
		Model:       c.Solver.Model,
		Temperature: c.Solver.Temperature,
		Timeout:     c.Solver.Timeout,
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.Orchestrator.MaxConcurrent < 0 {
		return nil, fmt.Errorf("invalid orchestrator.max_concurrent %d: %w",
			cfg.Orchestrator.MaxConcurrent, orchestrator.ErrInvalidConcurrency)
	}

	if key := strings.TrimSpace(os.Getenv(apiKeyEnv)); key != "" {
		cfg.Solver.APIKey = key
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// newLogger 依 log.level / log.format 建立 slog logger
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
