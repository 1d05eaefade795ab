package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"relaywatch/internal/observability"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string               `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig       `json:"database" yaml:"database"`
	CORS       CORSConfig           `json:"cors" yaml:"cors"`
	Probe      ProbeConfig          `json:"probe" yaml:"probe"`
	Observer   observability.Config `json:"observability" yaml:"observability"`
}

// DatabaseConfig selects the backing store. Driver is "sqlite" (Path
// names the database file) or "postgres" (DSN names the server).
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	Path     string `json:"path" yaml:"path"`
	DSN      string `json:"dsn" yaml:"dsn"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns"`
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// ProbeConfig tunes the scheduler's failure backoff and the per-client
// budget of the manual trigger endpoint.
type ProbeConfig struct {
	RecoveryDelaySeconds int `json:"recovery_delay_seconds" yaml:"recovery_delay_seconds"`
	TriggerPerMinute     int `json:"trigger_per_minute" yaml:"trigger_per_minute"`
	TriggerBurst         int `json:"trigger_burst" yaml:"trigger_burst"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     "data/relaywatch.db",
			MaxConns: 10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Probe: ProbeConfig{
			RecoveryDelaySeconds: 600,
			TriggerPerMinute:     6,
			TriggerBurst:         3,
		},
		Observer: observability.Config{
			ServiceName: "relaywatch",
			SampleRatio: 1,
		},
	}
}

// LoadConfig reads the file at path as YAML or JSON, chosen by
// extension. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return cfg, fmt.Errorf("config format not recognized (expected yaml or json)")
			}
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = "data/relaywatch.db"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Probe.RecoveryDelaySeconds <= 0 {
		cfg.Probe.RecoveryDelaySeconds = 600
	}
	if cfg.Probe.TriggerPerMinute <= 0 {
		cfg.Probe.TriggerPerMinute = 6
	}
	if cfg.Probe.TriggerBurst <= 0 {
		cfg.Probe.TriggerBurst = 3
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "relaywatch"
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
}
