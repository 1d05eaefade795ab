package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relaywatch/internal/observability"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Database.Driver != "sqlite" || cfg.Database.Path != "data/relaywatch.db" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("default origins: %+v", cfg.CORS)
	}
	if cfg.Probe.RecoveryDelaySeconds != 600 || cfg.Probe.TriggerPerMinute != 6 || cfg.Probe.TriggerBurst != 3 {
		t.Fatalf("default probe config: %+v", cfg.Probe)
	}
	if cfg.Observer.ServiceName != "relaywatch" || cfg.Observer.SampleRatio != 1 {
		t.Fatalf("default observer config: %+v", cfg.Observer)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "relaywatch.yaml", `
listen_addr: ":9090"
database:
  driver: Postgres
  dsn: postgres://probe:secret@db:5432/relaywatch
probe:
  recovery_delay_seconds: 60
observability:
  service_name: probe-dev
  sample_ratio: 0.5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen addr: %+v", cfg)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver should be lowercased: %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://probe:secret@db:5432/relaywatch" {
		t.Fatalf("dsn: %q", cfg.Database.DSN)
	}
	if cfg.Probe.RecoveryDelaySeconds != 60 {
		t.Fatalf("recovery delay: %+v", cfg.Probe)
	}
	if cfg.Probe.TriggerPerMinute != 6 || cfg.Probe.TriggerBurst != 3 {
		t.Fatalf("unset fields keep defaults: %+v", cfg.Probe)
	}
	if cfg.Observer.ServiceName != "probe-dev" || cfg.Observer.SampleRatio != 0.5 {
		t.Fatalf("observer config: %+v", cfg.Observer)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "relaywatch.json",
		`{"listen_addr":":7070","cors":{"allowed_origins":["https://status.example"]}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("listen addr: %+v", cfg)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://status.example" {
		t.Fatalf("origins: %+v", cfg.CORS)
	}
}

func TestLoadConfigUnknownExtension(t *testing.T) {
	path := writeConfigFile(t, "relaywatch.conf", "listen_addr: \":6060\"\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("yaml fallback: %v", err)
	}
	if cfg.ListenAddr != ":6060" {
		t.Fatalf("listen addr: %+v", cfg)
	}

	path = writeConfigFile(t, "garbage.conf", "{{{{")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "not recognized") {
		t.Fatalf("unparseable content: %v", err)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfigFile(t, "bad.yaml", "listen_addr: [")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "parse yaml") {
		t.Fatalf("bad yaml: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestNormalizeConfigClamps(t *testing.T) {
	cfg := Config{
		Probe:    ProbeConfig{RecoveryDelaySeconds: -5, TriggerPerMinute: 0, TriggerBurst: -1},
		Observer: observability.Config{SampleRatio: 7},
	}
	normalizeConfig(&cfg)
	if cfg.ListenAddr != ":8080" || cfg.Database.Driver != "sqlite" || cfg.Database.MaxConns != 10 {
		t.Fatalf("normalized base config: %+v", cfg)
	}
	if cfg.Probe.RecoveryDelaySeconds != 600 || cfg.Probe.TriggerPerMinute != 6 || cfg.Probe.TriggerBurst != 3 {
		t.Fatalf("normalized probe config: %+v", cfg.Probe)
	}
	if cfg.Observer.ServiceName != "relaywatch" || cfg.Observer.SampleRatio != 1 {
		t.Fatalf("normalized observer config: %+v", cfg.Observer)
	}
}
