package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wphunter.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	def := DefaultConfig()
	if cfg.DBPath != def.DBPath || cfg.APIURL != def.APIURL {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second || cfg.DownloadTimeout != 60*time.Second {
		t.Errorf("unexpected timeouts: %v / %v", cfg.RequestTimeout, cfg.DownloadTimeout)
	}
	if cfg.HighRiskThreshold != 40 || cfg.Workers != 1 {
		t.Errorf("unexpected threshold/workers: %d/%d", cfg.HighRiskThreshold, cfg.Workers)
	}
}

func TestLoadFromFileOverrides(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/x.db\nrequest_timeout: 5s\nrate_limit: 0.5\nhigh_risk_threshold: 30\nworkers: 4\nproxy: socks5://127.0.0.1:9050\n")
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Errorf("db_path = %s", cfg.DBPath)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout = %v", cfg.RequestTimeout)
	}
	if cfg.RateLimit != 0.5 {
		t.Errorf("rate_limit = %v", cfg.RateLimit)
	}
	if cfg.HighRiskThreshold != 30 || cfg.Workers != 4 {
		t.Errorf("threshold/workers = %d/%d", cfg.HighRiskThreshold, cfg.Workers)
	}
	if cfg.Proxy != "socks5://127.0.0.1:9050" {
		t.Errorf("proxy = %s", cfg.Proxy)
	}
	if cfg.Source != path {
		t.Errorf("source = %q, want %q", cfg.Source, path)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("WPHUNTER_HIGH_RISK_THRESHOLD", "55")
	cfg, err := LoadFromFile(writeConfig(t, "high_risk_threshold: 30\n"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.HighRiskThreshold != 55 {
		t.Errorf("env should win over file, got %d", cfg.HighRiskThreshold)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad api url", "api_url: ftp://x\n"},
		{"negative rate", "rate_limit: -1\n"},
		{"zero workers", "workers: 0\n"},
		{"too many workers", "workers: 100\n"},
		{"bad proxy", "proxy: gopher://x\n"},
		{"zero timeout", "download_timeout: 0s\n"},
		{"empty db", "db_path: \"\"\n"},
		{"broken yaml", "workers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGetDBPath(t *testing.T) {
	cfg := DefaultConfig()

	cfg.DBPath = ":memory:"
	if p, _ := cfg.GetDBPath(); p != ":memory:" {
		t.Errorf("memory path changed to %s", p)
	}

	cfg.DBPath = "~/data/w.db"
	home, err := os.UserHomeDir()
	if err == nil {
		if p, _ := cfg.GetDBPath(); p != filepath.Join(home, "data", "w.db") {
			t.Errorf("home not expanded: %s", p)
		}
	}

	cfg.DBPath = "rel.db"
	if p, _ := cfg.GetDBPath(); !filepath.IsAbs(p) {
		t.Errorf("expected absolute path, got %s", p)
	}
}

func TestGetDownloadDirEmpty(t *testing.T) {
	cfg := DefaultConfig()
	if p, err := cfg.GetDownloadDir(); err != nil || p != "" {
		t.Errorf("expected empty dir, got %q (%v)", p, err)
	}
}

func TestGenerateSampleConfigLoads(t *testing.T) {
	sample := GenerateSampleConfig()
	if !strings.Contains(sample, "high_risk_threshold: 40") {
		t.Error("sample should document the threshold")
	}
	if _, err := LoadFromFile(writeConfig(t, sample)); err != nil {
		t.Errorf("sample config should load: %v", err)
	}
}
