package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchGameRules(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 3000 {
		t.Errorf("Expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Canvas.Size != 250 {
		t.Errorf("Expected canvas size 250, got %d", cfg.Canvas.Size)
	}
	if cfg.Economy.DynamiteCost != 100 {
		t.Errorf("Expected dynamite cost 100, got %v", cfg.Economy.DynamiteCost)
	}
	if cfg.Maintenance.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected idle timeout 5m, got %v", cfg.Maintenance.IdleTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CANVAS_SIZE", "64")
	t.Setenv("IDLE_TIMEOUT", "90s")
	t.Setenv("LEADERBOARD_SIZE", "10")
	t.Setenv("ADMIN_RESET_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Canvas.Size != 64 {
		t.Errorf("Expected canvas size 64, got %d", cfg.Canvas.Size)
	}
	if cfg.Maintenance.IdleTimeout != 90*time.Second {
		t.Errorf("Expected idle timeout 90s, got %v", cfg.Maintenance.IdleTimeout)
	}
	if cfg.Leaderboard.TopN != 10 {
		t.Errorf("Expected top 10, got %d", cfg.Leaderboard.TopN)
	}
	if !cfg.Server.AdminReset {
		t.Error("Expected admin reset to be enabled")
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("PERSIST_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Malformed PORT should keep default, got %d", cfg.Server.Port)
	}
	if cfg.Maintenance.PersistEvery != 30*time.Second {
		t.Errorf("Malformed interval should keep default, got %v", cfg.Maintenance.PersistEvery)
	}
}

func TestMergeFileKeepsUnsetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixel.yaml")
	doc := `
canvas:
  size: 100
maintenance:
  regen_every: 10s
economy:
  pixel_reward: 0.5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.MergeFile(path); err != nil {
		t.Fatalf("MergeFile failed: %v", err)
	}

	if cfg.Canvas.Size != 100 {
		t.Errorf("Expected size 100, got %d", cfg.Canvas.Size)
	}
	if cfg.Canvas.SnapshotPath != "pixels.json" {
		t.Errorf("Unset key should keep default, got %q", cfg.Canvas.SnapshotPath)
	}
	if cfg.Maintenance.RegenEvery != 10*time.Second {
		t.Errorf("Expected regen every 10s, got %v", cfg.Maintenance.RegenEvery)
	}
	if cfg.Maintenance.EvictEvery != time.Minute {
		t.Errorf("Unset interval should keep default, got %v", cfg.Maintenance.EvictEvery)
	}
	if cfg.Economy.PixelReward != 0.5 {
		t.Errorf("Expected reward 0.5, got %v", cfg.Economy.PixelReward)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixel.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Expected port from file, got %d", cfg.Server.Port)
	}
}

func TestMergeFileErrors(t *testing.T) {
	cfg := Default()
	if err := cfg.MergeFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("canvas: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.MergeFile(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"zero canvas", func(c *AppConfig) { c.Canvas.Size = 0 }},
		{"zero threshold", func(c *AppConfig) { c.Economy.LevelThreshold = 0 }},
		{"zero max level", func(c *AppConfig) { c.Economy.MaxLevel = 0 }},
		{"zero energy", func(c *AppConfig) { c.Economy.MaxEnergy = 0 }},
		{"zero leaderboard", func(c *AppConfig) { c.Leaderboard.TopN = 0 }},
		{"zero persist interval", func(c *AppConfig) { c.Maintenance.PersistEvery = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Expected 127.0.0.1:9000, got %s", got)
	}
}

func TestAllowedOriginsFromEnv(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://pixels.example.com, ,https://www.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"https://pixels.example.com", "https://www.example.com"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("Expected %v, got %v", want, cfg.Server.AllowedOrigins)
	}
	for i, o := range want {
		if cfg.Server.AllowedOrigins[i] != o {
			t.Errorf("Origin %d: expected %s, got %s", i, o, cfg.Server.AllowedOrigins[i])
		}
	}
}
