package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
bot:
  token: "123:abc"
  owner_id: "bot-1"
database:
  url: "postgres://localhost/campaigns"
`)
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	b := cfg.Broadcast
	if b.GlobalMaxRatePerSecond != 20 || b.PerRecipientMaxRatePerSecond != 5 {
		t.Errorf("unexpected rates: %d/%d", b.GlobalMaxRatePerSecond, b.PerRecipientMaxRatePerSecond)
	}
	if b.WaveSize != 20 {
		t.Errorf("wave size should follow global rate, got %d", b.WaveSize)
	}
	if b.WaveDuration() != time.Second {
		t.Errorf("wave duration = %s", b.WaveDuration())
	}
	if b.TickInterval() != 5*time.Second {
		t.Errorf("tick interval = %s", b.TickInterval())
	}
	if b.BucketTTL() != 5*time.Minute {
		t.Errorf("bucket ttl = %s", b.BucketTTL())
	}
	if b.MaxWait() != 5*time.Second {
		t.Errorf("max wait = %s", b.MaxWait())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	// 20 recipients at the 5s ceiling plus slack
	if cfg.Scheduler.LockTTL != 130*time.Second {
		t.Errorf("lock ttl = %s, want 2m10s", cfg.Scheduler.LockTTL)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
bot:
  token: "123:abc"
  owner_id: "bot-1"
database:
  url: "postgres://localhost/campaigns"
broadcast:
  global_max_rate_per_second: 30
`)
	t.Setenv("BROADCAST_GLOBAL_MAX_RATE", "10")
	t.Setenv("BROADCAST_WAVE_DURATION_MS", "1500")

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Broadcast.GlobalMaxRatePerSecond != 10 {
		t.Errorf("env should win over file, got %d", cfg.Broadcast.GlobalMaxRatePerSecond)
	}
	if cfg.Broadcast.WaveSize != 10 {
		t.Errorf("wave size should default to the overridden rate, got %d", cfg.Broadcast.WaveSize)
	}
	if cfg.Broadcast.WaveDurationMs != 1500 {
		t.Errorf("wave duration = %d", cfg.Broadcast.WaveDurationMs)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not propagated")
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	path := writeConfig(t, `
bot:
  owner_id: "bot-1"
database:
  url: "postgres://localhost/campaigns"
`)
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}
