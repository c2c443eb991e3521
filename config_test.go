package podguard

import (
	"context"
	"testing"
)

func TestConfig_Phase1DurationMs_Default(t *testing.T) {
	c := Config{}
	if got := c.Phase1DurationMs(); got != 45000 {
		t.Errorf("Phase1DurationMs() = %d, want 45000 (1.5 * 30 * 1000)", got)
	}
}

func TestConfig_Phase1DurationMs_Custom(t *testing.T) {
	c := Config{ReadyProbeIntervalSeconds: 10}
	if got := c.Phase1DurationMs(); got != 15000 {
		t.Errorf("Phase1DurationMs() = %d, want 15000", got)
	}
}

func TestConfig_DrainTimeoutMs_Default(t *testing.T) {
	c := Config{}
	if got := c.DrainTimeoutMs(); got != 540000 {
		t.Errorf("DrainTimeoutMs() = %d, want 540000", got)
	}
}

func TestConfig_DrainTimeoutMs_Custom(t *testing.T) {
	c := Config{ShutdownTimeoutSeconds: 1}
	if got := c.DrainTimeoutMs(); got != 1000 {
		t.Errorf("DrainTimeoutMs() = %d, want 1000", got)
	}
}

func TestLoadConfig_DefaultsWithoutEnv(t *testing.T) {
	t.Setenv("READYPROBE_INTERVAL", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("PODGUARD_ADMIN_KEY", "")

	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReadyProbeIntervalSeconds != 30 || cfg.ShutdownTimeoutSeconds != 540 {
		t.Errorf("cfg = %+v, want defaults 30/540", cfg)
	}
	if cfg.DevMode {
		t.Error("DevMode should be false in production")
	}
	if cfg.AdminKey != "" {
		t.Errorf("AdminKey = %q, want empty", cfg.AdminKey)
	}
}

func TestLoadConfig_NonProductionIsDevMode(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.DevMode {
		t.Error("DevMode should be true outside production")
	}
}

func TestLoadConfig_AdminKeyFromEnv(t *testing.T) {
	t.Setenv("PODGUARD_ADMIN_KEY", "plain-value")
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.AdminKey != "plain-value" {
		t.Errorf("AdminKey = %q, want plain-value", cfg.AdminKey)
	}
}

func TestLoadConfig_ReadProbeIntervalParsed(t *testing.T) {
	t.Setenv("READYPROBE_INTERVAL", "10")
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReadyProbeIntervalSeconds != 10 {
		t.Errorf("ReadyProbeIntervalSeconds = %d, want 10", cfg.ReadyProbeIntervalSeconds)
	}
}

func TestLoadConfig_ProbePathsUnsetByDefault(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReadyPath != nil || cfg.LivePath != nil || cfg.TestPath != nil || cfg.StatusPath != nil {
		t.Errorf("probe path overrides = %+v, want all nil when env vars are unset", cfg)
	}
}

func TestLoadConfig_ProbePathDisabledViaEmptyEnv(t *testing.T) {
	t.Setenv("PODGUARD_TEST_PATH", "")
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.TestPath == nil || *cfg.TestPath != "" {
		t.Errorf("TestPath = %v, want a pointer to empty string", cfg.TestPath)
	}
}

func TestLoadConfig_ProbePathOverrideFromEnv(t *testing.T) {
	t.Setenv("PODGUARD_READY_PATH", "/healthz")
	cfg, err := LoadConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReadyPath == nil || *cfg.ReadyPath != "/healthz" {
		t.Errorf("ReadyPath = %v, want a pointer to \"/healthz\"", cfg.ReadyPath)
	}
}
