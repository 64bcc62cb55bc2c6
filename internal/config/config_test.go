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
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Acquisition.MaxRetries != 60 {
		t.Errorf("MaxRetries = %d, want 60", cfg.Acquisition.MaxRetries)
	}
	if cfg.Acquisition.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.Acquisition.PollInterval)
	}
	if cfg.Acquisition.PollBackoff != 500*time.Millisecond {
		t.Errorf("PollBackoff = %v, want 500ms", cfg.Acquisition.PollBackoff)
	}
	if cfg.Acquisition.Runs != 10 {
		t.Errorf("Runs = %d, want 10", cfg.Acquisition.Runs)
	}
	if cfg.Output.Format != "xlsx" {
		t.Errorf("Format = %q, want xlsx", cfg.Output.Format)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
instrument:
  address: "tcp://10.0.0.5:5025"
  timeout: 250ms
acquisition:
  runs: 3
  strict_calibration: true
output:
  format: csv
redis:
  enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Instrument.Address != "tcp://10.0.0.5:5025" {
		t.Errorf("Address = %q", cfg.Instrument.Address)
	}
	if cfg.Instrument.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", cfg.Instrument.Timeout)
	}
	if cfg.Acquisition.Runs != 3 {
		t.Errorf("Runs = %d, want 3", cfg.Acquisition.Runs)
	}
	if !cfg.Acquisition.StrictCalibration {
		t.Error("StrictCalibration should be true")
	}
	if cfg.Output.Format != "csv" {
		t.Errorf("Format = %q, want csv", cfg.Output.Format)
	}
	// 未出现的字段保留默认值
	if cfg.Acquisition.MaxRetries != 60 {
		t.Errorf("MaxRetries = %d, want default 60", cfg.Acquisition.MaxRetries)
	}
	if cfg.Redis.Channel != "scope_waveforms" {
		t.Errorf("Redis.Channel = %q, want default", cfg.Redis.Channel)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "instrument: [\n")); err == nil {
		t.Error("expected error for bad yaml")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"BadFormat", "output:\n  format: parquet\n"},
		{"ZeroRuns", "acquisition:\n  runs: 0\n"},
		{"EmptyAddress", "instrument:\n  address: \"\"\n"},
		{"ZeroTimeout", "instrument:\n  timeout: 0s\n"},
		{"NegativeRetries", "acquisition:\n  max_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// 配置文件缺少地址时，命令行给出的地址仍可使用
func TestLoadConfig_AddressSuppliedLater(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "instrument:\n  address: \"\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty address should not validate")
	}

	cfg.Instrument.Address = "tcp://10.0.0.5:5025"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after override: %v", err)
	}
}
