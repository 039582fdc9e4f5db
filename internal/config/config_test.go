package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Pipeline.Policy != "priority" {
		t.Errorf("Policy = %q, want priority", cfg.Pipeline.Policy)
	}
	if cfg.Pipeline.Workers != 0 {
		t.Errorf("Workers = %d, want 0 (auto-tune)", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MinChunkSize != 64*1024 {
		t.Errorf("MinChunkSize = %d, want %d", cfg.Pipeline.MinChunkSize, 64*1024)
	}
	if cfg.Keys.Iterations != MinIterations {
		t.Errorf("Iterations = %d, want %d", cfg.Keys.Iterations, MinIterations)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by default")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
log_level: debug
pipeline:
  policy: fifo
  workers: 4
  min_chunk_size: 4096
  max_chunk_size: 1048576
keys:
  iterations: 200000
  store_path: /tmp/keys
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Pipeline.Policy != "fifo" {
		t.Errorf("Policy = %q, want fifo", cfg.Pipeline.Policy)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Pipeline.Workers)
	}
	if cfg.Keys.Iterations != 200000 {
		t.Errorf("Iterations = %d, want 200000", cfg.Keys.Iterations)
	}
	if cfg.Keys.StorePath != "/tmp/keys" {
		t.Errorf("StorePath = %q, want /tmp/keys", cfg.Keys.StorePath)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_POLICY", "fifo")
	t.Setenv("PIPELINE_WORKERS", "2")
	t.Setenv("KEYS_ITERATIONS", "150000")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}

	if cfg.Pipeline.Policy != "fifo" {
		t.Errorf("Policy = %q, want fifo", cfg.Pipeline.Policy)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Pipeline.Workers)
	}
	if cfg.Keys.Iterations != 150000 {
		t.Errorf("Iterations = %d, want 150000", cfg.Keys.Iterations)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics should be enabled via env")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig() unexpected error: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Pipeline.Policy = "roundrobin" },
			wantErr: true,
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = -1 },
			wantErr: true,
		},
		{
			name:    "max chunk below min chunk",
			mutate:  func(c *Config) { c.Pipeline.MaxChunkSize = c.Pipeline.MinChunkSize - 1 },
			wantErr: true,
		},
		{
			name:    "fixed chunk outside bounds",
			mutate:  func(c *Config) { c.Pipeline.ChunkSize = c.Pipeline.MaxChunkSize * 2 },
			wantErr: true,
		},
		{
			name:    "iterations below floor",
			mutate:  func(c *Config) { c.Keys.Iterations = MinIterations - 1 },
			wantErr: true,
		},
		{
			name:    "sampling ratio above one",
			mutate:  func(c *Config) { c.Tracing.SamplingRatio = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestIterationFloorIsEnforcedOnLoad(t *testing.T) {
	content := `
keys:
  iterations: 1000
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() should reject iteration counts below the floor")
	}
}
