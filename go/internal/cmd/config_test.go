package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		port:         8080,
		storeKind:    "memory",
		countdown:    5,
		raceDuration: 2 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port too low", func(c *Config) { c.port = 0 }, "invalid port"},
		{"port too high", func(c *Config) { c.port = 70000 }, "invalid port"},
		{"unknown store", func(c *Config) { c.storeKind = "redis" }, "invalid store"},
		{"sqlite without path", func(c *Config) { c.storeKind = "sqlite" }, "--sqlite-path"},
		{"negative countdown", func(c *Config) { c.countdown = -1 }, "invalid countdown"},
		{"short race", func(c *Config) { c.raceDuration = 500 * time.Millisecond }, "at least 1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func runCmd(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg := &Config{}
	var ran bool
	cmd := newCmd(cfg, func(ctx context.Context, cfg *Config) error {
		ran = true
		return nil
	})
	cmd.SetArgs(append([]string{}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !ran {
		t.Fatal("run was not called")
	}
	return cfg
}

func TestNewCmd_Defaults(t *testing.T) {
	cfg := runCmd(t)
	if cfg.addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %q", cfg.addr())
	}
	hc := cfg.hubConfig()
	if hc.CountdownFrom != 5 || hc.RaceDuration != 120*time.Second || hc.EndWhenAllFinished {
		t.Errorf("hub config = %+v", hc)
	}
	if cfg.storeKind != "memory" || !cfg.quotable || cfg.fallbackText == "" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestNewCmd_EnvAndFlags(t *testing.T) {
	t.Setenv("TYPERACE_PORT", "9090")
	t.Setenv("TYPERACE_RACE_DURATION", "45s")
	t.Setenv("TYPERACE_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TYPERACE_COUNTDOWN", "7")

	cfg := runCmd(t, "--countdown", "3", "--end-when-all-finished")
	if cfg.port != 9090 {
		t.Errorf("port = %d, want 9090 from env", cfg.port)
	}
	if cfg.raceDuration != 45*time.Second {
		t.Errorf("race duration = %s", cfg.raceDuration)
	}
	if len(cfg.allowedOrigins) != 2 || cfg.allowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", cfg.allowedOrigins)
	}
	if cfg.countdown != 3 {
		t.Errorf("countdown = %d, want flag to win over env", cfg.countdown)
	}
	if !cfg.endWhenAllFinished {
		t.Error("end-when-all-finished not set")
	}
}

func TestNewCmd_InvalidConfig(t *testing.T) {
	cmd := newCmd(&Config{}, func(ctx context.Context, cfg *Config) error {
		t.Fatal("run called with invalid config")
		return nil
	})
	cmd.SetArgs([]string{"--store", "redis"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}
