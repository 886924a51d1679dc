package postgres

import (
	"context"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv(Config{})
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("audit database must be disabled without a url")
	}
	if cfg.PingTimeout != 2*time.Second || cfg.MaxOpenConns != 2 {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{URL: "postgres://localhost/audit", PingTimeout: time.Second, MaxOpenConns: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for max open conns")
	}
}

func TestOpenDisabled(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("Open() expected error without url")
	}
}
