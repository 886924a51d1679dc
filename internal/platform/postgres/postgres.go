package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/platform/env"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config for the optional audit database. An empty URL disables it.
type Config struct {
	URL          string
	PingTimeout  time.Duration
	MaxOpenConns int
}

func ConfigFromEnv(def Config) (Config, error) {
	if def.PingTimeout == 0 {
		def.PingTimeout = 2 * time.Second
	}
	if def.MaxOpenConns == 0 {
		def.MaxOpenConns = 2
	}
	pingTimeout, err := env.Duration("MLREG_AUDIT_DATABASE_PING_TIMEOUT", def.PingTimeout)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := env.Int("MLREG_AUDIT_DATABASE_MAX_OPEN_CONNS", def.MaxOpenConns)
	if err != nil {
		return Config{}, err
	}
	return Config{
		URL:          env.String("MLREG_AUDIT_DATABASE_URL", def.URL),
		PingTimeout:  pingTimeout,
		MaxOpenConns: maxOpenConns,
	}, nil
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.PingTimeout <= 0 {
		return errors.New("MLREG_AUDIT_DATABASE_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("MLREG_AUDIT_DATABASE_MAX_OPEN_CONNS must be >= 1")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if !cfg.Enabled() {
		return nil, errors.New("MLREG_AUDIT_DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}
