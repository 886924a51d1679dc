// Package config loads the client profile: an optional YAML or TOML file,
// then MLREG_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/platform/auth"
	"github.com/animus-labs/mlregistry-go/internal/platform/env"
	"github.com/animus-labs/mlregistry-go/internal/platform/logging"
	"github.com/animus-labs/mlregistry-go/internal/platform/objectstore"
	"github.com/animus-labs/mlregistry-go/internal/platform/postgres"
)

// TransportMode selects the storage backend. It is configured, never probed.
type TransportMode string

const (
	// TransportLocal reaches run storage through the registry dataset API.
	TransportLocal TransportMode = "local"
	// TransportManaged writes run storage straight to the project bucket.
	TransportManaged TransportMode = "managed"
)

func ParseTransportMode(raw string) (TransportMode, error) {
	switch m := TransportMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return TransportLocal, nil
	case TransportLocal, TransportManaged:
		return m, nil
	}
	return "", fmt.Errorf("transport mode must be one of: local, managed (got %q)", raw)
}

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryInterval  = 200 * time.Millisecond
	DefaultChunkSize      = int64(1 << 20)
)

type Profile struct {
	APIRoot string
	// ProjectID is resolved from ProjectName at connect when unset.
	ProjectID   int64
	ProjectName string

	TransportMode TransportMode

	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryInterval   time.Duration
	UploadChunkSize int64

	// SkipDatasetCheck disables the Experiments dataset check at connect.
	SkipDatasetCheck bool

	Auth        auth.Config
	ObjectStore objectstore.Config
	Audit       postgres.Config
	Logging     logging.Config
}

func Default() Profile {
	return Profile{
		TransportMode:   TransportLocal,
		RequestTimeout:  DefaultRequestTimeout,
		RetryAttempts:   DefaultRetryAttempts,
		RetryInterval:   DefaultRetryInterval,
		UploadChunkSize: DefaultChunkSize,
		Logging:         logging.Config{Format: logging.FormatJSON, Level: "info"},
	}
}

// DefaultPath is $MLREG_PROFILE, else ~/.config/mlregistry/profile.yaml.
func DefaultPath() string {
	if p, ok := env.Lookup("MLREG_PROFILE"); ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mlregistry", "profile.yaml")
}

// Load reads path (a missing file is not an error), applies environment
// overrides and validates the result.
func Load(path string) (Profile, error) {
	p := Default()
	if strings.TrimSpace(path) != "" {
		fromFile, err := LoadFile(path, p)
		switch {
		case err == nil:
			p = fromFile
		case errors.Is(err, os.ErrNotExist):
		default:
			return Profile{}, err
		}
	}
	p, err := FromEnv(p)
	if err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// FromEnv overlays MLREG_* variables on def.
func FromEnv(def Profile) (Profile, error) {
	p := def
	p.APIRoot = env.String("MLREG_API_ROOT", def.APIRoot)
	p.ProjectName = env.String("MLREG_PROJECT_NAME", def.ProjectName)

	var err error
	if p.ProjectID, err = env.Int64("MLREG_PROJECT_ID", def.ProjectID); err != nil {
		return Profile{}, err
	}
	if p.TransportMode, err = ParseTransportMode(env.String("MLREG_TRANSPORT_MODE", string(def.TransportMode))); err != nil {
		return Profile{}, err
	}
	if p.RequestTimeout, err = env.Duration("MLREG_REQUEST_TIMEOUT", def.RequestTimeout); err != nil {
		return Profile{}, err
	}
	if p.RetryAttempts, err = env.Int("MLREG_RETRY_ATTEMPTS", def.RetryAttempts); err != nil {
		return Profile{}, err
	}
	if p.RetryInterval, err = env.Duration("MLREG_RETRY_INTERVAL", def.RetryInterval); err != nil {
		return Profile{}, err
	}
	if p.UploadChunkSize, err = env.Int64("MLREG_UPLOAD_CHUNK_SIZE", def.UploadChunkSize); err != nil {
		return Profile{}, err
	}
	if p.SkipDatasetCheck, err = env.Bool("MLREG_SKIP_DATASET_CHECK", def.SkipDatasetCheck); err != nil {
		return Profile{}, err
	}
	if p.Auth, err = auth.ConfigFromEnv(def.Auth); err != nil {
		return Profile{}, err
	}
	if p.Audit, err = postgres.ConfigFromEnv(def.Audit); err != nil {
		return Profile{}, err
	}
	p.Logging = logging.ConfigFromEnv(def.Logging)
	if p.TransportMode == TransportManaged {
		if p.ObjectStore, err = objectstore.ConfigFromEnv(def.ObjectStore); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.APIRoot) == "" {
		return errors.New("MLREG_API_ROOT is required")
	}
	u, err := url.Parse(p.APIRoot)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("MLREG_API_ROOT must be an http(s) url (got %q)", p.APIRoot)
	}
	if strings.TrimSpace(p.ProjectName) == "" {
		return errors.New("MLREG_PROJECT_NAME is required")
	}
	if p.ProjectID < 0 {
		return errors.New("MLREG_PROJECT_ID must be positive")
	}
	if _, err := ParseTransportMode(string(p.TransportMode)); err != nil {
		return err
	}
	if p.RequestTimeout < 0 {
		return errors.New("MLREG_REQUEST_TIMEOUT must be >= 0")
	}
	if p.RetryAttempts < 1 {
		return errors.New("MLREG_RETRY_ATTEMPTS must be >= 1")
	}
	if p.RetryInterval < 0 {
		return errors.New("MLREG_RETRY_INTERVAL must be >= 0")
	}
	if p.UploadChunkSize <= 0 {
		return errors.New("MLREG_UPLOAD_CHUNK_SIZE must be positive")
	}
	if err := p.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if p.TransportMode == TransportManaged {
		if err := p.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	}
	if err := p.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := p.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
