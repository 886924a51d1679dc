package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/platform/auth"
	"github.com/animus-labs/mlregistry-go/internal/platform/logging"
	"github.com/animus-labs/mlregistry-go/internal/platform/objectstore"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration reads "30s" style strings from either file format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type fileProject struct {
	ID   int64  `yaml:"id,omitempty" toml:"id,omitempty"`
	Name string `yaml:"name,omitempty" toml:"name,omitempty"`
}

type fileRetry struct {
	Attempts int       `yaml:"attempts,omitempty" toml:"attempts,omitempty"`
	Interval *Duration `yaml:"interval,omitempty" toml:"interval,omitempty"`
}

type fileAudit struct {
	DatabaseURL  string    `yaml:"databaseURL,omitempty" toml:"database_url,omitempty"`
	PingTimeout  *Duration `yaml:"pingTimeout,omitempty" toml:"ping_timeout,omitempty"`
	MaxOpenConns int       `yaml:"maxOpenConns,omitempty" toml:"max_open_conns,omitempty"`
}

// fileProfile is the on-disk layout. YAML keys are camelCase, TOML keys
// snake_case.
type fileProfile struct {
	APIRoot          string              `yaml:"apiRoot,omitempty" toml:"api_root,omitempty"`
	Project          fileProject         `yaml:"project,omitempty" toml:"project,omitempty"`
	TransportMode    string              `yaml:"transportMode,omitempty" toml:"transport_mode,omitempty"`
	RequestTimeout   *Duration           `yaml:"requestTimeout,omitempty" toml:"request_timeout,omitempty"`
	Retry            fileRetry           `yaml:"retry,omitempty" toml:"retry,omitempty"`
	UploadChunkSize  int64               `yaml:"uploadChunkSize,omitempty" toml:"upload_chunk_size,omitempty"`
	SkipDatasetCheck bool                `yaml:"skipDatasetCheck,omitempty" toml:"skip_dataset_check,omitempty"`
	Auth             *auth.Config        `yaml:"auth,omitempty" toml:"auth,omitempty"`
	ObjectStore      *objectstore.Config `yaml:"objectStore,omitempty" toml:"object_store,omitempty"`
	Audit            fileAudit           `yaml:"audit,omitempty" toml:"audit,omitempty"`
	Logging          *logging.Config     `yaml:"logging,omitempty" toml:"logging,omitempty"`
}

// LoadFile decodes the profile at path over def. The format follows the
// extension: .toml is TOML, anything else YAML.
func LoadFile(path string, def Profile) (Profile, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var fp fileProfile
	if isTOML(path) {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fp); err != nil {
			return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fp); err != nil && !errors.Is(err, io.EOF) {
			return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
		}
	}
	return fp.apply(def)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (fp fileProfile) apply(def Profile) (Profile, error) {
	p := def
	if fp.APIRoot != "" {
		p.APIRoot = fp.APIRoot
	}
	if fp.Project.ID != 0 {
		p.ProjectID = fp.Project.ID
	}
	if fp.Project.Name != "" {
		p.ProjectName = fp.Project.Name
	}
	if fp.TransportMode != "" {
		mode, err := ParseTransportMode(fp.TransportMode)
		if err != nil {
			return Profile{}, err
		}
		p.TransportMode = mode
	}
	if fp.RequestTimeout != nil {
		p.RequestTimeout = time.Duration(*fp.RequestTimeout)
	}
	if fp.Retry.Attempts != 0 {
		p.RetryAttempts = fp.Retry.Attempts
	}
	if fp.Retry.Interval != nil {
		p.RetryInterval = time.Duration(*fp.Retry.Interval)
	}
	if fp.UploadChunkSize != 0 {
		p.UploadChunkSize = fp.UploadChunkSize
	}
	if fp.SkipDatasetCheck {
		p.SkipDatasetCheck = true
	}
	if fp.Auth != nil {
		p.Auth = *fp.Auth
	}
	if fp.ObjectStore != nil {
		p.ObjectStore = *fp.ObjectStore
	}
	if fp.Audit.DatabaseURL != "" {
		p.Audit.URL = fp.Audit.DatabaseURL
	}
	if fp.Audit.PingTimeout != nil {
		p.Audit.PingTimeout = time.Duration(*fp.Audit.PingTimeout)
	}
	if fp.Audit.MaxOpenConns != 0 {
		p.Audit.MaxOpenConns = fp.Audit.MaxOpenConns
	}
	if fp.Logging != nil {
		if fp.Logging.Format != "" {
			p.Logging.Format = fp.Logging.Format
		}
		if fp.Logging.Level != "" {
			p.Logging.Level = fp.Logging.Level
		}
	}
	return p, nil
}

// ExpandPath expands a leading ~/ to the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
