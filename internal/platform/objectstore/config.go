package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mlregistry-go/internal/platform/env"
)

// Config locates the S3-compatible bucket backing project storage in
// managed mode. Registry paths map to keys under Prefix.
//
// With no static keys the client falls back to the AWS/MinIO environment
// variables and then to IAM instance credentials.
type Config struct {
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	AccessKey    string `yaml:"accessKey,omitempty" toml:"access_key,omitempty"`
	SecretKey    string `yaml:"secretKey,omitempty" toml:"secret_key,omitempty"`
	SessionToken string `yaml:"sessionToken,omitempty" toml:"session_token,omitempty"`
	Region       string `yaml:"region" toml:"region"`
	UseSSL       bool   `yaml:"useSSL" toml:"use_ssl"`
	Bucket       string `yaml:"bucket" toml:"bucket"`
	Prefix       string `yaml:"prefix,omitempty" toml:"prefix,omitempty"`
}

func ConfigFromEnv(def Config) (Config, error) {
	useSSL, err := env.Bool("MLREG_S3_USE_SSL", def.UseSSL)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:     env.String("MLREG_S3_ENDPOINT", def.Endpoint),
		AccessKey:    env.String("MLREG_S3_ACCESS_KEY", def.AccessKey),
		SecretKey:    env.String("MLREG_S3_SECRET_KEY", def.SecretKey),
		SessionToken: env.String("MLREG_S3_SESSION_TOKEN", def.SessionToken),
		Region:       env.String("MLREG_S3_REGION", withDefault(def.Region, "us-east-1")),
		UseSSL:       useSSL,
		Bucket:       env.String("MLREG_S3_BUCKET", def.Bucket),
		Prefix:       env.String("MLREG_S3_PREFIX", def.Prefix),
	}
	return cfg, nil
}

// StaticCredentials reports whether both keys are configured.
func (c Config) StaticCredentials() bool {
	return strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	hasAccess := strings.TrimSpace(c.AccessKey) != ""
	hasSecret := strings.TrimSpace(c.SecretKey) != ""
	if hasAccess != hasSecret {
		return errors.New("access key and secret key must be set together")
	}
	if c.SessionToken != "" && !hasAccess {
		return errors.New("session token requires static keys")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix must be relative: %q", c.Prefix)
	}
	return nil
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
