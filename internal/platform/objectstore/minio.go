package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrBucketMissing is returned by CheckBucket.
var ErrBucketMissing = errors.New("bucket missing")

// NewClient builds a MinIO client for cfg. A nil transport gets the default
// dialer settings.
func NewClient(cfg Config, transport http.RoundTripper) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		transport = newTransport()
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     newCredentials(cfg),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
}

func newCredentials(cfg Config) *credentials.Credentials {
	if cfg.StaticCredentials() {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.IAM{Client: &http.Client{Transport: newTransport()}},
	})
}

// CheckBucket fails with ErrBucketMissing when the configured bucket is
// absent. Buckets are provisioned with the project and never created by the
// client.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketMissing, cfg.Bucket)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
