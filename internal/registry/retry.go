package registry

import (
	"context"
	"net/http"
	"time"
)

// Backoff blocks until the next attempt is due. It returns ctx.Err() when
// ctx ends first.
type Backoff func(context.Context) error

// ExponentialBackoff waits initial, then initial*r, initial*r^2, ...
func ExponentialBackoff(initial time.Duration, r float64) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
