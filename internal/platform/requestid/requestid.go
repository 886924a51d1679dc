package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header carries the correlation id on every registry request.
const Header = "X-Request-Id"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

// WithContext attaches id to ctx. A blank id leaves ctx unchanged.
func WithContext(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Ensure returns the id already carried by ctx, or attaches a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithContext(ctx, id), id
}
