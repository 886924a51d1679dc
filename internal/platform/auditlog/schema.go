package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const schema = `CREATE TABLE IF NOT EXISTS client_audit_events (
	event_id         BIGSERIAL PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL,
	actor            TEXT NOT NULL,
	action           TEXT NOT NULL,
	resource_type    TEXT NOT NULL,
	resource_id      TEXT NOT NULL,
	request_id       TEXT,
	project          TEXT,
	payload          JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS client_audit_events_resource_idx
	ON client_audit_events (resource_type, resource_id, occurred_at)`

// EnsureSchema creates the audit table and its index when missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	if db == nil {
		return errors.New("execer is required")
	}
	for _, stmt := range []string{schema, schemaIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}
