package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mcpgateway/pkg/models"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSink appends records to gateway_audit. Rows are never updated.
type PostgresSink struct {
	DB      auditDB
	Timeout time.Duration
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS gateway_audit (
	id          TEXT PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	user_id     TEXT NOT NULL DEFAULT '',
	roles       TEXT[] NOT NULL DEFAULT '{}',
	action      TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS gateway_audit_user_ts ON gateway_audit (user_id, ts DESC);
`

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, auditSchema)
	return err
}

func (s *PostgresSink) Write(ctx context.Context, rec models.AuditRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("audit db not configured")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	roles := rec.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO gateway_audit
		(id, ts, request_id, user_id, roles, action, target, outcome, duration_ms, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.Timestamp, rec.RequestID, rec.UserID, roles, rec.Action, rec.Target, rec.Outcome, rec.DurationMs, rec.Detail)
	return err
}

func (s *PostgresSink) Get(ctx context.Context, id string) (models.AuditRecord, error) {
	var rec models.AuditRecord
	row := s.DB.QueryRow(ctx, `
		SELECT id, ts, request_id, user_id, roles, action, target, outcome, duration_ms, detail
		FROM gateway_audit WHERE id=$1
	`, id)
	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.RequestID, &rec.UserID, &rec.Roles, &rec.Action, &rec.Target, &rec.Outcome, &rec.DurationMs, &rec.Detail); err != nil {
		return models.AuditRecord{}, err
	}
	return rec, nil
}
