package audit

import (
	"context"
	"io"
	"log/slog"

	"mcpgateway/pkg/models"
)

// SlogSink writes each record as one JSON line.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(w io.Writer) *SlogSink {
	return &SlogSink{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

func (s *SlogSink) Write(ctx context.Context, rec models.AuditRecord) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", rec.ID),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("request_id", rec.RequestID),
		slog.String("user_id", rec.UserID),
		slog.Any("roles", rec.Roles),
		slog.String("action", rec.Action),
		slog.String("target", rec.Target),
		slog.String("outcome", rec.Outcome),
		slog.Int64("duration_ms", rec.DurationMs),
		slog.String("detail", rec.Detail),
	)
	return nil
}
