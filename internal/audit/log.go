package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

// LogSink writes each event as a structured log line under the "audit" group.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, ev domain.AuditEvent) error {
	attrs := []any{
		"id", ev.ID,
		"type", string(ev.Type),
		"occurred_at", ev.OccurredAt,
	}
	if ev.AccountID != uuid.Nil {
		attrs = append(attrs, "account_id", ev.AccountID)
	}
	if ev.TxnID != "" {
		attrs = append(attrs, "txn_id", ev.TxnID)
	}
	if ev.DeviceID != "" {
		attrs = append(attrs, "device_id", ev.DeviceID)
	}
	if ev.Actor != "" {
		attrs = append(attrs, "actor", ev.Actor)
	}
	for k, v := range ev.Details {
		attrs = append(attrs, k, v)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit event", slog.Group("audit", attrs...))
	return nil
}
