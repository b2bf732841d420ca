// Package audit records ledger events to one or more sinks. Sinks are best
// effort: a failing sink is logged and counted, never surfaced to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, ev domain.AuditEvent) error
}

type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, logger: logger, metrics: m}
}

func (r *Recorder) Record(ctx context.Context, ev domain.AuditEvent) {
	if r == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, ev); err != nil {
			r.logger.Warn("audit sink write failed",
				"sink", s.Name(),
				"event_type", ev.Type,
				"event_id", ev.ID,
				"error", err,
			)
			r.metrics.AuditFailure(s.Name())
		}
	}
}
