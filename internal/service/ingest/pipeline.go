// Package ingest applies batches of offline records to the ledger exactly
// once per txn id.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
)

type reservations interface {
	CheckAndReserve(ctx context.Context, txnID string, accountID uuid.UUID, now time.Time, lease time.Duration) (*domain.Reservation, error)
	Commit(ctx context.Context, txnID string, now time.Time) error
	MarkConflict(ctx context.Context, txnID string, now time.Time) error
	Release(ctx context.Context, txnID string) error
}

type applier interface {
	ApplyReserved(ctx context.Context, m ledger.Mutation) (*ledger.Result, error)
}

type conflictOpener interface {
	Open(ctx context.Context, rec domain.PendingRecord, reason domain.ConflictReason) (*domain.Conflict, error)
}

type verifier interface {
	Verify(rec domain.PendingRecord) error
}

type Config struct {
	MaxBatch         int
	Concurrency      int
	ClockSkew        time.Duration
	ReservationLease time.Duration
	Now              func() time.Time
}

type Pipeline struct {
	idem      reservations
	ledger    applier
	conflicts conflictOpener
	verifier  verifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func NewPipeline(
	idem reservations,
	ledgerSvc applier,
	conflicts conflictOpener,
	verifier verifier,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		idem:      idem,
		ledger:    ledgerSvc,
		conflicts: conflicts,
		verifier:  verifier,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
	}
}

// Ingest classifies every record in batch. Records for the same account run
// one at a time; distinct accounts run concurrently. The report lists items
// in batch order. Re-submitting a batch is safe.
func (p *Pipeline) Ingest(ctx context.Context, batch []domain.PendingRecord) (*domain.SyncReport, error) {
	if p.cfg.MaxBatch > 0 && len(batch) > p.cfg.MaxBatch {
		return nil, fmt.Errorf("Ingest: %d records, limit %d: %w", len(batch), p.cfg.MaxBatch, domain.ErrBatchTooLarge)
	}
	start := time.Now()

	items := make([]domain.SyncItem, len(batch))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, group := range groupByAccount(batch, deviceOrder(batch)) {
		g.Go(func() error {
			for _, idx := range group {
				items[idx] = p.process(ctx, batch[idx])
			}
			return nil
		})
	}
	_ = g.Wait()

	report := domain.NewSyncReport(items)
	for _, it := range items {
		p.metrics.SyncRecord(string(it.Outcome))
	}
	p.metrics.SyncBatch(time.Since(start))

	p.logger.Info("sync batch ingested",
		"total", report.Total,
		"applied", report.Applied,
		"duplicates", report.Duplicates,
		"conflicts", report.Conflicts,
		"rejected", report.Rejected,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, rec domain.PendingRecord) domain.SyncItem {
	if reason := p.validate(rec); reason != "" {
		return rejected(rec, reason)
	}

	res, err := p.idem.CheckAndReserve(ctx, rec.TxnID, rec.AccountID, p.cfg.Now(), p.cfg.ReservationLease)
	if err != nil {
		return p.failed(rec, "reserve", err)
	}
	if res.Outcome == domain.ReserveDuplicate {
		return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeDuplicate}
	}

	out, err := p.ledger.ApplyReserved(ctx, ledger.Mutation{
		TxnID:      rec.TxnID,
		AccountID:  rec.AccountID,
		Kind:       domain.KindDebit,
		Amount:     rec.Amount,
		Origin:     domain.OriginOffline,
		DeviceID:   rec.DeviceID,
		OccurredAt: rec.OccurredAt,
	})
	if err != nil {
		return p.handleApplyError(ctx, rec, err)
	}

	if err := p.idem.Commit(ctx, rec.TxnID, p.cfg.Now()); err != nil {
		// the debit is recorded; a resubmission classifies it DUPLICATE
		return p.failed(rec, "commit", err)
	}
	if out.Replayed {
		return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeDuplicate}
	}
	return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeApplied}
}

func (p *Pipeline) handleApplyError(ctx context.Context, rec domain.PendingRecord, applyErr error) domain.SyncItem {
	now := p.cfg.Now()

	switch {
	case errors.Is(applyErr, domain.ErrInsufficientBalance), errors.Is(applyErr, domain.ErrAccountNotUsable):
		reason := domain.ConflictInsufficientBalance
		if errors.Is(applyErr, domain.ErrAccountNotUsable) {
			reason = domain.ConflictAccountNotUsable
		}
		if _, err := p.conflicts.Open(ctx, rec, reason); err != nil {
			p.release(ctx, rec)
			return p.failed(rec, "open conflict", err)
		}
		if err := p.idem.MarkConflict(ctx, rec.TxnID, now); err != nil {
			return p.failed(rec, "mark conflict", err)
		}
		return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeConflict, Reason: string(reason)}

	case errors.Is(applyErr, domain.ErrTransactionConflicted):
		if err := p.idem.MarkConflict(ctx, rec.TxnID, now); err != nil {
			return p.failed(rec, "mark conflict", err)
		}
		return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeDuplicate}

	case errors.Is(applyErr, domain.ErrTxnIDReused):
		if err := p.idem.Commit(ctx, rec.TxnID, now); err != nil {
			return p.failed(rec, "commit", err)
		}
		return rejected(rec, "txn id already used for a different operation")

	case errors.Is(applyErr, domain.ErrNotFound):
		p.release(ctx, rec)
		return rejected(rec, "unknown account")

	case errors.Is(applyErr, domain.ErrConcurrentModification):
		p.release(ctx, rec)
		return p.failed(rec, "apply", applyErr)
	}

	// the write may have landed; leave the reservation to expire
	return p.failed(rec, "apply", applyErr)
}

// validate returns a rejection reason, or "" when rec is well formed.
func (p *Pipeline) validate(rec domain.PendingRecord) string {
	deviceID, seq, err := domain.ParsePendingTxnID(rec.TxnID)
	if err != nil || deviceID != rec.DeviceID || seq != rec.Sequence {
		return "txn id does not match device and sequence"
	}
	if rec.AccountID == uuid.Nil {
		return "missing account id"
	}
	if !domain.ValidAmount(rec.Amount) {
		return domain.ErrInvalidAmount.Error()
	}
	if rec.OccurredAt.IsZero() || rec.OccurredAt.After(p.cfg.Now().Add(p.cfg.ClockSkew)) {
		return "occurred_at outside allowed clock skew"
	}
	if err := p.verifier.Verify(rec); err != nil {
		return domain.ErrInvalidSignature.Error()
	}
	return ""
}

func (p *Pipeline) release(ctx context.Context, rec domain.PendingRecord) {
	if err := p.idem.Release(ctx, rec.TxnID); err != nil {
		p.logger.Error("failed to release reservation", "txn_id", rec.TxnID, "error", err)
	}
}

func (p *Pipeline) failed(rec domain.PendingRecord, step string, err error) domain.SyncItem {
	p.logger.Warn("sync record failed",
		"txn_id", rec.TxnID,
		"account_id", rec.AccountID,
		"device_id", rec.DeviceID,
		"step", step,
		"error", err,
	)
	return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeFailed, Reason: step + ": " + err.Error()}
}

func rejected(rec domain.PendingRecord, reason string) domain.SyncItem {
	return domain.SyncItem{TxnID: rec.TxnID, Outcome: domain.OutcomeRejected, Reason: reason}
}

// deviceOrder returns, for each batch position, the index of the record to
// process there. A device's records keep the positions they arrived in but
// are placed in sequence order across them.
func deviceOrder(batch []domain.PendingRecord) []int {
	positions := make(map[string][]int)
	for i, r := range batch {
		positions[r.DeviceID] = append(positions[r.DeviceID], i)
	}

	order := make([]int, len(batch))
	for _, pos := range positions {
		bySeq := slices.Clone(pos)
		sort.SliceStable(bySeq, func(a, b int) bool {
			return batch[bySeq[a]].Sequence < batch[bySeq[b]].Sequence
		})
		for k, p := range pos {
			order[p] = bySeq[k]
		}
	}
	return order
}

func groupByAccount(batch []domain.PendingRecord, order []int) [][]int {
	index := make(map[uuid.UUID]int)
	var groups [][]int
	for _, idx := range order {
		id := batch[idx].AccountID
		g, ok := index[id]
		if !ok {
			g = len(groups)
			index[id] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], idx)
	}
	return groups
}
