// Package conflict keeps the operator queue of offline records the ledger
// could not apply, and closes them with a resolution strategy.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
)

// SystemActor resolves conflicts closed by the configured default strategy.
const SystemActor = "system"

type conflictRepo interface {
	Create(ctx context.Context, c *domain.Conflict, txn *domain.Transaction) (bool, error)
	Get(ctx context.Context, txnID string) (*domain.Conflict, error)
	List(ctx context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error)
	Claim(ctx context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string, now time.Time) (*domain.Conflict, error)
	Settle(ctx context.Context, txnID string, applied, shortfall decimal.Decimal, shortfallTxn *domain.Transaction, now time.Time) error
}

type partialDebiter interface {
	DebitUpTo(ctx context.Context, m ledger.Mutation) (*ledger.Result, error)
}

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent)
}

type Config struct {
	DefaultStrategy domain.ResolutionStrategy
	Now             func() time.Time
}

type Resolver struct {
	conflicts conflictRepo
	ledger    partialDebiter
	audit     auditor
	metrics   *metrics.Metrics
	cfg       Config
}

func NewResolver(conflicts conflictRepo, debiter partialDebiter, audit auditor, m *metrics.Metrics, cfg Config) *Resolver {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = domain.StrategyManual
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{conflicts: conflicts, ledger: debiter, audit: audit, metrics: m, cfg: cfg}
}

// Open queues rec as a conflict and records its CONFLICT-tagged transaction.
// Opening the same record twice returns the existing entry.
func (r *Resolver) Open(ctx context.Context, rec domain.PendingRecord, reason domain.ConflictReason) (*domain.Conflict, error) {
	log := logging.FromContext(ctx)
	now := r.cfg.Now()

	c := &domain.Conflict{
		TxnID:      rec.TxnID,
		AccountID:  rec.AccountID,
		DeviceID:   rec.DeviceID,
		Amount:     rec.Amount,
		Reason:     reason,
		Status:     domain.ConflictOpen,
		OccurredAt: rec.OccurredAt,
		CreatedAt:  now,
	}
	txn := &domain.Transaction{
		ID:         rec.TxnID,
		AccountID:  rec.AccountID,
		Amount:     rec.Amount.Neg(),
		Kind:       domain.KindDebit,
		Origin:     domain.OriginOffline,
		DeviceID:   rec.DeviceID,
		OccurredAt: rec.OccurredAt,
		RecordedAt: now,
		SyncStatus: domain.SyncStatusConflict,
	}

	created, err := r.conflicts.Create(ctx, c, txn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if !created {
		existing, err := r.conflicts.Get(ctx, rec.TxnID)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return existing, nil
	}

	r.metrics.ConflictOpened(string(reason))
	log.Warn("conflict opened",
		"txn_id", rec.TxnID,
		"account_id", rec.AccountID,
		"device_id", rec.DeviceID,
		"amount", rec.Amount.StringFixed(domain.MinorUnitPlaces),
		"reason", reason,
	)
	if r.audit != nil {
		r.audit.Record(ctx, domain.AuditEvent{
			Type:      domain.AuditConflictOpened,
			AccountID: rec.AccountID,
			TxnID:     rec.TxnID,
			DeviceID:  rec.DeviceID,
			Details: map[string]string{
				"amount": rec.Amount.StringFixed(domain.MinorUnitPlaces),
				"reason": string(reason),
			},
			OccurredAt: now,
		})
	}

	if r.cfg.DefaultStrategy == domain.StrategyManual {
		return c, nil
	}
	if _, err := r.Resolve(ctx, rec.TxnID, r.cfg.DefaultStrategy, SystemActor, "default strategy"); err != nil {
		log.Error("default conflict strategy failed, left open",
			"txn_id", rec.TxnID,
			"strategy", r.cfg.DefaultStrategy,
			"error", err,
		)
		return c, nil
	}
	resolved, err := r.conflicts.Get(ctx, rec.TxnID)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return resolved, nil
}

// Resolve closes an open conflict. REJECT and MANUAL apply nothing.
// PARTIAL_APPLY debits what the account holds now and books the rest as a
// CONFLICT-tagged receivable. A PARTIAL_APPLY interrupted before settlement
// can be resumed by calling Resolve again with PARTIAL_APPLY.
func (r *Resolver) Resolve(ctx context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string) (*domain.Resolution, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("Resolve: %w", domain.ErrInvalidStrategy)
	}

	c, err := r.conflicts.Claim(ctx, txnID, strategy, resolvedBy, note, r.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	if strategy == domain.StrategyPartialApply {
		if err := r.settlePartial(ctx, c); err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		if c, err = r.conflicts.Get(ctx, txnID); err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
	}

	res := resolutionOf(c)
	r.metrics.ConflictResolved(string(strategy))
	logging.FromContext(ctx).Info("conflict resolved",
		"txn_id", txnID,
		"account_id", c.AccountID,
		"strategy", strategy,
		"applied", res.AppliedAmount.StringFixed(domain.MinorUnitPlaces),
		"shortfall", res.Shortfall.StringFixed(domain.MinorUnitPlaces),
		"resolved_by", resolvedBy,
	)
	if r.audit != nil {
		r.audit.Record(ctx, domain.AuditEvent{
			Type:      domain.AuditConflictResolved,
			AccountID: c.AccountID,
			TxnID:     txnID,
			DeviceID:  c.DeviceID,
			Actor:     resolvedBy,
			Details: map[string]string{
				"strategy":  string(strategy),
				"applied":   res.AppliedAmount.StringFixed(domain.MinorUnitPlaces),
				"shortfall": res.Shortfall.StringFixed(domain.MinorUnitPlaces),
			},
			OccurredAt: res.ResolvedAt,
		})
	}
	return &res, nil
}

func (r *Resolver) settlePartial(ctx context.Context, c *domain.Conflict) error {
	applied := decimal.Zero
	out, err := r.ledger.DebitUpTo(ctx, ledger.Mutation{
		TxnID:      domain.PartialTxnID(c.TxnID),
		AccountID:  c.AccountID,
		Amount:     c.Amount,
		Origin:     domain.OriginOffline,
		DeviceID:   c.DeviceID,
		OccurredAt: c.OccurredAt,
	})
	switch {
	case err == nil:
		applied = out.Transaction.Amount.Neg()
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrAccountNotUsable):
		// nothing collectable now; the whole amount becomes the shortfall
	default:
		return fmt.Errorf("settlePartial: %w", err)
	}

	now := r.cfg.Now()
	shortfall := c.Amount.Sub(applied)
	var shortfallTxn *domain.Transaction
	if shortfall.IsPositive() {
		shortfallTxn = &domain.Transaction{
			ID:         domain.ShortfallTxnID(c.TxnID),
			AccountID:  c.AccountID,
			Amount:     shortfall.Neg(),
			Kind:       domain.KindAdjustment,
			Origin:     domain.OriginOffline,
			DeviceID:   c.DeviceID,
			OccurredAt: c.OccurredAt,
			RecordedAt: now,
			SyncStatus: domain.SyncStatusConflict,
		}
	}
	if err := r.conflicts.Settle(ctx, c.TxnID, applied, shortfall, shortfallTxn, now); err != nil {
		return fmt.Errorf("settlePartial: %w", err)
	}
	return nil
}

func (r *Resolver) Get(ctx context.Context, txnID string) (*domain.Conflict, error) {
	c, err := r.conflicts.Get(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return c, nil
}

func (r *Resolver) List(ctx context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error) {
	if status != "" && status != domain.ConflictOpen && status != domain.ConflictResolved {
		return nil, 0, fmt.Errorf("List: %w", domain.ErrInvalidRequest)
	}
	conflicts, total, err := r.conflicts.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	return conflicts, total, nil
}

func resolutionOf(c *domain.Conflict) domain.Resolution {
	res := domain.Resolution{
		TxnID:          c.TxnID,
		AppliedAmount:  c.AppliedAmount,
		Shortfall:      c.Shortfall,
		ShortfallTxnID: c.ShortfallTxnID,
	}
	if c.Strategy != nil {
		res.Strategy = *c.Strategy
	}
	if c.ResolvedBy != nil {
		res.ResolvedBy = *c.ResolvedBy
	}
	if c.Note != nil {
		res.Note = *c.Note
	}
	if c.ResolvedAt != nil {
		res.ResolvedAt = *c.ResolvedAt
	}
	return res
}
