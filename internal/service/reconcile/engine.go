// Package reconcile recomputes account balances from the transaction log and
// corrects small drift. It owns no timers; callers decide when to run it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
)

type accountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type ledgerSummer interface {
	SumBalanceEffects(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

type corrector interface {
	Correct(ctx context.Context, accountID uuid.UUID, expectedVersion int64, delta decimal.Decimal, txnID string) (*ledger.Result, error)
}

type resultRepo interface {
	Create(ctx context.Context, res *domain.ReconciliationResult) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error)
}

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent)
}

const systemActor = "reconciliation"

type Config struct {
	// AutoAdjustThreshold is the largest absolute drift corrected without an
	// operator. It has no default.
	AutoAdjustThreshold decimal.Decimal
	MaxAttempts         int
	Concurrency         int
	Now                 func() time.Time
}

type Engine struct {
	accounts  accountReader
	ledger    ledgerSummer
	corrector corrector
	results   resultRepo
	audit     auditor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func NewEngine(
	accounts accountReader,
	ledgerRepo ledgerSummer,
	corr corrector,
	results resultRepo,
	audit auditor,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		accounts:  accounts,
		ledger:    ledgerRepo,
		corrector: corr,
		results:   results,
		audit:     audit,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
	}
}

// Reconcile checks one account on demand under a fresh run id.
func (e *Engine) Reconcile(ctx context.Context, accountID uuid.UUID) (*domain.ReconciliationResult, error) {
	now := e.cfg.Now()
	res, err := e.reconcileAccount(ctx, accountID, ulid.Make().String(), runDay(now))
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	return res, nil
}

// ReconcileAll checks every account once. A failing account is counted and
// logged; it does not stop the run.
func (e *Engine) ReconcileAll(ctx context.Context, runDate time.Time) (*domain.ReconciliationRun, error) {
	ids, err := e.accounts.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReconcileAll: %w", err)
	}
	if runDate.IsZero() {
		runDate = e.cfg.Now()
	}

	run := &domain.ReconciliationRun{
		RunID:     ulid.Make().String(),
		RunDate:   runDay(runDate),
		Checked:   len(ids),
		StartedAt: e.cfg.Now(),
	}
	log := e.logger.With("run_id", run.RunID, "run_date", run.RunDate.Format(time.DateOnly))
	log.Info("reconciliation run started", "accounts", len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := e.reconcileAccount(ctx, id, run.RunID, run.RunDate)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.Failed++
				log.Error("account reconciliation failed", "account_id", id, "error", err)
				return nil
			}
			switch res.Action {
			case domain.ActionAutoAdjusted:
				run.Mismatched++
				run.AutoAdjusted++
			case domain.ActionAlerted:
				run.Mismatched++
				run.Alerted++
			}
			return nil
		})
	}
	_ = g.Wait()
	run.FinishedAt = e.cfg.Now()

	log.Info("reconciliation run finished",
		"checked", run.Checked,
		"mismatched", run.Mismatched,
		"auto_adjusted", run.AutoAdjusted,
		"alerted", run.Alerted,
		"failed", run.Failed,
	)
	return run, nil
}

func (e *Engine) Results(ctx context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error) {
	if runDate != nil {
		d := runDay(*runDate)
		runDate = &d
	}
	results, err := e.results.ListByAccount(ctx, accountID, runDate, limit)
	if err != nil {
		return nil, fmt.Errorf("Results: %w", err)
	}
	return results, nil
}

// Realign corrects a drift an operator has reviewed, whatever its size. The
// caller passes the delta it was shown; if the account has drifted further
// since, ErrDriftChanged asks for a fresh review instead of correcting blind.
// The correction is a RECONCILIATION adjustment, so the next reconcile of the
// account reports NONE.
func (e *Engine) Realign(ctx context.Context, accountID uuid.UUID, expectedDelta decimal.Decimal, operator, note string) (*domain.ReconciliationResult, error) {
	if operator == "" {
		return nil, fmt.Errorf("Realign: operator required: %w", domain.ErrInvalidRequest)
	}
	runID := ulid.Make().String()

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		acct, computed, err := e.measure(ctx, accountID)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("Realign: %w", err)
		}

		delta := acct.Total().Sub(computed)
		if delta.IsZero() {
			return nil, fmt.Errorf("Realign: %s: %w", accountID, domain.ErrNoDrift)
		}
		if !delta.Equal(expectedDelta) {
			return nil, fmt.Errorf("Realign: reviewed %s, now %s: %w",
				expectedDelta.StringFixed(domain.MinorUnitPlaces), delta.StringFixed(domain.MinorUnitPlaces), domain.ErrDriftChanged)
		}

		txnID := fmt.Sprintf("realign:%s:%s", runID, accountID)
		if _, err := e.corrector.Correct(ctx, accountID, acct.Version, delta, txnID); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("Realign: %w", err)
		}

		now := e.cfg.Now()
		res := &domain.ReconciliationResult{
			ID:              ulid.Make().String(),
			RunID:           runID,
			RunDate:         runDay(now),
			AccountID:       accountID,
			Computed:        computed,
			Stored:          acct.Total(),
			Delta:           delta,
			Action:          domain.ActionRealigned,
			AdjustmentTxnID: &txnID,
			CreatedAt:       now,
		}
		if err := e.results.Create(ctx, res); err != nil {
			return nil, fmt.Errorf("Realign: save result: %w", err)
		}
		e.report(ctx, res, operator, "note", note)
		return res, nil
	}
	return nil, fmt.Errorf("Realign: account %s kept changing: %w", accountID, domain.ErrConcurrentModification)
}

// measure reads the stored account and the log-derived total at one version.
// A version change between the reads returns ErrVersionConflict.
func (e *Engine) measure(ctx context.Context, accountID uuid.UUID) (*domain.Account, decimal.Decimal, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	computed, err := e.ledger.SumBalanceEffects(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	again, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if again.Version != acct.Version {
		return nil, decimal.Zero, domain.ErrVersionConflict
	}
	return acct, computed, nil
}

// reconcileAccount compares the stored total with the log-derived total at a
// single account version. A version change between the two reads, or a
// correction that loses the version race, restarts the comparison.
func (e *Engine) reconcileAccount(ctx context.Context, accountID uuid.UUID, runID string, runDate time.Time) (*domain.ReconciliationResult, error) {
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		acct, computed, err := e.measure(ctx, accountID)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reconcileAccount: %w", err)
		}

		res := &domain.ReconciliationResult{
			ID:        ulid.Make().String(),
			RunID:     runID,
			RunDate:   runDate,
			AccountID: accountID,
			Computed:  computed,
			Stored:    acct.Total(),
			Delta:     acct.Total().Sub(computed),
			Action:    domain.ActionNone,
		}

		if !res.Delta.IsZero() {
			res.Action = domain.ActionAlerted
			if e.correctable(acct, res.Delta) {
				txnID := fmt.Sprintf("recon:%s:%s", runID, accountID)
				_, err := e.corrector.Correct(ctx, accountID, acct.Version, res.Delta, txnID)
				if errors.Is(err, domain.ErrVersionConflict) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("reconcileAccount: correct: %w", err)
				}
				res.Action = domain.ActionAutoAdjusted
				res.AdjustmentTxnID = &txnID
			}
		}

		res.CreatedAt = e.cfg.Now()
		if err := e.results.Create(ctx, res); err != nil {
			return nil, fmt.Errorf("reconcileAccount: save result: %w", err)
		}
		e.report(ctx, res, systemActor)
		return res, nil
	}
	return nil, fmt.Errorf("reconcileAccount: account %s kept changing: %w", accountID, domain.ErrConcurrentModification)
}

// correctable reports whether delta is small enough to fix silently and the
// fix would not push available below zero.
func (e *Engine) correctable(acct *domain.Account, delta decimal.Decimal) bool {
	if delta.Abs().GreaterThan(e.cfg.AutoAdjustThreshold) {
		return false
	}
	return !acct.Available.Sub(delta).IsNegative()
}

func (e *Engine) report(ctx context.Context, res *domain.ReconciliationResult, actor string, extra ...string) {
	absDrift, _ := res.Delta.Abs().Float64()
	e.metrics.ReconcileResult(string(res.Action), absDrift)
	if res.Action == domain.ActionNone {
		return
	}

	attrs := []any{
		"account_id", res.AccountID,
		"run_id", res.RunID,
		"stored", res.Stored.StringFixed(domain.MinorUnitPlaces),
		"computed", res.Computed.StringFixed(domain.MinorUnitPlaces),
		"delta", res.Delta.StringFixed(domain.MinorUnitPlaces),
		"action", res.Action,
	}
	evType := domain.AuditDriftDetected
	switch res.Action {
	case domain.ActionAutoAdjusted:
		evType = domain.AuditDriftAutoAdjusted
		e.logger.Warn("balance drift auto-adjusted", attrs...)
	case domain.ActionRealigned:
		evType = domain.AuditDriftRealigned
		e.logger.Warn("balance drift realigned by operator", append(attrs, "operator", actor)...)
	default:
		e.logger.Error("balance drift needs investigation", attrs...)
	}

	if e.audit == nil {
		return
	}
	details := map[string]string{
		"run_id":   res.RunID,
		"stored":   res.Stored.StringFixed(domain.MinorUnitPlaces),
		"computed": res.Computed.StringFixed(domain.MinorUnitPlaces),
		"delta":    res.Delta.StringFixed(domain.MinorUnitPlaces),
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if extra[i+1] != "" {
			details[extra[i]] = extra[i+1]
		}
	}
	ev := domain.AuditEvent{
		Type:       evType,
		AccountID:  res.AccountID,
		Actor:      actor,
		Details:    details,
		OccurredAt: res.CreatedAt,
	}
	if res.AdjustmentTxnID != nil {
		ev.TxnID = *res.AdjustmentTxnID
	}
	e.audit.Record(ctx, ev)
}

func runDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
