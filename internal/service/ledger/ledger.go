// Package ledger is the single writer of account balances. Every mutation is
// a read-modify-write guarded by the account version and appends exactly one
// transaction in the same store write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	List(ctx context.Context, limit, offset int) ([]domain.Account, int, error)
	ApplyMutation(ctx context.Context, next *domain.Account, txn *domain.Transaction) error
}

type ledgerRepo interface {
	GetByTxnID(ctx context.Context, txnID string) (*domain.Transaction, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error)
}

type idempotencyRepo interface {
	CheckAndReserve(ctx context.Context, txnID string, accountID uuid.UUID, now time.Time, lease time.Duration) (*domain.Reservation, error)
	GetResult(ctx context.Context, txnID string) (*domain.Transaction, error)
	Commit(ctx context.Context, txnID string, now time.Time) error
	MarkConflict(ctx context.Context, txnID string, now time.Time) error
	Release(ctx context.Context, txnID string) error
}

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent)
}

type Config struct {
	MaxAttempts      int
	RetryInitial     time.Duration
	RetryMax         time.Duration
	MutationTimeout  time.Duration
	ReservationLease time.Duration
	Now              func() time.Time
}

// Mutation describes one balance change. Amount is a positive magnitude for
// every kind except ADJUSTMENT, where it is the signed change to available.
type Mutation struct {
	TxnID      string
	AccountID  uuid.UUID
	Kind       domain.TransactionKind
	Amount     decimal.Decimal
	Origin     domain.Origin
	DeviceID   string
	OccurredAt time.Time
	// UpTo debits min(available, Amount) instead of declining.
	UpTo bool
}

func (m Mutation) validate() error {
	if m.TxnID == "" || m.AccountID == uuid.Nil || !m.Kind.IsValid() {
		return domain.ErrInvalidRequest
	}
	amount := m.Amount
	if m.Kind == domain.KindAdjustment {
		amount = amount.Abs()
	}
	if !domain.ValidAmount(amount) {
		return domain.ErrInvalidAmount
	}
	return nil
}

type Result struct {
	Account     domain.Account
	Transaction domain.Transaction
	Replayed    bool
}

type Service struct {
	accounts accountRepo
	ledger   ledgerRepo
	idem     idempotencyRepo
	audit    auditor
	metrics  *metrics.Metrics
	cfg      Config
}

func NewService(accounts accountRepo, ledger ledgerRepo, idem idempotencyRepo, audit auditor, m *metrics.Metrics, cfg Config) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		accounts: accounts,
		ledger:   ledger,
		idem:     idem,
		audit:    audit,
		metrics:  m,
		cfg:      cfg,
	}
}

func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*Result, error) {
	return s.Execute(ctx, Mutation{TxnID: txnID, AccountID: accountID, Kind: domain.KindDebit, Amount: amount, Origin: domain.OriginOnline})
}

func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*Result, error) {
	return s.Execute(ctx, Mutation{TxnID: txnID, AccountID: accountID, Kind: domain.KindCredit, Amount: amount, Origin: domain.OriginOnline})
}

func (s *Service) Freeze(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*Result, error) {
	return s.Execute(ctx, Mutation{TxnID: txnID, AccountID: accountID, Kind: domain.KindFreeze, Amount: amount, Origin: domain.OriginOnline})
}

func (s *Service) Unfreeze(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*Result, error) {
	return s.Execute(ctx, Mutation{TxnID: txnID, AccountID: accountID, Kind: domain.KindUnfreeze, Amount: amount, Origin: domain.OriginOnline})
}

func (s *Service) Adjust(ctx context.Context, accountID uuid.UUID, signedAmount decimal.Decimal, txnID string) (*Result, error) {
	return s.Execute(ctx, Mutation{TxnID: txnID, AccountID: accountID, Kind: domain.KindAdjustment, Amount: signedAmount, Origin: domain.OriginOnline})
}

// DebitUpTo debits whatever the account holds up to m.Amount. The applied
// amount is the magnitude of the returned transaction. Origin, DeviceID and
// OccurredAt are recorded as given; Origin defaults to ONLINE.
func (s *Service) DebitUpTo(ctx context.Context, m Mutation) (*Result, error) {
	m.Kind = domain.KindDebit
	m.UpTo = true
	if m.Origin == "" {
		m.Origin = domain.OriginOnline
	}
	return s.Execute(ctx, m)
}

// Execute runs m at most once per TxnID. A repeated TxnID returns the stored
// outcome with Replayed set and does not touch the account.
func (s *Service) Execute(ctx context.Context, m Mutation) (*Result, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	res, err := s.idem.CheckAndReserve(ctx, m.TxnID, m.AccountID, s.cfg.Now(), s.cfg.ReservationLease)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}
	if res.Outcome == domain.ReserveDuplicate {
		out, err := s.replayReservation(ctx, m, res.Entry)
		if err != nil {
			return nil, fmt.Errorf("Execute: %w", err)
		}
		return out, nil
	}

	out, err := s.ApplyReserved(ctx, m)
	if err != nil {
		s.settleFailedReservation(ctx, m, err)
		return nil, fmt.Errorf("Execute: %w", err)
	}

	if err := s.idem.Commit(ctx, m.TxnID, s.cfg.Now()); err != nil {
		return nil, fmt.Errorf("Execute: commit reservation: %w", err)
	}
	return out, nil
}

// settleFailedReservation decides what happens to a reservation whose apply
// failed. Infrastructure errors keep it PENDING because the write may have
// landed; the lease lets a later retry take it over.
func (s *Service) settleFailedReservation(ctx context.Context, m Mutation, applyErr error) {
	log := logging.FromContext(ctx)
	now := s.cfg.Now()

	var err error
	switch {
	case errors.Is(applyErr, domain.ErrTransactionConflicted):
		err = s.idem.MarkConflict(ctx, m.TxnID, now)
	case errors.Is(applyErr, domain.ErrTxnIDReused):
		err = s.idem.Commit(ctx, m.TxnID, now)
	case domain.IsBusinessDecline(applyErr),
		errors.Is(applyErr, domain.ErrNotFound),
		errors.Is(applyErr, domain.ErrConcurrentModification),
		errors.Is(applyErr, domain.ErrInvalidRequest),
		errors.Is(applyErr, domain.ErrInvalidAmount):
		err = s.idem.Release(ctx, m.TxnID)
	default:
		log.Warn("reservation left pending after failed apply",
			"txn_id", m.TxnID,
			"account_id", m.AccountID,
			"error", applyErr,
		)
		return
	}
	if err != nil {
		log.Error("failed to settle reservation",
			"txn_id", m.TxnID,
			"account_id", m.AccountID,
			"error", err,
		)
	}
}

func (s *Service) replayReservation(ctx context.Context, m Mutation, entry domain.IdempotencyEntry) (*Result, error) {
	if entry.State == domain.IdempotencyConflict {
		return nil, fmt.Errorf("replayReservation: %w", domain.ErrTransactionConflicted)
	}
	prior, err := s.idem.GetResult(ctx, m.TxnID)
	if err != nil {
		return nil, fmt.Errorf("replayReservation: %w", err)
	}
	if prior == nil {
		return nil, fmt.Errorf("replayReservation: result for %s: %w", m.TxnID, domain.ErrNotFound)
	}
	return s.replayTxn(ctx, m, prior)
}

func (s *Service) replayTxn(ctx context.Context, m Mutation, prior *domain.Transaction) (*Result, error) {
	if prior.SyncStatus == domain.SyncStatusConflict {
		return nil, fmt.Errorf("replayTxn: %w", domain.ErrTransactionConflicted)
	}
	if prior.AccountID != m.AccountID || prior.Kind != m.Kind {
		return nil, fmt.Errorf("replayTxn: %w", domain.ErrTxnIDReused)
	}
	acct, err := s.accounts.GetByID(ctx, m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("replayTxn: %w", err)
	}
	s.metrics.LedgerMutation(string(m.Kind), "replayed")
	return &Result{Account: *acct, Transaction: *prior, Replayed: true}, nil
}

// ApplyReserved applies m for a caller that already holds the idempotency
// reservation for m.TxnID. It never touches the reservation itself.
func (s *Service) ApplyReserved(ctx context.Context, m Mutation) (*Result, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("ApplyReserved: %w", err)
	}

	prior, err := s.ledger.GetByTxnID(ctx, m.TxnID)
	if err == nil {
		return s.replayTxn(ctx, m, prior)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ApplyReserved: lookup txn: %w", err)
	}

	out, err := s.mutate(ctx, m.AccountID, func(acct domain.Account, now time.Time) (domain.Account, *domain.Transaction, error) {
		next, txn, err := transition(acct, m, now)
		if err != nil {
			return domain.Account{}, nil, err
		}
		return next, &txn, nil
	})
	if errors.Is(err, domain.ErrDuplicateTransaction) {
		// another writer recorded the same txn id between our lookup and write
		prior, lookupErr := s.ledger.GetByTxnID(ctx, m.TxnID)
		if lookupErr != nil {
			return nil, fmt.Errorf("ApplyReserved: %w", err)
		}
		return s.replayTxn(ctx, m, prior)
	}
	if err != nil {
		s.metrics.LedgerMutation(string(m.Kind), outcomeLabel(err))
		return nil, fmt.Errorf("ApplyReserved: %w", err)
	}

	s.metrics.LedgerMutation(string(m.Kind), "applied")
	logging.FromContext(ctx).Info("ledger mutation applied",
		"txn_id", m.TxnID,
		"account_id", m.AccountID,
		"kind", m.Kind,
		"origin", m.Origin,
		"amount", out.Transaction.Amount.StringFixed(domain.MinorUnitPlaces),
		"version", out.Account.Version,
	)
	s.recordMutation(ctx, out)
	return out, nil
}

// Correct applies a reconciliation adjustment of -delta to available, but
// only while the account is still at expectedVersion. There is no retry: a
// stale version means the caller's computation is stale too.
func (s *Service) Correct(ctx context.Context, accountID uuid.UUID, expectedVersion int64, delta decimal.Decimal, txnID string) (*Result, error) {
	m := Mutation{
		TxnID:     txnID,
		AccountID: accountID,
		Kind:      domain.KindAdjustment,
		Amount:    delta.Neg(),
		Origin:    domain.OriginReconciliation,
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MutationTimeout)
	defer cancel()

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}
	if acct.Version != expectedVersion {
		return nil, fmt.Errorf("Correct: %w", domain.ErrVersionConflict)
	}

	now := s.cfg.Now()
	next, txn, err := transition(*acct, m, now)
	if err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}
	if err := s.accounts.ApplyMutation(ctx, &next, &txn); err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}

	s.metrics.LedgerMutation(string(domain.KindAdjustment), "corrected")
	out := &Result{Account: next, Transaction: txn}
	s.recordMutation(ctx, out)
	return out, nil
}

type mutateFunc func(acct domain.Account, now time.Time) (domain.Account, *domain.Transaction, error)

// mutate runs the read-modify-write loop. Only a version conflict is retried;
// every other error is returned as is.
func (s *Service) mutate(ctx context.Context, accountID uuid.UUID, fn mutateFunc) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MutationTimeout)
	defer cancel()

	var out *Result
	op := func() error {
		acct, err := s.accounts.GetByID(ctx, accountID)
		if err != nil {
			return backoff.Permanent(err)
		}
		now := s.cfg.Now()
		next, txn, err := fn(*acct, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := s.accounts.ApplyMutation(ctx, &next, txn); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.metrics.CASRetry()
				return err
			}
			return backoff.Permanent(err)
		}
		out = &Result{Account: next}
		if txn != nil {
			out.Transaction = *txn
		}
		return nil
	}

	err := backoff.Retry(op, s.retryPolicy(ctx))
	if errors.Is(err, domain.ErrVersionConflict) {
		return nil, fmt.Errorf("mutate: account %s after %d attempts: %w", accountID, s.cfg.MaxAttempts, domain.ErrConcurrentModification)
	}
	if err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}
	return out, nil
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.cfg.RetryInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.cfg.RetryMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)
}

func (s *Service) recordMutation(ctx context.Context, r *Result) {
	if s.audit == nil {
		return
	}
	t := r.Transaction
	s.audit.Record(ctx, domain.AuditEvent{
		Type:      domain.AuditMutationApplied,
		AccountID: t.AccountID,
		TxnID:     t.ID,
		DeviceID:  t.DeviceID,
		Details: map[string]string{
			"kind":      string(t.Kind),
			"origin":    string(t.Origin),
			"amount":    t.Amount.StringFixed(domain.MinorUnitPlaces),
			"available": r.Account.Available.StringFixed(domain.MinorUnitPlaces),
			"frozen":    r.Account.Frozen.StringFixed(domain.MinorUnitPlaces),
			"version":   fmt.Sprint(r.Account.Version),
		},
		OccurredAt: t.RecordedAt,
	})
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrAccountNotUsable):
		return "account_not_usable"
	case errors.Is(err, domain.ErrInvalidFreezeAmount):
		return "invalid_freeze_amount"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	}
	return "error"
}
