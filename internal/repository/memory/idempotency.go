package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type Idempotency struct{ s *Store }

func (i *Idempotency) CheckAndReserve(_ context.Context, txnID string, accountID uuid.UUID, now time.Time, lease time.Duration) (*domain.Reservation, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	if e, ok := i.s.idempotency[txnID]; ok {
		if e.State != domain.IdempotencyPending {
			return &domain.Reservation{Outcome: domain.ReserveDuplicate, Entry: e}, nil
		}
		if !e.ReservedUntil.Before(now) {
			return nil, fmt.Errorf("CheckAndReserve: %w", domain.ErrReservationInFlight)
		}
	}

	e := domain.IdempotencyEntry{
		TxnID:         txnID,
		AccountID:     accountID,
		State:         domain.IdempotencyPending,
		ReservedUntil: now.Add(lease),
		CreatedAt:     now,
	}
	i.s.idempotency[txnID] = e
	return &domain.Reservation{Outcome: domain.ReserveNew, Entry: e}, nil
}

func (i *Idempotency) Get(_ context.Context, txnID string) (*domain.IdempotencyEntry, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	e, ok := i.s.idempotency[txnID]
	if !ok {
		return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
	}
	return &e, nil
}

func (i *Idempotency) GetResult(_ context.Context, txnID string) (*domain.Transaction, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	e, ok := i.s.idempotency[txnID]
	if !ok || e.State == domain.IdempotencyPending {
		return nil, nil
	}
	t, ok := i.s.txns[txnID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (i *Idempotency) Commit(_ context.Context, txnID string, now time.Time) error {
	if err := i.complete(txnID, domain.IdempotencyApplied, now); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (i *Idempotency) MarkConflict(_ context.Context, txnID string, now time.Time) error {
	if err := i.complete(txnID, domain.IdempotencyConflict, now); err != nil {
		return fmt.Errorf("MarkConflict: %w", err)
	}
	return nil
}

func (i *Idempotency) complete(txnID string, state domain.IdempotencyState, now time.Time) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	e, ok := i.s.idempotency[txnID]
	if !ok || (e.State != domain.IdempotencyPending && e.State != state) {
		return domain.ErrReservationLost
	}
	e.State = state
	if e.CompletedAt == nil {
		e.CompletedAt = ptrTime(now)
	}
	i.s.idempotency[txnID] = e
	return nil
}

func (i *Idempotency) Release(_ context.Context, txnID string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if e, ok := i.s.idempotency[txnID]; ok && e.State == domain.IdempotencyPending {
		delete(i.s.idempotency, txnID)
	}
	return nil
}

func (i *Idempotency) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var n int64
	for id, e := range i.s.idempotency {
		if e.State == domain.IdempotencyPending && e.ReservedUntil.Before(now) {
			delete(i.s.idempotency, id)
			n++
		}
	}
	return n, nil
}

func (i *Idempotency) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var n int64
	for id, e := range i.s.idempotency {
		if e.State != domain.IdempotencyPending && e.CompletedAt != nil && e.CompletedAt.Before(before) {
			delete(i.s.idempotency, id)
			n++
		}
	}
	return n, nil
}
