package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

type Conflicts struct{ s *Store }

func (c *Conflicts) Create(_ context.Context, conflict *domain.Conflict, txn *domain.Transaction) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.conflicts[conflict.TxnID]; ok {
		return false, nil
	}
	c.s.conflicts[conflict.TxnID] = *conflict
	c.s.conflictSeq = append(c.s.conflictSeq, conflict.TxnID)
	c.s.appendTxnLocked(*txn)
	return true, nil
}

func (c *Conflicts) Get(_ context.Context, txnID string) (*domain.Conflict, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	conflict, ok := c.s.conflicts[txnID]
	if !ok {
		return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
	}
	return &conflict, nil
}

func (c *Conflicts) List(_ context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	all := []domain.Conflict{}
	for _, id := range c.s.conflictSeq {
		conflict := c.s.conflicts[id]
		if status == "" || conflict.Status == status {
			all = append(all, conflict)
		}
	}
	total := len(all)
	if offset >= total {
		return []domain.Conflict{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (c *Conflicts) Claim(_ context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string, now time.Time) (*domain.Conflict, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	conflict, ok := c.s.conflicts[txnID]
	if !ok {
		return nil, fmt.Errorf("Claim: %w", domain.ErrNotFound)
	}
	resumable := conflict.Status == domain.ConflictResolved &&
		conflict.Strategy != nil && *conflict.Strategy == domain.StrategyPartialApply &&
		conflict.SettledAt == nil && strategy == domain.StrategyPartialApply
	if conflict.Status != domain.ConflictOpen && !resumable {
		return nil, fmt.Errorf("Claim: %w", domain.ErrConflictAlreadyResolved)
	}

	conflict.Status = domain.ConflictResolved
	conflict.Strategy = &strategy
	conflict.ResolvedBy = &resolvedBy
	conflict.Note = &note
	conflict.ResolvedAt = ptrTime(now)
	conflict.SettledAt = nil
	if strategy != domain.StrategyPartialApply {
		conflict.SettledAt = ptrTime(now)
	}
	c.s.conflicts[txnID] = conflict
	return &conflict, nil
}

func (c *Conflicts) Settle(_ context.Context, txnID string, applied, shortfall decimal.Decimal, shortfallTxn *domain.Transaction, now time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	conflict, ok := c.s.conflicts[txnID]
	if !ok {
		return fmt.Errorf("Settle: %w", domain.ErrNotFound)
	}
	if conflict.SettledAt != nil {
		return nil
	}
	if shortfallTxn != nil {
		c.s.appendTxnLocked(*shortfallTxn)
		id := shortfallTxn.ID
		conflict.ShortfallTxnID = &id
	}
	conflict.AppliedAmount = applied
	conflict.Shortfall = shortfall
	conflict.SettledAt = ptrTime(now)
	c.s.conflicts[txnID] = conflict
	return nil
}
