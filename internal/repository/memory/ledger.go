package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

type Ledger struct{ s *Store }

func (l *Ledger) GetByTxnID(_ context.Context, txnID string) (*domain.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	t, ok := l.s.txns[txnID]
	if !ok {
		return nil, fmt.Errorf("GetByTxnID: %w", domain.ErrNotFound)
	}
	return &t, nil
}

// GetByAccountID returns newest first, matching the Postgres ordering.
func (l *Ledger) GetByAccountID(_ context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var all []domain.Transaction
	for i := len(l.s.txnOrder) - 1; i >= 0; i-- {
		t := l.s.txns[l.s.txnOrder[i]]
		if t.AccountID == accountID {
			all = append(all, t)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (l *Ledger) SumBalanceEffects(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range l.s.txns {
		if t.AccountID == accountID {
			sum = sum.Add(t.BalanceEffect())
		}
	}
	return sum, nil
}
