package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

type Accounts struct{ s *Store }

func (a *Accounts) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	acct, ok := a.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
	}
	return &acct, nil
}

func (a *Accounts) Create(_ context.Context, account *domain.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.accounts[account.ID]; ok {
		return fmt.Errorf("Create: account %s exists", account.ID)
	}
	a.s.accounts[account.ID] = *account
	a.s.accountOrder = append(a.s.accountOrder, account.ID)
	return nil
}

func (a *Accounts) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return append([]uuid.UUID(nil), a.s.accountOrder...), nil
}

func (a *Accounts) List(_ context.Context, limit, offset int) ([]domain.Account, int, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	total := len(a.s.accountOrder)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	out := make([]domain.Account, 0, end-offset)
	for _, id := range a.s.accountOrder[offset:end] {
		out = append(out, a.s.accounts[id])
	}
	return out, total, nil
}

func (a *Accounts) ApplyMutation(_ context.Context, next *domain.Account, txn *domain.Transaction) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	cur, ok := a.s.accounts[next.ID]
	if !ok || cur.Version != next.Version-1 {
		return fmt.Errorf("ApplyMutation: %w", domain.ErrVersionConflict)
	}
	if next.Available.IsNegative() || next.Frozen.IsNegative() {
		return fmt.Errorf("ApplyMutation: negative balance rejected by store")
	}
	if txn != nil {
		if _, dup := a.s.txns[txn.ID]; dup {
			return fmt.Errorf("ApplyMutation: %w", domain.ErrDuplicateTransaction)
		}
		a.s.appendTxnLocked(*txn)
	}
	a.s.accounts[next.ID] = *next
	return nil
}

// SetBalance overwrites the stored snapshot without touching the log or the
// version, simulating out-of-band corruption.
func (a *Accounts) SetBalance(id uuid.UUID, available, frozen decimal.Decimal) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acct := a.s.accounts[id]
	acct.Available = available
	acct.Frozen = frozen
	a.s.accounts[id] = acct
}
