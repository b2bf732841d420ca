package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type Reconciliations struct{ s *Store }

func (r *Reconciliations) Create(_ context.Context, res *domain.ReconciliationResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.results = append(r.s.results, *res)
	return nil
}

func (r *Reconciliations) ListByAccount(_ context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []domain.ReconciliationResult{}
	for i := len(r.s.results) - 1; i >= 0 && len(out) < limit; i-- {
		res := r.s.results[i]
		if res.AccountID != accountID {
			continue
		}
		if runDate != nil && res.RunDate.Format(time.DateOnly) != runDate.Format(time.DateOnly) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}
