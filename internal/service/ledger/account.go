package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

var errUnchanged = errors.New("status unchanged")

func (s *Service) Open(ctx context.Context, holderRef string) (*domain.Account, error) {
	holderRef = strings.TrimSpace(holderRef)
	if holderRef == "" {
		return nil, fmt.Errorf("Open: %w", domain.ErrInvalidRequest)
	}

	now := s.cfg.Now()
	account := &domain.Account{
		ID:        uuid.New(),
		HolderRef: holderRef,
		Available: decimal.Zero,
		Frozen:    decimal.Zero,
		Status:    domain.AccountStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	logging.FromContext(ctx).Info("account opened",
		"account_id", account.ID,
		"holder_ref", holderRef,
	)
	if s.audit != nil {
		s.audit.Record(ctx, domain.AuditEvent{
			Type:       domain.AuditAccountOpened,
			AccountID:  account.ID,
			Details:    map[string]string{"holder_ref": holderRef},
			OccurredAt: now,
		})
	}
	return account, nil
}

// SetStatus changes the account status under the same version check as a
// balance mutation. Setting the current status again is a no-op.
func (s *Service) SetStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus, actor string) (*domain.Account, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("SetStatus: %w", domain.ErrInvalidRequest)
	}

	var previous domain.AccountStatus
	unchanged := false
	out, err := s.mutate(ctx, accountID, func(acct domain.Account, now time.Time) (domain.Account, *domain.Transaction, error) {
		previous = acct.Status
		if acct.Status == status {
			unchanged = true
			return acct, nil, errUnchanged
		}
		if !acct.Status.CanTransitionTo(status) {
			return acct, nil, domain.ErrInvalidStatusTransition
		}
		next := acct
		next.Status = status
		next.Version = acct.Version + 1
		next.UpdatedAt = now
		return next, nil, nil
	})
	if unchanged {
		acct, err := s.accounts.GetByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("SetStatus: %w", err)
		}
		return acct, nil
	}
	if err != nil {
		return nil, fmt.Errorf("SetStatus: %w", err)
	}

	logging.FromContext(ctx).Info("account status changed",
		"account_id", accountID,
		"from", previous,
		"to", status,
		"actor", actor,
	)
	if s.audit != nil {
		s.audit.Record(ctx, domain.AuditEvent{
			Type:      domain.AuditStatusChanged,
			AccountID: accountID,
			Actor:     actor,
			Details: map[string]string{
				"from": string(previous),
				"to":   string(status),
			},
			OccurredAt: out.Account.UpdatedAt,
		})
	}
	return &out.Account, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return acct, nil
}

func (s *Service) ListAccounts(ctx context.Context, limit, offset int) ([]domain.Account, int, error) {
	accounts, total, err := s.accounts.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, total, nil
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	txns, total, err := s.ledger.GetByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	return txns, total, nil
}
