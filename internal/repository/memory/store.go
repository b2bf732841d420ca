// Package memory holds in-process versions of the Postgres repositories,
// used by service tests and local development.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type whitelistKey struct {
	deviceID  string
	accountID uuid.UUID
}

// Store is the shared state behind every repository view. All views lock the
// same mutex, so a mutation and its transaction append are atomic.
type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]domain.Account
	accountOrder []uuid.UUID
	txns         map[string]domain.Transaction
	txnOrder     []string
	idempotency  map[string]domain.IdempotencyEntry
	whitelist    map[whitelistKey]domain.WhitelistEntry
	conflicts    map[string]domain.Conflict
	conflictSeq  []string
	results      []domain.ReconciliationResult
}

func New() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]domain.Account),
		txns:        make(map[string]domain.Transaction),
		idempotency: make(map[string]domain.IdempotencyEntry),
		whitelist:   make(map[whitelistKey]domain.WhitelistEntry),
		conflicts:   make(map[string]domain.Conflict),
	}
}

func (s *Store) Accounts() *Accounts               { return &Accounts{s: s} }
func (s *Store) Ledger() *Ledger                   { return &Ledger{s: s} }
func (s *Store) Idempotency() *Idempotency         { return &Idempotency{s: s} }
func (s *Store) Whitelist() *Whitelist             { return &Whitelist{s: s} }
func (s *Store) Conflicts() *Conflicts             { return &Conflicts{s: s} }
func (s *Store) Reconciliations() *Reconciliations { return &Reconciliations{s: s} }

// appendTxnLocked reports false when the txn id is already taken.
func (s *Store) appendTxnLocked(t domain.Transaction) bool {
	if _, ok := s.txns[t.ID]; ok {
		return false
	}
	s.txns[t.ID] = t
	s.txnOrder = append(s.txnOrder, t.ID)
	return true
}

func ptrTime(t time.Time) *time.Time { return &t }
