package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	AuditMutationApplied   AuditEventType = "ledger.mutation_applied"
	AuditStatusChanged     AuditEventType = "account.status_changed"
	AuditAccountOpened     AuditEventType = "account.opened"
	AuditConflictOpened    AuditEventType = "conflict.opened"
	AuditConflictResolved  AuditEventType = "conflict.resolved"
	AuditDriftDetected     AuditEventType = "reconciliation.drift_detected"
	AuditDriftAutoAdjusted AuditEventType = "reconciliation.auto_adjusted"
	AuditDriftRealigned    AuditEventType = "reconciliation.realigned"
)

type AuditEvent struct {
	ID         string
	Type       AuditEventType
	AccountID  uuid.UUID
	TxnID      string
	DeviceID   string
	Actor      string
	Details    map[string]string
	OccurredAt time.Time
}
