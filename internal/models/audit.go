package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionEnrollmentCreate   = "ENROLLMENT_CREATE"
	AuditActionEnrollmentCancel   = "ENROLLMENT_CANCEL"
	AuditActionEnrollmentComplete = "ENROLLMENT_COMPLETE"
	AuditActionEnrollmentLock     = "ENROLLMENT_LOCK"
	AuditActionEnrollmentUnlock   = "ENROLLMENT_UNLOCK"
	AuditActionEnrollmentPromote  = "ENROLLMENT_PROMOTE"
	AuditActionPaymentFinalize    = "PAYMENT_FINALIZE"
	AuditActionPaymentCancel      = "PAYMENT_CANCEL"
	AuditActionScheduleGenerate   = "SCHEDULE_GENERATE"
	AuditActionInstallmentPay     = "INSTALLMENT_MARK_PAID"
	AuditActionInstallmentReopen  = "INSTALLMENT_REOPEN"
)

// AuditLog represents an audit trail record. The acting principal is passed
// in explicitly by the caller; there is no ambient current-user state.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
