package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names emitted by the core services.
const (
	TypeEnrollmentPromoted = "enrollment.promoted"
	TypeInstallmentOverdue = "installment.overdue"
	TypePaymentFinalized   = "payment.finalized"
)

// Event is a fire-and-forget domain notification. Consumers live outside
// the core; delivery failures never fail the originating operation.
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// EnrollmentPromoted is published when a waitlisted enrollment takes a
// freed seat.
type EnrollmentPromoted struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
	ClassID      string `json:"class_id"`
}

// InstallmentOverdue is published the first time an open installment is
// read past its due date.
type InstallmentOverdue struct {
	InstallmentID string          `json:"installment_id"`
	EnrollmentID  string          `json:"enrollment_id"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       time.Time       `json:"due_date"`
}

// PaymentFinalized is published once a payment's allocations have been
// converted into paid installments.
type PaymentFinalized struct {
	PaymentID    string          `json:"payment_id"`
	PayerID      string          `json:"payer_id"`
	Allocated    decimal.Decimal `json:"allocated"`
	Installments []string        `json:"installments"`
}
