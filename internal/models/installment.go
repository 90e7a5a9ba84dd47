package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus represents the lifecycle of a monthly installment.
type InstallmentStatus string

// Possible installment statuses. Overdue is derived from Open on read when
// the due date has passed; it is persisted back but never set directly.
const (
	InstallmentStatusOpen     InstallmentStatus = "OPEN"
	InstallmentStatusOverdue  InstallmentStatus = "OVERDUE"
	InstallmentStatusPaid     InstallmentStatus = "PAID"
	InstallmentStatusCanceled InstallmentStatus = "CANCELED"
)

// Payable reports whether the installment can still be marked paid.
func (s InstallmentStatus) Payable() bool {
	return s == InstallmentStatusOpen || s == InstallmentStatusOverdue
}

// Installment is one billing period's fixed charge tied to an enrollment.
// The amount is fixed at creation and the (enrollment, period) pair is unique.
type Installment struct {
	ID            string            `db:"id" json:"id"`
	EnrollmentID  string            `db:"enrollment_id" json:"enrollment_id"`
	PeriodYear    int               `db:"period_year" json:"period_year"`
	PeriodMonth   int               `db:"period_month" json:"period_month"`
	Amount        decimal.Decimal   `db:"amount" json:"amount"`
	DueDate       time.Time         `db:"due_date" json:"due_date"`
	Status        InstallmentStatus `db:"status" json:"status"`
	PaidAt        *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	PaymentMethod *string           `db:"payment_method" json:"payment_method,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// DeriveInstallmentStatus computes the effective status of an installment as
// of today. Only Open turns into Overdue, and only once the due date has
// fully passed; every other status is returned unchanged.
func DeriveInstallmentStatus(status InstallmentStatus, dueDate, today time.Time) InstallmentStatus {
	if status != InstallmentStatusOpen {
		return status
	}
	due := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
	now := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if now.After(due) {
		return InstallmentStatusOverdue
	}
	return status
}

// InstallmentFilter provides filters for listing installments.
type InstallmentFilter struct {
	EnrollmentID string
	PayerID      string
	Status       InstallmentStatus
	Page         int
	PageSize     int
}
