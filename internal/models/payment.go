package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates accepted settlement methods. Payments arrive
// already settled; there is no gateway integration here.
type PaymentMethod string

// Accepted payment methods.
const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
)

// Valid reports whether the method is one of the accepted values.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCash || m == PaymentMethodTransfer
}

// Payment is a settled incoming amount from a payer, split across
// installments through allocations.
type Payment struct {
	ID           string          `db:"id" json:"id"`
	PayerID      string          `db:"payer_id" json:"payer_id"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	Method       PaymentMethod   `db:"method" json:"method"`
	PaidDate     time.Time       `db:"paid_date" json:"paid_date"`
	Finalized    bool            `db:"finalized" json:"finalized"`
	FinalizedAt  *time.Time      `db:"finalized_at" json:"finalized_at,omitempty"`
	CanceledAt   *time.Time      `db:"canceled_at" json:"canceled_at,omitempty"`
	CancelReason *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Allocation assigns a slice of a payment to exactly one installment.
// An installment carries at most one allocation and the allocated amount
// always equals the installment amount; partial payment of a single
// installment is not supported.
type Allocation struct {
	ID              string          `db:"id" json:"id"`
	PaymentID       string          `db:"payment_id" json:"payment_id"`
	InstallmentID   string          `db:"installment_id" json:"installment_id"`
	AllocatedAmount decimal.Decimal `db:"allocated_amount" json:"allocated_amount"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// PaymentDetail bundles a payment with its allocations.
type PaymentDetail struct {
	Payment
	Allocations []Allocation `json:"allocations"`
}

// PaymentFilter provides filters for listing payments.
type PaymentFilter struct {
	PayerID   string
	Finalized *bool
	Page      int
	PageSize  int
}

// AllocationResult reports the outcome of an allocation pass. The unallocated
// remainder is carried as payer credit by an external ledger, not persisted
// here.
type AllocationResult struct {
	PaymentID   string          `json:"payment_id"`
	Allocations []Allocation    `json:"allocations"`
	Allocated   decimal.Decimal `json:"allocated"`
	Remainder   decimal.Decimal `json:"remainder"`
}
