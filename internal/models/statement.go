package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementLine is one outstanding or settled installment on a payer's
// billing statement.
type StatementLine struct {
	InstallmentID string            `json:"installment_id"`
	StudentName   string            `json:"student_name"`
	ClassName     string            `json:"class_name"`
	PeriodYear    int               `json:"period_year"`
	PeriodMonth   int               `json:"period_month"`
	Amount        decimal.Decimal   `json:"amount"`
	DueDate       time.Time         `json:"due_date"`
	Status        InstallmentStatus `json:"status"`
}

// BillingStatement summarises a payer's position: outstanding installments
// and settled payments.
type BillingStatement struct {
	PayerID          string          `json:"payer_id"`
	PayerName        string          `json:"payer_name"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Lines            []StatementLine `json:"lines"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalOverdue     decimal.Decimal `json:"total_overdue"`
	Payments         []Payment       `json:"payments"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
}
