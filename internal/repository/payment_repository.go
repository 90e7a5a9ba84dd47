package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

// PaymentRepository handles persistence of payments and their allocations.
// Allocation and finalization run as single transactions over the payment
// and its target installments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, payer_id, total_amount, method, paid_date, finalized, finalized_at, canceled_at, cancel_reason, created_at`

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, payer_id, total_amount, method, paid_date, finalized, created_at)
        VALUES (:id, :payer_id, :total_amount, :method, :paid_date, :finalized, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindDetailByID returns a payment with its allocations.
func (r *PaymentRepository) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	payment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allocations, err := r.ListAllocations(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.PaymentDetail{Payment: *payment, Allocations: allocations}, nil
}

// List returns payments filtered by payer and finalization state.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	base := `FROM payments`
	var conditions []string
	var args []interface{}

	if filter.PayerID != "" {
		conditions = append(conditions, fmt.Sprintf("payer_id = $%d", len(args)+1))
		args = append(args, filter.PayerID)
	}
	if filter.Finalized != nil {
		conditions = append(conditions, fmt.Sprintf("finalized = $%d", len(args)+1))
		args = append(args, *filter.Finalized)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY paid_date DESC LIMIT %d OFFSET %d`, paymentColumns, base+clause, size, offset)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// ListAllocations returns the allocations of a payment.
func (r *PaymentRepository) ListAllocations(ctx context.Context, paymentID string) ([]models.Allocation, error) {
	const query = `SELECT id, payment_id, installment_id, allocated_amount, created_at
        FROM allocations WHERE payment_id = $1 ORDER BY created_at, id`
	var allocations []models.Allocation
	if err := r.db.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return allocations, nil
}

// InsertAllocations appends allocations to a payment atomically. Target
// installments are locked and re-verified: each must still be payable and
// unallocated, and the running allocated total must stay within the payment
// amount.
func (r *PaymentRepository) InsertAllocations(ctx context.Context, paymentID string, allocations []models.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	payment, err := lockPayment(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	if payment.Finalized || payment.CanceledAt != nil {
		return ErrAlreadyFinalized
	}

	allocated, err := allocatedTotal(ctx, tx, paymentID)
	if err != nil {
		return err
	}

	for i := range allocations {
		alloc := &allocations[i]

		var status models.InstallmentStatus
		if err := tx.GetContext(ctx, &status, `SELECT status FROM installments WHERE id = $1 FOR UPDATE`, alloc.InstallmentID); err != nil {
			return err
		}
		if !status.Payable() {
			return ErrAllocationConflict
		}

		var taken int
		err := tx.GetContext(ctx, &taken, `SELECT 1 FROM allocations WHERE installment_id = $1 LIMIT 1`, alloc.InstallmentID)
		if err == nil {
			return ErrInstallmentTaken
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check allocation: %w", err)
		}

		allocated = allocated.Add(alloc.AllocatedAmount)
		if allocated.GreaterThan(payment.TotalAmount) {
			return ErrOverAllocated
		}

		if alloc.ID == "" {
			alloc.ID = uuid.NewString()
		}
		if alloc.CreatedAt.IsZero() {
			alloc.CreatedAt = time.Now().UTC()
		}
		alloc.PaymentID = paymentID

		const insert = `INSERT INTO allocations (id, payment_id, installment_id, allocated_amount, created_at)
            VALUES (:id, :payment_id, :installment_id, :allocated_amount, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insert, alloc); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation: %w", err)
	}
	return nil
}

// Finalize converts every allocation of the payment into a paid installment,
// all or nothing. A second finalize attempt fails without mutating anything,
// as does a race where a target installment was paid elsewhere.
func (r *PaymentRepository) Finalize(ctx context.Context, paymentID string, finalizedAt time.Time) ([]models.Allocation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	payment, err := lockPayment(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Finalized || payment.CanceledAt != nil {
		return nil, ErrAlreadyFinalized
	}

	var allocations []models.Allocation
	const load = `SELECT id, payment_id, installment_id, allocated_amount, created_at
        FROM allocations WHERE payment_id = $1 ORDER BY created_at, id`
	if err := tx.SelectContext(ctx, &allocations, load, paymentID); err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}

	const pay = `UPDATE installments SET status = $2, paid_at = $3, payment_method = $4
        WHERE id = $1 AND status IN ($5, $6)`
	for _, alloc := range allocations {
		res, err := tx.ExecContext(ctx, pay, alloc.InstallmentID, models.InstallmentStatusPaid,
			payment.PaidDate, string(payment.Method),
			models.InstallmentStatusOpen, models.InstallmentStatusOverdue)
		if err != nil {
			return nil, fmt.Errorf("pay installment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrAllocationConflict
		}
	}

	const mark = `UPDATE payments SET finalized = TRUE, finalized_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, mark, paymentID, finalizedAt); err != nil {
		return nil, fmt.Errorf("mark payment finalized: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return allocations, nil
}

// CancelFinalized reverses a finalized payment: every allocated installment
// is reopened and the allocations are removed. The payment keeps its
// finalized flag and gains a cancellation record; it can never be finalized
// again.
func (r *PaymentRepository) CancelFinalized(ctx context.Context, paymentID, reason string, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment cancel: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	payment, err := lockPayment(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	if !payment.Finalized || payment.CanceledAt != nil {
		return ErrInvalidState
	}

	var allocations []models.Allocation
	const load = `SELECT id, payment_id, installment_id, allocated_amount, created_at
        FROM allocations WHERE payment_id = $1`
	if err := tx.SelectContext(ctx, &allocations, load, paymentID); err != nil {
		return fmt.Errorf("load allocations: %w", err)
	}

	const reopen = `UPDATE installments SET status = $2, paid_at = NULL, payment_method = NULL
        WHERE id = $1 AND status = $3`
	for _, alloc := range allocations {
		res, err := tx.ExecContext(ctx, reopen, alloc.InstallmentID, models.InstallmentStatusOpen, models.InstallmentStatusPaid)
		if err != nil {
			return fmt.Errorf("reopen installment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAllocationConflict
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM allocations WHERE payment_id = $1`, paymentID); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}

	const cancel = `UPDATE payments SET canceled_at = $2, cancel_reason = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, cancel, paymentID, now, reason); err != nil {
		return fmt.Errorf("cancel payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment cancel: %w", err)
	}
	return nil
}

func lockPayment(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, paymentColumns)
	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

func allocatedTotal(ctx context.Context, tx *sqlx.Tx, paymentID string) (decimal.Decimal, error) {
	var raw sql.NullString
	err := tx.GetContext(ctx, &raw, `SELECT COALESCE(SUM(allocated_amount), 0) FROM allocations WHERE payment_id = $1`, paymentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum allocations: %w", err)
	}
	if !raw.Valid {
		return decimal.Zero, nil
	}
	total, err := decimal.NewFromString(raw.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse allocation total: %w", err)
	}
	return total, nil
}
