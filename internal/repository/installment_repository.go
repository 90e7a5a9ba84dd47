package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

// InstallmentRepository handles persistence of monthly installments.
type InstallmentRepository struct {
	db *sqlx.DB
}

// NewInstallmentRepository constructs the repository.
func NewInstallmentRepository(db *sqlx.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

const installmentColumns = `id, enrollment_id, period_year, period_month, amount, due_date, status, paid_at, payment_method, created_at`

// FindByID returns an installment by its ID.
func (r *InstallmentRepository) FindByID(ctx context.Context, id string) (*models.Installment, error) {
	query := fmt.Sprintf(`SELECT %s FROM installments WHERE id = $1`, installmentColumns)
	var installment models.Installment
	if err := r.db.GetContext(ctx, &installment, query, id); err != nil {
		return nil, err
	}
	return &installment, nil
}

// ListByEnrollment returns every installment of an enrollment in period order.
func (r *InstallmentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	query := fmt.Sprintf(`SELECT %s FROM installments WHERE enrollment_id = $1 ORDER BY period_year, period_month`, installmentColumns)
	var installments []models.Installment
	if err := r.db.SelectContext(ctx, &installments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return installments, nil
}

// ListOutstandingByPayer returns every payable installment reachable from a
// payer: their own enrollments and those of their dependents. Ordered by due
// date, ties broken by id, which fixes the automatic allocation order.
func (r *InstallmentRepository) ListOutstandingByPayer(ctx context.Context, payerID string) ([]models.Installment, error) {
	const query = `SELECT i.id, i.enrollment_id, i.period_year, i.period_month, i.amount, i.due_date,
        i.status, i.paid_at, i.payment_method, i.created_at
        FROM installments i
        JOIN enrollments e ON e.id = i.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE (s.id = $1 OR s.guardian_id = $1) AND i.status IN ($2, $3)
        ORDER BY i.due_date ASC, i.id ASC`
	var installments []models.Installment
	err := r.db.SelectContext(ctx, &installments, query, payerID,
		models.InstallmentStatusOpen, models.InstallmentStatusOverdue)
	if err != nil {
		return nil, fmt.Errorf("list outstanding installments: %w", err)
	}
	return installments, nil
}

// ListStatementLines returns installment lines for a payer's billing
// statement with student and class context, all statuses included.
func (r *InstallmentRepository) ListStatementLines(ctx context.Context, payerID string) ([]models.StatementLine, error) {
	const query = `SELECT i.id AS installment_id, s.full_name AS student_name, c.name AS class_name,
        i.period_year, i.period_month, i.amount, i.due_date, i.status
        FROM installments i
        JOIN enrollments e ON e.id = i.enrollment_id
        JOIN students s ON s.id = e.student_id
        JOIN class_sections c ON c.id = e.class_id
        WHERE s.id = $1 OR s.guardian_id = $1
        ORDER BY i.due_date ASC, i.id ASC`
	var lines []models.StatementLine
	rows, err := r.db.QueryxContext(ctx, query, payerID)
	if err != nil {
		return nil, fmt.Errorf("list statement lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line models.StatementLine
		if err := rows.Scan(&line.InstallmentID, &line.StudentName, &line.ClassName,
			&line.PeriodYear, &line.PeriodMonth, &line.Amount, &line.DueDate, &line.Status); err != nil {
			return nil, fmt.Errorf("scan statement line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statement lines: %w", err)
	}
	return lines, nil
}

// InsertRun inserts a generated installment run atomically. The enrollment
// row is locked to serialize concurrent generation, and the run is rejected
// if any target period already has an installment.
func (r *InstallmentRepository) InsertRun(ctx context.Context, enrollmentID string, installments []models.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin installment run: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentID); err != nil {
		return err
	}

	conditions := make([]string, 0, len(installments))
	args := []interface{}{enrollmentID}
	for _, inst := range installments {
		conditions = append(conditions, fmt.Sprintf("(period_year = $%d AND period_month = $%d)", len(args)+1, len(args)+2))
		args = append(args, inst.PeriodYear, inst.PeriodMonth)
	}
	overlap := fmt.Sprintf(`SELECT COUNT(*) FROM installments WHERE enrollment_id = $1 AND (%s)`, strings.Join(conditions, " OR "))
	var clashes int
	if err := tx.GetContext(ctx, &clashes, overlap, args...); err != nil {
		return fmt.Errorf("check period overlap: %w", err)
	}
	if clashes > 0 {
		return ErrDuplicatePeriod
	}

	now := time.Now().UTC()
	const insert = `INSERT INTO installments (id, enrollment_id, period_year, period_month, amount, due_date, status, created_at)
        VALUES (:id, :enrollment_id, :period_year, :period_month, :amount, :due_date, :status, :created_at)`
	for i := range installments {
		if installments[i].ID == "" {
			installments[i].ID = uuid.NewString()
		}
		if installments[i].CreatedAt.IsZero() {
			installments[i].CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, insert, installments[i]); err != nil {
			return fmt.Errorf("insert installment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit installment run: %w", err)
	}
	return nil
}

// MarkPaid transitions a payable installment to Paid. The status guard makes
// double payment race-safe.
func (r *InstallmentRepository) MarkPaid(ctx context.Context, id string, method models.PaymentMethod, paidAt time.Time) error {
	const query = `UPDATE installments SET status = $2, paid_at = $3, payment_method = $4
        WHERE id = $1 AND status IN ($5, $6)`
	res, err := r.db.ExecContext(ctx, query, id, models.InstallmentStatusPaid, paidAt, string(method),
		models.InstallmentStatusOpen, models.InstallmentStatusOverdue)
	if err != nil {
		return fmt.Errorf("mark installment paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// Reopen reverts a paid installment to Open, clearing the payment facts.
// Overdue is re-derived on the next read.
func (r *InstallmentRepository) Reopen(ctx context.Context, id string) error {
	const query = `UPDATE installments SET status = $2, paid_at = NULL, payment_method = NULL
        WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, models.InstallmentStatusOpen, models.InstallmentStatusPaid)
	if err != nil {
		return fmt.Errorf("reopen installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// WriteBackOverdue persists the derived Overdue status. Reports whether the
// row actually changed so callers can emit the overdue event exactly once.
func (r *InstallmentRepository) WriteBackOverdue(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE installments SET status = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, models.InstallmentStatusOverdue, models.InstallmentStatusOpen)
	if err != nil {
		return false, fmt.Errorf("write back overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write back overdue: %w", err)
	}
	return n > 0, nil
}

// FindBillingParties returns the ids whose statements include the
// installment: the student and, when present, the guardian.
func (r *InstallmentRepository) FindBillingParties(ctx context.Context, id string) ([]string, error) {
	var row struct {
		StudentID  string         `db:"student_id"`
		GuardianID sql.NullString `db:"guardian_id"`
	}
	const query = `SELECT s.id AS student_id, s.guardian_id
        FROM installments i
        JOIN enrollments e ON e.id = i.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE i.id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, fmt.Errorf("find billing parties: %w", err)
	}
	parties := []string{row.StudentID}
	if row.GuardianID.Valid {
		parties = append(parties, row.GuardianID.String)
	}
	return parties, nil
}

// HasAllocation reports whether an installment already carries an allocation.
func (r *InstallmentRepository) HasAllocation(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM allocations WHERE installment_id = $1 LIMIT 1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check installment allocation: %w", err)
	}
	return true, nil
}
