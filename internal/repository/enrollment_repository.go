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

// EnrollmentRepository handles persistence of enrollments and the
// transactional roster operations that must observe class capacity
// atomically.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN class_sections c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":       "e.enrolled_at",
		"student_name":      "s.full_name",
		"class_name":        "c.name",
		"waitlist_position": "e.waitlist_position",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.class_id, e.status, e.waitlist_position, e.enrolled_at,
        e.cancel_reason, e.canceled_at, e.completed_at,
        s.full_name AS student_name, c.name AS class_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, class_id, status, waitlist_position, enrolled_at,
        cancel_reason, canceled_at, completed_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.waitlist_position, e.enrolled_at,
        e.cancel_reason, e.canceled_at, e.completed_at,
        s.full_name AS student_name, c.name AS class_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN class_sections c ON c.id = e.class_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByClass returns live roster entries for a class ordered for display:
// seated first, then the waitlist in promotion order.
func (r *EnrollmentRepository) ListByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.waitlist_position, e.enrolled_at,
        e.cancel_reason, e.canceled_at, e.completed_at,
        s.full_name AS student_name, c.name AS class_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN class_sections c ON c.id = e.class_id
        WHERE e.class_id = $1 AND e.status IN ($2, $3, $4)
        ORDER BY e.waitlist_position ASC, e.enrolled_at ASC`
	var enrollments []models.EnrollmentDetail
	err := r.db.SelectContext(ctx, &enrollments, query, classID,
		models.EnrollmentStatusActive, models.EnrollmentStatusLocked, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, fmt.Errorf("list class roster: %w", err)
	}
	return enrollments, nil
}

// Admit inserts a new enrollment, deciding between a seat and the waitlist
// under a lock on the class row so that two admissions cannot both take the
// last seat. The enrollment's Status and WaitlistPosition are populated on
// return.
func (r *EnrollmentRepository) Admit(ctx context.Context, enrollment *models.Enrollment) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var cls struct {
		Capacity int  `db:"capacity"`
		Active   bool `db:"active"`
	}
	if err := tx.GetContext(ctx, &cls, `SELECT capacity, active FROM class_sections WHERE id = $1 FOR UPDATE`, enrollment.ClassID); err != nil {
		return err
	}
	if !cls.Active {
		return ErrClassInactive
	}

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM enrollments
        WHERE student_id = $1 AND class_id = $2 AND status IN ($3, $4, $5) LIMIT 1`,
		enrollment.StudentID, enrollment.ClassID,
		models.EnrollmentStatusActive, models.EnrollmentStatusWaitlisted, models.EnrollmentStatusLocked)
	if err == nil {
		return ErrDuplicateEnrollment
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check duplicate enrollment: %w", err)
	}

	seated, err := seatedCount(ctx, tx, enrollment.ClassID)
	if err != nil {
		return err
	}

	if seated < cls.Capacity {
		enrollment.Status = models.EnrollmentStatusActive
		enrollment.WaitlistPosition = 0
	} else {
		var maxPos int
		err = tx.GetContext(ctx, &maxPos, `SELECT COALESCE(MAX(waitlist_position), 0) FROM enrollments
            WHERE class_id = $1 AND status = $2`, enrollment.ClassID, models.EnrollmentStatusWaitlisted)
		if err != nil {
			return fmt.Errorf("max waitlist position: %w", err)
		}
		enrollment.Status = models.EnrollmentStatusWaitlisted
		enrollment.WaitlistPosition = maxPos + 1
	}

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	const insert = `INSERT INTO enrollments (id, student_id, class_id, status, waitlist_position, enrolled_at)
        VALUES (:id, :student_id, :class_id, :status, :waitlist_position, :enrolled_at)`
	if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admit: %w", err)
	}
	return nil
}

// CancelAndPromote cancels an enrollment and, when the cancellation frees a
// seat, promotes the lowest-position waitlisted enrollment inside the same
// transaction. The promoted enrollment is returned when a promotion happened.
func (r *EnrollmentRepository) CancelAndPromote(ctx context.Context, id, reason string, now time.Time) (*models.Enrollment, *models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	enrollment, capacity, err := lockEnrollmentAndClass(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if enrollment.Status.Terminal() {
		return nil, nil, ErrInvalidState
	}

	freed := enrollment.Status.OccupiesSeat()

	const cancel = `UPDATE enrollments SET status = $2, cancel_reason = $3, canceled_at = $4, waitlist_position = 0 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, cancel, id, models.EnrollmentStatusCanceled, reason, now); err != nil {
		return nil, nil, fmt.Errorf("cancel enrollment: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusCanceled
	enrollment.CancelReason = &reason
	enrollment.CanceledAt = &now
	enrollment.WaitlistPosition = 0

	var promoted *models.Enrollment
	if freed {
		promoted, err = promoteLocked(ctx, tx, enrollment.ClassID, capacity)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit cancel: %w", err)
	}
	return enrollment, promoted, nil
}

// CompleteAndPromote completes an active enrollment and promotes from the
// waitlist into the freed seat.
func (r *EnrollmentRepository) CompleteAndPromote(ctx context.Context, id string, now time.Time) (*models.Enrollment, *models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	enrollment, capacity, err := lockEnrollmentAndClass(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, nil, ErrInvalidState
	}

	const complete = `UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, complete, id, models.EnrollmentStatusCompleted, now); err != nil {
		return nil, nil, fmt.Errorf("complete enrollment: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &now

	promoted, err := promoteLocked(ctx, tx, enrollment.ClassID, capacity)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit complete: %w", err)
	}
	return enrollment, promoted, nil
}

// Lock freezes an active enrollment. The seat stays counted against
// capacity while locked.
func (r *EnrollmentRepository) Lock(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusLocked, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("lock enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// Unlock resumes a locked enrollment. Capacity is re-checked under the class
// row lock: administrative capacity reductions ignore locked enrollments, so
// the seat may no longer exist.
func (r *EnrollmentRepository) Unlock(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unlock: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	enrollment, capacity, err := lockEnrollmentAndClass(ctx, tx, id)
	if err != nil {
		return err
	}
	if enrollment.Status != models.EnrollmentStatusLocked {
		return ErrInvalidState
	}

	var active int
	err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`,
		enrollment.ClassID, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("count active enrollments: %w", err)
	}
	if active+1 > capacity {
		return ErrNoSeat
	}

	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("unlock enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unlock: %w", err)
	}
	return nil
}

// PromoteWaitlist promotes the best waitlisted candidate of a class if a
// seat is free. Returns nil when nothing was promoted.
func (r *EnrollmentRepository) PromoteWaitlist(ctx context.Context, classID string) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var capacity int
	if err := tx.GetContext(ctx, &capacity, `SELECT capacity FROM class_sections WHERE id = $1 FOR UPDATE`, classID); err != nil {
		return nil, err
	}

	promoted, err := promoteLocked(ctx, tx, classID, capacity)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote: %w", err)
	}
	return promoted, nil
}

// lockEnrollmentAndClass locks the enrollment row and then its class row,
// returning the current enrollment state and the class capacity.
func lockEnrollmentAndClass(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, int, error) {
	var enrollment models.Enrollment
	const query = `SELECT id, student_id, class_id, status, waitlist_position, enrolled_at,
        cancel_reason, canceled_at, completed_at FROM enrollments WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, 0, err
	}

	var capacity int
	if err := tx.GetContext(ctx, &capacity, `SELECT capacity FROM class_sections WHERE id = $1 FOR UPDATE`, enrollment.ClassID); err != nil {
		return nil, 0, fmt.Errorf("lock class row: %w", err)
	}
	return &enrollment, capacity, nil
}

func seatedCount(ctx context.Context, tx *sqlx.Tx, classID string) (int, error) {
	var seated int
	err := tx.GetContext(ctx, &seated, `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ($2, $3)`,
		classID, models.EnrollmentStatusActive, models.EnrollmentStatusLocked)
	if err != nil {
		return 0, fmt.Errorf("count seated enrollments: %w", err)
	}
	return seated, nil
}

// promoteLocked moves the lowest-position waitlisted enrollment into a free
// seat. Caller must hold the class row lock. Remaining waitlist positions are
// left as-is; only relative order matters.
func promoteLocked(ctx context.Context, tx *sqlx.Tx, classID string, capacity int) (*models.Enrollment, error) {
	seated, err := seatedCount(ctx, tx, classID)
	if err != nil {
		return nil, err
	}
	if seated >= capacity {
		return nil, nil
	}

	var next models.Enrollment
	const pick = `SELECT id, student_id, class_id, status, waitlist_position, enrolled_at,
        cancel_reason, canceled_at, completed_at FROM enrollments
        WHERE class_id = $1 AND status = $2
        ORDER BY waitlist_position ASC LIMIT 1 FOR UPDATE`
	if err := tx.GetContext(ctx, &next, pick, classID, models.EnrollmentStatusWaitlisted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("pick waitlist candidate: %w", err)
	}

	const promote = `UPDATE enrollments SET status = $2, waitlist_position = 0 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, promote, next.ID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("promote enrollment: %w", err)
	}
	next.Status = models.EnrollmentStatusActive
	next.WaitlistPosition = 0
	return &next, nil
}
