package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

// StudentRepository handles persistence of students and guardians.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, full_name, birth_date, guardian_id, phone, active, created_at, updated_at`

// List returns students matching the filter with pagination metadata.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := `FROM students s`
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.GuardianID != "" {
		conditions = append(conditions, fmt.Sprintf("s.guardian_id = $%d", len(args)+1))
		args = append(args, filter.GuardianID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("s.full_name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
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

	query := fmt.Sprintf(`SELECT s.id, s.full_name, s.birth_date, s.guardian_id, s.phone, s.active, s.created_at, s.updated_at
        %s ORDER BY s.full_name ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a single student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindDetailByID returns a student with guardian name and live class IDs.
func (r *StudentRepository) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT s.id, s.full_name, s.birth_date, s.guardian_id, s.phone, s.active, s.created_at, s.updated_at,
        g.full_name AS guardian_name
        FROM students s
        LEFT JOIN guardians g ON g.id = s.guardian_id
        WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}

	const classQuery = `SELECT class_id FROM enrollments WHERE student_id = $1 AND status IN ($2, $3)`
	err := r.db.SelectContext(ctx, &detail.ActiveClassIDs, classQuery, id,
		models.EnrollmentStatusActive, models.EnrollmentStatusLocked)
	if err != nil {
		return nil, fmt.Errorf("list active classes: %w", err)
	}
	return &detail, nil
}

// Create persists a new student.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, full_name, birth_date, guardian_id, phone, active, created_at, updated_at)
        VALUES (:id, :full_name, :birth_date, :guardian_id, :phone, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update stores mutable student fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, birth_date = :birth_date,
        guardian_id = :guardian_id, phone = :phone, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// FindGuardianByID returns a guardian record.
func (r *StudentRepository) FindGuardianByID(ctx context.Context, id string) (*models.Guardian, error) {
	const query = `SELECT id, full_name, phone, email, created_at FROM guardians WHERE id = $1`
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, id); err != nil {
		return nil, err
	}
	return &guardian, nil
}

// CreateGuardian persists a new guardian.
func (r *StudentRepository) CreateGuardian(ctx context.Context, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	if guardian.CreatedAt.IsZero() {
		guardian.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO guardians (id, full_name, phone, email, created_at)
        VALUES (:id, :full_name, :phone, :email, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("create guardian: %w", err)
	}
	return nil
}

// ResolvePayerName returns the display name for a payer ID, which may be
// either a guardian or a self-paying adult student.
func (r *StudentRepository) ResolvePayerName(ctx context.Context, payerID string) (string, error) {
	const query = `SELECT full_name FROM guardians WHERE id = $1
        UNION ALL SELECT full_name FROM students WHERE id = $1 LIMIT 1`
	var name string
	if err := r.db.GetContext(ctx, &name, query, payerID); err != nil {
		return "", err
	}
	return name, nil
}
