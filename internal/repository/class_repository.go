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

// ClassRepository handles persistence of class sections.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, name, subject, teacher_id, capacity, active, created_at, updated_at`

// List returns class sections filtered by the provided criteria.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassSectionFilter) ([]models.ClassSectionDetail, int, error) {
	base := `FROM class_sections c`
	var conditions []string
	var args []interface{}

	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("c.subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("c.name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
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

	seatedArgs := len(args)
	query := fmt.Sprintf(`SELECT c.id, c.name, c.subject, c.teacher_id, c.capacity, c.active, c.created_at, c.updated_at,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status IN ($%d, $%d)) AS seated_count,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status = $%d) AS waitlist_count
        %s ORDER BY c.name ASC LIMIT %d OFFSET %d`,
		seatedArgs+1, seatedArgs+2, seatedArgs+3, base+clause, size, offset)
	args = append(args, models.EnrollmentStatusActive, models.EnrollmentStatusLocked, models.EnrollmentStatusWaitlisted)

	var classes []models.ClassSectionDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list class sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args[:seatedArgs]...); err != nil {
		return nil, 0, fmt.Errorf("count class sections: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class section by its ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.ClassSection, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_sections WHERE id = $1`, classColumns)
	var class models.ClassSection
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindDetailByID returns a class section with live roster counts.
func (r *ClassRepository) FindDetailByID(ctx context.Context, id string) (*models.ClassSectionDetail, error) {
	const query = `SELECT c.id, c.name, c.subject, c.teacher_id, c.capacity, c.active, c.created_at, c.updated_at,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status IN ($2, $3)) AS seated_count,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status = $4) AS waitlist_count
        FROM class_sections c WHERE c.id = $1`
	var detail models.ClassSectionDetail
	err := r.db.GetContext(ctx, &detail, query, id,
		models.EnrollmentStatusActive, models.EnrollmentStatusLocked, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new class section.
func (r *ClassRepository) Create(ctx context.Context, class *models.ClassSection) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now
	const query = `INSERT INTO class_sections (id, name, subject, teacher_id, capacity, active, created_at, updated_at)
        VALUES (:id, :name, :subject, :teacher_id, :capacity, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class section: %w", err)
	}
	return nil
}

// Update stores mutable class fields. Capacity reduction below the number of
// currently active students is rejected under the class row lock; locked
// enrollments are deliberately not counted (see Unlock).
func (r *ClassRepository) Update(ctx context.Context, class *models.ClassSection) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin class update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int
	if err := tx.GetContext(ctx, &current, `SELECT capacity FROM class_sections WHERE id = $1 FOR UPDATE`, class.ID); err != nil {
		return err
	}

	if class.Capacity < current {
		var active int
		err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`,
			class.ID, models.EnrollmentStatusActive)
		if err != nil {
			return fmt.Errorf("count active enrollments: %w", err)
		}
		if class.Capacity < active {
			return ErrNoSeat
		}
	}

	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_sections SET name = :name, subject = :subject, teacher_id = :teacher_id,
        capacity = :capacity, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class section: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit class update: %w", err)
	}
	return nil
}

// SetActive toggles the class availability flag.
func (r *ClassRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE class_sections SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set class active: %w", err)
	}
	return nil
}
