package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassSectionFilter) ([]models.ClassSectionDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ClassSection, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassSectionDetail, error)
	Create(ctx context.Context, class *models.ClassSection) error
	Update(ctx context.Context, class *models.ClassSection) error
	SetActive(ctx context.Context, id string, active bool) error
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// CreateClassRequest describes class section creation payload.
type CreateClassRequest struct {
	Name      string  `json:"name" validate:"required"`
	Subject   string  `json:"subject" validate:"required"`
	TeacherID *string `json:"teacher_id"`
	Capacity  int     `json:"capacity" validate:"required,min=1"`
}

// UpdateClassRequest describes mutable class section fields.
type UpdateClassRequest struct {
	Name      string  `json:"name" validate:"required"`
	Subject   string  `json:"subject" validate:"required"`
	TeacherID *string `json:"teacher_id"`
	Capacity  int     `json:"capacity" validate:"required,min=1"`
}

// ClassService manages class sections and their capacity.
type ClassService struct {
	repo      classRepository
	teachers  teacherReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, teachers teacherReader, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, teachers: teachers, validator: validate, logger: logger}
}

// List returns class sections with live roster counts.
func (s *ClassService) List(ctx context.Context, filter models.ClassSectionFilter) ([]models.ClassSectionDetail, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return classes, pagination, nil
}

// Get returns one class section with roster counts.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassSectionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return detail, nil
}

// Create registers a new class section. New sections start active.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.ClassSection, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if err := s.checkTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}
	class := &models.ClassSection{
		Name:      req.Name,
		Subject:   req.Subject,
		TeacherID: req.TeacherID,
		Capacity:  req.Capacity,
		Active:    true,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return class, nil
}

// Update stores class changes. Shrinking capacity below the number of active
// students is rejected; existing enrollments are never evicted.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.ClassSection, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.checkTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	class.Name = req.Name
	class.Subject = req.Subject
	class.TeacherID = req.TeacherID
	class.Capacity = req.Capacity
	err = withConflictRetry(ctx, func() error {
		return s.repo.Update(ctx, class)
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		case errors.Is(err, repository.ErrNoSeat):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "capacity cannot drop below the number of active students")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
		}
	}
	return class, nil
}

// SetActive opens or closes the class for new enrollments. Deactivation
// leaves the current roster untouched.
func (s *ClassService) SetActive(ctx context.Context, id string, active bool) (*models.ClassSectionDetail, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle class")
	}
	return s.Get(ctx, id)
}

func (s *ClassService) checkTeacher(ctx context.Context, teacherID *string) error {
	if teacherID == nil {
		return nil
	}
	if _, err := s.teachers.FindByID(ctx, *teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return nil
}
