package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/events"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ListByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error)
	Admit(ctx context.Context, enrollment *models.Enrollment) error
	CancelAndPromote(ctx context.Context, id, reason string, now time.Time) (*models.Enrollment, *models.Enrollment, error)
	CompleteAndPromote(ctx context.Context, id string, now time.Time) (*models.Enrollment, *models.Enrollment, error)
	Lock(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
	PromoteWaitlist(ctx context.Context, classID string) (*models.Enrollment, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassSection, error)
}

type eventEmitter interface {
	Emit(event events.Event)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type enrollmentMetrics interface {
	EnrollmentCreated(status models.EnrollmentStatus)
	WaitlistPromoted()
}

// minEnrollmentAge is the youngest a student can be to join a class.
const minEnrollmentAge = 5

// EnrollStudentRequest describes enrollment creation request.
type EnrollStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
}

// CancelEnrollmentRequest carries the cancellation reason.
type CancelEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// EnrollmentService orchestrates the enrollment lifecycle: admission with
// capacity and waitlisting, cancellation with promotion, completion, and the
// billing lock.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	classes   classReader
	events    eventEmitter
	audit     auditWriter
	metrics   enrollmentMetrics
	clock     Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, classes classReader, emitter eventEmitter, audit auditWriter, metrics enrollmentMetrics, clock Clock, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &EnrollmentService{repo: repo, students: students, classes: classes, events: emitter, audit: audit, metrics: metrics, clock: clock, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Get returns a single enrollment with student and class info.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Roster returns all enrollments for a class, seated first then waitlist in
// position order.
func (s *EnrollmentService) Roster(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	roster, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// Enroll registers a student into a class section. When the class is full the
// enrollment is created waitlisted at the tail position instead of rejected.
func (s *EnrollmentService) Enroll(ctx context.Context, actorID string, req EnrollStudentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrStudentIneligible, "student is not active")
	}
	if student.BirthDate.IsZero() || student.AgeAt(s.clock.Now()) < minEnrollmentAge {
		return nil, appErrors.Clone(appErrors.ErrStudentIneligible, "student is below the minimum enrollment age")
	}
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		EnrolledAt: s.clock.Now(),
	}
	err = withConflictRetry(ctx, func() error {
		return s.repo.Admit(ctx, enrollment)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrClassInactive):
			return nil, appErrors.Clone(appErrors.ErrClassInactive, "class is not accepting enrollments")
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student already has a live enrollment in this class")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
	}
	if s.metrics != nil {
		s.metrics.EnrollmentCreated(enrollment.Status)
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentCreate, enrollment.ID, string(enrollment.Status))

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Cancel terminates an enrollment and, when a seat is freed, promotes the
// head of the waitlist inside the same transaction.
func (s *EnrollmentService) Cancel(ctx context.Context, actorID, id string, req CancelEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}

	var canceled, promoted *models.Enrollment
	err := withConflictRetry(ctx, func() error {
		var err error
		canceled, promoted, err = s.repo.CancelAndPromote(ctx, id, req.Reason, s.clock.Now())
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already terminal")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
		}
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentCancel, id, req.Reason)
	s.notifyPromotion(promoted)

	detail, err := s.repo.FindDetailByID(ctx, canceled.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Complete marks an active enrollment finished and promotes from the
// waitlist like a cancellation does.
func (s *EnrollmentService) Complete(ctx context.Context, actorID, id string) (*models.EnrollmentDetail, error) {
	var completed, promoted *models.Enrollment
	err := withConflictRetry(ctx, func() error {
		var err error
		completed, promoted, err = s.repo.CompleteAndPromote(ctx, id, s.clock.Now())
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only active enrollments can be completed")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
		}
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentComplete, id, "")
	s.notifyPromotion(promoted)

	detail, err := s.repo.FindDetailByID(ctx, completed.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Lock suspends an active enrollment for unpaid bills. The seat stays
// reserved while locked.
func (s *EnrollmentService) Lock(ctx context.Context, actorID, id string) (*models.EnrollmentDetail, error) {
	err := s.repo.Lock(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only active enrollments can be locked")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock enrollment")
		}
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentLock, id, "")

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Unlock restores a locked enrollment to active. The class may have shrunk
// while locked, so the seat is re-checked against current capacity.
func (s *EnrollmentService) Unlock(ctx context.Context, actorID, id string) (*models.EnrollmentDetail, error) {
	err := withConflictRetry(ctx, func() error {
		return s.repo.Unlock(ctx, id)
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only locked enrollments can be unlocked")
		case errors.Is(err, repository.ErrNoSeat):
			return nil, appErrors.Clone(appErrors.ErrNoCapacity, "class has no seat for the unlocked enrollment")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock enrollment")
		}
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentUnlock, id, "")

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// PromoteWaitlist fills a free seat from the class waitlist, if both exist.
// Cancellation and completion promote on their own; this covers seats freed
// by other means, such as a capacity increase.
func (s *EnrollmentService) PromoteWaitlist(ctx context.Context, actorID, classID string) (*models.EnrollmentDetail, error) {
	var promoted *models.Enrollment
	err := withConflictRetry(ctx, func() error {
		var err error
		promoted, err = s.repo.PromoteWaitlist(ctx, classID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote from waitlist")
	}
	if promoted == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no free seat or empty waitlist")
	}
	s.writeAudit(ctx, actorID, models.AuditActionEnrollmentPromote, promoted.ID, "")
	s.notifyPromotion(promoted)

	detail, err := s.repo.FindDetailByID(ctx, promoted.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) notifyPromotion(promoted *models.Enrollment) {
	if promoted == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.WaitlistPromoted()
	}
	if s.events != nil {
		s.events.Emit(events.Event{
			Type: events.TypeEnrollmentPromoted,
			Payload: events.EnrollmentPromoted{
				EnrollmentID: promoted.ID,
				StudentID:    promoted.StudentID,
				ClassID:      promoted.ClassID,
			},
		})
	}
}

func (s *EnrollmentService) writeAudit(ctx context.Context, actorID, action, resourceID, note string) {
	recordAudit(ctx, s.audit, s.logger, actorID, action, "enrollment", resourceID, note)
}
