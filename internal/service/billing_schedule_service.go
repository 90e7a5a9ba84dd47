package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type installmentScheduleRepo interface {
	InsertRun(ctx context.Context, enrollmentID string, installments []models.Installment) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type statementInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// statementCacheKey keys cached billing statements by payer.
func statementCacheKey(payerID string) string {
	return "statement:" + payerID
}

// GenerateScheduleRequest describes a billing schedule run for one
// enrollment. Zero values for count and due day fall back to the institute
// defaults.
type GenerateScheduleRequest struct {
	MonthlyAmount    decimal.Decimal `json:"monthly_amount"`
	StartYear        int             `json:"start_year" validate:"required,min=2000,max=2100"`
	StartMonth       int             `json:"start_month" validate:"required,min=1,max=12"`
	InstallmentCount int             `json:"installment_count"`
	DueDay           int             `json:"due_day"`
}

// BillingScheduleDefaults carries institute-level fallbacks.
type BillingScheduleDefaults struct {
	DueDay           int
	InstallmentCount int
}

// BillingScheduleService turns an enrollment into a run of monthly
// installments with fixed amounts and due dates.
type BillingScheduleService struct {
	installments installmentScheduleRepo
	enrollments  enrollmentReader
	students     studentReader
	cache        statementInvalidator
	audit        auditWriter
	defaults     BillingScheduleDefaults
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewBillingScheduleService constructs BillingScheduleService.
func NewBillingScheduleService(installments installmentScheduleRepo, enrollments enrollmentReader, students studentReader, cache statementInvalidator, audit auditWriter, defaults BillingScheduleDefaults, validate *validator.Validate, logger *zap.Logger) *BillingScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.DueDay < 1 || defaults.DueDay > 28 {
		defaults.DueDay = 10
	}
	if defaults.InstallmentCount < 1 {
		defaults.InstallmentCount = 12
	}
	return &BillingScheduleService{installments: installments, enrollments: enrollments, students: students, cache: cache, audit: audit, defaults: defaults, validator: validate, logger: logger}
}

// Generate creates the installment run for an enrollment. The whole run is
// inserted atomically; any period that already has an installment rejects
// the run.
func (s *BillingScheduleService) Generate(ctx context.Context, actorID, enrollmentID string, req GenerateScheduleRequest) ([]models.Installment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if !req.MonthlyAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "monthly amount must be positive")
	}

	count := req.InstallmentCount
	if count == 0 {
		count = s.defaults.InstallmentCount
	}
	dueDay := req.DueDay
	if dueDay == 0 {
		dueDay = s.defaults.DueDay
	}
	if count < 1 || count > 60 {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "installment count must be between 1 and 60")
	}
	if dueDay < 1 || dueDay > 28 {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "due day must fall between 1 and 28")
	}

	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Status.OccupiesSeat() {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "enrollment does not hold a seat")
	}

	run := buildInstallmentRun(enrollmentID, req.MonthlyAmount, req.StartYear, req.StartMonth, count, dueDay)
	err = s.installments.InsertRun(ctx, enrollmentID, run)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrDuplicatePeriod):
			return nil, appErrors.Clone(appErrors.ErrDuplicatePeriod, "an installment already exists for a period in the run")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
		}
	}

	recordAudit(ctx, s.audit, s.logger, actorID, models.AuditActionScheduleGenerate, "enrollment", enrollmentID,
		fmt.Sprintf("%d installments of %s from %04d-%02d", count, req.MonthlyAmount.String(), req.StartYear, req.StartMonth))
	s.invalidateStatement(ctx, enrollment.StudentID)

	return run, nil
}

// buildInstallmentRun lays out consecutive monthly periods starting at the
// given year and month. Due days are capped at 28 so every month has one.
func buildInstallmentRun(enrollmentID string, amount decimal.Decimal, startYear, startMonth, count, dueDay int) []models.Installment {
	run := make([]models.Installment, 0, count)
	start := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		period := start.AddDate(0, i, 0)
		run = append(run, models.Installment{
			EnrollmentID: enrollmentID,
			PeriodYear:   period.Year(),
			PeriodMonth:  int(period.Month()),
			Amount:       amount,
			DueDate:      time.Date(period.Year(), period.Month(), dueDay, 0, 0, 0, 0, time.UTC),
			Status:       models.InstallmentStatusOpen,
		})
	}
	return run
}

// invalidateStatement drops the cached statement of the student's payer.
func (s *BillingScheduleService) invalidateStatement(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("statement invalidation skipped", zap.String("student_id", studentID), zap.Error(err))
		return
	}
	payerID := student.ID
	if student.GuardianID != nil {
		payerID = *student.GuardianID
	}
	if err := s.cache.DeleteByPattern(ctx, statementCacheKey(payerID)+"*"); err != nil {
		s.logger.Warn("statement invalidation failed", zap.String("payer_id", payerID), zap.Error(err))
	}
}
