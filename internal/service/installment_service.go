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

type installmentLedgerRepo interface {
	FindByID(ctx context.Context, id string) (*models.Installment, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	ListOutstandingByPayer(ctx context.Context, payerID string) ([]models.Installment, error)
	WriteBackOverdue(ctx context.Context, id string) (bool, error)
	MarkPaid(ctx context.Context, id string, method models.PaymentMethod, paidAt time.Time) error
	Reopen(ctx context.Context, id string) error
	HasAllocation(ctx context.Context, id string) (bool, error)
	FindBillingParties(ctx context.Context, id string) ([]string, error)
}

// MarkPaidRequest settles a single installment outside the payment flow,
// e.g. cash taken at the front desk.
type MarkPaidRequest struct {
	Method   models.PaymentMethod `json:"method" validate:"required"`
	PaidDate time.Time            `json:"paid_date"`
}

type installmentMetrics interface {
	InstallmentOverdue()
}

// InstallmentService reads installments with their effective status. Overdue
// is never scheduled by a background job; it is derived on read and written
// back, so the first read past the due date flips the row.
type InstallmentService struct {
	repo      installmentLedgerRepo
	cache     statementInvalidator
	events    eventEmitter
	audit     auditWriter
	metrics   installmentMetrics
	clock     Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInstallmentService constructs InstallmentService.
func NewInstallmentService(repo installmentLedgerRepo, cache statementInvalidator, emitter eventEmitter, audit auditWriter, metrics installmentMetrics, clock Clock, validate *validator.Validate, logger *zap.Logger) *InstallmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &InstallmentService{repo: repo, cache: cache, events: emitter, audit: audit, metrics: metrics, clock: clock, validator: validate, logger: logger}
}

// Get returns one installment with its derived status.
func (s *InstallmentService) Get(ctx context.Context, id string) (*models.Installment, error) {
	installment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
	}
	s.refresh(ctx, installment)
	return installment, nil
}

// ListByEnrollment returns the full schedule of an enrollment in period
// order.
func (s *InstallmentService) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	installments, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list installments")
	}
	for i := range installments {
		s.refresh(ctx, &installments[i])
	}
	return installments, nil
}

// ListOutstandingByPayer returns every open or overdue installment the payer
// is responsible for, ordered by due date.
func (s *InstallmentService) ListOutstandingByPayer(ctx context.Context, payerID string) ([]models.Installment, error) {
	installments, err := s.repo.ListOutstandingByPayer(ctx, payerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list outstanding installments")
	}
	for i := range installments {
		s.refresh(ctx, &installments[i])
	}
	return installments, nil
}

// MarkPaid settles an open or overdue installment directly, bypassing the
// payment allocation flow.
func (s *InstallmentService) MarkPaid(ctx context.Context, actorID, id string, req MarkPaidRequest) (*models.Installment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment details")
	}
	installment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
	}
	paidAt := req.PaidDate
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	if err := s.repo.MarkPaid(ctx, id, req.Method, paidAt); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyPaid, "installment is not payable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark installment paid")
	}
	installment.Status = models.InstallmentStatusPaid
	installment.PaidAt = &paidAt
	method := string(req.Method)
	installment.PaymentMethod = &method
	recordAudit(ctx, s.audit, s.logger, actorID, models.AuditActionInstallmentPay, "installment", id, string(req.Method))
	s.invalidateStatements(ctx, id)
	return installment, nil
}

// Reopen reverts a directly settled installment to Open. Installments paid
// through a finalized payment are reversed by cancelling the payment, not
// here.
func (s *InstallmentService) Reopen(ctx context.Context, actorID, id string) (*models.Installment, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
	}
	allocated, err := s.repo.HasAllocation(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check installment allocation")
	}
	if allocated {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "installment is settled by a payment, cancel the payment instead")
	}
	if err := s.repo.Reopen(ctx, id); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only paid installments can be reopened")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen installment")
	}
	installment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
	}
	s.refresh(ctx, installment)
	recordAudit(ctx, s.audit, s.logger, actorID, models.AuditActionInstallmentReopen, "installment", id, "")
	s.invalidateStatements(ctx, id)
	return installment, nil
}

func (s *InstallmentService) invalidateStatements(ctx context.Context, installmentID string) {
	if s.cache == nil {
		return
	}
	parties, err := s.repo.FindBillingParties(ctx, installmentID)
	if err != nil {
		s.logger.Warn("statement invalidation skipped", zap.String("installment_id", installmentID), zap.Error(err))
		return
	}
	for _, payerID := range parties {
		if err := s.cache.DeleteByPattern(ctx, statementCacheKey(payerID)+"*"); err != nil {
			s.logger.Warn("statement cache invalidation failed", zap.String("payer_id", payerID), zap.Error(err))
		}
	}
}

// refresh derives the installment's effective status and persists the
// Open to Overdue flip. The write-back is guarded in SQL so concurrent
// readers emit the overdue event at most once.
func (s *InstallmentService) refresh(ctx context.Context, installment *models.Installment) {
	derived := models.DeriveInstallmentStatus(installment.Status, installment.DueDate, s.clock.Now())
	if derived == installment.Status {
		return
	}
	installment.Status = derived

	changed, err := s.repo.WriteBackOverdue(ctx, installment.ID)
	if err != nil {
		s.logger.Warn("overdue write-back failed", zap.String("installment_id", installment.ID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	if s.metrics != nil {
		s.metrics.InstallmentOverdue()
	}
	if s.events != nil {
		s.events.Emit(events.Event{
			Type: events.TypeInstallmentOverdue,
			Payload: events.InstallmentOverdue{
				InstallmentID: installment.ID,
				EnrollmentID:  installment.EnrollmentID,
				Amount:        installment.Amount,
				DueDate:       installment.DueDate,
			},
		})
	}
}
