package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/events"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type paymentRepo interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	ListAllocations(ctx context.Context, paymentID string) ([]models.Allocation, error)
	InsertAllocations(ctx context.Context, paymentID string, allocations []models.Allocation) error
	Finalize(ctx context.Context, paymentID string, finalizedAt time.Time) ([]models.Allocation, error)
	CancelFinalized(ctx context.Context, paymentID, reason string, now time.Time) error
}

type allocationTargetReader interface {
	FindByID(ctx context.Context, id string) (*models.Installment, error)
	ListOutstandingByPayer(ctx context.Context, payerID string) ([]models.Installment, error)
	HasAllocation(ctx context.Context, id string) (bool, error)
}

type payerDirectory interface {
	ResolvePayerName(ctx context.Context, payerID string) (string, error)
}

type paymentMetrics interface {
	PaymentFinalized()
}

// CreatePaymentRequest records a settled incoming amount.
type CreatePaymentRequest struct {
	PayerID     string               `json:"payer_id" validate:"required"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	Method      models.PaymentMethod `json:"method" validate:"required"`
	PaidDate    time.Time            `json:"paid_date"`
}

// ManualAllocationTarget pairs an installment with the amount put against
// it. The amount must equal the installment's amount exactly; partial
// coverage is not a thing.
type ManualAllocationTarget struct {
	InstallmentID string          `json:"installment_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
}

// ManualAllocationRequest names the installments a payment should cover.
type ManualAllocationRequest struct {
	Targets []ManualAllocationTarget `json:"targets" validate:"required,min=1,dive"`
}

// CancelPaymentRequest carries the reversal reason.
type CancelPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PaymentService records payments and spreads them over installments. An
// allocation always covers its installment in full; whatever cannot be
// matched stays as remainder. Nothing is marked paid until Finalize, which
// applies every allocation or none.
type PaymentService struct {
	payments     paymentRepo
	installments allocationTargetReader
	payers       payerDirectory
	cache        statementInvalidator
	events       eventEmitter
	audit        auditWriter
	metrics      paymentMetrics
	clock        Clock
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentRepo, installments allocationTargetReader, payers payerDirectory, cache statementInvalidator, emitter eventEmitter, audit auditWriter, metrics paymentMetrics, clock Clock, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &PaymentService{payments: payments, installments: installments, payers: payers, cache: cache, events: emitter, audit: audit, metrics: metrics, clock: clock, validator: validate, logger: logger}
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
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
	return payments, pagination, nil
}

// Get returns a payment with its allocations.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.PaymentDetail, error) {
	detail, err := s.payments.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return detail, nil
}

// Create records a settled payment. No allocation happens yet.
func (s *PaymentService) Create(ctx context.Context, actorID string, req CreatePaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.TotalAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "payment amount must be positive")
	}
	if !req.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment method")
	}
	if _, err := s.payers.ResolvePayerName(ctx, req.PayerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payer")
	}

	paidDate := req.PaidDate
	if paidDate.IsZero() {
		paidDate = s.clock.Now()
	}
	payment := &models.Payment{
		PayerID:     req.PayerID,
		TotalAmount: req.TotalAmount,
		Method:      req.Method,
		PaidDate:    paidDate,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}
	return payment, nil
}

// AllocateAutomatic walks the payer's outstanding installments in due-date
// order and covers each one whose full amount still fits. Installments that
// do not fit are skipped, not split.
func (s *PaymentService) AllocateAutomatic(ctx context.Context, actorID, paymentID string) (*models.AllocationResult, error) {
	payment, err := s.loadOpenPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.payments.ListAllocations(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	remaining := payment.TotalAmount
	taken := make(map[string]bool, len(existing))
	for _, a := range existing {
		remaining = remaining.Sub(a.AllocatedAmount)
		taken[a.InstallmentID] = true
	}

	outstanding, err := s.installments.ListOutstandingByPayer(ctx, payment.PayerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list outstanding installments")
	}

	var allocations []models.Allocation
	for _, installment := range outstanding {
		if taken[installment.ID] || installment.Amount.GreaterThan(remaining) {
			continue
		}
		allocated, err := s.installments.HasAllocation(ctx, installment.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check allocation")
		}
		if allocated {
			continue
		}
		allocations = append(allocations, models.Allocation{
			PaymentID:       paymentID,
			InstallmentID:   installment.ID,
			AllocatedAmount: installment.Amount,
		})
		remaining = remaining.Sub(installment.Amount)
	}

	if len(allocations) > 0 {
		if err := withConflictRetry(ctx, func() error {
			return s.payments.InsertAllocations(ctx, paymentID, allocations)
		}); err != nil {
			return nil, s.mapAllocationError(err)
		}
	}

	return s.allocationResult(ctx, paymentID, payment.TotalAmount)
}

// AllocateManual covers exactly the named installments, each in full. The
// run is atomic; one bad target rejects all of them.
func (s *PaymentService) AllocateManual(ctx context.Context, actorID, paymentID string, req ManualAllocationRequest) (*models.AllocationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}
	payment, err := s.loadOpenPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(req.Targets))
	allocations := make([]models.Allocation, 0, len(req.Targets))
	for _, target := range req.Targets {
		if seen[target.InstallmentID] {
			return nil, appErrors.Clone(appErrors.ErrInvalidAllocation, "duplicate installment in allocation request")
		}
		seen[target.InstallmentID] = true

		installment, err := s.installments.FindByID(ctx, target.InstallmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
		}
		if !target.Amount.Equal(installment.Amount) {
			return nil, appErrors.Clone(appErrors.ErrInvalidAllocation, "allocation must cover the installment in full")
		}
		allocations = append(allocations, models.Allocation{
			PaymentID:       paymentID,
			InstallmentID:   installment.ID,
			AllocatedAmount: installment.Amount,
		})
	}

	if err := withConflictRetry(ctx, func() error {
		return s.payments.InsertAllocations(ctx, paymentID, allocations)
	}); err != nil {
		return nil, s.mapAllocationError(err)
	}

	return s.allocationResult(ctx, paymentID, payment.TotalAmount)
}

// Finalize converts every allocation of the payment into a paid installment,
// all of them or none. A finalized payment is immutable.
func (s *PaymentService) Finalize(ctx context.Context, actorID, paymentID string) (*models.PaymentDetail, error) {
	payment, err := s.loadOpenPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	existing, err := s.payments.ListAllocations(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	if len(existing) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payment has no allocations")
	}

	var applied []models.Allocation
	err = withConflictRetry(ctx, func() error {
		var err error
		applied, err = s.payments.Finalize(ctx, paymentID, s.clock.Now())
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyFinalized):
			return nil, appErrors.Clone(appErrors.ErrAlreadyFinalized, "payment already finalized")
		case errors.Is(err, repository.ErrAllocationConflict):
			return nil, appErrors.Clone(appErrors.ErrAllocationConflict, "an allocated installment is no longer payable")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize payment")
		}
	}

	if s.metrics != nil {
		s.metrics.PaymentFinalized()
	}
	s.writeAudit(ctx, actorID, models.AuditActionPaymentFinalize, paymentID, "")
	s.invalidateStatement(ctx, payment.PayerID)

	if s.events != nil {
		allocated := decimal.Zero
		installmentIDs := make([]string, 0, len(applied))
		for _, a := range applied {
			allocated = allocated.Add(a.AllocatedAmount)
			installmentIDs = append(installmentIDs, a.InstallmentID)
		}
		s.events.Emit(events.Event{
			Type: events.TypePaymentFinalized,
			Payload: events.PaymentFinalized{
				PaymentID:    paymentID,
				PayerID:      payment.PayerID,
				Allocated:    allocated,
				Installments: installmentIDs,
			},
		})
	}

	return s.Get(ctx, paymentID)
}

// Cancel reverses a finalized payment: every installment it paid reopens and
// the allocations are removed. The payment stays on record and can never be
// finalized again.
func (s *PaymentService) Cancel(ctx context.Context, actorID, paymentID string, req CancelPaymentRequest) (*models.PaymentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	err = withConflictRetry(ctx, func() error {
		return s.payments.CancelFinalized(ctx, paymentID, req.Reason, s.clock.Now())
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		case errors.Is(err, repository.ErrInvalidState):
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only finalized payments can be canceled")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel payment")
		}
	}

	s.writeAudit(ctx, actorID, models.AuditActionPaymentCancel, paymentID, req.Reason)
	s.invalidateStatement(ctx, payment.PayerID)

	return s.Get(ctx, paymentID)
}

// loadOpenPayment returns the payment only when it can still be mutated.
func (s *PaymentService) loadOpenPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.Finalized {
		return nil, appErrors.Clone(appErrors.ErrAlreadyFinalized, "payment already finalized")
	}
	if payment.CanceledAt != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payment is canceled")
	}
	return payment, nil
}

func (s *PaymentService) mapAllocationError(err error) error {
	switch {
	case errors.Is(err, repository.ErrAlreadyFinalized):
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, "payment already finalized")
	case errors.Is(err, repository.ErrInstallmentTaken):
		return appErrors.Clone(appErrors.ErrAllocationConflict, "installment already allocated")
	case errors.Is(err, repository.ErrAllocationConflict):
		return appErrors.Clone(appErrors.ErrAlreadyPaid, "installment is not payable")
	case errors.Is(err, repository.ErrOverAllocated):
		return appErrors.Clone(appErrors.ErrInvalidAllocation, "allocations exceed the payment amount")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate payment")
	}
}

func (s *PaymentService) allocationResult(ctx context.Context, paymentID string, total decimal.Decimal) (*models.AllocationResult, error) {
	allocations, err := s.payments.ListAllocations(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.AllocatedAmount)
	}
	return &models.AllocationResult{
		PaymentID:   paymentID,
		Allocations: allocations,
		Allocated:   allocated,
		Remainder:   total.Sub(allocated),
	}, nil
}

func (s *PaymentService) writeAudit(ctx context.Context, actorID, action, resourceID, note string) {
	recordAudit(ctx, s.audit, s.logger, actorID, action, "payment", resourceID, note)
}

func (s *PaymentService) invalidateStatement(ctx context.Context, payerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statementCacheKey(payerID)+"*"); err != nil {
		s.logger.Warn("statement invalidation failed", zap.String("payer_id", payerID), zap.Error(err))
	}
}
