package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dimasfr/bimbel-admin-api/internal/service"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
	"github.com/dimasfr/bimbel-admin-api/pkg/response"
)

// BillingHandler exposes installment schedule and ledger endpoints.
type BillingHandler struct {
	schedules    *service.BillingScheduleService
	installments *service.InstallmentService
}

// NewBillingHandler constructs BillingHandler.
func NewBillingHandler(schedules *service.BillingScheduleService, installments *service.InstallmentService) *BillingHandler {
	return &BillingHandler{schedules: schedules, installments: installments}
}

// GenerateSchedule godoc
// @Summary Generate installment schedule for an enrollment
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.GenerateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/schedule [post]
func (h *BillingHandler) GenerateSchedule(c *gin.Context) {
	var req service.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	run, err := h.schedules.Generate(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, run)
}

// ListByEnrollment godoc
// @Summary List installments of an enrollment
// @Tags Billing
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/installments [get]
func (h *BillingHandler) ListByEnrollment(c *gin.Context) {
	installments, err := h.installments.ListByEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installments, nil)
}

// Get godoc
// @Summary Get installment
// @Tags Billing
// @Produce json
// @Param id path string true "Installment ID"
// @Success 200 {object} response.Envelope
// @Router /installments/{id} [get]
func (h *BillingHandler) Get(c *gin.Context) {
	installment, err := h.installments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installment, nil)
}

// MarkPaid godoc
// @Summary Mark an installment paid directly
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Installment ID"
// @Param payload body service.MarkPaidRequest true "Payment details"
// @Success 200 {object} response.Envelope
// @Router /installments/{id}/pay [post]
func (h *BillingHandler) MarkPaid(c *gin.Context) {
	var req service.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	installment, err := h.installments.MarkPaid(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installment, nil)
}

// Reopen godoc
// @Summary Reopen a directly settled installment
// @Tags Billing
// @Produce json
// @Param id path string true "Installment ID"
// @Success 200 {object} response.Envelope
// @Router /installments/{id}/reopen [post]
func (h *BillingHandler) Reopen(c *gin.Context) {
	installment, err := h.installments.Reopen(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installment, nil)
}

// Outstanding godoc
// @Summary Outstanding installments for a payer
// @Tags Billing
// @Produce json
// @Param id path string true "Payer ID"
// @Success 200 {object} response.Envelope
// @Router /payers/{id}/outstanding [get]
func (h *BillingHandler) Outstanding(c *gin.Context) {
	installments, err := h.installments.ListOutstandingByPayer(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installments, nil)
}
