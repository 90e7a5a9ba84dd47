package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dimasfr/bimbel-admin-api/internal/service"
	"github.com/dimasfr/bimbel-admin-api/pkg/response"
)

// StatementHandler exposes billing statement endpoints.
type StatementHandler struct {
	statements *service.StatementService
}

// NewStatementHandler constructs StatementHandler.
func NewStatementHandler(statements *service.StatementService) *StatementHandler {
	return &StatementHandler{statements: statements}
}

// Get godoc
// @Summary Billing statement for a payer
// @Tags Statements
// @Produce json
// @Param id path string true "Payer ID"
// @Success 200 {object} response.Envelope
// @Router /payers/{id}/statement [get]
func (h *StatementHandler) Get(c *gin.Context) {
	statement, err := h.statements.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statement, nil)
}

// ExportCSV godoc
// @Summary Export billing statement as CSV
// @Tags Statements
// @Produce text/csv
// @Param id path string true "Payer ID"
// @Success 200 {file} file
// @Router /payers/{id}/statement/csv [get]
func (h *StatementHandler) ExportCSV(c *gin.Context) {
	payload, filename, err := h.statements.ExportCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}

// ExportPDF godoc
// @Summary Export billing statement as PDF
// @Tags Statements
// @Produce application/pdf
// @Param id path string true "Payer ID"
// @Success 200 {file} file
// @Router /payers/{id}/statement/pdf [get]
func (h *StatementHandler) ExportPDF(c *gin.Context) {
	payload, filename, err := h.statements.ExportPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", payload)
}
