package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBillingHandlerGenerateScheduleInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBillingHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/enrollments/e1/schedule", bytes.NewReader([]byte(`{"monthly_amount":`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "e1"}}

	handler.GenerateSchedule(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandlerMarkPaidInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBillingHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/installments/i1/pay", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "i1"}}

	handler.MarkPaid(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
