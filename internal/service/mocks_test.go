package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/dimasfr/bimbel-admin-api/internal/events"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type mockEmitter struct {
	emitted []events.Event
}

func (m *mockEmitter) Emit(event events.Event) {
	m.emitted = append(m.emitted, event)
}

type mockAudit struct {
	logs []models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type mockMetrics struct {
	enrollmentsCreated  map[models.EnrollmentStatus]int
	waitlistPromotions  int
	paymentsFinalized   int
	installmentsOverdue int
}

func (m *mockMetrics) EnrollmentCreated(status models.EnrollmentStatus) {
	if m.enrollmentsCreated == nil {
		m.enrollmentsCreated = make(map[models.EnrollmentStatus]int)
	}
	m.enrollmentsCreated[status]++
}

func (m *mockMetrics) WaitlistPromoted()   { m.waitlistPromotions++ }
func (m *mockMetrics) PaymentFinalized()   { m.paymentsFinalized++ }
func (m *mockMetrics) InstallmentOverdue() { m.installmentsOverdue++ }

type mockStudentReader struct {
	students map[string]models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockClassReader struct {
	classes map[string]models.ClassSection
}

func (m *mockClassReader) FindByID(ctx context.Context, id string) (*models.ClassSection, error) {
	if c, ok := m.classes[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type mockPayerDirectory struct {
	names map[string]string
}

func (m *mockPayerDirectory) ResolvePayerName(ctx context.Context, payerID string) (string, error) {
	if name, ok := m.names[payerID]; ok {
		return name, nil
	}
	return "", sql.ErrNoRows
}

type mockStatementCache struct {
	deleted []string
}

func (m *mockStatementCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	return nil
}
