package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type mockScheduleRepo struct {
	inserted  []models.Installment
	duplicate bool
}

func (m *mockScheduleRepo) InsertRun(ctx context.Context, enrollmentID string, installments []models.Installment) error {
	if m.duplicate {
		return repository.ErrDuplicatePeriod
	}
	m.inserted = append(m.inserted, installments...)
	return nil
}

func (m *mockScheduleRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	return m.inserted, nil
}

type mockEnrollmentReader struct {
	enrollments map[string]models.Enrollment
}

func (m *mockEnrollmentReader) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func newBillingScheduleService(repo *mockScheduleRepo, cache *mockStatementCache) (*BillingScheduleService, *mockAudit) {
	guardian := "g1"
	audit := &mockAudit{}
	enrollments := &mockEnrollmentReader{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusCompleted},
		"e3": {ID: "e3", StudentID: "s3", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted},
	}}
	students := &mockStudentReader{students: map[string]models.Student{
		"s1": {ID: "s1", FullName: "Adi Pratama", GuardianID: &guardian, Active: true},
		"s2": {ID: "s2", FullName: "Budi Santoso", Active: true},
		"s3": {ID: "s3", FullName: "Citra Lestari", Active: true},
	}}
	svc := NewBillingScheduleService(repo, enrollments, students, cache, audit, BillingScheduleDefaults{}, nil, nil)
	return svc, audit
}

func TestBillingScheduleGenerate(t *testing.T) {
	repo := &mockScheduleRepo{}
	cache := &mockStatementCache{}
	svc, audit := newBillingScheduleService(repo, cache)

	run, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
		MonthlyAmount:    decimal.NewFromInt(750000),
		StartYear:        2026,
		StartMonth:       11,
		InstallmentCount: 3,
		DueDay:           5,
	})
	require.NoError(t, err)
	require.Len(t, run, 3)

	assert.Equal(t, 2026, run[0].PeriodYear)
	assert.Equal(t, 11, run[0].PeriodMonth)
	assert.Equal(t, 2026, run[1].PeriodYear)
	assert.Equal(t, 12, run[1].PeriodMonth)
	assert.Equal(t, 2027, run[2].PeriodYear)
	assert.Equal(t, 1, run[2].PeriodMonth)

	for _, inst := range run {
		assert.Equal(t, models.InstallmentStatusOpen, inst.Status)
		assert.True(t, inst.Amount.Equal(decimal.NewFromInt(750000)))
		assert.Equal(t, 5, inst.DueDate.Day())
	}
	assert.Equal(t, time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), run[2].DueDate)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionScheduleGenerate, audit.logs[0].Action)
	require.Len(t, cache.deleted, 1)
	assert.Equal(t, "statement:g1*", cache.deleted[0])
}

func TestBillingScheduleGenerateDefaults(t *testing.T) {
	repo := &mockScheduleRepo{}
	svc, _ := newBillingScheduleService(repo, &mockStatementCache{})

	run, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
		MonthlyAmount: decimal.NewFromInt(500000),
		StartYear:     2026,
		StartMonth:    7,
	})
	require.NoError(t, err)
	assert.Len(t, run, 12)
	assert.Equal(t, 10, run[0].DueDate.Day())
}

func TestBillingScheduleGenerateNonPositiveAmount(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{}, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
		MonthlyAmount: decimal.Zero,
		StartYear:     2026,
		StartMonth:    7,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
}

func TestBillingScheduleGenerateNegativeCount(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{}, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
		MonthlyAmount:    decimal.NewFromInt(500000),
		StartYear:        2026,
		StartMonth:       7,
		InstallmentCount: -1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
}

func TestBillingScheduleGenerateDueDayOutOfRange(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{}, &mockStatementCache{})

	for _, dueDay := range []int{-3, 29, 31} {
		_, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
			MonthlyAmount: decimal.NewFromInt(500000),
			StartYear:     2026,
			StartMonth:    7,
			DueDay:        dueDay,
		})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
	}
}

func TestBillingScheduleGenerateTerminalEnrollment(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{}, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "e2", GenerateScheduleRequest{
		MonthlyAmount: decimal.NewFromInt(500000),
		StartYear:     2026,
		StartMonth:    7,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
}

func TestBillingScheduleGenerateWaitlistedEnrollment(t *testing.T) {
	repo := &mockScheduleRepo{}
	svc, _ := newBillingScheduleService(repo, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "e3", GenerateScheduleRequest{
		MonthlyAmount: decimal.NewFromInt(500000),
		StartYear:     2026,
		StartMonth:    7,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.inserted)
}

func TestBillingScheduleGenerateDuplicatePeriod(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{duplicate: true}, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "e1", GenerateScheduleRequest{
		MonthlyAmount: decimal.NewFromInt(500000),
		StartYear:     2026,
		StartMonth:    7,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicatePeriod.Code, appErrors.FromError(err).Code)
}

func TestBillingScheduleGenerateMissingEnrollment(t *testing.T) {
	svc, _ := newBillingScheduleService(&mockScheduleRepo{}, &mockStatementCache{})

	_, err := svc.Generate(context.Background(), "admin-1", "missing", GenerateScheduleRequest{
		MonthlyAmount: decimal.NewFromInt(500000),
		StartYear:     2026,
		StartMonth:    7,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
