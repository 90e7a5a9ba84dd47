package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimasfr/bimbel-admin-api/internal/events"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments   map[string]models.Enrollment
	capacity      int
	classInactive bool
	noSeat        bool
	nextID        int
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if e.ClassID == classID {
			list = append(list, models.EnrollmentDetail{Enrollment: e})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *mockEnrollmentRepo) seated(classID string) int {
	count := 0
	for _, e := range m.enrollments {
		if e.ClassID == classID && e.Status.OccupiesSeat() {
			count++
		}
	}
	return count
}

func (m *mockEnrollmentRepo) tailPosition(classID string) int {
	max := 0
	for _, e := range m.enrollments {
		if e.ClassID == classID && e.Status == models.EnrollmentStatusWaitlisted && e.WaitlistPosition > max {
			max = e.WaitlistPosition
		}
	}
	return max
}

func (m *mockEnrollmentRepo) Admit(ctx context.Context, enrollment *models.Enrollment) error {
	if m.classInactive {
		return repository.ErrClassInactive
	}
	for _, e := range m.enrollments {
		if e.StudentID == enrollment.StudentID && e.ClassID == enrollment.ClassID && !e.Status.Terminal() {
			return repository.ErrDuplicateEnrollment
		}
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		m.nextID++
		enrollment.ID = fmt.Sprintf("enroll-%d", m.nextID)
	}
	if m.seated(enrollment.ClassID) < m.capacity {
		enrollment.Status = models.EnrollmentStatusActive
	} else {
		enrollment.Status = models.EnrollmentStatusWaitlisted
		enrollment.WaitlistPosition = m.tailPosition(enrollment.ClassID) + 1
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) promote(classID string) *models.Enrollment {
	var head *models.Enrollment
	for id := range m.enrollments {
		e := m.enrollments[id]
		if e.ClassID != classID || e.Status != models.EnrollmentStatusWaitlisted {
			continue
		}
		if head == nil || e.WaitlistPosition < head.WaitlistPosition {
			candidate := e
			head = &candidate
		}
	}
	if head == nil {
		return nil
	}
	head.Status = models.EnrollmentStatusActive
	head.WaitlistPosition = 0
	m.enrollments[head.ID] = *head
	return head
}

func (m *mockEnrollmentRepo) CancelAndPromote(ctx context.Context, id, reason string, now time.Time) (*models.Enrollment, *models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	if e.Status.Terminal() {
		return nil, nil, repository.ErrInvalidState
	}
	freed := e.Status.OccupiesSeat()
	e.Status = models.EnrollmentStatusCanceled
	e.CancelReason = &reason
	e.CanceledAt = &now
	m.enrollments[id] = e
	var promoted *models.Enrollment
	if freed {
		promoted = m.promote(e.ClassID)
	}
	return &e, promoted, nil
}

func (m *mockEnrollmentRepo) CompleteAndPromote(ctx context.Context, id string, now time.Time) (*models.Enrollment, *models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	if e.Status != models.EnrollmentStatusActive {
		return nil, nil, repository.ErrInvalidState
	}
	e.Status = models.EnrollmentStatusCompleted
	e.CompletedAt = &now
	m.enrollments[id] = e
	return &e, m.promote(e.ClassID), nil
}

func (m *mockEnrollmentRepo) Lock(ctx context.Context, id string) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	if e.Status != models.EnrollmentStatusActive {
		return repository.ErrInvalidState
	}
	e.Status = models.EnrollmentStatusLocked
	m.enrollments[id] = e
	return nil
}

func (m *mockEnrollmentRepo) Unlock(ctx context.Context, id string) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	if e.Status != models.EnrollmentStatusLocked {
		return repository.ErrInvalidState
	}
	if m.noSeat {
		return repository.ErrNoSeat
	}
	e.Status = models.EnrollmentStatusActive
	m.enrollments[id] = e
	return nil
}

func (m *mockEnrollmentRepo) PromoteWaitlist(ctx context.Context, classID string) (*models.Enrollment, error) {
	if m.seated(classID) >= m.capacity {
		return nil, nil
	}
	return m.promote(classID), nil
}

func newEnrollmentService(repo *mockEnrollmentRepo) (*EnrollmentService, *mockEmitter, *mockAudit, *mockMetrics) {
	emitter := &mockEmitter{}
	audit := &mockAudit{}
	metrics := &mockMetrics{}
	students := &mockStudentReader{students: map[string]models.Student{
		"s1": {ID: "s1", FullName: "Adi Pratama", BirthDate: time.Date(2012, 5, 20, 0, 0, 0, 0, time.UTC), Active: true},
		"s2": {ID: "s2", FullName: "Budi Santoso", BirthDate: time.Date(2011, 8, 2, 0, 0, 0, 0, time.UTC), Active: true},
		"s3": {ID: "s3", FullName: "Citra Dewi", BirthDate: time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC), Active: false},
		"s4": {ID: "s4", FullName: "Dian Putri", BirthDate: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), Active: true},
	}}
	classes := &mockClassReader{classes: map[string]models.ClassSection{
		"c1": {ID: "c1", Name: "Matematika 10A", Capacity: 2, Active: true},
	}}
	svc := NewEnrollmentService(repo, students, classes, emitter, audit, metrics, fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, nil, nil)
	return svc, emitter, audit, metrics
}

func TestEnrollmentServiceEnrollTakesSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2}
	svc, _, audit, metrics := newEnrollmentService(repo)

	detail, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Equal(t, 1, metrics.enrollmentsCreated[models.EnrollmentStatusActive])
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionEnrollmentCreate, audit.logs[0].Action)
}

func TestEnrollmentServiceEnrollWaitlistsWhenFull(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}}
	svc, _, _, metrics := newEnrollmentService(repo)

	detail, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, detail.Status)
	assert.Equal(t, 1, detail.WaitlistPosition)
	assert.Equal(t, 1, metrics.enrollmentsCreated[models.EnrollmentStatusWaitlisted])
}

func TestEnrollmentServiceEnrollLockedSeatCounts(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusLocked},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	detail, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, detail.Status)
}

func TestEnrollmentServiceEnrollInactiveStudent(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s3", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStudentIneligible.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollUnderageStudent(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s4", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStudentIneligible.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 5, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollInactiveClass(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2, classInactive: true}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollStudentRequest{StudentID: "s1", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrClassInactive.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancelPromotesWaitlistHead(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 2},
		"e3": {ID: "e3", StudentID: "s3", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, emitter, _, metrics := newEnrollmentService(repo)

	detail, err := svc.Cancel(context.Background(), "admin-1", "e1", CancelEnrollmentRequest{Reason: "moved city"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCanceled, detail.Status)
	assert.Equal(t, models.EnrollmentStatusActive, repo.enrollments["e3"].Status)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, repo.enrollments["e2"].Status)
	assert.Equal(t, 1, metrics.waitlistPromotions)
	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, events.TypeEnrollmentPromoted, emitter.emitted[0].Type)
	payload, ok := emitter.emitted[0].Payload.(events.EnrollmentPromoted)
	require.True(t, ok)
	assert.Equal(t, "e3", payload.EnrollmentID)
}

func TestEnrollmentServiceCancelWaitlistedDoesNotPromote(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 2},
	}}
	svc, emitter, _, metrics := newEnrollmentService(repo)

	_, err := svc.Cancel(context.Background(), "admin-1", "e1", CancelEnrollmentRequest{Reason: "changed mind"})
	require.NoError(t, err)
	assert.Empty(t, emitter.emitted)
	assert.Zero(t, metrics.waitlistPromotions)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, repo.enrollments["e2"].Status)
}

func TestEnrollmentServiceCancelTerminal(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusCanceled},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Cancel(context.Background(), "admin-1", "e1", CancelEnrollmentRequest{Reason: "again"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompletePromotes(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, emitter, _, _ := newEnrollmentService(repo)

	detail, err := svc.Complete(context.Background(), "admin-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, detail.Status)
	assert.Equal(t, models.EnrollmentStatusActive, repo.enrollments["e2"].Status)
	require.Len(t, emitter.emitted, 1)
}

func TestEnrollmentServiceLockUnlock(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	detail, err := svc.Lock(context.Background(), "admin-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusLocked, detail.Status)

	detail, err = svc.Unlock(context.Background(), "admin-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
}

func TestEnrollmentServiceUnlockNoSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, noSeat: true, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusLocked},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Unlock(context.Background(), "admin-1", "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoCapacity.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceLockNonActive(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Lock(context.Background(), "admin-1", "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceGetNotFound(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServicePromoteFillsFreeSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, emitter, audit, metrics := newEnrollmentService(repo)

	detail, err := svc.PromoteWaitlist(context.Background(), "admin-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "e2", detail.ID)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Equal(t, 1, metrics.waitlistPromotions)
	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, events.TypeEnrollmentPromoted, emitter.emitted[0].Type)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionEnrollmentPromote, audit.logs[0].Action)
}

func TestEnrollmentServicePromoteEmptyWaitlist(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 2, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.PromoteWaitlist(context.Background(), "admin-1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServicePromoteFullClass(t *testing.T) {
	repo := &mockEnrollmentRepo{capacity: 1, enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ClassID: "c1", Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: "s2", ClassID: "c1", Status: models.EnrollmentStatusWaitlisted, WaitlistPosition: 1},
	}}
	svc, _, _, _ := newEnrollmentService(repo)

	_, err := svc.PromoteWaitlist(context.Background(), "admin-1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, repo.enrollments["e2"].Status)
}
