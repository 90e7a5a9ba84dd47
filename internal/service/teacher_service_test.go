package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type mockTeacherRepo struct {
	teachers map[string]models.Teacher
	nextID   int
}

func (m *mockTeacherRepo) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	var list []models.Teacher
	for _, tc := range m.teachers {
		list = append(list, tc)
	}
	return list, len(list), nil
}

func (m *mockTeacherRepo) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if tc, ok := m.teachers[id]; ok {
		return &tc, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherRepo) Create(ctx context.Context, teacher *models.Teacher) error {
	if m.teachers == nil {
		m.teachers = make(map[string]models.Teacher)
	}
	if teacher.ID == "" {
		m.nextID++
		teacher.ID = fmt.Sprintf("teacher-%d", m.nextID)
	}
	m.teachers[teacher.ID] = *teacher
	return nil
}

func (m *mockTeacherRepo) Update(ctx context.Context, teacher *models.Teacher) error {
	if _, ok := m.teachers[teacher.ID]; !ok {
		return sql.ErrNoRows
	}
	m.teachers[teacher.ID] = *teacher
	return nil
}

func TestTeacherServiceCreate(t *testing.T) {
	repo := &mockTeacherRepo{}
	svc := NewTeacherService(repo, nil, nil)

	teacher, err := svc.Create(context.Background(), TeacherRequest{FullName: "Pak Dodi", Email: "dodi@bimbel.id", Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, teacher.ID)
	assert.True(t, teacher.Active)
}

func TestTeacherServiceCreateInvalidEmail(t *testing.T) {
	svc := NewTeacherService(&mockTeacherRepo{}, nil, nil)

	_, err := svc.Create(context.Background(), TeacherRequest{FullName: "Pak Dodi", Email: "not-an-email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceUpdate(t *testing.T) {
	repo := &mockTeacherRepo{teachers: map[string]models.Teacher{
		"t1": {ID: "t1", FullName: "Pak Dodi", Email: "dodi@bimbel.id", Active: true},
	}}
	svc := NewTeacherService(repo, nil, nil)

	teacher, err := svc.Update(context.Background(), "t1", TeacherRequest{FullName: "Pak Dodi", Email: "dodi@bimbel.id", Active: false})
	require.NoError(t, err)
	assert.False(t, teacher.Active)

	_, err = svc.Update(context.Background(), "missing", TeacherRequest{FullName: "X", Email: "x@y.id"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
