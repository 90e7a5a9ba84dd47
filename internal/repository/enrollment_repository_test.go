package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "status", "waitlist_position", "enrolled_at", "cancel_reason", "canceled_at", "completed_at"}).
		AddRow("enr-1", "stu-1", "class-1", models.EnrollmentStatusActive, 0, time.Now(), nil, nil, nil)
	mock.ExpectQuery("SELECT id, student_id, class_id, status, waitlist_position, enrolled_at").
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAdmitTakesSeat(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity, active FROM class_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "active"}).AddRow(10, true))
	mock.ExpectQuery("SELECT 1 FROM enrollments").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ($2, $3)")).
		WithArgs("class-1", models.EnrollmentStatusActive, models.EnrollmentStatusLocked).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "stu-1", "class-1", string(models.EnrollmentStatusActive), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1"}
	err := repo.Admit(context.Background(), enrollment)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NotEmpty(t, enrollment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAdmitWaitlistsWhenFull(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity, active FROM class_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "active"}).AddRow(5, true))
	mock.ExpectQuery("SELECT 1 FROM enrollments").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ($2, $3)")).
		WithArgs("class-1", models.EnrollmentStatusActive, models.EnrollmentStatusLocked).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(waitlist_position), 0) FROM enrollments")).
		WithArgs("class-1", models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "stu-1", "class-1", string(models.EnrollmentStatusWaitlisted), 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1"}
	err := repo.Admit(context.Background(), enrollment)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusWaitlisted, enrollment.Status)
	require.Equal(t, 4, enrollment.WaitlistPosition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAdmitInactiveClass(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity, active FROM class_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "active"}).AddRow(5, false))
	mock.ExpectRollback()

	err := repo.Admit(context.Background(), &models.Enrollment{StudentID: "stu-1", ClassID: "class-1"})
	require.ErrorIs(t, err, ErrClassInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryLock(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", string(models.EnrollmentStatusLocked), string(models.EnrollmentStatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Lock(context.Background(), "enr-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryLockWrongState(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", string(models.EnrollmentStatusLocked), string(models.EnrollmentStatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Lock(context.Background(), "enr-1")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryPromoteWaitlist(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM class_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ($2, $3)")).
		WithArgs("class-1", string(models.EnrollmentStatusActive), string(models.EnrollmentStatusLocked)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery("SELECT id, student_id, class_id, status, waitlist_position").
		WithArgs("class-1", string(models.EnrollmentStatusWaitlisted)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "class_id", "status", "waitlist_position", "enrolled_at", "cancel_reason", "canceled_at", "completed_at"}).
			AddRow("enr-2", "stu-2", "class-1", models.EnrollmentStatusWaitlisted, 1, time.Now(), nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, waitlist_position = 0 WHERE id = $1")).
		WithArgs("enr-2", string(models.EnrollmentStatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promoted, err := repo.PromoteWaitlist(context.Background(), "class-1")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	require.Equal(t, "enr-2", promoted.ID)
	require.Equal(t, models.EnrollmentStatusActive, promoted.Status)
	require.Zero(t, promoted.WaitlistPosition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryPromoteWaitlistFullClass(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM class_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ($2, $3)")).
		WithArgs("class-1", string(models.EnrollmentStatusActive), string(models.EnrollmentStatusLocked)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectCommit()

	promoted, err := repo.PromoteWaitlist(context.Background(), "class-1")
	require.NoError(t, err)
	require.Nil(t, promoted)
	require.NoError(t, mock.ExpectationsWereMet())
}
