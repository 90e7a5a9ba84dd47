package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveInstallmentStatus(t *testing.T) {
	due := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		status InstallmentStatus
		today  time.Time
		want   InstallmentStatus
	}{
		{"open before due date", InstallmentStatusOpen, due.AddDate(0, 0, -1), InstallmentStatusOpen},
		{"open on due date", InstallmentStatusOpen, due, InstallmentStatusOpen},
		{"open late on due date", InstallmentStatusOpen, due.Add(23 * time.Hour), InstallmentStatusOpen},
		{"open day after due date", InstallmentStatusOpen, due.AddDate(0, 0, 1), InstallmentStatusOverdue},
		{"paid stays paid", InstallmentStatusPaid, due.AddDate(0, 1, 0), InstallmentStatusPaid},
		{"canceled stays canceled", InstallmentStatusCanceled, due.AddDate(0, 1, 0), InstallmentStatusCanceled},
		{"overdue stays overdue", InstallmentStatusOverdue, due.AddDate(0, 0, -5), InstallmentStatusOverdue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveInstallmentStatus(tc.status, due, tc.today))
		})
	}
}

func TestInstallmentStatusPayable(t *testing.T) {
	assert.True(t, InstallmentStatusOpen.Payable())
	assert.True(t, InstallmentStatusOverdue.Payable())
	assert.False(t, InstallmentStatusPaid.Payable())
	assert.False(t, InstallmentStatusCanceled.Payable())
}

func TestEnrollmentStatusHelpers(t *testing.T) {
	assert.True(t, EnrollmentStatusActive.OccupiesSeat())
	assert.True(t, EnrollmentStatusLocked.OccupiesSeat())
	assert.False(t, EnrollmentStatusWaitlisted.OccupiesSeat())

	assert.True(t, EnrollmentStatusCanceled.Terminal())
	assert.True(t, EnrollmentStatusCompleted.Terminal())
	assert.False(t, EnrollmentStatusLocked.Terminal())
}
