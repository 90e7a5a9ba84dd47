package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive     EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusLocked     EnrollmentStatus = "LOCKED"
	EnrollmentStatusCanceled   EnrollmentStatus = "CANCELED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
)

// OccupiesSeat reports whether the status counts against class capacity.
func (s EnrollmentStatus) OccupiesSeat() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusLocked
}

// Terminal reports whether no further transition is allowed from the status.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCanceled || s == EnrollmentStatusCompleted
}

// Enrollment captures a student's registration to a class section.
// Enrollments are never deleted; cancellation is a status transition.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	ClassID          string           `db:"class_id" json:"class_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition int              `db:"waitlist_position" json:"waitlist_position"`
	EnrolledAt       time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CancelReason     *string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CanceledAt       *time.Time       `db:"canceled_at" json:"canceled_at,omitempty"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
