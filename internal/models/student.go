package models

import "time"

// Student represents a learner registered in the institute.
type Student struct {
	ID         string    `db:"id" json:"id"`
	FullName   string    `db:"full_name" json:"full_name"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	GuardianID *string   `db:"guardian_id" json:"guardian_id,omitempty"`
	Phone      string    `db:"phone" json:"phone"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// AgeAt returns the student's age in whole years at the given time.
func (s Student) AgeAt(t time.Time) int {
	years := t.Year() - s.BirthDate.Year()
	if s.BirthDate.AddDate(years, 0, 0).After(t) {
		years--
	}
	return years
}

// Guardian is the payer of record for one or more students. A student
// without a guardian pays for themselves.
type Guardian struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search     string
	GuardianID string
	Active     *bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// StudentDetail contains student information with enrollment context.
type StudentDetail struct {
	Student
	GuardianName   *string  `db:"guardian_name" json:"guardian_name,omitempty"`
	ActiveClassIDs []string `db:"-" json:"active_class_ids,omitempty"`
}
