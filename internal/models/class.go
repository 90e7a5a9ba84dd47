package models

import "time"

// ClassSection represents a class with a fixed seat capacity.
type ClassSection struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	TeacherID *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	Capacity  int       `db:"capacity" json:"capacity"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassSectionDetail extends ClassSection with live roster counts.
type ClassSectionDetail struct {
	ClassSection
	SeatedCount   int `db:"seated_count" json:"seated_count"`
	WaitlistCount int `db:"waitlist_count" json:"waitlist_count"`
}

// ClassSectionFilter defines filter criteria for listing class sections.
type ClassSectionFilter struct {
	Subject   string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
