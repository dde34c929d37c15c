package model

import "time"

// Recurrence is how often a chore comes due again after an assignment.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

type Chore struct {
	ID            string     `json:"id"`
	FamilyID      string     `json:"family_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Points        int        `json:"points"`
	PhotoRequired bool       `json:"photo_required"`
	Recurrence    Recurrence `json:"recurrence"`
	CreatedBy     string     `json:"created_by"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Assignment struct {
	ID        string     `json:"id"`
	FamilyID  string     `json:"family_id"`
	ChoreID   string     `json:"chore_id"`
	ChildID   string     `json:"child_id"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	// AnchorDay is the day of month a recurring series started on, so a
	// clamped month (Jan 31 to Feb 28) does not shift later ones.
	AnchorDay int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type CompletionStatus string

const (
	CompletionPending  CompletionStatus = "pending"
	CompletionApproved CompletionStatus = "approved"
	CompletionRejected CompletionStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s CompletionStatus) Terminal() bool {
	return s == CompletionApproved || s == CompletionRejected
}

type Completion struct {
	ID           string           `json:"id"`
	FamilyID     string           `json:"family_id"`
	AssignmentID string           `json:"assignment_id"`
	SubmittedBy  string           `json:"submitted_by"`
	PhotoRef     string           `json:"photo_ref,omitempty"`
	Status       CompletionStatus `json:"status"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	ReviewedBy   *string          `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
}
