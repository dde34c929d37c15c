package model

import "time"

type Reward struct {
	ID          string    `json:"id"`
	FamilyID    string    `json:"family_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CostPoints  int       `json:"cost_points"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type RedemptionStatus string

const (
	RedemptionRequested RedemptionStatus = "requested"
	RedemptionApproved  RedemptionStatus = "approved"
	RedemptionRejected  RedemptionStatus = "rejected"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
)

// Terminal reports whether no further transition is possible.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionRejected || s == RedemptionFulfilled
}

// Redemption is a child's request to spend points on a reward. CostPoints is
// the reward's cost when the request was made.
type Redemption struct {
	ID          string           `json:"id"`
	FamilyID    string           `json:"family_id"`
	RewardID    string           `json:"reward_id"`
	ChildID     string           `json:"child_id"`
	CostPoints  int              `json:"cost_points"`
	Status      RedemptionStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	DecidedBy   *string          `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	FulfilledAt *time.Time       `json:"fulfilled_at,omitempty"`
}
