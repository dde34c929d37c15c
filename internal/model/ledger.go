package model

import "time"

type EventKind string

const (
	EventChoreCompleted EventKind = "chore_completed"
	EventRewardRedeemed EventKind = "reward_redeemed"
	EventBonus          EventKind = "bonus"
	EventPenalty        EventKind = "penalty"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventChoreCompleted, EventRewardRedeemed, EventBonus, EventPenalty:
		return true
	}
	return false
}

// LedgerEntry is one immutable point movement. SourceID is the completion or
// redemption that caused it, empty for manual adjustments.
type LedgerEntry struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	ChildID   string    `json:"child_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	EventKind EventKind `json:"event_kind"`
	SourceID  string    `json:"source_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PointBalance struct {
	ChildID   string `json:"child_id"`
	ChildName string `json:"child_name"`
	Balance   int    `json:"balance"`
}
