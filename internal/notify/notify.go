// Package notify defines the events workflows emit after a state change
// commits, and the Notifier interface that delivers them.
package notify

import (
	"context"
	"time"
)

// EventType names a state change.
type EventType string

const (
	CompletionSubmitted EventType = "completion_submitted"
	CompletionApproved  EventType = "completion_approved"
	CompletionRejected  EventType = "completion_rejected"

	RedemptionRequested EventType = "redemption_requested"
	RedemptionApproved  EventType = "redemption_approved"
	RedemptionRejected  EventType = "redemption_rejected"
	RedemptionFulfilled EventType = "redemption_fulfilled"

	LedgerAdjusted EventType = "ledger_adjusted"

	ChoreChanged  EventType = "chore_changed"
	RewardChanged EventType = "reward_changed"
	ChildChanged  EventType = "child_changed"
)

// Event describes one committed change. ChildID is the child the change is
// about, when there is one.
type Event struct {
	Type     EventType `json:"type"`
	FamilyID string    `json:"family_id"`
	ID       string    `json:"id"`
	ChildID  string    `json:"child_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Points   int       `json:"points,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller on
// network I/O and must not report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, e Event)

func (f Func) Notify(ctx context.Context, e Event) { f(ctx, e) }
