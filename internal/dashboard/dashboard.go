// Package dashboard derives read-only rollups of a family's chores, rewards
// and points.
package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/recurrence"
	"github.com/dukerupert/choreboard/internal/store"
)

// Snapshot is everything Compute needs, read at one point in time.
// Redemptions holds only requested redemptions.
type Snapshot struct {
	Children    []model.Child
	Assignments []model.Assignment
	Completions []model.Completion
	Redemptions []model.Redemption
	Entries     []model.LedgerEntry
}

type Aggregator struct {
	db        *sql.DB
	loc       *time.Location
	weekStart time.Weekday
}

// New returns an aggregator that buckets days and weeks in loc, with weeks
// starting on weekStart.
func New(db *sql.DB, loc *time.Location, weekStart time.Weekday) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{db: db, loc: loc, weekStart: weekStart}
}

// Summary reads the family's state in a single transaction and rolls it up
// as of now.
func (a *Aggregator) Summary(ctx context.Context, familyID string, now time.Time) (*model.DashboardSummary, error) {
	snap, err := a.snapshot(ctx, familyID)
	if err != nil {
		return nil, err
	}
	summary := Compute(snap, now.In(a.loc), a.weekStart)
	return &summary, nil
}

func (a *Aggregator) snapshot(ctx context.Context, familyID string) (Snapshot, error) {
	var snap Snapshot
	err := store.InTx(ctx, a.db, func(tx *sql.Tx) error {
		var err error
		families := store.NewFamilyStore(tx)
		chores := store.NewChoreStore(tx)
		rewards := store.NewRewardStore(tx)
		ledger := store.NewLedgerStore(tx)

		if snap.Children, err = families.ListChildren(ctx, familyID); err != nil {
			return fmt.Errorf("list children: %w", err)
		}
		if snap.Assignments, err = chores.ListAssignmentsByFamily(ctx, familyID); err != nil {
			return err
		}
		if snap.Completions, err = chores.ListCompletionsByFamily(ctx, familyID); err != nil {
			return err
		}
		if snap.Redemptions, err = rewards.ListRedemptionsByStatus(ctx, familyID, model.RedemptionRequested); err != nil {
			return err
		}
		if snap.Entries, err = ledger.ListByFamily(ctx, familyID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("read dashboard snapshot: %w", err)
	}
	return snap, nil
}

type window struct {
	start, end time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

func (w window) containsPtr(t *time.Time) bool {
	return t != nil && w.contains(*t)
}

// Compute rolls up s as of now. Days and weeks are calendar periods in now's
// location. A completion counts toward the period in which it was approved.
func Compute(s Snapshot, now time.Time, weekStart time.Weekday) model.DashboardSummary {
	dayStart := recurrence.StartOfDay(now)
	today := window{dayStart, dayStart.AddDate(0, 0, 1)}
	ws := recurrence.WeekStart(now, weekStart)
	week := window{ws, ws.AddDate(0, 0, 7)}

	var summary model.DashboardSummary
	for _, a := range s.Assignments {
		if today.containsPtr(a.DueAt) {
			summary.TodayAssigned++
		}
		if week.containsPtr(a.DueAt) {
			summary.ThisWeekAssigned++
		}
	}

	type tally struct {
		balance, weekly, completed, pending int
	}
	byChild := make(map[string]*tally, len(s.Children))
	for _, c := range s.Children {
		byChild[c.ID] = &tally{}
	}

	for _, c := range s.Completions {
		switch c.Status {
		case model.CompletionApproved:
			if today.containsPtr(c.ReviewedAt) {
				summary.TodayCompleted++
			}
			if week.containsPtr(c.ReviewedAt) {
				summary.ThisWeekCompleted++
			}
			if t, ok := byChild[c.SubmittedBy]; ok {
				t.completed++
			}
		case model.CompletionPending:
			summary.PendingApprovals++
			if t, ok := byChild[c.SubmittedBy]; ok {
				t.pending++
			}
		}
	}
	for _, r := range s.Redemptions {
		if r.Status == model.RedemptionRequested {
			summary.PendingApprovals++
		}
	}

	for _, e := range s.Entries {
		t, ok := byChild[e.ChildID]
		if !ok {
			continue
		}
		t.balance += e.Delta
		if e.Delta > 0 && week.contains(e.CreatedAt) {
			t.weekly += e.Delta
		}
	}

	summary.ChildrenStats = make([]model.ChildStats, 0, len(s.Children))
	for _, c := range s.Children {
		t := byChild[c.ID]
		summary.ChildrenStats = append(summary.ChildrenStats, model.ChildStats{
			ChildID:         c.ID,
			ChildName:       c.Name,
			TotalPoints:     t.balance,
			WeeklyPoints:    t.weekly,
			CompletedChores: t.completed,
			PendingChores:   t.pending,
		})
	}
	return summary
}
