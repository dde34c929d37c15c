// Package ledger is the append-only points ledger. A child's balance is the
// sum of their entries; nothing here updates or deletes an entry.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/store"
)

type Ledger struct {
	db       *sql.DB
	entries  *store.LedgerStore
	families *store.FamilyStore
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(db *sql.DB, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ledger{
		db:       db,
		entries:  store.NewLedgerStore(db),
		families: store.NewFamilyStore(db),
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "ledger"),
		now:      time.Now,
	}
}

// Append records a new entry with a fresh id and the current time.
func (l *Ledger) Append(ctx context.Context, familyID, childID string, delta int, reason string, kind model.EventKind) (*model.LedgerEntry, error) {
	e := &model.LedgerEntry{
		FamilyID:  familyID,
		ChildID:   childID,
		Delta:     delta,
		Reason:    reason,
		EventKind: kind,
	}
	if err := l.insert(ctx, l.entries, e); err != nil {
		return nil, err
	}
	l.metrics.LedgerAppend(string(kind), delta)
	return e, nil
}

// AppendTx records e inside tx, filling in its id and timestamp. The caller
// owns the transaction and should record metrics once it commits.
func (l *Ledger) AppendTx(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error {
	return l.insert(ctx, l.entries.WithTx(tx), e)
}

func (l *Ledger) insert(ctx context.Context, s *store.LedgerStore, e *model.LedgerEntry) error {
	if e.Delta == 0 {
		return apperr.Validation("ledger delta must be non-zero")
	}
	if !e.EventKind.Valid() {
		return apperr.Validation("unknown event kind %q", e.EventKind)
	}
	e.ID = uuid.NewString()
	e.CreatedAt = l.now().UTC()
	if err := s.Insert(ctx, e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Balance returns the sum of the child's deltas, 0 when there are none.
func (l *Ledger) Balance(ctx context.Context, childID string) (int, error) {
	return l.entries.Balance(ctx, childID)
}

// BalanceTx reads the balance inside tx, so a following append in the same
// transaction is checked against it.
func (l *Ledger) BalanceTx(ctx context.Context, tx *sql.Tx, childID string) (int, error) {
	return l.entries.WithTx(tx).Balance(ctx, childID)
}

// History returns the child's entries newest first. Each call re-reads the
// table.
func (l *Ledger) History(ctx context.Context, childID string) ([]model.LedgerEntry, error) {
	return l.entries.ListByChild(ctx, childID)
}

// ChildBalance is Balance for a caller in the child's family.
func (l *Ledger) ChildBalance(ctx context.Context, childID string) (int, error) {
	if _, err := l.familyChild(ctx, childID); err != nil {
		return 0, err
	}
	return l.Balance(ctx, childID)
}

// ChildHistory is History for a caller in the child's family.
func (l *Ledger) ChildHistory(ctx context.Context, childID string) ([]model.LedgerEntry, error) {
	if _, err := l.familyChild(ctx, childID); err != nil {
		return nil, err
	}
	return l.History(ctx, childID)
}

// Adjust records a manual bonus (delta > 0) or penalty (delta < 0). Only a
// parent may adjust, and a penalty may take the balance below zero.
func (l *Ledger) Adjust(ctx context.Context, childID string, delta int, reason string) (*model.LedgerEntry, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if delta == 0 {
		return nil, apperr.Validation("adjustment must be non-zero")
	}
	if reason == "" {
		return nil, apperr.Validation("adjustment reason is required")
	}
	child, err := l.familyChild(ctx, childID)
	if err != nil {
		return nil, err
	}

	kind := model.EventBonus
	if delta < 0 {
		kind = model.EventPenalty
	}
	e, err := l.Append(ctx, child.FamilyID, child.ID, delta, reason, kind)
	if err != nil {
		return nil, err
	}

	l.logger.Info("ledger adjusted", "entry_id", e.ID, "child_id", child.ID, "delta", delta, "kind", kind, "by", ac.ActorID)
	l.notifier.Notify(ctx, notify.Event{
		Type:     notify.LedgerAdjusted,
		FamilyID: child.FamilyID,
		ID:       e.ID,
		ChildID:  child.ID,
		Title:    reason,
		Points:   delta,
		At:       e.CreatedAt,
	})
	return e, nil
}

// Balances returns every active child's balance in the caller's family,
// highest first, ties broken by name.
func (l *Ledger) Balances(ctx context.Context) ([]model.PointBalance, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	children, err := l.families.ListChildren(ctx, ac.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	sums, err := l.entries.BalancesByFamily(ctx, ac.FamilyID)
	if err != nil {
		return nil, err
	}

	balances := make([]model.PointBalance, 0, len(children))
	for _, c := range children {
		balances = append(balances, model.PointBalance{ChildID: c.ID, ChildName: c.Name, Balance: sums[c.ID]})
	}
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].Balance != balances[j].Balance {
			return balances[i].Balance > balances[j].Balance
		}
		return balances[i].ChildName < balances[j].ChildName
	})
	return balances, nil
}

// familyChild loads childID and checks it belongs to the caller's family.
// Children of other families are reported as not found.
func (l *Ledger) familyChild(ctx context.Context, childID string) (*model.Child, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	child, err := l.families.GetFamilyChild(ctx, ac.FamilyID, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, apperr.NotFound("child", childID)
	}
	return child, nil
}
