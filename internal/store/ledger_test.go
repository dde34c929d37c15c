package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

func insertEntry(t *testing.T, ls *LedgerStore, e model.LedgerEntry) {
	t.Helper()
	if e.ID == "" {
		e.ID = newID()
	}
	if err := ls.Insert(context.Background(), &e); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
}

func TestLedgerBalanceAndHistory(t *testing.T) {
	db := setupTestDB(t)
	fam, children := seedFamily(t, db, "Ada")
	ls := NewLedgerStore(db)
	ctx := context.Background()
	ada := children[0].ID

	balance, err := ls.Balance(ctx, ada)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("empty balance = %d, want 0", balance)
	}

	base := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)
	insertEntry(t, ls, model.LedgerEntry{ID: "e1", FamilyID: fam.ID, ChildID: ada, Delta: 5, Reason: "Make Bed", EventKind: model.EventChoreCompleted, SourceID: "c1", CreatedAt: base})
	insertEntry(t, ls, model.LedgerEntry{ID: "e2", FamilyID: fam.ID, ChildID: ada, Delta: -3, Reason: "Sticker", EventKind: model.EventRewardRedeemed, SourceID: "r1", CreatedAt: base.Add(time.Hour)})
	insertEntry(t, ls, model.LedgerEntry{ID: "e3", FamilyID: fam.ID, ChildID: ada, Delta: 10, Reason: "Helped grandma", EventKind: model.EventBonus, CreatedAt: base.Add(time.Hour)})

	balance, _ = ls.Balance(ctx, ada)
	if balance != 12 {
		t.Errorf("balance = %d, want 12", balance)
	}

	history, err := ls.ListByChild(ctx, ada)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	// Same timestamp falls back to insertion order, newest first.
	want := []string{"e3", "e2", "e1"}
	for i, id := range want {
		if history[i].ID != id {
			t.Errorf("history[%d].ID = %q, want %q", i, history[i].ID, id)
		}
	}
	if history[2].EventKind != model.EventChoreCompleted || history[2].SourceID != "c1" {
		t.Errorf("history[2] = %+v", history[2])
	}
}

func TestLedgerBalancesByFamily(t *testing.T) {
	db := setupTestDB(t)
	fam, children := seedFamily(t, db, "Ada", "Ben", "Cy")
	other, otherKids := seedFamily(t, db, "Dee")
	ls := NewLedgerStore(db)
	ctx := context.Background()
	now := time.Now()

	insertEntry(t, ls, model.LedgerEntry{FamilyID: fam.ID, ChildID: children[0].ID, Delta: 8, Reason: "x", EventKind: model.EventBonus, CreatedAt: now})
	insertEntry(t, ls, model.LedgerEntry{FamilyID: fam.ID, ChildID: children[1].ID, Delta: -2, Reason: "x", EventKind: model.EventPenalty, CreatedAt: now})
	insertEntry(t, ls, model.LedgerEntry{FamilyID: other.ID, ChildID: otherKids[0].ID, Delta: 50, Reason: "x", EventKind: model.EventBonus, CreatedAt: now})

	balances, err := ls.BalancesByFamily(ctx, fam.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[children[0].ID] != 8 {
		t.Errorf("Ada = %d, want 8", balances[children[0].ID])
	}
	if balances[children[1].ID] != -2 {
		t.Errorf("Ben = %d, want -2", balances[children[1].ID])
	}
	if _, ok := balances[children[2].ID]; ok {
		t.Error("expected child without entries to be absent")
	}

	entries, _ := ls.ListByFamily(ctx, fam.ID)
	if len(entries) != 2 {
		t.Errorf("expected 2 family entries, got %d", len(entries))
	}
}

func TestLedgerSourceUnique(t *testing.T) {
	db := setupTestDB(t)
	fam, children := seedFamily(t, db, "Ada")
	ls := NewLedgerStore(db)
	ctx := context.Background()

	e := model.LedgerEntry{ID: "e1", FamilyID: fam.ID, ChildID: children[0].ID, Delta: 5, Reason: "Make Bed", EventKind: model.EventChoreCompleted, SourceID: "c1", CreatedAt: time.Now()}
	insertEntry(t, ls, e)

	e.ID = "e2"
	if err := ls.Insert(ctx, &e); err == nil {
		t.Error("expected duplicate source entry to fail")
	}

	n, err := ls.CountBySource(ctx, model.EventChoreCompleted, "c1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	n, _ = ls.CountBySource(ctx, model.EventRewardRedeemed, "c1")
	if n != 0 {
		t.Errorf("count for other kind = %d, want 0", n)
	}
}
