package reward

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/chore"
	"github.com/dukerupert/choreboard/internal/dashboard"
	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/ledger"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	db     *sql.DB
	wf     *Workflow
	chores *chore.Workflow
	ledger *ledger.Ledger
	rec    *recorder
	family *model.Family
	kids   []*model.Child
}

func setup(t *testing.T, childNames ...string) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	fs := store.NewFamilyStore(db)
	fam, err := fs.CreateFamily(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	var kids []*model.Child
	for _, name := range childNames {
		c, err := fs.CreateChild(ctx, fam.ID, name, nil)
		if err != nil {
			t.Fatalf("create child: %v", err)
		}
		kids = append(kids, c)
	}

	rec := &recorder{}
	l := ledger.New(db, rec, nil, slog.Default())
	agg := dashboard.New(db, time.UTC, time.Monday)
	return &fixture{
		db:     db,
		wf:     New(db, l, rec, nil, slog.Default()),
		chores: chore.New(db, l, agg, rec, nil, slog.Default(), chore.Config{Location: time.UTC, DefaultPoints: 5}),
		ledger: l,
		rec:    rec,
		family: fam,
		kids:   kids,
	}
}

func (f *fixture) parent() context.Context {
	return auth.WithAuth(context.Background(), auth.AuthContext{ActorID: "parent-1", FamilyID: f.family.ID, Role: auth.RoleParent})
}

func (f *fixture) child(i int) context.Context {
	return auth.WithAuth(context.Background(), auth.AuthContext{ActorID: f.kids[i].ID, FamilyID: f.family.ID, Role: auth.RoleChild})
}

// credit gives the child points directly on the ledger.
func (f *fixture) credit(t *testing.T, kid, points int) {
	t.Helper()
	if _, err := f.ledger.Append(context.Background(), f.family.ID, f.kids[kid].ID, points, "seed", model.EventBonus); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, kid int) int {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), f.kids[kid].ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) createReward(t *testing.T, name string, cost int) *model.Reward {
	t.Helper()
	r, err := f.wf.CreateReward(f.parent(), RewardInput{Name: name, CostPoints: cost})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return r
}

func (f *fixture) request(t *testing.T, rewardID string, kid int) *model.Redemption {
	t.Helper()
	red, err := f.wf.RequestRedemption(f.child(kid), rewardID, f.kids[kid].ID)
	if err != nil {
		t.Fatalf("request redemption: %v", err)
	}
	return red
}

func TestMakeBedStickerScenario(t *testing.T) {
	f := setup(t, "C1")
	ctx := f.parent()

	makeBed, err := f.chores.CreateChore(ctx, chore.ChoreInput{Title: "Make Bed", Points: 5})
	if err != nil {
		t.Fatalf("create chore: %v", err)
	}
	a, err := f.chores.Assign(ctx, makeBed.ID, f.kids[0].ID, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	comp, err := f.chores.SubmitCompletion(f.child(0), a.ID, f.kids[0].ID, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.chores.Approve(ctx, comp.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b := f.balance(t, 0); b != 5 {
		t.Fatalf("balance = %d, want 5", b)
	}

	sticker := f.createReward(t, "Sticker", 5)
	red := f.request(t, sticker.ID, 0)
	if red.Status != model.RedemptionRequested {
		t.Errorf("status = %q, want requested", red.Status)
	}

	red, err = f.wf.ApproveRedemption(ctx, red.ID)
	if err != nil {
		t.Fatalf("approve redemption: %v", err)
	}
	if red.Status != model.RedemptionApproved {
		t.Errorf("status = %q, want approved", red.Status)
	}
	if b := f.balance(t, 0); b != 0 {
		t.Errorf("balance = %d, want 0", b)
	}

	red, err = f.wf.FulfillRedemption(ctx, red.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if red.Status != model.RedemptionFulfilled || red.FulfilledAt == nil {
		t.Errorf("redemption = %+v, want fulfilled with timestamp", red)
	}
	// Fulfilment does not touch the ledger.
	if b := f.balance(t, 0); b != 0 {
		t.Errorf("balance after fulfil = %d, want 0", b)
	}

	history, _ := f.ledger.History(context.Background(), f.kids[0].ID)
	if len(history) != 2 || history[0].Reason != "reward redeemed: Sticker" || history[0].Delta != -5 {
		t.Errorf("history = %+v", history)
	}
}

func TestRequestRedemptionChecksBalance(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Movie Night", 30)
	f.credit(t, 0, 29)

	_, err := f.wf.RequestRedemption(f.child(0), r.ID, f.kids[0].ID)
	var ip *apperr.InsufficientPointsError
	if !errors.As(err, &ip) {
		t.Fatalf("err = %v, want InsufficientPointsError", err)
	}
	if ip.Balance != 29 || ip.Cost != 30 || ip.ChildID != f.kids[0].ID {
		t.Errorf("error = %+v", ip)
	}
	if !errors.Is(err, apperr.ErrInsufficientPoints) {
		t.Error("expected errors.Is to match ErrInsufficientPoints")
	}

	f.credit(t, 0, 1)
	red := f.request(t, r.ID, 0)
	if red.Status != model.RedemptionRequested || red.CostPoints != 30 {
		t.Errorf("redemption = %+v", red)
	}
}

func TestApproveRechecksBalance(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 30)
	f.credit(t, 0, 40)

	first := f.request(t, r.ID, 0)
	second := f.request(t, r.ID, 0)

	if _, err := f.wf.ApproveRedemption(f.parent(), first.ID); err != nil {
		t.Fatalf("approve first: %v", err)
	}
	_, err := f.wf.ApproveRedemption(f.parent(), second.ID)
	if !errors.Is(err, apperr.ErrInsufficientPoints) {
		t.Fatalf("err = %v, want insufficient points", err)
	}

	red, _ := store.NewRewardStore(f.db).GetRedemption(context.Background(), second.ID)
	if red.Status != model.RedemptionRequested {
		t.Errorf("second status = %q, want requested", red.Status)
	}
	if b := f.balance(t, 0); b != 10 {
		t.Errorf("balance = %d, want 10", b)
	}
}

func TestConcurrentApprovalsCannotOverspend(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 30)
	f.credit(t, 0, 40)
	reds := []*model.Redemption{f.request(t, r.ID, 0), f.request(t, r.ID, 0)}

	var wg sync.WaitGroup
	errs := make([]error, len(reds))
	for i, red := range reds {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.wf.ApproveRedemption(f.parent(), id)
		}(i, red.ID)
	}
	wg.Wait()

	approved, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, apperr.ErrInsufficientPoints):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if approved != 1 || insufficient != 1 {
		t.Errorf("approved = %d, insufficient = %d; want 1 and 1", approved, insufficient)
	}
	if b := f.balance(t, 0); b != 10 {
		t.Errorf("balance = %d, want 10", b)
	}
}

func TestConcurrentApproveSameRedemption(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 10)
	f.credit(t, 0, 100)
	red := f.request(t, r.ID, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.wf.ApproveRedemption(f.parent(), red.ID); err != nil {
				t.Errorf("approve: %v", err)
			}
		}()
	}
	wg.Wait()

	n, _ := store.NewLedgerStore(f.db).CountBySource(context.Background(), model.EventRewardRedeemed, red.ID)
	if n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
	if b := f.balance(t, 0); b != 90 {
		t.Errorf("balance = %d, want 90", b)
	}
	if got := f.rec.count(notify.RedemptionApproved); got != 1 {
		t.Errorf("approval events = %d, want 1", got)
	}
}

func TestRoundTrip(t *testing.T) {
	f := setup(t, "Ada")
	ctx := f.parent()

	c, _ := f.chores.CreateChore(ctx, chore.ChoreInput{Title: "Vacuum", Points: 10})
	a, _ := f.chores.Assign(ctx, c.ID, f.kids[0].ID, nil)
	comp, _ := f.chores.SubmitCompletion(f.child(0), a.ID, f.kids[0].ID, "")
	f.chores.Approve(ctx, comp.ID)
	if b := f.balance(t, 0); b != 10 {
		t.Fatalf("balance = %d, want 10", b)
	}

	r := f.createReward(t, "Game Time", 10)
	red := f.request(t, r.ID, 0)
	if _, err := f.wf.ApproveRedemption(ctx, red.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b := f.balance(t, 0); b != 0 {
		t.Errorf("balance = %d, want 0", b)
	}
}

func TestTransitionsAreNoOpsFromWrongState(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 20)
	ctx := f.parent()

	// Fulfil before approval.
	red := f.request(t, r.ID, 0)
	got, err := f.wf.FulfillRedemption(ctx, red.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != model.RedemptionRequested {
		t.Errorf("status = %q, want requested", got.Status)
	}

	// Reject, then approve and fulfil do nothing.
	if _, err := f.wf.RejectRedemption(ctx, red.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, err = f.wf.ApproveRedemption(ctx, red.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != model.RedemptionRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
	if b := f.balance(t, 0); b != 20 {
		t.Errorf("balance = %d, want 20", b)
	}

	// Approved redemptions cannot be rejected.
	other := f.request(t, r.ID, 0)
	f.wf.ApproveRedemption(ctx, other.ID)
	got, _ = f.wf.RejectRedemption(ctx, other.ID)
	if got.Status != model.RedemptionApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}

	// Fulfilling twice only sets the timestamp once.
	first, _ := f.wf.FulfillRedemption(ctx, other.ID)
	second, _ := f.wf.FulfillRedemption(ctx, other.ID)
	if first.FulfilledAt == nil || second.FulfilledAt == nil || !first.FulfilledAt.Equal(*second.FulfilledAt) {
		t.Errorf("fulfilled_at changed: %v -> %v", first.FulfilledAt, second.FulfilledAt)
	}
	if b := f.balance(t, 0); b != 15 {
		t.Errorf("balance = %d, want 15", b)
	}
}

func TestInactiveRewardConflict(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 20)

	if _, err := f.wf.DeactivateReward(f.parent(), r.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := f.wf.RequestRedemption(f.child(0), r.ID, f.kids[0].ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}

	active, _ := f.wf.ListRewards(f.child(0), true)
	if len(active) != 0 {
		t.Errorf("active rewards = %d, want 0", len(active))
	}
}

func TestCostIsSnapshotAtRequest(t *testing.T) {
	f := setup(t, "Ada")
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 20)
	red := f.request(t, r.ID, 0)

	if _, err := f.wf.UpdateReward(f.parent(), r.ID, RewardInput{Name: "Treat", CostPoints: 15}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.wf.ApproveRedemption(f.parent(), red.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b := f.balance(t, 0); b != 15 {
		t.Errorf("balance = %d, want 15", b)
	}
}

func TestRewardValidation(t *testing.T) {
	f := setup(t)
	bad := []RewardInput{
		{Name: "", CostPoints: 5},
		{Name: "Free", CostPoints: 0},
		{Name: "Negative", CostPoints: -3},
	}
	for _, in := range bad {
		if _, err := f.wf.CreateReward(f.parent(), in); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("CreateReward(%+v) err = %v, want validation error", in, err)
		}
	}
}

func TestRewardAuthorization(t *testing.T) {
	f := setup(t, "Ada", "Ben")
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 20)
	red := f.request(t, r.ID, 0)
	ada := f.kids[0].ID

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"child creates reward", func() error { _, err := f.wf.CreateReward(f.child(0), RewardInput{Name: "x", CostPoints: 1}); return err }, apperr.ErrUnauthorized},
		{"child approves", func() error { _, err := f.wf.ApproveRedemption(f.child(0), red.ID); return err }, apperr.ErrUnauthorized},
		{"child fulfils", func() error { _, err := f.wf.FulfillRedemption(f.child(0), red.ID); return err }, apperr.ErrUnauthorized},
		{"child views queue", func() error { _, err := f.wf.PendingRedemptions(f.child(0)); return err }, apperr.ErrUnauthorized},
		{"parent requests without delegation", func() error { _, err := f.wf.RequestRedemption(f.parent(), r.ID, ada); return err }, apperr.ErrUnauthorized},
		{"sibling requests for other child", func() error { _, err := f.wf.RequestRedemption(f.child(1), r.ID, ada); return err }, apperr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	delegated := auth.WithAuth(context.Background(), auth.AuthContext{ActorID: "parent-1", FamilyID: f.family.ID, Role: auth.RoleParent, ActingFor: ada})
	if _, err := f.wf.RequestRedemption(delegated, r.ID, ada); err != nil {
		t.Errorf("delegated request: %v", err)
	}

	stranger := auth.WithAuth(context.Background(), auth.AuthContext{ActorID: "parent-9", FamilyID: "other", Role: auth.RoleParent})
	if _, err := f.wf.ApproveRedemption(stranger, red.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stranger approve err = %v, want not found", err)
	}
}

func TestPendingRedemptionsOldestFirst(t *testing.T) {
	f := setup(t, "Ada", "Ben")
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 50)
	f.credit(t, 1, 50)

	base := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i, kid := range []int{1, 0, 1} {
		at := base.Add(time.Duration(i) * time.Minute)
		f.wf.now = func() time.Time { return at }
		ids = append(ids, f.request(t, r.ID, kid).ID)
	}
	f.wf.RejectRedemption(f.parent(), ids[1])

	pending, err := f.wf.PendingRedemptions(f.parent())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending = %+v, want %s then %s", pending, ids[0], ids[2])
	}

	bens, _ := f.wf.ChildRedemptions(f.parent(), f.kids[1].ID)
	if len(bens) != 2 {
		t.Errorf("ben's redemptions = %d, want 2", len(bens))
	}
}

func TestDashboardPendingApprovals(t *testing.T) {
	f := setup(t, "Ada")
	ctx := f.parent()
	r := f.createReward(t, "Treat", 5)
	f.credit(t, 0, 50)

	c, _ := f.chores.CreateChore(ctx, chore.ChoreInput{Title: "Dishes", Points: 2})
	a, _ := f.chores.Assign(ctx, c.ID, f.kids[0].ID, nil)
	comps := []*model.Completion{}
	for i := 0; i < 3; i++ {
		comp, _ := f.chores.SubmitCompletion(f.child(0), a.ID, f.kids[0].ID, "")
		comps = append(comps, comp)
	}
	reds := []*model.Redemption{f.request(t, r.ID, 0), f.request(t, r.ID, 0)}

	check := func(label string) {
		t.Helper()
		summary, err := f.chores.DashboardSummary(ctx)
		if err != nil {
			t.Fatalf("summary: %v", err)
		}
		pc, _ := f.chores.PendingCompletions(ctx)
		pr, _ := f.wf.PendingRedemptions(ctx)
		if summary.PendingApprovals != len(pc)+len(pr) {
			t.Errorf("%s: pending_approvals = %d, want %d", label, summary.PendingApprovals, len(pc)+len(pr))
		}
	}

	check("initial")
	f.chores.Approve(ctx, comps[0].ID)
	check("after approve")
	f.chores.Reject(ctx, comps[1].ID)
	check("after reject")
	f.wf.ApproveRedemption(ctx, reds[0].ID)
	check("after redemption approve")
	f.wf.RejectRedemption(ctx, reds[1].ID)
	check("after redemption reject")
}
