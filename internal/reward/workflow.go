// Package reward runs the redemption lifecycle: children request rewards,
// parents approve, reject and fulfil them. Points leave the ledger when a
// redemption is approved.
package reward

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/ledger"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/store"
	"github.com/dukerupert/choreboard/internal/validate"
)

type RewardInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	CostPoints  int    `json:"cost_points" validate:"min=1,max=100000"`
}

type Workflow struct {
	db       *sql.DB
	families *store.FamilyStore
	rewards  *store.RewardStore
	ledger   *ledger.Ledger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	validate *validate.Validator
	logger   *slog.Logger
	now      func() time.Time
}

func New(db *sql.DB, l *ledger.Ledger, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Workflow {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Workflow{
		db:       db,
		families: store.NewFamilyStore(db),
		rewards:  store.NewRewardStore(db),
		ledger:   l,
		notifier: notifier,
		metrics:  m,
		validate: validate.New(),
		logger:   logger.With("component", "reward"),
		now:      time.Now,
	}
}

func (w *Workflow) normalize(in RewardInput) (RewardInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	return in, w.validate.Struct(in)
}

// --- Reward catalogue ---

func (w *Workflow) CreateReward(ctx context.Context, in RewardInput) (*model.Reward, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	in, err = w.normalize(in)
	if err != nil {
		return nil, err
	}

	r := &model.Reward{
		FamilyID:    ac.FamilyID,
		Name:        in.Name,
		Description: in.Description,
		CostPoints:  in.CostPoints,
		Active:      true,
	}
	if err := w.rewards.Create(ctx, r); err != nil {
		return nil, err
	}

	w.logger.Info("reward created", "reward_id", r.ID, "family_id", r.FamilyID, "cost", r.CostPoints)
	w.notifyReward(ctx, r)
	return r, nil
}

// UpdateReward changes a reward's catalogue entry. Redemptions already
// requested keep the cost they were requested at.
func (w *Workflow) UpdateReward(ctx context.Context, id string, in RewardInput) (*model.Reward, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	r, err := w.familyReward(ctx, w.rewards, ac.FamilyID, id)
	if err != nil {
		return nil, err
	}
	in, err = w.normalize(in)
	if err != nil {
		return nil, err
	}

	r.Name = in.Name
	r.Description = in.Description
	r.CostPoints = in.CostPoints
	if err := w.rewards.Update(ctx, r); err != nil {
		return nil, err
	}

	w.logger.Info("reward updated", "reward_id", r.ID)
	w.notifyReward(ctx, r)
	return r, nil
}

// DeactivateReward withdraws a reward from the catalogue. Deactivating twice
// is a no-op.
func (w *Workflow) DeactivateReward(ctx context.Context, id string) (*model.Reward, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	r, err := w.familyReward(ctx, w.rewards, ac.FamilyID, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return r, nil
	}
	if err := w.rewards.Deactivate(ctx, id); err != nil {
		return nil, err
	}
	r.Active = false

	w.logger.Info("reward deactivated", "reward_id", r.ID)
	w.notifyReward(ctx, r)
	return r, nil
}

func (w *Workflow) ListRewards(ctx context.Context, activeOnly bool) ([]model.Reward, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	return w.rewards.ListByFamily(ctx, ac.FamilyID, activeOnly)
}

// --- Redemptions ---

// RequestRedemption asks to spend points on an active reward. The balance
// check here is advisory; ApproveRedemption checks again.
func (w *Workflow) RequestRedemption(ctx context.Context, rewardID, childID string) (*model.Redemption, error) {
	ac, err := auth.RequireChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	r, err := w.familyReward(ctx, w.rewards, ac.FamilyID, rewardID)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, apperr.Conflict("reward %q is not active", rewardID)
	}
	child, err := w.families.GetFamilyChild(ctx, ac.FamilyID, childID)
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	if child == nil {
		return nil, apperr.NotFound("child", childID)
	}

	balance, err := w.ledger.Balance(ctx, childID)
	if err != nil {
		return nil, err
	}
	if balance < r.CostPoints {
		return nil, apperr.InsufficientPoints(childID, balance, r.CostPoints)
	}

	red := &model.Redemption{
		ID:          uuid.NewString(),
		FamilyID:    ac.FamilyID,
		RewardID:    r.ID,
		ChildID:     childID,
		CostPoints:  r.CostPoints,
		Status:      model.RedemptionRequested,
		RequestedAt: w.now().UTC(),
	}
	if err := w.rewards.InsertRedemption(ctx, red); err != nil {
		return nil, err
	}

	w.logger.Info("redemption requested", "redemption_id", red.ID, "reward_id", r.ID, "child_id", childID, "cost", red.CostPoints)
	w.metrics.Transition("redemption", string(model.RedemptionRequested))
	w.notifier.Notify(ctx, notify.Event{
		Type:     notify.RedemptionRequested,
		FamilyID: red.FamilyID,
		ID:       red.ID,
		ChildID:  childID,
		Title:    r.Name,
		Points:   red.CostPoints,
		At:       red.RequestedAt,
	})
	return red, nil
}

// ApproveRedemption deducts the redemption's cost and marks it approved. The
// balance is re-read in the same transaction as the deduction; if it no
// longer covers the cost nothing changes and InsufficientPointsError is
// returned. Redemptions that are not requested are returned unchanged.
func (w *Workflow) ApproveRedemption(ctx context.Context, redemptionID string) (*model.Redemption, error) {
	return w.transition(ctx, redemptionID, model.RedemptionApproved)
}

// RejectRedemption declines a requested redemption. It has no ledger effect.
func (w *Workflow) RejectRedemption(ctx context.Context, redemptionID string) (*model.Redemption, error) {
	return w.transition(ctx, redemptionID, model.RedemptionRejected)
}

// FulfillRedemption records that an approved reward was handed over. Points
// were already deducted at approval.
func (w *Workflow) FulfillRedemption(ctx context.Context, redemptionID string) (*model.Redemption, error) {
	return w.transition(ctx, redemptionID, model.RedemptionFulfilled)
}

// from is the status each target can be reached from.
var from = map[model.RedemptionStatus]model.RedemptionStatus{
	model.RedemptionApproved:  model.RedemptionRequested,
	model.RedemptionRejected:  model.RedemptionRequested,
	model.RedemptionFulfilled: model.RedemptionApproved,
}

type outcome struct {
	redemption *model.Redemption
	reward     *model.Reward
	entry      *model.LedgerEntry
	changed    bool
}

func (w *Workflow) transition(ctx context.Context, redemptionID string, to model.RedemptionStatus) (*model.Redemption, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	at := w.now().UTC()

	var o outcome
	err = store.InTx(ctx, w.db, func(tx *sql.Tx) error {
		rewards := w.rewards.WithTx(tx)
		red, err := rewards.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		if red == nil || red.FamilyID != ac.FamilyID {
			return apperr.NotFound("redemption", redemptionID)
		}
		if red.Status != from[to] {
			o.redemption = red
			return nil
		}
		if o.reward, err = rewards.GetByID(ctx, red.RewardID); err != nil {
			return err
		}

		var ok bool
		switch to {
		case model.RedemptionApproved:
			balance, err := w.ledger.BalanceTx(ctx, tx, red.ChildID)
			if err != nil {
				return err
			}
			if balance < red.CostPoints {
				return apperr.InsufficientPoints(red.ChildID, balance, red.CostPoints)
			}
			if ok, err = rewards.DecideRedemption(ctx, red.ID, to, ac.ActorID, at); err != nil {
				return err
			}
			if ok {
				o.entry = &model.LedgerEntry{
					FamilyID:  red.FamilyID,
					ChildID:   red.ChildID,
					Delta:     -red.CostPoints,
					Reason:    "reward redeemed: " + rewardName(o.reward, red),
					EventKind: model.EventRewardRedeemed,
					SourceID:  red.ID,
				}
				if err := w.ledger.AppendTx(ctx, tx, o.entry); err != nil {
					return err
				}
			}
		case model.RedemptionRejected:
			if ok, err = rewards.DecideRedemption(ctx, red.ID, to, ac.ActorID, at); err != nil {
				return err
			}
		case model.RedemptionFulfilled:
			if ok, err = rewards.FulfillRedemption(ctx, red.ID, at); err != nil {
				return err
			}
		}
		o.changed = ok
		o.redemption, err = rewards.GetRedemption(ctx, red.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !o.changed {
		return o.redemption, nil
	}

	red := o.redemption
	w.logger.Info("redemption "+string(to), "redemption_id", red.ID, "child_id", red.ChildID, "cost", red.CostPoints, "by", ac.ActorID)
	w.metrics.Transition("redemption", string(to))
	if o.entry != nil {
		w.metrics.LedgerAppend(string(o.entry.EventKind), o.entry.Delta)
	}
	w.notifier.Notify(ctx, notify.Event{
		Type:     eventType(to),
		FamilyID: red.FamilyID,
		ID:       red.ID,
		ChildID:  red.ChildID,
		Title:    rewardName(o.reward, red),
		Points:   red.CostPoints,
		At:       at,
	})
	return red, nil
}

// PendingRedemptions returns the family's requested redemptions, oldest first.
func (w *Workflow) PendingRedemptions(ctx context.Context) ([]model.Redemption, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	return w.rewards.ListRedemptionsByStatus(ctx, ac.FamilyID, model.RedemptionRequested)
}

func (w *Workflow) ChildRedemptions(ctx context.Context, childID string) ([]model.Redemption, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	child, err := w.families.GetFamilyChild(ctx, ac.FamilyID, childID)
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	if child == nil {
		return nil, apperr.NotFound("child", childID)
	}
	return w.rewards.ListRedemptionsByChild(ctx, childID)
}

// --- helpers ---

func (w *Workflow) familyReward(ctx context.Context, rewards *store.RewardStore, familyID, id string) (*model.Reward, error) {
	r, err := rewards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || r.FamilyID != familyID {
		return nil, apperr.NotFound("reward", id)
	}
	return r, nil
}

func (w *Workflow) notifyReward(ctx context.Context, r *model.Reward) {
	w.notifier.Notify(ctx, notify.Event{
		Type:     notify.RewardChanged,
		FamilyID: r.FamilyID,
		ID:       r.ID,
		Title:    r.Name,
		Points:   r.CostPoints,
		At:       w.now().UTC(),
	})
}

func rewardName(r *model.Reward, red *model.Redemption) string {
	if r == nil {
		return red.RewardID
	}
	return r.Name
}

func eventType(s model.RedemptionStatus) notify.EventType {
	switch s {
	case model.RedemptionApproved:
		return notify.RedemptionApproved
	case model.RedemptionRejected:
		return notify.RedemptionRejected
	default:
		return notify.RedemptionFulfilled
	}
}
