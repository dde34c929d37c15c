package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

type RewardStore struct {
	db DBTX
}

func NewRewardStore(db DBTX) *RewardStore {
	return &RewardStore{db: db}
}

func (s *RewardStore) WithTx(tx *sql.Tx) *RewardStore {
	return &RewardStore{db: tx}
}

// --- Reward methods ---

const rewardCols = `id, family_id, name, description, cost_points, active, created_at`

func scanReward(sc scanner) (*model.Reward, error) {
	var r model.Reward
	var active int
	if err := sc.Scan(&r.ID, &r.FamilyID, &r.Name, &r.Description, &r.CostPoints, &active, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

func (s *RewardStore) Create(ctx context.Context, r *model.Reward) error {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (`+rewardCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FamilyID, r.Name, r.Description, r.CostPoints, boolInt(r.Active), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

func (s *RewardStore) GetByID(ctx context.Context, id string) (*model.Reward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// ListByFamily returns rewards active first, then by name.
func (s *RewardStore) ListByFamily(ctx context.Context, familyID string, activeOnly bool) ([]model.Reward, error) {
	q := `SELECT ` + rewardCols + ` FROM rewards WHERE family_id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	q += ` ORDER BY active DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, q, familyID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) Update(ctx context.Context, r *model.Reward) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET name = ?, description = ?, cost_points = ?, active = ? WHERE id = ?`,
		r.Name, r.Description, r.CostPoints, boolInt(r.Active), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	return nil
}

func (s *RewardStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rewards SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate reward: %w", err)
	}
	return nil
}

// --- Redemption methods ---

const redemptionCols = `id, family_id, reward_id, child_id, cost_points, status, requested_at, decided_by, decided_at, fulfilled_at`

func scanRedemption(sc scanner) (*model.Redemption, error) {
	var r model.Redemption
	var decidedBy sql.NullString
	var decidedAt, fulfilledAt sql.NullTime
	err := sc.Scan(
		&r.ID, &r.FamilyID, &r.RewardID, &r.ChildID, &r.CostPoints, &r.Status,
		&r.RequestedAt, &decidedBy, &decidedAt, &fulfilledAt,
	)
	if err != nil {
		return nil, err
	}
	r.DecidedBy = stringPtr(decidedBy)
	r.DecidedAt = timePtr(decidedAt)
	r.FulfilledAt = timePtr(fulfilledAt)
	return &r, nil
}

func (s *RewardStore) InsertRedemption(ctx context.Context, r *model.Redemption) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO redemptions (`+redemptionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FamilyID, r.RewardID, r.ChildID, r.CostPoints, string(r.Status),
		r.RequestedAt.UTC(), nullString(r.DecidedBy), nullTime(r.DecidedAt), nullTime(r.FulfilledAt),
	)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (s *RewardStore) GetRedemption(ctx context.Context, id string) (*model.Redemption, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+redemptionCols+` FROM redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

// DecideRedemption moves a requested redemption to status. It reports false,
// changing nothing, if the redemption was no longer requested.
func (s *RewardStore) DecideRedemption(ctx context.Context, id string, status model.RedemptionStatus, deciderID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE redemptions SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(status), deciderID, at.UTC(), id, string(model.RedemptionRequested),
	)
	if err != nil {
		return false, fmt.Errorf("decide redemption: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// FulfillRedemption moves an approved redemption to fulfilled. It reports
// false if the redemption was not approved.
func (s *RewardStore) FulfillRedemption(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE redemptions SET status = ?, fulfilled_at = ? WHERE id = ? AND status = ?`,
		string(model.RedemptionFulfilled), at.UTC(), id, string(model.RedemptionApproved),
	)
	if err != nil {
		return false, fmt.Errorf("fulfill redemption: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *RewardStore) listRedemptions(ctx context.Context, where, order string, args ...any) ([]model.Redemption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+redemptionCols+` FROM redemptions WHERE `+where+` ORDER BY `+order,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var redemptions []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}

// ListRedemptionsByStatus returns the family's redemptions in status, oldest
// request first.
func (s *RewardStore) ListRedemptionsByStatus(ctx context.Context, familyID string, status model.RedemptionStatus) ([]model.Redemption, error) {
	return s.listRedemptions(ctx, `family_id = ? AND status = ?`, `requested_at ASC`, familyID, string(status))
}

func (s *RewardStore) ListRedemptionsByChild(ctx context.Context, childID string) ([]model.Redemption, error) {
	return s.listRedemptions(ctx, `child_id = ?`, `requested_at DESC`, childID)
}
