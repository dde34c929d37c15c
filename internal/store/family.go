package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

var ErrChildNotFound = errors.New("child not found")

type FamilyStore struct {
	db DBTX
}

func NewFamilyStore(db DBTX) *FamilyStore {
	return &FamilyStore{db: db}
}

func (s *FamilyStore) WithTx(tx *sql.Tx) *FamilyStore {
	return &FamilyStore{db: tx}
}

// --- Family methods ---

func (s *FamilyStore) CreateFamily(ctx context.Context, name string) (*model.Family, error) {
	f := model.Family{ID: newID(), Name: name, CreatedAt: utcNow()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO families (id, name, created_at) VALUES (?, ?, ?)`,
		f.ID, f.Name, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return &f, nil
}

func (s *FamilyStore) GetFamily(ctx context.Context, id string) (*model.Family, error) {
	var f model.Family
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, notify_email, created_at FROM families WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.NotifyEmail, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return &f, nil
}

func (s *FamilyStore) SetNotifyEmail(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE families SET notify_email = ? WHERE id = ?`, email, id)
	if err != nil {
		return fmt.Errorf("set notify email: %w", err)
	}
	return nil
}

// --- Child methods ---

const childCols = `id, family_id, name, pin IS NOT NULL, birthdate, created_at, updated_at`

func scanChild(sc scanner) (*model.Child, error) {
	var c model.Child
	var birthdate sql.NullTime
	if err := sc.Scan(&c.ID, &c.FamilyID, &c.Name, &c.HasPIN, &birthdate, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Birthdate = timePtr(birthdate)
	return &c, nil
}

func (s *FamilyStore) CreateChild(ctx context.Context, familyID, name string, birthdate *time.Time) (*model.Child, error) {
	ts := utcNow()
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO children (id, family_id, name, birthdate, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, familyID, name, nullTime(birthdate), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	return s.GetChild(ctx, id)
}

// GetChild returns the child, or nil if it does not exist or was removed.
func (s *FamilyStore) GetChild(ctx context.Context, id string) (*model.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+childCols+` FROM children WHERE id = ? AND removed_at IS NULL`, id,
	)
	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

// GetFamilyChild is GetChild restricted to familyID. A child of another
// family is reported as missing.
func (s *FamilyStore) GetFamilyChild(ctx context.Context, familyID, id string) (*model.Child, error) {
	c, err := s.GetChild(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	if c.FamilyID != familyID {
		return nil, nil
	}
	return c, nil
}

func (s *FamilyStore) ListChildren(ctx context.Context, familyID string) ([]model.Child, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+childCols+` FROM children WHERE family_id = ? AND removed_at IS NULL ORDER BY name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []model.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

func (s *FamilyStore) UpdateChild(ctx context.Context, id, name string, birthdate *time.Time) (*model.Child, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE children SET name = ?, birthdate = ?, updated_at = ? WHERE id = ? AND removed_at IS NULL`,
		name, nullTime(birthdate), utcNow(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update child: %w", err)
	}
	return s.GetChild(ctx, id)
}

// RemoveChild soft-deletes a child. Their ledger history is kept.
func (s *FamilyStore) RemoveChild(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE children SET removed_at = ?, pin = NULL WHERE id = ? AND removed_at IS NULL`,
		utcNow(), id,
	)
	if err != nil {
		return fmt.Errorf("remove child: %w", err)
	}
	return nil
}

func (s *FamilyStore) NameExists(ctx context.Context, familyID, name, excludeID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM children WHERE family_id = ? AND name = ? AND id != ? AND removed_at IS NULL`,
		familyID, name, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check name exists: %w", err)
	}
	return count > 0, nil
}

func (s *FamilyStore) SetPIN(ctx context.Context, id, hashedPIN string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE children SET pin = ? WHERE id = ?`, hashedPIN, id)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

func (s *FamilyStore) ClearPIN(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE children SET pin = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	return nil
}

// GetPINHash returns the stored hash, or "" if no PIN is set.
func (s *FamilyStore) GetPINHash(ctx context.Context, id string) (string, error) {
	var pin sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT pin FROM children WHERE id = ? AND removed_at IS NULL`, id,
	).Scan(&pin)
	if err == sql.ErrNoRows {
		return "", ErrChildNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query pin: %w", err)
	}
	return pin.String, nil
}
