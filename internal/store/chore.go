package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

type ChoreStore struct {
	db DBTX
}

func NewChoreStore(db DBTX) *ChoreStore {
	return &ChoreStore{db: db}
}

func (s *ChoreStore) WithTx(tx *sql.Tx) *ChoreStore {
	return &ChoreStore{db: tx}
}

// --- Chore methods ---

const choreCols = `id, family_id, title, description, points, photo_required, recurrence, created_by, active, created_at, updated_at`

func scanChore(sc scanner) (*model.Chore, error) {
	var c model.Chore
	var photoRequired, active int
	err := sc.Scan(
		&c.ID, &c.FamilyID, &c.Title, &c.Description, &c.Points,
		&photoRequired, &c.Recurrence, &c.CreatedBy, &active,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PhotoRequired = photoRequired != 0
	c.Active = active != 0
	return &c, nil
}

func (s *ChoreStore) Create(ctx context.Context, c *model.Chore) error {
	if c.ID == "" {
		c.ID = newID()
	}
	ts := utcNow()
	c.CreatedAt, c.UpdatedAt = ts, ts
	c.Active = true
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chores (`+choreCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FamilyID, c.Title, c.Description, c.Points,
		boolInt(c.PhotoRequired), string(c.Recurrence), c.CreatedBy, boolInt(c.Active),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chore: %w", err)
	}
	return nil
}

func (s *ChoreStore) GetByID(ctx context.Context, id string) (*model.Chore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+choreCols+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chore: %w", err)
	}
	return c, nil
}

// ListByFamily returns the family's chores ordered by title. Archived chores
// are included only when includeArchived is set.
func (s *ChoreStore) ListByFamily(ctx context.Context, familyID string, includeArchived bool) ([]model.Chore, error) {
	q := `SELECT ` + choreCols + ` FROM chores WHERE family_id = ?`
	if !includeArchived {
		q += ` AND active = 1`
	}
	q += ` ORDER BY title ASC`

	rows, err := s.db.QueryContext(ctx, q, familyID)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	defer rows.Close()

	var chores []model.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		chores = append(chores, *c)
	}
	return chores, rows.Err()
}

func (s *ChoreStore) Update(ctx context.Context, c *model.Chore) error {
	c.UpdatedAt = utcNow()
	_, err := s.db.ExecContext(ctx,
		`UPDATE chores SET title = ?, description = ?, points = ?, photo_required = ?, recurrence = ?, updated_at = ? WHERE id = ?`,
		c.Title, c.Description, c.Points, boolInt(c.PhotoRequired), string(c.Recurrence), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update chore: %w", err)
	}
	return nil
}

func (s *ChoreStore) Archive(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chores SET active = 0, updated_at = ? WHERE id = ?`, utcNow(), id,
	)
	if err != nil {
		return fmt.Errorf("archive chore: %w", err)
	}
	return nil
}

// --- Assignment methods ---

const assignmentCols = `id, family_id, chore_id, child_id, due_at, anchor_day, created_at`

func scanAssignment(sc scanner) (*model.Assignment, error) {
	var a model.Assignment
	var due sql.NullTime
	if err := sc.Scan(&a.ID, &a.FamilyID, &a.ChoreID, &a.ChildID, &due, &a.AnchorDay, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.DueAt = timePtr(due)
	return &a, nil
}

func (s *ChoreStore) InsertAssignment(ctx context.Context, a *model.Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (`+assignmentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FamilyID, a.ChoreID, a.ChildID, nullTime(a.DueAt), a.AnchorDay, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *ChoreStore) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *ChoreStore) listAssignments(ctx context.Context, where string, args ...any) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentCols+` FROM assignments WHERE `+where+` ORDER BY due_at IS NULL, due_at ASC, created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

func (s *ChoreStore) ListAssignmentsByChild(ctx context.Context, childID string) ([]model.Assignment, error) {
	return s.listAssignments(ctx, `child_id = ?`, childID)
}

func (s *ChoreStore) ListAssignmentsByFamily(ctx context.Context, familyID string) ([]model.Assignment, error) {
	return s.listAssignments(ctx, `family_id = ?`, familyID)
}

// HasAssignmentDueFrom reports whether the child already has an assignment for
// the chore due at or after t.
func (s *ChoreStore) HasAssignmentDueFrom(ctx context.Context, choreID, childID string, t time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE chore_id = ? AND child_id = ? AND due_at >= ?`,
		choreID, childID, t.UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check assignment due: %w", err)
	}
	return count > 0, nil
}

// --- Completion methods ---

const completionCols = `id, family_id, assignment_id, submitted_by, photo_ref, status, submitted_at, reviewed_by, reviewed_at`

func scanCompletion(sc scanner) (*model.Completion, error) {
	var c model.Completion
	var reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	err := sc.Scan(
		&c.ID, &c.FamilyID, &c.AssignmentID, &c.SubmittedBy, &c.PhotoRef,
		&c.Status, &c.SubmittedAt, &reviewedBy, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ReviewedBy = stringPtr(reviewedBy)
	c.ReviewedAt = timePtr(reviewedAt)
	return &c, nil
}

func (s *ChoreStore) InsertCompletion(ctx context.Context, c *model.Completion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions (`+completionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FamilyID, c.AssignmentID, c.SubmittedBy, c.PhotoRef,
		string(c.Status), c.SubmittedAt.UTC(), nullString(c.ReviewedBy), nullTime(c.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

func (s *ChoreStore) GetCompletion(ctx context.Context, id string) (*model.Completion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+completionCols+` FROM completions WHERE id = ?`, id)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return c, nil
}

// DecideCompletion moves a pending completion to status. It reports false,
// changing nothing, if the completion was no longer pending.
func (s *ChoreStore) DecideCompletion(ctx context.Context, id string, status model.CompletionStatus, reviewerID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE completions SET status = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ? AND status = ?`,
		string(status), reviewerID, at.UTC(), id, string(model.CompletionPending),
	)
	if err != nil {
		return false, fmt.Errorf("decide completion: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *ChoreStore) listCompletions(ctx context.Context, where string, args ...any) ([]model.Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+completionCols+` FROM completions WHERE `+where+` ORDER BY submitted_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var completions []model.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

func (s *ChoreStore) ListCompletionsByStatus(ctx context.Context, familyID string, status model.CompletionStatus) ([]model.Completion, error) {
	return s.listCompletions(ctx, `family_id = ? AND status = ?`, familyID, string(status))
}

func (s *ChoreStore) ListCompletionsByChild(ctx context.Context, childID string) ([]model.Completion, error) {
	return s.listCompletions(ctx, `submitted_by = ?`, childID)
}

func (s *ChoreStore) ListCompletionsByAssignment(ctx context.Context, assignmentID string) ([]model.Completion, error) {
	return s.listCompletions(ctx, `assignment_id = ?`, assignmentID)
}

func (s *ChoreStore) ListCompletionsByFamily(ctx context.Context, familyID string) ([]model.Completion, error) {
	return s.listCompletions(ctx, `family_id = ?`, familyID)
}
