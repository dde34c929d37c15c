package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/choreboard/internal/model"
)

// LedgerStore reads and appends point entries. It has no update or delete
// methods; the schema rejects both.
type LedgerStore struct {
	db DBTX
}

func NewLedgerStore(db DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) WithTx(tx *sql.Tx) *LedgerStore {
	return &LedgerStore{db: tx}
}

const entryCols = `id, family_id, child_id, delta, reason, event_kind, source_id, created_at`

func scanEntry(sc scanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := sc.Scan(&e.ID, &e.FamilyID, &e.ChildID, &e.Delta, &e.Reason, &e.EventKind, &e.SourceID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *LedgerStore) Insert(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FamilyID, e.ChildID, e.Delta, e.Reason, string(e.EventKind), e.SourceID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Balance sums every delta for the child in a single statement.
func (s *LedgerStore) Balance(ctx context.Context, childID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE child_id = ?`, childID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return balance, nil
}

// BalancesByFamily returns each child's balance keyed by child id. Children
// with no entries are absent.
func (s *LedgerStore) BalancesByFamily(ctx context.Context, familyID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_id, SUM(delta) FROM ledger_entries WHERE family_id = ? GROUP BY child_id`, familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum ledger by child: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int)
	for rows.Next() {
		var childID string
		var sum int
		if err := rows.Scan(&childID, &sum); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances[childID] = sum
	}
	return balances, rows.Err()
}

func (s *LedgerStore) list(ctx context.Context, where string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE `+where+` ORDER BY created_at DESC, rowid DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListByChild returns the child's entries newest first.
func (s *LedgerStore) ListByChild(ctx context.Context, childID string) ([]model.LedgerEntry, error) {
	return s.list(ctx, `child_id = ?`, childID)
}

func (s *LedgerStore) ListByFamily(ctx context.Context, familyID string) ([]model.LedgerEntry, error) {
	return s.list(ctx, `family_id = ?`, familyID)
}

// CountBySource returns how many entries of kind reference sourceID.
func (s *LedgerStore) CountBySource(ctx context.Context, kind model.EventKind, sourceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE event_kind = ? AND source_id = ?`, string(kind), sourceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}
