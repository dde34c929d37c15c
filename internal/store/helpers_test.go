package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFamily(t *testing.T, db *sql.DB, childNames ...string) (*model.Family, []model.Child) {
	t.Helper()
	ctx := context.Background()
	fs := NewFamilyStore(db)
	fam, err := fs.CreateFamily(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	var children []model.Child
	for _, name := range childNames {
		c, err := fs.CreateChild(ctx, fam.ID, name, nil)
		if err != nil {
			t.Fatalf("create child %s: %v", name, err)
		}
		children = append(children, *c)
	}
	return fam, children
}
