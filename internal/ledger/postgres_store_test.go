//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mbd888/spendguard/internal/pagination"
	"github.com/mbd888/spendguard/internal/risk"
	"github.com/mbd888/spendguard/internal/testutil"
	"github.com/mbd888/spendguard/internal/txn"
)

func insertUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`, id, id+"@example.com", id)
	if err != nil {
		t.Fatalf("insert user %s: %v", id, err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	insertUser(t, db, "usr_1")

	s := NewPostgresStore(db)
	ctx := context.Background()

	in := &txn.Transaction{
		ID:        "tx_1",
		UserID:    "usr_1",
		Amount:    1234.5,
		Merchant:  "Acme",
		Timestamp: t0,
		Category:  txn.String("travel"),
		Currency:  "INR",
		CreatedAt: t0,
	}
	if err := s.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "tx_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != 1234.5 || got.Merchant != "Acme" || !got.Timestamp.Equal(t0) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Category == nil || *got.Category != "travel" {
		t.Errorf("category = %v, want travel", got.Category)
	}
	if got.Location != nil {
		t.Errorf("location = %v, want nil", *got.Location)
	}

	if _, err := s.Get(ctx, "tx_missing"); err != ErrTransactionNotFound {
		t.Errorf("Get(missing) err = %v, want ErrTransactionNotFound", err)
	}
}

func TestPostgresStoreQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	insertUser(t, db, "usr_1")
	insertUser(t, db, "usr_2")

	s := NewPostgresStore(db)
	ctx := context.Background()
	seed(t, s, "tx_a", "usr_1", t0.Add(-25*time.Hour))
	seed(t, s, "tx_b", "usr_1", t0.Add(-24*time.Hour))
	seed(t, s, "tx_c", "usr_1", t0)
	seed(t, s, "tx_d", "usr_1", t0)
	seed(t, s, "tx_e", "usr_2", t0)

	since, err := s.ListByUserSince(ctx, "usr_1", t0.Add(-risk.WindowDuration))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 3 {
		t.Errorf("ListByUserSince = %d items, want 3", len(since))
	}

	page, err := s.ListByUser(ctx, "usr_1", ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "tx_d" || page[1].ID != "tx_c" {
		t.Fatalf("first page = %v", page)
	}

	cursor := &pagination.Cursor{Timestamp: page[1].Timestamp, ID: page[1].ID}
	rest, err := s.ListByUser(ctx, "usr_1", ListOptions{Cursor: cursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0].ID != "tx_b" || rest[1].ID != "tx_a" {
		t.Errorf("second page = %v", rest)
	}

	all, err := s.ListAll(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].ID != "tx_a" {
		t.Errorf("ListAll = %v", all)
	}
}

func TestPostgresStoreCascadeOnUserDelete(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	insertUser(t, db, "usr_1")

	s := NewPostgresStore(db)
	ctx := context.Background()
	seed(t, s, "tx_a", "usr_1", t0)

	if _, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, "usr_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "tx_a"); err != ErrTransactionNotFound {
		t.Errorf("transaction should be removed with its owner, got err = %v", err)
	}
}

func TestPostgresStoreDeleteByUser(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	insertUser(t, db, "usr_1")

	s := NewPostgresStore(db)
	seed(t, s, "tx_a", "usr_1", t0)
	seed(t, s, "tx_b", "usr_1", t0)

	n, err := s.DeleteByUser(context.Background(), "usr_1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
}
