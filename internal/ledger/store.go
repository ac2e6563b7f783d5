package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/spendguard/internal/pagination"
	"github.com/mbd888/spendguard/internal/txn"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// ListOptions pages through one user's history, newest first.
type ListOptions struct {
	Limit  int
	Cursor *pagination.Cursor
}

// Store persists transactions
type Store interface {
	Create(ctx context.Context, t *txn.Transaction) error
	Get(ctx context.Context, id string) (*txn.Transaction, error)

	// ListByUser returns up to opts.Limit transactions ordered by
	// (timestamp desc, id desc), starting after opts.Cursor.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*txn.Transaction, error)

	// ListByUserSince returns the user's transactions with timestamp at or
	// after since. Order is unspecified.
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*txn.Transaction, error)

	// ListAll returns transactions ordered by (timestamp, id). An empty
	// userID lists every user.
	ListAll(ctx context.Context, userID string) ([]*txn.Transaction, error)

	// DeleteByUser removes the user's transactions and returns how many
	// were removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)
}
