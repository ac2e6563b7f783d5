package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/spendguard/internal/txn"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `SELECT id, user_id, amount, merchant, occurred_at, category, location, currency, created_at FROM transactions`

func (p *PostgresStore) Create(ctx context.Context, t *txn.Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, merchant, occurred_at, category, location, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, nullString(&t.UserID), t.Amount, t.Merchant, t.Timestamp, nullString(t.Category), nullString(t.Location), t.Currency, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*txn.Transaction, error) {
	t, err := scanTransaction(p.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*txn.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	var (
		rows *sql.Rows
		err  error
	)
	if opts.Cursor == nil {
		rows, err = p.db.QueryContext(ctx, selectColumns+`
			WHERE user_id = $1
			ORDER BY occurred_at DESC, id DESC
			LIMIT NULLIF($2, -1)
		`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, selectColumns+`
			WHERE user_id = $1 AND (occurred_at, id) < ($2, $3)
			ORDER BY occurred_at DESC, id DESC
			LIMIT NULLIF($4, -1)
		`, userID, opts.Cursor.Timestamp, opts.Cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*txn.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at, id
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) ListAll(ctx context.Context, userID string) ([]*txn.Transaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = p.db.QueryContext(ctx, selectColumns+` ORDER BY occurred_at, id`)
	} else {
		rows, err = p.db.QueryContext(ctx, selectColumns+` WHERE user_id = $1 ORDER BY occurred_at, id`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list all transactions: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*txn.Transaction, error) {
	t := &txn.Transaction{}
	var userID, category, location sql.NullString
	err := row.Scan(&t.ID, &userID, &t.Amount, &t.Merchant, &t.Timestamp, &category, &location, &t.Currency, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.UserID = userID.String
	if category.Valid {
		t.Category = txn.String(category.String)
	}
	if location.Valid {
		t.Location = txn.String(location.String)
	}
	t.Timestamp = t.Timestamp.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func collect(rows *sql.Rows) ([]*txn.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var result []*txn.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
