// Package txn defines the transaction record shared by the ledger and the
// risk engine.
package txn

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultCurrency is applied when a transaction is recorded without one.
const DefaultCurrency = "INR"

// ErrInvalidTransaction is returned when a transaction is missing a required
// field or carries a value the risk engine cannot reason about.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Transaction is a single spend recorded for a user.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	Merchant  string    `json:"merchant"`
	Timestamp time.Time `json:"timestamp"`
	Category  *string   `json:"category,omitempty"`
	Location  *string   `json:"location,omitempty"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the fields every rule depends on.
func (t *Transaction) Validate() error {
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTransaction)
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return fmt.Errorf("%w: amount must be a finite number", ErrInvalidTransaction)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	if strings.TrimSpace(t.Merchant) == "" {
		return fmt.Errorf("%w: merchant is required", ErrInvalidTransaction)
	}
	return nil
}

// Normalize trims free-text fields, drops empty optionals and applies the
// default currency.
func (t *Transaction) Normalize() {
	t.Merchant = strings.TrimSpace(t.Merchant)
	t.Category = trimOptional(t.Category)
	t.Location = trimOptional(t.Location)
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
}

// HasOwner reports whether the transaction can be attributed to a user.
func (t *Transaction) HasOwner() bool {
	return strings.TrimSpace(t.UserID) != ""
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// String returns a pointer to s, for filling optional fields.
func String(s string) *string {
	return &s
}
