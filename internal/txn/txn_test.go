package txn

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tx      Transaction
		wantErr string
	}{
		{
			name: "valid",
			tx:   Transaction{Amount: 10, Merchant: "Acme", Timestamp: now},
		},
		{
			name: "zero amount is allowed",
			tx:   Transaction{Amount: 0, Merchant: "Acme", Timestamp: now},
		},
		{
			name:    "missing timestamp",
			tx:      Transaction{Amount: 10, Merchant: "Acme"},
			wantErr: "timestamp is required",
		},
		{
			name:    "negative amount",
			tx:      Transaction{Amount: -1, Merchant: "Acme", Timestamp: now},
			wantErr: "must not be negative",
		},
		{
			name:    "NaN amount",
			tx:      Transaction{Amount: math.NaN(), Merchant: "Acme", Timestamp: now},
			wantErr: "finite",
		},
		{
			name:    "blank merchant",
			tx:      Transaction{Amount: 10, Merchant: "   ", Timestamp: now},
			wantErr: "merchant is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransaction))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalize(t *testing.T) {
	tx := Transaction{
		Merchant: "  Acme  ",
		Category: String("  "),
		Location: String(" Pune "),
		Currency: " usd",
	}
	tx.Normalize()

	assert.Equal(t, "Acme", tx.Merchant)
	assert.Nil(t, tx.Category)
	require.NotNil(t, tx.Location)
	assert.Equal(t, "Pune", *tx.Location)
	assert.Equal(t, "USD", tx.Currency)
}

func TestNormalize_DefaultCurrency(t *testing.T) {
	tx := Transaction{Merchant: "Acme"}
	tx.Normalize()
	assert.Equal(t, DefaultCurrency, tx.Currency)
}

func TestHasOwner(t *testing.T) {
	assert.False(t, (&Transaction{}).HasOwner())
	assert.False(t, (&Transaction{UserID: " "}).HasOwner())
	assert.True(t, (&Transaction{UserID: "usr_1"}).HasOwner())
}
