// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes for the identifiers this service mints.
const (
	TransactionPrefix = "tx_"
	UserPrefix        = "usr_"
	RequestPrefix     = "req_"
)

// WithPrefix generates a random ID with a prefix.
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Transaction returns a new transaction ID.
func Transaction() string { return WithPrefix(TransactionPrefix) }

// User returns a new user ID.
func User() string { return WithPrefix(UserPrefix) }

// Request returns a new request ID.
func Request() string { return WithPrefix(RequestPrefix) }

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
