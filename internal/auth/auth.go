// Package auth propagates caller identity from the upstream gateway.
//
// Authentication itself happens before requests reach this service: the
// gateway verifies the session and forwards the user ID in X-User-ID.
// This package only resolves that ID against the user directory and
// gates routes on it.
package auth

import (
	"context"
	"errors"
)

// UserHeader carries the authenticated user ID set by the gateway.
const UserHeader = "X-User-ID"

// GatewaySecretHeader carries the shared secret proving a request came
// through the gateway.
const GatewaySecretHeader = "X-Gateway-Secret"

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ErrUnknownUser is returned by a Directory for IDs it does not hold.
var ErrUnknownUser = errors.New("unknown user")

// Directory resolves a user ID to its role.
type Directory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}
