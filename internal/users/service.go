package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/spendguard/internal/auth"
	"github.com/mbd888/spendguard/internal/idgen"
	"github.com/mbd888/spendguard/internal/logging"
)

// TransactionPurger removes every transaction a user owns and then runs
// remove, with no transaction for that user recorded in between.
type TransactionPurger interface {
	PurgeUser(ctx context.Context, userID string, remove func(ctx context.Context) error) (int, error)
}

// EnsureRequest identifies a user coming through the auth gateway.
type EnsureRequest struct {
	Email  string `json:"email" binding:"required"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Service manages user lifecycle
type Service struct {
	store       Store
	purger      TransactionPurger
	adminEmails map[string]bool
	logger      *slog.Logger
}

// NewService creates a user service. Users whose email is in adminEmails
// are created with the admin role.
func NewService(store Store, purger TransactionPurger, adminEmails []string, logger *slog.Logger) *Service {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		admins[NormalizeEmail(e)] = true
	}
	return &Service{
		store:       store,
		purger:      purger,
		adminEmails: admins,
		logger:      logging.Component(logger, logging.ComponentUsers),
	}
}

// EnsureUser returns the user registered under req.Email, creating it on
// first sight. created reports whether a new record was written.
func (s *Service) EnsureUser(ctx context.Context, req EnsureRequest) (u *User, created bool, err error) {
	email := NormalizeEmail(req.Email)

	existing, err := s.store.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email[:strings.IndexByte(email+"@", '@')]
	}
	role := auth.RoleUser
	if s.adminEmails[email] {
		role = auth.RoleAdmin
	}

	u = &User{
		ID:        idgen.User(),
		Email:     email,
		Name:      name,
		Avatar:    strings.TrimSpace(req.Avatar),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		// Lost a race with a concurrent first login.
		if errors.Is(err, ErrEmailTaken) {
			existing, getErr := s.store.GetByEmail(ctx, email)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("user created", logging.FieldUserID, u.ID, "role", u.Role)
	return u, true, nil
}

// Get returns a user by ID
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// RoleOf implements auth.Directory
func (s *Service) RoleOf(ctx context.Context, userID string) (string, error) {
	u, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return "", auth.ErrUnknownUser
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// Exists reports whether userID is registered.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes a user and every transaction they own. It returns the
// number of transactions removed.
func (s *Service) Delete(ctx context.Context, id string) (int, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return 0, err
	}

	removed, err := s.purger.PurgeUser(ctx, id, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		return 0, fmt.Errorf("purge user: %w", err)
	}

	s.logger.Info("user deleted", logging.FieldUserID, id, "transactions_removed", removed)
	return removed, nil
}
