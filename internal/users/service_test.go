package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/spendguard/internal/auth"
)

type fakePurger struct {
	mu      sync.Mutex
	removed map[string]int
	counts  map[string]int
	err     error

	removedUsers []string
}

func newFakePurger() *fakePurger {
	return &fakePurger{removed: map[string]int{}, counts: map[string]int{}}
}

// PurgeUser holds mu across the purge and remove, standing in for the
// ledger's per-user lock.
func (f *fakePurger) PurgeUser(ctx context.Context, userID string, remove func(context.Context) error) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := f.counts[userID]
	f.removed[userID] += n
	delete(f.counts, userID)
	f.removedUsers = append(f.removedUsers, userID)
	return n, remove(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(admins ...string) (*Service, *fakePurger) {
	p := newFakePurger()
	return NewService(NewMemoryStore(), p, admins, testLogger()), p
}

func TestEnsureUser_CreatesThenFinds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, created, err := svc.EnsureUser(ctx, EnsureRequest{Email: "  Asha@Example.com ", Name: "Asha"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "asha@example.com", u.Email)
	assert.Equal(t, auth.RoleUser, u.Role)
	assert.Regexp(t, `^usr_[a-f0-9]{24}$`, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	again, created, err := svc.EnsureUser(ctx, EnsureRequest{Email: "asha@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
}

func TestEnsureUser_DefaultsNameFromEmail(t *testing.T) {
	svc, _ := newTestService()

	u, _, err := svc.EnsureUser(context.Background(), EnsureRequest{Email: "ravi.k@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ravi.k", u.Name)
}

func TestEnsureUser_AdminEmails(t *testing.T) {
	svc, _ := newTestService("Ops@Example.com")

	u, _, err := svc.EnsureUser(context.Background(), EnsureRequest{Email: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, u.Role)

	role, err := svc.RoleOf(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, role)
}

func TestEnsureUser_ConcurrentFirstLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := svc.EnsureUser(ctx, EnsureRequest{Email: "race@example.com"})
			if assert.NoError(t, err) {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRoleOf_Unknown(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RoleOf(context.Background(), "usr_missing")
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
}

func TestDelete_PurgesTransactions(t *testing.T) {
	svc, purger := newTestService()
	ctx := context.Background()

	u, _, err := svc.EnsureUser(ctx, EnsureRequest{Email: "gone@example.com"})
	require.NoError(t, err)
	purger.counts[u.ID] = 4

	removed, err := svc.Delete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Equal(t, 4, purger.removed[u.ID])

	_, err = svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Email can be reused after deletion.
	_, created, err := svc.EnsureUser(ctx, EnsureRequest{Email: "gone@example.com"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDelete_RemovesUserInsidePurge(t *testing.T) {
	svc, purger := newTestService()
	ctx := context.Background()

	u, _, err := svc.EnsureUser(ctx, EnsureRequest{Email: "locked@example.com"})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, purger.removedUsers)

	ok, err := svc.Exists(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, _, err := svc.EnsureUser(ctx, EnsureRequest{Email: "here@example.com"})
	require.NoError(t, err)

	ok, err := svc.Exists(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Exists(ctx, "usr_missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_UnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Delete(context.Background(), "usr_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDelete_PurgeFailureKeepsUser(t *testing.T) {
	svc, purger := newTestService()
	ctx := context.Background()

	u, _, err := svc.EnsureUser(ctx, EnsureRequest{Email: "keep@example.com"})
	require.NoError(t, err)
	purger.err = errors.New("db down")

	_, err = svc.Delete(ctx, u.ID)
	require.Error(t, err)

	_, err = svc.Get(ctx, u.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &User{ID: "usr_1", Email: "a@example.com", Name: "A", Role: auth.RoleUser}))

	u, err := store.Get(ctx, "usr_1")
	require.NoError(t, err)
	u.Role = auth.RoleAdmin

	again, err := store.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, again.Role)

	assert.ErrorIs(t, store.Create(ctx, &User{ID: "usr_2", Email: "a@example.com"}), ErrEmailTaken)
}
