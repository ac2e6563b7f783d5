package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/spendguard/internal/txn"
)

// MemoryStore is an in-memory transaction store for development and tests.
type MemoryStore struct {
	byID   map[string]*txn.Transaction
	byUser map[string][]*txn.Transaction
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*txn.Transaction),
		byUser: make(map[string][]*txn.Transaction),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *txn.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := clone(t)
	m.byID[t.ID] = cp
	m.byUser[t.UserID] = append(m.byUser[t.UserID], cp)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*txn.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return clone(t), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*txn.Transaction, error) {
	m.mu.RLock()
	owned := m.byUser[userID]
	result := make([]*txn.Transaction, 0, len(owned))
	for _, t := range owned {
		if opts.Cursor.After(t.Timestamp, t.ID) {
			result = append(result, clone(t))
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*txn.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*txn.Transaction
	for _, t := range m.byUser[userID] {
		if !t.Timestamp.Before(since) {
			result = append(result, clone(t))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAll(ctx context.Context, userID string) ([]*txn.Transaction, error) {
	m.mu.RLock()
	var result []*txn.Transaction
	if userID != "" {
		for _, t := range m.byUser[userID] {
			result = append(result, clone(t))
		}
	} else {
		result = make([]*txn.Transaction, 0, len(m.byID))
		for _, t := range m.byID {
			result = append(result, clone(t))
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.byUser[userID]
	for _, t := range owned {
		delete(m.byID, t.ID)
	}
	delete(m.byUser, userID)
	return len(owned), nil
}

func clone(t *txn.Transaction) *txn.Transaction {
	cp := *t
	if t.Category != nil {
		cp.Category = txn.String(*t.Category)
	}
	if t.Location != nil {
		cp.Location = txn.String(*t.Location)
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
