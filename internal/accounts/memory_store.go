package accounts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory account directory for development and tests.
type MemoryStore struct {
	accounts map[string]*Account
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// Put seeds or replaces an account.
func (m *MemoryStore) Put(acct *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *acct
	m.accounts[acct.UserID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) SetStripeAccount(ctx context.Context, userID, accountRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.StripeAccountID = accountRef
	return nil
}

func (m *MemoryStore) ListConnected(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Account
	for _, acct := range m.accounts {
		if acct.StripeAccountID != "" {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetPayoutsEnabled(ctx context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PayoutsEnabled = enabled
	return nil
}
