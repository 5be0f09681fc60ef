package ledger

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/vertexlabs/vertexpay/internal/idgen"
	"github.com/vertexlabs/vertexpay/internal/money"
)

// MemoryStore is an in-memory ledger store for development mode and tests.
type MemoryStore struct {
	wallets map[string]*Wallet
	txns    map[string]*Transaction
	order   []string // transaction IDs in insertion order
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		txns:    make(map[string]*Transaction),
	}
}

func emptyWallet(userID, currency string) *Wallet {
	return &Wallet{
		UserID:      userID,
		Available:   "0.000000",
		Pending:     "0.000000",
		TotalEarned: "0.000000",
		TotalSpent:  "0.000000",
		Currency:    currency,
		UpdatedAt:   time.Now(),
	}
}

func (m *MemoryStore) GetOrCreateWallet(ctx context.Context, userID, currency string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		w = emptyWallet(userID, currency)
		m.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) ApplyDelta(ctx context.Context, userID string, delta WalletDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		w = emptyWallet(userID, "usd")
		m.wallets[userID] = w
	}

	avail, _ := money.ParseSigned(w.Available)
	if delta.Available != nil {
		avail = money.Add(avail, delta.Available)
		if avail.Sign() < 0 {
			return ErrInsufficientFunds
		}
	}

	pend, _ := money.ParseSigned(w.Pending)
	if delta.Pending != nil {
		pend = money.Add(pend, delta.Pending)
	}
	earned, _ := money.ParseSigned(w.TotalEarned)
	if delta.Earned != nil {
		earned = money.Add(earned, delta.Earned)
	}
	spent, _ := money.ParseSigned(w.TotalSpent)
	if delta.Spent != nil {
		spent = money.Add(spent, delta.Spent)
	}

	w.Available = money.Format(avail)
	w.Pending = money.Format(pend)
	w.TotalEarned = money.Format(earned)
	w.TotalSpent = money.Format(spent)
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetBalances(ctx context.Context, userID string, available, pending *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		w = emptyWallet(userID, "usd")
		m.wallets[userID] = w
	}
	w.Available = money.Format(available)
	w.Pending = money.Format(pending)
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.ID == "" {
		txn.ID = idgen.WithPrefix("txn_")
	}
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	cp := *txn
	m.txns[txn.ID] = &cp
	m.order = append(m.order, txn.ID)
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) ListByIntent(ctx context.Context, intentRef string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, id := range m.order {
		if txn := m.txns[id]; txn.IntentRef == intentRef {
			cp := *txn
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to TransactionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok {
		return false, ErrTransactionNotFound
	}
	if txn.Status != from {
		return false, nil
	}
	txn.Status = to
	txn.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Transaction
	for _, id := range m.order {
		txn := m.txns[id]
		if txn.UserID != userID {
			continue
		}
		if !before.IsZero() {
			// Keyset: keep rows strictly older than the cursor position.
			if txn.CreatedAt.After(before) {
				continue
			}
			if txn.CreatedAt.Equal(before) && txn.ID >= beforeID {
				continue
			}
		}
		cp := *txn
		all = append(all, &cp)
	}
	// Newest first, matching the postgres store's ORDER BY created_at DESC, id DESC.
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, id := range m.order {
		if txn := m.txns[id]; txn.JobID == jobID {
			cp := *txn
			out = append(out, &cp)
		}
	}
	return out, nil
}
