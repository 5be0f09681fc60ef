package jobs

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory job authority for development mode and tests.
type MemoryStore struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Put seeds or replaces a job. Used by tests and the development fixtures.
func (m *MemoryStore) Put(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) GetByIntent(ctx context.Context, intentRef string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, job := range m.jobs {
		if job.Payment.IntentRef == intentRef {
			cp := *job
			return &cp, nil
		}
	}
	return nil, ErrJobNotFound
}

func (m *MemoryStore) SetPaymentState(ctx context.Context, jobID string, update PaymentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	if update.JobStatus != "" {
		job.Status = update.JobStatus
	}
	if update.PaymentStatus != "" {
		job.Payment.Status = update.PaymentStatus
	}
	if update.PaymentAmount != "" {
		job.Payment.Amount = update.PaymentAmount
	}
	if update.IntentRef != "" {
		job.Payment.IntentRef = update.IntentRef
	}
	if update.PaidAt != nil {
		job.Payment.PaidAt = update.PaidAt
	}
	if update.RefundedAt != nil {
		job.Payment.RefundedAt = update.RefundedAt
	}
	return nil
}
