// Package syncutil provides keyed locking for serializing state
// transitions on a single entity, such as a job moving through the
// payment lifecycle.
package syncutil

import (
	"context"
	"hash/fnv"
)

const keyedShards = 256

// KeyedMutex serializes work per key. Keys are hashed onto a fixed pool
// of channel-backed locks, so two distinct keys may occasionally share a
// lock; that costs contention, never correctness. Waiters can bail out
// when their context is cancelled.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with all locks available.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{shards: make([]chan struct{}, keyedShards)}
	for i := range m.shards {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		m.shards[i] = ch
	}
	return m
}

// Lock acquires the lock for key, blocking until it is available or ctx
// is done. On success it returns the unlock function, which the caller
// must invoke exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardFor(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % keyedShards
}
