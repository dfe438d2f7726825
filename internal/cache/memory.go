// Package cache stores model probabilities keyed by feature vector so that
// repeated scans of equivalent URLs skip inference.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	p         float64
	expiresAt time.Time
}

// Memory is a process-local TTL cache.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemory creates a memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		data: make(map[string]entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the cached probability if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (float64, bool, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return 0, false, nil
	}
	return e.p, true, nil
}

// Set stores p under key.
func (m *Memory) Set(_ context.Context, key string, p float64) error {
	m.mu.Lock()
	m.data[key] = entry{p: p, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.data {
		if now.After(e.expiresAt) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

// CleanupLoop sweeps expired entries every interval until ctx is cancelled.
func (m *Memory) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
