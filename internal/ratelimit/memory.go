package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	hits      int
	expiresAt time.Time
}

// MemoryCounter is a process-local Counter for single-instance deployments.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]memoryWindow), now: time.Now}
}

func (m *MemoryCounter) Increment(_ context.Context, key string, windowStart, expiresAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, k)
		}
	}

	id := key + "|" + windowStart.UTC().Format(time.RFC3339Nano)
	w := m.windows[id]
	if w.hits == 0 {
		w.expiresAt = expiresAt
	}
	w.hits++
	m.windows[id] = w
	return w.hits, nil
}
