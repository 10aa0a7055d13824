package cooldown

import (
	"context"
	"sync"
	"time"
)

// Cooldown tracks which reporters recently confirmed which reports, so the
// same person cannot inflate a report's count by re-confirming it. The state
// is shared across requests (and across instances for the redis backend).
type Cooldown interface {
	// Acquire records a confirmation by reporter on reportID. It returns
	// false when the reporter is still inside the cooldown window.
	Acquire(ctx context.Context, reporter, reportID string) (bool, error)
	// Release undoes an Acquire, used when the confirmation itself failed
	// and the reporter should be allowed to retry.
	Release(ctx context.Context, reporter, reportID string) error
}

// Memory is a process-local Cooldown used in tests and when no REDIS_URL is
// configured. Not suitable for multi-instance deployments.
type Memory struct {
	TTL time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{TTL: ttl, entries: map[string]time.Time{}}
}

func (m *Memory) Acquire(_ context.Context, reporter, reportID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := key(reporter, reportID)
	now := time.Now()
	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.entries[key] = now.Add(m.TTL)
	return true, nil
}

func (m *Memory) Release(_ context.Context, reporter, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(reporter, reportID))
	return nil
}

func key(reporter, reportID string) string {
	return reporter + ":" + reportID
}
