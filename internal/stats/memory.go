package stats

import (
	"context"
	"sync"
)

// MemoryRecorder keeps counters in process. Useful for tests and single-node
// deployments without Redis. Counters reset on restart.
type MemoryRecorder struct {
	mu       sync.Mutex
	byDomain map[string]Counters
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{byDomain: make(map[string]Counters)}
}

func (m *MemoryRecorder) Record(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byDomain[o.Domain]
	c.add(o.Failure, 1)
	m.byDomain[o.Domain] = c
	return nil
}

func (m *MemoryRecorder) Counters(_ context.Context) (map[string]Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byDomain))
	for k, v := range m.byDomain {
		out[k] = v
	}
	return out, nil
}
