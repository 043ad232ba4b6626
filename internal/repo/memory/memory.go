package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/repo"
)

// Store keeps everything behind a single RWMutex. Not durable; used for
// tests and STORE_DRIVER=memory.
type Store struct {
	mu      sync.RWMutex
	now     repo.Clock
	nextID  int64
	domains []domain.TrackedDomain
	samples []domain.LatencySample
}

type Option func(*Store)

// WithClock overrides the time source used for AddedAt and window math.
func WithClock(c repo.Clock) Option {
	return func(s *Store) { s.now = c }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     repo.UTCNow,
		samples: make([]domain.LatencySample, 0, 128),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (m *Store) ListDomains(ctx context.Context) ([]domain.TrackedDomain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TrackedDomain, len(m.domains))
	copy(out, m.domains)
	return out, nil
}

func (m *Store) AddDomain(ctx context.Context, name string) (domain.TrackedDomain, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return domain.TrackedDomain{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.Name == n {
			return domain.TrackedDomain{}, domain.ErrDuplicateDomain
		}
	}
	m.nextID++
	d := domain.TrackedDomain{ID: m.nextID, Name: n, AddedAt: m.now()}
	m.domains = append(m.domains, d)
	return d, nil
}

func (m *Store) RemoveDomain(ctx context.Context, name string) (bool, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.domains {
		if d.Name == n {
			m.domains = append(m.domains[:i], m.domains[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) AppendSample(ctx context.Context, s domain.LatencySample) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *Store) QuerySamples(ctx context.Context, since time.Duration) ([]domain.LatencySample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-since)
	out := make([]domain.LatencySample, 0, len(m.samples))
	for _, s := range m.samples {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	// concurrent appends within a cycle may land out of order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-retention)
	kept := m.samples[:0]
	var purged int64
	for _, s := range m.samples {
		if s.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return purged, nil
}

func (m *Store) Close() error { return nil }
