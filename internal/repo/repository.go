package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hamed0406/latencymonitor/internal/domain"
)

// Ports (interfaces) implemented by the memory, bolt and postgres adapters.
// Every operation is atomic with respect to the others.
type DomainStore interface {
	// ListDomains returns tracked domains in insertion order.
	ListDomains(ctx context.Context) ([]domain.TrackedDomain, error)
	// AddDomain returns domain.ErrInvalidName or domain.ErrDuplicateDomain on rejection.
	AddDomain(ctx context.Context, name string) (domain.TrackedDomain, error)
	// RemoveDomain reports whether a row existed. Not found is not an error.
	RemoveDomain(ctx context.Context, name string) (bool, error)
}

type SampleStore interface {
	// AppendSample inserts unconditionally; the domain need not be tracked.
	AppendSample(ctx context.Context, s domain.LatencySample) error
	// QuerySamples returns samples with timestamp >= now-since, oldest first.
	QuerySamples(ctx context.Context, since time.Duration) ([]domain.LatencySample, error)
	// PurgeOlderThan deletes samples with timestamp < now-retention.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

type Store interface {
	DomainStore
	SampleStore
	Close() error
}

// Clock lets adapters and tests agree on "now".
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time { return time.Now().UTC() }

// Seed adds names when the store has no tracked domains yet. It is a one-time
// bootstrap: once any row exists it does nothing. Duplicates inside names are skipped.
func Seed(ctx context.Context, s DomainStore, names []string) (int, error) {
	existing, err := s.ListDomains(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed list: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	added := 0
	for _, n := range names {
		_, err := s.AddDomain(ctx, n)
		switch {
		case err == nil:
			added++
		case errors.Is(err, domain.ErrDuplicateDomain), errors.Is(err, domain.ErrInvalidName):
			continue
		default:
			return added, fmt.Errorf("seed add %q: %w", n, err)
		}
	}
	return added, nil
}
