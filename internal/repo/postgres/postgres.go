package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Schema is applied by Migrate; safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS tracked_domains (
  id       BIGSERIAL PRIMARY KEY,
  name     TEXT NOT NULL UNIQUE,
  added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS latency_samples (
  id         BIGSERIAL PRIMARY KEY,
  domain     TEXT NOT NULL,
  latency_ms DOUBLE PRECISION NOT NULL CHECK (latency_ms >= 0),
  ts         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_latency_samples_ts ON latency_samples (ts);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	now  repo.Clock
}

type Option func(*Store)

func WithClock(c repo.Clock) Option {
	return func(s *Store) { s.now = c }
}

func New(ctx context.Context, dsn string, log *zap.Logger, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log, now: repo.UTCNow}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- DomainStore ----

func (s *Store) ListDomains(ctx context.Context) ([]domain.TrackedDomain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, added_at
		   FROM tracked_domains
		  ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	out := []domain.TrackedDomain{}
	for rows.Next() {
		var d domain.TrackedDomain
		if err := rows.Scan(&d.ID, &d.Name, &d.AddedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		d.AddedAt = d.AddedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) AddDomain(ctx context.Context, name string) (domain.TrackedDomain, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return domain.TrackedDomain{}, err
	}
	d := domain.TrackedDomain{Name: n, AddedAt: s.now()}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO tracked_domains (name, added_at)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING id`,
		d.Name, d.AddedAt,
	).Scan(&d.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackedDomain{}, domain.ErrDuplicateDomain
	}
	if err != nil {
		return domain.TrackedDomain{}, fmt.Errorf("insert domain: %w", err)
	}
	return d, nil
}

func (s *Store) RemoveDomain(ctx context.Context, name string) (bool, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_domains WHERE name = $1`, n)
	if err != nil {
		return false, fmt.Errorf("delete domain: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ---- SampleStore ----

func (s *Store) AppendSample(ctx context.Context, smp domain.LatencySample) error {
	if smp.Timestamp.IsZero() {
		smp.Timestamp = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO latency_samples (domain, latency_ms, ts)
		 VALUES ($1, $2, $3)`,
		smp.Domain, smp.LatencyMS, smp.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (s *Store) QuerySamples(ctx context.Context, since time.Duration) ([]domain.LatencySample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, latency_ms, ts
		   FROM latency_samples
		  WHERE ts >= $1
		  ORDER BY ts, id`, s.now().Add(-since))
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	out := []domain.LatencySample{}
	for rows.Next() {
		var smp domain.LatencySample
		if err := rows.Scan(&smp.Domain, &smp.LatencyMS, &smp.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		smp.Timestamp = smp.Timestamp.UTC()
		out = append(out, smp)
	}
	return out, rows.Err()
}

func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM latency_samples WHERE ts < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 && s.log != nil {
		s.log.Debug("pg_samples_purged", zap.Int64("count", n))
	}
	return tag.RowsAffected(), nil
}
