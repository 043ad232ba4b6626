// Package bolt is the default durable Store: a single bbolt file holding the
// tracked-domain and latency-sample tables.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/repo"
)

var (
	bucketDomains = []byte("domains")      // id -> TrackedDomain
	bucketNames   = []byte("domain_names") // normalized name -> id
	bucketSamples = []byte("samples")      // unix nanos + seq -> LatencySample
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db  *bolt.DB
	now repo.Clock
}

type Option func(*Store)

func WithClock(c repo.Clock) Option {
	return func(s *Store) { s.now = c }
}

// Open opens (creating if needed) the database file and its buckets.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	s := &Store{db: db, now: repo.UTCNow}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDomains, bucketNames, bucketSamples} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- DomainStore ----

func (s *Store) ListDomains(ctx context.Context) ([]domain.TrackedDomain, error) {
	var out []domain.TrackedDomain
	err := s.db.View(func(tx *bolt.Tx) error {
		// ids come from NextSequence, so key order is insertion order
		return tx.Bucket(bucketDomains).ForEach(func(_, v []byte) error {
			var d domain.TrackedDomain
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode domain: %w", err)
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return out, nil
}

func (s *Store) AddDomain(ctx context.Context, name string) (domain.TrackedDomain, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return domain.TrackedDomain{}, err
	}
	var d domain.TrackedDomain
	err = s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		if names.Get([]byte(n)) != nil {
			return domain.ErrDuplicateDomain
		}
		domains := tx.Bucket(bucketDomains)
		seq, err := domains.NextSequence()
		if err != nil {
			return err
		}
		d = domain.TrackedDomain{ID: int64(seq), Name: n, AddedAt: s.now()}
		v, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := domains.Put(u64(seq), v); err != nil {
			return err
		}
		return names.Put([]byte(n), u64(seq))
	})
	if errors.Is(err, domain.ErrDuplicateDomain) {
		return domain.TrackedDomain{}, err
	}
	if err != nil {
		return domain.TrackedDomain{}, fmt.Errorf("add domain: %w", err)
	}
	return d, nil
}

func (s *Store) RemoveDomain(ctx context.Context, name string) (bool, error) {
	n, err := domain.NormalizeName(name)
	if err != nil {
		return false, nil
	}
	removed := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		id := names.Get([]byte(n))
		if id == nil {
			return nil
		}
		key := append([]byte(nil), id...)
		if err := tx.Bucket(bucketDomains).Delete(key); err != nil {
			return err
		}
		removed = true
		return names.Delete([]byte(n))
	})
	if err != nil {
		return false, fmt.Errorf("remove domain: %w", err)
	}
	return removed, nil
}

// ---- SampleStore ----

func (s *Store) AppendSample(ctx context.Context, smp domain.LatencySample) error {
	if smp.Timestamp.IsZero() {
		smp.Timestamp = s.now()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		v, err := json.Marshal(smp)
		if err != nil {
			return err
		}
		return b.Put(sampleKey(smp.Timestamp, seq), v)
	})
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

func (s *Store) QuerySamples(ctx context.Context, since time.Duration) ([]domain.LatencySample, error) {
	cutoff := timePrefix(s.now().Add(-since))
	out := []domain.LatencySample{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSamples).Cursor()
		for k, v := c.Seek(cutoff); k != nil; k, v = c.Next() {
			var smp domain.LatencySample
			if err := json.Unmarshal(v, &smp); err != nil {
				return fmt.Errorf("decode sample: %w", err)
			}
			out = append(out, smp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	return out, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := timePrefix(s.now().Add(-retention))
	var purged int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		var expired [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, _ = c.Next() {
			expired = append(expired, append([]byte(nil), k...))
		}
		// deleting under a live cursor can skip keys, so delete after the scan
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = int64(len(expired))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}
	return purged, nil
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func timePrefix(t time.Time) []byte {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	return u64(uint64(ns))
}

func sampleKey(t time.Time, seq uint64) []byte {
	return append(timePrefix(t), u64(seq)...)
}
