package domain

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrDuplicateDomain is returned when adding a name that is already tracked.
	ErrDuplicateDomain = errors.New("domain already tracked")
	// ErrInvalidName is returned for empty or whitespace-only names.
	ErrInvalidName = errors.New("invalid domain name")
)

// TrackedDomain is a name currently subject to periodic probing.
type TrackedDomain struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// LatencySample is one successful round-trip measurement. Failed probes never
// produce a sample.
type LatencySample struct {
	Domain    string    `json:"domain"`
	LatencyMS float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxWindowDays is the largest day count that fits in a time.Duration.
const MaxWindowDays = int(math.MaxInt64 / int64(24*time.Hour))

// Days converts a day count to a duration, clamped to [0, MaxWindowDays].
func Days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	if n > MaxWindowDays {
		n = MaxWindowDays
	}
	return time.Duration(n) * 24 * time.Hour
}

// NormalizeName returns the canonical form used for uniqueness checks:
// trimmed and lower-cased.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", ErrInvalidName
	}
	return n, nil
}
