// Package stats records probe outcomes per domain. Failed probes never reach
// the sample store, so this is where failures stay observable.
package stats

import (
	"context"
	"time"

	"github.com/hamed0406/latencymonitor/internal/probe"
)

// Outcome is one probe result as seen by the scheduler.
type Outcome struct {
	Domain  string
	Failure probe.Failure
	At      time.Time
}

// Counters are cumulative per-domain outcome counts.
type Counters struct {
	OK          int64 `json:"ok"`
	Unreachable int64 `json:"unreachable"`
	Timeout     int64 `json:"timeout"`
	Unparsable  int64 `json:"unparsable_output"`
	Error       int64 `json:"error"`
}

func (c *Counters) add(f probe.Failure, n int64) {
	switch f {
	case probe.FailureNone:
		c.OK += n
	case probe.FailureUnreachable:
		c.Unreachable += n
	case probe.FailureTimeout:
		c.Timeout += n
	case probe.FailureUnparsable:
		c.Unparsable += n
	default:
		c.Error += n
	}
}

// Recorder is best-effort: callers log errors and move on.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

type Reader interface {
	Counters(ctx context.Context) (map[string]Counters, error)
}

// field is the hash field / map key used for an outcome.
func field(f probe.Failure) string {
	if f == probe.FailureNone {
		return "ok"
	}
	return string(f)
}
