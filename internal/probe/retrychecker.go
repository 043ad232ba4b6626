// internal/probe/retrychecker.go
package probe

import (
	"context"
	"time"
)

// RetryProber re-probes a failed domain up to Attempts times.
type RetryProber struct {
	Inner    Prober
	Attempts int
	Backoff  time.Duration
}

func (r *RetryProber) Probe(ctx context.Context, domain string) Result {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last Result
	for i := 0; i < attempts; i++ {
		last = r.Inner.Probe(ctx, domain)
		if last.OK() {
			return last
		}
		if i < attempts-1 {
			t := time.NewTimer(r.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return Failed(domain, last.Target, FailureTimeout, ctx.Err().Error())
			case <-t.C:
			}
		}
	}
	if attempts > 1 {
		// annotate message so you can see it was a retry series
		last.Message = last.Message + " (after retries)"
	}
	return last
}
