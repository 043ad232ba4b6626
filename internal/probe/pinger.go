package probe

import (
	"context"
	"time"

	"github.com/go-ping/ping"
	"go.uber.org/zap"
)

// ICMPProber sends native echo requests through go-ping. Without privileges it
// uses unprivileged UDP "ping sockets" (net.ipv4.ping_group_range on Linux).
type ICMPProber struct {
	Resolver   Resolver
	Count      int
	Timeout    time.Duration
	Privileged bool
	Logger     *zap.Logger
}

func NewICMPProber(r Resolver, count int, timeout time.Duration, privileged bool, log *zap.Logger) *ICMPProber {
	if count < 1 {
		count = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ICMPProber{Resolver: r, Count: count, Timeout: timeout, Privileged: privileged, Logger: log}
}

func (p *ICMPProber) Probe(ctx context.Context, domain string) Result {
	target := p.Resolver.Resolve(ctx, domain)

	pinger, err := ping.NewPinger(target)
	if err != nil {
		// target is still a name here only when the DNS fallback kicked in
		return Failed(domain, target, FailureUnreachable, err.Error())
	}
	pinger.Count = p.Count
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(p.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return Failed(domain, target, FailureError, err.Error())
	}
	if ctx.Err() != nil {
		return Failed(domain, target, FailureTimeout, ctx.Err().Error())
	}

	st := pinger.Statistics()
	if st.PacketsRecv == 0 {
		return Failed(domain, target, FailureTimeout, "no echo reply")
	}
	return Success(domain, target, durationMS(st.AvgRtt))
}

func durationMS(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
