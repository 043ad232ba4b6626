package probe

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Runner abstracts command execution so CommandProber can be unit-tested
// against captured output instead of a live ping binary.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func (OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// CommandProber shells out to the system ping binary. It exists for hosts where
// ICMP sockets are unavailable to the process; ICMPProber is the default.
type CommandProber struct {
	Resolver Resolver
	Runner   Runner
	Binary   string
	Count    int
	Timeout  time.Duration
	GOOS     string
}

func NewCommandProber(r Resolver, count int, timeout time.Duration) *CommandProber {
	if count < 1 {
		count = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommandProber{
		Resolver: r,
		Runner:   OSRunner{},
		Binary:   "ping",
		Count:    count,
		Timeout:  timeout,
		GOOS:     runtime.GOOS,
	}
}

func (p *CommandProber) Probe(ctx context.Context, domain string) Result {
	target := p.Resolver.Resolve(ctx, domain)
	out, err := p.Runner.Output(ctx, p.Binary, pingArgs(p.GOOS, p.Count, p.Timeout, target)...)
	if ctx.Err() != nil {
		return Failed(domain, target, FailureTimeout, "ping command deadline exceeded")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// non-zero exit: no reply, unknown host, network unreachable
			return Failed(domain, target, FailureUnreachable, firstLine(out, err))
		}
		return Failed(domain, target, FailureError, firstLine(out, err))
	}
	ms, ok := ParseRTT(out)
	if !ok {
		return Failed(domain, target, FailureUnparsable, firstLine(out, nil))
	}
	return Success(domain, target, ms)
}

func pingArgs(goos string, count int, timeout time.Duration, target string) []string {
	n := strconv.Itoa(count)
	switch goos {
	case "windows":
		return []string{"-n", n, "-w", strconv.FormatInt(timeout.Milliseconds(), 10), target}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", n, "-t", strconv.Itoa(ceilSeconds(timeout)), target}
	default:
		return []string{"-c", n, "-W", strconv.Itoa(ceilSeconds(timeout)), target}
	}
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// matches "time=14.2 ms", "time=0.045ms", "time=23ms" and Windows "time<1ms"
var rttPattern = regexp.MustCompile(`time([=<])\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)

// ParseRTT extracts the first round-trip time, in milliseconds, from ping
// output. "time<1ms" is reported as 0 (sub-millisecond).
func ParseRTT(out string) (float64, bool) {
	m := rttPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	if m[1] == "<" {
		return 0, true
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func firstLine(out string, err error) string {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[:i])
	}
	if out == "" && err != nil {
		return err.Error()
	}
	return out
}
