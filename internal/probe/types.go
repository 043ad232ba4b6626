package probe

import "context"

// Failure classifies why a probe produced no latency. The zero value means success.
type Failure string

const (
	FailureNone        Failure = ""
	FailureUnreachable Failure = "unreachable"
	FailureTimeout     Failure = "timeout"
	FailureUnparsable  Failure = "unparsable_output"
	FailureError       Failure = "error"
)

// Result holds the outcome of a single probe. It is a tagged value: either
// LatencyMS is meaningful (Failure empty) or Failure says what went wrong.
type Result struct {
	Domain    string  `json:"domain"`
	Target    string  `json:"target"`
	LatencyMS float64 `json:"latency_ms"`
	Failure   Failure `json:"failure,omitempty"`
	Message   string  `json:"message,omitempty"`
}

func (r Result) OK() bool { return r.Failure == FailureNone }

func Success(domain, target string, ms float64) Result {
	return Result{Domain: domain, Target: target, LatencyMS: ms}
}

func Failed(domain, target string, f Failure, msg string) Result {
	return Result{Domain: domain, Target: target, Failure: f, Message: msg}
}

// Prober probes exactly one domain. Implementations never panic and never
// return errors; every failure is folded into the Result.
type Prober interface {
	Probe(ctx context.Context, domain string) Result
}

// Resolver turns a domain name or literal address into a probe target. It
// never fails: on lookup errors it returns the name unchanged.
type Resolver interface {
	Resolve(ctx context.Context, name string) string
}
