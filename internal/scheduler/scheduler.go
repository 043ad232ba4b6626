package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/probe"
	"github.com/hamed0406/latencymonitor/internal/repo"
	"github.com/hamed0406/latencymonitor/internal/stats"
)

// Store is the part of repo.Store a cycle touches.
type Store interface {
	ListDomains(ctx context.Context) ([]domain.TrackedDomain, error)
	AppendSample(ctx context.Context, s domain.LatencySample) error
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Options tune a Scheduler. Zero values get defaults in New.
type Options struct {
	Interval       time.Duration // 0 disables the loop; RunCycle still works
	ProbeTimeout   time.Duration
	MaxConcurrency int
	Retention      time.Duration
	// PurgeSchedule is a cron spec ("@daily", "0 3 * * *"). Empty purges once per cycle.
	PurgeSchedule string
	Recorder      stats.Recorder
	Clock         repo.Clock
}

// CycleReport summarizes one probe cycle.
type CycleReport struct {
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Domains    int                      `json:"domains"`
	Samples    int                      `json:"samples"`
	Failures   map[string]probe.Failure `json:"failures"`
	Purged     int64                    `json:"purged"`
	Error      string                   `json:"error,omitempty"`
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	Logger *zap.Logger
	Store  Store
	Prober probe.Prober
	opts   Options

	cycleMu sync.Mutex // one active cycle at a time

	mu   sync.Mutex
	last *CycleReport

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(logger *zap.Logger, store Store, prober probe.Prober, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil || prober == nil {
		return nil, errors.New("scheduler: store and prober are required")
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = repo.UTCNow
	}
	if opts.PurgeSchedule != "" {
		if _, err := cronParser.Parse(opts.PurgeSchedule); err != nil {
			return nil, fmt.Errorf("purge schedule %q: %w", opts.PurgeSchedule, err)
		}
	}
	return &Scheduler{
		Logger: logger,
		Store:  store,
		Prober: prober,
		opts:   opts,
	}, nil
}

// Run does an immediate pass, then one cycle per tick, until ctx is cancelled.
// A cycle that overruns the interval delays the next one; ticks never stack.
func (s *Scheduler) Run(ctx context.Context) {
	if s.opts.PurgeSchedule != "" {
		c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(s.opts.PurgeSchedule, func() { s.purge(ctx) }); err != nil {
			s.Logger.Error("purge_schedule_error", zap.Error(err))
		} else {
			c.Start()
			defer func() { <-c.Stop().Done() }()
		}
	}

	if s.opts.Interval == 0 {
		s.Logger.Info("scheduler_disabled")
		<-ctx.Done()
		return
	}
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler_stopped")
			return
		case <-t.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Warn("cycle_error", zap.Error(err))
	}
}

// Start runs the loop in its own goroutine. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// LastCycle returns the report of the most recent completed cycle.
func (s *Scheduler) LastCycle() (CycleReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// RunCycle probes every tracked domain once and waits for all of them. A
// domain failure never aborts the others; only a failed ListDomains aborts
// the cycle. Store write errors are combined into the returned error.
func (s *Scheduler) RunCycle(ctx context.Context) (rep CycleReport, err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	rep = CycleReport{StartedAt: s.opts.Clock(), Failures: map[string]probe.Failure{}}
	defer func() {
		rep.FinishedAt = s.opts.Clock()
		s.mu.Lock()
		s.last = &rep
		s.mu.Unlock()
	}()

	domains, err := s.Store.ListDomains(ctx)
	if err != nil {
		err = fmt.Errorf("list domains: %w", err)
		rep.Error = err.Error()
		return rep, err
	}
	rep.Domains = len(domains)

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for _, d := range domains {
		name := d.Name
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.Logger.Error("domain_panic", zap.String("domain", name), zap.Any("panic", r))
					mu.Lock()
					rep.Failures[name] = probe.FailureError
					mu.Unlock()
				}
			}()
			res := s.probeOne(gctx, name)
			s.record(ctx, name, res)
			if !res.OK() {
				s.Logger.Info("probe_failed",
					zap.String("domain", name),
					zap.String("target", res.Target),
					zap.String("failure", string(res.Failure)),
					zap.String("reason", res.Message),
				)
				mu.Lock()
				rep.Failures[name] = res.Failure
				mu.Unlock()
				return nil
			}
			err := s.Store.AppendSample(ctx, domain.LatencySample{
				Domain:    name,
				LatencyMS: res.LatencyMS,
				Timestamp: s.opts.Clock(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Warn("append_sample_error", zap.String("domain", name), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("append %s: %w", name, err))
				return nil
			}
			rep.Samples++
			s.Logger.Debug("probe_ok",
				zap.String("domain", name),
				zap.String("target", res.Target),
				zap.Float64("latency_ms", res.LatencyMS),
			)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	if s.opts.PurgeSchedule == "" {
		n, err := s.Store.PurgeOlderThan(ctx, s.opts.Retention)
		if err != nil {
			s.Logger.Warn("purge_error", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("purge: %w", err))
		}
		rep.Purged = n
	}

	if errs != nil {
		rep.Error = errs.Error()
	}
	s.Logger.Info("cycle_done",
		zap.Int("domains", rep.Domains),
		zap.Int("samples", rep.Samples),
		zap.Int("failures", len(rep.Failures)),
		zap.Int64("purged", rep.Purged),
	)
	return rep, errs
}

// probeOne waits at most ProbeTimeout for the prober. A prober that ignores
// its context is abandoned and reported as a timeout.
func (s *Scheduler) probeOne(ctx context.Context, name string) probe.Result {
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	ch := make(chan probe.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error("probe_panic", zap.String("domain", name), zap.Any("panic", r))
				ch <- probe.Failed(name, name, probe.FailureError, fmt.Sprintf("panic: %v", r))
			}
		}()
		ch <- s.Prober.Probe(pctx, name)
	}()

	select {
	case res := <-ch:
		return res
	case <-pctx.Done():
		select {
		case res := <-ch:
			return res
		default:
		}
		return probe.Failed(name, name, probe.FailureTimeout,
			fmt.Sprintf("no result within %s", s.opts.ProbeTimeout))
	}
}

func (s *Scheduler) record(ctx context.Context, name string, res probe.Result) {
	if s.opts.Recorder == nil {
		return
	}
	err := s.opts.Recorder.Record(ctx, stats.Outcome{
		Domain:  name,
		Failure: res.Failure,
		At:      s.opts.Clock(),
	})
	if err != nil {
		s.Logger.Warn("stats_record_error", zap.String("domain", name), zap.Error(err))
	}
}

// purge is the cron job used when PurgeSchedule is set.
func (s *Scheduler) purge(ctx context.Context) {
	n, err := s.Store.PurgeOlderThan(ctx, s.opts.Retention)
	if err != nil {
		s.Logger.Warn("purge_error", zap.Error(err))
		return
	}
	s.Logger.Info("purge_done", zap.Int64("purged", n))
}
