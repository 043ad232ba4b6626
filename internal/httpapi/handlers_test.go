package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/probe"
	"github.com/hamed0406/latencymonitor/internal/repo/memory"
	"github.com/hamed0406/latencymonitor/internal/scheduler"
	"github.com/hamed0406/latencymonitor/internal/stats"
)

// ---- test helpers ----

type fakeProber struct {
	ms float64
}

func (f *fakeProber) Probe(_ context.Context, d string) probe.Result {
	// always return the same result so tests are deterministic
	return probe.Success(d, d, f.ms)
}

type fixture struct {
	ts    *httptest.Server
	store *memory.Store
	rec   *stats.MemoryRecorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := memory.New()
	rec := stats.NewMemoryRecorder()

	sch, err := scheduler.New(log, store, &fakeProber{ms: 12.5}, scheduler.Options{Recorder: rec})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	srv := NewServer(log, store, sch, rec)

	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(Options{PublicRPM: 10_000, PublicBurst: 10_000}))
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: store, rec: rec}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ---- tests ----

func TestAddDomain_OK_Duplicate_Invalid(t *testing.T) {
	f := setup(t)

	// 1) Add OK, name normalized
	resp := f.do(t, http.MethodPost, "/api/domains", `{"name":" Example.com "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var added domain.TrackedDomain
	decode(t, resp, &added)
	if added.Name != "example.com" || added.AddedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", added)
	}

	// 2) Duplicate should be 409
	if resp := f.do(t, http.MethodPost, "/api/domains", `{"name":"EXAMPLE.com"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409 on duplicate, got %d", resp.StatusCode)
	}

	// 3) Empty name and bad JSON should be 400
	if resp := f.do(t, http.MethodPost, "/api/domains", `{"name":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 on empty name, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/domains", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 on bad payload, got %d", resp.StatusCode)
	}
	var e map[string]string
	decode(t, resp, &e)
	if e["error"] == "" {
		t.Fatalf("error body missing: %v", e)
	}
}

func TestListAndRemoveDomain(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/api/domains", `{"name":"a.test"}`)
	f.do(t, http.MethodPost, "/api/domains", `{"name":"b.test"}`)

	var list []domain.TrackedDomain
	decode(t, f.do(t, http.MethodGet, "/api/domains", ""), &list)
	if len(list) != 2 || list[0].Name != "a.test" || list[1].Name != "b.test" {
		t.Fatalf("unexpected list: %+v", list)
	}

	var del map[string]bool
	decode(t, f.do(t, http.MethodDelete, "/api/domains/a.test", ""), &del)
	if !del["success"] {
		t.Fatalf("first delete should succeed: %v", del)
	}
	decode(t, f.do(t, http.MethodDelete, "/api/domains/a.test", ""), &del)
	if del["success"] {
		t.Fatalf("second delete should report false: %v", del)
	}

	var st struct {
		Status  string   `json:"status"`
		Domains []string `json:"domains"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/status", ""), &st)
	if st.Status != "ok" || len(st.Domains) != 1 || st.Domains[0] != "b.test" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestLatency_WindowAndValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = f.store.AppendSample(ctx, domain.LatencySample{Domain: "a.test", LatencyMS: 1, Timestamp: now.Add(-10 * 24 * time.Hour)})
	_ = f.store.AppendSample(ctx, domain.LatencySample{Domain: "a.test", LatencyMS: 2, Timestamp: now.Add(-time.Minute)})

	var all []domain.LatencySample
	decode(t, f.do(t, http.MethodGet, "/api/latency", ""), &all)
	if len(all) != 2 || all[0].LatencyMS != 1 {
		t.Fatalf("default window: %+v", all)
	}

	var week []domain.LatencySample
	decode(t, f.do(t, http.MethodGet, "/api/latency?days=7", ""), &week)
	if len(week) != 1 || week[0].LatencyMS != 2 {
		t.Fatalf("7-day window: %+v", week)
	}

	for _, q := range []string{"0", "-3", "abc", "1.5"} {
		if resp := f.do(t, http.MethodGet, "/api/latency?days="+q, ""); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("days=%s: want 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestLatency_EmptyIsArray(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodGet, "/api/latency?days=1", "")
	var raw json.RawMessage
	decode(t, resp, &raw)
	if string(bytes.TrimSpace(raw)) != "[]" {
		t.Fatalf("want [], got %s", raw)
	}
}

func TestProbeTriggersCycle(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/api/domains", `{"name":"a.test"}`)

	var before struct {
		LastCycle *scheduler.CycleReport `json:"last_cycle"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/status", ""), &before)
	if before.LastCycle != nil {
		t.Fatalf("no cycle has run yet: %+v", before.LastCycle)
	}

	resp := f.do(t, http.MethodPost, "/api/probe", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var rep scheduler.CycleReport
	decode(t, resp, &rep)
	if rep.Domains != 1 || rep.Samples != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	var samples []domain.LatencySample
	decode(t, f.do(t, http.MethodGet, "/api/latency?days=1", ""), &samples)
	if len(samples) != 1 || samples[0].LatencyMS != 12.5 {
		t.Fatalf("sample not visible: %+v", samples)
	}

	var after struct {
		LastCycle *scheduler.CycleReport `json:"last_cycle"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/status", ""), &after)
	if after.LastCycle == nil || after.LastCycle.Samples != 1 {
		t.Fatalf("status should carry last cycle: %+v", after.LastCycle)
	}

	var counters map[string]stats.Counters
	decode(t, f.do(t, http.MethodGet, "/api/stats", ""), &counters)
	if counters["a.test"].OK != 1 {
		t.Fatalf("stats: %+v", counters)
	}
}

func TestHealthzAndCORS(t *testing.T) {
	f := setup(t)
	if resp := f.do(t, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("CORS header missing")
	}
}

func TestRateLimitApplied(t *testing.T) {
	store := memory.New()
	srv := NewServer(zap.NewNop(), store, nil, nil)
	ts := httptest.NewServer(srv.Router(Options{PublicRPM: 60, PublicBurst: 1}))
	defer ts.Close()

	r1, _ := http.Get(ts.URL + "/api/domains")
	r1.Body.Close()
	r2, _ := http.Get(ts.URL + "/api/domains")
	r2.Body.Close()
	if r1.StatusCode != http.StatusOK || r2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("want 200 then 429, got %d then %d", r1.StatusCode, r2.StatusCode)
	}

	// healthz is outside the limiter
	r3, _ := http.Get(ts.URL + "/healthz")
	r3.Body.Close()
	if r3.StatusCode != http.StatusOK {
		t.Fatalf("healthz limited: %d", r3.StatusCode)
	}

	// no scheduler wired
	r4, _ := http.Post(ts.URL+"/api/probe", "application/json", nil)
	r4.Body.Close()
	if r4.StatusCode != http.StatusTooManyRequests && r4.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("probe without scheduler: %d", r4.StatusCode)
	}
}

func TestLatency_HugeWindowReturnsAllHistory(t *testing.T) {
	f := setup(t)
	_ = f.store.AppendSample(context.Background(), domain.LatencySample{
		Domain: "a.test", LatencyMS: 3, Timestamp: time.Now().UTC().Add(-time.Hour),
	})

	for _, q := range []string{"106751", "106752", "200000", strconv.Itoa(domain.MaxWindowDays + 1)} {
		resp := f.do(t, http.MethodGet, "/api/latency?days="+q, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("days=%s: want 200, got %d", q, resp.StatusCode)
		}
		var got []domain.LatencySample
		decode(t, resp, &got)
		if len(got) != 1 {
			t.Fatalf("days=%s: want 1 sample, got %d", q, len(got))
		}
	}
}

// ctxCycles captures the context a manual cycle runs with.
type ctxCycles struct {
	ctx context.Context
}

func (c *ctxCycles) RunCycle(ctx context.Context) (scheduler.CycleReport, error) {
	c.ctx = ctx
	return scheduler.CycleReport{Domains: 1, Samples: 1}, nil
}

func (c *ctxCycles) LastCycle() (scheduler.CycleReport, bool) { return scheduler.CycleReport{}, false }

func TestManualCycle_OutlivesClientDisconnect(t *testing.T) {
	cyc := &ctxCycles{}
	srv := NewServer(zap.NewNop(), memory.New(), cyc, nil)
	srv.CycleTimeout = time.Minute

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel() // client already gone
	req := httptest.NewRequest(http.MethodPost, "/api/probe", nil).WithContext(reqCtx)
	rr := httptest.NewRecorder()
	srv.Router(Options{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	if cyc.ctx == nil {
		t.Fatal("cycle did not run")
	}
	// the handler has returned, so its deferred cancel fired; check the
	// deadline instead of Err
	dl, ok := cyc.ctx.Deadline()
	if !ok || time.Until(dl) > time.Minute {
		t.Fatalf("cycle context should carry the cycle timeout, deadline=%v ok=%v", dl, ok)
	}
}

func TestManualCycle_IgnoresCancelledRequest(t *testing.T) {
	var sawErr error
	cyc := cyclesFunc(func(ctx context.Context) (scheduler.CycleReport, error) {
		sawErr = ctx.Err()
		return scheduler.CycleReport{}, nil
	})
	srv := NewServer(zap.NewNop(), memory.New(), cyc, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/probe", nil).WithContext(reqCtx)
	srv.Router(Options{}).ServeHTTP(httptest.NewRecorder(), req)

	if sawErr != nil {
		t.Fatalf("cycle saw cancelled context: %v", sawErr)
	}
}

type cyclesFunc func(ctx context.Context) (scheduler.CycleReport, error)

func (f cyclesFunc) RunCycle(ctx context.Context) (scheduler.CycleReport, error) { return f(ctx) }
func (f cyclesFunc) LastCycle() (scheduler.CycleReport, bool) { return scheduler.CycleReport{}, false }
