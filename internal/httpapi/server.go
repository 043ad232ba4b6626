package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/latencymonitor/internal/domain"
	apimw "github.com/hamed0406/latencymonitor/internal/httpapi/middleware"
	"github.com/hamed0406/latencymonitor/internal/repo"
	"github.com/hamed0406/latencymonitor/internal/scheduler"
	"github.com/hamed0406/latencymonitor/internal/stats"
)

const (
	defaultDays         = 30
	defaultCycleTimeout = 5 * time.Minute
)

// Store is what the API reads and edits.
type Store interface {
	repo.DomainStore
	repo.SampleStore
}

// Cycles triggers and reports probe cycles.
type Cycles interface {
	RunCycle(ctx context.Context) (scheduler.CycleReport, error)
	LastCycle() (scheduler.CycleReport, bool)
}

type Server struct {
	Logger *zap.Logger
	Store  Store
	Cycles Cycles
	Stats  stats.Reader // optional
	// CycleTimeout bounds a manually triggered cycle. Zero means five minutes.
	CycleTimeout time.Duration
}

func NewServer(l *zap.Logger, st Store, c Cycles, sr stats.Reader) *Server {
	return &Server{Logger: l, Store: st, Cycles: c, Stats: sr}
}

// Options configure the router's outer middleware.
type Options struct {
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
}

func (s *Server) Router(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(apimw.AccessLog(s.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(opts.PublicRPM, opts.PublicBurst))

		r.Get("/latency", s.handleLatency)
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)

		r.Get("/domains", s.handleListDomains)
		r.Post("/domains", s.handleAddDomain)
		r.Delete("/domains/{name}", s.handleRemoveDomain)

		r.Post("/probe", s.handleProbe)
	})

	return r
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	days := defaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		// larger windows cannot be represented; they already cover all history
		days = min(n, domain.MaxWindowDays)
	}
	samples, err := s.Store.QuerySamples(r.Context(), domain.Days(days))
	if err != nil {
		s.Logger.Error("query_samples_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if samples == nil {
		samples = []domain.LatencySample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

type statusResponse struct {
	Status    string                 `json:"status"`
	Domains   []string               `json:"domains"`
	LastCycle *scheduler.CycleReport `json:"last_cycle"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ds, err := s.Store.ListDomains(r.Context())
	if err != nil {
		s.Logger.Error("list_domains_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	resp := statusResponse{Status: "ok", Domains: make([]string, 0, len(ds))}
	for _, d := range ds {
		resp.Domains = append(resp.Domains, d.Name)
	}
	if s.Cycles != nil {
		if last, ok := s.Cycles.LastCycle(); ok {
			resp.LastCycle = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	ds, err := s.Store.ListDomains(r.Context())
	if err != nil {
		s.Logger.Error("list_domains_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if ds == nil {
		ds = []domain.TrackedDomain{}
	}
	writeJSON(w, http.StatusOK, ds)
}

type addPayload struct {
	Name string `json:"name"`
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	d, err := s.Store.AddDomain(r.Context(), p.Name)
	switch {
	case errors.Is(err, domain.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case errors.Is(err, domain.ErrDuplicateDomain):
		writeError(w, http.StatusConflict, "domain already exists")
		return
	case err != nil:
		s.Logger.Error("add_domain_error", zap.String("name", p.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not add")
		return
	}

	s.Logger.Info("added_domain", zap.String("name", d.Name), zap.Int64("id", d.ID))
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := s.Store.RemoveDomain(r.Context(), name)
	if err != nil {
		s.Logger.Error("remove_domain_error", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not remove")
		return
	}
	if ok {
		s.Logger.Info("removed_domain", zap.String("name", name))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	// a client that disconnects must not cancel probes or store writes mid-cycle
	timeout := s.CycleTimeout
	if timeout <= 0 {
		timeout = defaultCycleTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	rep, err := s.Cycles.RunCycle(ctx)
	if err != nil {
		s.Logger.Warn("manual_cycle_error", zap.Error(err))
		if rep.Domains == 0 && rep.Error != "" {
			writeJSON(w, http.StatusServiceUnavailable, rep)
			return
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]stats.Counters{})
		return
	}
	c, err := s.Stats.Counters(r.Context())
	if err != nil {
		s.Logger.Warn("stats_read_error", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
