// Package server exposes health, metrics, manual sweep triggers and the run
// journal over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"paysweep/internal/config"
	"paysweep/internal/hmacauth"
	"paysweep/internal/journal"
	"paysweep/internal/ledger"
	"paysweep/internal/scheduler"
	"paysweep/internal/sweep"
)

const maxListLimit = 500

// Sweeper runs one sweep on demand. Implemented by *scheduler.Scheduler.
type Sweeper interface {
	RunOnce(ctx context.Context) (sweep.Result, error)
}

type Server struct {
	sweeper     Sweeper
	journal     journal.Store
	hmac        *hmacauth.Verifier
	metrics     *Metrics
	log         logrus.FieldLogger
	router      *mux.Router
	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg config.ServiceConfig, sw Sweeper, store journal.Store, l ledger.Ledger, metrics *Metrics, log logrus.FieldLogger) *Server {
	s := &Server{
		sweeper: sw,
		journal: store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.HMACSecret,
			MaxSkew: cfg.HMACClockSkew,
		},
		metrics: metrics,
		log:     log,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := l.(ledger.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	api.HandleFunc("/sweeps", s.handleListSweeps).Methods(http.MethodGet)
	api.HandleFunc("/sweeps/latest", s.handleLatestSweep).Methods(http.MethodGet)
	// The trigger can submit transactions, so it is only served behind a signature.
	if cfg.HMACSecret != "" {
		api.Handle("/sweeps", s.hmac.Middleware(http.HandlerFunc(s.handleTriggerSweep))).Methods(http.MethodPost)
	} else {
		log.Warn("TRIGGER_HMAC_SECRET not set, manual sweep trigger disabled")
	}
	s.router = r

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type triggerResponse struct {
	Result *sweep.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleTriggerSweep runs a sweep synchronously. The run outlives a client
// disconnect so partially submitted sweeps still reach the journal.
func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("request_id", r.Header.Get("X-Request-Id"))
	log.Info("manual sweep requested")

	res, err := s.sweeper.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrBusy):
			writeJSON(w, http.StatusConflict, triggerResponse{Error: err.Error()})
			return
		case errors.Is(err, sweep.ErrRead):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, triggerResponse{Result: &res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Result: &res})
}

func (s *Server) handleLatestSweep(w http.ResponseWriter, r *http.Request) {
	entry, err := s.journal.Latest(r.Context())
	if err != nil {
		http.Error(w, "journal unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "no sweeps recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "journal unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	var lastRun *time.Time
	if entry, err := s.journal.Latest(ctx); err == nil && entry != nil {
		lastRun = &entry.FinishedAt
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status  string      `json:"status"`
		RPC     interface{} `json:"rpc"`
		Journal interface{} `json:"journal"`
		LastRun *time.Time  `json:"last_run,omitempty"`
	}{
		Status:  status,
		RPC:     rpcInfo,
		Journal: dbInfo,
		LastRun: lastRun,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
