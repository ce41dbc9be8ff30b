// Package server exposes the control surface: REST endpoints for
// uploads, resets and run history, static report downloads, and the
// realtime websocket that streams engine events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"masivos/internal/campaign"
	"masivos/internal/contacts"
	"masivos/internal/eventbus"
	"masivos/internal/scheduler"
	"masivos/internal/storage"
	logx "masivos/pkg/logx"
)

type Deps struct {
	Log logx.Logger
	Bus eventbus.Bus
	// RunCtx bounds campaign runs started from the control surface; it
	// must be the process lifecycle context, not a request context.
	RunCtx     context.Context
	Contacts   *contacts.Store
	Campaign   *campaign.Service
	Scheduler  *scheduler.Service
	History    storage.Store // may be nil
	UploadsDir string
	ReportsDir string
}

type Server struct {
	log        logx.Logger
	bus        eventbus.Bus
	runCtx     context.Context
	contacts   *contacts.Store
	campaign   *campaign.Service
	sched      *scheduler.Service
	history    storage.Store
	uploadsDir string
	reportsDir string

	httpSrv *http.Server
}

func New(deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	runCtx := deps.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Server{
		log:        log,
		bus:        deps.Bus,
		runCtx:     runCtx,
		contacts:   deps.Contacts,
		campaign:   deps.Campaign,
		sched:      deps.Scheduler,
		history:    deps.History,
		uploadsDir: deps.UploadsDir,
		reportsDir: deps.ReportsDir,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Post("/reset", s.handleReset)
	r.Post("/accounts/{id}/ledger/reset", s.handleLedgerReset)
	r.Get("/runs", s.handleRuns)
	r.Get("/ws", s.handleWS)

	fs := http.StripPrefix("/reports/", http.FileServer(http.Dir(s.reportsDir)))
	r.Get("/reports/*", fs.ServeHTTP)

	return r
}

// Start binds addr and serves until Shutdown. The error from a clean
// shutdown is swallowed.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", logx.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ---- middleware ----

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in http handler",
					logx.String("path", r.URL.Path), logx.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/ws" {
			return
		}
		s.log.Debug("http request",
			logx.String("method", r.Method), logx.String("path", r.URL.Path),
			logx.Duration("elapsed", time.Since(start)))
	})
}

// ---- json helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}
