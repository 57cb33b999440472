package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/torn-tools/bazaarwatch/internal/store"
)

// API serves the read-only status endpoints next to a running orchestrator.
type API struct {
	orch  *Orchestrator
	store store.Store
	log   *zap.Logger
}

// NewAPI creates the status API over a running orchestrator.
func NewAPI(orch *Orchestrator, st store.Store) *API {
	return &API{
		orch:  orch,
		store: st,
		log:   zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the chi router with all status routes mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/targets", a.handleTargets)
		r.Get("/alerts", a.handleAlerts)
		r.Get("/targets/{id}/transactions", a.handleTransactions)
	})
	return r
}

// Serve runs the HTTP server until the context is canceled, then shuts down
// gracefully.
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("status API listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.orch.Stats().Snapshot()

	targets, err := a.store.ListTargets(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	alerts24h, err := a.store.CountAlertsSince(r.Context(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"stats":          snap,
		"live_targets":   len(targets),
		"alerts_last_24": alerts24h,
	})
}

func (a *API) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := a.store.ListTargets(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, targets)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	alerts, err := a.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid actor id", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 50)

	txns, err := a.store.ListTransactions(r.Context(), actorID, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, txns)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("write response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.log.Error("request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
