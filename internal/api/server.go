package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/app"
	"github.com/sawpanic/marketmode/internal/domain"
)

// Server exposes the operator control surface over HTTP. It binds loopback
// by default; this is an operator tool, not a public API.
type Server struct {
	svc    *app.Service
	router *mux.Router
	http   *http.Server
}

func NewServer(svc *app.Service, addr string, gatherer prometheus.Gatherer) *Server {
	if addr == "" {
		addr = "127.0.0.1:8087"
	}
	s := &Server{svc: svc, router: mux.NewRouter()}
	s.routes(gatherer)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.Use(requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/symbols", s.handleListSymbols).Methods(http.MethodGet)
	s.router.HandleFunc("/symbols", s.handleAddSymbols).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols", s.handleRemoveSymbols).Methods(http.MethodDelete)
	s.router.HandleFunc("/symbols/{symbol}", s.handleSymbolStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/symbols/{symbol}/bias", s.handleSetBias).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols/{symbol}/enabled", s.handleSetEnabled).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols/{symbol}/collect", s.handleCollect).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols/{symbol}/vote", s.handleVote).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols/{symbol}/trim", s.handleTrim).Methods(http.MethodPost)
	s.router.HandleFunc("/symbols/{symbol}/decisions", s.handleDecisionHistory).Methods(http.MethodGet)

	s.router.HandleFunc("/scheduler", s.handleSchedulerConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/scheduler/{action}", s.handleSchedulerAction).Methods(http.MethodPost)
}

// ListenAndServe blocks until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("control server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		log.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidBias), errors.Is(err, domain.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCollectionFailed):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageCorrupt):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.svc.ListStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	if statuses == nil {
		statuses = []app.SymbolStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleAddSymbols(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	added, err := s.svc.AddSymbols(req.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}
	if added == nil {
		added = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"added": added})
}

func (s *Server) handleRemoveSymbols(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	res, err := s.svc.RemoveSymbols(req.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSymbolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSetBias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bias string `json:"bias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.svc.SetBias(mux.Vars(r)["symbol"], req.Bias); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bias": req.Bias})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.svc.SetEnabled(mux.Vars(r)["symbol"], req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	sample, err := s.svc.CollectNow(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	decision, err := s.svc.VoteNow(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepHours int `json:"keep_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.KeepHours <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "keep_hours must be positive"})
		return
	}
	keepAfter := time.Now().UTC().Add(-time.Duration(req.KeepHours) * time.Hour)
	dropped, err := s.svc.TrimSamples(mux.Vars(r)["symbol"], keepAfter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (s *Server) handleDecisionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	decisions, err := s.svc.DecisionHistory(r.Context(), mux.Vars(r)["symbol"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if decisions == nil {
		decisions = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SchedulerConfig())
}

func (s *Server) handleSchedulerAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value int `json:"value"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
	}
	action := mux.Vars(r)["action"]
	if err := s.svc.SchedulerControl(action, req.Value); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown action %q", action)})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.SchedulerConfig())
}
