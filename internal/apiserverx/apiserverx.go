// Package apiserverx exposes a minimal read-only status HTTP surface over
// the engine's in-memory state (health check, queue, scored candidates). It is
// ambient observability infrastructure, disabled unless STATUS_LISTEN_ADDR
// is configured, and its absence never affects any CLI exit code.
package apiserverx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kamino-liq/liqengine/internal/domain"
)

// Config configures the status HTTP surface.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// QueueView is the narrow read-only view the server needs into the
// scheduler queue.
type QueueView interface {
	Sorted() []domain.FlashloanPlan
	Len() int
}

// CandidateView is the narrow read-only view into the indexer's scored
// candidates.
type CandidateView interface {
	GetScoredObligations(n int) []domain.ScoredObligation
}

// Service serves /healthz, /queue, and /candidates as read-only JSON.
type Service struct {
	cfg    Config
	logger *slog.Logger
	queue  QueueView
	cand   CandidateView

	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

// New builds a Service. queue/cand may be nil, in which case their
// endpoints report an empty view rather than erroring.
func New(cfg Config, logger *slog.Logger, queue QueueView, cand CandidateView) *Service {
	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		queue:            queue,
		cand:             cand,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// gracefully shuts down.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/candidates", s.handleCandidates)

	handler := s.withCORS(mux)
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("status-server started", "listen_addr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.logger.Info("status-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown status-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type queueResponse struct {
	Items []domain.FlashloanPlan `json:"items"`
	Count int                    `json:"count"`
}

type candidatesResponse struct {
	Items []domain.ScoredObligation `json:"items"`
	Limit int                       `json:"limit"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	if s.queue == nil {
		s.respondJSON(w, http.StatusOK, queueResponse{Items: []domain.FlashloanPlan{}})
		return
	}
	items := s.queue.Sorted()
	s.respondJSON(w, http.StatusOK, queueResponse{Items: items, Count: len(items)})
}

func (s *Service) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	limit, err := parseOptionalInt(r, "limit", 50)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cand == nil {
		s.respondJSON(w, http.StatusOK, candidatesResponse{Items: []domain.ScoredObligation{}, Limit: limit})
		return
	}
	s.respondJSON(w, http.StatusOK, candidatesResponse{Items: s.cand.GetScoredObligations(limit), Limit: limit})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}
			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
