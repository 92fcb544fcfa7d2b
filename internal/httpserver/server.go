package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blackmichael/drops-backend/internal/config"
	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/blackmichael/drops-backend/internal/realtime"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the application services exposed over HTTP.
type Services struct {
	Drops    *domain.DropService
	Accounts *domain.AccountService
	Chat     *domain.ChatService
	Realtime *realtime.Handler
	DB       Pinger
}

// Server is the HTTP server for the drops API.
type Server struct {
	svc        Services
	logger     *slog.Logger
	metrics    *metrics.Metrics
	auth       *authenticator
	limiter    *userLimiter
	validate   *validator.Validate
	httpServer *http.Server
}

// NewServer creates a new HTTP server with the given services.
func NewServer(cfg *config.Config, svc Services, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		svc:      svc,
		logger:   logger,
		metrics:  m,
		auth:     newAuthenticator(cfg.JWTSecret),
		limiter:  newUserLimiter(rate.Limit(cfg.UnlockRatePerSecond), cfg.UnlockBurst),
		validate: validator.New(),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler. It is exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withLogging)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.authenticated(s.handleWebSocket)).Methods(http.MethodGet)

	r.HandleFunc("/drops", s.authenticated(s.handleCreateDrop)).Methods(http.MethodPost)
	r.HandleFunc("/drops/mine", s.authenticated(s.handleListMine)).Methods(http.MethodGet)
	r.HandleFunc("/drops/shared", s.authenticated(s.handleListShared)).Methods(http.MethodGet)
	r.HandleFunc("/drops/nearby", s.authenticated(s.handleListNearby)).Methods(http.MethodGet)
	r.HandleFunc("/drops/{id}", s.authenticated(s.handleGetDrop)).Methods(http.MethodGet)
	r.HandleFunc("/drops/{id}", s.authenticated(s.handleDeleteDrop)).Methods(http.MethodDelete)
	r.HandleFunc("/drops/{id}/share", s.authenticated(s.handleShareDrop)).Methods(http.MethodPost)
	r.HandleFunc("/drops/{id}/unlock", s.authenticated(s.limited(s.handleUnlock))).Methods(http.MethodPost)
	r.HandleFunc("/drops/{id}/check-unlock", s.authenticated(s.limited(s.handleCheckUnlock))).Methods(http.MethodPost)

	r.HandleFunc("/me", s.authenticated(s.handleUpdateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", s.authenticated(s.handleGetUser)).Methods(http.MethodGet)
	r.HandleFunc("/friends", s.authenticated(s.handleListFriends)).Methods(http.MethodGet)
	r.HandleFunc("/friends/invite", s.authenticated(s.handleInviteFriend)).Methods(http.MethodPost)
	r.HandleFunc("/friends/accept", s.authenticated(s.handleAcceptFriend)).Methods(http.MethodPost)
	r.HandleFunc("/friends/unfriend", s.authenticated(s.handleUnfriend)).Methods(http.MethodPost)
	r.HandleFunc("/friends/requests", s.authenticated(s.handleListFriendRequests)).Methods(http.MethodGet)
	r.HandleFunc("/friends/requests/delete", s.authenticated(s.handleDeclineFriend)).Methods(http.MethodPost)
	r.HandleFunc("/notifications/token", s.authenticated(s.handleRegisterDevice)).Methods(http.MethodPost)
	r.HandleFunc("/notifications/unregister-device", s.authenticated(s.handleUnregisterDevice)).Methods(http.MethodPost)

	r.HandleFunc("/conversations", s.authenticated(s.handleCreateConversation)).Methods(http.MethodPost)
	r.HandleFunc("/conversations", s.authenticated(s.handleListConversations)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", s.authenticated(s.handleGetConversation)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/leave", s.authenticated(s.handleLeaveConversation)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", s.authenticated(s.handleSendMessage)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", s.authenticated(s.handleListMessages)).Methods(http.MethodGet)

	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.DB != nil {
		if err := s.svc.DB.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	s.svc.Realtime.Serve(w, r, userID)
}

// decode reads a JSON body into the struct dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// writeDomainError maps a service error to a response. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
		writeError(w, status, kind, "internal error")
		return
	}
	writeError(w, status, kind, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrInvalidLocation):
		return http.StatusBadRequest, "InvalidLocation"
	case errors.Is(err, domain.ErrInvalidContentLocation):
		return http.StatusInternalServerError, "InvalidContentLocation"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Conflict"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}
