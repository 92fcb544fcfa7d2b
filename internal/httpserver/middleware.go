package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-user limiter map; it is reset when exceeded.
const maxLimiters = 10000

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// Claims are the bearer token claims. UserID falls back to the subject.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{secret: []byte(secret)}
}

// userID validates an HS256 token and returns the user it was issued to.
func (a *authenticator) userID(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", errors.New("token has no user")
}

// IssueToken signs an HS256 token for userID. Used by tools and tests.
func IssueToken(secret, userID string) (string, error) {
	claims := Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on a WebSocket handshake.
	return r.URL.Query().Get("token")
}

func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		userID, err := s.auth.userID(token)
		if err != nil {
			s.logger.Warn("rejected token", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		next(w, r, userID)
	}
}

type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newUserLimiter(r rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *userLimiter) allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) limited(next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		if !s.limiter.allow(userID) {
			s.logger.Warn("unlock rate limit exceeded", "user_id", userID, "path", r.URL.Path)
			s.metrics.UnlockAttempt("rate_limited")
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many unlock attempts, slow down")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tmpl, err := cr.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		done := s.metrics.RequestStarted()
		m := httpsnoop.CaptureMetrics(next, w, r)
		done()

		s.metrics.ObserveRequest(r.Method, route, m.Code, m.Duration)
		s.logger.Info("http request",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}
