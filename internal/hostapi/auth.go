// Package hostapi exposes the Agent Loop's run_task/subscribe surface (§6)
// over an authenticated HTTP+WebSocket API for remote hosts.
package hostapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentcore/runtime/internal/ratelimit"
)

var (
	// ErrAuthDisabled is returned when no JWT secret is configured.
	ErrAuthDisabled = errors.New("hostapi: auth disabled (no jwt secret configured)")
	// ErrInvalidToken is returned for a missing, malformed, or expired bearer token.
	ErrInvalidToken = errors.New("hostapi: invalid or expired token")
)

// Claims identifies the caller permitted to drive run_task/subscribe.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the bearer tokens presented to the host API.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a TokenService with the given secret and token expiry.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for subject (an operator or service identity).
func (s *TokenService) Issue(subject string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("hostapi: subject is required")
	}

	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a bearer token, returning its subject.
func (s *TokenService) Verify(token string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// requireBearer is middleware gating every route behind a valid bearer token
// and, when limiter is non-nil, a per-subject rate limit (§6): each verified
// subject draws from its own token bucket so one noisy caller can't starve
// the others sharing this Server.
func requireBearer(tokens *TokenService, limiter *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		subject, err := tokens.Verify(tokenStr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if limiter != nil && !limiter.Allow(subject) {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", limiter.WaitTime(subject).Seconds()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		r.Header.Set("X-Agentcore-Subject", subject)
		next(w, r)
	}
}
