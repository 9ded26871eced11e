// Package mw contains HTTP middleware for the scraper service.
package mw

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
)

// Auth methods recorded on UserClaims.
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)

// UserClaims represents the authenticated caller from either auth source.
type UserClaims struct {
	Subject string
	Method  string
	// Scopes come from the JWT "scope" claim. API keys hold every scope.
	Scopes []string
}

// HasScope checks if the caller has a specific scope.
// Supports wildcard patterns with trailing asterisk (e.g., "scrape_*").
func (c *UserClaims) HasScope(pattern string) bool {
	if c == nil {
		return false
	}
	if c.Method == MethodAPIKey {
		return true
	}

	if strings.HasSuffix(pattern, "_*") {
		prefix := strings.TrimSuffix(pattern, "*")
		for _, s := range c.Scopes {
			if strings.HasPrefix(s, prefix) {
				return true
			}
		}
		return false
	}

	for _, s := range c.Scopes {
		if s == pattern {
			return true
		}
	}
	return false
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys are accepted in X-API-Key or as a bearer token.
	APIKeys []string

	// JWTSecret validates HS256 bearer tokens (optional).
	JWTSecret string

	// RequiredScope must be held by JWT callers (optional).
	RequiredScope string

	// Logger for auth events
	Logger *slog.Logger
}

// Auth returns authentication middleware that supports:
// 1. Static API keys (X-API-Key header or Authorization: Bearer <key>)
// 2. HS256 JWTs signed with JWTSecret
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := hashKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-API-Key")
			if token == "" {
				token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			var claims *UserClaims
			if matchAPIKey(keys, token) {
				claims = &UserClaims{Subject: keySubject(token), Method: MethodAPIKey}
			} else if cfg.JWTSecret != "" {
				var err error
				claims, err = validateJWT(token, cfg.JWTSecret)
				if err != nil {
					if cfg.Logger != nil {
						cfg.Logger.Debug("JWT validation failed", "error", err)
					}
					writeAuthError(w, http.StatusUnauthorized, "invalid token")
					return
				}
			} else {
				writeAuthError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			if cfg.RequiredScope != "" && !claims.HasScope(cfg.RequiredScope) {
				writeAuthError(w, http.StatusForbidden, "missing scope "+cfg.RequiredScope)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			ctx = logging.WithSubject(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type tokenClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// validateJWT parses an HS256 token and converts it to UserClaims.
func validateJWT(tokenString, secret string) (*UserClaims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if tc.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &UserClaims{
		Subject: tc.Subject,
		Method:  MethodJWT,
		Scopes:  strings.Fields(tc.Scope),
	}, nil
}

// hashKeys digests the keys so comparisons run over equal-length inputs.
func hashKeys(keys []string) [][32]byte {
	out := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, sha256.Sum256([]byte(k)))
		}
	}
	return out
}

func matchAPIKey(keys [][32]byte, token string) bool {
	sum := sha256.Sum256([]byte(token))
	matched := 0
	for i := range keys {
		matched |= subtle.ConstantTimeCompare(keys[i][:], sum[:])
	}
	return matched == 1
}

// keySubject identifies an API key in logs without revealing it.
func keySubject(key string) string {
	if len(key) > 4 {
		key = key[:4]
	}
	return "key:" + key + "..."
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Errors
var (
	ErrMissingSubject = &AuthError{Message: "token has no subject"}
)

// AuthError represents an authentication error.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
