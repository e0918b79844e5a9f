package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	ownerIDContextKey contextKey = "owner_id"

	// OwnerHeader names the owner when the static API token is used.
	OwnerHeader  = "X-Owner-Id"
	DefaultOwner = "local"
)

type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens whose subject is the owner id.
	JWTSecret string
	// StaticToken is accepted for service-to-service and local use; the owner
	// then comes from OwnerHeader.
	StaticToken string
	Logger      zerolog.Logger
}

// Auth resolves the owner of every /v1/ request. With neither a secret nor a
// static token configured, requests are trusted and OwnerHeader is honored.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			owner, err := authenticate(cfg, r)
			if err != nil {
				cfg.Logger.Debug().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("authentication rejected")
				writeUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), owner)))
		})
	}
}

func authenticate(cfg AuthConfig, r *http.Request) (string, error) {
	if cfg.JWTSecret == "" && cfg.StaticToken == "" {
		return headerOwner(r), nil
	}

	token := bearerToken(r)
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	if cfg.StaticToken != "" && token == cfg.StaticToken {
		return headerOwner(r), nil
	}
	if cfg.JWTSecret == "" {
		return "", errors.New("invalid token")
	}
	return ownerFromJWT(token, cfg.JWTSecret)
}

func ownerFromJWT(tokenString, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}
	owner := strings.TrimSpace(claims.Subject)
	if owner == "" {
		return "", errors.New("token has no subject")
	}
	return owner, nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients that cannot set headers.
func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(authorization, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func headerOwner(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
		return owner
	}
	return DefaultOwner
}

func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDContextKey, ownerID)
}

// OwnerID returns the authenticated owner, or "" outside authenticated routes.
func OwnerID(ctx context.Context) string {
	value, _ := ctx.Value(ownerIDContextKey).(string)
	return value
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
}
