package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(OwnerID(r.Context())))
	})
}

func serve(handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(recorder, request)
	return recorder
}

func TestAuthAcceptsJWTSubject(t *testing.T) {
	handler := Auth(AuthConfig{JWTSecret: testSecret, Logger: zerolog.Nop()})(ownerEcho())

	request := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	request.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-42", time.Now().Add(time.Hour)))
	recorder := serve(handler, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "user-42", recorder.Body.String())
}

func TestAuthRejectsBadTokens(t *testing.T) {
	handler := Auth(AuthConfig{JWTSecret: testSecret, StaticToken: "static"})(ownerEcho())

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + signToken(t, "other", "user-42", time.Now().Add(time.Hour)),
		"expired":      "Bearer " + signToken(t, testSecret, "user-42", time.Now().Add(-time.Hour)),
		"no subject":   "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour)),
		"garbage":      "Bearer not-a-jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
			if header != "" {
				request.Header.Set("Authorization", header)
			}
			recorder := serve(handler, request)
			assert.Equal(t, http.StatusUnauthorized, recorder.Code)
			assert.Contains(t, recorder.Body.String(), `"unauthorized"`)
			assert.Contains(t, recorder.Body.String(), recorder.Header().Get("X-Request-Id"))
		})
	}
}

func TestAuthStaticTokenUsesOwnerHeader(t *testing.T) {
	handler := Auth(AuthConfig{StaticToken: "static"})(ownerEcho())

	request := httptest.NewRequest(http.MethodGet, "/v1/credits?access_token=static", nil)
	request.Header.Set(OwnerHeader, "owner-7")
	recorder := serve(handler, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "owner-7", recorder.Body.String())
}

func TestAuthOpenModeAndPublicPaths(t *testing.T) {
	open := Auth(AuthConfig{})(ownerEcho())
	recorder := serve(open, httptest.NewRequest(http.MethodGet, "/v1/projects", nil))
	assert.Equal(t, DefaultOwner, recorder.Body.String())

	locked := Auth(AuthConfig{JWTSecret: testSecret})(ownerEcho())
	recorder = serve(locked, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
		request.RemoteAddr = "10.0.0.1:5000"
		codes = append(codes, serve(handler, request).Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	assert.Equal(t, http.StatusNoContent, serve(handler, other).Code)

	limiter.forgetIdle(time.Now().Add(time.Hour))
	assert.Empty(t, limiter.visitors)
}

func TestTraceKeepsFlusher(t *testing.T) {
	var flushable bool
	handler := Trace(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusAccepted)
	}))
	recorder := serve(handler, httptest.NewRequest(http.MethodGet, "/v1/projects/x/events", nil))
	assert.True(t, flushable)
	assert.Equal(t, http.StatusAccepted, recorder.Code)
}
