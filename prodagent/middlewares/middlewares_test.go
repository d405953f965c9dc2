package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodagent/prodagent/utils/logging"
)

const secret = "test-secret"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context()) + "|" + DeviceID(r.Context())))
	})
}

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware(secret)(echoUser())

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"anonymous", "", http.StatusOK, "|"},
		{"subject claim", "Bearer " + sign(t, jwt.MapClaims{"sub": "user-7"}, secret), http.StatusOK, "user-7|"},
		{"numeric user_id", "Bearer " + sign(t, jwt.MapClaims{"user_id": 42}, secret), http.StatusOK, "42|"},
		{"wrong key", "Bearer " + sign(t, jwt.MapClaims{"sub": "x"}, "other"), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}, secret), http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rr.Body.String())
			} else {
				assert.Contains(t, rr.Body.String(), `"error"`)
			}
		})
	}
}

func TestAuthMiddlewareWithoutSecretIgnoresTokens(t *testing.T) {
	h := AuthMiddleware("")(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "|", rr.Body.String())
}

func TestDeviceMiddleware(t *testing.T) {
	h := DeviceMiddleware(false)(echoUser())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DeviceCookie, cookies[0].Name)
	_, err := uuid.Parse(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "|"+cookies[0].Value, rr.Body.String())

	// an existing cookie is reused and not reissued
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Result().Cookies())
	assert.Equal(t, "|"+cookies[0].Value, rr.Body.String())

	// a tampered cookie is replaced
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: "not-a-uuid"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Len(t, rr.Result().Cookies(), 1)
	assert.NotEqual(t, "not-a-uuid", rr.Result().Cookies()[0].Value)
}

func TestRateLimiterPerKey(t *testing.T) {
	l := NewRateLimiter(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "devices do not share a budget")

	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("a"))
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	l := NewRateLimiter(5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(idleLimiter + time.Minute)
	l.Allow("b")
	assert.False(t, l.visitors.Has("a"))
	assert.True(t, l.visitors.Has("b"))
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	l := NewRateLimiter(1)
	h := DeviceMiddleware(false)(l.Middleware(echoUser()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: uuid.New().String()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware("http://localhost:5173, https://shop.example.com/")(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://shop.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestTraceMiddlewareUsesRequestID(t *testing.T) {
	var traceID, reqID string
	h := middleware.RequestID(TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.TraceID(r.Context())
		reqID = middleware.GetReqID(r.Context())
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, reqID)
	assert.Equal(t, reqID, traceID)

	TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.TraceID(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, traceID)
}
