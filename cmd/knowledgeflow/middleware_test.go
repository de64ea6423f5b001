package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/api/handlers"
	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// echoUser 返回上下文中的用户身份
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	userID, _ := types.UserID(r.Context())
	_, _ = w.Write([]byte(userID))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *handlers.ErrorInfo {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_OrderAndRequestID(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestIDFromContext(r.Context())))
	})

	handler := Chain(inner, mark("a"), RequestID(), mark("b"))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-ID", "client-supplied")
	w = serve(handler, r)
	assert.Equal(t, "client-supplied", w.Body.String())
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), decodeError(t, w).Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/chat/send", "/api/v1/chat/send"},
		{"/api/v1/conversations", "/api/v1/conversations"},
		{"/api/v1/conversations/0b6f3c2e-9a41-4a8e-b1f2-3d4c5e6f7a8b", "/api/v1/conversations/:id"},
		{"/api/v1/conversations/0b6f3c2e-9a41-4a8e-b1f2-3d4c5e6f7a8b/messages", "/api/v1/conversations/:id/messages"},
		{"/api/v1/conversations/42/messages", "/api/v1/conversations/:id/messages"},
		{"/unknown/path", "/unknown/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestAuth_Disabled(t *testing.T) {
	handler := Auth(config.AuthConfig{}, nil, zap.NewNop())(echoUser)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestAuth_APIKey(t *testing.T) {
	cfg := config.AuthConfig{APIKeys: []string{"secret-key"}}
	handler := Auth(cfg, []string{"/health"}, zap.NewNop())(echoUser)

	t.Run("valid header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		r.Header.Set("X-API-Key", "secret-key")
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "apikey:")
		assert.NotContains(t, w.Body.String(), "secret-key")
	})

	t.Run("invalid key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		r.Header.Set("X-API-Key", "wrong")
		w := serve(handler, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, string(types.ErrUnauthorized), decodeError(t, w).Code)
	})

	t.Run("missing key", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("query key rejected unless allowed", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws?api_key=secret-key", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		cfg := cfg
		cfg.AllowQueryAPIKey = true
		allowed := Auth(cfg, nil, zap.NewNop())(echoUser)
		w = serve(allowed, httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws?api_key=secret-key", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("skip path", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAuth_JWT(t *testing.T) {
	const secret = "jwt-test-secret"
	cfg := config.AuthConfig{JWT: config.JWTConfig{Secret: secret, Issuer: "knowledgeflow"}}
	handler := Auth(cfg, nil, zaptest.NewLogger(t))(echoUser)

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	request := func(token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		return serve(handler, r)
	}

	w := request(sign(jwt.MapClaims{
		"user_id": "user-42",
		"iss":     "knowledgeflow",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", w.Body.String())

	w = request(sign(jwt.MapClaims{
		"sub": "subject-7",
		"iss": "knowledgeflow",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "subject-7", w.Body.String())

	w = request(sign(jwt.MapClaims{
		"user_id": "user-42",
		"iss":     "knowledgeflow",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(sign(jwt.MapClaims{
		"user_id": "user-42",
		"iss":     "someone-else",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request("not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(ok)

	newReq := func(addr string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		r.RemoteAddr = addr
		return r
	}

	assert.Equal(t, http.StatusOK, serve(handler, newReq("10.0.0.1:1234")).Code)

	w := serve(handler, newReq("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	info := decodeError(t, w)
	assert.Equal(t, string(types.ErrRateLimited), info.Code)
	assert.True(t, info.Retryable)

	// 其他调用方不受影响
	assert.Equal(t, http.StatusOK, serve(handler, newReq("10.0.0.2:1234")).Code)

	// 已认证调用方按用户身份计数
	r := newReq("10.0.0.1:9999").WithContext(types.WithUserID(context.Background(), "user-1"))
	assert.Equal(t, http.StatusOK, serve(handler, r).Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(ok)

	for range 20 {
		assert.Equal(t, http.StatusOK, serve(handler, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := CORS([]string{"https://app.example.com"})(ok)

	preflight := func(origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/send", nil)
		r.Header.Set("Origin", origin)
		return serve(handler, r)
	}

	w := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	wildcard := CORS([]string{"*"})(ok)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	r.Header.Set("Origin", "https://any.example.com")
	w = serve(wildcard, r)
	assert.Equal(t, "https://any.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusRecorder_PassesThroughFlush(t *testing.T) {
	var flushed bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: {}\n\n"))
		f.Flush()
		flushed = true
	})

	handler := Chain(inner, RequestLogger(zap.NewNop()), OTelTracing())
	w := serve(handler, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", nil))

	assert.True(t, flushed)
	assert.True(t, w.Flushed)
	assert.Equal(t, "data: {}\n\n", w.Body.String())
}

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"https://app.example.com", "http://localhost:3000", "*", "plain.host"})
	assert.Equal(t, []string{"app.example.com", "localhost:3000", "*", "plain.host"}, got)
}
