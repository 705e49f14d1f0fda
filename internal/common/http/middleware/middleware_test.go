package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgeflow/internal/auth"
	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type fakeAuthenticator struct {
	token string
	info  auth.UserInfo
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, raw string) (auth.UserInfo, error) {
	if raw != f.token {
		return auth.UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return f.info, nil
}

func newRouter(authenticator Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceContext())
	r.GET("/me", Auth(authenticator), func(c *gin.Context) {
		id, ok := UserID(c)
		ctxID, _ := c.Request.Context().Value(contextkey.UserID).(int64)
		if !ok || ctxID != id {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, "%d", id)
	})
	return r
}

func TestAuthSetsUser(t *testing.T) {
	r := newRouter(&fakeAuthenticator{token: "good", info: auth.UserInfo{ID: 42, Role: "user"}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "42" {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Trace-Id") == "" || w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected trace headers")
	}
}

func TestAuthRejects(t *testing.T) {
	r := newRouter(&fakeAuthenticator{token: "good", info: auth.UserInfo{ID: 42}})
	for _, header := range []string{"", "Bearer bad", "Basic good", "good"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestAuthWithoutAuthenticator(t *testing.T) {
	r := newRouter(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceContext())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "%v", c.Request.Context().Value(contextkey.TraceID))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-Id", "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "trace-1" || w.Header().Get("X-Trace-Id") != "trace-1" {
		t.Fatalf("expected incoming trace id, got %q", w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultCORSConfig()
	cfg.Enabled = true
	cfg.AllowedOrigins = []string{"https://editor.example.com"}
	r := gin.New()
	r.Use(CORS(cfg))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := httptest.NewRequest(http.MethodOptions, "/x", nil)
	preflight.Header.Set("Origin", "https://editor.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, preflight)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://editor.example.com" {
		t.Fatalf("unexpected preflight response: %d %v", w.Code, w.Header())
	}
	if w.Header().Get("Access-Control-Expose-Headers") == "" {
		t.Fatalf("expected exposed headers")
	}

	denied := httptest.NewRequest(http.MethodOptions, "/x", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, denied)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", w.Code)
	}
}
