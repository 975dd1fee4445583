package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/goRenew/internal/testauthority"
)

func newGinRouter(gate gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/data", gate, func(c *gin.Context) {
		v, ok := c.Get(GinContextKey)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, v.(*Auth).PrincipalID)
	})
	return r
}

func TestGinGatePasses(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	signIn(t, m, auth, "alice", -time.Minute)

	r := newGinRouter(GinGate(m, Options{Principal: headerPrincipal}))
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Principal", "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one renewal, got %d", auth.Calls())
	}
}

func TestGinGateDenies(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	signIn(t, m, auth, "alice", -time.Minute)
	auth.SetMode(testauthority.ModeFail)

	r := newGinRouter(GinGate(m, Options{Principal: headerPrincipal}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Principal", "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "5" {
		t.Fatalf("expected 503 with Retry-After, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	req = httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}
}
