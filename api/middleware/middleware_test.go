package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/config"
)

func pingRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestAuth_RejectsMissingAndUnknownKey(t *testing.T) {
	r := pingRouter(Auth([]string{"good-key"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown key: status = %d, want 401", w.Code)
	}
}

func TestAuth_AcceptsBothHeaderStyles(t *testing.T) {
	r := pingRouter(Auth([]string{"good-key"}))

	for name, set := range map[string]func(*http.Request){
		"x-api-key": func(req *http.Request) { req.Header.Set("X-API-Key", "good-key") },
		"bearer":    func(req *http.Request) { req.Header.Set("Authorization", "Bearer good-key") },
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		set(req)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", name, w.Code)
		}
	}
}

func TestAuth_OpenWhenNoKeysConfigured(t *testing.T) {
	r := pingRouter(Auth(nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestRateLimit_ExhaustsBurst(t *testing.T) {
	r := pingRouter(RateLimit(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	codes := make(map[int]int)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[w.Code]++
	}
	if codes[http.StatusOK] != 2 || codes[http.StatusTooManyRequests] != 1 {
		t.Errorf("codes = %v, want burst of 2 then 429", codes)
	}
}
