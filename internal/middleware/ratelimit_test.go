package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/vns/internal/model"
)

func testRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func requestAs(method, path, userID, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if userID != "" {
		req = req.WithContext(ContextWithSession(req.Context(), &model.Session{UserID: userID}))
	}
	return req
}

func okHandler(count *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*count++
		w.WriteHeader(http.StatusOK)
	})
}

func TestGeneralMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 5, AuthRate: 1, AuthBurst: 1})

	count := 0
	handler := rl.GeneralMiddleware()(okHandler(&count))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/", "user-1", ""))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if count != 5 {
		t.Errorf("handler call count = %d, want 5", count)
	}
}

func TestGeneralMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 0.5, GeneralBurst: 1, AuthRate: 1, AuthBurst: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	count := 0
	handler := rl.GeneralMiddleware()(okHandler(&count))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/", "user-1", ""))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "/", "user-1", ""))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
	if count != 1 {
		t.Errorf("handler call count = %d, want 1", count)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 0.01, GeneralBurst: 1, AuthRate: 1, AuthBurst: 1})

	count := 0
	handler := rl.GeneralMiddleware()(okHandler(&count))

	for _, user := range []string{"user-a", "user-b"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/", user, ""))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", user, w.Code, http.StatusOK)
		}
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestGeneralMiddleware_AnonymousKeyedByIP(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 0.01, GeneralBurst: 1, AuthRate: 1, AuthBurst: 1})

	count := 0
	handler := rl.GeneralMiddleware()(okHandler(&count))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/", "", "10.0.0.1:1111"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "/", "", "10.0.0.1:2222"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "/", "", "10.0.0.2:1111"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_LimitsPostsOnly(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, AuthRate: 0.01, AuthBurst: 2})

	count := 0
	handler := rl.AuthMiddleware()(okHandler(&count))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/auth/login", "", "10.0.0.1:1"))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %d: status = %d", i, w.Code)
		}
	}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodPost, "/auth/login", "", "10.0.0.1:1"))
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("POST %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
	if rl.AuthLimiterCount() != 1 {
		t.Errorf("auth limiter count = %d, want 1", rl.AuthLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, AuthRate: 1, AuthBurst: 1, CleanupInterval: time.Hour})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	count := 0
	rl.GeneralMiddleware()(okHandler(&count)).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/", "user-1", ""))
	rl.AuthMiddleware()(okHandler(&count)).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodPost, "/auth/login", "", "10.0.0.1:1"))

	now = now.Add(3 * time.Hour)
	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 || rl.AuthLimiterCount() != 0 {
		t.Errorf("counts = %d, %d, want 0, 0", rl.GeneralLimiterCount(), rl.AuthLimiterCount())
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 120 || cfg.AuthBurst != 10 {
		t.Errorf("bursts = %d, %d", cfg.GeneralBurst, cfg.AuthBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v", cfg.CleanupInterval)
	}
}
