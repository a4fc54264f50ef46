package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/vns/internal/model"
)

// --- モック定義 ---

type mockSessionLoader struct {
	currentSessionFn func(ctx context.Context, id string) (*model.Session, error)
	calls            int
}

func (m *mockSessionLoader) CurrentSession(ctx context.Context, id string) (*model.Session, error) {
	m.calls++
	if m.currentSessionFn != nil {
		return m.currentSessionFn(ctx, id)
	}
	return nil, model.ErrSessionNotFound
}

func validLoader(id, userID string) *mockSessionLoader {
	return &mockSessionLoader{
		currentSessionFn: func(ctx context.Context, got string) (*model.Session, error) {
			if got != id {
				return nil, model.ErrSessionNotFound
			}
			return &model.Session{
				ID:        id,
				UserID:    userID,
				Email:     userID + "@example.com",
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsSession(t *testing.T) {
	mw := NewSessionMiddleware(validLoader("valid-session-id", "user-123"), CookieConfig{})

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
}

func TestSessionMiddleware_NoCookie_PassesAnonymous(t *testing.T) {
	loader := &mockSessionLoader{}
	mw := NewSessionMiddleware(loader, CookieConfig{})

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := SessionFromContext(r.Context()); ok {
			t.Error("expected no session in context")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Error("handler should be called")
	}
	if loader.calls != 0 {
		t.Errorf("loader calls = %d, want 0", loader.calls)
	}
}

func TestSessionMiddleware_UnknownSession_ClearsCookie(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLoader{}, CookieConfig{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); ok {
			t.Error("expected no session in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

func TestSessionMiddleware_LoaderError_Returns500(t *testing.T) {
	loader := &mockSessionLoader{
		currentSessionFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	mw := NewSessionMiddleware(loader, CookieConfig{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRequireSession_Anonymous_RedirectsToLogin(t *testing.T) {
	handler := RequireSession("/auth/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings/profile", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/login" {
		t.Errorf("Location = %q, want %q", loc, "/auth/login")
	}
}

func TestRequireSession_WithSession_Passes(t *testing.T) {
	handler := RequireSession("/auth/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/settings/profile", nil)
	req = req.WithContext(ContextWithSession(req.Context(), &model.Session{UserID: "u1"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequireSessionAPI_Anonymous_Returns401(t *testing.T) {
	handler := RequireSessionAPI()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRedirectIfAuthenticated(t *testing.T) {
	handler := RedirectIfAuthenticated("/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("ログイン済みはリダイレクト", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		req = req.WithContext(ContextWithSession(req.Context(), &model.Session{UserID: "u1"}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
			t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
		}
	})

	t.Run("未ログインはそのまま表示", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestSetSessionCookie_Attributes(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "abc", CookieConfig{Secure: true, MaxAge: 3600})

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Value != "abc" || !c.HttpOnly || !c.Secure || c.MaxAge != 3600 {
		t.Errorf("cookie = %+v", c)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}
