package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/metrics"
	"github.com/hitoshi/vns/internal/middleware"
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/profile"
	"github.com/hitoshi/vns/internal/store"
	"github.com/hitoshi/vns/internal/view"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn      func(ctx context.Context, name, email, password string) error
	signInFn      func(ctx context.Context, email, password string) (*model.Session, error)
	verifyEmailFn func(ctx context.Context, tokenHash string, typ backend.OTPType) (*model.Session, error)
	logoutFn      func(ctx context.Context, sessionID string) error
	profileFn     func(ctx context.Context, session *model.Session) (*model.Profile, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockAuthService) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAuthService) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (m *mockAuthService) SignUp(ctx context.Context, name, email, password string) error {
	m.record("SignUp")
	if m.signUpFn != nil {
		return m.signUpFn(ctx, name, email, password)
	}
	return nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	m.record("SignIn")
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, tokenHash string, typ backend.OTPType) (*model.Session, error) {
	m.record("VerifyEmail")
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, tokenHash, typ)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	m.record("Logout")
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) Profile(ctx context.Context, session *model.Session) (*model.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, session)
	}
	return nil, nil
}

type mockProfileService struct {
	updateFn func(ctx context.Context, session *model.Session, current model.Profile, in profile.UpdateInput) (*model.Profile, error)
	calls    int
}

func (m *mockProfileService) Update(ctx context.Context, session *model.Session, current model.Profile, in profile.UpdateInput) (*model.Profile, error) {
	m.calls++
	if m.updateFn != nil {
		return m.updateFn(ctx, session, current, in)
	}
	return nil, nil
}

type mockSessionLoader struct {
	sessions map[string]*model.Session
}

func (m *mockSessionLoader) CurrentSession(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, model.ErrSessionNotFound
}

type mockRecorder struct {
	metrics.Nop
	mu          sync.Mutex
	submissions []string
}

func (m *mockRecorder) RecordSubmission(form, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, form+":"+outcome)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テスト用ルーター ---

const (
	testCSRFToken = "test-csrf-token"
	testSessionID = "sess-1"
)

var testSession = &model.Session{
	ID:          testSessionID,
	UserID:      "user-1",
	Email:       "taro@example.com",
	AccessToken: "access-1",
	TokenExpiry: time.Now().Add(time.Hour),
	ExpiresAt:   time.Now().Add(24 * time.Hour),
}

type testEnv struct {
	router   http.Handler
	auth     *mockAuthService
	profiles *mockProfileService
	recorder *mockRecorder
	stores   *store.Registry
	pinger   *mockPinger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	renderer, err := view.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env := &testEnv{
		auth:     &mockAuthService{},
		profiles: &mockProfileService{},
		recorder: &mockRecorder{},
		stores:   store.NewRegistry(),
		pinger:   &mockPinger{},
	}
	env.router = NewRouter(&RouterDeps{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sessions:       &mockSessionLoader{sessions: map[string]*model.Session{testSessionID: testSession}},
		Cookie:         middleware.CookieConfig{MaxAge: 3600},
		RateLimiter:    rl,
		Metrics:        env.recorder,
		MetricsHandler: http.NotFoundHandler(),
		AuthService:    env.auth,
		ProfileService: env.profiles,
		Renderer:       renderer,
		Stores:         env.stores,
		HealthChecker:  env.pinger,
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func getRequest(path string, loggedIn bool) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if loggedIn {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: testSessionID})
	}
	return req
}

func postForm(path string, values url.Values, loggedIn bool) *http.Request {
	values.Set(middleware.CSRFFieldName, testCSRFToken)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	if loggedIn {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: testSessionID})
	}
	return req
}

type filePart struct {
	filename    string
	contentType string
	content     []byte
}

func postMultipart(t *testing.T, path string, values map[string]string, file *filePart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(middleware.CSRFFieldName, testCSRFToken)
	for k, v := range values {
		mw.WriteField(k, v)
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="avatar"; filename="`+file.filename+`"`)
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(file.content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: testSessionID})
	return req
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}
