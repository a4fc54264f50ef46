package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/vns/internal/form"
	"github.com/hitoshi/vns/internal/metrics"
	"github.com/hitoshi/vns/internal/middleware"
	"github.com/hitoshi/vns/internal/nav"
	"github.com/hitoshi/vns/internal/security"
	"github.com/hitoshi/vns/internal/store"
	"github.com/hitoshi/vns/internal/view"
)

// DefaultMaxRequestBytes はリクエストボディの上限。
// アバターの上限を超えるファイルもハンドラーまで届け、サイズ超過のメッセージを表示できるようにする。
const DefaultMaxRequestBytes = 10 << 20

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Sessions        middleware.SessionLoader
	Cookie          middleware.CookieConfig
	CSRF            middleware.CSRFConfig
	RateLimiter     *middleware.RateLimiter
	ImageOrigins    []string
	MaxRequestBytes int64

	// メトリクス
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ドメイン
	AuthService    AuthService
	ProfileService ProfileService
	Renderer       *view.Renderer
	Sanitizer      security.TextSanitizer
	Stores         *store.Registry
	Guard          *form.Guard
	HealthChecker  HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Metrics → SecurityHeaders → RequestSize
//	→ Session → Logging → CSRF → RateLimit(General)
//
// /health と /metrics はチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	guard := deps.Guard
	if guard == nil {
		guard = form.NewGuard()
	}
	maxBytes := deps.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	p := &pages{
		auth:      deps.AuthService,
		renderer:  deps.Renderer,
		stores:    deps.Stores,
		sanitizer: sanitizer,
		logger:    logger,
	}
	authHandler := newAuthHandler(p, guard, collector, AuthHandlerConfig{Cookie: deps.Cookie})
	profileHandler := newProfileHandler(p, deps.ProfileService, guard, collector)
	home := &HomeHandler{pages: p, health: deps.HealthChecker}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(metrics.Middleware(collector))

	// --- チェーン外のルート ---
	r.Get("/health", home.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, nav.DefaultAvatar, view.DefaultAvatarHandler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.ImageOrigins...))
		r.Use(chimw.RequestSize(maxBytes))
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.NotFound(home.NotFound)
		r.Get(nav.HomePath, home.Index)

		r.Route("/auth", func(r chi.Router) {
			// ログイン前のページ。ログイン済みならトップへ
			r.Group(func(r chi.Router) {
				r.Use(middleware.RedirectIfAuthenticated(nav.HomePath))
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Get("/signup", authHandler.SignupPage)
				r.Post("/signup", authHandler.Signup)
				r.Get("/login", authHandler.LoginPage)
				r.Post("/login", authHandler.Login)
			})
			r.Get("/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(nav.LoginPath))
			r.Get(nav.ProfilePath, profileHandler.Show)
			r.Post(nav.ProfilePath, profileHandler.Update)
		})

		r.With(middleware.RequireSessionAPI()).Get("/api/me", home.Me)
	})

	return r
}
