package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/vns/internal/auth"
	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/config"
	"github.com/hitoshi/vns/internal/database"
	"github.com/hitoshi/vns/internal/form"
	"github.com/hitoshi/vns/internal/handler"
	"github.com/hitoshi/vns/internal/logger"
	"github.com/hitoshi/vns/internal/metrics"
	"github.com/hitoshi/vns/internal/middleware"
	"github.com/hitoshi/vns/internal/profile"
	"github.com/hitoshi/vns/internal/repository"
	"github.com/hitoshi/vns/internal/security"
	miniostore "github.com/hitoshi/vns/internal/storage/minio"
	"github.com/hitoshi/vns/internal/store"
	"github.com/hitoshi/vns/internal/supabase"
	"github.com/hitoshi/vns/internal/token"
	"github.com/hitoshi/vns/internal/view"
	"github.com/hitoshi/vns/internal/worker/cleanup"
)

// storeSweepInterval はアイドル状態のセッションストアを掃除する間隔。
const storeSweepInterval = 10 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はサブコマンドを解析し、対応するモードで起動する。argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("profile_driver", cfg.ProfileDriver),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// backends は設定されたドライバーに応じたバックエンドの組。
type backends struct {
	auth         backend.AuthClient
	profiles     backend.ProfileTable
	storage      backend.StorageClient
	imageOrigins []string
}

// newBackends はSupabaseクライアントを基本とし、PROFILE_DRIVER・STORAGE_DRIVERに応じて
// プロフィールテーブルとストレージの実装を差し替える。
func newBackends(ctx context.Context, cfg *config.Config, db *sql.DB, observer backend.Observer) (*backends, error) {
	client := supabase.NewClient(
		&http.Client{Timeout: cfg.Supabase.HTTPTimeout},
		slog.Default(),
		cfg.Supabase.URL,
		cfg.Supabase.AnonKey,
		supabase.WithObserver(observer),
		supabase.WithRedirectURL(cfg.BaseURL+"/auth/callback"),
	)

	b := &backends{auth: client.Auth()}

	switch cfg.ProfileDriver {
	case config.DriverPostgres:
		b.profiles = repository.NewPostgresProfileRepo(db)
	default:
		b.profiles = client.Profiles()
	}

	switch cfg.StorageDriver {
	case config.DriverMinio:
		mc, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		storage, err := miniostore.NewClient(ctx, mc, cfg.Minio.Bucket, cfg.Minio.PublicURL, observer)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare minio bucket: %w", err)
		}
		b.storage = storage
		b.imageOrigins = []string{cfg.Minio.PublicURL}
	default:
		b.storage = client.Storage(backend.AvatarBucket)
		b.imageOrigins = []string{cfg.Supabase.URL}
	}

	return b, nil
}

// rateLimiterConfig は req/min の設定値を req/sec のリミッター設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
	rl.AuthBurst = cfg.RateLimitAuth
	return rl
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// バックエンド
	b, err := newBackends(ctx, cfg, db, collector)
	if err != nil {
		return err
	}

	// ドメインサービス
	sessionRepo := repository.NewPostgresSessionRepo(db)
	authService := auth.NewService(
		b.auth, b.profiles, sessionRepo,
		token.NewParser(cfg.Supabase.JWTSecret),
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			RedirectURL:   cfg.BaseURL + "/auth/callback",
			RefreshLeeway: cfg.TokenRefreshLeeway,
		},
	)
	profileService := profile.NewService(b.storage, b.profiles, collector, slog.Default())

	renderer, err := view.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	stores := store.NewRegistry(store.WithWriteRecorder(collector))
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   slog.Default(),
		Sessions: authService,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:     rateLimiter,
		ImageOrigins:    b.imageOrigins,
		MaxRequestBytes: handler.DefaultMaxRequestBytes,
		Metrics:         collector,
		MetricsHandler:  metrics.Handler(reg),
		AuthService:     authService,
		ProfileService:  profileService,
		Renderer:        renderer,
		Sanitizer:       security.NewTextSanitizer(),
		Stores:          stores,
		Guard:           form.NewGuard(),
		HealthChecker:   db,
	})

	go sweepStores(ctx, stores, cfg.StoreIdleTimeout)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// sweepStores は一定時間使われていないセッションストアを定期的に破棄する。
func sweepStores(ctx context.Context, stores *store.Registry, idle time.Duration) {
	ticker := time.NewTicker(storeSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := stores.Sweep(idle); n > 0 {
				slog.Debug("idle session stores dropped", slog.Int("count", n))
			}
		}
	}
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、ctxのキャンセルで終了する。
// /metrics と /health は SERVER_PORT で公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	job := cleanup.NewCleanupJob(db, slog.Default(), collector)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return logMigrationVersion(cfg.DatabaseURL, database.Version)
}

// logMigrationVersion は適用後のバージョンとdirty状態をログに残す。
// dirtyの場合は途中で失敗したマイグレーションが残っているためエラーにする。
func logMigrationVersion(databaseURL string, version func(string) (uint, bool, error)) error {
	v, dirty, err := version(databaseURL)
	if err != nil {
		return err
	}
	if dirty {
		slog.Error("database is in dirty migration state", slog.Uint64("version", uint64(v)))
		return fmt.Errorf("migration version %d is dirty", v)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(v)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
