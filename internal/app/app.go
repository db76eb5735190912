package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/recipebox/internal/auth"
	"github.com/hitoshi/recipebox/internal/config"
	"github.com/hitoshi/recipebox/internal/cookbook"
	"github.com/hitoshi/recipebox/internal/daily"
	"github.com/hitoshi/recipebox/internal/database"
	"github.com/hitoshi/recipebox/internal/handler"
	"github.com/hitoshi/recipebox/internal/logger"
	"github.com/hitoshi/recipebox/internal/metrics"
	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/recipesource"
	"github.com/hitoshi/recipebox/internal/security"
	"github.com/hitoshi/recipebox/internal/user"
	"github.com/hitoshi/recipebox/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数（と任意の設定ファイル）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで作り直す
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("store", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	// SIGINTまたはSIGTERMでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		action, ok := ParseMigrateAction(args)
		if !ok {
			return fmt.Errorf("unknown migrate action %q (want up, down or version)", args[1])
		}
		return runMigrate(cfg, action)
	default:
		return runServe(ctx, cfg, nil)
	}
}

// server はAPIサーバーの組み立て結果。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	recipes     recipesource.Source
	daily       *daily.Service
	collector   *metrics.Collector
}

// newServer はストアから全依存関係をワイヤリングしてルーターを構築する。
func newServer(cfg *config.Config, st *stores, reg *prometheus.Registry) *server {
	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. 外部レシピAPI
	recipes := newRecipeSource(cfg, sanitizer, collector)

	// 4. ドメインサービス
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewService(
		newOAuthProvider(cfg), st.users, st.identities, st.sessions, tokens,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	cookbookService := cookbook.NewService(st.saved, collector)
	userService := user.NewService(st.users, st.sessions, cookbookService, ssrfGuard, cfg.ProfileImageMaxBytes)
	dailyService := newDailyService(cfg, st, recipes, collector)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     middleware.PerWindow(cfg.RateLimitGeneral, cfg.RateLimitWindow),
		GeneralBurst:    cfg.RateLimitGeneral,
		AuthRate:        middleware.PerWindow(cfg.RateLimitAuth, cfg.RateLimitAuthWindow),
		AuthBurst:       cfg.RateLimitAuth,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		StatusRecorder: collector,
		HealthChecker:  st.health,
		MetricsHandler: metrics.Handler(reg),

		SessionFinder:     st.sessions,
		TokenParser:       tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:        cfg.CookieSecure,
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		RecipeSource: recipes,
		Cookbook:     cookbookService,
		Daily:        dailyService,

		UserService:    userService,
		MaxUploadBytes: cfg.ProfileImageMaxBytes,
	})

	return &server{
		handler:     router,
		rateLimiter: rateLimiter,
		recipes:     recipes,
		daily:       dailyService,
		collector:   collector,
	}
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
// readyがnilでなければ待ち受けアドレスを送る。
func runServe(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// 1. ストアの初期化
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. メトリクスレジストリ
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. ワイヤリング
	srv := newServer(cfg, st, reg)
	defer srv.rateLimiter.Stop()

	// 4. インメモリストアはワーカープロセスと共有できないため、ジョブを同じプロセスで動かす
	var jobs sync.WaitGroup
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer func() {
		cancelJobs()
		jobs.Wait()
	}()
	if cfg.UsesMemoryStore() {
		startJobs(jobCtx, &jobs, cfg, st, srv.daily, srv.collector)
	}

	// 5. HTTPサーバーの起動
	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// おすすめレシピの更新と期限切れセッションの削除を定期実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		return errors.New("worker requires STORE_DRIVER=postgres; the in-memory store runs its jobs inside serve")
	}

	// 1. ストアの初期化
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. サービスの初期化（ワーカーはメトリクスを公開しないため記録先はなし）
	recipes := newRecipeSource(cfg, security.NewContentSanitizer(), nil)
	dailyService := newDailyService(cfg, st, recipes, nil)

	slog.Info("worker starting",
		slog.Duration("daily_picks_interval", cfg.DailyPicksInterval),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// 3. ジョブの起動（ctxのキャンセルで全て停止する）
	var jobs sync.WaitGroup
	startJobs(ctx, &jobs, cfg, st, dailyService, nil)
	jobs.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// startJobs はおすすめ更新とセッション掃除のジョブをバックグラウンドで起動する。
// collectorがnilの場合は計測しない。
func startJobs(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, st *stores, dailyService *daily.Service, collector *metrics.Collector) {
	dailyJob := daily.NewJob(dailyService, slog.Default())

	var recorder cleanup.PurgeRecorder
	if collector != nil {
		recorder = collector
	}
	cleanupJob := cleanup.NewCleanupJob(st.sessions, recorder, slog.Default())
	if cfg.SessionCleanupInterval > 0 {
		cleanupJob.Interval = cfg.SessionCleanupInterval
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		dailyJob.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		// 起動直後に1回実行（失敗はRun内でログ出力済み）
		_ = cleanupJob.Run(ctx)
		cleanupJob.Start(ctx)
	}()
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	if cfg.UsesMemoryStore() {
		return errors.New("migrate requires STORE_DRIVER=postgres")
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
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

func newRecipeSource(cfg *config.Config, sanitizer security.ContentSanitizer, collector *metrics.Collector) *recipesource.Client {
	if cfg.RecipeAPIKey == "" {
		slog.Warn("RECIPE_API_KEY is not set; recipe API requests will likely be rejected")
	}

	var observer recipesource.Observer
	if collector != nil {
		observer = collector
	}
	return recipesource.NewClient(
		&http.Client{Timeout: cfg.RecipeAPITimeout},
		slog.Default(),
		cfg.RecipeAPIBaseURL,
		cfg.RecipeAPIKey,
		sanitizer,
		observer,
	)
}

func newDailyService(cfg *config.Config, st *stores, recipes recipesource.Source, collector *metrics.Collector) *daily.Service {
	var recorder daily.RefreshRecorder
	if collector != nil {
		recorder = collector
	}
	return daily.NewService(st.daily, recipes, recorder, slog.Default(), daily.Config{
		Count:    cfg.DailyPicksCount,
		Location: loadLocation(cfg.DailyPicksTimezone),
		Interval: cfg.DailyPicksInterval,
	})
}

// newOAuthProvider はGoogleログインが設定されている場合のみプロバイダーを返す。
func newOAuthProvider(cfg *config.Config) auth.OAuthProvider {
	if !cfg.OAuthEnabled() {
		slog.Info("Google login is disabled (GOOGLE_CLIENT_ID/SECRET/REDIRECT_URL not set)")
		return nil
	}
	return auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
}

// loadLocation はタイムゾーン名を解決する。解決できない場合はnilを返し、dailyの既定値に任せる。
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown DAILY_PICKS_TIMEZONE, falling back to default",
			slog.String("timezone", name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return loc
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
