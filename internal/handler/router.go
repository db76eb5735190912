package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/recipebox/internal/middleware"
)

// healthCheckTimeout は/healthでのストア疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はストアの疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// CookbookAPI はルーターが必要とするクックブック操作の全体。
type CookbookAPI interface {
	CookbookServiceInterface
	SavedChecker
	CatalogSearcher
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	TokenParser       middleware.TokenParser
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// レシピ・クックブック
	RecipeSource RecipeSource
	Cookbook     CookbookAPI
	Daily        DailyPicker

	// ユーザー
	UserService    UserServiceInterface
	MaxUploadBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → SecurityHeaders → CORS → CSRF → 認証 → RateLimit
//
// 認証が必要なルートではRateLimitをユーザー単位で、ログイン・登録ではIP単位で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authn := middleware.NewAuthenticator(deps.SessionFinder, deps.TokenParser)

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	recipeHandler := NewRecipeHandler(deps.RecipeSource, deps.Cookbook, deps.Cookbook, deps.Daily)
	cookbookHandler := NewCookbookHandler(deps.Cookbook, deps.RecipeSource)
	userHandler := NewUserHandler(deps.UserService, deps.Cookbook, deps.MaxUploadBytes)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- Google OAuth（ブラウザのリダイレクトで遷移する） ---
	r.Route("/auth/google", func(r chi.Router) {
		r.Get("/login", authHandler.GoogleLogin)
		r.Get("/callback", authHandler.GoogleCallback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
			})
			r.With(authn.Optional()).Post("/logout", authHandler.Logout)
		})

		// --- レシピ閲覧（ログイン任意） ---
		r.Route("/recipes", func(r chi.Router) {
			r.Use(authn.Optional())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/random", recipeHandler.Random)
			r.Get("/search", recipeHandler.Search)
			r.Get("/daily", recipeHandler.Daily)
			r.Get("/saved/search", recipeHandler.SearchSaved)
			r.Get("/{id}", recipeHandler.Get)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(authn.Required())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/cookbook", func(r chi.Router) {
				r.Get("/", cookbookHandler.List)
				r.Post("/", cookbookHandler.Save)
				r.Delete("/", cookbookHandler.Clear)
				r.Get("/stats", cookbookHandler.Stats)
				r.Get("/recent", cookbookHandler.Recent)
				r.Get("/search", cookbookHandler.Search)
				r.Delete("/{recipeId}", cookbookHandler.Remove)
				r.Post("/{recipeId}/share", cookbookHandler.Share)
			})

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", userHandler.GetMe)
				r.Put("/", userHandler.UpdateMe)
				r.Delete("/", userHandler.Withdraw)
				r.Get("/profile-picture", userHandler.GetProfilePicture)
				r.Put("/profile-picture", userHandler.PutProfilePicture)
			})
		})
	})

	return r
}

// healthHandler はストアに疎通できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
