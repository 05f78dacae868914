package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/sellerdesk/internal/metrics"
	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// ReconcilerInterface はルーターが必要とするセッション操作の集合。
// session.Reconcilerが実装する。
type ReconcilerInterface interface {
	SessionServiceInterface
	ShopSelectorInterface
	middleware.SnapshotReader
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	HealthChecker HealthChecker
	Metrics       *metrics.Collector // nilの場合はステータス集計を行わない
	Gatherer      prometheus.Gatherer

	// セッションとショップ
	Reconciler ReconcilerInterface
	ShopLoader ShopLoader
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → CORS
//
// ログイン・登録にはクライアントアドレス単位のレート制限、
// ショップ操作にはSession → RateLimit(General)を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var statusRecorder middleware.StatusRecorder
	if deps.Metrics != nil {
		statusRecorder = deps.Metrics
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, statusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.Reconciler)
	shopHandler := NewShopHandler(deps.Reconciler, deps.ShopLoader)

	// --- 認証不要のルート ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", sessionHandler.Get)
		r.Post("/refresh", sessionHandler.Refresh)
		r.Post("/logout", sessionHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/login", sessionHandler.Login)
			r.Post("/register", sessionHandler.Register)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Reconciler))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/shops", func(r chi.Router) {
			r.Get("/", shopHandler.List)
			r.Post("/", shopHandler.Add)
			r.Put("/current", shopHandler.Select)
			r.Put("/{id}", shopHandler.Replace)
		})
	})

	return r
}
