package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/sellerdesk/internal/auth"
	"github.com/hitoshi/sellerdesk/internal/config"
	"github.com/hitoshi/sellerdesk/internal/database"
	"github.com/hitoshi/sellerdesk/internal/handler"
	"github.com/hitoshi/sellerdesk/internal/localstore"
	"github.com/hitoshi/sellerdesk/internal/logger"
	"github.com/hitoshi/sellerdesk/internal/metrics"
	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/hitoshi/sellerdesk/internal/profile"
	"github.com/hitoshi/sellerdesk/internal/repository"
	"github.com/hitoshi/sellerdesk/internal/security"
	"github.com/hitoshi/sellerdesk/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

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
		slog.String("port", cfg.ServerPort),
		slog.String("auth_url", cfg.AuthURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、起動時のセッション確認を開始してからHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとプロフィールサービスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	shopRepo := repository.NewPostgresShopRepo(db)
	profileService := profile.NewService(userRepo, shopRepo, security.NewShopSanitizer(), slog.Default())

	// 3. 端末ローカルストア
	store, err := localstore.OpenFileStore(cfg.LocalStorePath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	slog.Info("local store opened", slog.String("path", store.Path()))

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. 認証APIクライアント
	authClient := auth.NewGoTrueClient(
		&http.Client{Timeout: cfg.AuthHTTPTimeout},
		store,
		slog.Default(),
		auth.Config{
			BaseURL:         cfg.AuthURL,
			APIKey:          cfg.AuthAPIKey,
			RefreshMargin:   cfg.TokenRefreshMargin,
			RefreshInterval: cfg.TokenRefreshPeriod,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. リコンサイラ（購読と起動時のセッション確認）
	reconciler := session.NewReconciler(
		authClient,
		profileService,
		session.NewShopSelector(store),
		session.NewStore(),
		collector,
		slog.Default(),
		session.ReconcilerConfig{
			SessionCheckTimeout: cfg.SessionCheckTimeout,
			ProfileFetchTimeout: cfg.ProfileFetchTimeout,
			AuthActionTimeout:   cfg.AuthHTTPTimeout,
			SuppressWindow:      cfg.EventSuppressWindow,
		},
	)
	reconciler.Start(ctx)
	defer func() {
		// 実行中のリコンサイルと自動更新を止めてから購読を解除する
		cancel()
		reconciler.Close()
	}()

	// トークンの自動更新はリコンサイラの購読後に開始する
	go authClient.RunAutoRefresh(ctx)

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.AuthRate = rate.Limit(cfg.RateLimitAuth.PerSecond())
	rateLimiterCfg.AuthBurst = cfg.RateLimitAuth.Count
	rateLimiterCfg.GeneralRate = rate.Limit(cfg.RateLimitGeneral.PerSecond())
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral.Count
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg, collector)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      registry,

		Reconciler: reconciler,
		ShopLoader: profileService,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SessionCheckTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
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

// maskDatabaseURL はデータベースURLのパスワードとクエリを伏せる。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
