// Package app はコマンドの解析と依存関係のワイヤリングを行い、アプリケーションを起動する。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/friendproxy/internal/auth"
	"github.com/hitoshi/friendproxy/internal/config"
	"github.com/hitoshi/friendproxy/internal/credential"
	"github.com/hitoshi/friendproxy/internal/database"
	"github.com/hitoshi/friendproxy/internal/friendapi"
	"github.com/hitoshi/friendproxy/internal/handler"
	"github.com/hitoshi/friendproxy/internal/logger"
	"github.com/hitoshi/friendproxy/internal/metrics"
	"github.com/hitoshi/friendproxy/internal/middleware"
	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/normalize"
	"github.com/hitoshi/friendproxy/internal/proxy"
	"github.com/hitoshi/friendproxy/internal/repository"
	"github.com/hitoshi/friendproxy/internal/retry"
	"github.com/hitoshi/friendproxy/internal/security"
	"github.com/hitoshi/friendproxy/internal/session"
	"github.com/hitoshi/friendproxy/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	userLoginDelay  = 500 * time.Millisecond
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

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	if cfg.UsesDefaultTokenSecret() {
		slog.Warn("TOKEN_SECRET is not set; using the insecure development default")
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

	if cmd == CommandToken {
		return runToken(w, cfg, args[1:])
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("friend_api_base_url", cfg.FriendAPIBaseURL),
		slog.Bool("fallback_enabled", cfg.FallbackEnabled()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. プロキシの構築
	executor, store, err := buildProxy(cfg, db, collector, slog.Default())
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     auth.NewCodec([]byte(cfg.TokenSecret), cfg.TokenTTL),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		ProxyService:      executor,
		Sanitizer:         security.NewDetailSanitizer(),
		CredentialSaver:   store,
		DB:                db,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + 2*cfg.FriendAPITimeout,
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

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildProxy はFriend APIクライアントからプロキシ実行器までを組み立てる。
func buildProxy(cfg *config.Config, db *sql.DB, collector *metrics.Collector, log *slog.Logger) (*proxy.Executor, *credential.Store, error) {
	// 1. リポジトリとログイン情報ストア
	store := credential.NewStore(repository.NewPostgresCredentialRepo(db))
	portfolioRepo := repository.NewPostgresPortfolioRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	// 2. Friend APIクライアント
	httpClient, err := security.NewHTTPClient(cfg.FriendAPIBaseURL, cfg.FriendAPITimeout, cfg.EgressGuard)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid Friend API base URL: %w", err)
	}
	client := friendapi.NewClient(httpClient, log, cfg.FriendAPIBaseURL, cfg.FriendAPITimeout,
		friendapi.WithRecorder(collector))

	// 3. セッションリフレッシャー
	refresher := session.NewRefresher(store, client, log, session.Config{
		UserPolicy:     retry.Policy{Attempts: cfg.UserLoginAttempts, Delay: userLoginDelay},
		FallbackPolicy: retry.Policy{Attempts: cfg.FallbackLoginAttempts, Delay: cfg.FallbackLoginDelay},
		Fallback:       fallbackSecret(cfg),
		Coalesce:       cfg.RefreshCoalesce,
	}, session.WithRecorder(collector))

	// 4. プロキシ実行器
	executor := proxy.NewExecutor(refresher, store, client, portfolioRepo, profileRepo, normalize.New(), log,
		proxy.WithRecorder(collector))

	return executor, store, nil
}

// fallbackSecret は共有サービスアカウントのログイン情報を返す。未設定の場合はnil。
func fallbackSecret(cfg *config.Config) *model.Secret {
	if !cfg.FallbackEnabled() {
		return nil
	}
	return &model.Secret{Email: cfg.FallbackEmail, Password: cfg.FallbackPassword}
}

// runWorker はワーカーモードで起動する。
// 古いセッションCookieのクリーンアップをCLEANUP_INTERVAL毎に実行し、
// /health と /metrics をSERVER_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. クリーンアップジョブの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)
	cleanupJob.Retention = cfg.CookieRetention

	// 3. 運用エンドポイントの起動
	ops := chi.NewRouter()
	ops.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ops.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      ops,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. クリーンアップをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker ops server shutdown failed: %w", err)
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

	version, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// tokenOutput はtokenサブコマンドの出力。
type tokenOutput struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// runToken は指定ユーザーの識別トークンを発行してwに書き込む。開発と運用向け。
func runToken(w io.Writer, cfg *config.Config, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: token <userId>")
	}

	codec := auth.NewCodec([]byte(cfg.TokenSecret), cfg.TokenTTL)
	token, expiresAt, err := codec.Issue(args[0])
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	return json.NewEncoder(w).Encode(tokenOutput{
		UserID:    args[0],
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
