// Package handler はHTTPエンドポイントとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/friendproxy/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// プロキシ
	ProxyService ProxyServiceInterface
	Sanitizer    Sanitizer

	// ログイン情報
	CredentialSaver CredentialSaver

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (Auth | OptionalAuth) → RateLimit
//
// /health と /metrics は認証とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	proxyHandler := NewProxyHandler(deps.ProxyService, deps.Sanitizer, deps.Logger)
	credentialHandler := NewCredentialHandler(deps.CredentialSaver, deps.Sanitizer, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", newHealthHandler(deps.DB, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が任意のルート ---
	// トークンが提示された場合は検証し、無効なら401を返す。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.TokenVerifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/quote", proxyHandler.Quote)
		r.Get("/quotes", proxyHandler.Quotes)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/profit-loss", proxyHandler.ProfitLoss)
		r.Post("/portfolio/sync", proxyHandler.SyncPortfolio)
		r.Put("/credentials", credentialHandler.PutCredentials)
	})

	return r
}
