// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/friendproxy/internal/auth"
	"github.com/hitoshi/friendproxy/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenVerifier は識別トークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// NewAuthMiddleware はAuthorization: Bearerヘッダーの識別トークンを検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// ヘッダーがない場合、またはトークンが無効な場合は401を返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return newBearerMiddleware(verifier, true)
}

// NewOptionalAuthMiddleware はAuthorizationヘッダーが任意のエンドポイント用のミドルウェアを返す。
// ヘッダーがない場合は匿名のまま通過させ、ヘッダーがあってトークンが無効な場合は401を返す。
func NewOptionalAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return newBearerMiddleware(verifier, false)
}

func newBearerMiddleware(verifier TokenVerifier, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーの取得
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				if required {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// 2. Bearerトークンの取り出し
			scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewInvalidTokenError("authorization header must use the Bearer scheme"))
				return
			}

			// 3. トークンの検証
			userID, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError(tokenReason(err)))
				return
			}

			// 4. 認証済みユーザーIDをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func tokenReason(err error) string {
	var tokenErr *auth.TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason
	}
	return auth.ReasonMalformed
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// OptionalUserID はユーザーIDを返す。匿名リクエストの場合は空文字列を返す。
func OptionalUserID(ctx context.Context) string {
	userID, _ := UserIDFromContext(ctx)
	return userID
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアの内側で呼ばれた場合は、アクセスログにもユーザーIDを記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}
