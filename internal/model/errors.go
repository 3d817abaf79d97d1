// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（レスポンスの error フィールド）
	Category string // カテゴリ: auth, upstream, validation, system
	Action   string // ユーザー向け対処方法
	Details  string // 補足情報。上流のエラー本文などを格納する
	Status   int    // 0以外の場合、コードからの変換より優先するHTTPステータス
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingAuthHeader  = "MISSING_AUTH_HEADER"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeMissingCredential  = "MISSING_CREDENTIAL"
	ErrCodeUpstreamAuthFailed = "UPSTREAM_AUTH_FAILED"
	ErrCodeUpstreamCallFailed = "UPSTREAM_CALL_FAILED"
	ErrCodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

const (
	actionSignIn      = "Please sign in again."
	actionUnavailable = "Live data temporarily unavailable. Please try again later."
)

// ドメイン層のセンチネルエラー
var (
	// ErrMissingCredential はユーザーのログイン情報が保存されていないことを示す。
	ErrMissingCredential = errors.New("credential not found")
	// ErrTimeout は上流呼び出しが期限内に完了しなかったことを示す。
	ErrTimeout = errors.New("upstream request timed out")
	// ErrFallbackDisabled は共有サービスアカウントが設定されていないことを示す。
	ErrFallbackDisabled = errors.New("fallback credential not configured")
)

// UpstreamAuthError は上流のログインが拒否された、または到達できなかったことを表す。
type UpstreamAuthError struct {
	Status int    // 上流のHTTPステータス。ネットワークエラー時は0
	Body   string // 上流レスポンス本文（生テキスト）
	Err    error  // ネットワークエラーなどの原因
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream login failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream login failed: status %d", e.Status)
}

// Unwrap は原因エラーを返す。
func (e *UpstreamAuthError) Unwrap() error {
	return e.Err
}

// UpstreamCallError は認証後の上流呼び出しが非2xxを返したことを表す。
type UpstreamCallError struct {
	Endpoint string
	Status   int
	Body     string
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("upstream call %s failed: status %d", e.Endpoint, e.Status)
}

// NewMissingAuthHeaderError はAuthorizationヘッダー欠落エラーを生成する。
func NewMissingAuthHeaderError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAuthHeader,
		Message:  "Missing authorization header",
		Category: "auth",
		Action:   actionSignIn,
	}
}

// NewInvalidTokenError は無効な識別トークンのエラーを生成する。
// reasonには期限切れなどトークン固有の理由を渡す。
func NewInvalidTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Invalid token",
		Category: "auth",
		Action:   actionSignIn,
		Details:  reason,
	}
}

// NewMissingCredentialError はログイン情報未登録のエラーを生成する。
func NewMissingCredentialError(details string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "Failed to retrieve credentials",
		Category: "auth",
		Action:   actionSignIn,
		Details:  details,
	}
}

// NewUpstreamAuthError は上流ログイン失敗のエラーを生成する。
func NewUpstreamAuthError(details string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuthFailed,
		Message:  "Upstream authentication failed",
		Category: "auth",
		Action:   actionSignIn,
		Details:  details,
	}
}

// NewUpstreamCallError は上流呼び出し失敗のエラーを生成する。
// statusには上流のHTTPステータスをそのまま渡す。
func NewUpstreamCallError(status int, details string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamCallFailed,
		Message:  "Live data temporarily unavailable",
		Category: "upstream",
		Action:   actionUnavailable,
		Details:  details,
		Status:   status,
	}
}

// NewUpstreamTimeoutError は上流タイムアウトのエラーを生成する。
func NewUpstreamTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  "Upstream request timed out",
		Category: "upstream",
		Action:   actionUnavailable,
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "Check the request parameters and try again.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Please wait and try again.",
	}
}
