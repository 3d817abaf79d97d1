package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/friendproxy/internal/middleware"
	"github.com/hitoshi/friendproxy/internal/model"
)

// 上流が本文なしで失敗した場合に使う詳細メッセージ
const (
	detailNoCredential     = "no Friend API credential is stored for this user"
	detailFallbackDisabled = "no Friend API credential is stored and no shared account is configured"
)

// Sanitizer は上流の本文をレスポンスに載せられる形に変換する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// errorResponder はサービス層のエラーを統一エラーフォーマットのレスポンスに変換する。
type errorResponder struct {
	sanitizer Sanitizer
	logger    *slog.Logger
}

func newErrorResponder(sanitizer Sanitizer, logger *slog.Logger) *errorResponder {
	return &errorResponder{sanitizer: sanitizer, logger: logger}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換して書き込む。
func (e *errorResponder) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := e.resolve(err)
	if errors.Is(err, context.Canceled) {
		e.logger.Info("request canceled by client",
			slog.String("path", r.URL.Path),
		)
		writeAPIErrorResponse(w, status, apiErr)
		return
	}
	if apiErr.Code == model.ErrCodeInternal {
		e.logger.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeAPIErrorResponse(w, status, apiErr)
}

// resolve はエラーをHTTPステータスとAPIErrorに変換する。
func (e *errorResponder) resolve(err error) (int, *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return mapAPIErrorToHTTPStatus(apiErr), apiErr
	}

	var authErr *model.UpstreamAuthError
	if errors.As(err, &authErr) {
		details := e.sanitizer.Sanitize(authErr.Body)
		if details == "" && authErr.Err != nil {
			details = "Friend API login could not be reached"
		}
		return http.StatusUnauthorized, model.NewUpstreamAuthError(details)
	}

	var callErr *model.UpstreamCallError
	if errors.As(err, &callErr) {
		details := e.sanitizer.Sanitize(callErr.Body)
		if details == "" {
			details = http.StatusText(callErr.Status)
		}
		apiErr := model.NewUpstreamCallError(callErr.Status, details)
		return mapAPIErrorToHTTPStatus(apiErr), apiErr
	}

	switch {
	case errors.Is(err, model.ErrMissingCredential):
		return http.StatusUnauthorized, model.NewMissingCredentialError(detailNoCredential)
	case errors.Is(err, model.ErrFallbackDisabled):
		return http.StatusUnauthorized, model.NewMissingCredentialError(detailFallbackDisabled)
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout, model.NewUpstreamTimeoutError()
	}

	return http.StatusInternalServerError, model.NewInternalError()
}

// describe は一括取得で失敗したシンボルに付けるエラー詳細を返す。
func (e *errorResponder) describe(err error) string {
	_, apiErr := e.resolve(err)
	if apiErr.Details != "" {
		return apiErr.Details
	}
	return apiErr.Message
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingAuthHeader, model.ErrCodeInvalidToken,
		model.ErrCodeMissingCredential, model.ErrCodeUpstreamAuthFailed:
		return http.StatusUnauthorized
	case model.ErrCodeUpstreamCallFailed:
		// 上流のエラーステータスはそのまま返す。エラーでないステータスは502にする。
		if apiErr.Status >= 400 && apiErr.Status <= 599 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		if apiErr.Status != 0 {
			return apiErr.Status
		}
		return http.StatusInternalServerError
	}
}
