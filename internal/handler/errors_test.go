package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/security"
)

func TestErrorResponder_Resolve(t *testing.T) {
	responder := newErrorResponder(security.NewDetailSanitizer(), discardLogger())

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{
			name:        "ログイン情報なし",
			err:         fmt.Errorf("refresh: %w", model.ErrMissingCredential),
			wantStatus:  http.StatusUnauthorized,
			wantCode:    model.ErrCodeMissingCredential,
			wantDetails: detailNoCredential,
		},
		{
			name:        "共有アカウント未設定",
			err:         model.ErrFallbackDisabled,
			wantStatus:  http.StatusUnauthorized,
			wantCode:    model.ErrCodeMissingCredential,
			wantDetails: detailFallbackDisabled,
		},
		{
			name:        "上流ログイン拒否",
			err:         &model.UpstreamAuthError{Status: 401, Body: `{"detail":"Incorrect email or password"}`},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    model.ErrCodeUpstreamAuthFailed,
			wantDetails: `{"detail":"Incorrect email or password"}`,
		},
		{
			name:        "上流ログイン到達不可",
			err:         &model.UpstreamAuthError{Err: errors.New("connection refused")},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    model.ErrCodeUpstreamAuthFailed,
			wantDetails: "Friend API login could not be reached",
		},
		{
			name:        "上流エラーのステータスを透過",
			err:         &model.UpstreamCallError{Status: 422, Body: "<b>bad</b> input"},
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    model.ErrCodeUpstreamCallFailed,
			wantDetails: "bad input",
		},
		{
			name:        "本文なしはステータス文言",
			err:         &model.UpstreamCallError{Status: 503},
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    model.ErrCodeUpstreamCallFailed,
			wantDetails: "Service Unavailable",
		},
		{
			name:        "エラーでないステータスは502",
			err:         &model.UpstreamCallError{Status: 302, Body: "moved"},
			wantStatus:  http.StatusBadGateway,
			wantCode:    model.ErrCodeUpstreamCallFailed,
			wantDetails: "moved",
		},
		{
			name:       "タイムアウト",
			err:        fmt.Errorf("GET stocks: %w", model.ErrTimeout),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   model.ErrCodeUpstreamTimeout,
		},
		{
			name:       "APIErrorはそのまま",
			err:        model.NewInvalidRequestError("bad"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
		{
			name:       "その他は500",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, apiErr := responder.resolve(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", apiErr.Details, tt.wantDetails)
			}
		})
	}
}

func TestErrorResponder_HandleServiceError_LogsOnlyInternal(t *testing.T) {
	var buf bytes.Buffer
	responder := newErrorResponder(security.NewDetailSanitizer(), slog.New(slog.NewJSONHandler(&buf, nil)))

	req := httptest.NewRequest(http.MethodGet, "/profit-loss", nil)

	responder.handleServiceError(httptest.NewRecorder(), req, model.ErrMissingCredential)
	if buf.Len() != 0 {
		t.Errorf("認証エラーでERRORログが出力された: %s", buf.String())
	}

	w := httptest.NewRecorder()
	responder.handleServiceError(w, req, errors.New("db down"))
	if !strings.Contains(buf.String(), "internal server error") || !strings.Contains(buf.String(), "db down") {
		t.Errorf("内部エラーがログに記録されていない: %s", buf.String())
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("内部エラーの詳細がレスポンスに含まれた")
	}
}

func TestErrorResponder_HandleServiceError_ClientCanceled(t *testing.T) {
	var buf bytes.Buffer
	responder := newErrorResponder(security.NewDetailSanitizer(), slog.New(slog.NewJSONHandler(&buf, nil)))

	req := httptest.NewRequest(http.MethodGet, "/profit-loss", nil)
	w := httptest.NewRecorder()
	responder.handleServiceError(w, req, fmt.Errorf("POST login: %w", context.Canceled))

	if w.Code == http.StatusUnauthorized {
		t.Error("クライアントの中断が認証エラーとして扱われた")
	}
	if strings.Contains(w.Body.String(), model.ErrCodeUpstreamAuthFailed) {
		t.Errorf("body = %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "request canceled by client") {
		t.Errorf("中断がログに記録されていない: %s", buf.String())
	}
	if strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("中断がERRORとして記録された: %s", buf.String())
	}
}
