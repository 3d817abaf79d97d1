package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/friendproxy/internal/middleware"
	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/proxy"
	"github.com/hitoshi/friendproxy/internal/security"
)

// --- モック定義 ---

// mockProxyService はProxyServiceInterfaceのモック実装。
type mockProxyService struct {
	quoteFn         func(ctx context.Context, userID, symbol string) (*model.Quote, error)
	quotesFn        func(ctx context.Context, userID string, symbols []string) (*proxy.QuoteBatch, error)
	profitLossFn    func(ctx context.Context, userID string) (*model.ProfitLoss, error)
	syncPortfolioFn func(ctx context.Context, userID string) error
}

func (m *mockProxyService) Quote(ctx context.Context, userID, symbol string) (*model.Quote, error) {
	if m.quoteFn != nil {
		return m.quoteFn(ctx, userID, symbol)
	}
	return &model.Quote{Symbol: symbol}, nil
}

func (m *mockProxyService) Quotes(ctx context.Context, userID string, symbols []string) (*proxy.QuoteBatch, error) {
	if m.quotesFn != nil {
		return m.quotesFn(ctx, userID, symbols)
	}
	return &proxy.QuoteBatch{Errors: map[string]error{}}, nil
}

func (m *mockProxyService) ProfitLoss(ctx context.Context, userID string) (*model.ProfitLoss, error) {
	if m.profitLossFn != nil {
		return m.profitLossFn(ctx, userID)
	}
	return &model.ProfitLoss{Data: []map[string]any{}}, nil
}

func (m *mockProxyService) SyncPortfolio(ctx context.Context, userID string) error {
	if m.syncPortfolioFn != nil {
		return m.syncPortfolioFn(ctx, userID)
	}
	return nil
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestProxyHandler(svc ProxyServiceInterface) *ProxyHandler {
	return NewProxyHandler(svc, security.NewDetailSanitizer(), discardLogger())
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// --- GET /quote テスト ---

func TestProxyHandler_Quote_Success(t *testing.T) {
	svc := &mockProxyService{
		quoteFn: func(ctx context.Context, userID, symbol string) (*model.Quote, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			if symbol != "AAPL" {
				t.Errorf("symbol = %q, want %q", symbol, "AAPL")
			}
			return &model.Quote{Symbol: "AAPL", Name: "Apple", Price: 189.5, RawData: map[string]any{"price": 189.5}}, nil
		},
	}

	req := withUserID(httptest.NewRequest(http.MethodGet, "/quote?symbol=%20AAPL%20", nil), "user-123")
	w := httptest.NewRecorder()

	newTestProxyHandler(svc).Quote(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["symbol"] != "AAPL" || result["price"] != 189.5 {
		t.Errorf("result = %v", result)
	}
	for _, key := range []string{"name", "change", "changePercent", "timestamp", "rawData"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing field: %s", key)
		}
	}
}

func TestProxyHandler_Quote_AnonymousPassesEmptyUserID(t *testing.T) {
	svc := &mockProxyService{
		quoteFn: func(ctx context.Context, userID, symbol string) (*model.Quote, error) {
			if userID != "" {
				t.Errorf("userID = %q, want empty", userID)
			}
			return &model.Quote{Symbol: symbol}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).Quote(w, httptest.NewRequest(http.MethodGet, "/quote?symbol=MSFT", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestProxyHandler_Quote_MissingSymbol(t *testing.T) {
	called := false
	svc := &mockProxyService{
		quoteFn: func(ctx context.Context, userID, symbol string) (*model.Quote, error) {
			called = true
			return nil, nil
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).Quote(w, httptest.NewRequest(http.MethodGet, "/quote?symbol=", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q", body.Code)
	}
	if called {
		t.Error("シンボルなしでサービスが呼ばれた")
	}
}

func TestProxyHandler_Quote_UpstreamStatusPassedThrough(t *testing.T) {
	svc := &mockProxyService{
		quoteFn: func(ctx context.Context, userID, symbol string) (*model.Quote, error) {
			return nil, &model.UpstreamCallError{Endpoint: "stocks", Status: 404, Body: `<p>Symbol &amp; not found</p>`}
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).Quote(w, httptest.NewRequest(http.MethodGet, "/quote?symbol=ZZZZ", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	body := parseErrorBody(t, w)
	if body.Code != model.ErrCodeUpstreamCallFailed {
		t.Errorf("code = %q", body.Code)
	}
	if body.Details != "Symbol & not found" {
		t.Errorf("details = %q, want タグ除去済みの本文", body.Details)
	}
}

// --- GET /quotes テスト ---

func TestProxyHandler_Quotes_PartialFailure(t *testing.T) {
	svc := &mockProxyService{
		quotesFn: func(ctx context.Context, userID string, symbols []string) (*proxy.QuoteBatch, error) {
			if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "BAD" {
				t.Errorf("symbols = %v, want 重複と空要素を除いた [AAPL BAD]", symbols)
			}
			return &proxy.QuoteBatch{
				Quotes: []model.Quote{{Symbol: "AAPL", Price: 1}},
				Errors: map[string]error{
					"BAD": &model.UpstreamCallError{Status: 404, Body: `{"detail":"unknown symbol"}`},
				},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).Quotes(w, httptest.NewRequest(http.MethodGet, "/quotes?symbols=AAPL,,BAD,AAPL", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var result struct {
		Quotes []model.Quote      `json:"quotes"`
		Errors map[string]string `json:"errors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(result.Quotes) != 1 || result.Quotes[0].Symbol != "AAPL" {
		t.Errorf("quotes = %+v", result.Quotes)
	}
	if result.Errors["BAD"] != `{"detail":"unknown symbol"}` {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestProxyHandler_Quotes_Validation(t *testing.T) {
	many := "A"
	for i := 0; i < maxBatchSymbols; i++ {
		many += ",S" + string(rune('A'+i))
	}

	tests := []struct {
		name  string
		query string
	}{
		{"空", "/quotes?symbols="},
		{"カンマのみ", "/quotes?symbols=,,"},
		{"上限超過", "/quotes?symbols=" + many},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestProxyHandler(&mockProxyService{}).Quotes(w, httptest.NewRequest(http.MethodGet, tt.query, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestProxyHandler_Quotes_AllFailedReturnsError(t *testing.T) {
	svc := &mockProxyService{
		quotesFn: func(ctx context.Context, userID string, symbols []string) (*proxy.QuoteBatch, error) {
			return nil, model.ErrTimeout
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).Quotes(w, httptest.NewRequest(http.MethodGet, "/quotes?symbols=A,B", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

// --- GET /profit-loss テスト ---

func TestProxyHandler_ProfitLoss_Success(t *testing.T) {
	svc := &mockProxyService{
		profitLossFn: func(ctx context.Context, userID string) (*model.ProfitLoss, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q", userID)
			}
			return &model.ProfitLoss{
				TotalProfit: 50,
				Percentage:  50,
				Data:        []map[string]any{{"symbol": "X", "profit": 100.0}},
				Message:     "ok",
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).ProfitLoss(w, withUserID(httptest.NewRequest(http.MethodGet, "/profit-loss", nil), "user-123"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var result map[string]interface{}
	json.NewDecoder(w.Body).Decode(&result)
	if result["totalProfit"] != float64(50) || result["message"] != "ok" {
		t.Errorf("result = %v", result)
	}
}

func TestProxyHandler_ProfitLoss_NoUserID(t *testing.T) {
	w := httptest.NewRecorder()
	newTestProxyHandler(&mockProxyService{}).ProfitLoss(w, httptest.NewRequest(http.MethodGet, "/profit-loss", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestProxyHandler_ProfitLoss_MissingCredential(t *testing.T) {
	svc := &mockProxyService{
		profitLossFn: func(ctx context.Context, userID string) (*model.ProfitLoss, error) {
			return nil, model.ErrMissingCredential
		},
	}

	w := httptest.NewRecorder()
	newTestProxyHandler(svc).ProfitLoss(w, withUserID(httptest.NewRequest(http.MethodGet, "/profit-loss", nil), "user-123"))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	body := parseErrorBody(t, w)
	if body.Error != "Failed to retrieve credentials" || body.Details == "" {
		t.Errorf("body = %+v", body)
	}
}

// --- POST /portfolio/sync テスト ---

func TestProxyHandler_SyncPortfolio(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"成功", nil, http.StatusOK},
		{"上流ログイン失敗", &model.UpstreamAuthError{Status: 401, Body: "bad password"}, http.StatusUnauthorized},
		{"上流500", &model.UpstreamCallError{Status: 500, Body: "boom"}, http.StatusInternalServerError},
		{"内部エラー", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockProxyService{
				syncPortfolioFn: func(ctx context.Context, userID string) error { return tt.err },
			}

			w := httptest.NewRecorder()
			newTestProxyHandler(svc).SyncPortfolio(w, withUserID(httptest.NewRequest(http.MethodPost, "/portfolio/sync", bytes.NewReader(nil)), "user-123"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.err == nil && w.Body.String() != "{\"synced\":true}\n" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}

func TestParseSymbols(t *testing.T) {
	got := parseSymbols(" AAPL , MSFT,,AAPL,7203.T ")
	want := []string{"AAPL", "MSFT", "7203.T"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
