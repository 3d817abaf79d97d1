package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/friendproxy/internal/middleware"
	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/proxy"
)

// maxBatchSymbols は一括株価取得で受け付けるシンボル数の上限。
const maxBatchSymbols = 20

// ProxyServiceInterface はプロキシハンドラーが必要とするサービスインターフェース。
type ProxyServiceInterface interface {
	// Quote は株価を取得する。userIDは空でもよい。
	Quote(ctx context.Context, userID, symbol string) (*model.Quote, error)
	// Quotes は複数銘柄の株価を取得する。userIDは空でもよい。
	Quotes(ctx context.Context, userID string, symbols []string) (*proxy.QuoteBatch, error)
	// ProfitLoss はポートフォリオの損益を取得する。
	ProfitLoss(ctx context.Context, userID string) (*model.ProfitLoss, error)
	// SyncPortfolio はポートフォリオをFriend APIへ同期する。
	SyncPortfolio(ctx context.Context, userID string) error
}

// ProxyHandler はFriend APIへのプロキシエンドポイントのHTTPハンドラー。
type ProxyHandler struct {
	service ProxyServiceInterface
	errors  *errorResponder
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(service ProxyServiceInterface, sanitizer Sanitizer, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: service,
		errors:  newErrorResponder(sanitizer, logger),
	}
}

// quotesResponse は一括株価取得のAPIレスポンス。
type quotesResponse struct {
	Quotes []model.Quote      `json:"quotes"`
	Errors map[string]string `json:"errors"`
}

// syncResponse はポートフォリオ同期のAPIレスポンス。
type syncResponse struct {
	Synced bool `json:"synced"`
}

// Quote は株価を取得する。
// GET /quote?symbol=X
func (h *ProxyHandler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Symbol is required"))
		return
	}

	quote, err := h.service.Quote(r.Context(), middleware.OptionalUserID(r.Context()), symbol)
	if err != nil {
		h.errors.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// Quotes は複数銘柄の株価を取得する。
// GET /quotes?symbols=A,B
func (h *ProxyHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Symbols are required"))
		return
	}
	if len(symbols) > maxBatchSymbols {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Too many symbols"))
		return
	}

	batch, err := h.service.Quotes(r.Context(), middleware.OptionalUserID(r.Context()), symbols)
	if err != nil {
		h.errors.handleServiceError(w, r, err)
		return
	}

	resp := quotesResponse{
		Quotes: batch.Quotes,
		Errors: make(map[string]string, len(batch.Errors)),
	}
	for symbol, err := range batch.Errors {
		resp.Errors[symbol] = h.errors.describe(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProfitLoss はポートフォリオの損益を取得する。
// GET /profit-loss
func (h *ProxyHandler) ProfitLoss(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	pl, err := h.service.ProfitLoss(r.Context(), userID)
	if err != nil {
		h.errors.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pl)
}

// SyncPortfolio はポートフォリオを明示的に同期する。
// POST /portfolio/sync
func (h *ProxyHandler) SyncPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	if err := h.service.SyncPortfolio(r.Context(), userID); err != nil {
		h.errors.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{Synced: true})
}

// --- ヘルパー関数 ---

// parseSymbols はカンマ区切りのシンボル一覧を分割する。空要素と重複は除く。
func parseSymbols(raw string) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
