package proxy

import (
	"net/http"
	"net/url"

	"github.com/hitoshi/friendproxy/internal/friendapi"
)

// Endpoint はプロキシする上流呼び出しの記述子。呼び出しごとに生成し、永続化しない。
type Endpoint struct {
	// Kind はメトリクスとログで使うエンドポイント名。
	Kind   string
	Method string
	Path   string
	// RequiresAuth がtrueの場合、呼び出し前に必ずセッションをリフレッシュする。
	RequiresAuth bool
	// SyncFirst がtrueの場合、呼び出し前にポートフォリオ同期を試みる。同期の失敗は無視する。
	SyncFirst bool
}

// StockEndpoint は銘柄の株価取得エンドポイントを返す。
func StockEndpoint(symbol string) Endpoint {
	return Endpoint{
		Kind:         friendapi.EndpointStock,
		Method:       http.MethodGet,
		Path:         friendapi.PathStocks + url.PathEscape(symbol),
		RequiresAuth: true,
	}
}

// ProfitLossEndpoint は損益計算エンドポイントを返す。
func ProfitLossEndpoint() Endpoint {
	return Endpoint{
		Kind:         friendapi.EndpointProfitLoss,
		Method:       http.MethodGet,
		Path:         friendapi.PathCalculateProfitOrLoss,
		RequiresAuth: true,
		SyncFirst:    true,
	}
}

// UpdateUserEndpoint はポートフォリオ同期エンドポイントを返す。
func UpdateUserEndpoint() Endpoint {
	return Endpoint{
		Kind:         friendapi.EndpointUpdateUser,
		Method:       http.MethodPost,
		Path:         friendapi.PathUpdateUser,
		RequiresAuth: true,
	}
}
