// Package friendapi はセッションCookie認証の外部Finance API（Friend API）のクライアントを提供する。
// ステータスコードの解釈は呼び出し側に任せ、ここでは生のステータス・本文・Set-Cookieを返す。
package friendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/friendproxy/internal/model"
)

// Friend APIのエンドポイント
const (
	PathLogin                 = "/api/input/login"
	PathUpdateUser            = "/api/input/updateUser"
	PathCalculateProfitOrLoss = "/api/output/calculateProfitOrLoss"
	PathStocks                = "/api/output/stocks/"
)

// メトリクスとログで使うエンドポイント名
const (
	EndpointLogin       = "login"
	EndpointUpdateUser  = "updateUser"
	EndpointProfitLoss  = "calculateProfitOrLoss"
	EndpointStock       = "stocks"
	defaultUserAgent    = "friendproxy/1.0"
	maxResponseBodySize = 1 << 20
)

// Recorder は上流呼び出しの計測インターフェース。
type Recorder interface {
	RecordUpstreamRequest(endpoint string, status int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamRequest(string, int, time.Duration) {}

// Response は上流レスポンスの生データ。
type Response struct {
	Status    int
	Body      []byte
	SetCookie []string
}

// OK はステータスが2xxかを返す。
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// RawSetCookie はSet-Cookieヘッダーを改行区切りで連結して返す。
func (r *Response) RawSetCookie() string {
	return strings.Join(r.SetCookie, "\n")
}

// Client はFriend APIのクライアント。
// 呼び出しごとにtimeoutを適用し、期限切れはmodel.ErrTimeoutとして返す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	timeout    time.Duration
	recorder   Recorder
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithRecorder は上流呼び出しの計測先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		timeout:    timeout,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメールアドレスとパスワードでログインする。
// 成功時のSet-CookieはResponse.SetCookieに格納される。
func (c *Client) Login(ctx context.Context, secret model.Secret) (*Response, error) {
	return c.Do(ctx, EndpointLogin, http.MethodPost, PathLogin, loginRequest{
		Email:    secret.Email,
		Password: secret.Password,
	}, "")
}

// UpdateUser はポートフォリオとプロフィールをFriend APIへ同期する。
func (c *Client) UpdateUser(ctx context.Context, cookie string, payload any) (*Response, error) {
	return c.Do(ctx, EndpointUpdateUser, http.MethodPost, PathUpdateUser, payload, cookie)
}

// CalculateProfitOrLoss はユーザーの損益を取得する。
func (c *Client) CalculateProfitOrLoss(ctx context.Context, cookie string) (*Response, error) {
	return c.Do(ctx, EndpointProfitLoss, http.MethodGet, PathCalculateProfitOrLoss, nil, cookie)
}

// GetStock は銘柄の株価を取得する。シンボルはパスエスケープされる。
func (c *Client) GetStock(ctx context.Context, cookie, symbol string) (*Response, error) {
	return c.Do(ctx, EndpointStock, http.MethodGet, PathStocks+url.PathEscape(symbol), nil, cookie)
}

// Do はFriend APIへリクエストを送信する。
// bodyがnilでない場合はJSONとして送信する。cookieが空の場合はCookieヘッダーを付与しない。
// 非2xxはエラーとせずResponseとして返す。
func (c *Client) Do(ctx context.Context, endpoint, method, path string, body any, cookie string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 1. リクエストボディの構築
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	// 2. リクエスト実行
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordUpstreamRequest(endpoint, 0, time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("Friend APIの呼び出しがタイムアウトしました",
				slog.String("endpoint", endpoint),
				slog.Duration("timeout", c.timeout),
			)
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, model.ErrTimeout)
		}
		if errors.Is(err, context.Canceled) {
			c.logger.Debug("Friend APIの呼び出しが呼び出し元によって中断されました",
				slog.String("endpoint", endpoint),
			)
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, context.Canceled)
		}
		c.logger.Error("Friend APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	// 3. レスポンスボディ読み取り
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	duration := time.Since(start)
	c.recorder.RecordUpstreamRequest(endpoint, resp.StatusCode, duration)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, model.ErrTimeout)
		}
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("Friend APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
	} else {
		c.logger.Debug("Friend APIの呼び出しが完了しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	return &Response{
		Status:    resp.StatusCode,
		Body:      data,
		SetCookie: resp.Header.Values("Set-Cookie"),
	}, nil
}
