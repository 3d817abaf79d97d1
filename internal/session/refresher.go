// Package session はFriend APIへのログインを行い、セッションCookieを取得・保存する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/friendproxy/internal/credential"
	"github.com/hitoshi/friendproxy/internal/friendapi"
	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/retry"
)

// リフレッシュ結果のラベル
const (
	ResultSuccess           = "success"
	ResultStale             = "stale"
	ResultMissingCredential = "missing_credential"
	ResultAuthFailed        = "auth_failed"
	ResultTimeout           = "timeout"
	ResultCanceled          = "canceled"
	ResultError             = "error"
	ResultFallbackSuccess   = "fallback_success"
	ResultFallbackFailed    = "fallback_failed"
)

// CredentialStore はRefresherが必要とするログイン情報ストアの操作。
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*model.CredentialRecord, error)
	GetSecret(ctx context.Context, userID string) (*model.Secret, error)
	UpsertCookie(ctx context.Context, userID, rawSetCookie string) (string, error)
}

// LoginClient はFriend APIのログイン操作。
type LoginClient interface {
	Login(ctx context.Context, secret model.Secret) (*friendapi.Response, error)
}

// Recorder はリフレッシュ結果の計測インターフェース。
type Recorder interface {
	RecordSessionRefresh(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionRefresh(string) {}

// Session はリフレッシュで得たセッション。
type Session struct {
	// Cookie は "a=1; b=2" 形式のCookieヘッダー値。
	Cookie string
	// Fresh はこのリフレッシュで新たに取得したCookieの場合true。
	// ログイン成功時にSet-Cookieがなく、保存済みの値を使った場合はfalse。
	Fresh bool
}

// Config はRefresherの設定。
type Config struct {
	// UserPolicy はユーザーごとのログインの再試行方針。
	UserPolicy retry.Policy
	// FallbackPolicy は共有サービスアカウントのログインの再試行方針。
	FallbackPolicy retry.Policy
	// Fallback は共有サービスアカウント。nilの場合は無効。
	Fallback *model.Secret
	// Coalesce がtrueの場合、同一ユーザーの同時リフレッシュを1回のログインにまとめる。
	Coalesce bool
}

// Refresher はセッションリフレッシャー。
type Refresher struct {
	store    CredentialStore
	client   LoginClient
	logger   *slog.Logger
	config   Config
	recorder Recorder
	group    singleflight.Group
}

// Option はRefresherの生成オプション。
type Option func(*Refresher)

// WithRecorder はリフレッシュ結果の計測先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Refresher) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewRefresher はRefresherの新しいインスタンスを生成する。
func NewRefresher(store CredentialStore, client LoginClient, logger *slog.Logger, config Config, opts ...Option) *Refresher {
	r := &Refresher{
		store:    store,
		client:   client,
		logger:   logger,
		config:   config,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FallbackEnabled は共有サービスアカウントが設定されているかを返す。
func (r *Refresher) FallbackEnabled() bool {
	return r.config.Fallback != nil
}

// Refresh はユーザーのログイン情報でFriend APIにログインし、取得したCookieを保存して返す。
//
// ログイン情報がない場合はmodel.ErrMissingCredential、ログインが拒否された場合や
// 到達できない場合は*model.UpstreamAuthError、期限切れの場合はmodel.ErrTimeoutを含むエラーを返す。
func (r *Refresher) Refresh(ctx context.Context, userID string) (Session, error) {
	if !r.config.Coalesce {
		return r.refresh(ctx, userID)
	}

	// 共有するログインは呼び出し元のキャンセルから切り離す。上流呼び出しはクライアントのタイムアウトで打ち切られる。
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(userID, func() (any, error) {
		return r.refresh(detached, userID)
	})

	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("同時リフレッシュを1回のログインにまとめました",
				slog.String("user_id", userID),
			)
		}
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, userID string) (Session, error) {
	// 1. ログイン情報の取得
	secret, err := r.store.GetSecret(ctx, userID)
	if err != nil {
		r.recorder.RecordSessionRefresh(ResultError)
		return Session{}, fmt.Errorf("ログイン情報の取得に失敗しました: %w", err)
	}
	if secret == nil {
		r.recorder.RecordSessionRefresh(ResultMissingCredential)
		return Session{}, model.ErrMissingCredential
	}

	// 2. ログイン
	resp, err := r.login(ctx, *secret, r.config.UserPolicy, slog.String("user_id", userID))
	if err != nil {
		r.recorder.RecordSessionRefresh(classify(err))
		return Session{}, err
	}

	// 3. Set-Cookieの保存
	cookie, err := r.store.UpsertCookie(ctx, userID, resp.RawSetCookie())
	if err == nil {
		r.recorder.RecordSessionRefresh(ResultSuccess)
		return Session{Cookie: cookie, Fresh: true}, nil
	}
	if !errors.Is(err, credential.ErrNoCookiePairs) {
		r.recorder.RecordSessionRefresh(ResultError)
		return Session{}, err
	}

	// 4. Set-Cookieがない場合は保存済みのCookieを使う
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		r.recorder.RecordSessionRefresh(ResultError)
		return Session{}, err
	}
	if rec == nil || rec.SessionCookie == nil || *rec.SessionCookie == "" {
		r.recorder.RecordSessionRefresh(ResultAuthFailed)
		return Session{}, &model.UpstreamAuthError{
			Status: resp.Status,
			Body:   "login response carried no session cookie",
		}
	}

	r.logger.Warn("ログイン応答にSet-Cookieがないため保存済みのCookieを使用します",
		slog.String("user_id", userID),
	)
	r.recorder.RecordSessionRefresh(ResultStale)
	return Session{Cookie: *rec.SessionCookie, Fresh: false}, nil
}

// RefreshFallback は共有サービスアカウントでログインし、Cookieを返す。
// 取得したCookieは保存しない。未設定の場合はmodel.ErrFallbackDisabledを返す。
func (r *Refresher) RefreshFallback(ctx context.Context) (Session, error) {
	if r.config.Fallback == nil {
		return Session{}, model.ErrFallbackDisabled
	}

	resp, err := r.login(ctx, *r.config.Fallback, r.config.FallbackPolicy, slog.Bool("fallback", true))
	if err != nil {
		r.recorder.RecordSessionRefresh(ResultFallbackFailed)
		return Session{}, err
	}

	cookie := credential.ExtractCookiePairs(resp.RawSetCookie())
	if cookie == "" {
		r.recorder.RecordSessionRefresh(ResultFallbackFailed)
		return Session{}, &model.UpstreamAuthError{
			Status: resp.Status,
			Body:   "login response carried no session cookie",
		}
	}

	r.recorder.RecordSessionRefresh(ResultFallbackSuccess)
	return Session{Cookie: cookie, Fresh: true}, nil
}

// login はpolicyに従ってログインを再試行する。
// 非2xxと通信エラーは*model.UpstreamAuthErrorに、期限切れはmodel.ErrTimeoutに変換する。
// 呼び出し元のキャンセルは再試行せず、context.Canceledのまま返す。
func (r *Refresher) login(ctx context.Context, secret model.Secret, policy retry.Policy, attr slog.Attr) (*friendapi.Response, error) {
	resp, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*friendapi.Response, error) {
		resp, err := r.client.Login(ctx, secret)
		if err != nil {
			r.logger.Warn("Friend APIへのログインに失敗しました",
				attr,
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, context.Canceled) {
				return nil, retry.Stop(err)
			}
			if errors.Is(err, model.ErrTimeout) {
				return nil, err
			}
			return nil, &model.UpstreamAuthError{Err: err}
		}
		if !resp.OK() {
			r.logger.Warn("Friend APIがログインを拒否しました",
				attr,
				slog.Int("attempt", attempt),
				slog.Int("http_status", resp.Status),
			)
			return nil, &model.UpstreamAuthError{Status: resp.Status, Body: string(resp.Body)}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func classify(err error) string {
	var authErr *model.UpstreamAuthError
	switch {
	case errors.Is(err, model.ErrTimeout):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	case errors.As(err, &authErr):
		return ResultAuthFailed
	default:
		return ResultError
	}
}
