// Package proxy はセッションCookieを使ってFriend APIを呼び出し、結果を整形して返す。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/friendproxy/internal/credential"
	"github.com/hitoshi/friendproxy/internal/friendapi"
	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/normalize"
	"github.com/hitoshi/friendproxy/internal/repository"
	"github.com/hitoshi/friendproxy/internal/session"
)

// batchConcurrency は一括株価取得の同時実行数。
const batchConcurrency = 4

// Refresher はセッションリフレッシャーの操作。
type Refresher interface {
	Refresh(ctx context.Context, userID string) (session.Session, error)
	RefreshFallback(ctx context.Context) (session.Session, error)
	FallbackEnabled() bool
}

// CredentialStore はExecutorが必要とするログイン情報ストアの操作。
type CredentialStore interface {
	GetSecret(ctx context.Context, userID string) (*model.Secret, error)
	UpsertCookie(ctx context.Context, userID, rawSetCookie string) (string, error)
}

// Upstream はFriend APIへの送信操作。
type Upstream interface {
	Do(ctx context.Context, endpoint, method, path string, body any, cookie string) (*friendapi.Response, error)
}

// Recorder はプロキシ処理の計測インターフェース。
type Recorder interface {
	RecordPortfolioSyncFailure()
	RecordCookieRotation()
}

type nopRecorder struct{}

func (nopRecorder) RecordPortfolioSyncFailure() {}
func (nopRecorder) RecordCookieRotation()       {}

// Result は上流呼び出しの結果。
type Result struct {
	Status int
	Body   []byte
	// Cookie は呼び出し後に有効なCookie。上流がローテーションした場合は新しい値。
	Cookie string
}

// QuoteBatch は一括株価取得の結果。
type QuoteBatch struct {
	Quotes []model.Quote
	// Errors は取得に失敗したシンボルごとのエラー。
	Errors map[string]error
}

// Executor はプロキシリクエスト実行器。
type Executor struct {
	refresher  Refresher
	store      CredentialStore
	upstream   Upstream
	portfolio  repository.PortfolioRepository
	profiles   repository.ProfileRepository
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	recorder   Recorder
}

// Option はExecutorの生成オプション。
type Option func(*Executor)

// WithRecorder は計測先を設定する。
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExecutor はExecutorの新しいインスタンスを生成する。
func NewExecutor(
	refresher Refresher,
	store CredentialStore,
	upstream Upstream,
	portfolio repository.PortfolioRepository,
	profiles repository.ProfileRepository,
	normalizer *normalize.Normalizer,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		refresher:  refresher,
		store:      store,
		upstream:   upstream,
		portfolio:  portfolio,
		profiles:   profiles,
		normalizer: normalizer,
		logger:     logger,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute はユーザーのセッションでepを呼び出す。
//
// 1. RequiresAuthの場合はセッションをリフレッシュし、失敗時は上流を呼ばずにエラーを返す。
// 2. SyncFirstの場合はポートフォリオ同期を試みる。同期の失敗は記録のみで処理を続ける。
// 3. 対象エンドポイントを呼び出し、ローテーションされたCookieを保存する。
// 4. 非2xxの場合は*model.UpstreamCallErrorを返す。
func (e *Executor) Execute(ctx context.Context, userID string, ep Endpoint, body any) (*Result, error) {
	var cookie string
	if ep.RequiresAuth {
		sess, err := e.refresher.Refresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		cookie = sess.Cookie
	}

	if ep.SyncFirst {
		e.BestEffort(userID, "portfolio_sync", func() error {
			rotated, err := e.sync(ctx, userID, cookie)
			if rotated != "" {
				cookie = rotated
			}
			return err
		})
	}

	return e.send(ctx, userID, cookie, ep, body)
}

// BestEffort はfnを実行し、失敗しても呼び出し元へエラーを返さない。
// 失敗はWARNログとメトリクスに記録する。
func (e *Executor) BestEffort(userID, op string, fn func() error) {
	if err := fn(); err != nil {
		e.recorder.RecordPortfolioSyncFailure()
		e.logger.Warn("ベストエフォート処理に失敗したため続行します",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// send は上流を呼び出し、Cookieのローテーションを反映する。
// ownerが空の場合、ローテーションされたCookieは保存しない。
func (e *Executor) send(ctx context.Context, owner, cookie string, ep Endpoint, body any) (*Result, error) {
	resp, err := e.upstream.Do(ctx, ep.Kind, ep.Method, ep.Path, body, cookie)
	if err != nil {
		return nil, err
	}

	result := &Result{Status: resp.Status, Body: resp.Body, Cookie: cookie}
	if len(resp.SetCookie) > 0 {
		result.Cookie = e.rotate(ctx, owner, cookie, resp)
	}

	if !resp.OK() {
		return nil, &model.UpstreamCallError{
			Endpoint: ep.Kind,
			Status:   resp.Status,
			Body:     string(resp.Body),
		}
	}
	return result, nil
}

// rotate はSet-Cookieを保存し、以降の呼び出しで使うCookieを返す。
// 保存に失敗した場合は新しいCookieを使い続け、失敗をログに残す。
func (e *Executor) rotate(ctx context.Context, owner, current string, resp *friendapi.Response) string {
	if owner == "" {
		if c := credential.ExtractCookiePairs(resp.RawSetCookie()); c != "" {
			return c
		}
		return current
	}

	rotated, err := e.store.UpsertCookie(ctx, owner, resp.RawSetCookie())
	if err != nil {
		if errors.Is(err, credential.ErrNoCookiePairs) {
			return current
		}
		e.logger.Error("ローテーションされたCookieの保存に失敗しました",
			slog.String("user_id", owner),
			slog.String("error", err.Error()),
		)
		if c := credential.ExtractCookiePairs(resp.RawSetCookie()); c != "" {
			return c
		}
		return current
	}

	if rotated != current {
		e.recorder.RecordCookieRotation()
	}
	return rotated
}

// sync はポートフォリオとプロフィールをFriend APIへ送信する。
// ローテーションされたCookieがあれば返す。
func (e *Executor) sync(ctx context.Context, userID, cookie string) (string, error) {
	secret, err := e.store.GetSecret(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("同期用ログイン情報の取得に失敗しました: %w", err)
	}
	if secret == nil {
		return "", model.ErrMissingCredential
	}

	holdings, err := e.portfolio.ListHoldings(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("保有銘柄の取得に失敗しました: %w", err)
	}
	profile, err := e.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	result, err := e.send(ctx, userID, cookie, UpdateUserEndpoint(), BuildSyncPayload(*secret, holdings, profile))
	if err != nil {
		return "", err
	}
	return result.Cookie, nil
}

// SyncPortfolio はポートフォリオを明示的に同期する。失敗はエラーとして返す。
func (e *Executor) SyncPortfolio(ctx context.Context, userID string) error {
	sess, err := e.refresher.Refresh(ctx, userID)
	if err != nil {
		return err
	}
	_, err = e.sync(ctx, userID, sess.Cookie)
	return err
}

// ProfitLoss は同期を試みた後に損益を取得し、整形して返す。
func (e *Executor) ProfitLoss(ctx context.Context, userID string) (*model.ProfitLoss, error) {
	result, err := e.Execute(ctx, userID, ProfitLossEndpoint(), nil)
	if err != nil {
		return nil, err
	}
	pl := e.normalizer.ProfitLoss(result.Body)
	return &pl, nil
}

// Quote は株価を取得し、整形して返す。userIDは空でもよい。
//
// ユーザーのログイン情報がある場合はそのセッションを使う。ない場合は共有サービスアカウントを使い、
// そのログインが失敗してもCookieなしで株価取得を試みる。
// 共有サービスアカウントが未設定の場合はmodel.ErrMissingCredentialを返す。
func (e *Executor) Quote(ctx context.Context, userID, symbol string) (*model.Quote, error) {
	symbol = strings.TrimSpace(symbol)
	owner, cookie, err := e.quoteSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := e.send(ctx, owner, cookie, StockEndpoint(symbol), nil)
	if err != nil {
		return nil, err
	}
	q := e.normalizer.Quote(symbol, result.Body)
	return &q, nil
}

// Quotes は複数銘柄の株価を並行して取得する。
// セッションのリフレッシュは1回だけ行う。一部の失敗はQuoteBatch.Errorsに格納し、
// すべて失敗した場合は先頭のシンボルのエラーを返す。
func (e *Executor) Quotes(ctx context.Context, userID string, symbols []string) (*QuoteBatch, error) {
	owner, cookie, err := e.quoteSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	quotes := make([]*model.Quote, len(symbols))
	errs := make([]error, len(symbols))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			result, err := e.send(ctx, owner, cookie, StockEndpoint(symbol), nil)
			if err != nil {
				errs[i] = err
				return nil
			}
			q := e.normalizer.Quote(symbol, result.Body)
			quotes[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	batch := &QuoteBatch{
		Quotes: make([]model.Quote, 0, len(symbols)),
		Errors: make(map[string]error),
	}
	var first error
	for i, symbol := range symbols {
		if errs[i] != nil {
			batch.Errors[symbol] = errs[i]
			if first == nil {
				first = errs[i]
			}
			continue
		}
		batch.Quotes = append(batch.Quotes, *quotes[i])
	}
	if len(symbols) > 0 && len(batch.Quotes) == 0 {
		return nil, first
	}
	return batch, nil
}

// quoteSession は株価取得に使うCookieと、ローテーション時の保存先ユーザーを決める。
func (e *Executor) quoteSession(ctx context.Context, userID string) (owner, cookie string, err error) {
	if userID != "" {
		sess, err := e.refresher.Refresh(ctx, userID)
		if err == nil {
			return userID, sess.Cookie, nil
		}
		if !errors.Is(err, model.ErrMissingCredential) {
			return "", "", err
		}
	}

	if !e.refresher.FallbackEnabled() {
		return "", "", model.ErrMissingCredential
	}

	sess, err := e.refresher.RefreshFallback(ctx)
	if err != nil {
		e.logger.Warn("共有サービスアカウントのログインに失敗したためCookieなしで続行します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", "", nil
	}
	return "", sess.Cookie, nil
}
