// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/friendproxy/internal/model"
)

// CredentialRepository はFriend APIのログイン情報とセッションCookieの永続化インターフェース。
// user_idごとに高々1件のレコードを保持する。
type CredentialRepository interface {
	// FindByUserID は指定ユーザーのレコードを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.CredentialRecord, error)

	// UpsertSecret はメールアドレスとパスワードを保存する。既存のCookieは維持する。
	UpsertSecret(ctx context.Context, userID, email, password string) error

	// UpsertSessionCookie はセッションCookieのみを上書きする。
	// レコードが存在しない場合と保存済みの値と同じ場合は何もしない。ロックは取らず後勝ちとなる。
	UpsertSessionCookie(ctx context.Context, userID, cookie string, at time.Time) error
}

// PortfolioRepository はユーザーの保有銘柄を読み取るインターフェース。
type PortfolioRepository interface {
	// ListHoldings は指定ユーザーの保有銘柄を登録順に返す。該当なしの場合は空スライスを返す。
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)
}

// ProfileRepository はユーザープロフィールを読み取るインターフェース。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}
