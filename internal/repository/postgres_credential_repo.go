package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/friendproxy/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用したログイン情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByUserID は指定ユーザーのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByUserID(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	rec := &model.CredentialRecord{}
	var cookie sql.NullString
	var cookieUpdatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, email, password, session_cookie, cookie_updated_at, updated_at
		 FROM friend_credentials WHERE user_id = $1`,
		userID,
	).Scan(&rec.UserID, &rec.Email, &rec.Password, &cookie, &cookieUpdatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by user ID: %w", err)
	}

	if cookie.Valid {
		rec.SessionCookie = &cookie.String
	}
	if cookieUpdatedAt.Valid {
		rec.CookieUpdatedAt = &cookieUpdatedAt.Time
	}

	return rec, nil
}

// UpsertSecret はメールアドレスとパスワードを保存する。既存のCookieは維持する。
func (r *PostgresCredentialRepo) UpsertSecret(ctx context.Context, userID, email, password string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO friend_credentials (user_id, email, password, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET email = EXCLUDED.email, password = EXCLUDED.password, updated_at = now()`,
		userID, email, password,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential secret: %w", err)
	}
	return nil
}

// UpsertSessionCookie はセッションCookieのみを上書きする。
// ログイン情報の行がない場合と、保存済みの値と同じ場合は何も更新しない。
func (r *PostgresCredentialRepo) UpsertSessionCookie(ctx context.Context, userID, cookie string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE friend_credentials
		 SET session_cookie = $2, cookie_updated_at = $3, updated_at = $3
		 WHERE user_id = $1 AND session_cookie IS DISTINCT FROM $2`,
		userID, cookie, at,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session cookie: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
