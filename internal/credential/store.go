// Package credential はユーザーごとのFriend APIログイン情報とセッションCookieを管理する。
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/friendproxy/internal/model"
	"github.com/hitoshi/friendproxy/internal/repository"
)

// ErrNoCookiePairs はSet-Cookieからname=valueのペアを1つも取り出せなかったことを示す。
var ErrNoCookiePairs = errors.New("no cookie pairs in Set-Cookie header")

// Store はログイン情報ストア。
// セッションCookieの書き込みはロックを取らず後勝ちとなる。
type Store struct {
	repo repository.CredentialRepository
	now  func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(repo repository.CredentialRepository) *Store {
	return &Store{
		repo: repo,
		now:  time.Now,
	}
}

// Get は指定ユーザーのレコードを返す。存在しない場合はnilを返す。
func (s *Store) Get(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	rec, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return rec, nil
}

// GetSecret はログインに使うメールアドレスとパスワードを返す。
// レコードが存在しない、またはメールアドレスが未登録の場合はnilを返す。
func (s *Store) GetSecret(ctx context.Context, userID string) (*model.Secret, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Email == "" {
		return nil, nil
	}
	return &model.Secret{Email: rec.Email, Password: rec.Password}, nil
}

// SaveSecret はメールアドレスとパスワードを保存する。
// 登録フローなど外部コンポーネントから呼ばれる。
func (s *Store) SaveSecret(ctx context.Context, userID, email, password string) error {
	email = strings.TrimSpace(email)
	if userID == "" || email == "" || password == "" {
		return errors.New("userID, email and password are required")
	}
	if err := s.repo.UpsertSecret(ctx, userID, email, password); err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// UpsertCookie はSet-Cookieの生文字列からname=valueのペアだけを取り出して保存し、
// 保存した値を返す。ペアが1つもない場合はErrNoCookiePairsを返し、何も書き込まない。
func (s *Store) UpsertCookie(ctx context.Context, userID, rawSetCookie string) (string, error) {
	cookie := ExtractCookiePairs(rawSetCookie)
	if cookie == "" {
		return "", ErrNoCookiePairs
	}
	if err := s.repo.UpsertSessionCookie(ctx, userID, cookie, s.now().UTC()); err != nil {
		return "", fmt.Errorf("failed to store session cookie: %w", err)
	}
	return cookie, nil
}
