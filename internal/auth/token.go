// Package auth は識別トークン（HS256署名のJWT）の発行と検証を提供する。
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer は発行するトークンのissクレーム。
	Issuer = "friendproxy"
	// clockSkew はiat検証時に許容する発行側との時計のずれ。expには適用しない。
	clockSkew = 5 * time.Second
)

// ErrInvalidToken はトークンの検証に失敗したことを示す。
// Verifyが返すエラーはすべてこのエラーをラップする。
var ErrInvalidToken = errors.New("invalid token")

// トークン検証失敗の理由
const (
	ReasonEmpty            = "token is empty"
	ReasonMalformed        = "token is malformed"
	ReasonExpired          = "token expired"
	ReasonSignatureInvalid = "token signature is invalid"
	ReasonInvalidClaims    = "token claims are invalid"
)

// TokenError は検証失敗の理由を保持するエラー。
type TokenError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidToken.Error(), e.Reason)
}

// Unwrap はErrInvalidTokenを返す。
func (e *TokenError) Unwrap() error {
	return ErrInvalidToken
}

// Claims は識別トークンのクレーム。subにユーザーIDを格納する。
type Claims struct {
	jwt.RegisteredClaims
}

// Codec は識別トークンの発行と検証を行う。
// 状態を持たないため複数goroutineから安全に利用できる。
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption はCodecの生成オプション。
type CodecOption func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。テストで有効期限を検証するために使う。
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec はCodecを生成する。
func NewCodec(secret []byte, ttl time.Duration, opts ...CodecOption) *Codec {
	c := &Codec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue はユーザーIDをsubに持つトークンを発行し、有効期限とともに返す。
func (c *Codec) Issue(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if c.ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	now := c.now().UTC()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンの署名と有効期限を検証し、ユーザーIDを返す。
// 失敗時は*TokenErrorを返し、panicしない。
func (c *Codec) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &TokenError{Reason: ReasonEmpty}
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", &TokenError{Reason: classify(err)}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", &TokenError{Reason: ReasonInvalidClaims}
	}
	if err := c.validateClaims(claims); err != nil {
		return "", &TokenError{Reason: ReasonInvalidClaims}
	}
	return claims.Subject, nil
}

func (c *Codec) validateClaims(claims *Claims) error {
	if claims.Issuer != Issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	if claims.IssuedAt.Time.After(c.now().Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	return nil
}

// classify はjwtライブラリのエラーを検証失敗の理由に変換する。
func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonInvalidClaims
	}
}
