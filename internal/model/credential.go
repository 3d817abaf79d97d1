package model

import "time"

// CredentialRecord はユーザーごとのFriend APIログイン情報とセッションCookieを表す。
// user_idごとに高々1件のみ存在する。
type CredentialRecord struct {
	UserID          string
	Email           string
	Password        string
	SessionCookie   *string    // name=value のペアのみ。未取得の場合はnil
	CookieUpdatedAt *time.Time // SessionCookieの最終更新日時
	UpdatedAt       time.Time
}

// Secret はログインに使うメールアドレスとパスワードの組。
type Secret struct {
	Email    string
	Password string
}
