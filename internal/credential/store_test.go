package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/friendproxy/internal/model"
)

// --- モック定義 ---

type mockCredentialRepo struct {
	findByUserIDFn        func(ctx context.Context, userID string) (*model.CredentialRecord, error)
	upsertSecretFn        func(ctx context.Context, userID, email, password string) error
	upsertSessionCookieFn func(ctx context.Context, userID, cookie string, at time.Time) error
}

func (m *mockCredentialRepo) FindByUserID(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockCredentialRepo) UpsertSecret(ctx context.Context, userID, email, password string) error {
	if m.upsertSecretFn != nil {
		return m.upsertSecretFn(ctx, userID, email, password)
	}
	return nil
}

func (m *mockCredentialRepo) UpsertSessionCookie(ctx context.Context, userID, cookie string, at time.Time) error {
	if m.upsertSessionCookieFn != nil {
		return m.upsertSessionCookieFn(ctx, userID, cookie, at)
	}
	return nil
}

// --- テスト ---

func TestStore_GetSecret_Found(t *testing.T) {
	repo := &mockCredentialRepo{
		findByUserIDFn: func(ctx context.Context, userID string) (*model.CredentialRecord, error) {
			return &model.CredentialRecord{UserID: userID, Email: "alice@example.com", Password: "pw"}, nil
		},
	}

	secret, err := NewStore(repo).GetSecret(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetSecret がエラーを返した: %v", err)
	}
	if secret == nil {
		t.Fatal("secretがnilである")
	}
	if secret.Email != "alice@example.com" || secret.Password != "pw" {
		t.Errorf("secret = %+v", secret)
	}
}

func TestStore_GetSecret_Absent(t *testing.T) {
	store := NewStore(&mockCredentialRepo{})

	secret, err := store.GetSecret(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetSecret がエラーを返した: %v", err)
	}
	if secret != nil {
		t.Errorf("レコードなしでsecretが返された: %+v", secret)
	}
}

func TestStore_GetSecret_CookieOnlyRecord(t *testing.T) {
	cookie := "sid=abc"
	repo := &mockCredentialRepo{
		findByUserIDFn: func(ctx context.Context, userID string) (*model.CredentialRecord, error) {
			return &model.CredentialRecord{UserID: userID, SessionCookie: &cookie}, nil
		},
	}

	secret, err := NewStore(repo).GetSecret(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetSecret がエラーを返した: %v", err)
	}
	if secret != nil {
		t.Errorf("メールアドレス未登録のレコードでsecretが返された: %+v", secret)
	}
}

func TestStore_Get_PropagatesError(t *testing.T) {
	dbErr := errors.New("db down")
	repo := &mockCredentialRepo{
		findByUserIDFn: func(ctx context.Context, userID string) (*model.CredentialRecord, error) {
			return nil, dbErr
		},
	}

	if _, err := NewStore(repo).Get(context.Background(), "user-1"); !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapping %v", err, dbErr)
	}
}

func TestStore_UpsertCookie_StoresPairsOnly(t *testing.T) {
	var storedUser, storedCookie string
	repo := &mockCredentialRepo{
		upsertSessionCookieFn: func(ctx context.Context, userID, cookie string, at time.Time) error {
			storedUser = userID
			storedCookie = cookie
			return nil
		},
	}

	got, err := NewStore(repo).UpsertCookie(context.Background(), "user-1",
		"sid=abc; Path=/; HttpOnly\ncsrftoken=xyz; Secure")
	if err != nil {
		t.Fatalf("UpsertCookie がエラーを返した: %v", err)
	}
	if got != "sid=abc; csrftoken=xyz" {
		t.Errorf("戻り値 = %q, want %q", got, "sid=abc; csrftoken=xyz")
	}
	if storedUser != "user-1" || storedCookie != got {
		t.Errorf("保存内容 = %q/%q", storedUser, storedCookie)
	}
}

func TestStore_UpsertCookie_NoPairs_DoesNotWrite(t *testing.T) {
	called := false
	repo := &mockCredentialRepo{
		upsertSessionCookieFn: func(ctx context.Context, userID, cookie string, at time.Time) error {
			called = true
			return nil
		},
	}

	_, err := NewStore(repo).UpsertCookie(context.Background(), "user-1", "")
	if !errors.Is(err, ErrNoCookiePairs) {
		t.Errorf("err = %v, want ErrNoCookiePairs", err)
	}
	if called {
		t.Error("ペアがないのに書き込みが行われた")
	}
}

func TestStore_UpsertCookie_LastWriterWins(t *testing.T) {
	var stored string
	repo := &mockCredentialRepo{
		upsertSessionCookieFn: func(ctx context.Context, userID, cookie string, at time.Time) error {
			stored = cookie
			return nil
		},
	}
	store := NewStore(repo)

	if _, err := store.UpsertCookie(context.Background(), "user-1", "sid=first"); err != nil {
		t.Fatalf("1回目のUpsertCookieに失敗: %v", err)
	}
	if _, err := store.UpsertCookie(context.Background(), "user-1", "sid=second"); err != nil {
		t.Fatalf("2回目のUpsertCookieに失敗: %v", err)
	}
	if stored != "sid=second" {
		t.Errorf("stored = %q, want %q", stored, "sid=second")
	}
}

func TestStore_SaveSecret_Validates(t *testing.T) {
	store := NewStore(&mockCredentialRepo{})

	if err := store.SaveSecret(context.Background(), "user-1", " ", "pw"); err == nil {
		t.Error("空のメールアドレスでエラーが返されなかった")
	}
	if err := store.SaveSecret(context.Background(), "user-1", "a@example.com", ""); err == nil {
		t.Error("空のパスワードでエラーが返されなかった")
	}
}

func TestStore_SaveSecret_TrimsEmail(t *testing.T) {
	var gotEmail string
	repo := &mockCredentialRepo{
		upsertSecretFn: func(ctx context.Context, userID, email, password string) error {
			gotEmail = email
			return nil
		},
	}

	if err := NewStore(repo).SaveSecret(context.Background(), "user-1", " a@example.com ", "pw"); err != nil {
		t.Fatalf("SaveSecret がエラーを返した: %v", err)
	}
	if gotEmail != "a@example.com" {
		t.Errorf("email = %q, want %q", gotEmail, "a@example.com")
	}
}
