package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
)

// AuthClient はGoTrue認証APIのクライアント。backend.AuthClientを実装する。
type AuthClient struct {
	c *Client
}

var _ backend.AuthClient = (*AuthClient)(nil)

// gotrue は1回の呼び出し用のGoTrueクライアントを返す。tokenはAuthorizationヘッダーに載る。
func (a *AuthClient) gotrue(t *callTransport, token string) gotrue.Client {
	return gotrue.New("", a.c.anonKey).
		WithCustomGoTrueURL(a.c.baseURL + "/auth/v1").
		WithClient(t.httpClient(a.c.httpClient)).
		WithToken(token)
}

// SignUp はアカウントを作成する。確認メールのリンク先はredirectToになる。
func (a *AuthClient) SignUp(ctx context.Context, email, password, redirectTo string) (id string, err error) {
	t := a.c.newCall(ctx, "auth.signup")
	if redirectTo != "" {
		t.query = url.Values{"redirect_to": {redirectTo}}
	}
	start := time.Now()
	defer func() { err = a.c.finish(t, start, err) }()

	resp, err := a.gotrue(t, a.c.anonKey).Signup(types.SignupRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return userID(resp.User.ID), nil
}

// SignInWithPassword はメールアドレスとパスワードでログインする。
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (tokens model.Tokens, err error) {
	t := a.c.newCall(ctx, "auth.signin")
	start := time.Now()
	defer func() { err = a.c.finish(t, start, err) }()

	resp, err := a.gotrue(t, a.c.anonKey).SignInWithEmailPassword(email, password)
	if err != nil {
		return model.Tokens{}, err
	}
	return sessionTokens(resp.Session, time.Now())
}

// VerifyOTP は確認メールのトークンハッシュを検証し、セッションを発行する。
// GoTrueはリダイレクト先のフラグメントにトークンを載せて返す。リダイレクトは追わない。
func (a *AuthClient) VerifyOTP(ctx context.Context, tokenHash string, typ backend.OTPType) (tokens model.Tokens, err error) {
	t := a.c.newCall(ctx, "auth.verify")
	start := time.Now()
	defer func() { err = a.c.finish(t, start, err) }()

	resp, err := a.gotrue(t, a.c.anonKey).Verify(types.VerifyRequest{
		Type:       types.VerificationType(typ),
		Token:      tokenHash,
		RedirectTo: a.c.redirectURL,
	})
	if err != nil {
		return model.Tokens{}, err
	}
	if resp.Error != "" || resp.ErrorDescription != "" {
		return model.Tokens{}, verifyError(resp)
	}
	return sessionTokens(types.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, time.Now())
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (tokens model.Tokens, err error) {
	t := a.c.newCall(ctx, "auth.refresh")
	start := time.Now()
	defer func() { err = a.c.finish(t, start, err) }()

	resp, err := a.gotrue(t, a.c.anonKey).RefreshToken(refreshToken)
	if err != nil {
		return model.Tokens{}, err
	}
	return sessionTokens(resp.Session, time.Now())
}

// SignOut はアクセストークンに紐づくセッションを無効化する。
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) (err error) {
	t := a.c.newCall(ctx, "auth.signout")
	start := time.Now()
	defer func() { err = a.c.finish(t, start, err) }()

	return a.gotrue(t, accessToken).Logout()
}

// sessionTokens はGoTrueのセッションをmodel.Tokensに変換する。
func sessionTokens(s types.Session, now time.Time) (model.Tokens, error) {
	if s.AccessToken == "" {
		return model.Tokens{}, errors.New("レスポンスにアクセストークンが含まれていません")
	}
	t := model.Tokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		UserID:       userID(s.User.ID),
		Email:        s.User.Email,
	}
	switch {
	case s.ExpiresAt > 0:
		t.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		t.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return t, nil
}

func userID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// verifyError はリダイレクト先に載ったエラーを *backend.Error に変換する。
// error_codeが数値でない場合は403として扱う。
func verifyError(resp *types.VerifyResponse) error {
	status, err := strconv.Atoi(resp.ErrorCode)
	if err != nil || status < http.StatusBadRequest {
		status = http.StatusForbidden
	}
	msg := resp.ErrorDescription
	if msg == "" {
		msg = resp.Error
	}
	return &backend.Error{Op: "auth.verify", Status: status, Message: msg}
}
