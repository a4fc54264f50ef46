package model

import "time"

// AuthSession は外部認証サービスが発行したセッションのうち、
// アプリケーションが参照する部分を表す。
type AuthSession struct {
	UserID string
	Email  string
}

// Tokens は認証サービスから受け取ったトークン一式を表す。
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	Email        string
}

// Expired はアクセストークンが期限切れかどうかを返す。
// 境界での失効を避けるため、leeway分だけ早めに期限切れとみなす。
func (t Tokens) Expired(now time.Time, leeway time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(leeway))
}

// Session はブラウザとアプリケーションの間のログインセッションを表す。
// 外部認証サービスのトークンをサーバー側で保持し、CookieにはセッションIDのみを載せる。
type Session struct {
	ID           string
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Auth はセッションが表す認証情報を返す。
func (s *Session) Auth() AuthSession {
	return AuthSession{UserID: s.UserID, Email: s.Email}
}

// Tokens はセッションに保持しているトークン一式を返す。
func (s *Session) Tokens() Tokens {
	return Tokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.TokenExpiry,
		UserID:       s.UserID,
		Email:        s.Email,
	}
}
