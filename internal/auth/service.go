// Package auth はメールアドレスとパスワードによる認証フローと、Webセッション管理を提供する。
//
// 認証そのものは外部の認証サービス（backend.AuthClient）が行い、
// このパッケージは発行されたトークンをサーバー側のセッションに保持する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/repository"
	"github.com/hitoshi/vns/internal/token"
)

// TokenParser はアクセストークンからユーザー識別情報を取り出す。
type TokenParser interface {
	Parse(accessToken string) (token.Identity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	RedirectURL   string        // 確認メールのリンク先
	RefreshLeeway time.Duration // アクセストークン失効前に更新を始める猶予
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	auth        backend.AuthClient
	profiles    backend.ProfileTable
	sessionRepo repository.SessionRepository
	parser      TokenParser
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	auth backend.AuthClient,
	profiles backend.ProfileTable,
	sessionRepo repository.SessionRepository,
	parser TokenParser,
	config ServiceConfig,
) *Service {
	return &Service{
		auth:        auth,
		profiles:    profiles,
		sessionRepo: sessionRepo,
		parser:      parser,
		config:      config,
		now:         time.Now,
	}
}

// SignUp はアカウントを作成し、続けてプロフィールの名前を設定する。
// アカウント作成に失敗した場合、名前の更新は行わない。
func (s *Service) SignUp(ctx context.Context, name, email, password string) error {
	userID, err := s.auth.SignUp(ctx, email, password, s.config.RedirectURL)
	if err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}

	if p, ok := s.profiles.(backend.ProfileProvisioner); ok && userID != "" {
		if err := p.Provision(ctx, userID, email, name); err != nil {
			return fmt.Errorf("failed to provision profile: %w", err)
		}
	} else if err := s.profiles.UpdateNameByEmail(ctx, email, name); err != nil {
		return fmt.Errorf("failed to set profile name: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", userID))
	return nil
}

// SignIn はメールアドレスとパスワードでログインし、Webセッションを発行する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	tokens, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return s.establish(ctx, tokens)
}

// VerifyEmail は確認メールのリンクを検証し、Webセッションを発行する。
func (s *Service) VerifyEmail(ctx context.Context, tokenHash string, typ backend.OTPType) (*model.Session, error) {
	if tokenHash == "" {
		return nil, errors.New("token hash is required")
	}
	tokens, err := s.auth.VerifyOTP(ctx, tokenHash, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to verify email: %w", err)
	}
	return s.establish(ctx, tokens)
}

// Logout は認証サービス側のセッションを無効化し、Webセッションを破棄する。
// 無効化に成功した場合はリフレッシュトークンがすべて失効するため、同じユーザーの
// 他のWebセッションもまとめて削除する。通知に失敗しても当該Webセッションは破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if session != nil {
		if err := s.auth.SignOut(ctx, session.AccessToken); err != nil {
			slog.Warn("failed to revoke auth session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else if err := s.sessionRepo.DeleteByUserID(ctx, session.UserID); err != nil {
			return fmt.Errorf("failed to delete user sessions: %w", err)
		}
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// CurrentSession はWebセッションを取得する。
// アクセストークンが失効間近であればリフレッシュトークンで更新する。
// セッションが存在しない、またはリフレッシュが拒否された場合は model.ErrSessionNotFound を返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.ErrSessionNotFound
	}

	if !session.Tokens().Expired(s.now(), s.config.RefreshLeeway) {
		return session, nil
	}

	tokens, err := s.auth.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if _, ok := backend.AsError(err); ok {
			// リフレッシュトークンが無効化されている
			slog.Info("refresh rejected, dropping session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
			if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("failed to delete session: %w", err)
			}
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = session.RefreshToken
	}
	if tokens.ExpiresAt.IsZero() {
		if id, err := s.parser.Parse(tokens.AccessToken); err == nil {
			tokens.ExpiresAt = id.ExpiresAt
		}
	}

	if err := s.sessionRepo.UpdateTokens(ctx, sessionID, tokens); err != nil {
		return nil, fmt.Errorf("failed to update session tokens: %w", err)
	}
	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.TokenExpiry = tokens.ExpiresAt
	return session, nil
}

// Profile はセッションのユーザーのプロフィールを取得する。
// 行が存在しない場合はnilを返す。
func (s *Service) Profile(ctx context.Context, session *model.Session) (*model.Profile, error) {
	ctx = backend.WithAccessToken(ctx, session.AccessToken)
	p, err := s.profiles.Get(ctx, session.UserID)
	if errors.Is(err, backend.ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// establish はトークンからユーザーを特定し、Webセッションを作成する。
func (s *Service) establish(ctx context.Context, tokens model.Tokens) (*model.Session, error) {
	id, err := s.parser.Parse(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	if tokens.UserID != "" && tokens.UserID != id.UserID {
		return nil, fmt.Errorf("access token subject mismatch")
	}

	email := id.Email
	if email == "" {
		email = tokens.Email
	}
	expiry := tokens.ExpiresAt
	if expiry.IsZero() {
		expiry = id.ExpiresAt
	}

	if p, ok := s.profiles.(backend.ProfileProvisioner); ok {
		if err := p.Provision(ctx, id.UserID, email, ""); err != nil {
			return nil, fmt.Errorf("failed to provision profile: %w", err)
		}
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:           sessionID,
		UserID:       id.UserID,
		Email:        email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenExpiry:  expiry,
		ExpiresAt:    now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:    now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", session.UserID))
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
