// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
)

// SessionRepository はWebセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateTokens はリフレッシュ後のトークンでセッションを更新する。
	UpdateTokens(ctx context.Context, id string, tokens model.Tokens) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はprofilesテーブルを直接操作するリポジトリ。
// PROFILE_DRIVER=postgres のとき backend.ProfileTable として使われる。
type ProfileRepository interface {
	backend.ProfileTable
}
