package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
)

// PostgresProfileRepo はprofilesテーブルを直接読み書きするリポジトリ。
// 行レベルセキュリティはアプリケーション側で担保する（更新は常にセッションのユーザーIDで行う）。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Get は指定IDのプロフィールを取得する。見つからない場合は backend.ErrProfileNotFound を返す。
func (r *PostgresProfileRepo) Get(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, introduce, avatar_url
		 FROM profiles
		 WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.Name, &p.Introduce, &avatar)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if avatar.Valid {
		p.AvatarURL = model.StringPtr(avatar.String)
	}
	return p, nil
}

// Update は名前、自己紹介、アバターURLを1文で更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, fields model.ProfileFields) error {
	var avatar sql.NullString
	if fields.AvatarURL != nil {
		avatar = sql.NullString{String: *fields.AvatarURL, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET name = $2, introduce = $3, avatar_url = $4, updated_at = now()
		 WHERE id = $1`,
		id, fields.Name, fields.Introduce, avatar,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return backend.ErrProfileNotFound
	}
	return nil
}

// UpdateNameByEmail はメールアドレスが一致するプロフィールの名前を更新する。
// 一致する行がなくてもエラーにしない。
func (r *PostgresProfileRepo) UpdateNameByEmail(ctx context.Context, email, name string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET name = $2, updated_at = now() WHERE email = $1`,
		email, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile name: %w", err)
	}
	return nil
}

// Provision はプロフィール行がなければ作成する。
// nameが空でなければ既存行の名前も上書きするため、サインアップ時は1回の呼び出しで済む。
func (r *PostgresProfileRepo) Provision(ctx context.Context, id, email, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, name) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		 WHERE EXCLUDED.name <> ''`,
		id, email, name,
	)
	if err != nil {
		return fmt.Errorf("failed to provision profile: %w", err)
	}
	return nil
}

var (
	_ ProfileRepository          = (*PostgresProfileRepo)(nil)
	_ backend.ProfileProvisioner = (*PostgresProfileRepo)(nil)
)
