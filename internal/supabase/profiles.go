package supabase

import (
	"context"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
)

// ProfileTable はPostgREST経由のprofilesテーブルのクライアント。backend.ProfileTableを実装する。
type ProfileTable struct {
	c *Client
}

var _ backend.ProfileTable = (*ProfileTable)(nil)

const profilesTable = "profiles"

// from は1回の呼び出し用のPostgRESTクライアントでprofilesテーブルを指す。
// 行レベルセキュリティのため、ctxのアクセストークンで認証する。
func (t *ProfileTable) from(ctx context.Context, call *callTransport) (*postgrest.QueryBuilder, error) {
	pc := postgrest.NewClient(t.c.baseURL+"/rest/v1", "public", map[string]string{"apikey": t.c.anonKey})
	if pc.ClientError != nil {
		return nil, pc.ClientError
	}
	pc.SetAuthToken(t.c.bearer(ctx))
	pc.Transport.Parent = call
	return pc.From(profilesTable), nil
}

// Get はIDでプロフィールを取得する。存在しない場合は backend.ErrProfileNotFound を返す。
func (t *ProfileTable) Get(ctx context.Context, id string) (p *model.Profile, err error) {
	ctx, cancel := t.c.withTimeout(ctx)
	defer cancel()
	call := t.c.newCall(ctx, "profiles.get")
	start := time.Now()
	defer func() { err = t.c.finish(call, start, err) }()

	q, err := t.from(ctx, call)
	if err != nil {
		return nil, err
	}
	var rows []model.Profile
	if _, err := q.Select("*", "", false).Eq("id", id).ExecuteToWithContext(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, backend.ErrProfileNotFound
	}
	return &rows[0], nil
}

// Update は名前、自己紹介、アバターURLをまとめて更新する。
func (t *ProfileTable) Update(ctx context.Context, id string, fields model.ProfileFields) error {
	return t.update(ctx, "profiles.update", "id", id, fields)
}

// UpdateNameByEmail はメールアドレスが一致する行の名前を更新する。
func (t *ProfileTable) UpdateNameByEmail(ctx context.Context, email, name string) error {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	return t.update(ctx, "profiles.update_name", "email", email, body)
}

func (t *ProfileTable) update(ctx context.Context, op, column, value string, body any) (err error) {
	ctx, cancel := t.c.withTimeout(ctx)
	defer cancel()
	call := t.c.newCall(ctx, op)
	start := time.Now()
	defer func() { err = t.c.finish(call, start, err) }()

	q, err := t.from(ctx, call)
	if err != nil {
		return err
	}
	_, _, err = q.Update(body, "minimal", "").Eq(column, value).ExecuteWithContext(ctx)
	return err
}
