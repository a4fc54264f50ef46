// Package backend は外部の認証、ストレージ、プロフィールテーブルとの契約を定義する。
//
// 実装は internal/supabase（HTTP）、internal/storage/minio、internal/repository（SQL直結）にある。
// バックエンドが返したエラーは *Error として呼び出し元に伝え、メッセージはそのまま利用者に表示する。
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/vns/internal/model"
)

// AvatarBucket はアバター画像を格納するバケット名。
const AvatarBucket = "profile"

// OTPType はメール確認リンクの種別を表す。
type OTPType string

const (
	OTPSignup OTPType = "signup"
	OTPEmail  OTPType = "email"
)

// AuthClient は外部認証サービスのクライアント。
type AuthClient interface {
	// SignUp はアカウントを作成し、確認メールを送信させる。作成されたユーザーIDを返す。
	SignUp(ctx context.Context, email, password, redirectTo string) (string, error)
	SignInWithPassword(ctx context.Context, email, password string) (model.Tokens, error)
	VerifyOTP(ctx context.Context, tokenHash string, typ OTPType) (model.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	SignOut(ctx context.Context, accessToken string) error
}

// StorageClient はアバター画像のオブジェクトストレージ。
type StorageClient interface {
	// Upload はオブジェクトを保存し、保存先のパスを返す。
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, paths []string) error
	// PublicURL はオブジェクトの公開URLを返す。ネットワーク呼び出しは行わない。
	PublicURL(path string) string
}

// ProfileTable はプロフィールテーブルへのアクセスを表す。
type ProfileTable interface {
	Get(ctx context.Context, id string) (*model.Profile, error)
	// Update は名前、自己紹介、アバターURLを1回の呼び出しで書き換える。
	Update(ctx context.Context, id string, fields model.ProfileFields) error
	// UpdateNameByEmail はサインアップ直後にメールアドレスをキーとして名前を設定する。
	UpdateNameByEmail(ctx context.Context, email, name string) error
}

// ProfileProvisioner はプロフィール行を作成できるテーブル。
// 認証サービス側のトリガーで行が作られない構成（profilesを直接操作する場合）で使う。
type ProfileProvisioner interface {
	// Provision は行がなければ作成する。nameが空でなければ名前も設定する。
	// 既に行がありnameが空の場合は何もしない。
	Provision(ctx context.Context, id, email, name string) error
}

// Error はバックエンドが報告した失敗を表す。
// Messageはバックエンドが返した文言そのもの。
type Error struct {
	Op      string
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

// AsError はerrがバックエンドの報告した失敗であればそれを返す。
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// ErrProfileNotFound はプロフィール行が存在しないことを表す。
var ErrProfileNotFound = errors.New("profile not found")

type accessTokenKey struct{}

// WithAccessToken は呼び出し元ユーザーのアクセストークンをコンテキストに格納する。
// 行レベルセキュリティを適用するため、ストレージとテーブルの呼び出しはこのトークンで行う。
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext はコンテキストからアクセストークンを取り出す。
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey{}).(string)
	return token, ok && token != ""
}

// Observer はバックエンド呼び出しの結果と所要時間を受け取る。
type Observer interface {
	ObserveBackendCall(op string, outcome string, elapsed time.Duration)
}

// 呼び出し結果の分類
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Outcome はerrを呼び出し結果の分類に変換する。
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, new(*Error)):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// NopObserver は何もしないObserver。
type NopObserver struct{}

// ObserveBackendCall は何もしない。
func (NopObserver) ObserveBackendCall(string, string, time.Duration) {}
