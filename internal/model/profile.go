// Package model はドメインモデルを定義する。
package model

// Profile はユーザーが編集できる公開プロフィールを表す。
// IDは認証ユーザーIDと一致する。サインアップ時に暗黙的に作成され、物理削除はしない。
type Profile struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	Introduce string  `json:"introduce"`
	AvatarURL *string `json:"avatar_url"`
}

// Avatar はアバター画像のURLを返す。未設定の場合は空文字列を返す。
func (p Profile) Avatar() string {
	if p.AvatarURL == nil {
		return ""
	}
	return *p.AvatarURL
}

// ProfileFields はプロフィール更新で書き換えるフィールドの集合。
// 1回の更新呼び出しでまとめて書き込む。
type ProfileFields struct {
	Name      string  `json:"name"`
	Introduce string  `json:"introduce"`
	AvatarURL *string `json:"avatar_url"`
}

// StringPtr は文字列のポインタを返す。
func StringPtr(s string) *string {
	return &s
}
