// Package nav はページ共通のヘッダー（ナビゲーション）を組み立てる。
package nav

import (
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/store"
)

// DefaultAvatar はアバター未設定時に表示する画像のパス。
const DefaultAvatar = "/default.png"

// ページのパス
const (
	HomePath    = "/"
	ProfilePath = "/settings/profile"
	LoginPath   = "/auth/login"
	SignupPath  = "/auth/signup"
	LogoutPath  = "/auth/logout"
)

// Header はヘッダーの表示内容。
type Header struct {
	Authenticated bool
	AvatarURL     string
	ProfileHref   string
	LoginHref     string
	SignupHref    string
	LogoutHref    string
	HomeHref      string
}

// Shell はナビゲーションのヘッダーを組み立てる。
type Shell struct{}

// Header はセッションの状態をストアに同期してからヘッダーを返す。
// ストアへの書き込みはここ（Store.Sync）だけで行う。
func (Shell) Header(st *store.Store, session *model.AuthSession, profile *model.Profile) Header {
	st.Sync(session, profile)

	h := Header{HomeHref: HomePath}
	if session == nil {
		h.LoginHref = LoginPath
		h.SignupHref = SignupPath
		return h
	}

	h.Authenticated = true
	h.ProfileHref = ProfilePath
	h.LogoutHref = LogoutPath
	h.AvatarURL = DefaultAvatar
	if profile != nil && profile.Avatar() != "" {
		h.AvatarURL = profile.Avatar()
	}
	return h
}
