// Package store はブラウザセッション単位で共有するプロフィールのスナップショットを管理する。
//
// スナップショットへの書き込みは Sync（ナビゲーション表示時のセッション同期）に限定する。
// 読み手は User でコピーを受け取り、ストアの内部状態を直接変更しない。
package store

import (
	"sync"

	"github.com/hitoshi/vns/internal/model"
)

// Listener はスナップショット更新時に呼ばれるコールバック。
type Listener func(user model.Profile)

// Store は直近に判明したプロフィールのスナップショットを保持する。
type Store struct {
	mu        sync.RWMutex
	user      model.Profile
	synced    bool
	lastKey   syncKey
	listeners map[int]Listener
	nextID    int
}

// syncKey はSyncの依存キー。セッションの識別情報とプロフィール内容の組。
type syncKey struct {
	authenticated bool
	userID        string
	email         string
	profile       bool
	name          string
	introduce     string
	avatar        string
	avatarSet     bool
}

// New は空のスナップショットを持つStoreを生成する。
func New() *Store {
	return &Store{listeners: make(map[int]Listener)}
}

// User はスナップショットのコピーを返す。
func (s *Store) User() model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.user)
}

// SetUser はスナップショットを丸ごと置き換える。部分的なマージは行わない。
func (s *Store) SetUser(user model.Profile) {
	s.mu.Lock()
	listeners := s.replaceLocked(user)
	s.mu.Unlock()

	notify(listeners, user)
}

// Sync はセッションとプロフィールからスナップショットを組み立てて書き込む。
// 前回のSyncと依存キー（セッション識別情報、プロフィール内容）が同じ場合は何もしない。
// 書き込んだ場合はtrueを返す。
// キーの比較と記録、スナップショットの置き換えは1つのロック区間で行うため、
// 同時に呼ばれても記録されたキーとスナップショットが食い違うことはない。
//
// セッションがない場合は空のプロフィールを書き込む。
// セッションがありプロフィールが取得できていない場合はIDとメールアドレスのみを設定する。
func (s *Store) Sync(session *model.AuthSession, profile *model.Profile) bool {
	key := keyOf(session, profile)
	user := build(session, profile)

	s.mu.Lock()
	if s.synced && s.lastKey == key {
		s.mu.Unlock()
		return false
	}
	s.synced = true
	s.lastKey = key
	listeners := s.replaceLocked(user)
	s.mu.Unlock()

	notify(listeners, user)
	return true
}

// replaceLocked はs.muを保持した状態で呼ぶ。通知先のコピーを返す。
func (s *Store) replaceLocked(user model.Profile) []Listener {
	s.user = clone(user)
	return s.snapshotListeners()
}

func notify(listeners []Listener, user model.Profile) {
	for _, fn := range listeners {
		fn(clone(user))
	}
}

// Subscribe はスナップショット更新時に呼ばれるコールバックを登録する。
// 戻り値の関数を呼ぶと登録を解除する。
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func build(session *model.AuthSession, profile *model.Profile) model.Profile {
	if session == nil {
		return model.Profile{}
	}
	user := model.Profile{ID: session.UserID, Email: session.Email}
	if profile != nil {
		user.Name = profile.Name
		user.Introduce = profile.Introduce
		user.AvatarURL = profile.AvatarURL
	}
	return user
}

func keyOf(session *model.AuthSession, profile *model.Profile) syncKey {
	var k syncKey
	if session == nil {
		return k
	}
	k.authenticated = true
	k.userID = session.UserID
	k.email = session.Email
	if profile != nil {
		k.profile = true
		k.name = profile.Name
		k.introduce = profile.Introduce
		if profile.AvatarURL != nil {
			k.avatarSet = true
			k.avatar = *profile.AvatarURL
		}
	}
	return k
}

func clone(p model.Profile) model.Profile {
	if p.AvatarURL != nil {
		p.AvatarURL = model.StringPtr(*p.AvatarURL)
	}
	return p
}
