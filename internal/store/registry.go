package store

import (
	"sync"
	"time"

	"github.com/hitoshi/vns/internal/model"
)

// WriteRecorder はスナップショットの書き込みを記録する。
type WriteRecorder interface {
	RecordStoreWrite()
}

// RegistryOption はRegistryの設定を変更する。
type RegistryOption func(*Registry)

// WithWriteRecorder は生成するStoreすべてに、書き込みを記録する購読者を登録する。
func WithWriteRecorder(rec WriteRecorder) RegistryOption {
	return func(r *Registry) {
		r.recorder = rec
	}
}

type entry struct {
	store    *Store
	lastUsed time.Time
}

// Registry はブラウザセッションIDごとのStoreを保持する。
// サーバー全体で1つ生成し、ハンドラーへ注入する。
type Registry struct {
	mu       sync.Mutex
	stores   map[string]*entry
	now      func() time.Time
	recorder WriteRecorder
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{stores: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get は指定セッションのStoreを返す。存在しない場合は生成する。
func (r *Registry) Get(sessionID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.stores[sessionID]
	if !ok {
		e = &entry{store: New()}
		if rec := r.recorder; rec != nil {
			e.store.Subscribe(func(model.Profile) { rec.RecordStoreWrite() })
		}
		r.stores[sessionID] = e
	}
	e.lastUsed = r.now()
	return e.store
}

// Drop は指定セッションのStoreを破棄する。ログアウト時に呼ばれる。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, sessionID)
}

// Sweep はidle以上使われていないStoreを破棄し、破棄した数を返す。
// ログアウトせずに期限切れになったセッションのStoreを回収する。
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	n := 0
	for id, e := range r.stores {
		if e.lastUsed.Before(cutoff) {
			delete(r.stores, id)
			n++
		}
	}
	return n
}

// Len は保持しているStoreの数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
