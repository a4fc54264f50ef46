package form

import "sync"

// Guard はキー単位で同時に1件の送信だけを許可する。
// 複数リクエストにまたがって共有し、同一ブラウザセッションからの二重送信を防ぐ。
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard はGuardを生成する。
func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// InFlight は指定キーの送信が処理中かどうかを返す。
func (g *Guard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}

func (g *Guard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[key]; ok {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}
