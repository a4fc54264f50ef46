package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vns/internal/middleware"
	"github.com/hitoshi/vns/internal/view"
)

// HealthChecker はデータベースの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HomeHandler はトップページ、ストアのスナップショットAPI、ヘルスチェックのハンドラー。
type HomeHandler struct {
	pages  *pages
	health HealthChecker
}

// Index はトップページを表示する。ログイン中は名前で挨拶する。
// GET /
func (h *HomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.pages.render(w, r, http.StatusOK, view.PageIndex, "", pc, view.Form{})
}

// Me はブラウザセッションのストアに保持しているユーザー情報を返す。
// GET /api/me
func (h *HomeHandler) Me(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.logger.Error("failed to load profile", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.store.User())
}

// Health はサーバーとデータベースの稼働状態を返す。
// GET /health
func (h *HomeHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			h.pages.logger.Error("health check failed", slog.String("error", err.Error()))
			status["status"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// NotFound は存在しないページへのアクセスにエラーページを返す。
func (h *HomeHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.pages.renderError(w, r, http.StatusNotFound, "ページが見つかりません")
}
