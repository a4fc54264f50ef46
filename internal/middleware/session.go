package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vns/internal/model"
)

// SessionCookieName はWebセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

type contextKey string

const sessionContextKey contextKey = "session"

// SessionLoader はセッションIDからWebセッションを取得する。
// 期限切れのアクセストークンの更新も含めて呼び出し側に任せる。
type SessionLoader interface {
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int
}

// NewSessionMiddleware はCookieのセッションIDからWebセッションを読み込み、
// コンテキストに格納するミドルウェアを返す。
// セッションがない場合は未ログインとしてそのまま次に渡す。
func NewSessionMiddleware(loader SessionLoader, cookie CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(SessionCookieName)
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := loader.CurrentSession(r.Context(), c.Value)
			if errors.Is(err, model.ErrSessionNotFound) {
				// 期限切れまたは無効化されたセッションのCookieは消しておく
				ClearSessionCookie(w, cookie)
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				slog.Error("failed to load session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				http.Error(w, "内部エラーが発生しました。", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// RequireSession はセッションのないリクエストをログインページへリダイレクトする。
// NewSessionMiddleware の後に配置する。
func RequireSession(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SessionFromContext(r.Context()); !ok {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSessionAPI はセッションのないAPIリクエストに401を返す。
func RequireSessionAPI() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SessionFromContext(r.Context()); !ok {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedirectIfAuthenticated はログイン済みのリクエストを指定パスへリダイレクトする。
// ログイン・サインアップページに使う。
func RedirectIfAuthenticated(to string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SessionFromContext(r.Context()); ok {
				http.Redirect(w, r, to, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetSessionCookie はセッションIDをCookieに設定する。
func SetSessionCookie(w http.ResponseWriter, sessionID string, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はコンテキストからWebセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	return session, ok && session != nil
}

// ContextWithSession はWebセッションをコンテキストに格納する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// UserIDFromContext はコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return session.UserID, nil
}
