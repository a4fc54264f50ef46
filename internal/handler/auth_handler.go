package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/form"
	"github.com/hitoshi/vns/internal/middleware"
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/nav"
	"github.com/hitoshi/vns/internal/validation"
	"github.com/hitoshi/vns/internal/view"
)

// MsgSignupSent はサインアップ成功時のメッセージ。
const MsgSignupSent = "確認メールを送信しました。メールに記載されているリンクをクリックしてください。"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie middleware.CookieConfig
}

// AuthHandler はサインアップ、ログイン、メール確認、ログアウトのHTTPハンドラー。
type AuthHandler struct {
	pages    *pages
	guard    *form.Guard
	recorder SubmissionRecorder
	config   AuthHandlerConfig
}

func newAuthHandler(p *pages, guard *form.Guard, recorder SubmissionRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{pages: p, guard: guard, recorder: recorder, config: config}
}

func signupForm(opts ...form.Option) *form.Controller {
	return form.New(validation.SignupSchema(), form.Values{
		validation.FieldName:     "",
		validation.FieldEmail:    "",
		validation.FieldPassword: "",
	}, opts...)
}

func loginForm(opts ...form.Option) *form.Controller {
	return form.New(validation.LoginSchema(), form.Values{
		validation.FieldEmail:    "",
		validation.FieldPassword: "",
	}, opts...)
}

// SignupPage はサインアップフォームを表示する。
// GET /auth/signup
func (h *AuthHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.pages.render(w, r, http.StatusOK, view.PageSignup, "サインアップ", pc, view.FormOf(signupForm()))
}

// Signup はアカウントを作成する。成功時は入力をリセットし、確認メール送信の案内を表示する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	c := signupForm(
		form.WithGuard(h.guard, guardKey(pc, r, formSignup)),
		form.WithLogger(h.pages.logger),
	)
	c.Fill(h.pages.plainText(
		postedValues(r, validation.FieldName, validation.FieldEmail, validation.FieldPassword),
		validation.FieldName,
	))

	res := c.Submit(func(ctx context.Context, v form.Values) form.Result {
		if err := h.pages.auth.SignUp(ctx, v[validation.FieldName], v[validation.FieldEmail], v[validation.FieldPassword]); err != nil {
			return h.pages.failure("signup", err)
		}
		return form.Succeeded(MsgSignupSent)
	})(r.Context())
	h.recorder.RecordSubmission(formSignup, outcomeOf(res))

	if res.OK() {
		c.Reset()
	}
	h.pages.render(w, r, statusOf(res), view.PageSignup, "サインアップ", pc, formView(c, res))
}

// LoginPage はログインフォームを表示する。
// GET /auth/login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.pages.render(w, r, http.StatusOK, view.PageLogin, "ログイン", pc, view.FormOf(loginForm()))
}

// Login はメールアドレスとパスワードでログインし、トップページへリダイレクトする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	c := loginForm(
		form.WithGuard(h.guard, guardKey(pc, r, formLogin)),
		form.WithLogger(h.pages.logger),
	)
	c.Fill(postedValues(r, validation.FieldEmail, validation.FieldPassword))

	var session *model.Session
	res := c.Submit(func(ctx context.Context, v form.Values) form.Result {
		s, err := h.pages.auth.SignIn(ctx, v[validation.FieldEmail], v[validation.FieldPassword])
		if err != nil {
			return h.pages.failure("login", err)
		}
		session = s
		return form.Succeeded("")
	})(r.Context())
	h.recorder.RecordSubmission(formLogin, outcomeOf(res))

	if res.OK() && session != nil {
		middleware.SetSessionCookie(w, session.ID, h.config.Cookie)
		http.Redirect(w, r, nav.HomePath, http.StatusSeeOther)
		return
	}
	h.pages.render(w, r, statusOf(res), view.PageLogin, "ログイン", pc, formView(c, res))
}

// Callback は確認メールのリンクを処理し、ログイン状態にしてトップページへリダイレクトする。
// GET /auth/callback?token_hash=xxx&type=signup
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	tokenHash := r.URL.Query().Get("token_hash")
	if tokenHash == "" {
		h.pages.renderError(w, r, http.StatusBadRequest, "確認リンクが正しくありません")
		return
	}

	typ := backend.OTPType(r.URL.Query().Get("type"))
	switch typ {
	case backend.OTPSignup, backend.OTPEmail:
	case "":
		typ = backend.OTPEmail
	default:
		h.pages.renderError(w, r, http.StatusBadRequest, "確認リンクが正しくありません")
		return
	}

	session, err := h.pages.auth.VerifyEmail(r.Context(), tokenHash, typ)
	if err != nil {
		res := h.pages.failure("verify", err)
		h.pages.renderError(w, r, http.StatusBadRequest, res.Message)
		return
	}

	middleware.SetSessionCookie(w, session.ID, h.config.Cookie)
	http.Redirect(w, r, nav.HomePath, http.StatusSeeOther)
}

// Logout はセッションを破棄し、ログインページへリダイレクトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session, ok := middleware.SessionFromContext(r.Context()); ok {
		if err := h.pages.auth.Logout(r.Context(), session.ID); err != nil {
			// ログアウトに失敗してもCookieはクリアする
			h.pages.logger.Error("failed to logout", slog.String("error", err.Error()))
		}
		h.pages.stores.Drop(session.ID)
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	http.Redirect(w, r, nav.LoginPath, http.StatusSeeOther)
}
