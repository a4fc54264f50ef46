// Package handler はHTTPハンドラーを提供する。
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
	"github.com/hitoshi/vns/internal/security"
	"github.com/hitoshi/vns/internal/store"
	"github.com/hitoshi/vns/internal/view"
)

// AuthService は認証ハンドラーとページ描画が必要とするサービスインターフェース。
type AuthService interface {
	SignUp(ctx context.Context, name, email, password string) error
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	VerifyEmail(ctx context.Context, tokenHash string, typ backend.OTPType) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	Profile(ctx context.Context, session *model.Session) (*model.Profile, error)
}

// SubmissionRecorder はフォーム送信の結果を記録する。
type SubmissionRecorder interface {
	RecordSubmission(form, outcome string)
}

// フォーム名。メトリクスのラベルと多重送信ガードのキーに使う。
const (
	formSignup  = "signup"
	formLogin   = "login"
	formProfile = "profile"
)

// pageContext は1リクエスト分のページ描画に必要な状態。
type pageContext struct {
	session *model.Session
	profile *model.Profile
	store   *store.Store
	header  nav.Header
	csrf    string
}

// pages はページ描画の共通処理をまとめる。
type pages struct {
	auth      AuthService
	renderer  *view.Renderer
	stores    *store.Registry
	shell     nav.Shell
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// load はセッションのプロフィールを取得し、ヘッダーを組み立てる。
// ヘッダーの組み立てでストアが同期される。
func (p *pages) load(r *http.Request) (*pageContext, error) {
	ctx := r.Context()
	pc := &pageContext{csrf: middleware.CSRFTokenFromContext(ctx)}

	session, ok := middleware.SessionFromContext(ctx)
	if !ok {
		pc.store = store.New()
		pc.header = p.shell.Header(pc.store, nil, nil)
		return pc, nil
	}

	profile, err := p.auth.Profile(ctx, session)
	if err != nil {
		return nil, err
	}
	pc.session = session
	pc.profile = profile
	pc.store = p.stores.Get(session.ID)
	p.sync(pc, profile)
	return pc, nil
}

// sync は新しいプロフィールでヘッダーを組み立て直す。
func (p *pages) sync(pc *pageContext, profile *model.Profile) {
	auth := pc.session.Auth()
	pc.profile = profile
	pc.header = p.shell.Header(pc.store, &auth, profile)
}

func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name, title string, pc *pageContext, f view.Form) {
	p.renderer.Render(w, r, status, name, view.Page{
		Title:     title,
		Header:    pc.header,
		CSRFToken: pc.csrf,
		Form:      f,
		User:      pc.store.User(),
	})
}

// fail はページの準備に失敗した場合のエラーページを返す。
func (p *pages) fail(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("failed to prepare page",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	p.renderError(w, r, http.StatusInternalServerError, form.DefaultFaultMessage)
}

func (p *pages) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	p.renderer.Render(w, r, status, view.PageError, view.Page{
		Title:   "エラー",
		Header:  nav.Header{HomeHref: nav.HomePath, LoginHref: nav.LoginPath, SignupHref: nav.SignupPath},
		Message: message,
	})
}

// failure はバックエンド呼び出しのエラーをフォームの失敗結果に変換する。
// バックエンドが報告した失敗はそのメッセージを表示し、想定外の障害は汎用メッセージのみとする。
func (p *pages) failure(op string, err error) form.Result {
	if be, ok := backend.AsError(err); ok {
		p.logger.Info("backend rejected request",
			slog.String("op", op),
			slog.Int("status", be.Status),
			slog.String("message", be.Message),
		)
		return form.Failed(form.DefaultFaultMessage + be.Message)
	}
	p.logger.Error("unexpected failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return form.Failed(form.DefaultFaultMessage)
}

// guardKey はブラウザ単位の多重送信ガードのキーを返す。
// ログイン前はCSRFトークンでブラウザを識別する。
func guardKey(pc *pageContext, r *http.Request, formName string) string {
	switch {
	case pc.session != nil:
		return "session:" + pc.session.ID + ":" + formName
	case pc.csrf != "":
		return "csrf:" + pc.csrf + ":" + formName
	default:
		return "addr:" + r.RemoteAddr + ":" + formName
	}
}

// postedValues はフォームから指定フィールドの値を取り出す。
func postedValues(r *http.Request, fields ...string) form.Values {
	v := make(form.Values, len(fields))
	for _, f := range fields {
		v[f] = r.PostFormValue(f)
	}
	return v
}

// plainText は自由入力のフィールドからマークアップを取り除く。
// 検証は除去後の値に対して行い、保存されるのもその値になる。
func (p *pages) plainText(v form.Values, fields ...string) form.Values {
	for _, f := range fields {
		v[f] = p.sanitizer.Sanitize(v[f])
	}
	return v
}

// formView は送信結果を反映した表示状態を返す。
func formView(c *form.Controller, res form.Result) view.Form {
	f := view.FormOf(c)
	if res.Status == form.StatusBusy {
		f.Message = res.Message
		f.Failed = true
	}
	return f
}

func statusOf(res form.Result) int {
	switch res.Status {
	case form.StatusInvalid:
		return http.StatusUnprocessableEntity
	case form.StatusBusy:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func outcomeOf(res form.Result) string {
	switch res.Status {
	case form.StatusSucceeded:
		return "succeeded"
	case form.StatusInvalid:
		return "invalid"
	case form.StatusBusy:
		return "busy"
	default:
		return "failed"
	}
}
