// Package view はHTMLページの描画を提供する。
//
// ページはhtml/templateで記述し、templのコンポーネントとしてレスポンスに書き出す。
package view

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/a-h/templ"

	"github.com/hitoshi/vns/internal/form"
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/nav"
	"github.com/hitoshi/vns/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/default.png
var defaultAvatar []byte

// ページ名
const (
	PageIndex   = "index.html"
	PageSignup  = "signup.html"
	PageLogin   = "login.html"
	PageProfile = "profile.html"
	PageError   = "error.html"
)

var pageNames = []string{PageIndex, PageSignup, PageLogin, PageProfile, PageError}

// Page はレイアウトとページ本体に渡すデータ。
type Page struct {
	Title     string
	Header    nav.Header
	CSRFToken string
	Form      Form
	User      model.Profile
	Message   string
}

// Form はフォームの表示状態。
type Form struct {
	Values     form.Values
	Errors     validation.Errors
	Message    string
	Submitting bool
	Succeeded  bool
	Failed     bool
}

// FormOf はコントローラーの現在の状態から表示状態を作る。
func FormOf(c *form.Controller) Form {
	state := c.State()
	return Form{
		Values:     c.Values(),
		Errors:     c.Errors(),
		Message:    c.Message(),
		Submitting: c.Submitting(),
		Succeeded:  state == form.StateSucceeded,
		Failed:     state == form.StateFailed,
	}
}

// Value はフィールドの入力値を返す。
func (f Form) Value(name string) string {
	return f.Values[name]
}

// Error はフィールドのエラーメッセージを返す。
func (f Form) Error(name string) string {
	return f.Errors[name]
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer はレイアウトと各ページのテンプレートを解析する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/message.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Component はページをtemplのコンポーネントとして返す。
func (r *Renderer) Component(name string, data Page) (templ.Component, error) {
	t, ok := r.pages[name]
	if !ok {
		return nil, fmt.Errorf("unknown page: %s", name)
	}
	return templ.FromGoHTML(t, data), nil
}

// Render はページを指定ステータスで書き出す。
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, data Page) {
	c, err := r.Component(name, data)
	if err != nil {
		http.Error(w, "内部エラーが発生しました。", http.StatusInternalServerError)
		return
	}
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, req)
}

// DefaultAvatarHandler はデフォルトのアバター画像を返す。
func DefaultAvatarHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write(defaultAvatar)
	})
}
