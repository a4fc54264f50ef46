package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vns/internal/avatar"
	"github.com/hitoshi/vns/internal/form"
	"github.com/hitoshi/vns/internal/model"
	"github.com/hitoshi/vns/internal/profile"
	"github.com/hitoshi/vns/internal/validation"
	"github.com/hitoshi/vns/internal/view"
)

// fieldAvatar はアバター画像のフォームフィールド名。
const fieldAvatar = "avatar"

// multipartMemory はmultipartフォームをメモリに保持する上限。
const multipartMemory = 4 << 20

// ProfileService はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileService interface {
	Update(ctx context.Context, session *model.Session, current model.Profile, in profile.UpdateInput) (*model.Profile, error)
}

// ProfileHandler はプロフィール編集のHTTPハンドラー。
type ProfileHandler struct {
	pages    *pages
	service  ProfileService
	guard    *form.Guard
	recorder SubmissionRecorder
}

func newProfileHandler(p *pages, service ProfileService, guard *form.Guard, recorder SubmissionRecorder) *ProfileHandler {
	return &ProfileHandler{pages: p, service: service, guard: guard, recorder: recorder}
}

// profileForm はストアのプロフィールを初期値とするフォームを返す。
func profileForm(current model.Profile, opts ...form.Option) *form.Controller {
	return form.New(validation.ProfileSchema(), form.Values{
		validation.FieldName:      current.Name,
		validation.FieldIntroduce: current.Introduce,
	}, opts...)
}

// Show はプロフィール編集フォームを表示する。
// GET /settings/profile
func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.pages.render(w, r, http.StatusOK, view.PageProfile, "プロフィール", pc, view.FormOf(profileForm(pc.store.User())))
}

// Update はプロフィールを更新する。
// 画像が選択されていない場合は名前と自己紹介のみを更新する。
// 選択された画像が検査に通らない場合はエラーを表示し、画像以外の更新は続ける。
// POST /settings/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	pc, err := h.pages.load(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.pages.logger.Warn("failed to parse profile form", slog.String("error", err.Error()))
		h.pages.renderError(w, r, http.StatusBadRequest, form.DefaultFaultMessage)
		return
	}

	file, fileError, closeFile := selectedAvatar(r)
	defer closeFile()

	c := profileForm(pc.store.User(),
		form.WithGuard(h.guard, guardKey(pc, r, formProfile)),
		form.WithFaultMessage(profile.MsgUpdateFailed),
		form.WithLogger(h.pages.logger),
	)
	c.Fill(h.pages.plainText(
		postedValues(r, validation.FieldName, validation.FieldIntroduce),
		validation.FieldName, validation.FieldIntroduce,
	))

	var updated *model.Profile
	res := c.Submit(func(ctx context.Context, v form.Values) form.Result {
		p, err := h.service.Update(ctx, pc.session, pc.store.User(), profile.UpdateInput{
			Name:      v[validation.FieldName],
			Introduce: v[validation.FieldIntroduce],
			Avatar:    file,
		})
		if err != nil {
			h.pages.logger.Warn("profile update failed",
				slog.String("user_id", pc.session.UserID),
				slog.String("error", err.Error()),
			)
			return form.Failed(profile.Message(err))
		}
		updated = p
		return form.Succeeded(profile.MsgUpdated)
	})(r.Context())
	h.recorder.RecordSubmission(formProfile, outcomeOf(res))

	if res.OK() && updated != nil {
		// 更新後のプロフィールでヘッダーを組み立て直し、ストアに反映する
		h.pages.sync(pc, updated)
	}

	f := formView(c, res)
	if fileError != "" {
		f.Errors[fieldAvatar] = fileError
	}
	h.pages.render(w, r, statusOf(res), view.PageProfile, "プロフィール", pc, f)
}

// selectedAvatar はフォームで選択された画像を取り出す。
// 画像が選択されていなければfileはnil、検査に通らなければエラーメッセージを返す。
func selectedAvatar(r *http.Request) (file *avatar.File, fileError string, closeFile func()) {
	closeFile = func() {}
	if r.MultipartForm == nil {
		return nil, "", closeFile
	}
	headers := r.MultipartForm.File[fieldAvatar]
	if len(headers) == 0 || (headers[0].Filename == "" && headers[0].Size == 0) {
		return nil, "", closeFile
	}

	fh := headers[0]
	f := &avatar.File{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
	}
	if msg := avatar.Check(f); msg != "" {
		return nil, msg, closeFile
	}

	content, err := fh.Open()
	if err != nil {
		return nil, avatar.MsgNoFile, closeFile
	}
	f.Content = content
	return f, "", func() { content.Close() }
}
