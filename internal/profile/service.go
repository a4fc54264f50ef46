// Package profile はプロフィール編集（名前、自己紹介、アバター画像の差し替え）のワークフローを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/vns/internal/avatar"
	"github.com/hitoshi/vns/internal/backend"
	"github.com/hitoshi/vns/internal/model"
)

// 結果メッセージ
const (
	MsgUpdated      = "プロフィールを更新しました"
	MsgUploadFailed = "画像のアップロードに失敗しました"
	MsgUpdateFailed = "プロフィールの更新に失敗しました"
)

// Step は失敗した処理段階を表す。
type Step int

const (
	StepUpload Step = iota
	StepUpdate
)

// StepError はどの段階で失敗したかを保持するエラー。
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	switch e.Step {
	case StepUpload:
		return "upload avatar: " + e.Err.Error()
	default:
		return "update profile: " + e.Err.Error()
	}
}

func (e *StepError) Unwrap() error { return e.Err }

// Message はエラーを利用者向けのメッセージに変換する。
// バックエンドが報告した失敗はそのメッセージを段階ごとの見出しに続けて表示する。
// それ以外の想定外の障害は見出しのみとする。
func Message(err error) string {
	prefix := MsgUpdateFailed
	var se *StepError
	if errors.As(err, &se) && se.Step == StepUpload {
		prefix = MsgUploadFailed
	}
	if be, ok := backend.AsError(err); ok {
		return prefix + be.Message
	}
	return prefix
}

// DeleteFailureRecorder は旧アバター削除の失敗を記録する。
type DeleteFailureRecorder interface {
	RecordAvatarDeleteFailure()
}

// UpdateInput はプロフィール編集フォームの入力。Avatarがnilの場合は画像を変更しない。
// NameとIntroduceはマークアップ除去と検証を済ませた値で、そのまま保存する。
type UpdateInput struct {
	Name      string
	Introduce string
	Avatar    *avatar.File
}

// Service はプロフィール編集のビジネスロジックを提供する。
type Service struct {
	storage  backend.StorageClient
	profiles backend.ProfileTable
	recorder DeleteFailureRecorder
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	storage backend.StorageClient,
	profiles backend.ProfileTable,
	recorder DeleteFailureRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		storage:  storage,
		profiles: profiles,
		recorder: recorder,
		logger:   logger,
	}
}

// Update はプロフィールを更新し、更新後のプロフィールを返す。
//
// 新しいアバター画像がある場合は {ユーザーID}/{UUID} にアップロードし、
// アップロードが成功してから旧画像を削除する。旧画像の削除失敗はログとメトリクスに記録するだけで、
// 更新は続行する。その後、名前、自己紹介、アバターURLを1回の呼び出しで書き換える。
// 呼び出しはすべて順番に行い、いずれかのバックエンドエラーで中断する。
func (s *Service) Update(ctx context.Context, session *model.Session, current model.Profile, in UpdateInput) (*model.Profile, error) {
	ctx = backend.WithAccessToken(ctx, session.AccessToken)
	userID := session.UserID

	avatarURL := current.AvatarURL
	if in.Avatar != nil {
		if msg := avatar.Check(in.Avatar); msg != "" {
			return nil, fmt.Errorf("avatar rejected: %s", msg)
		}

		path, err := s.storage.Upload(ctx, avatar.NewObjectPath(userID), in.Avatar.Content, in.Avatar.Size, in.Avatar.ContentType)
		if err != nil {
			return nil, &StepError{Step: StepUpload, Err: err}
		}

		if old, ok := avatar.ObjectPathFromURL(userID, current.Avatar()); ok {
			s.removeOld(ctx, userID, old)
		}

		avatarURL = model.StringPtr(s.storage.PublicURL(path))
	}

	fields := model.ProfileFields{
		Name:      in.Name,
		Introduce: in.Introduce,
		AvatarURL: avatarURL,
	}
	if err := s.profiles.Update(ctx, userID, fields); err != nil {
		return nil, &StepError{Step: StepUpdate, Err: err}
	}

	s.logger.Info("profile updated",
		slog.String("user_id", userID),
		slog.Bool("avatar_changed", in.Avatar != nil),
	)

	return &model.Profile{
		ID:        userID,
		Email:     current.Email,
		Name:      fields.Name,
		Introduce: fields.Introduce,
		AvatarURL: fields.AvatarURL,
	}, nil
}

func (s *Service) removeOld(ctx context.Context, userID, path string) {
	if err := s.storage.Remove(ctx, []string{path}); err != nil {
		s.recorder.RecordAvatarDeleteFailure()
		s.logger.Warn("failed to remove old avatar",
			slog.String("user_id", userID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
