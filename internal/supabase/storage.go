package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"

	"github.com/hitoshi/vns/internal/backend"
)

// StorageClient はSupabase Storageの1バケット分のクライアント。backend.StorageClientを実装する。
type StorageClient struct {
	c      *Client
	bucket string
}

var _ backend.StorageClient = (*StorageClient)(nil)

// cacheControl はアップロードしたオブジェクトのCache-Control。
const cacheControl = "max-age=3600"

// client は呼び出し元ユーザーのトークンで認証するstorage-goクライアントを返す。
func (s *StorageClient) client(ctx context.Context) *storage.Client {
	return storage.NewClient(s.c.baseURL+"/storage/v1", s.c.bearer(ctx), map[string]string{"apikey": s.c.anonKey})
}

// Upload はオブジェクトをアップロードする。同名のオブジェクトがある場合は上書きせずエラーになる。
func (s *StorageClient) Upload(ctx context.Context, path string, r io.Reader, _ int64, contentType string) (string, error) {
	upsert := false
	cc := cacheControl
	opts := storage.FileOptions{ContentType: &contentType, CacheControl: &cc, Upsert: &upsert}

	err := s.run(ctx, "storage.upload", func(sc *storage.Client) error {
		_, err := sc.UploadFile(s.bucket, escapePath(path), r, opts)
		return err
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Remove はオブジェクトを削除する。
func (s *StorageClient) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.run(ctx, "storage.remove", func(sc *storage.Client) error {
		_, err := sc.RemoveFile(s.bucket, paths)
		return err
	})
}

// PublicURL は公開バケット上のオブジェクトのURLを返す。
func (s *StorageClient) PublicURL(path string) string {
	return s.client(context.Background()).GetPublicUrl(s.bucket, escapePath(path)).SignedURL
}

// run はstorage-goの呼び出しをctxのキャンセルとタイムアウトに従わせる。
// storage-goはctxを受け取らないため、ctxが先に終わった場合は応答を待たずに戻る。
func (s *StorageClient) run(ctx context.Context, op string, fn func(*storage.Client) error) (err error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()
	call := s.c.newCall(ctx, op)
	start := time.Now()
	defer func() { err = s.c.finish(call, start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	sc := s.client(ctx)
	done := make(chan error, 1)
	go func() { done <- fn(sc) }()

	select {
	case err := <-done:
		return storageError(op, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// storageError はstorage-goのエラーを *backend.Error に変換する。
// storage-goはHTTPステータスを公開しないため、Statusはエラー本文のstatusか502になる。
func storageError(op string, err error) error {
	var se *storage.StorageError
	if !errors.As(err, &se) {
		return err
	}
	status := se.Status
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	msg := se.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &backend.Error{Op: op, Status: status, Message: msg}
}

func escapePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
