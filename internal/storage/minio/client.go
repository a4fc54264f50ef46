// Package minio はMinIO（S3互換）をアバター画像のストレージとして使うアダプターを提供する。
// STORAGE_DRIVER=minio のときに backend.StorageClient として使われる。
package minio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/hitoshi/vns/internal/backend"
)

// minioAPI はテストで差し替えるためのMinIOクライアントの部分集合。
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var _ backend.StorageClient = (*Client)(nil)

// Client はMinIOの1バケット分のストレージクライアント。
type Client struct {
	api       minioAPI
	bucket    string
	publicURL string
	observer  backend.Observer
}

// NewClient は *minio.Client を使うClientを生成する。
// publicURLはブラウザからバケットを参照するときのベースURL。
func NewClient(ctx context.Context, client *minio.Client, bucket, publicURL string, observer backend.Observer) (*Client, error) {
	return NewClientWithAPI(ctx, client, bucket, publicURL, observer)
}

// NewClientWithAPI はminioAPIを注入してClientを生成する。バケットがなければ作成し、公開読み取りを許可する。
func NewClientWithAPI(ctx context.Context, api minioAPI, bucket, publicURL string, observer backend.Observer) (*Client, error) {
	if observer == nil {
		observer = backend.NopObserver{}
	}
	c := &Client{
		api:       api,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		observer:  observer,
	}

	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	if err := c.api.SetBucketPolicy(ctx, c.bucket, publicReadPolicy(c.bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

// Upload はオブジェクトを保存し、保存先のパスを返す。
func (c *Client) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (_ string, err error) {
	start := time.Now()
	defer func() { c.observer.ObserveBackendCall("storage.upload", backend.Outcome(err), time.Since(start)) }()

	if size <= 0 {
		size = -1
	}
	_, err = c.api.PutObject(ctx, c.bucket, path, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return "", wrap("storage.upload", err)
	}
	return path, nil
}

// Remove はオブジェクトを削除する。存在しないオブジェクトの削除はエラーにならない。
func (c *Client) Remove(ctx context.Context, paths []string) (err error) {
	start := time.Now()
	defer func() { c.observer.ObserveBackendCall("storage.remove", backend.Outcome(err), time.Since(start)) }()

	for _, p := range paths {
		if err = c.api.RemoveObject(ctx, c.bucket, p, minio.RemoveObjectOptions{}); err != nil {
			return wrap("storage.remove", err)
		}
	}
	return nil
}

// PublicURL はオブジェクトの公開URLを返す。
func (c *Client) PublicURL(path string) string {
	return c.publicURL + "/" + c.bucket + "/" + path
}

// wrap はMinIOが返したS3エラーを backend.Error に変換する。
// 通信エラーなどS3エラーでないものはそのままラップする。
func wrap(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		msg := resp.Message
		if msg == "" {
			msg = resp.Code
		}
		return &backend.Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
