// Package supabase はSupabaseの認証（GoTrue）、ストレージ、PostgRESTのクライアントを提供する。
// いずれも supabase-community のGoクライアントを使い、backend パッケージのインターフェースを実装する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/vns/internal/backend"
)

// maxErrorBody はエラーレスポンスとして読み取る最大バイト数。
const maxErrorBody = 64 * 1024

// Client はSupabaseプロジェクトへのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	observer    backend.Observer
	baseURL     string
	anonKey     string
	redirectURL string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithObserver は呼び出し結果の観測先を設定する。
func WithObserver(o backend.Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithRedirectURL はメール確認の検証後にGoTrueがリダイレクトする先を設定する。
// 未設定の場合はプロジェクトURLを使う。
func WithRedirectURL(u string) Option {
	return func(c *Client) {
		c.redirectURL = u
	}
}

// NewClient はClientを生成する。baseURLはプロジェクトURL（例: https://xyz.supabase.co）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		observer:   backend.NopObserver{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.redirectURL == "" {
		c.redirectURL = c.baseURL
	}
	return c
}

// Auth は認証APIのクライアントを返す。
func (c *Client) Auth() *AuthClient {
	return &AuthClient{c: c}
}

// Storage は指定バケットのストレージAPIクライアントを返す。
func (c *Client) Storage(bucket string) *StorageClient {
	return &StorageClient{c: c, bucket: bucket}
}

// Profiles はprofilesテーブルのクライアントを返す。
func (c *Client) Profiles() *ProfileTable {
	return &ProfileTable{c: c}
}

// bearer は呼び出し元ユーザーのアクセストークンを返す。未ログインの場合はanonキー。
func (c *Client) bearer(ctx context.Context) string {
	if token, ok := backend.AccessTokenFromContext(ctx); ok {
		return token
	}
	return c.anonKey
}

// withTimeout は共有クライアントのタイムアウトをctxに反映する。
// http.Clientを差し替えられないライブラリの呼び出しで使う。
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.httpClient.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.httpClient.Timeout)
}

// callTransport は1回のAPI呼び出し専用のRoundTripper。
// ライブラリが組み立てたリクエストにctxと追加のクエリを付け、
// 4xx/5xxの応答からバックエンドのメッセージを取り出して保持する。
type callTransport struct {
	ctx     context.Context
	base    http.RoundTripper
	op      string
	query   url.Values
	failure *backend.Error
}

func (c *Client) newCall(ctx context.Context, op string) *callTransport {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &callTransport{ctx: ctx, base: base, op: op}
}

// RoundTrip はhttp.RoundTripperを実装する。
func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(t.ctx)
	if len(t.query) > 0 {
		q := req.URL.Query()
		for k, vs := range t.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	t.failure = &backend.Error{Op: t.op, Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	return resp, nil
}

// httpClient はcallTransportを通すhttp.Clientを返す。タイムアウトは共有クライアントに従う。
func (t *callTransport) httpClient(shared *http.Client) http.Client {
	return http.Client{Transport: t, Timeout: shared.Timeout}
}

// finish は呼び出し結果を観測し、エラーを呼び出し元に返す形に変換する。
// バックエンドがエラーステータスを返した場合は *backend.Error を返す。
func (c *Client) finish(t *callTransport, start time.Time, err error) error {
	if err != nil && t.failure != nil {
		err = t.failure
		c.logger.Warn("Supabase APIがエラーステータスを返しました",
			slog.String("op", t.op),
			slog.Int("http_status", t.failure.Status),
			slog.String("message", t.failure.Message),
		)
	} else if err != nil {
		if _, ok := backend.AsError(err); !ok {
			c.logger.Error("Supabase APIの呼び出しに失敗しました",
				slog.String("op", t.op),
				slog.String("error", err.Error()),
			)
			err = fmt.Errorf("%s: %w", t.op, err)
		}
	}
	c.observer.ObserveBackendCall(t.op, backend.Outcome(err), time.Since(start))
	return err
}

// errorBody はGoTrue、Storage、PostgRESTのエラーレスポンスの共通部分。
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

// errorMessage はエラーレスポンスからユーザーに表示するメッセージを取り出す。
func errorMessage(body []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
			if m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(status)
}
