// Package form はフォーム入力のバインド、検証、送信状態の管理を提供する。
//
// Controller はフォーム1インスタンス分の状態（値、フィールドごとのエラー、送信中フラグ）を保持する。
// 送信時はまずスキーマで全フィールドを検証し、すべて有効な場合のみハンドラーを呼び出す。
// 送信中フラグはハンドラーの終了経路（成功、失敗、panic）によらず必ず解除される。
package form

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/vns/internal/validation"
)

// DefaultFaultMessage は想定外の障害をユーザーに伝える汎用メッセージ。
const DefaultFaultMessage = "エラーが発生しました"

// BusyMessage は同一フォームの送信が処理中の場合のメッセージ。
const BusyMessage = "送信処理中です。しばらくお待ちください。"

// Values はフィールド名から入力値への対応を表す。
type Values map[string]string

// State はフォーム送信のワークフロー状態を表す。
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status は送信結果の種別を表す。
type Status int

const (
	// StatusSucceeded はハンドラーが成功を返したことを示す。
	StatusSucceeded Status = iota
	// StatusFailed はハンドラーが失敗を返したか、想定外の障害が発生したことを示す。
	StatusFailed
	// StatusInvalid は検証に失敗し、ハンドラーが呼ばれなかったことを示す。
	StatusInvalid
	// StatusBusy は同一フォームの送信が処理中で、ハンドラーが呼ばれなかったことを示す。
	StatusBusy
)

// Result は送信ハンドラーの結果。成功か失敗かとユーザー向けメッセージを持つ。
type Result struct {
	Status  Status
	Message string
}

// OK は結果が成功かどうかを返す。
func (r Result) OK() bool {
	return r.Status == StatusSucceeded
}

// Succeeded は成功結果を生成する。
func Succeeded(message string) Result {
	return Result{Status: StatusSucceeded, Message: message}
}

// Failed は失敗結果を生成する。
func Failed(message string) Result {
	return Result{Status: StatusFailed, Message: message}
}

// Handler は検証済みの入力値を受け取り、バックエンド呼び出しを行う送信ハンドラー。
// ユーザー向けメッセージの生成はハンドラーの責務とする。
type Handler func(ctx context.Context, values Values) Result

// Option はControllerの設定を変更する。
type Option func(*Controller)

// WithGuard は同一キーでの同時送信を防ぐガードを設定する。
func WithGuard(guard *Guard, key string) Option {
	return func(c *Controller) {
		c.guard = guard
		c.guardKey = key
	}
}

// WithFaultMessage は想定外の障害発生時に返すメッセージを設定する。
func WithFaultMessage(message string) Option {
	return func(c *Controller) {
		c.faultMessage = message
	}
}

// WithLogger は障害のログ出力先を設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller はフォーム1インスタンス分の状態を管理する。
type Controller struct {
	mu sync.Mutex

	schema   validation.Schema
	defaults Values
	values   Values
	errors   validation.Errors

	state      State
	submitting bool
	message    string

	guard        *Guard
	guardKey     string
	faultMessage string
	logger       *slog.Logger
}

// New はControllerを生成する。defaultsはReset時の初期値としても使われる。
func New(schema validation.Schema, defaults Values, opts ...Option) *Controller {
	c := &Controller{
		schema:       schema,
		defaults:     copyValues(defaults),
		values:       copyValues(defaults),
		errors:       make(validation.Errors),
		faultMessage: DefaultFaultMessage,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register はフィールドのバインディングを返す。
func (c *Controller) Register(field string) *Binding {
	return &Binding{c: c, name: field}
}

// Fill は複数フィールドの値をまとめて設定する。
func (c *Controller) Fill(values Values) {
	for name, v := range values {
		c.Register(name).Set(v)
	}
}

// Submit は送信コールバックを返す。
//
// コールバックはスキーマで全フィールドを検証し、失敗した場合はエラーを設定して
// ハンドラーを呼ばずに返る。このとき前回の送信結果メッセージは保持する。
// 検証に通った場合は送信中フラグを立ててハンドラーを呼び出し、
// 終了時に必ずフラグを解除する。
func (c *Controller) Submit(h Handler) func(ctx context.Context) Result {
	return func(ctx context.Context) Result {
		values, res, ok := c.begin()
		if !ok {
			return res
		}
		return c.run(ctx, h, values)
	}
}

// begin は検証と送信中状態への遷移を行う。
// ハンドラーを呼ぶべきでない場合はokにfalseを返す。
func (c *Controller) begin() (Values, Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateValidating
	values := copyValues(c.values)

	errs := c.schema.Validate(values)
	if errs.HasErrors() {
		c.errors = errs
		c.state = StateIdle
		return nil, Result{Status: StatusInvalid}, false
	}
	c.errors = make(validation.Errors)

	if c.submitting {
		c.state = StateSubmitting
		return nil, Result{Status: StatusBusy, Message: BusyMessage}, false
	}

	if c.guard != nil {
		if !c.guard.acquire(c.guardKey) {
			c.state = StateIdle
			return nil, Result{Status: StatusBusy, Message: BusyMessage}, false
		}
	}

	c.submitting = true
	c.state = StateSubmitting
	return values, Result{}, true
}

// run はハンドラーを呼び出す。panicは失敗結果に変換する。
func (c *Controller) run(ctx context.Context, h Handler, values Values) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("form handler panicked",
				slog.Any("panic", rec),
			)
			res = Failed(c.faultMessage)
		}
		c.finish(res)
	}()

	return h(ctx, values)
}

// finish は送信中フラグを解除し、結果に応じた終端状態に遷移する。
func (c *Controller) finish(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitting = false
	if c.guard != nil {
		c.guard.release(c.guardKey)
	}

	c.message = res.Message
	if res.OK() {
		c.state = StateSucceeded
	} else {
		c.state = StateFailed
	}
}

// Errors はフィールドごとのエラーメッセージのコピーを返す。
func (c *Controller) Errors() validation.Errors {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(validation.Errors, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

// Submitting は送信処理中かどうかを返す。
func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// State は現在のワークフロー状態を返す。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Message は直近の送信でハンドラーが返したメッセージを返す。
func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Values は現在の入力値のコピーを返す。
func (c *Controller) Values() Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyValues(c.values)
}

// Reset は入力値を初期値に戻し、フィールドエラーを消去する。
// 送信結果メッセージは保持する。
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = copyValues(c.defaults)
	c.errors = make(validation.Errors)
	c.leaveTerminal()
}

// leaveTerminal は終端状態からIdleに戻す。呼び出し側でロックを保持すること。
func (c *Controller) leaveTerminal() {
	if c.state == StateSucceeded || c.state == StateFailed {
		c.state = StateIdle
	}
}

func copyValues(v Values) Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
