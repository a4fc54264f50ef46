// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワークフロー、バックエンドクライアント、ワーカーから利用する。
type MetricsCollector interface {
	RecordSubmission(form, outcome string)
	ObserveBackendCall(op, outcome string, elapsed time.Duration)
	RecordAvatarDeleteFailure()
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
	RecordStoreWrite()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	submissions         *prometheus.CounterVec
	backendLatency      *prometheus.HistogramVec
	avatarDeleteFailure prometheus.Counter
	httpStatus          *prometheus.CounterVec
	sessionsCleaned     prometheus.Counter
	storeWrites         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vns_form_submissions_total",
			Help: "フォーム送信の結果別の合計数",
		}, []string{"form", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vns_backend_call_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		avatarDeleteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vns_avatar_delete_failures_total",
			Help: "アップロード後の旧アバター削除に失敗した合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vns_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vns_sessions_cleaned_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
		storeWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vns_session_store_writes_total",
			Help: "セッションストアのスナップショットを書き換えた合計数",
		}),
	}

	reg.MustRegister(
		c.submissions,
		c.backendLatency,
		c.avatarDeleteFailure,
		c.httpStatus,
		c.sessionsCleaned,
		c.storeWrites,
	)

	return c
}

// RecordSubmission はフォーム送信の結果を記録する。
func (c *Collector) RecordSubmission(form, outcome string) {
	c.submissions.WithLabelValues(form, outcome).Inc()
}

// ObserveBackendCall はバックエンド呼び出しのレイテンシを記録する。backend.Observerを実装する。
func (c *Collector) ObserveBackendCall(op, outcome string, elapsed time.Duration) {
	c.backendLatency.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
}

// RecordAvatarDeleteFailure は旧アバター削除の失敗を記録する。
func (c *Collector) RecordAvatarDeleteFailure() {
	c.avatarDeleteFailure.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordStoreWrite はセッションストアの書き込みを記録する。store.WriteRecorderを実装する。
func (c *Collector) RecordStoreWrite() {
	c.storeWrites.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusRecorder はレスポンスのステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func Middleware(c MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSubmission(string, string) {}
func (Nop) ObserveBackendCall(string, string, time.Duration) {}
func (Nop) RecordAvatarDeleteFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}
func (Nop) RecordStoreWrite() {}
