// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reconciles        *prometheus.CounterVec
	reconcileSkipped  *prometheus.CounterVec
	staleResults      *prometheus.CounterVec
	events            *prometheus.CounterVec
	eventsSuppressed  *prometheus.CounterVec
	profileFetches    *prometheus.CounterVec
	profileLatency    prometheus.Histogram
	httpStatus        *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_reconcile_total",
			Help: "契機と結果別のリコンサイル数",
		}, []string{"trigger", "outcome"}),
		reconcileSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_reconcile_skipped_total",
			Help: "実行中のため破棄されたリコンサイル契機の数",
		}, []string{"trigger"}),
		staleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_stale_result_total",
			Help: "世代が古いため適用されなかった結果の数",
		}, []string{"trigger"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_provider_event_total",
			Help: "IdPから受信したセッション変更通知の数",
		}, []string{"kind"}),
		eventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_provider_event_suppressed_total",
			Help: "明示的なログイン直後のため読み飛ばした通知の数",
		}, []string{"kind"}),
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_profile_fetch_total",
			Help: "結果別のプロフィール取得数",
		}, []string{"result"}),
		profileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sellerdesk_profile_fetch_latency_seconds",
			Help:    "プロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sellerdesk_rate_limit_rejected_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"limiter"}),
	}

	reg.MustRegister(
		c.reconciles,
		c.reconcileSkipped,
		c.staleResults,
		c.events,
		c.eventsSuppressed,
		c.profileFetches,
		c.profileLatency,
		c.httpStatus,
		c.rateLimitRejected,
	)

	return c
}

// RecordReconcile はリコンサイルの結果を記録する。
func (c *Collector) RecordReconcile(trigger, outcome string) {
	c.reconciles.WithLabelValues(trigger, outcome).Inc()
}

// RecordReconcileSkipped は破棄されたリコンサイル契機を記録する。
func (c *Collector) RecordReconcileSkipped(trigger string) {
	c.reconcileSkipped.WithLabelValues(trigger).Inc()
}

// RecordStaleResult は破棄された古い結果を記録する。
func (c *Collector) RecordStaleResult(trigger string) {
	c.staleResults.WithLabelValues(trigger).Inc()
}

// RecordEvent は受信した通知を記録する。
func (c *Collector) RecordEvent(kind string) {
	c.events.WithLabelValues(kind).Inc()
}

// RecordEventSuppressed は読み飛ばした通知を記録する。
func (c *Collector) RecordEventSuppressed(kind string) {
	c.eventsSuppressed.WithLabelValues(kind).Inc()
}

// RecordProfileFetch はプロフィール取得の結果とレイテンシを記録する。
func (c *Collector) RecordProfileFetch(duration time.Duration, err error) {
	c.profileFetches.WithLabelValues(fetchResult(err)).Inc()
	c.profileLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limiter string) {
	c.rateLimitRejected.WithLabelValues(limiter).Inc()
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrProfileNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrNetwork):
		return "network"
	default:
		return "error"
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ session.MetricsRecorder = (*Collector)(nil)
