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
// APIクライアントとストアから利用する。
type MetricsCollector interface {
	RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordOptimisticUpdate(kind string)
	RecordStoreError(operation string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	optimistic    *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmap_api_requests_total",
			Help: "REST APIへのリクエスト数（ステータスコード別）。通信失敗は status=\"0\"",
		}, []string{"method", "endpoint", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campusmap_api_request_duration_seconds",
			Help:    "REST APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		optimistic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmap_optimistic_updates_total",
			Help: "ローカルに適用した楽観的更新の数",
		}, []string{"kind"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmap_store_errors_total",
			Help: "ストア操作のエラー数",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.optimistic,
		c.storeFailures,
	)

	return c
}

// RecordAPIRequest はREST API呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordOptimisticUpdate は楽観的更新の適用を記録する。
func (c *Collector) RecordOptimisticUpdate(kind string) {
	c.optimistic.WithLabelValues(kind).Inc()
}

// RecordStoreError はストア操作の失敗を記録する。
func (c *Collector) RecordStoreError(operation string) {
	c.storeFailures.WithLabelValues(operation).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAPIRequest(string, string, int, time.Duration) {}
func (Nop) RecordOptimisticUpdate(string)                       {}
func (Nop) RecordStoreError(string)                             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
