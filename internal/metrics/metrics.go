// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// friendapi、session、proxy、cleanupの各Recorderを満たす。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	sessionRefresh   *prometheus.CounterVec
	syncFailures     prometheus.Counter
	cookieRotations  prometheus.Counter
	cookiesPurged    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendproxy_upstream_requests_total",
			Help: "Friend API呼び出しのエンドポイント・ステータス別の合計数",
		}, []string{"endpoint", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "friendproxy_upstream_latency_seconds",
			Help:    "Friend API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendproxy_session_refresh_total",
			Help: "セッションリフレッシュの結果別の合計数",
		}, []string{"result"}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friendproxy_portfolio_sync_failures_total",
			Help: "読み取り前のポートフォリオ同期に失敗した合計数",
		}),
		cookieRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friendproxy_cookie_rotations_total",
			Help: "上流がローテーションしたCookieを保存した合計数",
		}),
		cookiesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friendproxy_cookies_purged_total",
			Help: "保持期間を超えて破棄したセッションCookieの合計数",
		}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.sessionRefresh,
		c.syncFailures,
		c.cookieRotations,
		c.cookiesPurged,
	)

	return c
}

// RecordUpstreamRequest はFriend API呼び出しを記録する。
// statusが0の場合（通信エラー）は"error"として記録する。
func (c *Collector) RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.upstreamRequests.WithLabelValues(endpoint, label).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSessionRefresh はセッションリフレッシュの結果を記録する。
func (c *Collector) RecordSessionRefresh(result string) {
	c.sessionRefresh.WithLabelValues(result).Inc()
}

// RecordPortfolioSyncFailure はポートフォリオ同期の失敗を記録する。
func (c *Collector) RecordPortfolioSyncFailure() {
	c.syncFailures.Inc()
}

// RecordCookieRotation はCookieのローテーションを記録する。
func (c *Collector) RecordCookieRotation() {
	c.cookieRotations.Inc()
}

// RecordCookiesPurged は破棄したCookie数を記録する。
func (c *Collector) RecordCookiesPurged(count int64) {
	c.cookiesPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
