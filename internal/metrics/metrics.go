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
// バックエンドクライアント、OTPチャレンジ、アカウント連携、ワーカーから利用する。
type MetricsCollector interface {
	ObserveBackendRequest(endpoint string, status int, elapsed time.Duration)
	ObserveOTP(channel, action, result string)
	ObserveLink(outcome string)
	SetBackendUp(up bool)
	SetInternetReachable(reachable bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests   *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
	otpEvents         *prometheus.CounterVec
	linkOutcomes      *prometheus.CounterVec
	backendUp         prometheus.Gauge
	internetReachable prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_backend_requests_total",
			Help: "エンドポイントとステータスコード別のバックエンド呼び出し数",
		}, []string{"endpoint", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletgate_backend_request_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		otpEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_otp_events_total",
			Help: "チャネル・操作・結果別のOTP送信と検証の数",
		}, []string{"channel", "action", "result"}),
		linkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_identity_link_total",
			Help: "Googleアカウント連携の結果別の数",
		}, []string{"outcome"}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletgate_backend_up",
			Help: "直近のヘルスチェックでバックエンドが応答したか（1/0）",
		}),
		internetReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletgate_internet_reachable",
			Help: "直近の接続確認でインターネットに到達できたか（1/0）",
		}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendLatency,
		c.otpEvents,
		c.linkOutcomes,
		c.backendUp,
		c.internetReachable,
	)

	return c
}

// ObserveBackendRequest はバックエンド呼び出しの結果とレイテンシを記録する。
// 接続できなかった場合の status は 0。
func (c *Collector) ObserveBackendRequest(endpoint string, status int, elapsed time.Duration) {
	c.backendRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveOTP はOTPの送信・検証結果を記録する。
func (c *Collector) ObserveOTP(channel, action, result string) {
	c.otpEvents.WithLabelValues(channel, action, result).Inc()
}

// ObserveLink はアカウント連携の結果を記録する。
func (c *Collector) ObserveLink(outcome string) {
	c.linkOutcomes.WithLabelValues(outcome).Inc()
}

// SetBackendUp はバックエンドのヘルスチェック結果を記録する。
func (c *Collector) SetBackendUp(up bool) {
	c.backendUp.Set(boolValue(up))
}

// SetInternetReachable はインターネット接続の確認結果を記録する。
func (c *Collector) SetInternetReachable(reachable bool) {
	c.internetReachable.Set(boolValue(reachable))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのように独自のルーターを持たない場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
