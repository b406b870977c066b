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
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordMagicLinkIssued()
	RecordMagicLinkSuccess()
	RecordMagicLinkFailure(reason string)
	RecordLogin()
	RecordSignupRedirect()
	RecordReadsMerged(count int64)
	RecordAccountAction(action string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	magicLinkIssued  prometheus.Counter
	magicLinkSuccess prometheus.Counter
	magicLinkFail    *prometheus.CounterVec
	logins           prometheus.Counter
	signupRedirects  prometheus.Counter
	readsMerged      prometheus.Counter
	accountActions   *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		magicLinkIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kcd_magic_link_issued_total",
			Help: "発行されたマジックリンクの合計数",
		}),
		magicLinkSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kcd_magic_link_success_total",
			Help: "マジックリンク検証成功の合計数",
		}),
		magicLinkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kcd_magic_link_fail_total",
			Help: "マジックリンク検証失敗の理由別合計数",
		}, []string{"reason"}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kcd_logins_total",
			Help: "ログイン成功の合計数",
		}),
		signupRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kcd_signup_redirects_total",
			Help: "未登録メールのサインアップ誘導の合計数",
		}),
		readsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kcd_post_reads_merged_total",
			Help: "匿名クライアントからユーザーに付け替えた閲覧記録の合計数",
		}),
		accountActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kcd_account_actions_total",
			Help: "アカウント管理操作の種別合計数",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kcd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kcd_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.magicLinkIssued,
		c.magicLinkSuccess,
		c.magicLinkFail,
		c.logins,
		c.signupRedirects,
		c.readsMerged,
		c.accountActions,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordMagicLinkIssued はマジックリンク発行を記録する。
func (c *Collector) RecordMagicLinkIssued() {
	c.magicLinkIssued.Inc()
}

// RecordMagicLinkSuccess はマジックリンク検証成功を記録する。
func (c *Collector) RecordMagicLinkSuccess() {
	c.magicLinkSuccess.Inc()
}

// RecordMagicLinkFailure はマジックリンク検証失敗を理由付きで記録する。
func (c *Collector) RecordMagicLinkFailure(reason string) {
	c.magicLinkFail.WithLabelValues(reason).Inc()
}

// RecordLogin はログイン成功を記録する。
func (c *Collector) RecordLogin() {
	c.logins.Inc()
}

// RecordSignupRedirect は未登録メールのサインアップ誘導を記録する。
func (c *Collector) RecordSignupRedirect() {
	c.signupRedirects.Inc()
}

// RecordReadsMerged は付け替えた閲覧記録数を記録する。
func (c *Collector) RecordReadsMerged(count int64) {
	c.readsMerged.Add(float64(count))
}

// RecordAccountAction はアカウント管理操作を種別付きで記録する。
func (c *Collector) RecordAccountAction(action string) {
	c.accountActions.WithLabelValues(action).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
