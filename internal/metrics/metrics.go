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
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordVoteTransition(kind string)
	RecordVoteRetry()
	RecordVoteLatency(duration time.Duration)
	RecordMessageOp(op string)
	RecordUserCreated()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	votes        *prometheus.CounterVec
	voteRetries  prometheus.Counter
	voteLatency  prometheus.Histogram
	messages     *prometheus.CounterVec
	usersCreated prometheus.Counter
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoboard_votes_total",
			Help: "遷移種別ごとの投票台帳の遷移数",
		}, []string{"transition"}),
		voteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoboard_vote_retries_total",
			Help: "一時的な障害による投票遷移の再試行数",
		}),
		voteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoboard_vote_transition_seconds",
			Help:    "投票遷移（再試行を含む）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoboard_messages_total",
			Help: "操作別のメッセージ操作数",
		}, []string{"op"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoboard_users_created_total",
			Help: "作成されたユーザーの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.votes,
		c.voteRetries,
		c.voteLatency,
		c.messages,
		c.usersCreated,
		c.httpStatus,
	)

	return c
}

// RecordVoteTransition は適用された投票遷移を記録する。
func (c *Collector) RecordVoteTransition(kind string) {
	c.votes.WithLabelValues(kind).Inc()
}

// RecordVoteRetry は投票遷移の再試行を記録する。
func (c *Collector) RecordVoteRetry() {
	c.voteRetries.Inc()
}

// RecordVoteLatency は投票遷移のレイテンシを記録する。
func (c *Collector) RecordVoteLatency(duration time.Duration) {
	c.voteLatency.Observe(duration.Seconds())
}

// RecordMessageOp はメッセージの作成・削除を記録する。
func (c *Collector) RecordMessageOp(op string) {
	c.messages.WithLabelValues(op).Inc()
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordVoteTransition(string) {}
func (Nop) RecordVoteRetry() {}
func (Nop) RecordVoteLatency(time.Duration) {}
func (Nop) RecordMessageOp(string) {}
func (Nop) RecordUserCreated() {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
