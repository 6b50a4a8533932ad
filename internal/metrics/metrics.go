// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 状態遷移の種別ラベル。
const (
	TransitionRead        = "read"
	TransitionTaskCreated = "task_created"
	TransitionReply       = "reply"
	TransitionNoop        = "noop"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordMentionIngested()
	RecordMentionDuplicate()
	RecordTransition(kind string)
	RecordSweep(deletedCount int, duration time.Duration)
	RecordSweepFailure()
	RecordSuggestionFailure(reason string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	mentionsIngested  prometheus.Counter
	mentionsDuplicate prometheus.Counter
	transitions       *prometheus.CounterVec
	sweepDeleted      prometheus.Counter
	sweepLatency      prometheus.Histogram
	sweepFail         prometheus.Counter
	suggestionFail    *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mentionsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentionbox_mentions_ingested_total",
			Help: "受信箱に新規登録されたメンションの合計数",
		}),
		mentionsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentionbox_mentions_duplicate_total",
			Help: "再配送により無視されたメンションの合計数",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentionbox_inbox_transitions_total",
			Help: "受信箱アイテムの状態遷移数（種別ごと）",
		}, []string{"kind"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentionbox_sweep_deleted_total",
			Help: "期限切れで削除された受信箱アイテムの合計数",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentionbox_sweep_latency_seconds",
			Help:    "期限切れスイープ1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sweepFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentionbox_sweep_fail_total",
			Help: "期限切れスイープ失敗の合計数",
		}),
		suggestionFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentionbox_suggestion_fail_total",
			Help: "返信候補プロバイダ呼び出し失敗の合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentionbox_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.mentionsIngested,
		c.mentionsDuplicate,
		c.transitions,
		c.sweepDeleted,
		c.sweepLatency,
		c.sweepFail,
		c.suggestionFail,
		c.httpStatus,
	)

	return c
}

// RecordMentionIngested は新規メンションの登録を記録する。
func (c *Collector) RecordMentionIngested() {
	c.mentionsIngested.Inc()
}

// RecordMentionDuplicate は重複配送の無視を記録する。
func (c *Collector) RecordMentionDuplicate() {
	c.mentionsDuplicate.Inc()
}

// RecordTransition は状態遷移を記録する。
func (c *Collector) RecordTransition(kind string) {
	c.transitions.WithLabelValues(kind).Inc()
}

// RecordSweep はスイープの削除件数と所要時間を記録する。
func (c *Collector) RecordSweep(deletedCount int, duration time.Duration) {
	c.sweepDeleted.Add(float64(deletedCount))
	c.sweepLatency.Observe(duration.Seconds())
}

// RecordSweepFailure はスイープ失敗を記録する。
func (c *Collector) RecordSweepFailure() {
	c.sweepFail.Inc()
}

// RecordSuggestionFailure は返信候補取得の失敗を記録する。
// reasonは "timeout" または "error"。
func (c *Collector) RecordSuggestionFailure(reason string) {
	c.suggestionFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordMentionIngested() {}
func (Nop) RecordMentionDuplicate() {}
func (Nop) RecordTransition(string) {}
func (Nop) RecordSweep(int, time.Duration) {}
func (Nop) RecordSweepFailure() {}
func (Nop) RecordSuggestionFailure(string) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
