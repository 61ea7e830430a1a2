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
// フェッチャーとパイプラインから利用する。
type MetricsCollector interface {
	RecordFetchAttempt()
	RecordFetchRetry()
	RecordFetchFailure(reason string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordCandidates(extracted, dropped int)
	RecordItemsPersisted(inserted, skipped int)
	RecordRun(succeeded bool, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchAttempts  prometheus.Counter
	fetchRetries   prometheus.Counter
	fetchFail      *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	candidates     *prometheus.CounterVec
	itemsPersisted *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsscraper_fetch_attempts_total",
			Help: "ページ取得の試行回数の合計",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsscraper_fetch_retries_total",
			Help: "一時的な失敗によるリトライ回数の合計",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsscraper_fetch_fail_total",
			Help: "ページ取得に最終的に失敗した回数（理由別）",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsscraper_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsscraper_fetch_latency_seconds",
			Help:    "1回のページ取得試行のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsscraper_candidates_total",
			Help: "抽出された記事候補数（extracted/dropped）",
		}, []string{"result"}),
		itemsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsscraper_items_persisted_total",
			Help: "保存処理の結果別件数（inserted/skipped）",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsscraper_runs_total",
			Help: "パイプライン実行回数（結果別）",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsscraper_run_duration_seconds",
			Help:    "パイプライン1回の実行時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		c.fetchAttempts,
		c.fetchRetries,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.candidates,
		c.itemsPersisted,
		c.runs,
		c.runDuration,
	)

	return c
}

// RecordFetchAttempt はページ取得の試行を記録する。
func (c *Collector) RecordFetchAttempt() {
	c.fetchAttempts.Inc()
}

// RecordFetchRetry はリトライを記録する。
func (c *Collector) RecordFetchRetry() {
	c.fetchRetries.Inc()
}

// RecordFetchFailure は最終的な取得失敗を記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency は取得試行のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordCandidates は抽出結果の件数を記録する。
func (c *Collector) RecordCandidates(extracted, dropped int) {
	c.candidates.WithLabelValues("extracted").Add(float64(extracted))
	c.candidates.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordItemsPersisted は保存結果の件数を記録する。
func (c *Collector) RecordItemsPersisted(inserted, skipped int) {
	c.itemsPersisted.WithLabelValues("inserted").Add(float64(inserted))
	c.itemsPersisted.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRun はパイプライン実行の結果と所要時間を記録する。
func (c *Collector) RecordRun(succeeded bool, duration time.Duration) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordFetchAttempt() {}
func (Nop) RecordFetchRetry() {}
func (Nop) RecordFetchFailure(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordFetchLatency(time.Duration) {}
func (Nop) RecordCandidates(int, int) {}
func (Nop) RecordItemsPersisted(int, int) {}
func (Nop) RecordRun(bool, time.Duration) {}
