// ============================================================================
// yuketang-assistant Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集解題協調器的運行指標，透過 /metrics 暴露給 Prometheus
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - ykt_solve_started_total:   開始的解題嘗試
//      - ykt_solve_succeeded_total: 成功的解題嘗試
//      - ykt_solve_failed_total:    失敗的解題嘗試
//      - ykt_solve_rejected_total:  因相同題目處理中而被拒絕的請求（重複點擊）
//
//   2. 分佈 (Histogram)：
//      - ykt_solve_latency_seconds: 單題解答耗時（含成功與失敗）
//
//   3. 瞬時值 (Gauge)：
//      - ykt_solve_in_flight: 目前處理中的題目數
//
// Prometheus 查詢示例:
//
//   # 失敗率
//   rate(ykt_solve_failed_total[5m]) / rate(ykt_solve_started_total[5m])
//
//   # 95 分位延遲
//   histogram_quantile(0.95, ykt_solve_latency_seconds_bucket)
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// Collector Prometheus 指標收集器，實作 orchestrator.Observer
type Collector struct {
	started   prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	rejected  prometheus.Counter

	latency  prometheus.Histogram
	inFlight prometheus.Gauge
}

// latencyBuckets 模型回應通常落在數秒到數十秒
var latencyBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120}

// NewCollector 創建指標收集器並註冊到 reg；reg 為 nil 時使用預設 registry
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ykt_solve_started_total",
			Help: "Total number of solve attempts started",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ykt_solve_succeeded_total",
			Help: "Total number of solve attempts that succeeded",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ykt_solve_failed_total",
			Help: "Total number of solve attempts that failed",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ykt_solve_rejected_total",
			Help: "Total number of solve requests rejected because the question was already processing",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ykt_solve_latency_seconds",
			Help:    "Solve attempt latency in seconds",
			Buckets: latencyBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ykt_solve_in_flight",
			Help: "Current number of questions being solved",
		}),
	}

	reg.MustRegister(c.started, c.succeeded, c.failed, c.rejected, c.latency, c.inFlight)
	return c
}

// JobStarted 記錄解題開始
func (c *Collector) JobStarted(types.Key) {
	c.started.Inc()
	c.inFlight.Inc()
}

// JobSucceeded 記錄解題成功
func (c *Collector) JobSucceeded(_ types.Key, elapsed time.Duration) {
	c.succeeded.Inc()
	c.inFlight.Dec()
	c.latency.Observe(elapsed.Seconds())
}

// JobFailed 記錄解題失敗
func (c *Collector) JobFailed(_ types.Key, elapsed time.Duration) {
	c.failed.Inc()
	c.inFlight.Dec()
	c.latency.Observe(elapsed.Seconds())
}

// JobRejected 記錄重複請求被拒絕
func (c *Collector) JobRejected(types.Key) {
	c.rejected.Inc()
}

// Handler 回傳 g 的 /metrics HTTP handler；g 為 nil 時使用預設 gatherer
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServer 建立獨立的 metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//   - g: 指標來源
func NewServer(port int, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
