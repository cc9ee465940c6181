package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 报告计算相关的Prometheus指标，每个实例持有独立的registry
type Metrics struct {
	// 上游调用
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamRetriesTotal    *prometheus.CounterVec

	// 分页拉取
	PagesFetchedTotal        *prometheus.CounterVec
	TransactionsFetchedTotal *prometheus.CounterVec
	QuarantinedTotal         *prometheus.CounterVec
	TruncatedFetchesTotal    *prometheus.CounterVec

	// 报告
	ReportsTotal          *prometheus.CounterVec
	ReportDurationSeconds prometheus.Histogram
	ActiveComputations    prometheus.Gauge

	// 发布
	PublishedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_upstream_requests_total",
				Help: "Total number of block explorer API calls",
			},
			[]string{"action", "outcome"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaignstat_upstream_request_duration_seconds",
				Help:    "Block explorer API call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		UpstreamRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_upstream_retries_exhausted_total",
				Help: "Total number of upstream calls that exhausted the retry budget",
			},
			[]string{"window"},
		),
		PagesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_pages_fetched_total",
				Help: "Total number of non-empty pages fetched",
			},
			[]string{"window"},
		),
		TransactionsFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_transactions_fetched_total",
				Help: "Total number of validated transfers fetched",
			},
			[]string{"window"},
		),
		QuarantinedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_records_quarantined_total",
				Help: "Total number of malformed upstream records dropped at the fetch boundary",
			},
			[]string{"window"},
		),
		TruncatedFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_truncated_fetches_total",
				Help: "Total number of window fetches stopped by the page ceiling",
			},
			[]string{"window"},
		),
		ReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_reports_total",
				Help: "Total number of report computations",
			},
			[]string{"outcome"},
		),
		ReportDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaignstat_report_duration_seconds",
				Help:    "Report computation latency",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		ActiveComputations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaignstat_active_computations",
				Help: "Number of report computations in flight",
			},
		),
		PublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignstat_reports_published_total",
				Help: "Total number of reports handed to an output sink",
			},
			[]string{"sink", "outcome"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.UpstreamRetriesTotal,
		m.PagesFetchedTotal,
		m.TransactionsFetchedTotal,
		m.QuarantinedTotal,
		m.TruncatedFetchesTotal,
		m.ReportsTotal,
		m.ReportDurationSeconds,
		m.ActiveComputations,
		m.PublishedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回指标registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream 记录一次上游调用，m为nil时忽略
func (m *Metrics) ObserveUpstream(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(action, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObservePage 记录一页拉取结果
func (m *Metrics) ObservePage(window string, transactions, quarantined int) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(window).Inc()
	m.TransactionsFetchedTotal.WithLabelValues(window).Add(float64(transactions))
	if quarantined > 0 {
		m.QuarantinedTotal.WithLabelValues(window).Add(float64(quarantined))
	}
}

// ObserveTruncated 记录一次被页数上限截断的拉取
func (m *Metrics) ObserveTruncated(window string) {
	if m == nil {
		return
	}
	m.TruncatedFetchesTotal.WithLabelValues(window).Inc()
}

// ObserveRetryExhausted 记录重试耗尽
func (m *Metrics) ObserveRetryExhausted(window string) {
	if m == nil {
		return
	}
	m.UpstreamRetriesTotal.WithLabelValues(window).Inc()
}

// ObserveReport 记录一次报告计算
func (m *Metrics) ObserveReport(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(outcome).Inc()
	m.ReportDurationSeconds.Observe(elapsed.Seconds())
}

// ObservePublish 记录一次报告发布
func (m *Metrics) ObservePublish(sink, outcome string) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(sink, outcome).Inc()
}

// TrackComputation 进入计算时调用，返回退出时调用的函数
func (m *Metrics) TrackComputation() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveComputations.Inc()
	return m.ActiveComputations.Dec
}
