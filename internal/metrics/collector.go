// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/enclaveflow/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 调度指标
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	// 治理器指标
	inFlight prometheus.Gauge

	namespace string
	factory   promauto.Factory
	gatherer  prometheus.Gatherer

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		namespace: namespace,
		factory:   factory,
		logger:    logger.With(zap.String("component", "metrics")),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	// 调度指标
	c.dispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Total number of dispatched requests",
		},
		[]string{"service", "operation", "status"},
	)

	c.dispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	// 执行指标
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_executions_total",
			Help:      "Total number of function executions",
		},
		[]string{"runtime", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_execution_duration_seconds",
			Help:      "Function execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"runtime"},
	)

	c.inFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_in_flight",
			Help:      "Number of executions currently holding a governor slot",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 调度指标记录
// =============================================================================

// RecordDispatch 记录一次调度
func (c *Collector) RecordDispatch(service, operation string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(service, operation, outcome(success)).Inc()
	c.dispatchDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// =============================================================================
// ⚙️ 执行指标记录
// =============================================================================

// RecordExecution 记录一次函数执行，status 取 success、failed 或 timeout
func (c *Collector) RecordExecution(runtime, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(runtime, status).Inc()
	c.executionDuration.WithLabelValues(runtime).Observe(duration.Seconds())
}

// AddInFlight 调整在途执行数
func (c *Collector) AddInFlight(delta float64) {
	if c == nil {
		return
	}
	c.inFlight.Add(delta)
}

// =============================================================================
// 🏊 池指标
// =============================================================================

// ObservePool 将请求池的统计注册为按采集时读取的指标
func (c *Collector) ObservePool(stats func() pool.GoroutinePoolStats) {
	if c == nil || stats == nil {
		return
	}
	counter := func(name, help string, read func(pool.GoroutinePoolStats) int64) {
		c.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "transport_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}
	gauge := func(name, help string, read func(pool.GoroutinePoolStats) int) {
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "transport_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}

	counter("submitted_total", "Requests submitted to the worker pool",
		func(s pool.GoroutinePoolStats) int64 { return s.Submitted })
	counter("completed_total", "Requests the worker pool completed",
		func(s pool.GoroutinePoolStats) int64 { return s.Completed })
	counter("failed_total", "Requests that failed or panicked in the worker pool",
		func(s pool.GoroutinePoolStats) int64 { return s.Failed })
	counter("rejected_total", "Requests rejected because the worker pool was full",
		func(s pool.GoroutinePoolStats) int64 { return s.Rejected })
	gauge("workers", "Live worker goroutines",
		func(s pool.GoroutinePoolStats) int { return s.Workers })
	gauge("active_workers", "Workers currently running a request",
		func(s pool.GoroutinePoolStats) int { return s.Active })
	gauge("queued", "Requests waiting for a worker",
		func(s pool.GoroutinePoolStats) int { return s.Queued })
}

// ObserveBuffers 将帧缓冲池的统计注册为指标
func (c *Collector) ObserveBuffers(stats func() pool.PoolStats) {
	if c == nil || stats == nil {
		return
	}
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: c.namespace, Subsystem: "frame_buffers", Name: name, Help: help}
	}
	c.factory.NewCounterFunc(opts("gets_total", "Buffers taken from the pool"),
		func() float64 { return float64(stats().Gets) })
	c.factory.NewCounterFunc(opts("puts_total", "Buffers returned to the pool"),
		func() float64 { return float64(stats().Puts) })
	c.factory.NewCounterFunc(opts("allocations_total", "Buffers allocated because the pool was empty"),
		func() float64 { return float64(stats().News) })
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: "frame_buffers",
		Name:      "hit_ratio",
		Help:      "Share of buffer gets served without allocating",
	}, func() float64 { return stats().HitRate() })
}

// =============================================================================
// 📤 指标导出
// =============================================================================

// Family 是一个指标族的 JSON 友好形式
type Family struct {
	Name    string   `json:"name"`
	Help    string   `json:"help,omitempty"`
	Type    string   `json:"type"`
	Metrics []Sample `json:"metrics"`
}

// Sample 是指标族中的一条时间序列。直方图与摘要只导出计数与总和。
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Sum    float64           `json:"sum,omitempty"`
}

// Families 采集注册表中的全部指标族，按名称排序
func (c *Collector) Families() ([]Family, error) {
	if c == nil || c.gatherer == nil {
		return nil, nil
	}
	mfs, err := c.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := make([]Family, 0, len(mfs))
	for _, mf := range mfs {
		f := Family{
			Name:    mf.GetName(),
			Help:    mf.GetHelp(),
			Type:    strings.ToLower(mf.GetType().String()),
			Metrics: make([]Sample, 0, len(mf.GetMetric())),
		}
		for _, m := range mf.GetMetric() {
			f.Metrics = append(f.Metrics, sample(mf.GetType(), m))
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindFamily 按名称查找指标族
func FindFamily(families []Family, name string) (Family, bool) {
	for _, f := range families {
		if f.Name == name {
			return f, true
		}
	}
	return Family{}, false
}

func sample(kind dto.MetricType, m *dto.Metric) Sample {
	s := Sample{}
	if labels := m.GetLabel(); len(labels) > 0 {
		s.Labels = make(map[string]string, len(labels))
		for _, l := range labels {
			s.Labels[l.GetName()] = l.GetValue()
		}
	}
	switch kind {
	case dto.MetricType_COUNTER:
		s.Value = m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		s.Count = m.GetHistogram().GetSampleCount()
		s.Sum = m.GetHistogram().GetSampleSum()
	case dto.MetricType_SUMMARY:
		s.Count = m.GetSummary().GetSampleCount()
		s.Sum = m.GetSummary().GetSampleSum()
	default:
		s.Value = m.GetUntyped().GetValue()
	}
	return s
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
