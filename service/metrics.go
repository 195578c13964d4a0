package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rushteam/movierec/core"
)

// Metrics 是服务层的 Prometheus 指标。
type Metrics struct {
	fitDuration   *prometheus.HistogramVec
	fitTotal      *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	activeVersion *prometheus.GaugeVec
	cacheTotal    *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册指标；reg 为 nil 时只创建不注册。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "movierec",
			Name:      "fit_duration_seconds",
			Help:      "Model fit duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"model"}),
		fitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movierec",
			Name:      "fit_total",
			Help:      "Total number of model fits by status.",
		}, []string{"model", "status"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "movierec",
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "model"}),
		queryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movierec",
			Name:      "query_total",
			Help:      "Total number of queries by status.",
		}, []string{"op", "model", "status"}),
		activeVersion: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "movierec",
			Name:      "active_version",
			Help:      "Currently published artifact version per model.",
		}, []string{"model"}),
		cacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movierec",
			Name:      "cache_total",
			Help:      "Query cache lookups by result.",
		}, []string{"op", "result"}),
	}
}

func (m *Metrics) observeFit(model string, start time.Time, err error) {
	m.fitDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	m.fitTotal.WithLabelValues(model, status(err)).Inc()
}

func (m *Metrics) observeQuery(op, model string, start time.Time, err error) {
	m.queryDuration.WithLabelValues(op, model).Observe(time.Since(start).Seconds())
	m.queryTotal.WithLabelValues(op, model, status(err)).Inc()
}

func (m *Metrics) setVersion(model string, version int) {
	m.activeVersion.WithLabelValues(model).Set(float64(version))
}

func (m *Metrics) cacheResult(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(op, result).Inc()
}

// status 把错误映射为低基数的标签值
func status(err error) string {
	if err == nil {
		return "ok"
	}
	if de := core.GetDomainError(err); de != nil {
		return de.Code
	}
	return "error"
}
