package prometheus

import (
	"fmt"

	"github.com/Fischlvor/go-quota"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 将配额引擎的事件导出为 Prometheus 指标
type Collector struct {
	checks           *prometheus.CounterVec
	storeUnavailable *prometheus.CounterVec
	roundTrips       *prometheus.CounterVec
	incrementFailed  *prometheus.CounterVec
}

var _ quota.Observer = (*Collector)(nil)

// NewCollector 创建并注册指标；health 不为空时额外导出存储健康状态
func NewCollector(namespace string, registerer prometheus.Registerer, health func() bool) (*Collector, error) {
	c := &Collector{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Quota rule checks by rule and result.",
		}, []string{"rule", "result"}),
		storeUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_unavailable_total",
			Help:      "Operations rejected or skipped because the counter store was unavailable.",
		}, []string{"op"}),
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_round_trips_total",
			Help:      "Network round trips to the counter store.",
		}, []string{"op"}),
		incrementFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "increment_failures_total",
			Help:      "Counter increments that failed and were dropped.",
		}, []string{"op"}),
	}

	collectors := []prometheus.Collector{c.checks, c.storeUnavailable, c.roundTrips, c.incrementFailed}
	if health != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_healthy",
			Help:      "1 if the counter store is connected.",
		}, func() float64 {
			if health() {
				return 1
			}
			return 0
		}))
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("注册指标失败: %w", err)
		}
	}

	return c, nil
}

// ObserveCheck 记录检查结果
func (c *Collector) ObserveCheck(rule string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.checks.WithLabelValues(rule, result).Inc()
}

func (c *Collector) ObserveStoreUnavailable(op string) {
	c.storeUnavailable.WithLabelValues(op).Inc()
}

func (c *Collector) ObserveRoundTrips(op string, n int) {
	c.roundTrips.WithLabelValues(op).Add(float64(n))
}

func (c *Collector) ObserveIncrementFailure(op string) {
	c.incrementFailed.WithLabelValues(op).Inc()
}
