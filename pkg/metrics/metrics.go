// Package metrics 提供 Prometheus helper，包含常用 counter/gauge/histogram 模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 事务引擎计数（按 buy/sell 与结果分类）
	TransactionsTotal *prometheus.CounterVec
	// 估值重算计数
	RevaluationsTotal prometheus.Counter

	// 监控扫描计数
	MonitorTicksTotal prometheus.Counter
	// 监控扫描耗时
	MonitorTickDuration prometheus.Histogram
	// 已发送价格告警计数
	PriceAlertsTotal prometheus.Counter
	// 跳过的重叠扫描计数
	MonitorTicksSkipped prometheus.Counter
}

// New 创建指标实例并注册到独立 registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "transactions_total",
			Help:      "Applied portfolio transactions",
		}, []string{"type", "result"}),
		RevaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "revaluations_total",
			Help:      "Portfolio revaluations",
		}),
		MonitorTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "monitor_ticks_total",
			Help:      "Price monitoring scans executed",
		}),
		MonitorTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "monitor_tick_duration_seconds",
			Help:      "Price monitoring scan duration",
			Buckets:   prometheus.DefBuckets,
		}),
		PriceAlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "price_alerts_total",
			Help:      "Price change alerts published",
		}),
		MonitorTicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryptofolio",
			Subsystem: serviceName,
			Name:      "monitor_ticks_skipped_total",
			Help:      "Overlapping monitoring scans skipped",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransactionsTotal,
		m.RevaluationsTotal,
		m.MonitorTicksTotal,
		m.MonitorTickDuration,
		m.PriceAlertsTotal,
		m.MonitorTicksSkipped,
	)

	return m
}

// Serve 在独立端口暴露 /metrics
func (m *Metrics) Serve(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "Metrics server stopped", "error", err)
		}
	}()

	logger.Info(context.Background(), "Metrics server listening", "addr", addr, "path", path)
}
