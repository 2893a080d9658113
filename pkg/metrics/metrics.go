// Package metrics 提供 Prometheus helper，包含本平台常用 counter/gauge/histogram
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tradesim/fundaccounting/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 已结算成交计数
	FillsSettledTotal prometheus.Counter
	// 结算失败计数
	FillsRejectedTotal prometheus.Counter
	// 补款转账计数
	ReplenishmentsTotal prometheus.Counter
	// 现金流记录计数
	CashFlowRecordsTotal prometheus.Counter
	// FX 汇率缺失回退 1:1 计数
	FXFallbackTotal prometheus.Counter
	// 收益计算周期耗时
	ReturnsCycleDuration prometheus.Histogram
	// 盯市重估持仓计数
	PositionsMarkedTotal prometheus.Counter
	// 当前持仓数量
	PositionsOpen prometheus.Gauge

	registry *prometheus.Registry
}

// New 创建指标实例并注册
func New(serviceName string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		FillsSettledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "fills_settled_total",
			Help:      "Total fills settled",
		}),
		FillsRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "fills_rejected_total",
			Help:      "Total fills rejected by settlement",
		}),
		ReplenishmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "replenishments_total",
			Help:      "Total balance replenishment transfers",
		}),
		CashFlowRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "cash_flow_records_total",
			Help:      "Total cash flow records written",
		}),
		FXFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "fx_fallback_total",
			Help:      "Total conversions that fell back to a 1:1 rate",
		}),
		ReturnsCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "returns_cycle_duration_seconds",
			Help:      "Duration of a full return computation cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		PositionsMarkedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "positions_marked_total",
			Help:      "Total positions marked to market",
		}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fund",
			Subsystem: serviceName,
			Name:      "positions_open",
			Help:      "Number of open positions",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FillsSettledTotal,
		m.FillsRejectedTotal,
		m.ReplenishmentsTotal,
		m.CashFlowRecordsTotal,
		m.FXFallbackTotal,
		m.ReturnsCycleDuration,
		m.PositionsMarkedTotal,
		m.PositionsOpen,
	)

	return m
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Serve 启动 Prometheus 指标 HTTP 服务
func (m *Metrics) Serve(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics server failed", "error", err)
		}
	}()

	return srv
}
