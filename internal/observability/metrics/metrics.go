package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"OpenMCP-WalletKit/internal/toolkit"
)

// Registry 持有 walletkit 的全部指标，各实例互不干扰，便于测试。
type Registry struct {
	reg *prometheus.Registry

	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpErrors      *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New 创建指标注册表并注册 Go 运行时采集器。
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		toolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletkit_tool_invocations_total",
				Help: "工具调用总数，按结果分类",
			},
			[]string{"tool", "network", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "walletkit_tool_invocation_duration_seconds",
				Help: "工具调用耗时分布（含等待交易确认）",
				// 交易确认通常需要数秒到数分钟。
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tool"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletkit_http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"handler", "method", "code"},
		),
		httpErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletkit_http_request_errors_total",
				Help: "Total number of HTTP requests that resulted in a server error.",
			},
			[]string{"handler", "method"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"handler", "method"},
		),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveInvocation implements toolkit.Observer.
func (r *Registry) ObserveInvocation(_ context.Context, inv toolkit.Invocation) {
	if r == nil {
		return
	}
	r.toolInvocations.WithLabelValues(inv.Tool, inv.Network, string(inv.Result.Status)).Inc()
	r.toolDuration.WithLabelValues(inv.Tool).Observe(inv.Duration.Seconds())
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (r *Registry) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

var _ toolkit.Observer = (*Registry)(nil)
