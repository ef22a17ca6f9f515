package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"OpenMCP-WalletKit/internal/auth"
	"OpenMCP-WalletKit/internal/invocation"
	"OpenMCP-WalletKit/internal/observability/metrics"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/pkg/logger"
)

// Server 暴露工具集与异步调用的 REST 接口。
type Server struct {
	addr            string
	kit             *toolkit.Toolkit
	invocations     *invocation.Service
	metrics         *metrics.Registry
	auth            *auth.Service
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithInvocations 启用 /api/v1/invocations 接口。
func WithInvocations(svc *invocation.Service) Option {
	return func(s *Server) {
		s.invocations = svc
	}
}

// WithMetrics 记录请求指标并暴露 /metrics。
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = reg
	}
}

// WithAuth 使用 bearer token 保护 /api/v1/*。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, kit *toolkit.Toolkit, opts ...Option) *Server {
	s := &Server{addr: addr, kit: kit, shutdownTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	guard := func(next http.Handler) http.Handler { return next }
	if s.auth != nil {
		guard = s.auth.Middleware("")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/v1/tools", s.instrument("/api/v1/tools", guard(http.HandlerFunc(s.handleListTools))))
	mux.Handle("POST /api/v1/tools/{name}/invoke", s.instrument("/api/v1/tools/{name}/invoke", guard(http.HandlerFunc(s.handleInvokeTool))))
	mux.Handle("POST /api/v1/invocations", s.instrument("/api/v1/invocations", guard(http.HandlerFunc(s.handleSubmitInvocation))))
	mux.Handle("GET /api/v1/invocations", s.instrument("/api/v1/invocations", guard(http.HandlerFunc(s.handleListInvocations))))
	mux.Handle("GET /api/v1/invocations/stats", s.instrument("/api/v1/invocations/stats", guard(http.HandlerFunc(s.handleInvocationStats))))
	mux.Handle("GET /api/v1/invocations/{id}", s.instrument("/api/v1/invocations/{id}", guard(http.HandlerFunc(s.handleInvocationDetail))))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Component("api").Info("API 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 记录每个路由的状态码与耗时。
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
