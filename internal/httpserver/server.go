package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/hcidump-monitor/internal/config"
	"github.com/taoyao-code/hcidump-monitor/internal/health"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
	"github.com/taoyao-code/hcidump-monitor/internal/sink"
)

// Deps 路由依赖；为 nil 的部分不注册对应路由
type Deps struct {
	Health         *health.Aggregator
	MetricsPath    string
	MetricsHandler http.Handler
	Metrics        *metrics.AppMetrics
	Status         StatusSource
	Control        AdapterControl
	Hub            *sink.Hub
	Sinks          []string
}

// Server HTTP 服务封装
type Server struct {
	srv    *http.Server
	ws     *wsHandler
	logger *zap.Logger
}

// New 创建并配置 Gin + HTTP Server
func New(cfg cfgpkg.HTTPConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(logger, "/healthz", "/readyz", metricsPath))

	if deps.Health != nil {
		health.RegisterHTTPRoutes(r, deps.Health)
	} else {
		r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
		r.GET("/readyz", func(c *gin.Context) { c.String(http.StatusOK, "ready") })
	}
	if deps.MetricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(deps.MetricsHandler))
	}

	s := &Server{logger: logger}
	if deps.Hub != nil {
		s.ws = newWSHandler(deps.Hub, cfg.WS, logger, deps.Metrics)
	}

	auth := APIKeyAuth(cfg.Auth, logger)
	api := r.Group("/api", auth)
	if deps.Status != nil {
		api.GET("/status", statusHandler(deps.Status, deps.Sinks, s.wsClients))
	}
	if deps.Control != nil && deps.Status != nil {
		api.GET("/adapter", adapterInfoHandler(deps.Status, deps.Control))
		api.PATCH("/adapter", adapterPatchHandler(deps.Status, deps.Control, logger))
		api.POST("/adapter/reset", adapterResetHandler(deps.Status, deps.Control))
	}
	if s.ws != nil {
		r.GET("/ws", auth, s.ws.serve)
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) wsClients() int {
	if s.ws == nil {
		return 0
	}
	return s.ws.Clients()
}

// Handler 路由（测试用）
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start 启动 HTTP 服务（阻塞）；正常关闭时返回 nil
func (s *Server) Start() error {
	s.logger.Info("http listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve 在已有监听上服务
func (s *Server) Serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭；websocket 连接由 Hub.Close 结束
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
