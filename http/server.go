// Package http serves run history, classification and live training progress.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"irisnet/db"
	"irisnet/ml"
	"irisnet/monitoring"
	"irisnet/pipeline"
)

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	// ModelCacheSize bounds how many loaded models are kept in memory.
	ModelCacheSize int
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		ModelCacheSize: 8,
		MaxBodyBytes:   1 << 20,
	}
}

// Server HTTP服务器
// Serves the run store, the pipeline runner and the progress hub.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger

	store   *db.Store
	runner  *pipeline.Runner
	hub     *monitoring.Hub
	metrics *monitoring.MetricsCollector
	models  *lru.Cache[string, *ml.Model]

	// ctx outlives requests so background runs survive the POST that started them
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 创建HTTP服务器，metrics可以为nil
func NewServer(config ServerConfig, store *db.Store, runner *pipeline.Runner, hub *monitoring.Hub, metrics *monitoring.MetricsCollector, logger *zap.Logger) (*Server, error) {
	if store == nil || runner == nil || hub == nil {
		return nil, errors.New("store, runner and hub are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	if config.ModelCacheSize <= 0 {
		config.ModelCacheSize = DefaultServerConfig().ModelCacheSize
	}
	models, err := lru.New[string, *ml.Model](config.ModelCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		logger:  logger,
		store:   store,
		runner:  runner,
		hub:     hub,
		metrics: metrics,
		models:  models,
		ctx:     ctx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	chain := Chain(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		RequestSizeMiddleware(config.MaxBodyBytes),
	)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           chain(mux),
		ReadHeaderTimeout: config.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler 返回带中间件的路由
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器，阻塞直到Stop被调用
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	s.logger.Info("training progress websocket", zap.String("url", "ws://localhost"+s.server.Addr+"/api/ws/training"))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 取消后台训练并关闭服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	s.cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.server.Addr
}
