// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rebarquality/db"
	"rebarquality/predict"
	"rebarquality/session"
)

// Server HTTP服务器
type Server struct {
	server   *http.Server
	config   ServerConfig
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
	pages    *pages
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// RunLister 训练日志查询接口
type RunLister interface {
	Recent(ctx context.Context, f db.Filter) ([]db.TrainingRun, error)
}

// Deps 处理器依赖
type Deps struct {
	Predictor *predict.Predictor
	Sessions  *session.Store
	Runs      RunLister // optional
	Logger    *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		pages:  mustParsePages(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler 返回带中间件链的处理器
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)

	chain := Chain(
		RecoveryMiddleware(s.logger),                 // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(s.logger),                   // 2. 日志中间件
		SecurityHeadersMiddleware,                    // 3. 安全头中间件
		CORSMiddleware(s.config.AllowedOrigins),      // 4. CORS中间件
		RequestSizeMiddleware(s.config.MaxBodyBytes), // 5. 请求大小限制
		SessionMiddleware(s.deps.Sessions),           // 6. 会话中间件
	)
	return chain(mux)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
