package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/proofmint/intermezzo/pkg/logger"
)

type Config struct {
	HttpPort string
	GrpcPort string

	// ShutdownTimeout 默认 10s，应覆盖最长一次确认等待，否则关闭时会留下结果未知的请求
	ShutdownTimeout time.Duration
}

// App 同时承载 HTTP 和 gRPC 两个监听
type App struct {
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	timeout  time.Duration
}

func New(cfg Config, engine *gin.Engine, grpcServer *grpc.Server, grpcHealth *health.Server) (*App, error) {
	// 先占住 gRPC 端口，端口冲突在启动阶段就能发现
	lis, err := net.Listen("tcp", ":"+cfg.GrpcPort)
	if err != nil {
		return nil, fmt.Errorf("监听 gRPC 端口 %s 失败: %w", cfg.GrpcPort, err)
	}

	a := &App{
		http: &http.Server{
			Addr:              ":" + cfg.HttpPort,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:     grpcServer,
		health:   grpcHealth,
		listener: lis,
		timeout:  cfg.ShutdownTimeout,
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	return a, nil
}

// Run 阻塞到 ctx 取消、收到 SIGINT/SIGTERM 或任一监听异常退出，然后优雅关闭
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("HTTP 服务启动", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC 服务启动", zap.String("addr", a.listener.Addr().String()))
		if err := a.grpc.Serve(a.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，开始优雅关闭")
	case runErr = <-serveErr:
		logger.Error("服务异常退出", zap.Error(runErr))
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	// 先把健康状态置为 NOT_SERVING，负载均衡停止转发新请求
	if a.health != nil {
		a.health.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.http.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务强制关闭", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		a.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Warn("gRPC 优雅关闭超时，强制停止")
		a.grpc.Stop()
	}
	logger.Info("服务已停止")
}
