package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proofmint/intermezzo/internal/handler"
	"github.com/proofmint/intermezzo/pkg/monitor"
	"github.com/proofmint/intermezzo/pkg/validator"
)

// NewHTTPRouter 组装 gin Engine: 系统路由在根路径，业务路由在 /api/v1
func NewHTTPRouter(transfers *handler.TransferHandler, health *handler.HealthHandler) *gin.Engine {
	monitor.Init()
	validator.Init()

	r := gin.Default()
	r.Use(monitor.PrometheusMiddleware())

	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	transfers.RegisterRoutes(api)

	return r
}
