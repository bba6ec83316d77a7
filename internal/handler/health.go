package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proofmint/intermezzo/internal/handler/response"
	"github.com/proofmint/intermezzo/pkg/errno"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

// DependencyCheck 检查一个外部依赖，返回 error 表示不可用
type DependencyCheck func(ctx context.Context) error

type HealthHandler struct {
	deps    map[string]DependencyCheck
	timeout time.Duration
}

// NewHealthHandler checks 为空时 /health 只表示进程存活
func NewHealthHandler(deps map[string]DependencyCheck) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 2 * time.Second}
}

// Check 服务健康检查
// @Summary 健康检查 (algod / redis)
// @Tags system
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, check := range h.deps {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		err := check(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	data := gin.H{
		"status":  "UP",
		"version": Version,
		"service": "intermezzo-server",
		"checks":  checks,
	}
	if !healthy {
		data["status"] = "DEGRADED"
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Code:    errno.ErrUnhealthy.Code,
			Message: errno.ErrUnhealthy.Message,
			Data:    data,
		})
		return
	}
	response.Success(c, data)
}
