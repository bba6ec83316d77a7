package monitor

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intermezzo",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route template and status.",
	}, []string{"method", "route", "status"})

	// 转账接口会同步等待确认，桶一直到 2 分钟
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intermezzo",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   []float64{0.05, 0.25, 1, 4, 10, 30, 60, 120},
	}, []string{"method", "route"})

	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "intermezzo",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Requests currently being served, confirmation waits included.",
	})

	registerOnce sync.Once
)

// Init 把 HTTP 指标和业务指标注册到默认 Registry，只生效一次
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequests, HTTPLatency, HTTPInFlight)
		InitBusinessMetrics(prometheus.DefaultRegisterer)
	})
}

// PrometheusMiddleware 按路由模板 (/api/v1/transfers/:txid) 统计，未匹配的路由不计
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}

		HTTPInFlight.Inc()
		start := time.Now()
		c.Next()
		HTTPInFlight.Dec()

		method := c.Request.Method
		HTTPRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
