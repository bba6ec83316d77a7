package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func withBusiness(t *testing.T) *BusinessMetrics {
	t.Helper()
	prev := Business
	t.Cleanup(func() { Business = prev })
	return InitBusinessMetrics(prometheus.NewRegistry())
}

func TestObserveIsNoopWithoutInit(t *testing.T) {
	prev := Business
	Business = nil
	defer func() { Business = prev }()

	assert.NotPanics(t, func() {
		ObserveWorkflow("value_transfer", "confirmed", time.Now())
		ObserveSign(time.Now())
		ObserveSubmission("confirmed")
		ObserveBundle(3)
		ObserveTransferAmount("value", 1)
	})
}

func TestObserveTransferAmountScalesValue(t *testing.T) {
	m := withBusiness(t)

	ObserveTransferAmount("value", 2_500_000)
	ObserveTransferAmount("asset", 7)

	assert.InDelta(t, 2.5, testutil.ToFloat64(m.TransferAmountTotal.WithLabelValues("value")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(m.TransferAmountTotal.WithLabelValues("asset")), 1e-9)
}

func TestObserveWorkflowCounts(t *testing.T) {
	m := withBusiness(t)

	ObserveWorkflow("asset_transfer", "confirmed", time.Now())
	ObserveWorkflow("asset_transfer", "confirmed", time.Now())
	ObserveWorkflow("asset_transfer", "rejected", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("asset_transfer", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("asset_transfer", "rejected")))
}

func TestPrometheusMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/api/v1/transfers/:txid", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/transfers/:txid", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transfers/ABC", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/transfers/:txid", "200")))
}

func TestPrometheusMiddlewareSkipsUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0.0, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/nowhere", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(HTTPInFlight))
}
