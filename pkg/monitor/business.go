package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	WorkflowTotal       *prometheus.CounterVec
	WorkflowDuration    *prometheus.HistogramVec
	SubmissionTotal     *prometheus.CounterVec
	CustodySignDuration prometheus.Histogram
	BundleSize          prometheus.Histogram
	TransferAmountTotal *prometheus.CounterVec
}

// Business 全局业务指标，未初始化时下面的 Observe* 均为空操作
var Business *BusinessMetrics

// InitBusinessMetrics 在 reg 上注册业务指标
func InitBusinessMetrics(reg prometheus.Registerer) *BusinessMetrics {
	factory := promauto.With(reg)
	Business = &BusinessMetrics{
		WorkflowTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intermezzo_workflow_total",
			Help: "Transfer workflows by operation and outcome",
		}, []string{"op", "outcome"}),
		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intermezzo_workflow_duration_seconds",
			Help:    "Duration of transfer workflows, confirmation wait included",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"op"}),
		SubmissionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intermezzo_submission_total",
			Help: "Ledger submissions by outcome",
		}, []string{"outcome"}),
		CustodySignDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intermezzo_custody_sign_seconds",
			Help:    "Latency of custody signing calls",
			Buckets: prometheus.DefBuckets,
		}),
		BundleSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intermezzo_bundle_size",
			Help:    "Number of transactions per submitted bundle",
			Buckets: []float64{1, 2, 3, 4, 8, 16},
		}),
		TransferAmountTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intermezzo_transfer_amount_total",
			Help: "Confirmed transfer volume (base units scaled by 1e-6 for value)",
		}, []string{"unit"}),
	}
	return Business
}

// ObserveWorkflow 记录一次编排结果
func ObserveWorkflow(op, outcome string, started time.Time) {
	if Business == nil {
		return
	}
	Business.WorkflowTotal.WithLabelValues(op, outcome).Inc()
	Business.WorkflowDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func ObserveSign(started time.Time) {
	if Business == nil {
		return
	}
	Business.CustodySignDuration.Observe(time.Since(started).Seconds())
}

func ObserveSubmission(outcome string) {
	if Business == nil {
		return
	}
	Business.SubmissionTotal.WithLabelValues(outcome).Inc()
}

func ObserveBundle(size int) {
	if Business == nil {
		return
	}
	Business.BundleSize.Observe(float64(size))
}

// ObserveTransferAmount 记录已确认的转账量。
// unit 为 "value" 时按 1e-6 换算为整币，资产按基本单位计。
func ObserveTransferAmount(unit string, amount uint64) {
	if Business == nil {
		return
	}
	v := decimal.NewFromUint64(amount)
	if unit == "value" {
		v = v.Shift(-6)
	}
	f, _ := v.Float64()
	Business.TransferAmountTotal.WithLabelValues(unit).Add(f)
}
