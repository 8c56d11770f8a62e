package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics aggregates the counters and gauges exposed by the
// settlement pipeline.
type SettlementMetrics struct {
	ordersSettled   *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	feeCollected    prometheus.Counter
	outputDelivered prometheus.Counter
	sourceRefunded  prometheus.Counter
	paused          prometheus.Gauge
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics, registering them on
// first use.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			ordersSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_orders_total",
				Help: "Count of accepted orders by terminal outcome.",
			}, []string{"outcome"}),
			ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_orders_rejected_total",
				Help: "Count of submissions rejected before custody by reason.",
			}, []string{"reason"}),
			feeCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_fee_collected_total",
				Help: "Cumulative protocol fee collected in source asset units.",
			}),
			outputDelivered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_output_delivered_total",
				Help: "Cumulative destination asset units delivered to recipients.",
			}),
			sourceRefunded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_source_refunded_total",
				Help: "Cumulative source asset units returned to recipients.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "settlement_paused",
				Help: "Whether order processing is currently paused (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.ordersSettled,
			settlementRegistry.ordersRejected,
			settlementRegistry.feeCollected,
			settlementRegistry.outputDelivered,
			settlementRegistry.sourceRefunded,
			settlementRegistry.paused,
		)
	})
	return settlementRegistry
}

// ObserveOrder records a terminal order outcome and its value flows.
func (m *SettlementMetrics) ObserveOrder(outcome string, fee, output, refund uint64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ordersSettled.WithLabelValues(strings.ToLower(outcome)).Inc()
	m.feeCollected.Add(float64(fee))
	m.outputDelivered.Add(float64(output))
	m.sourceRefunded.Add(float64(refund))
}

// ObserveRejection records a pre-custody rejection.
func (m *SettlementMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// SetPaused reflects the module pause flag.
func (m *SettlementMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
