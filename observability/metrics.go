package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultGatewayMetrics groups the collectors exported by the vault gateway.
type VaultGatewayMetrics struct {
	contractCalls  *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	values         *prometheus.GaugeVec
	lastRefresh    prometheus.Gauge
	relays         *prometheus.CounterVec
	setupSteps     *prometheus.CounterVec
	poolMutations  *prometheus.CounterVec
	throttles      *prometheus.CounterVec
	streamClients  prometheus.Gauge
	historyExports *prometheus.CounterVec
}

var (
	vaultGatewayOnce sync.Once
	vaultGatewayReg  *VaultGatewayMetrics
)

// VaultGateway returns the lazily registered gateway collectors.
func VaultGateway() *VaultGatewayMetrics {
	vaultGatewayOnce.Do(func() {
		vaultGatewayReg = &VaultGatewayMetrics{
			contractCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "chain",
				Name:      "calls_total",
				Help:      "Read-only contract calls segmented by contract, method and outcome.",
			}, []string{"contract", "method", "outcome"}),
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "metrics",
				Name:      "fetches_total",
				Help:      "Vault metric fan-outs segmented by completeness.",
			}, []string{"result"}),
			fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "deltavault",
				Subsystem: "metrics",
				Name:      "fetch_duration_seconds",
				Help:      "Wall time of a vault metric fan-out.",
				Buckets:   prometheus.DefBuckets,
			}),
			values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "deltavault",
				Subsystem: "vault",
				Name:      "metric_value",
				Help:      "Latest formatted vault metric values.",
			}, []string{"metric"}),
			lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "deltavault",
				Subsystem: "vault",
				Name:      "last_refresh_timestamp_seconds",
				Help:      "Unix time of the latest successful metric refresh.",
			}),
			relays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "tx",
				Name:      "submissions_total",
				Help:      "Transactions relayed or signed by the gateway segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			setupSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "setup",
				Name:      "transitions_total",
				Help:      "Post-deployment setup status transitions.",
			}, []string{"status"}),
			poolMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "pools",
				Name:      "mutations_total",
				Help:      "Pool metadata writes segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter segmented by route group.",
			}, []string{"group"}),
			streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "deltavault",
				Subsystem: "metrics",
				Name:      "stream_clients",
				Help:      "Connected metric stream subscribers.",
			}),
			historyExports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deltavault",
				Subsystem: "metrics",
				Name:      "history_exports_total",
				Help:      "Metric history parquet exports segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			vaultGatewayReg.contractCalls,
			vaultGatewayReg.fetches,
			vaultGatewayReg.fetchLatency,
			vaultGatewayReg.values,
			vaultGatewayReg.lastRefresh,
			vaultGatewayReg.relays,
			vaultGatewayReg.setupSteps,
			vaultGatewayReg.poolMutations,
			vaultGatewayReg.throttles,
			vaultGatewayReg.streamClients,
			vaultGatewayReg.historyExports,
		)
	})
	return vaultGatewayReg
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	// Matched by message: the chain package imports this one.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "execution reverted"):
		return "reverted"
	case strings.Contains(msg, "no contract code"):
		return "no_code"
	default:
		return "error"
	}
}

// ObserveContractCall records the result of a read-only contract call.
func (m *VaultGatewayMetrics) ObserveContractCall(contract, method string, err error) {
	if m == nil {
		return
	}
	if contract == "" {
		contract = "unknown"
	}
	m.contractCalls.WithLabelValues(contract, method, outcome(err)).Inc()
}

// ObserveFetch records a completed metric fan-out.
func (m *VaultGatewayMetrics) ObserveFetch(partial bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "complete"
	if partial {
		result = "partial"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchLatency.Observe(duration.Seconds())
}

// SetValue publishes the latest value of a vault metric.
func (m *VaultGatewayMetrics) SetValue(metric string, value float64) {
	if m == nil {
		return
	}
	m.values.WithLabelValues(metric).Set(value)
}

// MarkRefreshed stamps the refresh gauge.
func (m *VaultGatewayMetrics) MarkRefreshed(at time.Time) {
	if m == nil {
		return
	}
	m.lastRefresh.Set(float64(at.Unix()))
}

// ObserveSubmission records a relayed or operator-signed transaction.
func (m *VaultGatewayMetrics) ObserveSubmission(kind string, err error) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveSetupStatus records a setup workflow transition.
func (m *VaultGatewayMetrics) ObserveSetupStatus(status string) {
	if m == nil {
		return
	}
	m.setupSteps.WithLabelValues(status).Inc()
}

// ObservePoolMutation records a pool metadata write.
func (m *VaultGatewayMetrics) ObservePoolMutation(operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.poolMutations.WithLabelValues(operation, result).Inc()
}

// ObserveThrottle records a rate limited request.
func (m *VaultGatewayMetrics) ObserveThrottle(group string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(group).Inc()
}

// StreamClients adjusts the connected subscriber gauge by delta.
func (m *VaultGatewayMetrics) StreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

// ObserveExport records a history export run.
func (m *VaultGatewayMetrics) ObserveExport(err error) {
	if m == nil {
		return
	}
	m.historyExports.WithLabelValues(outcome(err)).Inc()
}
