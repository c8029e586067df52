package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "avatar"

// HTTPRequestDuration mide la latencia de las requests HTTP.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// Logins cuenta intentos de login social por proveedor y resultado.
var Logins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Social login attempts by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// GateRejections cuenta rechazos del gate por motivo interno.
var GateRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "gate_rejections_total",
		Help:      "Requests rejected by the signature gate, by internal reason.",
	},
	[]string{"reason"},
)

var ProviderVerifyDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "provider_verify_seconds",
		Help:      "Latency of provider token verification calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"provider"},
)

// Reconciliations cuenta resultados del reconciliador: created, updated, linked, retried.
var Reconciliations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "reconcile_total",
		Help:      "Identity reconciliation results.",
	},
	[]string{"result"},
)

// NewMetricsRegistry crea un registry con los collectors por defecto y los propios.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		Logins,
		GateRejections,
		ProviderVerifyDuration,
		Reconciliations,
	)
	return reg
}
