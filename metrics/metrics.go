// Package metrics provides Prometheus metrics for the trigger engine.
package metrics

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set owns a private registry and every collector the engine and
// supervisor report into. All fields are safe for concurrent use.
type Set struct {
	registry *prometheus.Registry

	TicksTotal    prometheus.Counter
	TicksSkipped  prometheus.Counter
	OracleErrors  prometheus.Counter
	OrdersScanned prometheus.Counter

	OrdersExecuted prometheus.Counter
	OrderFailures  prometheus.Counter
	OrdersExpired  prometheus.Counter

	LastPrice        prometheus.Gauge
	MonitorRunning   prometheus.Gauge
	OracleUp         prometheus.Gauge
	StoreUp          prometheus.Gauge
	ExecutionLatency prometheus.Histogram
}

// New builds a Set under the given namespace.
func New(namespace string) *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		registry: reg,

		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Completed price monitor ticks",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_skipped_total",
			Help: "Ticks coalesced by the reentrancy guard",
		}),
		OracleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_errors_total",
			Help: "Ticks aborted by an invalid or failed price sample",
		}),
		OrdersScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_scanned_total",
			Help: "Eligible-candidate orders examined across ticks",
		}),
		OrdersExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_executed_total",
			Help: "Orders moved to EXECUTED",
		}),
		OrderFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_failures_total",
			Help: "Failed execution attempts (each retry counts once)",
		}),
		OrdersExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_expired_total",
			Help: "Orders moved to EXPIRED by the sweep",
		}),
		LastPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_price",
			Help: "Most recent valid oracle sample",
		}),
		MonitorRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "monitor_running",
			Help: "1 while the price monitor loop is active",
		}),
		OracleUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_oracle_up",
			Help: "Last health probe of the price oracle (1 = ok)",
		}),
		StoreUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_store_up",
			Help: "Last health probe of the order store (1 = ok)",
		}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_latency_seconds",
			Help:    "Swap executor call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// Handler exposes the Set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics endpoint on addr in the background. Binding
// happens synchronously so a bad addr fails at startup, not silently.
func (s *Set) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	go func() {
		_ = http.Serve(ln, mux)
	}()
	return nil
}
