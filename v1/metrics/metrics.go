// Package metrics exposes Prometheus collectors for go-latch lock traffic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks the number of acquire attempts.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_acquire_attempts_total",
		Help: "Total number of lock acquire attempts",
	})
	// AcquiredCounter tracks the number of successful acquisitions.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ContendedCounter tracks acquire attempts denied by another holder.
	ContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_contended_total",
		Help: "Total number of acquire attempts that found the lock held",
	})
	// ReleasedCounter tracks successful releases.
	ReleasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_released_total",
		Help: "Total number of successful lock releases",
	})
	// LostCounter tracks locks found expired or reassigned at release/extend.
	LostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_lost_total",
		Help: "Total number of locks lost before release or extend",
	})
	// ExtendCounter tracks successful lease extensions.
	ExtendCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_extended_total",
		Help: "Total number of successful lease extensions",
	})
	// StoreErrorCounter tracks store-level failures.
	StoreErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_store_errors_total",
		Help: "Total number of store failures during lock operations",
	})
	// HeldGauge reports the number of locks currently held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "latch_held_locks",
		Help: "Current number of locks held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers go-latch metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		AcquireCounter, AcquiredCounter, ContendedCounter,
		ReleasedCounter, LostCounter, ExtendCounter,
		StoreErrorCounter, HeldGauge,
	)
}
