package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ScansTotal counts scan resolutions by outcome and strategy.
	ScansTotal *prometheus.CounterVec
	// SalesTotal counts finalized sales by payment method and result.
	SalesTotal *prometheus.CounterVec
	// SaleAmount observes the net value of persisted sales.
	SaleAmount *prometheus.HistogramVec
	// TillClosuresTotal counts till closings.
	TillClosuresTotal prometheus.Counter
	// TillVariance holds the variance of the last till closing.
	TillVariance prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers the terminal's collectors.
// Until it runs the Record helpers are no-ops.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		scans := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scanned or typed terms by resolution outcome.",
		}, []string{"outcome", "strategy"})
		sales := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Finalize attempts by payment method and result.",
		}, []string{"method", "result"})
		amount := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_amount",
			Help:      "Net value of persisted sales.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method"})
		closures := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "till_closures_total",
			Help:      "Till sessions closed by this terminal.",
		})
		variance := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "till_last_variance",
			Help:      "Counted minus expected cash at the last till closing.",
		})

		ScansTotal = registerOrReuse(reg, scans)
		SalesTotal = registerOrReuse(reg, sales)
		SaleAmount = registerOrReuse(reg, amount)
		TillClosuresTotal = registerOrReuse(reg, closures)
		TillVariance = registerOrReuse(reg, variance)
	})
}

// RecordScan counts a scan resolution.
func RecordScan(outcome, strategy string) {
	if ScansTotal != nil {
		ScansTotal.WithLabelValues(outcome, strategy).Inc()
	}
}

// RecordSale counts a finalize attempt; amount is observed only on success.
func RecordSale(method, result string, amount float64) {
	if SalesTotal != nil {
		SalesTotal.WithLabelValues(method, result).Inc()
	}
	if result == "ok" && SaleAmount != nil {
		SaleAmount.WithLabelValues(method).Observe(amount)
	}
}

// RecordTillClosed counts a closing and keeps its variance.
func RecordTillClosed(variance float64) {
	if TillClosuresTotal != nil {
		TillClosuresTotal.Inc()
	}
	if TillVariance != nil {
		TillVariance.Set(variance)
	}
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
			return collector
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
	return collector
}
