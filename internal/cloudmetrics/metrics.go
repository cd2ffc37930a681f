package cloudmetrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CloudMetrics aggregates the accounting counters a hosted control plane
// needs from an installation: tenant counts, ingest volume and engine
// errors. Everything is best effort; a failed push never blocks tracking.
type CloudMetrics struct {
	registry *prometheus.Registry
	pusher   Pusher
	logger   *zap.Logger

	shopsTotal         prometheus.Gauge
	memoryBytes        prometheus.Gauge
	clicksIngested     *prometheus.CounterVec
	ordersAttributed   *prometheus.CounterVec
	commissionsCreated *prometheus.CounterVec
	engineErrors       *prometheus.CounterVec
}

// New registers the cloud accounting metrics on the given registry.
func New(registry *prometheus.Registry, pusher Pusher, instanceID, version string, logger *zap.Logger) *CloudMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	constLabels := prometheus.Labels{
		"instance": normalizeLabel(instanceID),
		"version":  normalizeLabel(version),
	}

	c := &CloudMetrics{
		registry: registry,
		pusher:   pusher,
		logger:   logger,
		shopsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "partnerly_shops_total",
			Help:        "Shops provisioned on this installation.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "partnerly_memory_bytes",
			Help:        "Process memory obtained from the OS.",
			ConstLabels: constLabels,
		}),
		clicksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "partnerly_clicks_ingested_total",
			Help:        "Tracking clicks accepted per shop.",
			ConstLabels: constLabels,
		}, []string{"shop"}),
		ordersAttributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "partnerly_orders_attributed_total",
			Help:        "Orders attributed to an affiliate per shop.",
			ConstLabels: constLabels,
		}, []string{"shop"}),
		commissionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "partnerly_commissions_created_total",
			Help:        "Commissions written per shop.",
			ConstLabels: constLabels,
		}, []string{"shop"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "partnerly_engine_errors_total",
			Help:        "Attribution or commission engine failures per shop and operation.",
			ConstLabels: constLabels,
		}, []string{"shop", "operation"}),
	}

	registry.MustRegister(
		c.shopsTotal,
		c.memoryBytes,
		c.clicksIngested,
		c.ordersAttributed,
		c.commissionsCreated,
		c.engineErrors,
	)
	return c
}

// SetShopsTotal records the number of shops on the installation.
func (c *CloudMetrics) SetShopsTotal(count int64) {
	if c == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	c.shopsTotal.Set(float64(count))
}

// SetMemoryUsage records process memory in bytes.
func (c *CloudMetrics) SetMemoryUsage(bytes uint64) {
	if c == nil {
		return
	}
	c.memoryBytes.Set(float64(bytes))
}

// IncClickIngested counts an accepted tracking click for the shop.
func (c *CloudMetrics) IncClickIngested(shopID string) {
	if c == nil {
		return
	}
	c.clicksIngested.WithLabelValues(normalizeLabel(shopID)).Inc()
}

// IncOrderAttributed counts an order resolved to an affiliate for the shop.
func (c *CloudMetrics) IncOrderAttributed(shopID string) {
	if c == nil {
		return
	}
	c.ordersAttributed.WithLabelValues(normalizeLabel(shopID)).Inc()
}

// IncCommissionCreated counts a commission written for the shop.
func (c *CloudMetrics) IncCommissionCreated(shopID string) {
	if c == nil {
		return
	}
	c.commissionsCreated.WithLabelValues(normalizeLabel(shopID)).Inc()
}

// IncEngineError counts an engine failure by shop and operation.
func (c *CloudMetrics) IncEngineError(shopID, operation string) {
	if c == nil {
		return
	}
	c.engineErrors.WithLabelValues(normalizeLabel(shopID), normalizeLabel(operation)).Inc()
}

// Push sends the current registry state through the configured pusher.
func (c *CloudMetrics) Push(ctx context.Context) error {
	if c == nil || c.pusher == nil {
		return nil
	}
	return c.pusher.Push(ctx, c.registry)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
