package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"l7mp.io/interactive-engine/pkg/value"
)

// Metrics holds the manager's operation counters.
type Metrics struct {
	updatesIngested       prometheus.Counter
	arrangementsCollected prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		updatesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interactive_input_updates_ingested_total",
			Help: "Total number of diffs queued on registered inputs",
		}),
		arrangementsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interactive_arrangements_collected_total",
			Help: "Total number of arrangements garbage-collected after their refcount reached zero",
		}),
	}
}

// Collector exposes registry state as prometheus metrics.
type Collector[V value.Datum] struct {
	mgr *Manager[V]

	inputCount       *prometheus.Desc
	arrangementCount *prometheus.Desc
	sharedReferences *prometheus.Desc
	pendingUpdates   *prometheus.Desc
}

// NewCollector creates a collector over a manager.
func NewCollector[V value.Datum](mgr *Manager[V]) *Collector[V] {
	return &Collector[V]{
		mgr: mgr,
		inputCount: prometheus.NewDesc(
			"interactive_inputs",
			"Number of registered raw inputs",
			nil, nil,
		),
		arrangementCount: prometheus.NewDesc(
			"interactive_arrangements",
			"Number of registered arrangements",
			nil, nil,
		),
		sharedReferences: prometheus.NewDesc(
			"interactive_arrangement_refcount",
			"Live references per arrangement",
			[]string{"name"}, nil,
		),
		pendingUpdates: prometheus.NewDesc(
			"interactive_input_pending_updates",
			"Queued updates per input not yet drained into the dataflow",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector[V]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inputCount
	ch <- c.arrangementCount
	ch <- c.sharedReferences
	ch <- c.pendingUpdates
}

// Collect implements prometheus.Collector.
func (c *Collector[V]) Collect(ch chan<- prometheus.Metric) {
	inputs := 0
	c.mgr.inputs.Range(func(name string, h *InputHandle[V]) bool {
		inputs++
		ch <- prometheus.MustNewConstMetric(c.pendingUpdates, prometheus.GaugeValue,
			float64(h.Pending()), name)
		return true
	})
	ch <- prometheus.MustNewConstMetric(c.inputCount, prometheus.GaugeValue, float64(inputs))

	arrangements := 0
	c.mgr.traces.Range(func(name string, a *Arrangement[V]) bool {
		arrangements++
		ch <- prometheus.MustNewConstMetric(c.sharedReferences, prometheus.GaugeValue,
			float64(a.Refcount()), name)
		return true
	})
	ch <- prometheus.MustNewConstMetric(c.arrangementCount, prometheus.GaugeValue, float64(arrangements))
}

// Register registers the collector and the manager's counters with a
// prometheus registerer.
func (m *Manager[V]) Register(reg prometheus.Registerer) error {
	if err := reg.Register(NewCollector(m)); err != nil {
		return err
	}
	if err := reg.Register(m.metrics.updatesIngested); err != nil {
		return err
	}
	return reg.Register(m.metrics.arrangementsCollected)
}
