package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdapterMetrics provides observability for bus adapters.
type AdapterMetrics interface {
	// RecordMessage records one handled bus message.
	//
	// Parameters:
	//   - kind: Message kind ("put", "delete", "query")
	//   - err: Error if handling failed, nil if successful
	RecordMessage(kind string, err error)

	// RecordThrottled records a message delayed by the rate limiter.
	RecordThrottled()
}

type adapterVectors struct {
	messagesTotal  *prometheus.CounterVec
	throttledTotal *prometheus.CounterVec
}

var (
	adapterVecs     *adapterVectors
	adapterVecsOnce sync.Once
)

func getAdapterVectors(reg *prometheus.Registry) *adapterVectors {
	adapterVecsOnce.Do(func() {
		f := promauto.With(reg)
		adapterVecs = &adapterVectors{
			messagesTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_adapter_messages_total",
					Help: "Bus messages handled by adapter, kind, and status",
				},
				[]string{"adapter", "kind", "status"},
			),
			throttledTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fsstore_adapter_throttled_total",
					Help: "Bus messages delayed by the adapter rate limiter",
				},
				[]string{"adapter"},
			),
		}
	})
	return adapterVecs
}

type adapterMetrics struct {
	adapter string
	vecs    *adapterVectors
}

// NewAdapterMetrics creates a Prometheus-backed AdapterMetrics, or a no-op
// implementation when metrics are disabled.
func NewAdapterMetrics(adapter string) AdapterMetrics {
	if !IsEnabled() {
		return NoopAdapterMetrics{}
	}
	return &adapterMetrics{adapter: adapter, vecs: getAdapterVectors(GetRegistry())}
}

func (m *adapterMetrics) RecordMessage(kind string, err error) {
	m.vecs.messagesTotal.WithLabelValues(m.adapter, kind, statusLabel(err)).Inc()
}

func (m *adapterMetrics) RecordThrottled() {
	m.vecs.throttledTotal.WithLabelValues(m.adapter).Inc()
}

// NoopAdapterMetrics discards everything.
type NoopAdapterMetrics struct{}

func (NoopAdapterMetrics) RecordMessage(string, error) {}
func (NoopAdapterMetrics) RecordThrottled()            {}
