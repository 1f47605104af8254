// Package metrics defines the Prometheus collectors of the index server.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set groups the service collectors. All are registered with the default registry so
// promhttp serves them without further wiring.
type Set struct {
	Height       prometheus.Gauge
	Blocks       prometheus.Counter
	BatchSeconds prometheus.Histogram
	Sessions     prometheus.Gauge
	RPCCalls     *prometheus.CounterVec
	dbProps      *prometheus.GaugeVec
}

// PropertySource is implemented by store backends that expose numeric database
// properties (the LevelDB backend does).
type PropertySource interface {
	Properties() map[string]int64
}

// New registers and returns the service collectors, labelled with the network name.
func New(net string) *Set {
	labels := prometheus.Labels{"net": net}

	s := &Set{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "index_height",
			Help:        "Last indexed block height.",
			ConstLabels: labels,
		}),
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "index_blocks_total",
			Help:        "Total number of blocks indexed since start.",
			ConstLabels: labels,
		}),
		BatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "index_batch_seconds",
			Help:        "Time spent indexing one block.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "electrum_sessions",
			Help:        "Number of connected Electrum sessions.",
			ConstLabels: labels,
		}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "electrum_rpc_total",
			Help:        "Electrum RPC calls by method.",
			ConstLabels: labels,
		}, []string{"method"}),
		dbProps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "store_property",
			Help:        "Numeric properties reported by the store backend.",
			ConstLabels: labels,
		}, []string{"property"}),
	}

	prometheus.MustRegister(s.Height, s.Blocks, s.BatchSeconds, s.Sessions, s.RPCCalls, s.dbProps)

	return s
}

// WatchStore samples the backend properties at the given interval until the stop channel
// closes. No-op when the backend does not expose properties.
func (s *Set) WatchStore(src interface{}, interval time.Duration, stop <-chan struct{}) {
	ps, ok := src.(PropertySource)
	if !ok {
		return
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				for name, v := range ps.Properties() {
					s.dbProps.WithLabelValues(strings.TrimPrefix(name, "leveldb.")).Set(float64(v))
				}
			case <-stop:
				return
			}
		}
	}()
}
