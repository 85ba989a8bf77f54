package reftable

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks read-path activity for one or more Readers. It carries no
// write-path or compaction counters -- those stay out of scope per
// spec.md section 1 -- mirroring pebble's own narrower use of
// prometheus/client_golang for metrics that describe what actually
// happened on a read, not what a compactor did.
type Metrics struct {
	BlocksRead      prometheus.Counter
	BytesRead       prometheus.Counter
	BlockReReads    prometheus.Counter
	IndexSeeks      prometheus.Counter
	LinearSeeks     prometheus.Counter
}

// NewMetrics constructs a Metrics. If reg is non-nil, the counters are
// registered with it; a nil registerer yields unregistered, still usable
// counters, so Options.ensureDefaults can hand every Reader a Metrics
// without requiring a global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reftable",
			Subsystem: "reader",
			Name:      "blocks_read_total",
			Help:      "Number of blocks fetched from the block source.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reftable",
			Subsystem: "reader",
			Name:      "bytes_read_total",
			Help:      "Number of bytes fetched from the block source.",
		}),
		BlockReReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reftable",
			Subsystem: "reader",
			Name:      "block_rereads_total",
			Help:      "Number of blocks re-read because the speculative guess was too small.",
		}),
		IndexSeeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reftable",
			Subsystem: "reader",
			Name:      "index_seeks_total",
			Help:      "Number of seeks served via the two-level index.",
		}),
		LinearSeeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reftable",
			Subsystem: "reader",
			Name:      "linear_seeks_total",
			Help:      "Number of seeks served by walking block-chain first keys.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BlocksRead, m.BytesRead, m.BlockReReads, m.IndexSeeks, m.LinearSeeks)
	}
	return m
}
