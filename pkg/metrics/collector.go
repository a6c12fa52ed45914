// Package metrics exposes filecached's storage-engine activity as
// Prometheus collectors: a struct of pre-registered CounterVec/GaugeVec
// fields, label-constant blocks, and a constructor that registers into a
// caller-supplied prometheus.Registerer. New accepts a nil Registerer, so
// metrics stay an optional seam rather than a hard dependency; the methods
// of a nil *Collector are not safe to call.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label names, and the values of the eviction-cause label.
const (
	LabelOp     = "op"
	LabelResult = "result"
	LabelCause  = "cause"

	CauseFileCap = "file-cap"
	CauseByteCap = "byte-cap"
)

// Collector holds every Prometheus metric filecached's storage core
// reports through. Construct with New; the zero value is not usable.
type Collector struct {
	filesResident  *prometheus.GaugeVec
	bytesResident  *prometheus.GaugeVec
	evictionsTotal *prometheus.CounterVec
	lockWaiters    *prometheus.GaugeVec
	requestsTotal  *prometheus.CounterVec
}

// New builds a Collector and registers its metrics into reg. A nil reg is
// accepted and simply means "don't register anywhere" — the Collector is
// still usable standalone (e.g. in tests that only want the call counts).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		filesResident: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filecached_files_resident",
			Help: "Current number of files held in the cache.",
		}, nil),
		bytesResident: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filecached_bytes_resident",
			Help: "Current total payload bytes held in the cache.",
		}, nil),
		evictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filecached_evictions_total",
			Help: "Total number of files evicted, by triggering cap.",
		}, []string{LabelCause}),
		lockWaiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filecached_lock_waiters",
			Help: "Current number of clients blocked waiting for a file lock.",
		}, nil),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filecached_requests_total",
			Help: "Total store operations, by operation and result code.",
		}, []string{LabelOp, LabelResult}),
	}

	if reg != nil {
		reg.MustRegister(
			c.filesResident,
			c.bytesResident,
			c.evictionsTotal,
			c.lockWaiters,
			c.requestsTotal,
		)
	}
	return c
}

// SetFileCount implements filecache.Recorder.
func (c *Collector) SetFileCount(n int) {
	c.filesResident.WithLabelValues().Set(float64(n))
}

// SetByteSize implements filecache.Recorder.
func (c *Collector) SetByteSize(n int64) {
	c.bytesResident.WithLabelValues().Set(float64(n))
}

// IncEviction implements filecache.Recorder.
func (c *Collector) IncEviction(cause string) {
	c.evictionsTotal.WithLabelValues(cause).Inc()
}

// SetLockWaiters implements filecache.Recorder.
func (c *Collector) SetLockWaiters(n int) {
	c.lockWaiters.WithLabelValues().Set(float64(n))
}

// IncRequest implements filecache.Recorder.
func (c *Collector) IncRequest(op, result string) {
	c.requestsTotal.WithLabelValues(op, result).Inc()
}
