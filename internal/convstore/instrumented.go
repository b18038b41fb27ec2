package convstore

import "canvas-api/internal/metrics"

// InstrumentedRegistry wraps a Registry and records hit/miss metrics.
type InstrumentedRegistry struct {
	inner Registry
	stats *Stats
}

func NewInstrumentedRegistry(inner Registry, stats *Stats) *InstrumentedRegistry {
	if inner == nil {
		return nil
	}
	return &InstrumentedRegistry{inner: inner, stats: stats}
}

func (r *InstrumentedRegistry) Lookup(fingerprint string) (Entry, bool) {
	if r == nil || r.inner == nil {
		return Entry{}, false
	}
	entry, ok := r.inner.Lookup(fingerprint)
	if ok {
		r.stats.Hit()
		metrics.RegistryLookups.WithLabelValues("hit").Inc()
		return entry, true
	}
	r.stats.Miss()
	metrics.RegistryLookups.WithLabelValues("miss").Inc()
	return Entry{}, false
}

func (r *InstrumentedRegistry) Register(fingerprint string, entry Entry) {
	if r == nil || r.inner == nil {
		return
	}
	r.inner.Register(fingerprint, entry)
}
