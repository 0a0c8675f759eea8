package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts query cache activity. A nil *Metrics records nothing.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	staleMisses   prometheus.Counter
	puts          prometheus.Counter
	putFailures   prometheus.Counter
	invalidations *prometheus.CounterVec
}

// NewMetrics creates the cache metrics and registers them with reg, if not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "query_cache",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		hits:        counter("hits_total", "Number of query cache hits."),
		misses:      counter("misses_total", "Number of query cache misses, including stale items."),
		staleMisses: counter("stale_misses_total", "Number of cached items rejected because a query space was invalidated."),
		puts:        counter("puts_total", "Number of query results stored."),
		putFailures: counter("put_failures_total", "Number of query results the region rejected."),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "query_cache",
			Name:      "invalidations_total",
			Help:      "Number of query space timestamp updates, by phase.",
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.staleMisses, m.puts, m.putFailures, m.invalidations)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss(stale bool) {
	if m == nil {
		return
	}
	m.misses.Inc()
	if stale {
		m.staleMisses.Inc()
	}
}

func (m *Metrics) put(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.puts.Inc()
	} else {
		m.putFailures.Inc()
	}
}

func (m *Metrics) invalidate(phase string, spaces int) {
	if m != nil {
		m.invalidations.WithLabelValues(phase).Add(float64(spaces))
	}
}
