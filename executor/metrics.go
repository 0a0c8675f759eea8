package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
)

// Metrics counts mutation executions. A nil *Metrics records nothing.
type Metrics struct {
	statements *prometheus.CounterVec
	errors     *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	mismatches *prometheus.CounterVec
	batches    prometheus.Counter
	batched    prometheus.Counter
}

// NewMetrics creates the mutation metrics and registers them with reg,
// if not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "statements_total",
			Help:      "Number of mutation statements executed, by table and type.",
		}, []string{"table", "type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "statement_errors_total",
			Help:      "Number of mutation statements failed by the database, by table and type.",
		}, []string{"table", "type"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "skipped_tables_total",
			Help:      "Number of table operations skipped by inclusion rules, by table and type.",
		}, []string{"table", "type"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "row_count_mismatches_total",
			Help:      "Number of statements whose affected row count violated their expectation.",
		}, []string{"table"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "batches_total",
			Help:      "Number of statement batches executed.",
		}),
		batched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabula",
			Subsystem: "mutation",
			Name:      "batched_statements_total",
			Help:      "Number of statements executed as part of a batch.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.statements, m.errors, m.skipped, m.mismatches, m.batches, m.batched)
	}
	return m
}

func (m *Metrics) statement(op *mutation.StatementOperation, err error) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"table": op.Table().Name(), "type": op.Type().String()}
	m.statements.With(labels).Inc()
	if err != nil {
		m.errors.With(labels).Inc()
	}
}

func (m *Metrics) skip(t *mapping.TableMapping, typ mapping.MutationType) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(t.Name(), typ.String()).Inc()
}

func (m *Metrics) mismatch(op *mutation.StatementOperation) {
	if m == nil {
		return
	}
	m.mismatches.WithLabelValues(op.Table().Name()).Inc()
}

func (m *Metrics) batch(size int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batched.Add(float64(size))
}
