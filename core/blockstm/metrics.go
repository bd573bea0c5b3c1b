package blockstm

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of prometheus collectors a
// ParallelExecutor reports to. A nil *Metrics is safe to pass
// anywhere a *Metrics is expected and simply discards every
// observation, so callers that don't want metrics can pass nil
// instead of a no-op implementation.
type Metrics struct {
	executions        prometheus.Counter
	aborts            prometheus.Counter
	validations       prometheus.Counter
	validationFailure prometheus.Counter
	committedGas      prometheus.Counter
	committedTxns     prometheus.Counter
	retriedTxns       prometheus.Counter
}

// NewMetrics constructs and, if reg is non-nil, registers the
// executor's prometheus collectors under the blockstm_ namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "executions_total",
			Help:      "Number of transaction incarnations executed.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "aborts_total",
			Help:      "Number of speculative execution aborts.",
		}),
		validations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "validations_total",
			Help:      "Number of read-set validations performed.",
		}),
		validationFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "validation_failures_total",
			Help:      "Number of read-set validations that failed.",
		}),
		committedGas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "committed_gas_total",
			Help:      "Cumulative gas used by committed transactions.",
		}),
		committedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "committed_txns_total",
			Help:      "Number of transactions committed.",
		}),
		retriedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "retried_txns_total",
			Help:      "Number of transactions marked Retry by the gas cap.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.executions, m.aborts, m.validations, m.validationFailure, m.committedGas, m.committedTxns, m.retriedTxns)
	}

	return m
}

func (m *Metrics) incExecutions() {
	if m != nil {
		m.executions.Inc()
	}
}

func (m *Metrics) incAborts() {
	if m != nil {
		m.aborts.Inc()
	}
}

func (m *Metrics) incValidations() {
	if m != nil {
		m.validations.Inc()
	}
}

func (m *Metrics) incValidationFailure() {
	if m != nil {
		m.validationFailure.Inc()
	}
}

func (m *Metrics) addCommittedGas(gas uint64) {
	if m != nil {
		m.committedGas.Add(float64(gas))
	}
}

func (m *Metrics) incCommitted() {
	if m != nil {
		m.committedTxns.Inc()
	}
}

func (m *Metrics) incRetried() {
	if m != nil {
		m.retriedTxns.Inc()
	}
}
