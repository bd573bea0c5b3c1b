package blockstm

import "github.com/shardexec/blockstm/internal/xlog"

// Status is the final disposition of one transaction within a block
// (§4.6).
type Status int

const (
	// StatusCommitted means the transaction's write-set and events
	// were finalized into Output.
	StatusCommitted Status = iota
	// StatusRetry means the transaction was not committed (e.g. the
	// block's gas cap was reached first) and should be resubmitted in
	// a later block; its Output carries no write-set.
	StatusRetry
	// StatusFailed means materializing the transaction's aggregator
	// deltas violated their declared bounds (ErrDeltaApplicationFailure);
	// the transaction's Output carries no write-set, but the block as
	// a whole still completes (§7 class 2).
	StatusFailed
)

// Output is what the commit pipeline produces for one transaction
// (§4.6): the finalized write-set (aggregator deltas already resolved
// to concrete values) and gas accounting. Events are not carried:
// neither VersionedView nor Output records them.
type Output struct {
	TxnIndex int
	Status   Status
	WriteSet []WriteDescriptor
	GasUsed  uint64
}

// aggregatorEntry is not referenced by commitPipeline: commit calls
// Materialize once per pending delta, not once per aggregator key.
type aggregatorEntry struct {
	base int64
}

// commitPipeline finalizes validated transactions in strict index
// order (§4.6): deltas are materialized against the base StateView,
// ordinary writes are flushed from the MVDS, and the per-block gas
// cap (if any) is enforced by committing the transaction that crosses
// it in full and marking every transaction after that one as Retry
// rather than Committed.
type commitPipeline struct {
	mvh     *MVHashMap
	delta   *DeltaLayer
	base    StateView
	cfg     ExecutorConfig
	metrics *Metrics

	cumulativeGas uint64
	capped        bool
}

func newCommitPipeline(mvh *MVHashMap, delta *DeltaLayer, base StateView, cfg ExecutorConfig, metrics *Metrics) *commitPipeline {
	return &commitPipeline{mvh: mvh, delta: delta, base: base, cfg: cfg, metrics: metrics}
}

// commit finalizes tx's write-set, given the full write-set the
// winning incarnation produced and the per-location aggregator deltas
// it applied. gasUsed is whatever the VM task reports via its own
// bookkeeping (opaque to the core beyond this number).
func (cp *commitPipeline) commit(tx int, writes []WriteDescriptor, deltas []pendingDelta, gasUsed uint64) (Output, error) {
	if cp.capped {
		cp.metrics.incRetried()
		return Output{TxnIndex: tx, Status: StatusRetry}, nil
	}

	out := make([]WriteDescriptor, 0, len(writes)+len(deltas))
	out = append(out, writes...)

	for _, pd := range deltas {
		base, _ := cp.base.ReadAggregator(pd.key)

		resolved, err := cp.delta.Materialize(pd.key, tx, base)
		if err != nil {
			return Output{}, err
		}

		out = append(out, WriteDescriptor{
			Path: pd.key,
			V:    Version{TxnIndex: tx, Incarnation: 0},
			Val:  resolved,
		})
	}

	cp.cumulativeGas += gasUsed
	cp.metrics.addCommittedGas(gasUsed)
	cp.metrics.incCommitted()

	// The transaction that crosses the cap still commits in full
	// (§4.6 step 3: scheduler.halt(Txi+1, ...) — the halt index is one
	// past the crossing transaction); only transactions committed
	// after this one are retried.
	if cp.cfg.GasLimit > 0 && cp.cumulativeGas > cp.cfg.GasLimit {
		xlog.Info("block gas limit reached, retrying remaining transactions", "tx", tx, "cumulativeGas", cp.cumulativeGas, "gasLimit", cp.cfg.GasLimit)
		cp.capped = true
	}

	return Output{TxnIndex: tx, Status: StatusCommitted, WriteSet: out, GasUsed: gasUsed}, nil
}
