package blockstm

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardexec/blockstm/internal/xlog"
)

// GasTask is an optional ExecTask extension a VM adapter implements to
// report gas usage for the commit pipeline's per-block gas cap
// (§4.6). A task that doesn't implement it is treated as using zero
// gas.
type GasTask interface {
	GasUsed() uint64
}

// ParallelExecutor runs a block's transactions speculatively across a
// worker pool, interleaving execution, validation and in-order commit
// (§4, §4.4–§4.6). Construct one with NewParallelExecutor per block;
// it is not reusable across blocks.
type ParallelExecutor struct {
	tasks []ExecTask
	base  StateView
	cfg   ExecutorConfig

	mvh        *MVHashMap
	deltaLayer *DeltaLayer
	guard      *ModuleGuard
	commitPipe *commitPipeline
	metrics    *Metrics

	execTasks    taskStatusManager
	txio         *TxnInputOutput
	incarnations []int
	deltaSets    map[int][]pendingDelta

	lastSettled int
	outputs     []Output
	fatalErr    error

	depGraph *DependencyGraph
}

// NewParallelExecutor constructs an executor for tasks against base,
// sharing no state with any other block.
func NewParallelExecutor(tasks []ExecTask, base StateView, cfg ExecutorConfig, metrics *Metrics) *ParallelExecutor {
	n := len(tasks)

	pe := &ParallelExecutor{
		tasks:        tasks,
		base:         base,
		cfg:          cfg,
		mvh:          MakeMVHashMap(),
		deltaLayer:   MakeDeltaLayer(cfg.DeltaCacheSize),
		guard:        NewModuleGuard(),
		metrics:      metrics,
		execTasks:    makeStatusManager(n),
		txio:         MakeTxnInputOutput(n),
		incarnations: make([]int, n),
		deltaSets:    make(map[int][]pendingDelta),
	}

	pe.commitPipe = newCommitPipeline(pe.mvh, pe.deltaLayer, base, cfg, metrics)

	if cfg.Metadata {
		pe.seedMetadataDependencies()
	}

	if cfg.Profile {
		pe.depGraph = &DependencyGraph{}
	}

	return pe
}

// seedMetadataDependencies blocks each task on its declared
// Dependencies() up front instead of discovering them the slow way,
// via a speculative abort (§9 "dynamic dispatch ... generalised to a
// data-driven dependency hint"). Unlike an abort-discovered
// dependency (which can only ever point at a strictly lower index,
// since that's the only thing a speculative read can observe), a
// metadata hint is taken from the VM adapter at face value: only
// out-of-range and self-referential indices are skipped, and a
// forward-pointing hint is wired in as-is, so a buggy or adversarial
// set of hints that forms a genuine cycle is caught by Run as
// ErrSchedulerDeadlock rather than silently dropped.
func (pe *ParallelExecutor) seedMetadataDependencies() {
	n := len(pe.tasks)

	for i, task := range pe.tasks {
		for _, dep := range task.Dependencies() {
			if dep < 0 || dep >= n || dep == i {
				continue
			}

			if pe.execTasks.addDependencies(dep, i) {
				pe.execTasks.clearPending(i)
			}
		}
	}
}

type execRequest struct{ tx, incarnation int }

type execResponse struct {
	tx, incarnation int
	view            *VersionedView
	err             error
}

// Run drives the block to completion: every transaction either
// reaches Output with StatusCommitted, StatusRetry (gas cap) or
// StatusFailed (a deterministic per-transaction error, e.g. an
// aggregator bound violation), or the block as a whole fails with
// ErrBlockCanceled, ErrSchedulerDeadlock, ErrModulePathReadWrite or a
// wrapped ErrFatalVMError.
func (pe *ParallelExecutor) Run(ctx context.Context) ([]Output, *DependencyGraph, error) {
	n := len(pe.tasks)
	if n == 0 {
		return nil, pe.depGraph, nil
	}

	numWorkers := pe.cfg.resolvedNumProcs()
	if numWorkers > n {
		numWorkers = n
	}

	runCtx, cancel := context.WithCancel(ctx)

	reqCh := make(chan execRequest)
	respCh := make(chan execResponse)

	var wg sync.WaitGroup

	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()

			for req := range reqCh {
				view := NewVersionedView(pe.mvh, pe.deltaLayer, pe.base, req.tx, req.incarnation)
				err := pe.tasks[req.tx].Execute(view, req.incarnation)
				pe.metrics.incExecutions()

				select {
				case respCh <- execResponse{req.tx, req.incarnation, view, err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	// Canceling runCtx first unblocks any worker parked trying to
	// send a result before reqCh is closed and we wait for them to
	// exit; closing reqCh alone would leave a worker stuck mid-send
	// forever.
	defer func() {
		cancel()
		close(reqCh)
		wg.Wait()
	}()

	inflight := 0

	for {
		for inflight < numWorkers {
			tx := pe.execTasks.takeNextPending()
			if tx == -1 {
				break
			}

			pe.incarnations[tx]++

			select {
			case reqCh <- execRequest{tx, pe.incarnations[tx]}:
				inflight++
			case <-ctx.Done():
				return pe.outputs, pe.depGraph, ErrBlockCanceled
			}
		}

		if inflight == 0 {
			if pe.lastSettled < n {
				if ctx.Err() != nil {
					return pe.outputs, pe.depGraph, ErrBlockCanceled
				}

				return pe.outputs, pe.depGraph, ErrSchedulerDeadlock
			}

			break
		}

		select {
		case <-ctx.Done():
			return pe.outputs, pe.depGraph, ErrBlockCanceled
		case resp := <-respCh:
			inflight--
			pe.handleResult(resp)

			if pe.fatalErr != nil {
				return pe.outputs, pe.depGraph, pe.fatalErr
			}
		}
	}

	if pe.depGraph != nil {
		pe.depGraph.AllDeps = GetDep(*pe.txio)
	}

	if err := pe.guard.Check(); err != nil {
		return nil, pe.depGraph, err
	}

	return pe.outputs, pe.depGraph, nil
}

func (pe *ParallelExecutor) handleResult(resp execResponse) {
	tx, incarnation, view, err := resp.tx, resp.incarnation, resp.view, resp.err

	// This incarnation has finished running; until tx leaves inProgress,
	// pushPending refuses to re-queue it.
	pe.execTasks.clearInProgress(tx)

	if err != nil {
		if blocker, ok := AsDependency(err); ok {
			pe.metrics.incAborts()
			xlog.Trace("execution aborted on dependency", "tx", tx, "incarnation", incarnation, "blocker", blocker)

			if !pe.execTasks.addDependencies(blocker, tx) {
				// blocker already completed by the time we observed
				// the dependency (stale read); nothing to wait on.
				pe.execTasks.pushPending(tx)
			}

			return
		}

		pe.fatalErr = fmt.Errorf("%w: tx %d: %v", ErrFatalVMError, tx, err)
		xlog.Error("fatal VM error, aborting block", "tx", tx, "err", err)

		return
	}

	reads := view.ReadSet()
	writes := view.WriteSet()
	deltas := view.DeltaSet()

	prevAll := pe.txio.AllWriteSet(tx)

	pe.txio.recordRead(tx, reads)
	pe.txio.recordWrite(tx, TxnOutput(writes))
	pe.txio.recordAllWrite(tx, TxnOutput(writes))

	pe.mvh.FlushMVWriteSet(writes)

	// Locations the previous incarnation wrote that this one no longer
	// writes are removed from the MVDS.
	written := make(map[Key]bool, len(writes))
	for _, w := range writes {
		written[w.Path] = true
	}

	for _, w := range prevAll {
		if !written[w.Path] {
			pe.mvh.Delete(w.Path, tx)
		}
	}

	for _, pd := range deltas {
		pe.deltaLayer.RecordDelta(pd.key, Version{TxnIndex: tx, Incarnation: incarnation}, pd.delta)
	}

	pe.deltaSets[tx] = deltas
	pe.guard.observe(reads, writes)

	pe.metrics.incValidations()

	if !ValidateVersion(tx, pe.txio, pe.mvh, pe.deltaLayer) {
		pe.metrics.incValidationFailure()
		xlog.Debug("validation failed, re-queuing for re-execution", "tx", tx, "incarnation", incarnation)
		pe.invalidate(tx)

		return
	}

	pe.execTasks.markComplete(tx)
	pe.execTasks.removeDependency(tx)

	if TxnOutput(writes).hasNewWrite(prevAll) {
		for _, v := range pe.execTasks.getRevalidationRange(tx + 1) {
			pe.execTasks.clearComplete(v)
			pe.execTasks.pushPending(v)
		}
	}

	pe.tryCommit()
}

// invalidate marks tx's just-flushed writes/deltas as Estimate rather
// than deleting them outright, so any transaction already depending
// on them observes Dependency (and suspends/retries) instead of
// falling through to a stale base-view read, then re-queues tx for
// re-execution at a fresh incarnation (§4.5). Unlike finish_execution's
// wrote_new_locations-gated sweep (the success path below), a failed
// validation unconditionally lowers the revalidation frontier to tx:
// any already-complete transaction above it may have read exactly the
// entries just marked Estimate here, regardless of whether tx ends up
// writing any new location once it re-executes (§4.4 finish_validation).
func (pe *ParallelExecutor) invalidate(tx int) {
	for _, w := range pe.txio.AllWriteSet(tx) {
		pe.mvh.MarkEstimate(w.Path, tx)
	}

	for _, pd := range pe.deltaSets[tx] {
		pe.deltaLayer.MarkEstimate(pd.key, tx)
	}

	pe.execTasks.clearComplete(tx)
	pe.execTasks.pushPending(tx)

	// getRevalidationRange stops at the contiguous complete prefix, which
	// always ends below tx here, so the complete indices above tx are
	// collected directly.
	var above []int
	for _, v := range pe.execTasks.complete {
		if v > tx {
			above = append(above, v)
		}
	}

	for _, v := range above {
		pe.execTasks.clearComplete(v)
		pe.execTasks.pushPending(v)
	}
}

// tryCommit finalizes every contiguous, already-validated transaction
// starting at lastSettled, in strict index order (§4.6).
func (pe *ParallelExecutor) tryCommit() {
	for pe.lastSettled < len(pe.tasks) && pe.execTasks.checkComplete(pe.lastSettled) {
		tx := pe.lastSettled

		var gas uint64
		if g, ok := pe.tasks[tx].(GasTask); ok {
			gas = g.GasUsed()
		}

		out, err := pe.commitPipe.commit(tx, pe.txio.outputs[tx], pe.deltaSets[tx], gas)
		if err != nil {
			out = Output{TxnIndex: tx, Status: StatusFailed}
		}

		pe.tasks[tx].Settle()
		pe.outputs = append(pe.outputs, out)
		pe.lastSettled++
	}
}

// ExecuteBlock is the package's top-level entry point (§8): run tasks
// to completion against base under cfg, honoring ctx cancellation.
func ExecuteBlock(ctx context.Context, tasks []ExecTask, base StateView, cfg ExecutorConfig, metrics *Metrics) ([]Output, *DependencyGraph, error) {
	pe := NewParallelExecutor(tasks, base, cfg, metrics)
	return pe.Run(ctx)
}
