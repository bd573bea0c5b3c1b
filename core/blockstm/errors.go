package blockstm

import "errors"

// The core surfaces exactly four classes of outcome for a block
// (§7): a completed block (possibly with some transactions marked
// Retry), a scheduler-fatal error that aborts the whole block, a
// per-transaction deterministic failure recorded in that
// transaction's Output, and a context cancellation.
var (
	// ErrExecAbortError signals a speculative abort: a read observed
	// an Estimate-flagged entry and the incarnation must be
	// suspended and re-executed once its blocker resolves. Never
	// surfaced to callers of ExecuteBlock; handled entirely inside
	// the scheduler.
	ErrExecAbortError = errors.New("blockstm: execution aborted, dependency not yet resolved")

	// ErrFatalVMError is wrapped around any error an ExecTask.Execute
	// returns that is not ErrExecAbortError; it aborts the whole
	// block, since the core has no way to know whether the VM's
	// internal state is still consistent.
	ErrFatalVMError = errors.New("blockstm: fatal VM error")

	// ErrBlockCanceled is returned when the supplied context is
	// canceled or its deadline expires before the block finishes.
	ErrBlockCanceled = errors.New("blockstm: block execution canceled")

	// ErrSchedulerDeadlock is returned if the scheduler runs out of
	// both pending and in-flight work before every transaction has
	// settled — only reachable with a cyclic Dependencies() hint,
	// since abort-discovered dependencies can never cycle (a
	// transaction only ever depends on a strictly lower index).
	ErrSchedulerDeadlock = errors.New("blockstm: scheduler deadlocked on a dependency cycle")
)
