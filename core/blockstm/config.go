package blockstm

import "runtime"

// ExecutorConfig parameterizes a ParallelExecutor run. It replaces
// the teacher's package-level globals (NumProcs, profiling toggles)
// with an explicit, per-call value so that multiple blocks can be
// executed concurrently with independent settings and so tests don't
// leak state across each other (§9 "replace global mutable state").
type ExecutorConfig struct {
	// NumProcs bounds how many transactions may execute concurrently.
	// Zero or negative selects runtime.NumCPU().
	NumProcs int
	// DeltaCacheSize bounds the aggregator delta composition cache
	// (0 disables memoization; see DeltaLayer).
	DeltaCacheSize int
	// GasLimit is the block's cumulative gas cap; zero means
	// unlimited. Enforced at commit, not at execution time, since gas
	// usage is only known once a transaction's output is final.
	GasLimit uint64
	// Profile, if true, makes Run return a DependencyGraph whose AllDeps
	// holds GetDep's view of each transaction's final read-set. No
	// per-task timing stats are kept; Report takes them from its caller.
	Profile bool
	// Metadata seeds the scheduler with Dependencies() hints pulled
	// from each ExecTask before falling back to abort-discovered
	// dependencies (§9 "dynamic dispatch via data-driven ... hints").
	Metadata bool
}

// resolvedNumProcs returns cfg.NumProcs, or runtime.NumCPU() if
// unset.
func (cfg ExecutorConfig) resolvedNumProcs() int {
	if cfg.NumProcs > 0 {
		return cfg.NumProcs
	}

	return runtime.NumCPU()
}

// DefaultExecutorConfig returns a config with capacity-derived
// concurrency and a modest delta cache, no gas cap, and profiling
// off.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		NumProcs:       runtime.NumCPU(),
		DeltaCacheSize: 1024,
	}
}
