package blockstm

// StateView is the read-only base layer beneath the MVDS and delta
// layer: committed state as of the start of the block, or whatever
// the VM's caller considers "storage" (§3, §6). The core never writes
// through it; all speculative writes live in the MVHashMap/DeltaLayer
// until commit.
type StateView interface {
	// ReadState returns the committed value at key, or ok == false if
	// the key has never been written.
	ReadState(key Key) (value any, ok bool)
	// ReadAggregator returns the committed base value of an aggregator
	// counter at key, or ok == false if it doesn't exist yet.
	ReadAggregator(key Key) (base int64, ok bool)
}

// VersionedView is the per-incarnation façade an ExecTask reads and
// writes through (§4.3). Read goes through the MVDS before falling
// back to the base StateView; ApplyDelta goes through the delta layer
// and the base aggregator value. The view also buffers the
// incarnation's own not-yet-flushed writes so a
// transaction always observes its own prior writes within the same
// incarnation.
type VersionedView struct {
	mvh   *MVHashMap
	delta *DeltaLayer
	base  StateView
	txIdx int
	inc   int

	reads         []ReadDescriptor
	writes        map[Key]any
	pendingDeltas []pendingDelta
	// writeOrder preserves first-write order so WriteSet returns a
	// deterministic order instead of Go's randomized map order.
	writeOrder []Key

	// aborted is latched the first time a read observes a Dependency;
	// the executing incarnation should stop doing further work once
	// set and let the scheduler decide whether to suspend or abort.
	aborted    bool
	abortedDep int
}

// NewVersionedView constructs the view a single incarnation of
// transaction txIdx executes against.
func NewVersionedView(mvh *MVHashMap, delta *DeltaLayer, base StateView, txIdx, incarnation int) *VersionedView {
	return &VersionedView{
		mvh:    mvh,
		delta:  delta,
		base:   base,
		txIdx:  txIdx,
		inc:    incarnation,
		writes: make(map[Key]any),
	}
}

// dependencyError is returned by Read/ApplyDelta when the value being
// accessed depends on an in-flight, not-yet-resolved write from a
// lower transaction (§4.3 step 5). An ExecTask that sees this should
// stop executing immediately; the scheduler is responsible for
// suspending and later re-dispatching it once the blocker resolves.
type dependencyError struct{ blocker int }

func newDependencyError(blocker int) *dependencyError { return &dependencyError{blocker: blocker} }

func (e *dependencyError) Error() string { return "blockstm: read depends on unresolved transaction" }

// Unwrap lets callers test for a dependency signal generically via
// errors.Is(err, ErrExecAbortError), without needing the unexported
// concrete type.
func (e *dependencyError) Unwrap() error { return ErrExecAbortError }

// AsDependency reports whether err is a read-dependency signal and,
// if so, which transaction index it is blocked on.
func AsDependency(err error) (blocker int, ok bool) {
	de, ok := err.(*dependencyError)
	if !ok {
		return 0, false
	}

	return de.blocker, true
}

// Read resolves key for this incarnation: its own buffered write
// first, then the MVDS, then the base view.
func (vv *VersionedView) Read(key Key) (any, error) {
	if v, ok := vv.writes[key]; ok {
		return v, nil
	}

	res := vv.mvh.Read(key, vv.txIdx)

	switch res.Status() {
	case MVReadResultDone:
		vv.reads = append(vv.reads, ReadDescriptor{
			Path: key,
			Kind: ReadKindMap,
			V:    Version{TxnIndex: res.DepIdx(), Incarnation: res.Incarnation()},
		})

		return res.Value(), nil
	case MVReadResultDependency:
		vv.aborted = true
		vv.abortedDep = res.DepIdx()

		return nil, newDependencyError(res.DepIdx())
	default:
		vv.reads = append(vv.reads, ReadDescriptor{Path: key, Kind: ReadKindStorage})

		val, ok := vv.base.ReadState(key)
		if !ok {
			return nil, nil
		}

		return val, nil
	}
}

// Write buffers a value for key under this incarnation; it is not
// visible to the MVDS or any other transaction until the scheduler
// flushes it via FlushMVWriteSet.
func (vv *VersionedView) Write(key Key, value any) {
	if _, exists := vv.writes[key]; !exists {
		vv.writeOrder = append(vv.writeOrder, key)
	}

	vv.writes[key] = value
}

// ApplyDelta attempts to apply d to the aggregator counter at key
// (§4.2). It composes the delta layer's current view with the base
// value, and fails deterministically with ErrDeltaApplicationFailure
// if doing so would leave d's declared [Min, Max] range — this is a
// transaction-level failure the VM should record as the task's
// status, not a speculative abort. It can also return a dependency
// error (see AsDependency) if the nearest prior delta writer is still
// unresolved.
func (vv *VersionedView) ApplyDelta(key Key, d Delta) (int64, error) {
	view := vv.delta.ReadDelta(key, vv.txIdx)

	if view.DepIdx != -1 && view.DepIncarnation == -1 {
		vv.aborted = true
		vv.abortedDep = view.DepIdx

		return 0, newDependencyError(view.DepIdx)
	}

	base, _ := vv.base.ReadAggregator(key)

	result, err := CheckDelta(view, base, d)
	if err != nil {
		return 0, err
	}

	vv.reads = append(vv.reads, ReadDescriptor{
		Path: key,
		Kind: ReadKindDelta,
		V:    Version{TxnIndex: view.DepIdx, Incarnation: view.DepIncarnation},
	})

	vv.pendingDeltas = append(vv.pendingDeltas, pendingDelta{key: key, delta: d})

	return result, nil
}

type pendingDelta struct {
	key   Key
	delta Delta
}

// Aborted reports whether any read this incarnation performed
// observed an unresolved dependency.
func (vv *VersionedView) Aborted() (blocker int, aborted bool) {
	return vv.abortedDep, vv.aborted
}

// ReadSet returns every location this incarnation observed, in the
// order it observed them.
func (vv *VersionedView) ReadSet() []ReadDescriptor { return vv.reads }

// WriteSet returns every location this incarnation wrote, in
// first-write order.
func (vv *VersionedView) WriteSet() []WriteDescriptor {
	out := make([]WriteDescriptor, 0, len(vv.writeOrder))
	for _, k := range vv.writeOrder {
		out = append(out, WriteDescriptor{
			Path: k,
			V:    Version{TxnIndex: vv.txIdx, Incarnation: vv.inc},
			Val:  vv.writes[k],
		})
	}

	return out
}

// DeltaSet returns every aggregator delta this incarnation applied.
func (vv *VersionedView) DeltaSet() []pendingDelta { return vv.pendingDeltas }
