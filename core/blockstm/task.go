package blockstm

import (
	"fmt"
	"sort"
)

// ExecTask is the opaque VM adapter the core consumes (§6). It is
// never inspected by the core beyond these methods; everything about
// what a transaction actually does is the VM's business.
type ExecTask interface {
	// Execute runs the transaction against view at the given
	// incarnation. All reads and writes must go through view, which
	// records the read-set, write-set and any aggregator deltas for
	// the scheduler to inspect once Execute returns. A dependency
	// error from view.Read/view.ApplyDelta (see AsDependency) should
	// be returned immediately rather than swallowed.
	Execute(view *VersionedView, incarnation int) error
	// Settle is invoked once, in commit order, after the task's
	// incarnation has been validated and will not be re-executed.
	Settle()
	Sender() Address
	// Dependencies lists transaction indices this task is already
	// known to depend on (e.g. from a prior block's profiling run),
	// used to seed the scheduler instead of discovering them by abort.
	Dependencies() []int
}

// TxnInput is one incarnation's read-set.
type TxnInput []ReadDescriptor

// TxnOutput is one incarnation's write-set.
type TxnOutput []WriteDescriptor

// hasNewWrite reports whether o touches any location prev didn't -
// such a write can invalidate reads above tx that previously fell
// through to storage.
func (o TxnOutput) hasNewWrite(prev TxnOutput) bool {
	prevSet := make(map[Key]bool, len(prev))
	for _, w := range prev {
		prevSet[w.Path] = true
	}

	for _, w := range o {
		if !prevSet[w.Path] {
			return true
		}
	}

	return false
}

// TxnInputOutput stores the most recent incarnation's read-set and
// write-set for every transaction index in the block.
type TxnInputOutput struct {
	inputs     [][]ReadDescriptor
	outputs    [][]WriteDescriptor
	allOutputs [][]WriteDescriptor
}

// MakeTxnInputOutput allocates a TxnInputOutput sized for n
// transactions.
func MakeTxnInputOutput(n int) *TxnInputOutput {
	return &TxnInputOutput{
		inputs:     make([][]ReadDescriptor, n),
		outputs:    make([][]WriteDescriptor, n),
		allOutputs: make([][]WriteDescriptor, n),
	}
}

func (io *TxnInputOutput) recordRead(tx int, in TxnInput) { io.inputs[tx] = in }

func (io *TxnInputOutput) recordWrite(tx int, out TxnOutput) { io.outputs[tx] = out }

func (io *TxnInputOutput) recordAllWrite(tx int, out TxnOutput) { io.allOutputs[tx] = out }

// AllWriteSet is the write-set recorded for tx's most recent
// incarnation; handleResult diffs the next incarnation's writes
// against it.
func (io *TxnInputOutput) AllWriteSet(tx int) TxnOutput { return io.allOutputs[tx] }

// ReadSet returns the current incarnation's read-set.
func (io *TxnInputOutput) ReadSet(tx int) TxnInput { return io.inputs[tx] }

// ValidateVersion re-checks tx's recorded read-set against the
// current MVDS and delta-layer state, per spec.md §4.5's Validate
// dispatch.
func ValidateVersion(tx int, txio *TxnInputOutput, mvh *MVHashMap, deltaLayer *DeltaLayer) bool {
	for _, rd := range txio.inputs[tx] {
		switch rd.Kind {
		case ReadKindStorage:
			res := mvh.Read(rd.Path, tx)
			if res.Status() != MVReadResultNone {
				return false
			}
		case ReadKindMap:
			res := mvh.Read(rd.Path, tx)
			if res.Status() != MVReadResultDone {
				return false
			}

			if res.DepIdx() != rd.V.TxnIndex || res.Incarnation() != rd.V.Incarnation {
				return false
			}
		case ReadKindDelta:
			view := deltaLayer.ReadDelta(rd.Path, tx)
			if view.DepIdx != rd.V.TxnIndex || view.DepIncarnation != rd.V.Incarnation {
				return false
			}
		}
	}

	return true
}

// GetDep derives, for each transaction, the set of transaction
// indices its last recorded read-set actually depended on. Used only
// for profiling/metadata-assisted scheduling (§9 "dynamic dispatch"
// note generalised to a data-driven dependency hint).
func GetDep(txio TxnInputOutput) map[int][]int {
	deps := make(map[int][]int, len(txio.inputs))

	for tx, reads := range txio.inputs {
		seen := make(map[int]bool)

		for _, rd := range reads {
			if (rd.Kind == ReadKindMap || rd.Kind == ReadKindDelta) && rd.V.TxnIndex >= 0 {
				seen[rd.V.TxnIndex] = true
			}
		}

		list := make([]int, 0, len(seen))
		for k := range seen {
			list = append(list, k)
		}

		sort.Ints(list)
		deps[tx] = list
	}

	return deps
}

// DependencyGraph is a profiling snapshot of GetDep's output, for ad
// hoc reporting. Per-task execution-window stats are not stored in it;
// Report takes them as an argument.
type DependencyGraph struct {
	AllDeps map[int][]int
}

// Report prints one line per task with its recorded dependencies and
// execution window via emit (typically fmt.Println).
func (d *DependencyGraph) Report(stats [][]uint64, emit func(string)) {
	if d == nil {
		return
	}

	for _, stat := range stats {
		if len(stat) < 4 {
			continue
		}

		tx := int(stat[0])
		emit(fmt.Sprintf("tx=%d incarnation=%d start=%d end=%d deps=%v", tx, stat[1], stat[2], stat[3], d.AllDeps[tx]))
	}
}
