package blockstm

import "sort"

// taskStatusManager tracks, for one of the scheduler's two cursors
// (execution or validation), which transaction indices are pending,
// in progress, or complete, plus the dependency edges that keep a
// transaction out of pending until its blocker finishes (§4.4).
type taskStatusManager struct {
	pending    []int
	inProgress []int
	complete   []int

	// blockCount[tx] is the number of not-yet-complete dependencies
	// still blocking tx from being scheduled.
	blockCount map[int]int
	// blocking[tx] lists the transactions waiting on tx to complete.
	blocking map[int][]int
}

func makeStatusManager(length int) taskStatusManager {
	pending := make([]int, length)
	for i := 0; i < length; i++ {
		pending[i] = i
	}

	return taskStatusManager{
		pending:    pending,
		inProgress: make([]int, 0, length),
		complete:   make([]int, 0, length),
		blockCount: make(map[int]int),
		blocking:   make(map[int][]int),
	}
}

func removeInt(list []int, v int) []int {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}

	return false
}

// insertInList inserts v into a sorted-ascending, duplicate-free list,
// returning the (possibly reallocated) list unchanged if v is already
// present.
func insertInList(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return list
	}

	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v

	return list
}

// takeNextPending removes and returns the smallest pending index, or
// -1 if pending is empty.
func (m *taskStatusManager) takeNextPending() int {
	if len(m.pending) == 0 {
		return -1
	}

	minIdx := 0

	for i := 1; i < len(m.pending); i++ {
		if m.pending[i] < m.pending[minIdx] {
			minIdx = i
		}
	}

	val := m.pending[minIdx]
	m.pending = append(m.pending[:minIdx], m.pending[minIdx+1:]...)
	m.inProgress = append(m.inProgress, val)

	return val
}

// minPending returns the smallest pending index without removing it,
// or -1 if pending is empty.
func (m *taskStatusManager) minPending() int {
	if len(m.pending) == 0 {
		return -1
	}

	min := m.pending[0]
	for _, v := range m.pending[1:] {
		if v < min {
			min = v
		}
	}

	return min
}

func (m *taskStatusManager) pushPending(tx int) {
	if containsInt(m.pending, tx) || containsInt(m.inProgress, tx) {
		return
	}

	m.pending = append(m.pending, tx)
}

func (m *taskStatusManager) pushPendingSet(txs []int) {
	for _, tx := range txs {
		m.pushPending(tx)
	}
}

func (m *taskStatusManager) markComplete(tx int) {
	m.inProgress = removeInt(m.inProgress, tx)
	m.complete = insertInList(m.complete, tx)
}

func (m *taskStatusManager) clearComplete(tx int) {
	m.complete = removeInt(m.complete, tx)
}

func (m *taskStatusManager) clearInProgress(tx int) {
	m.inProgress = removeInt(m.inProgress, tx)
}

func (m *taskStatusManager) clearPending(tx int) {
	m.pending = removeInt(m.pending, tx)
}

func (m *taskStatusManager) checkPending(tx int) bool {
	return containsInt(m.pending, tx)
}

func (m *taskStatusManager) checkInProgress(tx int) bool {
	return containsInt(m.inProgress, tx)
}

func (m *taskStatusManager) checkComplete(tx int) bool {
	i := sort.SearchInts(m.complete, tx)
	return i < len(m.complete) && m.complete[i] == tx
}

func (m *taskStatusManager) countComplete() int {
	return len(m.complete)
}

// maxAllComplete returns the largest tx such that every index in
// [0, tx] is complete, or -1 if 0 itself isn't complete yet.
func (m *taskStatusManager) maxAllComplete() int {
	max := -1

	for _, v := range m.complete {
		if v != max+1 {
			break
		}

		max = v
	}

	return max
}

// getRevalidationRange returns, in ascending order, the already
// complete indices in [minTx, maxAllComplete()] — the transactions
// that must be re-validated because a write below them changed.
func (m *taskStatusManager) getRevalidationRange(minTx int) []int {
	max := m.maxAllComplete()

	out := make([]int, 0)

	for _, v := range m.complete {
		if v >= minTx && v <= max {
			out = append(out, v)
		}
	}

	sort.Ints(out)

	return out
}

// isBlocked reports whether tx is still waiting on an uncompleted
// dependency.
func (m *taskStatusManager) isBlocked(tx int) bool {
	return m.blockCount[tx] > 0
}

// addDependencies records that tx may not be scheduled again until
// blocker completes. Returns false (no-op) if blocker has already
// completed by the time this is called.
func (m *taskStatusManager) addDependencies(blocker, tx int) bool {
	if m.checkComplete(blocker) {
		return false
	}

	m.blockCount[tx]++
	m.blocking[blocker] = append(m.blocking[blocker], tx)

	return true
}

// removeDependency unblocks every transaction waiting on tx, pushing
// any that reach zero remaining blockers back into pending.
func (m *taskStatusManager) removeDependency(tx int) {
	waiters, ok := m.blocking[tx]
	if !ok {
		return
	}

	delete(m.blocking, tx)

	for _, w := range waiters {
		m.blockCount[w]--
		if m.blockCount[w] <= 0 {
			delete(m.blockCount, w)
			m.pushPending(w)
		}
	}
}
