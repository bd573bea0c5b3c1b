package blockstm

import (
	"sort"
	"sync"
)

// numMVShards is the default number of shards the MVDS partitions its
// locations across. Per-shard locking means reads for distinct
// locations never contend on the same mutex; spec.md calls 16 a
// typical choice.
const numMVShards = 16

// MVReadResult is the outcome of a single MVDS read: one of
// Value(v, version) (depIdx/incarnation >= 0), Dependency(txi')
// (depIdx >= 0, incarnation == -1), or Storage (depIdx == -1).
type MVReadResult struct {
	depIdx      int
	incarnation int
	value       any
}

const (
	// MVReadResultDone means the read resolved to a concrete value
	// written by a prior incarnation.
	MVReadResultDone = 0
	// MVReadResultDependency means the read found a writer whose
	// incarnation is marked Estimate; the reader depends on it.
	MVReadResultDependency = 1
	// MVReadResultNone means no speculative writer exists below the
	// reader; the value must come from the base StateView.
	MVReadResultNone = 2
)

// Status reports which of the three MVReadResult cases this is.
func (r MVReadResult) Status() int {
	switch {
	case r.depIdx < 0:
		return MVReadResultNone
	case r.incarnation < 0:
		return MVReadResultDependency
	default:
		return MVReadResultDone
	}
}

// DepIdx is the transaction index of the writer this read observed
// (or would depend on), or -1 if none exists below the reader.
func (r MVReadResult) DepIdx() int { return r.depIdx }

// Incarnation is the writer's incarnation, or -1 if there is no
// writer or the writer's entry is marked Estimate.
func (r MVReadResult) Incarnation() int { return r.incarnation }

// Value is the concrete value observed, or nil unless Status() ==
// MVReadResultDone.
func (r MVReadResult) Value() any { return r.value }

type mvEntry struct {
	txnIndex    int
	incarnation int
	value       any
	estimate    bool
}

type mvShard struct {
	mu   sync.RWMutex
	locs map[Key][]mvEntry
}

// MVHashMap is the multi-version data store (§4.1): a sharded mapping
// from Key to the ordered chain of speculative writes recorded for
// it, indexed by transaction index.
type MVHashMap struct {
	shards [numMVShards]*mvShard
}

// MakeMVHashMap constructs an empty MVDS.
func MakeMVHashMap() *MVHashMap {
	mvh := &MVHashMap{}
	for i := range mvh.shards {
		mvh.shards[i] = &mvShard{locs: make(map[Key][]mvEntry)}
	}

	return mvh
}

func (mvh *MVHashMap) shardFor(k Key) *mvShard {
	return mvh.shards[k.shard(numMVShards)]
}

// findEntry returns the index of the entry for exactly txnIndex, or -1.
// entries is assumed sorted ascending by txnIndex.
func findEntry(entries []mvEntry, txnIndex int) int {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= txnIndex })
	if i < len(entries) && entries[i].txnIndex == txnIndex {
		return i
	}

	return -1
}

// predecessor returns the entry with the largest txnIndex strictly
// less than txnIndex, or ok == false if none exists.
func predecessor(entries []mvEntry, txnIndex int) (mvEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= txnIndex })
	if i == 0 {
		return mvEntry{}, false
	}

	return entries[i-1], true
}

// Write inserts or replaces the entry for (loc, v.TxnIndex) with a
// Resolved flag at incarnation v.Incarnation.
func (mvh *MVHashMap) Write(loc Key, v Version, data any) {
	s := mvh.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.locs[loc]

	if idx := findEntry(entries, v.TxnIndex); idx != -1 {
		entries[idx].incarnation = v.Incarnation
		entries[idx].value = data
		entries[idx].estimate = false

		return
	}

	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= v.TxnIndex })
	entries = append(entries, mvEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = mvEntry{txnIndex: v.TxnIndex, incarnation: v.Incarnation, value: data}
	s.locs[loc] = entries
}

// Read returns the entry at the largest txnIndex' < txnIndex for loc.
func (mvh *MVHashMap) Read(loc Key, txnIndex int) MVReadResult {
	s := mvh.shardFor(loc)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.locs[loc]
	if !ok {
		return MVReadResult{depIdx: -1, incarnation: -1}
	}

	e, ok := predecessor(entries, txnIndex)
	if !ok {
		return MVReadResult{depIdx: -1, incarnation: -1}
	}

	if e.estimate {
		return MVReadResult{depIdx: e.txnIndex, incarnation: -1}
	}

	return MVReadResult{depIdx: e.txnIndex, incarnation: e.incarnation, value: e.value}
}

// MarkEstimate sets the Estimate flag on the entry at (loc, txnIndex)
// without changing its value. It is a no-op if no such entry exists.
func (mvh *MVHashMap) MarkEstimate(loc Key, txnIndex int) {
	s := mvh.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.locs[loc]
	if idx := findEntry(entries, txnIndex); idx != -1 {
		entries[idx].estimate = true
	}
}

// Delete removes the entry for (loc, txnIndex), used when a
// re-execution no longer writes a location its prior incarnation did.
func (mvh *MVHashMap) Delete(loc Key, txnIndex int) {
	s := mvh.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.locs[loc]
	if !ok {
		return
	}

	idx := findEntry(entries, txnIndex)
	if idx == -1 {
		return
	}

	s.locs[loc] = append(entries[:idx], entries[idx+1:]...)
}

// FlushMVWriteSet applies every descriptor in wd via Write.
func (mvh *MVHashMap) FlushMVWriteSet(wd []WriteDescriptor) {
	for _, w := range wd {
		mvh.Write(w.Path, w.V, w.Val)
	}
}
