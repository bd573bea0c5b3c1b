package blockstm

import (
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

// DeltaOp is the operator of a commutative aggregator update.
type DeltaOp int

const (
	DeltaAdd DeltaOp = iota
	DeltaSub
)

// Delta is a bounded additive update to an aggregator counter (§4.2):
// apply Op/Magnitude to the counter, failing if the running value
// would leave [Min, Max] at any canonical-order prefix.
type Delta struct {
	Op        DeltaOp
	Magnitude uint64
	Min       int64
	Max       int64
}

// apply returns base with the delta applied. The intermediate sum is
// carried in an unsigned 256-bit word so a large Magnitude can't wrap
// the native int64 addition before the [Min, Max] bounds check below
// gets a chance to reject it; ok is false if the true result doesn't
// fit back into an int64 at all (a fortiori out of any sane [Min, Max]).
func (d Delta) apply(base int64) (result int64, ok bool) {
	var mag, wide uint256.Int

	mag.SetUint64(d.Magnitude)

	neg := base < 0
	if neg {
		wide.SetUint64(uint64(-base))
	} else {
		wide.SetUint64(uint64(base))
	}

	addMag := d.Op == DeltaAdd
	if neg {
		addMag = !addMag
	}

	if addMag {
		wide.Add(&wide, &mag)
	} else if wide.Cmp(&mag) < 0 {
		wide.Sub(&mag, &wide)
		neg = !neg
	} else {
		wide.Sub(&wide, &mag)
	}

	if !wide.IsUint64() {
		return 0, false
	}

	u := wide.Uint64()
	if neg {
		if u > 1<<63 {
			return 0, false
		}

		return -int64(u), true
	}

	if u > 1<<63-1 {
		return 0, false
	}

	return int64(u), true
}

// ErrDeltaApplicationFailure is returned when composing or
// materializing a chain of deltas would leave the declared
// [Min, Max] range.
var ErrDeltaApplicationFailure = errors.New("blockstm: aggregator delta application failure")

type deltaEntry struct {
	txnIndex    int
	incarnation int
	delta       Delta
	estimate    bool
}

type deltaShard struct {
	mu   sync.RWMutex
	locs map[Key][]deltaEntry
	gen  map[Key]uint64
}

type deltaCacheKey struct {
	loc Key
	txi int
	gen uint64
}

// AggregateView is the result of composing every delta recorded below
// a given transaction index, per §4.2 read_delta.
type AggregateView struct {
	// Sum is the composition of all resolved deltas below the reader.
	Sum int64
	// DepIdx is the transaction index of the nearest predecessor
	// delta writer (used for read-set validation), or -1 if none.
	DepIdx int
	// DepIncarnation is that writer's incarnation, or -1 if DepIdx is
	// -1 or the predecessor is still marked Estimate.
	DepIncarnation int
}

// DeltaLayer is the aggregator-delta pipeline (§4.2): a sharded store
// of pending commutative updates, composed on demand and materialized
// to a concrete integer write at commit.
type DeltaLayer struct {
	shards [numMVShards]*deltaShard
	cache  *lru.Cache[deltaCacheKey, AggregateView]
}

// MakeDeltaLayer constructs an empty aggregator-delta layer. cacheSize
// bounds the memoized-composition cache (0 disables it).
func MakeDeltaLayer(cacheSize int) *DeltaLayer {
	dl := &DeltaLayer{}
	for i := range dl.shards {
		dl.shards[i] = &deltaShard{locs: make(map[Key][]deltaEntry), gen: make(map[Key]uint64)}
	}

	if cacheSize > 0 {
		c, _ := lru.New[deltaCacheKey, AggregateView](cacheSize)
		dl.cache = c
	}

	return dl
}

func (dl *DeltaLayer) shardFor(k Key) *deltaShard {
	return dl.shards[k.shard(numMVShards)]
}

// RecordDelta stages a delta for (loc, v.TxnIndex).
func (dl *DeltaLayer) RecordDelta(loc Key, v Version, d Delta) {
	s := dl.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.locs[loc]

	if idx := findDeltaEntry(entries, v.TxnIndex); idx != -1 {
		entries[idx].incarnation = v.Incarnation
		entries[idx].delta = d
		entries[idx].estimate = false
	} else {
		i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= v.TxnIndex })
		entries = append(entries, deltaEntry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = deltaEntry{txnIndex: v.TxnIndex, incarnation: v.Incarnation, delta: d}
		s.locs[loc] = entries
	}

	s.gen[loc]++
}

func findDeltaEntry(entries []deltaEntry, txnIndex int) int {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= txnIndex })
	if i < len(entries) && entries[i].txnIndex == txnIndex {
		return i
	}

	return -1
}

// MarkEstimate flags the delta entry at (loc, txnIndex) as provisional.
func (dl *DeltaLayer) MarkEstimate(loc Key, txnIndex int) {
	s := dl.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.locs[loc]
	if idx := findDeltaEntry(entries, txnIndex); idx != -1 {
		entries[idx].estimate = true
		s.gen[loc]++
	}
}

// Delete removes the delta entry for (loc, txnIndex).
func (dl *DeltaLayer) Delete(loc Key, txnIndex int) {
	s := dl.shardFor(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.locs[loc]
	if !ok {
		return
	}

	idx := findDeltaEntry(entries, txnIndex)
	if idx == -1 {
		return
	}

	s.locs[loc] = append(entries[:idx], entries[idx+1:]...)
	s.gen[loc]++
}

// HasDeltas reports whether loc currently holds a delta entry below
// txnIndex. VersionedView.Read does not call it; reads of loc go to the
// MVDS regardless.
func (dl *DeltaLayer) HasDeltas(loc Key, txnIndex int) bool {
	s := dl.shardFor(loc)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.locs[loc]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= txnIndex })

	return i > 0
}

// ReadDelta composes every resolved delta recorded below txnIndex. If
// the nearest predecessor is marked Estimate, Sum is meaningless and
// DepIncarnation is -1 to signal the reader should suspend (§4.3
// step 5), mirroring MVDS.Read's Dependency case.
func (dl *DeltaLayer) ReadDelta(loc Key, txnIndex int) AggregateView {
	s := dl.shardFor(loc)

	s.mu.RLock()
	entries := s.locs[loc]
	gen := s.gen[loc]
	s.mu.RUnlock()

	i := sort.Search(len(entries), func(i int) bool { return entries[i].txnIndex >= txnIndex })
	if i == 0 {
		return AggregateView{DepIdx: -1, DepIncarnation: -1}
	}

	nearest := entries[i-1]
	if nearest.estimate {
		return AggregateView{DepIdx: nearest.txnIndex, DepIncarnation: -1}
	}

	if dl.cache != nil {
		if v, ok := dl.cache.Get(deltaCacheKey{loc, txnIndex, gen}); ok {
			return v
		}
	}

	var sum int64
	for _, e := range entries[:i] {
		if e.estimate {
			continue
		}

		// Every entry here was already bounds-checked against its own
		// [Min, Max] when it was materialized or speculatively applied
		// by CheckDelta, so overflow composing them is not expected;
		// fall back to the unwidened value rather than corrupt Sum.
		if v, ok := e.delta.apply(sum); ok {
			sum = v
		}
	}

	view := AggregateView{Sum: sum, DepIdx: nearest.txnIndex, DepIncarnation: nearest.incarnation}

	if dl.cache != nil {
		dl.cache.Add(deltaCacheKey{loc, txnIndex, gen}, view)
	}

	return view
}

// Materialize applies every delta recorded at index <= txnIndex to
// base, in canonical (ascending) index order, failing with
// ErrDeltaApplicationFailure the moment any prefix would leave
// [Min, Max]. It is only ever called from the commit pipeline, after
// every contributing incarnation has been validated, so no entry
// should still be Estimate-flagged.
func (dl *DeltaLayer) Materialize(loc Key, txnIndex int, base int64) (int64, error) {
	s := dl.shardFor(loc)

	s.mu.RLock()
	entries := append([]deltaEntry(nil), s.locs[loc]...)
	s.mu.RUnlock()

	value := base

	for _, e := range entries {
		if e.txnIndex > txnIndex {
			break
		}

		next, ok := e.delta.apply(value)
		if !ok || next < e.delta.Min || next > e.delta.Max {
			return 0, ErrDeltaApplicationFailure
		}

		value = next
	}

	return value, nil
}

// CheckDelta reports what applying d to the aggregate sum view would
// yield, failing with ErrDeltaApplicationFailure if that would leave
// d's own [Min, Max] range. This is the prospective check a versioned
// view runs when the executing incarnation itself attempts to apply a
// delta (§4.2): unlike Materialize, it is called mid-execution against
// a single not-yet-recorded update, not the whole historical chain.
func CheckDelta(view AggregateView, base int64, d Delta) (int64, error) {
	next, ok := d.apply(view.Sum + base)
	if !ok || next < d.Min || next > d.Max {
		return 0, ErrDeltaApplicationFailure
	}

	return next, nil
}
