package blockstm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaApplyWithinBounds(t *testing.T) {
	t.Parallel()

	d := Delta{Op: DeltaAdd, Magnitude: 5, Min: 0, Max: 100}
	v, ok := d.apply(10)
	require.True(t, ok)
	require.Equal(t, int64(15), v)

	d = Delta{Op: DeltaSub, Magnitude: 5, Min: 0, Max: 100}
	v, ok = d.apply(10)
	require.True(t, ok)
	require.Equal(t, int64(5), v)
}

func TestDeltaApplyCrossesZero(t *testing.T) {
	t.Parallel()

	d := Delta{Op: DeltaSub, Magnitude: 10, Min: -100, Max: 100}
	v, ok := d.apply(4)
	require.True(t, ok)
	require.Equal(t, int64(-6), v)

	d = Delta{Op: DeltaAdd, Magnitude: 10, Min: -100, Max: 100}
	v, ok = d.apply(-4)
	require.True(t, ok)
	require.Equal(t, int64(6), v)
}

func TestDeltaApplyOverflowsInt64(t *testing.T) {
	t.Parallel()

	d := Delta{Op: DeltaAdd, Magnitude: 1 << 63, Min: 0, Max: 1 << 62}
	_, ok := d.apply(1 << 62)
	require.False(t, ok)
}

func TestDeltaLayerComposesInOrder(t *testing.T) {
	t.Parallel()

	dl := MakeDeltaLayer(0)
	key := NewSubpathKey(addr(1), 0)

	dl.RecordDelta(key, Version{TxnIndex: 0, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 10, Min: 0, Max: 1000})
	dl.RecordDelta(key, Version{TxnIndex: 2, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 5, Min: 0, Max: 1000})

	view := dl.ReadDelta(key, 5)
	require.Equal(t, int64(15), view.Sum)
	require.Equal(t, 2, view.DepIdx)
	require.Equal(t, 0, view.DepIncarnation)
}

func TestDeltaLayerReadBelowFirstEntryReturnsNone(t *testing.T) {
	t.Parallel()

	dl := MakeDeltaLayer(0)
	key := NewSubpathKey(addr(1), 0)
	dl.RecordDelta(key, Version{TxnIndex: 3, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 1, Min: 0, Max: 10})

	view := dl.ReadDelta(key, 1)
	require.Equal(t, -1, view.DepIdx)
	require.Equal(t, -1, view.DepIncarnation)
}

func TestDeltaLayerEstimateBlocksComposition(t *testing.T) {
	t.Parallel()

	dl := MakeDeltaLayer(0)
	key := NewSubpathKey(addr(1), 0)
	dl.RecordDelta(key, Version{TxnIndex: 0, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 10, Min: 0, Max: 1000})
	dl.MarkEstimate(key, 0)

	view := dl.ReadDelta(key, 1)
	require.Equal(t, 0, view.DepIdx)
	require.Equal(t, -1, view.DepIncarnation)
}

func TestDeltaLayerMaterializeRejectsOutOfBounds(t *testing.T) {
	t.Parallel()

	dl := MakeDeltaLayer(0)
	key := NewSubpathKey(addr(1), 0)
	dl.RecordDelta(key, Version{TxnIndex: 0, Incarnation: 0}, Delta{Op: DeltaSub, Magnitude: 50, Min: 0, Max: 1000})

	_, err := dl.Materialize(key, 0, 10)
	require.ErrorIs(t, err, ErrDeltaApplicationFailure)
}

func TestDeltaLayerMaterializeStopsAtRequestedIndex(t *testing.T) {
	t.Parallel()

	dl := MakeDeltaLayer(0)
	key := NewSubpathKey(addr(1), 0)
	dl.RecordDelta(key, Version{TxnIndex: 0, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 10, Min: 0, Max: 1000})
	dl.RecordDelta(key, Version{TxnIndex: 5, Incarnation: 0}, Delta{Op: DeltaAdd, Magnitude: 100, Min: 0, Max: 1000})

	v, err := dl.Materialize(key, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), v)
}

func TestCheckDeltaRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	view := AggregateView{Sum: 0, DepIdx: -1, DepIncarnation: -1}
	_, err := CheckDelta(view, 90, Delta{Op: DeltaAdd, Magnitude: 20, Min: 0, Max: 100})
	require.ErrorIs(t, err, ErrDeltaApplicationFailure)
}
