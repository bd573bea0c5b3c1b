package blockstm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModuleGuardFlagsReadWriteRace(t *testing.T) {
	t.Parallel()

	g := NewModuleGuard()
	a := addr(1)

	g.RecordRead(a)
	require.NoError(t, g.Check())

	g.RecordWrite(a)
	require.ErrorIs(t, g.Check(), ErrModulePathReadWrite)
}

func TestModuleGuardAllowsWriteOnly(t *testing.T) {
	t.Parallel()

	g := NewModuleGuard()
	g.RecordWrite(addr(1))
	require.NoError(t, g.Check())
}

func TestModuleGuardAllowsReadOnly(t *testing.T) {
	t.Parallel()

	g := NewModuleGuard()
	g.RecordRead(addr(1))
	require.NoError(t, g.Check())
}

func TestModuleGuardObserveIgnoresDataKeys(t *testing.T) {
	t.Parallel()

	g := NewModuleGuard()
	a := addr(1)

	reads := []ReadDescriptor{{Path: NewAddressKey(a)}}
	writes := []WriteDescriptor{{Path: NewAddressKey(a)}}

	g.observe(reads, writes)
	require.NoError(t, g.Check())
}

func TestModuleGuardReset(t *testing.T) {
	t.Parallel()

	g := NewModuleGuard()
	a := addr(1)

	g.RecordRead(a)
	g.RecordWrite(a)
	require.Error(t, g.Check())

	g.Reset()
	require.NoError(t, g.Check())
}
