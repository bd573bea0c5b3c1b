package blockstm

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrModulePathReadWrite is returned when the same block both reads
// and publishes (writes) the same module address — code location RW
// races are exactly the case speculative execution can't tolerate,
// because a reader can't distinguish "module not yet published" from
// "module published by a lower, not-yet-committed transaction" (§5).
var ErrModulePathReadWrite = fmt.Errorf("blockstm: module path read-write conflict")

// ModuleGuard tracks, for one block, every module address read and
// every module address written, so the executor can refuse to run a
// block where the same module is both published and read rather than
// risk a non-deterministic speculative result (§5 "module-access
// guard"). It is block-scoped: construct a fresh guard per block.
type ModuleGuard struct {
	mu      sync.Mutex
	reads   mapset.Set[Address]
	writes  mapset.Set[Address]
	flagged mapset.Set[Address]
}

// NewModuleGuard constructs an empty guard.
func NewModuleGuard() *ModuleGuard {
	return &ModuleGuard{
		reads:   mapset.NewThreadUnsafeSet[Address](),
		writes:  mapset.NewThreadUnsafeSet[Address](),
		flagged: mapset.NewThreadUnsafeSet[Address](),
	}
}

// RecordRead notes that addr's module was read by some transaction in
// this block.
func (g *ModuleGuard) RecordRead(addr Address) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reads.Add(addr)
	if g.writes.Contains(addr) {
		g.flagged.Add(addr)
	}
}

// RecordWrite notes that addr's module was published (written) by
// some transaction in this block.
func (g *ModuleGuard) RecordWrite(addr Address) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.writes.Add(addr)
	if g.reads.Contains(addr) {
		g.flagged.Add(addr)
	}
}

// Check returns ErrModulePathReadWrite if any module address has been
// both read and written within this block.
func (g *ModuleGuard) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.flagged.Cardinality() == 0 {
		return nil
	}

	return fmt.Errorf("%w: %v", ErrModulePathReadWrite, g.flagged.ToSlice())
}

// Reset clears the guard for reuse across blocks.
func (g *ModuleGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reads.Clear()
	g.writes.Clear()
	g.flagged.Clear()
}

// observe routes a VersionedView's recorded read/write sets through
// the guard, classifying a Key as a module access via its Kind.
func (g *ModuleGuard) observe(reads []ReadDescriptor, writes []WriteDescriptor) {
	for _, rd := range reads {
		if rd.Path.Kind() == KindModule {
			g.RecordRead(rd.Path.addr)
		}
	}

	for _, wd := range writes {
		if wd.Path.Kind() == KindModule {
			g.RecordWrite(wd.Path.addr)
		}
	}
}
