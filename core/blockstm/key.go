package blockstm

import (
	"encoding/binary"
	"hash/fnv"
)

// Address identifies the owner of a storage location (an account, a
// module publisher, ...). It is a plain fixed-size byte array; the
// core never interprets its contents.
type Address [20]byte

// Hash identifies a sub-resource under an Address (a storage slot, an
// event handle, a resource type hash, ...).
type Hash [32]byte

// Kind distinguishes locations the module-access guard must watch
// (code/module cells, which speculation cannot tolerate a read/write
// race on) from ordinary data cells.
type Kind uint8

const (
	KindData Kind = iota
	KindModule
)

// Key is the opaque Loc from the data model: an equality/hash key the
// core partitions by shard and tags with a Kind, without parsing
// anything else about it.
type Key struct {
	addr       Address
	kind       Kind
	path       Hash
	hasPath    bool
	subpath    int
	hasSubpath bool
}

// NewAddressKey builds a Key for the whole-account data cell at addr
// (e.g. a balance or sequence-number slot with no finer path).
func NewAddressKey(addr Address) Key {
	return Key{addr: addr, kind: KindData}
}

// NewStateKey builds a Key for a specific storage slot under addr.
func NewStateKey(addr Address, path Hash) Key {
	return Key{addr: addr, kind: KindData, path: path, hasPath: true}
}

// NewSubpathKey builds a Key for a small-integer-indexed sub-resource
// under addr (nonce, a specific resource field, ...).
func NewSubpathKey(addr Address, subpath int) Key {
	return Key{addr: addr, kind: KindData, subpath: subpath, hasSubpath: true}
}

// NewModuleKey builds a Key for a code/module cell. Locations built
// this way are the ones the module-access guard (moduleguard.go)
// watches for read/write races.
func NewModuleKey(addr Address) Key {
	return Key{addr: addr, kind: KindModule}
}

// Kind reports whether the location is code (module) or data.
func (k Key) Kind() Kind { return k.kind }

// hash64 is the key's hash, used for shard selection. Go map lookups
// do not use it; they rely on the struct's natural comparability.
func (k Key) hash64() uint64 {
	h := fnv.New64a()
	_, _ = h.Write(k.addr[:])
	_, _ = h.Write([]byte{byte(k.kind)})

	if k.hasPath {
		_, _ = h.Write([]byte{1})
		_, _ = h.Write(k.path[:])
	}

	if k.hasSubpath {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(k.subpath))
		_, _ = h.Write([]byte{2})
		_, _ = h.Write(buf[:])
	}

	return h.Sum64()
}

// shard returns the shard id a Key belongs to, extracted from the low
// bits of its hash per spec.md's "Layout" description of the MVDS.
func (k Key) shard(numShards int) int {
	return int(k.hash64() % uint64(numShards))
}
