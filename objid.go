package afs

import "fmt"

// ObjId identifies an object (directory or file) by the block index of
// its top node plus a monotonic unique id written into that top node
// and re-checked on every lookup, so a stale reference to a recycled
// block is rejected rather than silently resolved (spec.md §3).
type ObjId struct {
	BlockIndex uint64
	UniqueId   uint64
}

// Root is the well-known id of the root directory (spec.md §3):
// block 0, unique id 0.
var Root = ObjId{BlockIndex: 0, UniqueId: 0}

// None is the parent id stored in the root directory's own top node,
// which has no parent.
var None = ObjId{BlockIndex: ^uint64(0), UniqueId: ^uint64(0)}

func (id ObjId) String() string {
	return fmt.Sprintf("ObjId(%d,%d)", id.BlockIndex, id.UniqueId)
}

func (id ObjId) IsRoot() bool { return id == Root }
func (id ObjId) IsNone() bool { return id == None }
