package afs

import (
	"fmt"

	"github.com/blocktree/afs/util"
)

// blockKind tags byte 0 of every block (spec.md §3/§6).
type blockKind byte

const (
	kindNone blockKind = iota
	kindMaster
	kindFreeList
	kindNode
	kindFreeBlock
	kindData
)

func (k blockKind) String() string {
	switch k {
	case kindMaster:
		return "Master"
	case kindFreeList:
		return "FreeList"
	case kindNode:
		return "Node"
	case kindFreeBlock:
		return "FreeBlock"
	case kindData:
		return "Data"
	default:
		return "None"
	}
}

// kindOffset is the well-known byte offset of the kind tag in every block.
const kindOffset = 0

// Block is a thin handle to a single block's bytes plus its identity
// and dirty-copy bookkeeping (spec.md §3/§4.3). It never leaves the
// package; callers only ever see typed views over it (see masterview.go,
// freelistview.go, nodeview.go, dirview.go and fileview.go).
//
// Grounded on ext4/inode.go's pattern of holding a fixed-offset byte
// slice alongside decoded fields, generalized here to a raw,
// kind-tagged block rather than one specific record shape.
type Block struct {
	index    uint64
	data     []byte
	original []byte // set by copy-on-write when first mutated in a scope; nil otherwise
	dirty    bool
	scope    *JournaledWrite // the journaled write this block was obtained through, if any
}

func newBlock(index uint64, size uint32) *Block {
	return &Block{index: index, data: make([]byte, size)}
}

// Index returns the block's position on the device.
func (b *Block) Index() uint64 { return b.index }

// Kind returns the block's kind tag.
func (b *Block) Kind() blockKind { return blockKind(b.data[kindOffset]) }

func (b *Block) setKind(k blockKind) { b.data[kindOffset] = byte(k) }

// Bytes returns the block's backing storage. Views mutate through this
// slice; callers outside the package never see it directly.
func (b *Block) Bytes() []byte { return b.data }

// touch performs copy-on-write: the first time a block is mutated
// within a journaled write scope, its pristine image is cloned aside
// so the scope can restore it on abort (spec.md §4.3).
func (b *Block) touch() {
	if b.original == nil {
		orig := make([]byte, len(b.data))
		copy(orig, b.data)
		b.original = orig
		b.dirty = true
	}
	if b.scope != nil {
		b.scope.registerChanged(b)
	}
}

// restore reverts a touched block to its pre-scope image (abort path).
func (b *Block) restore() {
	if b.original == nil {
		return
	}
	copy(b.data, b.original)
	b.original = nil
	b.dirty = false
}

// dropOriginal discards the saved pre-scope image (complete path).
func (b *Block) dropOriginal() {
	b.original = nil
	b.dirty = false
}

func assertKind(b *Block, want blockKind) {
	if got := b.Kind(); got != want {
		corruptBlock("block view", b, "block %d: expected kind %s, got %s", b.index, want, got)
	}
}

// corruptBlock is corrupt() with the offending block's bytes attached as a
// hex dump, so a CorruptionError's Detail is enough to diagnose the bad
// block without re-running the program under a debugger.
func corruptBlock(context string, b *Block, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	dump := util.DumpByteSlice(b.data, 16, true, true, false, nil)
	panic(&CorruptionError{Context: context, Detail: fmt.Sprintf("%s\n%s", msg, dump)})
}

// dumpRestoreDiff renders what touch()/restore() will undo: the bytes a
// scope changed versus the block's pre-scope image, for Trace logging on
// abort (spec.md §7.2's crash-consistency path is silent by design; this is
// purely an opt-in diagnostic).
func (b *Block) dumpRestoreDiff() string {
	if b.original == nil {
		return ""
	}
	_, out := util.DumpByteSlicesWithDiffs(b.original, b.data, 16, true, true, false)
	return out
}
