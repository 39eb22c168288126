package afs

// FreeListView overlays a FreeList block (spec.md §3/§6): a singly
// linked chain of blocks holding indices of reusable blocks. Layout
// after the kind byte:
//
//	prevFreeListBlockIndex:u64  nrIndices:u32  nrIndices x u64
//
// The tail block may be partially full; every other block in the chain
// is full (spec.md §3).
type FreeListView struct{ b *Block }

const (
	freeListOffPrev      = 1
	freeListOffNrIndices = freeListOffPrev + 8
	freeListOffIndices   = freeListOffNrIndices + 4
)

func AsFreeListView(b *Block) FreeListView {
	assertKind(b, kindFreeList)
	return FreeListView{b: b}
}

func initFreeListView(b *Block) FreeListView {
	b.touch()
	b.setKind(kindFreeList)
	cursorAt(b.data, freeListOffPrev).putU64(0)
	cursorAt(b.data, freeListOffNrIndices).putU32(0)
	return FreeListView{b: b}
}

func (v FreeListView) PrevBlockIndex() uint64 { return cursorAt(v.b.data, freeListOffPrev).u64() }
func (v FreeListView) SetPrevBlockIndex(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, freeListOffPrev).putU64(x)
}

func (v FreeListView) NrIndices() uint32 { return cursorAt(v.b.data, freeListOffNrIndices).u32() }

// maxIndices is how many free block indices fit in one FreeList block.
func (v FreeListView) maxIndices() uint32 {
	return uint32((len(v.b.data) - freeListOffIndices) / 8)
}

// Indices returns the free block indices currently stored in this block.
func (v FreeListView) Indices() []uint64 {
	n := v.NrIndices()
	out := make([]uint64, n)
	c := cursorAt(v.b.data, freeListOffIndices)
	for i := uint32(0); i < n; i++ {
		out[i] = c.u64()
	}
	return out
}

// Full reports whether this block cannot hold another index.
func (v FreeListView) Full() bool { return v.NrIndices() >= v.maxIndices() }

// Empty reports whether this block holds no indices.
func (v FreeListView) Empty() bool { return v.NrIndices() == 0 }

// Push appends a free block index. Caller must have checked !Full().
func (v FreeListView) Push(blockIndex uint64) {
	n := v.NrIndices()
	if n >= v.maxIndices() {
		corrupt("free list", "Push called on a full free-list block %d", v.b.index)
	}
	v.b.touch()
	cursorAt(v.b.data, freeListOffIndices+int(n)*8).putU64(blockIndex)
	cursorAt(v.b.data, freeListOffNrIndices).putU32(n + 1)
}

// Pop removes and returns the last free block index. Caller must have
// checked !Empty().
func (v FreeListView) Pop() uint64 {
	n := v.NrIndices()
	if n == 0 {
		corrupt("free list", "Pop called on an empty free-list block %d", v.b.index)
	}
	idx := cursorAt(v.b.data, freeListOffIndices+int(n-1)*8).u64()
	v.b.touch()
	cursorAt(v.b.data, freeListOffNrIndices).putU32(n - 1)
	return idx
}
