package afs

// fileLevelBeyondMax marks a file's top node as holding its content
// inline (the "mini" regime, spec.md §3/§4.5); fileLevelLeaf marks a
// single level of data-block pointers; anything higher is a branch
// level.
const (
	fileLevelLeaf       = 0
	fileLevelBeyondMax  = 0xFF
)

// FileLeafEntry points at one data block holding BS-1 consecutive file
// bytes (dataBlockCapacity; byte 0 of the block is its kind tag).
type FileLeafEntry struct {
	BlockIndex uint64
}

// FileBranchEntry is keyed by the first byte offset of its subtree
// (spec.md invariant 4).
type FileBranchEntry struct {
	FileOffset uint64
	BlockIndex uint64
}

// FileNodeView overlays the tree-payload part of a file Node block.
// Grounded on AtAfs.cpp's FileLeafView/FileBranchView/FileNode, the
// file-tree counterpart of DirNodeView.
type FileNodeView struct{ NodeView }

func AsFileNodeView(b *Block) FileNodeView {
	nv := AsNodeView(b)
	if nv.ObjType() != typeFile {
		corrupt("file view", "block %d: expected File node, got objType %d", b.index, nv.ObjType())
	}
	return FileNodeView{NodeView: nv}
}

func (v FileNodeView) payloadOffset() int {
	if v.Category() == catTop {
		return v.AsTopView().bodyOffsetAfterCounter(8)
	}
	return nodeBodyOff
}

func (v FileNodeView) Level() int { return int(v.b.data[v.payloadOffset()]) }
func (v FileNodeView) SetLevel(level int) {
	v.b.touch()
	v.b.data[v.payloadOffset()] = byte(level)
}

func (v FileNodeView) IsMini() bool   { return v.Level() == fileLevelBeyondMax }
func (v FileNodeView) IsLeaf() bool   { return v.Level() == fileLevelLeaf }
func (v FileNodeView) IsBranch() bool { return !v.IsMini() && !v.IsLeaf() }

// SizeBytes is the file's total length, stored only in the Top node.
func (v FileNodeView) SizeBytes() uint64 {
	tv := v.AsTopView()
	return cursorAt(v.b.data, tv.counterOffset()).u64()
}

func (v FileNodeView) SetSizeBytes(n uint64) {
	tv := v.AsTopView()
	v.b.touch()
	cursorAt(v.b.data, tv.counterOffset()).putU64(n)
}

// --- mini regime ---

// miniAreaOffset is where inline content bytes begin; only meaningful
// when IsMini().
func (v FileNodeView) miniAreaOffset() int { return v.payloadOffset() + 1 }

// MiniCapacity is the maximum number of bytes that can be stored
// inline in this (top) node.
func (v FileNodeView) MiniCapacity() int { return len(v.b.data) - v.miniAreaOffset() }

func (v FileNodeView) MiniData() []byte {
	return cursorAt(v.b.data, v.miniAreaOffset()).bytes(int(v.SizeBytes()))
}

// SetMiniData overwrites the first len(data) inline bytes; it does not
// touch SizeBytes, callers set that separately.
func (v FileNodeView) SetMiniData(data []byte) {
	v.b.touch()
	cursorAt(v.b.data, v.miniAreaOffset()).putBytes(data)
}

// --- leaf regime (level 0) ---

func (v FileNodeView) leafOffsetFieldOffset() int { return v.payloadOffset() + 1 }
func (v FileNodeView) leafCountOffset() int       { return v.leafOffsetFieldOffset() + 8 }
func (v FileNodeView) leafEntriesOffset() int     { return v.leafCountOffset() + 2 }

// LeafStartOffset is the file byte offset the first entry of this leaf
// node covers (spec.md §4.5: "the leaf records its starting offset").
func (v FileNodeView) LeafStartOffset() uint64 {
	return cursorAt(v.b.data, v.leafOffsetFieldOffset()).u64()
}

func (v FileNodeView) SetLeafStartOffset(off uint64) {
	v.b.touch()
	cursorAt(v.b.data, v.leafOffsetFieldOffset()).putU64(off)
}

func (v FileNodeView) LeafEntries() []FileLeafEntry {
	n := int(cursorAt(v.b.data, v.leafCountOffset()).u16())
	out := make([]FileLeafEntry, n)
	c := cursorAt(v.b.data, v.leafEntriesOffset())
	for i := 0; i < n; i++ {
		out[i] = FileLeafEntry{BlockIndex: c.u64()}
	}
	return out
}

func (v FileNodeView) EncodeLeafEntries(entries []FileLeafEntry) {
	v.b.touch()
	cursorAt(v.b.data, v.leafCountOffset()).putU16(uint16(len(entries)))
	c := cursorAt(v.b.data, v.leafEntriesOffset())
	for _, e := range entries {
		c.putU64(e.BlockIndex)
	}
}

// --- branch regime (level >= 1) ---

func (v FileNodeView) branchCountOffset() int   { return v.payloadOffset() + 1 }
func (v FileNodeView) branchEntriesOffset() int { return v.branchCountOffset() + 2 }

func (v FileNodeView) BranchEntries() []FileBranchEntry {
	n := int(cursorAt(v.b.data, v.branchCountOffset()).u16())
	out := make([]FileBranchEntry, n)
	c := cursorAt(v.b.data, v.branchEntriesOffset())
	for i := 0; i < n; i++ {
		off := c.u64()
		blk := c.u64()
		out[i] = FileBranchEntry{FileOffset: off, BlockIndex: blk}
	}
	return out
}

func (v FileNodeView) EncodeBranchEntries(entries []FileBranchEntry) {
	v.b.touch()
	cursorAt(v.b.data, v.branchCountOffset()).putU16(uint16(len(entries)))
	c := cursorAt(v.b.data, v.branchEntriesOffset())
	for _, e := range entries {
		c.putU64(e.FileOffset)
		c.putU64(e.BlockIndex)
	}
}

func (e FileLeafEntry) encodedSize() int   { return 8 }
func (e FileBranchEntry) encodedSize() int { return 16 }

func encodedSizeFileLeafEntries(entries []FileLeafEntry) int     { return len(entries) * 8 }
func encodedSizeFileBranchEntries(entries []FileBranchEntry) int { return len(entries) * 16 }

// fileLeafOverheadBytes/fileBranchOverheadBytes are the fixed header
// sizes between a leaf/branch node's payload offset and its entry area
// (level byte + leaf-start-offset + count, or level byte + count), used
// by the node-capacity math in filecursor.go.
func fileLeafOverheadBytes() int   { return 1 + 8 + 2 }
func fileBranchOverheadBytes() int { return 1 + 2 }
