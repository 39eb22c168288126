package afs

// DirLeafEntry is a (name → (childId, childType)) mapping stored in a
// directory leaf node (dirNodeLevel == 0): spec.md §3/§6.
type DirLeafEntry struct {
	Id   ObjId
	Type objType
	Name string
}

// encodedSize is id(16) + type(1) + nameLen(2) + name bytes.
func (e DirLeafEntry) encodedSize() int { return 16 + 1 + 2 + len(e.Name) }

// DirBranchEntry points at a child node; Name is the first name in the
// subtree rooted at ChildBlock (spec.md invariant 4).
type DirBranchEntry struct {
	ChildBlock uint64
	Name       string
}

func (e DirBranchEntry) encodedSize() int { return 8 + 2 + len(e.Name) }

// dirLeafLevel is the dirNodeLevel of a leaf node; branch levels are 1
// and up.
const dirLeafLevel = 0

// DirNodeView overlays the tree-payload part of a directory Node block
// (spec.md §4.4): a dirNodeLevel byte followed by an entry count and
// the entries themselves. It applies uniformly to Top and NonTop
// directory nodes — only the offset where the payload begins differs.
//
// Grounded on AtAfs.cpp's DirLeafView/DirBranchView/DirNode
// (Encode/Decode/EncodedSizeEntries), re-expressed with explicit
// little-endian cursor accessors rather than placement-new overlays.
type DirNodeView struct{ NodeView }

func AsDirNodeView(b *Block) DirNodeView {
	nv := AsNodeView(b)
	if nv.ObjType() != typeDir {
		corrupt("dir view", "block %d: expected Dir node, got objType %d", b.index, nv.ObjType())
	}
	return DirNodeView{NodeView: nv}
}

// payloadOffset is where the dirNodeLevel byte begins.
func (v DirNodeView) payloadOffset() int {
	if v.Category() == catTop {
		return v.AsTopView().bodyOffsetAfterCounter(4)
	}
	return nodeBodyOff
}

func (v DirNodeView) Level() int { return int(v.b.data[v.payloadOffset()]) }
func (v DirNodeView) SetLevel(level int) {
	v.b.touch()
	v.b.data[v.payloadOffset()] = byte(level)
}

func (v DirNodeView) IsLeaf() bool { return v.Level() == dirLeafLevel }

// NrEntries is the directory's total descendant count, stored only in
// the Top node (spec.md §3).
func (v DirNodeView) NrEntries() uint32 {
	tv := v.AsTopView()
	return cursorAt(v.b.data, tv.counterOffset()).u32()
}

func (v DirNodeView) SetNrEntries(n uint32) {
	tv := v.AsTopView()
	v.b.touch()
	cursorAt(v.b.data, tv.counterOffset()).putU32(n)
}

func (v DirNodeView) entryCountOffset() int { return v.payloadOffset() + 1 }
func (v DirNodeView) entriesOffset() int    { return v.entryCountOffset() + 2 }

// LeafEntries decodes this node's leaf entries. Only valid when IsLeaf().
func (v DirNodeView) LeafEntries() []DirLeafEntry {
	n := int(cursorAt(v.b.data, v.entryCountOffset()).u16())
	out := make([]DirLeafEntry, n)
	c := cursorAt(v.b.data, v.entriesOffset())
	for i := 0; i < n; i++ {
		idIdx := c.u64()
		idUid := c.u64()
		typ := objType(c.u8())
		nameLen := int(c.u16())
		name := string(c.bytes(nameLen))
		out[i] = DirLeafEntry{Id: ObjId{BlockIndex: idIdx, UniqueId: idUid}, Type: typ, Name: name}
	}
	return out
}

// EncodeLeafEntries writes entries into the node, replacing whatever
// was there. Caller must ensure overheadBytes()+encodedSizeLeafEntries(entries)
// <= len(b.data).
func (v DirNodeView) EncodeLeafEntries(entries []DirLeafEntry) {
	v.b.touch()
	cursorAt(v.b.data, v.entryCountOffset()).putU16(uint16(len(entries)))
	c := cursorAt(v.b.data, v.entriesOffset())
	for _, e := range entries {
		c.putU64(e.Id.BlockIndex)
		c.putU64(e.Id.UniqueId)
		c.putU8(byte(e.Type))
		c.putU16(uint16(len(e.Name)))
		c.putBytes([]byte(e.Name))
	}
}

// BranchEntries decodes this node's branch entries. Only valid when !IsLeaf().
func (v DirNodeView) BranchEntries() []DirBranchEntry {
	n := int(cursorAt(v.b.data, v.entryCountOffset()).u16())
	out := make([]DirBranchEntry, n)
	c := cursorAt(v.b.data, v.entriesOffset())
	for i := 0; i < n; i++ {
		child := c.u64()
		nameLen := int(c.u16())
		name := string(c.bytes(nameLen))
		out[i] = DirBranchEntry{ChildBlock: child, Name: name}
	}
	return out
}

func (v DirNodeView) EncodeBranchEntries(entries []DirBranchEntry) {
	v.b.touch()
	cursorAt(v.b.data, v.entryCountOffset()).putU16(uint16(len(entries)))
	c := cursorAt(v.b.data, v.entriesOffset())
	for _, e := range entries {
		c.putU64(e.ChildBlock)
		c.putU16(uint16(len(e.Name)))
		c.putBytes([]byte(e.Name))
	}
}

// encodedSizeLeafEntries/encodedSizeBranchEntries report the encoded
// size of the given entries alone; overheadBytes is the fixed header in
// front of the entry area (payload byte + count, plus the Top header
// when applicable). Their sum is the node's on-disk size (spec.md
// invariant 6: must be <= BS).
func (v DirNodeView) overheadBytes() int { return v.entriesOffset() }

func encodedSizeLeafEntries(entries []DirLeafEntry) int {
	sz := 0
	for _, e := range entries {
		sz += e.encodedSize()
	}
	return sz
}

func encodedSizeBranchEntries(entries []DirBranchEntry) int {
	sz := 0
	for _, e := range entries {
		sz += e.encodedSize()
	}
	return sz
}
