package afs

// nodeCat distinguishes a node carrying the full object header (Top)
// from one that holds only tree payload (NonTop). Stored as the first
// byte of a Node block's body (spec.md §6).
type nodeCat byte

const (
	catTop nodeCat = iota
	catNonTop
)

// objType tags what kind of object a top node represents. Any is never
// persisted; it is a wildcard used by callers that want "whatever type
// this object is" (e.g. Stat).
type objType byte

const (
	typeAny objType = iota
	typeDir
	typeFile
)

const (
	nodeOffCat  = 1
	nodeOffType = 2
	nodeBodyOff = 3
)

// NodeView overlays any Node block (dir or file, top or non-top). It is
// the single source of truth for the nodeCat/objType header; TopView,
// DirNodeView and FileNodeView build on top of it for the
// category-specific body.
type NodeView struct{ b *Block }

func AsNodeView(b *Block) NodeView {
	assertKind(b, kindNode)
	return NodeView{b: b}
}

// initNodeView formats a freshly allocated block as a Node with the
// given category and object type.
func initNodeView(b *Block, cat nodeCat, ot objType) NodeView {
	b.touch()
	b.setKind(kindNode)
	b.data[nodeOffCat] = byte(cat)
	b.data[nodeOffType] = byte(ot)
	return NodeView{b: b}
}

func (v NodeView) Category() nodeCat { return nodeCat(v.b.data[nodeOffCat]) }
func (v NodeView) ObjType() objType  { return objType(v.b.data[nodeOffType]) }

func (v NodeView) setCategory(cat nodeCat) {
	v.b.touch()
	v.b.data[nodeOffCat] = byte(cat)
}

func (v NodeView) setObjType(ot objType) {
	v.b.touch()
	v.b.data[nodeOffType] = byte(ot)
}

// AsTopView asserts this node carries the full object header.
func (v NodeView) AsTopView() TopView {
	if v.Category() != catTop {
		corrupt("node view", "block %d: expected Top node, got NonTop", v.b.index)
	}
	return TopView{NodeView: v}
}

// TopView overlays a Top node's header, common to directories and
// files (spec.md §3/§6):
//
//	uniqueId:u64  parentId:(index u64, uniqueId u64)  createFt:u64
//	modifyFt:u64  metaLen:u8  metaBytes[metaLen]
//
// followed by the type-specific counter (dirNrEntries:u32 or
// fileSizeBytes:u64) and then the tree payload, both accessed via the
// Dir-/File-specific views in dirview.go/fileview.go.
type TopView struct{ NodeView }

const (
	topOffUniqueId  = nodeBodyOff
	topOffParentIdx = topOffUniqueId + 8
	topOffParentUid = topOffParentIdx + 8
	topOffCreateFt  = topOffParentUid + 8
	topOffModifyFt  = topOffCreateFt + 8
	topOffMetaLen   = topOffModifyFt + 8
	topOffMetaBytes = topOffMetaLen + 1
)

func (v TopView) UniqueId() uint64 { return cursorAt(v.b.data, topOffUniqueId).u64() }
func (v TopView) SetUniqueId(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, topOffUniqueId).putU64(x)
}

func (v TopView) ParentId() ObjId {
	return ObjId{
		BlockIndex: cursorAt(v.b.data, topOffParentIdx).u64(),
		UniqueId:   cursorAt(v.b.data, topOffParentUid).u64(),
	}
}

func (v TopView) SetParentId(id ObjId) {
	v.b.touch()
	cursorAt(v.b.data, topOffParentIdx).putU64(id.BlockIndex)
	cursorAt(v.b.data, topOffParentUid).putU64(id.UniqueId)
}

func (v TopView) CreateFt() uint64 { return cursorAt(v.b.data, topOffCreateFt).u64() }
func (v TopView) SetCreateFt(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, topOffCreateFt).putU64(x)
}

func (v TopView) ModifyFt() uint64 { return cursorAt(v.b.data, topOffModifyFt).u64() }
func (v TopView) SetModifyFt(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, topOffModifyFt).putU64(x)
}

func (v TopView) MetaLen() int { return int(v.b.data[topOffMetaLen]) }

func (v TopView) MetaData() []byte {
	n := v.MetaLen()
	return cursorAt(v.b.data, topOffMetaBytes).bytes(n)
}

// SetMetaData overwrites the metadata bytes in place. It must be the
// same length as the existing metadata (MetaDataCannotChangeLen,
// spec.md §6) — growing/shrinking metadata only ever happens through
// object creation, never through SetStat.
func (v TopView) SetMetaData(meta []byte) {
	if len(meta) != v.MetaLen() {
		corrupt("top view", "SetMetaData: length changed from %d to %d", v.MetaLen(), len(meta))
	}
	v.b.touch()
	cursorAt(v.b.data, topOffMetaBytes).putBytes(meta)
}

// initMetaData is used only at object-creation time, when the node is
// blank and metaLen can be set freely.
func (v TopView) initMetaData(meta []byte) {
	v.b.touch()
	v.b.data[topOffMetaLen] = byte(len(meta))
	cursorAt(v.b.data, topOffMetaBytes).putBytes(meta)
}

// counterOffset is where the type-specific counter (dirNrEntries or
// fileSizeBytes) begins, right after the variable-length metadata.
func (v TopView) counterOffset() int { return topOffMetaBytes + v.MetaLen() }

// bodyOffsetAfterCounter is where the tree payload begins: right after the
// type-specific counter. Dir counters are u32, file counters are u64.
func (v TopView) bodyOffsetAfterCounter(counterSize int) int { return v.counterOffset() + counterSize }
