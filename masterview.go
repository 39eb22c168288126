package afs

// MasterView overlays the single Master block (block index 1, spec.md
// §3/§6). Layout after the kind byte, all little-endian:
//
//	fsVersion:u32  nextUniqueId:u64  rootDirTopNodeIndex:u64
//	freeListTailBlockIndex:u64  nrFullFreeListNodes:u64
//
// Grounded on ext4/inode.go's fixed-offset accessor style.
type MasterView struct{ b *Block }

const (
	masterOffVersion   = 1
	masterOffNextID     = masterOffVersion + 4
	masterOffRootDir    = masterOffNextID + 8
	masterOffFreeTail   = masterOffRootDir + 8
	masterOffFullNodes  = masterOffFreeTail + 8
	masterEncodedSize   = masterOffFullNodes + 8
)

// AsMasterView asserts b is a Master block and returns a view over it.
func AsMasterView(b *Block) MasterView {
	assertKind(b, kindMaster)
	return MasterView{b: b}
}

// initMasterView formats a freshly allocated block as the Master block.
func initMasterView(b *Block) MasterView {
	b.touch()
	b.setKind(kindMaster)
	return MasterView{b: b}
}

func (v MasterView) FsVersion() uint32 { return cursorAt(v.b.data, masterOffVersion).u32() }
func (v MasterView) SetFsVersion(x uint32) {
	v.b.touch()
	cursorAt(v.b.data, masterOffVersion).putU32(x)
}

func (v MasterView) NextUniqueId() uint64 { return cursorAt(v.b.data, masterOffNextID).u64() }
func (v MasterView) SetNextUniqueId(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, masterOffNextID).putU64(x)
}

func (v MasterView) RootDirTopNodeIndex() uint64 { return cursorAt(v.b.data, masterOffRootDir).u64() }
func (v MasterView) SetRootDirTopNodeIndex(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, masterOffRootDir).putU64(x)
}

func (v MasterView) FreeListTailBlockIndex() uint64 { return cursorAt(v.b.data, masterOffFreeTail).u64() }
func (v MasterView) SetFreeListTailBlockIndex(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, masterOffFreeTail).putU64(x)
}

func (v MasterView) NrFullFreeListNodes() uint64 { return cursorAt(v.b.data, masterOffFullNodes).u64() }
func (v MasterView) SetNrFullFreeListNodes(x uint64) {
	v.b.touch()
	cursorAt(v.b.data, masterOffFullNodes).putU64(x)
}
