// Package afs implements the Atomic File System: a journaled,
// block-addressed, B+-tree-indexed object store providing hierarchical
// directories and variable-sized files on top of a flat block device.
//
// Grounded on github.com/diskfs/go-diskfs/filesystem/ext4's FileSystem
// shape (a single struct holding the backend, cached superblock-like
// state, and a Type/Create/Read split), adapted to the journaled
// B+-tree design described in denisbider/Atomic's AtAfs.cpp.
package afs

import (
	"fmt"
	"strings"
)

// fsVersion is the on-disk format version written to the Master block.
const fsVersion uint32 = 1

// NameComparator orders names within a directory (spec.md §3 invariant
// 3). The zero value (nil) makes FileSystem use a byte-wise comparator.
type NameComparator func(a, b string) int

func defaultNameComparator(a, b string) int { return strings.Compare(a, b) }

// fsState tracks whether Init has run.
type fsState int

const (
	stateUninited fsState = iota
	stateInited
)

// Params configures Init. Mirrors ext4.Params in spirit: an explicit,
// struct-carried configuration rather than anything read from the
// environment or a config file (spec.md §4.6/§6 — no CLI, no
// environment, no on-disk configuration belongs to the core).
type Params struct {
	// NameComparator orders directory entries; defaults to strings.Compare.
	NameComparator NameComparator
	// Logger, if set, receives structured trace/debug/warn events.
	// Left nil, the façade logs nowhere.
	Logger Logger
}

// Logger is the subset of logrus.FieldLogger's behavior FileSystem
// needs; satisfied by *logrus.Logger and *logrus.Entry.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// FileSystem is a single-process handle onto an AFS volume (spec.md
// §4.6). It assumes serialized mutators: one journaled write active at
// a time (spec.md §5).
type FileSystem struct {
	storage Storage
	state   fsState
	cmp     NameComparator
	log     logFields

	blockSize uint32
	maxName   int
	maxMeta   int

	// Cached long-lived blocks, copy-on-write through whatever scope is
	// currently active (spec.md §4.3/§5).
	masterBlock       *Block
	freeListTailBlock *Block
	rootDirTopNode    *Block
}

// minBlockSizeAllowed rejects absurdly small block sizes (spec.md §9 open
// question): below this, a single maximum-length name/metadata entry
// cannot be guaranteed to fit in a rebalance-threshold-sized node, so
// Init fails instead of relying on that bound holding implicitly.
const minBlockSizeAllowed = 256

// New creates a façade bound to storage, without initializing it.
// Call Init to format a blank device or load an existing one.
func New(storage Storage) *FileSystem {
	return &FileSystem{storage: storage, log: newDiscardLog()}
}

// Init either creates the three seed blocks (Master at index 1, root
// directory top node at index 0, free-list tail at index 2) on an
// empty device, or loads them from an existing one, checking the
// version field (spec.md §4.6).
func (fs *FileSystem) Init(p Params, rootMeta []byte, now uint64) error {
	if fs.state == stateInited {
		corrupt("afs", "Init called twice")
	}

	fs.blockSize = fs.storage.BlockSize()
	if fs.blockSize < minBlockSizeAllowed {
		return fmt.Errorf("afs: block size %d is below the minimum of %d: %w", fs.blockSize, minBlockSizeAllowed, InvalidOffset)
	}

	fs.cmp = p.NameComparator
	if fs.cmp == nil {
		fs.cmp = defaultNameComparator
	}
	if p.Logger != nil {
		fs.log = wrapLogger(p.Logger)
	}

	fs.computeNameLimits()

	nrBlocks := fs.storage.NrBlocks()
	if nrBlocks == 0 {
		return fs.initBlank(rootMeta, now)
	}
	return fs.initExisting()
}

// computeNameLimits derives MaxName and MaxMeta from BS (spec.md
// §4.6/§3 invariant 9) so that one maximum-length leaf entry always
// fits within a rebalance-threshold-sized node (BS/4).
func (fs *FileSystem) computeNameLimits() {
	threshold := int(fs.blockSize) / 4
	// A directory leaf entry is id(16) + type(1) + nameLen(2) + name.
	// Reserve room for the node's own fixed header (payload byte + count)
	// plus one entry, and split the remaining budget evenly between name
	// and metadata so both have room within the same worst case.
	overhead := nodeBodyOff + 1 /*level*/ + 2 /*count*/ + 16 + 1 + 2
	budget := threshold - overhead
	if budget < 16 {
		budget = 16
	}
	fs.maxName = budget / 2
	fs.maxMeta = budget - fs.maxName
	if fs.maxMeta > 255 {
		fs.maxMeta = 255 // metaLen is a single byte (spec.md §6)
	}
}

func (fs *FileSystem) initBlank(rootMeta []byte, now uint64) error {
	if len(rootMeta) > fs.maxMeta {
		return MetaDataTooLong
	}

	rootBlock, err := fs.storage.AddNewBlock()
	if err != nil {
		return err
	}
	if rootBlock.index != 0 {
		corrupt("afs", "expected root directory top node at block 0, got %d", rootBlock.index)
	}

	masterBlock, err := fs.storage.AddNewBlock()
	if err != nil {
		return err
	}
	if masterBlock.index != 1 {
		corrupt("afs", "expected master block at block 1, got %d", masterBlock.index)
	}

	freeListBlock, err := fs.storage.AddNewBlock()
	if err != nil {
		return err
	}
	if freeListBlock.index != 2 {
		corrupt("afs", "expected first free-list block at block 2, got %d", freeListBlock.index)
	}

	nv := initNodeView(rootBlock, catTop, typeDir)
	tv := nv.AsTopView()
	tv.SetUniqueId(0)
	tv.SetParentId(None)
	tv.SetCreateFt(now)
	tv.SetModifyFt(now)
	tv.initMetaData(rootMeta)
	dv := DirNodeView{NodeView: nv}
	dv.SetNrEntries(0)
	dv.SetLevel(dirLeafLevel)
	dv.EncodeLeafEntries(nil)

	initMasterView(masterBlock)
	mv := AsMasterView(masterBlock)
	mv.SetFsVersion(fsVersion)
	mv.SetNextUniqueId(1)
	mv.SetRootDirTopNodeIndex(0)
	mv.SetFreeListTailBlockIndex(2)
	mv.SetNrFullFreeListNodes(0)

	flv := initFreeListView(freeListBlock)
	flv.SetPrevBlockIndex(noPrevFreeList)

	fs.rootDirTopNode = rootBlock
	fs.masterBlock = masterBlock
	fs.freeListTailBlock = freeListBlock
	fs.state = stateInited
	fs.log.Debug("afs: initialized blank volume, block size %d", fs.blockSize)
	return nil
}

func (fs *FileSystem) initExisting() error {
	masterBlock, err := fs.storage.ObtainBlock(1)
	if err != nil {
		return err
	}
	if masterBlock.Kind() != kindMaster {
		return UnexpectedBlockKind
	}
	mv := AsMasterView(masterBlock)
	if mv.FsVersion() != fsVersion {
		return UnsupportedFsVersion
	}

	freeListBlock, err := fs.storage.ObtainBlock(mv.FreeListTailBlockIndex())
	if err != nil {
		return err
	}
	if freeListBlock.Kind() != kindFreeList {
		return UnexpectedBlockKind
	}

	rootBlock, err := fs.storage.ObtainBlock(mv.RootDirTopNodeIndex())
	if err != nil {
		return err
	}
	if rootBlock.Kind() != kindNode {
		return UnexpectedBlockKind
	}

	fs.masterBlock = masterBlock
	fs.freeListTailBlock = freeListBlock
	fs.rootDirTopNode = rootBlock
	fs.state = stateInited
	fs.log.Debug("afs: loaded existing volume, block size %d", fs.blockSize)
	return nil
}

func (fs *FileSystem) requireInited() {
	if fs.state != stateInited {
		corrupt("afs", "operation called before Init")
	}
}

// MaxName and MaxMeta report the limits computed at Init time.
func (fs *FileSystem) MaxName() int { return fs.maxName }
func (fs *FileSystem) MaxMeta() int { return fs.maxMeta }
func (fs *FileSystem) BlockSize() uint32 { return fs.blockSize }

func (fs *FileSystem) compare(a, b string) int { return fs.cmp(a, b) }

// getTopBlock reads the top node for id and verifies its unique id and
// (unless expect is typeAny) its object type, rejecting stale
// references to recycled blocks (spec.md §3).
func (fs *FileSystem) getTopBlock(jw *JournaledWrite, id ObjId, expect objType) (*Block, error) {
	var b *Block
	var err error
	if jw != nil {
		b, err = jw.obtainBlock(id.BlockIndex)
	} else {
		b, err = fs.storage.ObtainBlock(id.BlockIndex)
	}
	if err != nil {
		if err == BlockIndexInvalid {
			return nil, InvalidObjId
		}
		return nil, err
	}
	if b.Kind() != kindNode {
		return nil, InvalidObjId
	}
	nv := AsNodeView(b)
	if nv.Category() != catTop {
		return nil, InvalidObjId
	}
	tv := nv.AsTopView()
	if tv.UniqueId() != id.UniqueId {
		return nil, InvalidObjId
	}
	if expect != typeAny && nv.ObjType() != expect {
		if expect == typeDir {
			return nil, ObjNotDir
		}
		return nil, ObjNotFile
	}
	return b, nil
}
