package afs

import (
	"strings"
)

// StatFields is a bitmask selecting which fields SetStat should write
// (spec.md §4.2): callers touch only what they mean to change.
type StatFields uint32

const (
	StatMetaData StatFields = 1 << iota
	StatModifyFt
)

// Stat describes an object's header fields (spec.md §3/§4.2).
type Stat struct {
	Id       ObjId
	ParentId ObjId
	Type     objType
	CreateFt uint64
	ModifyFt uint64
	MetaData []byte
	// NrEntries is valid only when Type == typeDir.
	NrEntries uint32
	// SizeBytes is valid only when Type == typeFile.
	SizeBytes uint64
}

// Stat reads an object's header. The object's type is not known in advance, so
// expect is typeAny; callers that already know the type (e.g. internal
// cursors) pass the concrete type instead.
func (fs *FileSystem) Stat(id ObjId) (Stat, error) {
	fs.requireInited()
	b, err := fs.getTopBlock(nil, id, typeAny)
	if err != nil {
		return Stat{}, err
	}
	nv := AsNodeView(b)
	tv := nv.AsTopView()
	st := Stat{
		Id:       id,
		ParentId: tv.ParentId(),
		Type:     nv.ObjType(),
		CreateFt: tv.CreateFt(),
		ModifyFt: tv.ModifyFt(),
		MetaData: append([]byte(nil), tv.MetaData()...),
	}
	if nv.ObjType() == typeDir {
		st.NrEntries = DirNodeView{NodeView: nv}.NrEntries()
	} else {
		st.SizeBytes = FileNodeView{NodeView: nv}.SizeBytes()
	}
	return st, nil
}

// SetStat updates the fields named by which (spec.md §4.2).
func (fs *FileSystem) SetStat(id ObjId, which StatFields, metaData []byte, modifyFt uint64) error {
	fs.requireInited()
	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return err
	}
	defer jw.abortIfNotComplete()

	b, err := fs.getTopBlock(jw, id, typeAny)
	if err != nil {
		return err
	}
	tv := AsNodeView(b).AsTopView()
	if which&StatMetaData != 0 {
		if len(metaData) != tv.MetaLen() {
			return MetaDataCannotChangeLen
		}
		tv.SetMetaData(metaData)
	}
	if which&StatModifyFt != 0 {
		tv.SetModifyFt(modifyFt)
	}
	return jw.complete()
}

// DirCreate creates a new empty subdirectory named name inside parent
// (spec.md §4.2).
func (fs *FileSystem) DirCreate(parent ObjId, name string, metaData []byte, now uint64) (ObjId, error) {
	return fs.createObject(parent, name, typeDir, metaData, now)
}

// FileCreate creates a new empty (mini, zero-length) file named name
// inside parent (spec.md §4.2).
func (fs *FileSystem) FileCreate(parent ObjId, name string, metaData []byte, now uint64) (ObjId, error) {
	return fs.createObject(parent, name, typeFile, metaData, now)
}

func (fs *FileSystem) createObject(parent ObjId, name string, ot objType, metaData []byte, now uint64) (ObjId, error) {
	fs.requireInited()
	if err := fs.validateName(name); err != nil {
		return ObjId{}, err
	}
	if len(metaData) > fs.maxMeta {
		return ObjId{}, MetaDataTooLong
	}

	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return ObjId{}, err
	}
	defer jw.abortIfNotComplete()

	parentTop, err := fs.getTopBlock(jw, parent, typeDir)
	if err != nil {
		return ObjId{}, err
	}

	newBlock, err := jw.reclaimBlockOrAddNew(kindNode)
	if err != nil {
		return ObjId{}, err
	}
	master := AsMasterView(fs.masterBlock)
	uid := master.NextUniqueId()
	master.SetNextUniqueId(uid + 1)

	nv := initNodeView(newBlock, catTop, ot)
	tv := nv.AsTopView()
	tv.SetUniqueId(uid)
	tv.SetParentId(parent)
	tv.SetCreateFt(now)
	tv.SetModifyFt(now)
	tv.initMetaData(metaData)
	if ot == typeDir {
		dv := DirNodeView{NodeView: nv}
		dv.SetLevel(dirLeafLevel)
		dv.SetNrEntries(0)
		dv.EncodeLeafEntries(nil)
	} else {
		fv := FileNodeView{NodeView: nv}
		fv.SetLevel(fileLevelBeyondMax)
		fv.SetSizeBytes(0)
	}

	newId := ObjId{BlockIndex: newBlock.Index(), UniqueId: uid}

	dc := fs.newDirCursor(jw, parentTop)
	if err := dc.insert(DirLeafEntry{Id: newId, Type: ot, Name: name}, now); err != nil {
		return ObjId{}, err
	}

	return newId, jw.complete()
}

// ReadDir lists a directory's immediate children in name order
// (spec.md §4.4).
func (fs *FileSystem) ReadDir(id ObjId) ([]DirLeafEntry, error) {
	fs.requireInited()
	top, err := fs.getTopBlock(nil, id, typeDir)
	if err != nil {
		return nil, err
	}
	dc := fs.newDirCursor(nil, top)
	return dc.readDir()
}

// CrackPath resolves a '/'-separated path starting at root to an
// object id (spec.md §4.2). An empty path resolves to root itself.
func (fs *FileSystem) CrackPath(root ObjId, path string) (ObjId, objType, error) {
	fs.requireInited()
	if path == "" {
		st, err := fs.Stat(root)
		if err != nil {
			return ObjId{}, typeAny, err
		}
		return root, st.Type, nil
	}

	cur := root
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			return ObjId{}, typeAny, InvalidPathSyntax
		}
		top, err := fs.getTopBlock(nil, cur, typeDir)
		if err != nil {
			return ObjId{}, typeAny, err
		}
		dc := fs.newDirCursor(nil, top)
		fr, err := dc.navToLeafEntryEqualOrLessThan(part, true)
		if err != nil {
			return ObjId{}, typeAny, err
		}
		if fr != FindFoundEqual {
			return ObjId{}, typeAny, NameNotInDir
		}
		entry := dc.leafEntryAt()
		cur = entry.Id
		if i < len(parts)-1 && entry.Type != typeDir {
			return ObjId{}, typeAny, ObjNotDir
		}
		if i == len(parts)-1 {
			return cur, entry.Type, nil
		}
	}
	return cur, typeAny, nil
}

// Delete removes a file or directory named name from parent (spec.md
// §4.2/§4.4). A directory must have no entries. A non-empty file is
// truncated to zero first and the removal retried, rather than
// rejected (spec.md §4.4 contract table: "delete retries after
// truncating a file to zero").
func (fs *FileSystem) Delete(parent ObjId, name string, now uint64) error {
	fs.requireInited()
	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return err
	}
	defer jw.abortIfNotComplete()

	parentTop, err := fs.getTopBlock(jw, parent, typeDir)
	if err != nil {
		return err
	}
	dc := fs.newDirCursor(jw, parentTop)
	fr, err := dc.navToLeafEntryEqualOrLessThan(name, false)
	if err != nil {
		return err
	}
	if fr != FindFoundEqual {
		return NameNotInDir
	}
	entry := dc.leafEntryAt()

	childTop, err := fs.getTopBlock(jw, entry.Id, typeAny)
	if err != nil {
		return err
	}
	nv := AsNodeView(childTop)
	if nv.ObjType() == typeDir {
		if (DirNodeView{NodeView: nv}).NrEntries() != 0 {
			return DirNotEmpty
		}
	} else if (FileNodeView{NodeView: nv}).SizeBytes() != 0 {
		fc := fs.newFileCursor(jw, childTop)
		if err := fc.fileSetSize(0, now); err != nil {
			return err
		}
	}

	if err := dc.remove(); err != nil {
		return err
	}
	jw.addBlockToFree(childTop)
	return jw.complete()
}

// Move renames and/or relocates an object, rejecting attempts to move
// a directory inside its own subtree (spec.md §4.2 invariant).
func (fs *FileSystem) Move(oldParent ObjId, oldName string, newParent ObjId, newName string, now uint64) error {
	fs.requireInited()
	if err := fs.validateName(newName); err != nil {
		return err
	}
	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return err
	}
	defer jw.abortIfNotComplete()

	oldParentTop, err := fs.getTopBlock(jw, oldParent, typeDir)
	if err != nil {
		return err
	}
	dcOld := fs.newDirCursor(jw, oldParentTop)
	fr, err := dcOld.navToLeafEntryEqualOrLessThan(oldName, false)
	if err != nil {
		return err
	}
	if fr != FindFoundEqual {
		return NameNotInDir
	}
	entry := dcOld.leafEntryAt()

	if entry.Type == typeDir {
		if err := fs.checkNotAncestor(jw, entry.Id, newParent); err != nil {
			return err
		}
	}

	newParentTop, err := fs.getTopBlock(jw, newParent, typeDir)
	if err != nil {
		return err
	}
	dcNew := fs.newDirCursor(jw, newParentTop)
	frNew, err := dcNew.navToLeafEntryEqualOrLessThan(newName, false)
	if err != nil {
		return err
	}
	if frNew == FindFoundEqual {
		return NameExists
	}

	if err := dcOld.remove(); err != nil {
		return err
	}
	dcNew2 := fs.newDirCursor(jw, newParentTop)
	if err := dcNew2.insert(DirLeafEntry{Id: entry.Id, Type: entry.Type, Name: newName}, now); err != nil {
		return err
	}

	childTop, err := fs.getTopBlock(jw, entry.Id, typeAny)
	if err != nil {
		return err
	}
	AsNodeView(childTop).AsTopView().SetParentId(newParent)

	return jw.complete()
}

// checkNotAncestor rejects moving subtreeRoot into dest when dest is
// subtreeRoot itself or lies within its subtree (spec.md §4.2: a move
// must never disconnect part of the tree from root).
func (fs *FileSystem) checkNotAncestor(jw *JournaledWrite, subtreeRoot, dest ObjId) error {
	cur := dest
	for depth := 0; depth < maxNavDepth; depth++ {
		if cur == subtreeRoot {
			return MoveDestInvalid
		}
		if cur.IsRoot() {
			return nil
		}
		b, err := fs.getTopBlock(jw, cur, typeAny)
		if err != nil {
			return err
		}
		cur = AsNodeView(b).AsTopView().ParentId()
	}
	corrupt("move", "ancestor chain exceeds max depth")
	return nil
}

// FileRead reads into out starting at offset, returning how many
// bytes were copied (spec.md §4.5).
func (fs *FileSystem) FileRead(id ObjId, offset uint64, out []byte) (int, error) {
	fs.requireInited()
	top, err := fs.getTopBlock(nil, id, typeFile)
	if err != nil {
		return 0, err
	}
	fc := fs.newFileCursor(nil, top)
	return fc.fileRead(offset, out)
}

// FileWrite writes data at offset, growing the file if the write
// extends past its current size (spec.md §4.5).
func (fs *FileSystem) FileWrite(id ObjId, offset uint64, data []byte, now uint64) error {
	fs.requireInited()
	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return err
	}
	defer jw.abortIfNotComplete()

	top, err := fs.getTopBlock(jw, id, typeFile)
	if err != nil {
		return err
	}
	fc := fs.newFileCursor(jw, top)
	if err := fc.fileWrite(offset, data, now); err != nil {
		return err
	}
	return jw.complete()
}

// MaxBlocksPerRound bounds how many data blocks a single FileSetSize
// round touches. Large resizes are chunked across multiple journaled
// writes that each commit independently (spec.md §4.5/§7): if a later
// round fails, earlier rounds remain committed and the returned
// actualNewSize reports how far the resize actually got.
const MaxBlocksPerRound = 64

// currentFileSize reads a file's size outside of any scope, used only
// to seed FileSetSize's chunking loop.
func (fs *FileSystem) currentFileSize(id ObjId) (uint64, error) {
	top, err := fs.getTopBlock(nil, id, typeFile)
	if err != nil {
		return 0, err
	}
	return FileNodeView{NodeView: AsNodeView(top)}.SizeBytes(), nil
}

// FileSetSize grows (zero-filling) or shrinks a file to exactly size
// bytes, committing in rounds of at most MaxBlocksPerRound data blocks
// each, and returns the size actually achieved (spec.md §4.5, §7, §8
// scenario 6).
func (fs *FileSystem) FileSetSize(id ObjId, size uint64, now uint64) (uint64, error) {
	fs.requireInited()
	maxStep := uint64(MaxBlocksPerRound) * uint64(dataBlockCapacity(fs.blockSize))

	achieved, err := fs.currentFileSize(id)
	if err != nil {
		return 0, err
	}
	for achieved != size {
		target := size
		if size > achieved && size-achieved > maxStep {
			target = achieved + maxStep
		} else if achieved > size && achieved-size > maxStep {
			target = achieved - maxStep
		}
		if err := fs.fileSetSizeRound(id, target, now); err != nil {
			return achieved, err
		}
		achieved = target
	}
	return achieved, nil
}

// fileSetSizeRound performs one chunk of a FileSetSize resize inside
// its own journaled-write scope.
func (fs *FileSystem) fileSetSizeRound(id ObjId, target uint64, now uint64) error {
	jw, err := fs.beginJournaledWrite()
	if err != nil {
		return err
	}
	defer jw.abortIfNotComplete()

	top, err := fs.getTopBlock(jw, id, typeFile)
	if err != nil {
		return err
	}
	fc := fs.newFileCursor(jw, top)
	if err := fc.fileSetSize(target, now); err != nil {
		return err
	}
	return jw.complete()
}

// FreeSpaceBlocks reports how many blocks are currently reclaimable
// from the free list (spec.md §4.1 diagnostic surface).
func (fs *FileSystem) FreeSpaceBlocks() uint64 {
	fs.requireInited()
	master := AsMasterView(fs.masterBlock)
	tail := AsFreeListView(fs.freeListTailBlock)
	total := master.NrFullFreeListNodes() * uint64(tail.maxIndices())
	return total + uint64(tail.NrIndices())
}

// validateName rejects the empty name, names containing '/', and
// names over MaxName bytes (spec.md §3 invariant 2).
func (fs *FileSystem) validateName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return NameInvalid
	}
	if len(name) > fs.maxName {
		return NameTooLong
	}
	return nil
}
