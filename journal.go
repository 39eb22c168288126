package afs

// JournaledWrite is a scoped transaction grouping all block
// modifications that must become visible atomically (spec.md §4.3).
// It acquires the storage's journaled-write lock, tracks every block
// it hands out for mutation via copy-on-write, and on complete pushes
// pending frees onto the free list and commits the full changed-block
// set in one call to Storage.CompleteJournaledWrite.
//
// Grounded on AtAfs.cpp's Afs::JournaledWrite (original_source),
// re-expressed without the C++ RAII destructor: callers must call
// complete and defer abortIfNotComplete, which is how FileSystem's
// operations do it, the idiomatic Go equivalent of "abort unless completed".
type JournaledWrite struct {
	fs *FileSystem

	changedBlocks []*Block
	changedSeen   map[uint64]bool // by block index, since a block may be obtained more than once across cursors

	obtained map[uint64]*Block // every block handed out so far this scope, keyed by index, so repeat obtains return the same instance

	blocksToFree []*Block

	// newFreeListTailBlock, once non-nil, replaces fs.freeListTailBlock
	// on successful completion.
	newFreeListTailBlock *Block

	finalizationsPending int
	completed            bool
	aborted              bool
}

// beginJournaledWrite opens a new scope. Callers must `defer jw.abortIfNotComplete()`
// immediately so every early return rolls the scope back.
func (fs *FileSystem) beginJournaledWrite() (*JournaledWrite, error) {
	if err := fs.storage.BeginJournaledWrite(); err != nil {
		return nil, err
	}
	jw := &JournaledWrite{fs: fs, changedSeen: make(map[uint64]bool), obtained: make(map[uint64]*Block)}
	fs.masterBlock.scope = jw
	fs.freeListTailBlock.scope = jw
	fs.rootDirTopNode.scope = jw
	jw.obtained[fs.masterBlock.index] = fs.masterBlock
	jw.obtained[fs.freeListTailBlock.index] = fs.freeListTailBlock
	jw.obtained[fs.rootDirTopNode.index] = fs.rootDirTopNode
	fs.log.Trace("afs: journaled write begin")
	return jw, nil
}

func (jw *JournaledWrite) registerChanged(b *Block) {
	if jw.completed || jw.aborted {
		return
	}
	if jw.changedSeen[b.index] {
		return
	}
	jw.changedSeen[b.index] = true
	jw.changedBlocks = append(jw.changedBlocks, b)
}

// obtainBlock reads a block and binds this scope as its change
// tracker, returning the same *Block instance on repeat calls for the
// same index within this scope so in-place mutations made through one
// reference are visible through another (spec.md §4.3).
func (jw *JournaledWrite) obtainBlock(index uint64) (*Block, error) {
	if b, ok := jw.obtained[index]; ok {
		return b, nil
	}
	b, err := jw.fs.storage.ObtainBlock(index)
	if err != nil {
		return nil, err
	}
	b.scope = jw
	jw.obtained[index] = b
	return b, nil
}

// addBlockToFree schedules block for reclamation once this scope
// completes; the block's content is zeroed immediately, matching the
// original's Mem::Zero before queuing.
func (jw *JournaledWrite) addBlockToFree(b *Block) {
	b.touch()
	for i := range b.data {
		b.data[i] = 0
	}
	jw.blocksToFree = append(jw.blocksToFree, b)
}

// reclaimBlockOrAddNew returns a block to be (re)used by higher-level
// code: first from this scope's to-free list, then from the free-list
// tail, then as a promoted former tail, else a fresh AddNewBlock
// (spec.md §4.3). The returned block's kind tag is set to kind.
func (jw *JournaledWrite) reclaimBlockOrAddNew(kind blockKind) (*Block, error) {
	b, err := jw.tryReclaimBlock()
	if err != nil {
		return nil, err
	}
	if b == nil {
		b, err = jw.fs.storage.AddNewBlock()
		if err != nil {
			return nil, err
		}
		b.scope = jw
	}
	jw.obtained[b.index] = b
	b.touch()
	b.setKind(kind)
	return b, nil
}

func (jw *JournaledWrite) newFreeListTail() *Block {
	if jw.newFreeListTailBlock == nil {
		jw.newFreeListTailBlock = jw.fs.freeListTailBlock
	}
	return jw.newFreeListTailBlock
}

func (jw *JournaledWrite) tryReclaimBlock() (*Block, error) {
	if n := len(jw.blocksToFree); n > 0 {
		b := jw.blocksToFree[n-1]
		jw.blocksToFree = jw.blocksToFree[:n-1]
		return b, nil
	}

	tail := jw.newFreeListTail()
	fl := AsFreeListView(tail)
	if !fl.Empty() {
		blockIndex := fl.Pop()
		b, err := jw.obtainBlock(blockIndex)
		if err != nil {
			return nil, err
		}
		if b.Kind() != kindFreeBlock {
			corruptBlock("journaled write", b, "block %d popped from free list has kind %s, expected FreeBlock", blockIndex, b.Kind())
		}
		return b, nil
	}

	prevIdx := fl.PrevBlockIndex()
	if prevIdx != noPrevFreeList {
		reclaimed := jw.newFreeListTailBlock
		if reclaimed == nil {
			reclaimed = jw.fs.freeListTailBlock
		}

		prev, err := jw.obtainBlock(prevIdx)
		if err != nil {
			return nil, err
		}
		if prev.Kind() != kindFreeList {
			corruptBlock("journaled write", prev, "block %d is the previous free-list block but has kind %s", prevIdx, prev.Kind())
		}
		prevView := AsFreeListView(prev)
		if !prevView.Full() {
			corrupt("journaled write", "free-list block %d preceding the tail is not full", prevIdx)
		}

		master := AsMasterView(jw.fs.masterBlock)
		if master.NrFullFreeListNodes() == 0 {
			corrupt("journaled write", "promoting a free-list tail with nrFullFreeListNodes already 0")
		}
		master.SetFreeListTailBlockIndex(prevIdx)
		master.SetNrFullFreeListNodes(master.NrFullFreeListNodes() - 1)

		jw.newFreeListTailBlock = prev
		return reclaimed, nil
	}

	return nil, nil
}

// noPrevFreeList marks the first (innermost) free-list block, which has
// no predecessor.
const noPrevFreeList = ^uint64(0)

// complete pushes pending frees onto the free list and commits every
// changed block as one atomic group (spec.md §4.3/§7).
func (jw *JournaledWrite) complete() error {
	if jw.completed {
		corrupt("journaled write", "complete called twice")
	}
	if jw.finalizationsPending != 0 {
		corrupt("journaled write", "complete called with %d finalizations still pending", jw.finalizationsPending)
	}

	if len(jw.blocksToFree) > 0 {
		maxIndices := AsFreeListView(jw.newFreeListTail()).maxIndices()
		for _, b := range jw.blocksToFree {
			tail := jw.newFreeListTail()
			fl := AsFreeListView(tail)
			if fl.NrIndices() != maxIndices {
				fl.Push(b.index)
				b.touch()
				b.setKind(kindFreeBlock)
			} else {
				prevTail := jw.newFreeListTailBlock
				b.touch()
				b.setKind(kindFreeList)
				newTail := initFreeListView(b)
				if prevTail != nil {
					newTail.SetPrevBlockIndex(prevTail.index)
				} else {
					newTail.SetPrevBlockIndex(jw.fs.freeListTailBlock.index)
				}
				jw.newFreeListTailBlock = b

				master := AsMasterView(jw.fs.masterBlock)
				master.SetFreeListTailBlockIndex(b.index)
				master.SetNrFullFreeListNodes(master.NrFullFreeListNodes() + 1)
			}
		}
	}

	if err := jw.fs.storage.CompleteJournaledWrite(jw.changedBlocks); err != nil {
		return err
	}
	jw.completed = true

	if jw.newFreeListTailBlock != nil && jw.newFreeListTailBlock != jw.fs.freeListTailBlock {
		jw.fs.freeListTailBlock = jw.newFreeListTailBlock
	}
	for _, b := range jw.changedBlocks {
		b.dropOriginal()
		b.scope = nil
	}
	jw.fs.masterBlock.scope = nil
	jw.fs.freeListTailBlock.scope = nil
	jw.fs.rootDirTopNode.scope = nil
	jw.fs.log.Trace("afs: journaled write complete (%d blocks)", len(jw.changedBlocks))
	return nil
}

// abortIfNotComplete rolls back every changed block and tells storage
// to abort, unless complete() already ran. Safe to call unconditionally
// via defer.
func (jw *JournaledWrite) abortIfNotComplete() {
	if jw.completed || jw.aborted {
		return
	}
	jw.aborted = true
	jw.fs.storage.AbortJournaledWrite()
	for _, b := range jw.changedBlocks {
		if diff := b.dumpRestoreDiff(); diff != "" {
			jw.fs.log.Trace("afs: reverting block %d\n%s", b.index, diff)
		}
		b.restore()
		b.scope = nil
	}
	jw.fs.masterBlock.scope = nil
	jw.fs.masterBlock.restore()
	jw.fs.freeListTailBlock.scope = nil
	jw.fs.freeListTailBlock.restore()
	jw.fs.rootDirTopNode.scope = nil
	jw.fs.rootDirTopNode.restore()
	jw.fs.log.Trace("afs: journaled write aborted")
}
