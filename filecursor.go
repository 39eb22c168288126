package afs

import "sort"

// dataOff is the byte offset where a Data block's content begins,
// after its kind tag (spec.md §3: every block carries a kind byte).
const dataOff = 1

// dataBlockCapacity is how many content bytes one Data block holds.
func dataBlockCapacity(blockSize uint32) int { return int(blockSize) - dataOff }

// fileNode is a decoded file tree node: mini (inline content, top
// only), leaf (level 0, pointers to Data blocks), or branch (level >
// 0, pointers to child nodes keyed by starting file offset). Grounded
// on AtAfs.cpp's Afs::FileNode, the file-tree counterpart of dirNode.
type fileNode struct {
	block *Block
	view  FileNodeView
	level int
	isTop bool

	leafStart uint64
	leaf      []FileLeafEntry
	branch    []FileBranchEntry
}

func loadFileNode(b *Block) *fileNode {
	v := AsFileNodeView(b)
	n := &fileNode{block: b, view: v, level: v.Level(), isTop: v.Category() == catTop}
	switch {
	case v.IsMini():
	case v.IsLeaf():
		n.leafStart = v.LeafStartOffset()
		n.leaf = v.LeafEntries()
	default:
		n.branch = v.BranchEntries()
	}
	return n
}

func (n *fileNode) firstOffset() uint64 {
	if n.level == fileLevelLeaf {
		return n.leafStart
	}
	if len(n.branch) == 0 {
		return 0
	}
	return n.branch[0].FileOffset
}

func (n *fileNode) persist() {
	n.view.SetLevel(n.level)
	if n.level == fileLevelLeaf {
		n.view.SetLeafStartOffset(n.leafStart)
		n.view.EncodeLeafEntries(n.leaf)
	} else {
		n.view.EncodeBranchEntries(n.branch)
	}
}

func (n *fileNode) encodedSize() int {
	if n.level == fileLevelLeaf {
		return n.view.payloadOffset() + fileLeafOverheadBytes() + encodedSizeFileLeafEntries(n.leaf)
	}
	return n.view.payloadOffset() + fileBranchOverheadBytes() + encodedSizeFileBranchEntries(n.branch)
}

func (n *fileNode) capacity() int  { return len(n.block.Bytes()) }
func (n *fileNode) overflows() bool { return n.encodedSize() > n.capacity() }

// costAsTop is what this node's level/entries would occupy if hosted at
// topPayloadOffset instead of this node's own (non-top) payload offset —
// used by hoistFileTop to check whether a child fits the top's smaller
// entry area (spec.md §4.4/§4.5 hoist capacity bound, shared with
// directories).
func (n *fileNode) costAsTop(topPayloadOffset int) int {
	if n.level == fileLevelLeaf {
		return topPayloadOffset + fileLeafOverheadBytes() + encodedSizeFileLeafEntries(n.leaf)
	}
	return topPayloadOffset + fileBranchOverheadBytes() + encodedSizeFileBranchEntries(n.branch)
}

// fileCursor navigates and mutates one file's tree, rooted at a fixed
// Top block (spec.md §4.5). Like dirCursor, each operation rebuilds
// its NavPath from the top.
type fileCursor struct {
	fs       *FileSystem
	jw       *JournaledWrite
	topBlock *Block
	path     []fileNavEntry
}

func (fs *FileSystem) newFileCursor(jw *JournaledWrite, topBlock *Block) *fileCursor {
	return &fileCursor{fs: fs, jw: jw, topBlock: topBlock}
}

func (c *fileCursor) obtainChild(blockIndex uint64) (*Block, error) {
	if c.jw != nil {
		return c.jw.obtainBlock(blockIndex)
	}
	return c.fs.storage.ObtainBlock(blockIndex)
}

func (c *fileCursor) blockSize() uint32 { return c.fs.blockSize }

// --- reading ---

// fileRead copies min(len(out), size-offset) bytes starting at offset
// into out and returns the number of bytes copied.
func (c *fileCursor) fileRead(offset uint64, out []byte) (int, error) {
	top := AsFileNodeView(c.topBlock)
	size := top.SizeBytes()
	if offset >= size {
		return 0, nil
	}
	n := len(out)
	if uint64(n) > size-offset {
		n = int(size - offset)
	}
	if top.IsMini() {
		copy(out[:n], top.MiniData()[offset:])
		return n, nil
	}

	read := 0
	for read < n {
		blk, within, err := c.navToDataBlock(offset + uint64(read))
		if err != nil {
			return read, err
		}
		avail := dataBlockCapacity(c.blockSize()) - within
		chunk := n - read
		if chunk > avail {
			chunk = avail
		}
		copy(out[read:read+chunk], blk.Bytes()[dataOff+within:dataOff+within+chunk])
		read += chunk
	}
	return read, nil
}

// navToDataBlock descends to the leaf covering offset and returns the
// Data block holding it, plus the byte offset within that block.
func (c *fileCursor) navToDataBlock(offset uint64) (*Block, int, error) {
	c.path = c.path[:0]
	node := loadFileNode(c.topBlock)

	for node.level != fileLevelLeaf {
		pos := findBranchOffset(node.branch, offset)
		c.path = append(c.path, fileNavEntry{node: node, pos: pos})
		child, err := c.obtainChild(node.branch[pos].BlockIndex)
		if err != nil {
			return nil, 0, err
		}
		childNode := loadFileNode(child)
		node = childNode
	}

	cap := dataBlockCapacity(c.blockSize())
	entryIdx := int((offset - node.leafStart) / uint64(cap))
	within := int((offset - node.leafStart) % uint64(cap))
	c.path = append(c.path, fileNavEntry{node: node, pos: entryIdx})

	if entryIdx >= len(node.leaf) {
		corrupt("file cursor", "offset %d has no covering leaf entry", offset)
	}
	blk, err := c.obtainChild(node.leaf[entryIdx].BlockIndex)
	if err != nil {
		return nil, 0, err
	}
	return blk, within, nil
}

func findBranchOffset(entries []FileBranchEntry, offset uint64) int {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].FileOffset > offset })
	if i == 0 {
		corrupt("file cursor", "branch node's first entry already exceeds offset %d", offset)
	}
	return i - 1
}

// --- writing ---

// fileWrite writes data at offset, growing the file if needed, and
// updates modify-time (spec.md §4.5).
func (c *fileCursor) fileWrite(offset uint64, data []byte, now uint64) error {
	if len(data) == 0 {
		return nil
	}
	end := offset + uint64(len(data))
	top := AsFileNodeView(c.topBlock)
	if end > top.SizeBytes() {
		if err := c.fileSetSize(end, now); err != nil {
			return err
		}
	}
	top = AsFileNodeView(c.topBlock)

	if top.IsMini() {
		if end > uint64(top.MiniCapacity()) {
			corrupt("file cursor", "mini file write overruns capacity")
		}
		existing := append([]byte(nil), top.MiniData()...)
		if uint64(len(existing)) < end {
			grown := make([]byte, end)
			copy(grown, existing)
			existing = grown
		}
		copy(existing[offset:end], data)
		top.SetMiniData(existing)
		top.SetModifyFt(now)
		return nil
	}

	written := 0
	for written < len(data) {
		blk, within, err := c.navToDataBlock(offset + uint64(written))
		if err != nil {
			return err
		}
		blk.touch()
		cap := dataBlockCapacity(c.blockSize())
		avail := cap - within
		chunk := len(data) - written
		if chunk > avail {
			chunk = avail
		}
		copy(blk.Bytes()[dataOff+within:dataOff+within+chunk], data[written:written+chunk])
		written += chunk
	}
	top.SetModifyFt(now)
	return nil
}

// fileSetSize grows or shrinks the file to exactly size bytes,
// zero-filling any newly exposed range on growth, and updates
// modify-time when it actually changes the size (spec.md §4.5).
func (c *fileCursor) fileSetSize(size uint64, now uint64) error {
	top := AsFileNodeView(c.topBlock)
	cur := top.SizeBytes()
	if size == cur {
		return nil
	}
	var err error
	if size < cur {
		err = c.shrinkToSize(size)
	} else {
		err = c.growToSize(cur, size, now)
	}
	if err != nil {
		return err
	}
	AsFileNodeView(c.topBlock).SetModifyFt(now)
	return nil
}

func (c *fileCursor) growToSize(cur, size uint64, now uint64) error {
	top := AsFileNodeView(c.topBlock)

	if top.IsMini() {
		if size <= uint64(top.MiniCapacity()) {
			data := append([]byte(nil), top.MiniData()...)
			grown := make([]byte, size)
			copy(grown, data)
			top.SetMiniData(grown)
			top.SetSizeBytes(size)
			return nil
		}
		return c.convertMiniToLeaf(size, now)
	}

	top.SetSizeBytes(size)
	cap := dataBlockCapacity(c.blockSize())
	lastByteOld := uint64(0)
	if cur > 0 {
		lastByteOld = cur - 1
	}
	lastByteNew := size - 1
	_ = lastByteOld
	startEntry := int(cur / uint64(cap))
	if cur == 0 {
		startEntry = 0
	}
	endEntry := int(lastByteNew / uint64(cap))
	for i := startEntry; i <= endEntry; i++ {
		if err := c.ensureLeafEntryAt(uint64(i) * uint64(cap)); err != nil {
			return err
		}
	}
	// zero-fill the tail of the last previously-allocated block and the
	// full span of freshly allocated ones.
	zeroFrom := cur
	for zeroFrom < size {
		blk, within, err := c.navToDataBlock(zeroFrom)
		if err != nil {
			return err
		}
		blk.touch()
		avail := cap - within
		n := int(size - zeroFrom)
		if n > avail {
			n = avail
		}
		b := blk.Bytes()
		for i := 0; i < n; i++ {
			b[dataOff+within+i] = 0
		}
		zeroFrom += uint64(n)
	}
	return nil
}

// ensureLeafEntryAt makes sure a data block exists covering offset,
// allocating one and appending/splitting the tree as needed.
func (c *fileCursor) ensureLeafEntryAt(offset uint64) error {
	c.path = c.path[:0]
	node := loadFileNode(c.topBlock)

	for node.level != fileLevelLeaf {
		pos := findBranchOffset(node.branch, offset)
		c.path = append(c.path, fileNavEntry{node: node, pos: pos})
		child, err := c.obtainChild(node.branch[pos].BlockIndex)
		if err != nil {
			return err
		}
		node = loadFileNode(child)
	}

	cap := dataBlockCapacity(c.blockSize())
	entryIdx := int((offset - node.leafStart) / uint64(cap))
	if entryIdx < len(node.leaf) {
		return nil // already covered
	}
	for entryIdx >= len(node.leaf) {
		blk, err := c.jw.reclaimBlockOrAddNew(kindData)
		if err != nil {
			return err
		}
		node.leaf = append(node.leaf, FileLeafEntry{BlockIndex: blk.Index()})
	}
	c.path = append(c.path, fileNavEntry{node: node, pos: len(node.leaf) - 1})
	return c.rebalanceFileAfterInsert(len(c.path) - 1)
}

func (c *fileCursor) rebalanceFileAfterInsert(idx int) error {
	for idx >= 0 {
		node := c.path[idx].node
		if !node.overflows() {
			node.persist()
			return nil
		}
		if node.isTop {
			return c.splitFileTop(node)
		}
		right, err := c.splitFileNonTop(node)
		if err != nil {
			return err
		}
		parent := &c.path[idx-1]
		newEntry := FileBranchEntry{FileOffset: right.firstOffset(), BlockIndex: right.block.Index()}
		parent.node.branch = append(parent.node.branch, FileBranchEntry{})
		insertAt := parent.pos + 1
		copy(parent.node.branch[insertAt+1:], parent.node.branch[insertAt:])
		parent.node.branch[insertAt] = newEntry
		idx--
	}
	return nil
}

func (c *fileCursor) allocFileNode(cat nodeCat) (*Block, error) {
	b, err := c.jw.reclaimBlockOrAddNew(kindNode)
	if err != nil {
		return nil, err
	}
	initNodeView(b, cat, typeFile)
	return b, nil
}

func (c *fileCursor) splitFileNonTop(node *fileNode) (*fileNode, error) {
	rightBlock, err := c.allocFileNode(catNonTop)
	if err != nil {
		return nil, err
	}
	right := loadFileNode(rightBlock)
	right.level = node.level

	if node.level == fileLevelLeaf {
		mid := len(node.leaf) / 2
		cap := dataBlockCapacity(c.blockSize())
		right.leafStart = node.leafStart + uint64(mid)*uint64(cap)
		right.leaf = append([]FileLeafEntry(nil), node.leaf[mid:]...)
		node.leaf = node.leaf[:mid]
	} else {
		mid := len(node.branch) / 2
		right.branch = append([]FileBranchEntry(nil), node.branch[mid:]...)
		node.branch = node.branch[:mid]
	}
	node.persist()
	right.persist()
	return right, nil
}

func (c *fileCursor) splitFileTop(node *fileNode) error {
	leftBlock, err := c.allocFileNode(catNonTop)
	if err != nil {
		return err
	}
	rightBlock, err := c.allocFileNode(catNonTop)
	if err != nil {
		return err
	}
	left := loadFileNode(leftBlock)
	right := loadFileNode(rightBlock)
	left.level = node.level
	right.level = node.level

	if node.level == fileLevelLeaf {
		mid := len(node.leaf) / 2
		cap := dataBlockCapacity(c.blockSize())
		left.leafStart = node.leafStart
		left.leaf = append([]FileLeafEntry(nil), node.leaf[:mid]...)
		right.leafStart = node.leafStart + uint64(mid)*uint64(cap)
		right.leaf = append([]FileLeafEntry(nil), node.leaf[mid:]...)
	} else {
		mid := len(node.branch) / 2
		left.branch = append([]FileBranchEntry(nil), node.branch[:mid]...)
		right.branch = append([]FileBranchEntry(nil), node.branch[mid:]...)
	}
	left.persist()
	right.persist()

	node.level++
	node.branch = []FileBranchEntry{
		{FileOffset: left.firstOffset(), BlockIndex: leftBlock.Index()},
		{FileOffset: right.firstOffset(), BlockIndex: rightBlock.Index()},
	}
	node.leaf = nil
	node.persist()
	return nil
}

// convertMiniToLeaf moves a mini file's inline bytes into the top
// node's own leaf regime (still in place, no new top-level split),
// then grows it the rest of the way to size.
func (c *fileCursor) convertMiniToLeaf(size uint64, now uint64) error {
	top := loadFileNode(c.topBlock)
	mini := append([]byte(nil), AsFileNodeView(c.topBlock).MiniData()...)

	top.level = fileLevelLeaf
	top.leafStart = 0
	top.leaf = nil
	top.persist()
	AsFileNodeView(c.topBlock).SetSizeBytes(uint64(len(mini)))

	if len(mini) > 0 {
		if err := c.growToSize(0, uint64(len(mini)), now); err != nil {
			return err
		}
		if err := c.fileWrite(0, mini, now); err != nil {
			return err
		}
	}
	return c.growToSize(uint64(len(mini)), size, now)
}

// --- shrinking ---

func (c *fileCursor) shrinkToSize(size uint64) error {
	top := AsFileNodeView(c.topBlock)
	if top.IsMini() {
		data := append([]byte(nil), top.MiniData()...)
		top.SetMiniData(data[:size])
		top.SetSizeBytes(size)
		return nil
	}

	cur := top.SizeBytes()
	cap := dataBlockCapacity(c.blockSize())
	lastKeptEntry := -1
	if size > 0 {
		lastKeptEntry = int((size - 1) / uint64(cap))
	}
	totalOldEntries := int((cur + uint64(cap) - 1) / uint64(cap))

	for i := totalOldEntries - 1; i > lastKeptEntry; i-- {
		if err := c.removeTrailingLeafEntry(uint64(i) * uint64(cap)); err != nil {
			return err
		}
	}

	top.SetSizeBytes(size)
	if size > 0 {
		tailStart := size
		if tailStart%uint64(cap) != 0 {
			blk, within, err := c.navToDataBlock(tailStart - 1)
			if err != nil {
				return err
			}
			blk.touch()
			b := blk.Bytes()
			for i := within + 1; i < cap; i++ {
				b[dataOff+i] = 0
			}
		}
	}

	if size == 0 {
		return c.revertToEmptyMini()
	}
	return nil
}

// removeTrailingLeafEntry frees the data block covering offset (the
// last entry of the leaf it lives in) and, if that empties the leaf,
// joins it out of the tree and hoists the top when left with one child.
func (c *fileCursor) removeTrailingLeafEntry(offset uint64) error {
	c.path = c.path[:0]
	node := loadFileNode(c.topBlock)
	for node.level != fileLevelLeaf {
		pos := findBranchOffset(node.branch, offset)
		c.path = append(c.path, fileNavEntry{node: node, pos: pos})
		child, err := c.obtainChild(node.branch[pos].BlockIndex)
		if err != nil {
			return err
		}
		node = loadFileNode(child)
	}
	leafIdx := len(c.path)
	c.path = append(c.path, fileNavEntry{node: node, pos: len(node.leaf) - 1})

	last := node.leaf[len(node.leaf)-1]
	dataBlk, err := c.obtainChild(last.BlockIndex)
	if err != nil {
		return err
	}
	c.jw.addBlockToFree(dataBlk)
	node.leaf = node.leaf[:len(node.leaf)-1]

	if node.isTop || len(node.leaf) > 0 {
		node.persist()
		return nil
	}
	return c.removeEmptyFileNode(leafIdx)
}

func (c *fileCursor) removeEmptyFileNode(idx int) error {
	if idx == 0 {
		corrupt("file cursor", "attempt to remove the top node")
	}
	emptied := c.path[idx].node
	parent := &c.path[idx-1]

	c.jw.addBlockToFree(emptied.block)
	parent.node.branch = append(parent.node.branch[:parent.pos], parent.node.branch[parent.pos+1:]...)

	if parent.node.isTop {
		if len(parent.node.branch) == 1 {
			return c.hoistFileTop(parent.node)
		}
		parent.node.persist()
		return nil
	}
	if len(parent.node.branch) == 0 {
		return c.removeEmptyFileNode(idx - 1)
	}
	parent.node.persist()
	return nil
}

func (c *fileCursor) hoistFileTop(top *fileNode) error {
	for {
		childBlock, err := c.obtainChild(top.branch[0].BlockIndex)
		if err != nil {
			return err
		}
		child := loadFileNode(childBlock)

		if child.costAsTop(top.view.payloadOffset()) > top.capacity() {
			top.persist()
			return nil
		}

		top.level = child.level
		top.leafStart = child.leafStart
		top.leaf = child.leaf
		top.branch = child.branch
		c.jw.addBlockToFree(childBlock)
		top.persist()

		if top.level == fileLevelLeaf || len(top.branch) != 1 {
			return nil
		}
	}
}

// revertToEmptyMini converts an emptied leaf/branch top node back into
// the mini regime (spec.md §4.5: SetSize(0) always yields an empty
// mini file, matching a freshly created one).
func (c *fileCursor) revertToEmptyMini() error {
	top := loadFileNode(c.topBlock)
	top.level = fileLevelBeyondMax
	top.leaf = nil
	top.branch = nil
	top.persist()
	AsFileNodeView(c.topBlock).SetSizeBytes(0)
	AsFileNodeView(c.topBlock).SetMiniData(nil)
	return nil
}
