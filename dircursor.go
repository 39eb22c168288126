package afs

import "sort"

// dirNode is a decoded directory tree node: either a leaf (level 0,
// holding name → child mappings) or a branch (level > 0, holding
// child-block pointers keyed by the first name in each subtree).
// Grounded on AtAfs.cpp's Afs::DirNode, decoded eagerly here instead of
// lazily field-by-field since Go gives no cheap placement-new overlay.
type dirNode struct {
	block *Block
	view  DirNodeView
	level int
	isTop bool

	leaf   []DirLeafEntry
	branch []DirBranchEntry
}

func loadDirNode(b *Block) *dirNode {
	v := AsDirNodeView(b)
	n := &dirNode{block: b, view: v, level: v.Level(), isTop: v.Category() == catTop}
	if n.level == dirLeafLevel {
		n.leaf = v.LeafEntries()
	} else {
		n.branch = v.BranchEntries()
	}
	return n
}

// firstName is the key by which this node's subtree is found from its
// parent (spec.md invariant 4).
func (n *dirNode) firstName() string {
	if n.level == dirLeafLevel {
		if len(n.leaf) == 0 {
			return ""
		}
		return n.leaf[0].Name
	}
	if len(n.branch) == 0 {
		return ""
	}
	return n.branch[0].Name
}

func (n *dirNode) persist() {
	n.view.SetLevel(n.level)
	if n.level == dirLeafLevel {
		n.view.EncodeLeafEntries(n.leaf)
	} else {
		n.view.EncodeBranchEntries(n.branch)
	}
}

// encodedSize is what persist would occupy; callers check this against
// the block's capacity before committing (spec.md invariant 6).
func (n *dirNode) encodedSize() int {
	base := n.view.overheadBytes()
	if n.level == dirLeafLevel {
		return base + encodedSizeLeafEntries(n.leaf)
	}
	return base + encodedSizeBranchEntries(n.branch)
}

func (n *dirNode) capacity() int { return len(n.block.Bytes()) }

func (n *dirNode) overflows() bool { return n.encodedSize() > n.capacity() }

// entriesEncodedSize is this node's entries alone, independent of which
// node (top or non-top) ultimately hosts them — used by hoistTop to
// check whether a child's content would fit the top's own (smaller)
// entry area (spec.md §4.4 hoist capacity bound).
func (n *dirNode) entriesEncodedSize() int {
	if n.level == dirLeafLevel {
		return encodedSizeLeafEntries(n.leaf)
	}
	return encodedSizeBranchEntries(n.branch)
}

// dirCursor navigates and mutates one directory's tree, rooted at a
// fixed Top block (spec.md §4.4). A cursor is single-use per call:
// each navigation rebuilds its NavPath from the top, mirroring
// AtAfs.cpp's Afs::DirCxR/DirCxRW without carrying cached node
// pointers across independent operations.
type dirCursor struct {
	fs       *FileSystem
	jw       *JournaledWrite // nil for a read-only cursor
	topBlock *Block
	path     []dirNavEntry
}

func (fs *FileSystem) newDirCursor(jw *JournaledWrite, topBlock *Block) *dirCursor {
	return &dirCursor{fs: fs, jw: jw, topBlock: topBlock}
}

func (c *dirCursor) obtainChild(blockIndex uint64) (*Block, error) {
	if c.jw != nil {
		return c.jw.obtainBlock(blockIndex)
	}
	return c.fs.storage.ObtainBlock(blockIndex)
}

// findLeaf locates the entry at or immediately before name among
// sorted leaf entries (spec.md §4.4's FindNameEqualOrLessThan).
func (c *dirCursor) findLeaf(entries []DirLeafEntry, name string) (FindResult, int) {
	if len(entries) == 0 {
		return FindNoEntries, 0
	}
	i := sort.Search(len(entries), func(i int) bool { return c.fs.compare(entries[i].Name, name) > 0 })
	if i == 0 {
		return FindFirstIsGreater, 0
	}
	if c.fs.compare(entries[i-1].Name, name) == 0 {
		return FindFoundEqual, i - 1
	}
	return FindFoundLessThan, i - 1
}

func (c *dirCursor) findBranch(entries []DirBranchEntry, name string) (FindResult, int) {
	if len(entries) == 0 {
		corrupt("dir cursor", "branch node has no entries")
	}
	i := sort.Search(len(entries), func(i int) bool { return c.fs.compare(entries[i].Name, name) > 0 })
	if i == 0 {
		return FindFirstIsGreater, 0
	}
	if c.fs.compare(entries[i-1].Name, name) == 0 {
		return FindFoundEqual, i - 1
	}
	return FindFoundLessThan, i - 1
}

// navToLeafEntryEqualOrLessThan descends from the top, rebuilding the
// cursor's path, and stops at the leaf entry equal to or immediately
// preceding name. With stopEarly, it returns as soon as a branch level
// proves name cannot be present, without reading further down.
func (c *dirCursor) navToLeafEntryEqualOrLessThan(name string, stopEarly bool) (FindResult, error) {
	c.path = c.path[:0]
	node := loadDirNode(c.topBlock)

	for {
		if node.level == dirLeafLevel {
			fr, pos := c.findLeaf(node.leaf, name)
			if fr == FindNoEntries && !node.isTop {
				corrupt("dir cursor", "non-top leaf node %d is empty", node.block.Index())
			}
			c.path = append(c.path, dirNavEntry{node: node, pos: pos})
			return fr, nil
		}

		fr, pos := c.findBranch(node.branch, name)
		c.path = append(c.path, dirNavEntry{node: node, pos: pos})
		if stopEarly && fr == FindFirstIsGreater {
			return fr, nil
		}

		child, err := c.obtainChild(node.branch[pos].ChildBlock)
		if err != nil {
			return 0, err
		}
		childNode := loadDirNode(child)
		if childNode.level+1 != node.level {
			corrupt("dir cursor", "child node %d has level %d, expected %d", child.Index(), childNode.level, node.level-1)
		}
		node = childNode
	}
}

// leafEntryAt returns the entry the cursor currently points to; caller
// must have navigated to a FindFoundEqual result first.
func (c *dirCursor) leafEntryAt() DirLeafEntry {
	top := c.path[len(c.path)-1]
	if top.node.level != dirLeafLevel {
		corrupt("dir cursor", "leafEntryAt called on a non-leaf node")
	}
	return top.node.leaf[top.pos]
}

// readDir decodes every leaf entry in order, batching sibling advances
// (spec.md §4.4: bounded by the tree height per step, not one I/O per
// entry as a flat scan would require).
func (c *dirCursor) readDir() ([]DirLeafEntry, error) {
	var out []DirLeafEntry
	node := loadDirNode(c.topBlock)
	c.path = []dirNavEntry{{node: node, pos: 0}}
	for {
		leaf := c.path[len(c.path)-1].node
		if leaf.level != dirLeafLevel {
			var err error
			leaf, err = c.descendToLeftmostLeaf()
			if err != nil {
				return nil, err
			}
		}
		out = append(out, leaf.leaf...)
		if !c.navToSiblingNode(forward) {
			break
		}
	}
	return out, nil
}

func (c *dirCursor) descendToLeftmostLeaf() (*dirNode, error) {
	for {
		cur := c.path[len(c.path)-1]
		if cur.node.level == dirLeafLevel {
			return cur.node, nil
		}
		c.path[len(c.path)-1].pos = 0
		child, err := c.obtainChild(cur.node.branch[0].ChildBlock)
		if err != nil {
			return nil, err
		}
		c.path = append(c.path, dirNavEntry{node: loadDirNode(child), pos: 0})
	}
}

type navDir bool

const (
	forward navDir = true
	reverse navDir = false
)

// navToSiblingNode ascends until it can step laterally at some level,
// then descends back down to the sibling at the original level
// (spec.md §4.4; grounded on AtAfs.cpp's Afs::DirCxR::NavToSiblingNode).
func (c *dirCursor) navToSiblingNode(dir navDir) bool {
	if len(c.path) == 0 {
		return false
	}
	targetLevel := c.path[len(c.path)-1].node.level

	for {
		c.path = c.path[:len(c.path)-1]
		if len(c.path) == 0 {
			return false
		}
		parent := &c.path[len(c.path)-1]
		if dir == forward {
			if parent.pos+1 < len(parent.node.branch) {
				parent.pos++
				break
			}
		} else {
			if parent.pos > 0 {
				parent.pos--
				break
			}
		}
	}

	for {
		parent := c.path[len(c.path)-1]
		child, err := c.obtainChild(parent.node.branch[parent.pos].ChildBlock)
		if err != nil {
			corrupt("dir cursor", "sibling descent: %v", err)
		}
		node := loadDirNode(child)
		pos := 0
		if dir == reverse {
			if node.level == dirLeafLevel {
				pos = len(node.leaf) - 1
			} else {
				pos = len(node.branch) - 1
			}
			if pos < 0 {
				pos = 0
			}
		}
		c.path = append(c.path, dirNavEntry{node: node, pos: pos})
		if node.level == targetLevel {
			return true
		}
	}
}

// insert adds a new leaf entry in sorted position, splitting and
// propagating upward as needed (spec.md §4.4 invariant 6). Caller must
// hold a journaled write scope.
func (c *dirCursor) insert(entry DirLeafEntry, now uint64) error {
	fr, err := c.navToLeafEntryEqualOrLessThan(entry.Name, false)
	if err != nil {
		return err
	}
	if fr == FindFoundEqual {
		return NameExists
	}

	leafIdx := len(c.path) - 1
	pos := c.path[leafIdx].pos
	switch fr {
	case FindNoEntries, FindFirstIsGreater:
		pos = 0
	case FindFoundLessThan:
		pos = pos + 1
	}

	node := c.path[leafIdx].node
	node.leaf = append(node.leaf, DirLeafEntry{})
	copy(node.leaf[pos+1:], node.leaf[pos:])
	node.leaf[pos] = entry

	if err := c.rebalanceAfterInsert(leafIdx); err != nil {
		return err
	}
	c.adjustNrEntries(1)
	c.path[0].node.view.AsTopView().SetModifyFt(now)
	return nil
}

// adjustNrEntries updates the directory's total descendant count,
// stored only in the top node (spec.md §3).
func (c *dirCursor) adjustNrEntries(delta int) {
	top := c.path[0].node
	n := int(top.view.NrEntries()) + delta
	if n < 0 {
		corrupt("dir cursor", "NrEntries would go negative")
	}
	top.view.SetNrEntries(uint32(n))
}

// rebalanceAfterInsert persists the modified node, maintains ancestor
// first-name keys, and splits any node left overflowing its block,
// cascading upward (spec.md §4.4; grounded on AtAfs.cpp's SplitNode /
// SplitTopNode, simplified to always resolve in a single two-way split
// since AFS's minimum block size guarantees one maximum-length entry
// leaves room for at least two after halving).
func (c *dirCursor) rebalanceAfterInsert(idx int) error {
	c.fixupAncestorKeys()

	for idx >= 0 {
		node := c.path[idx].node
		if !node.overflows() {
			node.persist()
			return nil
		}

		if node.isTop {
			return c.splitTop(node)
		}

		right, err := c.splitNonTop(node)
		if err != nil {
			return err
		}
		parent := &c.path[idx-1]
		newEntry := DirBranchEntry{ChildBlock: right.block.Index(), Name: right.firstName()}
		parent.node.branch = append(parent.node.branch, DirBranchEntry{})
		insertAt := parent.pos + 1
		copy(parent.node.branch[insertAt+1:], parent.node.branch[insertAt:])
		parent.node.branch[insertAt] = newEntry
		idx--
	}
	return nil
}

// fixupAncestorKeys propagates a changed first name up the path while
// the change happened at position 0 of each level (spec.md invariant
// 4: a branch entry's name must equal its subtree's first name).
func (c *dirCursor) fixupAncestorKeys() {
	for i := len(c.path) - 1; i > 0; i-- {
		if c.path[i].pos != 0 {
			return
		}
		parent := &c.path[i-1]
		parent.node.branch[parent.pos].Name = c.path[i].node.firstName()
	}
}

// splitNonTop halves node's entries into node and a freshly allocated
// sibling, returning the sibling (which holds the upper half).
func (c *dirCursor) splitNonTop(node *dirNode) (*dirNode, error) {
	rightBlock, err := c.allocNode(catNonTop, typeDir)
	if err != nil {
		return nil, err
	}
	right := loadDirNode(rightBlock)
	right.level = node.level

	if node.level == dirLeafLevel {
		mid := len(node.leaf) / 2
		right.leaf = append([]DirLeafEntry(nil), node.leaf[mid:]...)
		node.leaf = node.leaf[:mid]
	} else {
		mid := len(node.branch) / 2
		right.branch = append([]DirBranchEntry(nil), node.branch[mid:]...)
		node.branch = node.branch[:mid]
	}

	node.persist()
	right.persist()
	return right, nil
}

// splitTop keeps the directory's top block fixed in place (it carries
// the object's ObjId) and instead pushes its entire content down into
// two fresh non-top children, turning the top node into a one-level-
// higher branch with two entries.
func (c *dirCursor) splitTop(node *dirNode) error {
	leftBlock, err := c.allocNode(catNonTop, typeDir)
	if err != nil {
		return err
	}
	rightBlock, err := c.allocNode(catNonTop, typeDir)
	if err != nil {
		return err
	}
	left := loadDirNode(leftBlock)
	right := loadDirNode(rightBlock)
	left.level = node.level
	right.level = node.level

	if node.level == dirLeafLevel {
		mid := len(node.leaf) / 2
		left.leaf = append([]DirLeafEntry(nil), node.leaf[:mid]...)
		right.leaf = append([]DirLeafEntry(nil), node.leaf[mid:]...)
	} else {
		mid := len(node.branch) / 2
		left.branch = append([]DirBranchEntry(nil), node.branch[:mid]...)
		right.branch = append([]DirBranchEntry(nil), node.branch[mid:]...)
	}
	left.persist()
	right.persist()

	node.level++
	node.branch = []DirBranchEntry{
		{ChildBlock: leftBlock.Index(), Name: left.firstName()},
		{ChildBlock: rightBlock.Index(), Name: right.firstName()},
	}
	node.leaf = nil
	node.persist()
	return nil
}

func (c *dirCursor) allocNode(cat nodeCat, ot objType) (*Block, error) {
	b, err := c.jw.reclaimBlockOrAddNew(kindNode)
	if err != nil {
		return nil, err
	}
	initNodeView(b, cat, ot)
	return b, nil
}

// remove deletes the leaf entry at the cursor's current position
// (caller must have navigated to a FindFoundEqual result), then joins
// an emptied non-top node into its parent and hoists the top node
// down a level when it is left with a single child (spec.md §4.4;
// grounded on AtAfs.cpp's RemoveLeafEntryAt / OnEntryRemoved_Maintenance,
// simplified to reclaim fully emptied nodes rather than rebalancing on
// every fractional underflow — AFS does not promise a minimum fill
// factor, only that every node fits within one block).
func (c *dirCursor) remove() error {
	leafIdx := len(c.path) - 1
	leaf := c.path[leafIdx].node
	pos := c.path[leafIdx].pos
	leaf.leaf = append(leaf.leaf[:pos], leaf.leaf[pos+1:]...)

	if leaf.isTop {
		leaf.persist()
		c.adjustNrEntries(-1)
		return nil
	}

	if len(leaf.leaf) > 0 {
		leaf.persist()
		c.fixupAncestorKeys()
		c.adjustNrEntries(-1)
		return nil
	}

	if err := c.removeEmptyNode(leafIdx); err != nil {
		return err
	}
	c.adjustNrEntries(-1)
	return nil
}

// removeEmptyNode detaches the fully emptied node at idx from its
// parent's branch list, reclaims its block, and hoists the top node
// if it is left holding a single child.
func (c *dirCursor) removeEmptyNode(idx int) error {
	if idx == 0 {
		corrupt("dir cursor", "attempt to remove the top node")
	}
	emptied := c.path[idx].node
	parent := &c.path[idx-1]

	c.jw.addBlockToFree(emptied.block)
	parent.node.branch = append(parent.node.branch[:parent.pos], parent.node.branch[parent.pos+1:]...)
	c.path = c.path[:idx]

	if parent.node.isTop {
		if len(parent.node.branch) == 0 {
			corrupt("dir cursor", "top branch node left with no children")
		}
		if len(parent.node.branch) == 1 {
			return c.hoistTop(parent.node)
		}
		parent.node.persist()
		c.fixupAncestorKeys()
		return nil
	}

	if len(parent.node.branch) == 0 {
		return c.removeEmptyNode(idx - 1)
	}
	parent.node.persist()
	c.fixupAncestorKeys()
	return nil
}

// hoistTop pulls a top node's single remaining child's content back
// into the top block and reclaims the child, shrinking the tree by one
// level (spec.md §4.4; grounded on AtAfs.cpp's TryHoistIntoTopNode).
func (c *dirCursor) hoistTop(top *dirNode) error {
	for {
		childBlock, err := c.obtainChild(top.branch[0].ChildBlock)
		if err != nil {
			return err
		}
		child := loadDirNode(childBlock)

		// The top node's entry area is smaller than a non-top's (it also
		// carries the object header); hoisting an oversized child would
		// overflow it, so defer and leave the top as a one-child branch
		// (spec.md §4.4: "Hoisting requires the top node's entry-area
		// capacity >= the child's entry-area usage; otherwise deferred").
		if top.view.overheadBytes()+child.entriesEncodedSize() > top.capacity() {
			top.persist()
			return nil
		}

		top.level = child.level
		top.leaf = child.leaf
		top.branch = child.branch
		c.jw.addBlockToFree(childBlock)
		top.persist()

		if top.level == dirLeafLevel || len(top.branch) != 1 {
			return nil
		}
	}
}
