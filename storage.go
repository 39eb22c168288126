package afs

// Storage is the block device contract (spec.md §4.1/§6). Implementations
// may be in-memory (memstorage.go, used by tests) or file/device-backed
// (filestorage.go). The core treats every call as synchronous; it never
// begins more than one journaled write at a time (spec.md §5).
//
// Grounded on backend.Storage's shape (fs.File + ReaderAt + Seeker +
// Closer), generalized from "bytes at an offset" to "a fixed-size block
// by index", which is the layer spec.md §4.1 actually asks for.
type Storage interface {
	// BlockSize returns BS, the fixed size of every block in bytes.
	BlockSize() uint32
	// MaxBlocks returns the maximum number of blocks this storage can
	// hold, or 0 if unbounded.
	MaxBlocks() uint64
	// NrBlocks returns the current number of blocks in the device.
	NrBlocks() uint64

	// AddNewBlock extends storage by one block and returns a handle to
	// it, zero-filled. Fails with OutOfSpace or StorageInErrorState.
	AddNewBlock() (*Block, error)
	// ObtainBlock reads an existing block. Fails with BlockIndexInvalid
	// if blockIndex is out of range.
	ObtainBlock(blockIndex uint64) (*Block, error)

	// BeginJournaledWrite acquires the storage's single journaled-write
	// lock. The core assumes only one is ever active (spec.md §5).
	BeginJournaledWrite() error
	// AbortJournaledWrite releases the lock without persisting anything;
	// the core has already restored its own in-memory block images.
	AbortJournaledWrite()
	// CompleteJournaledWrite makes every block in changedBlocks durable
	// as a single atomic group: after a crash, either all of them are
	// visible or none are.
	CompleteJournaledWrite(changedBlocks []*Block) error
}
