package afs

import (
	"sync"
)

// MemStorage is an in-memory Storage implementation, the reference
// implementation spec.md §4.1 expects for tests: a single journaled
// write at a time, group-atomic completion, and an injectable abort
// hook used to exercise the crash-consistency property (spec.md §8).
//
// Grounded on the in-memory storage shape implied throughout
// AtAfs.cpp's AtAfsMemStorage.{h,cpp} (original_source), re-expressed
// idiomatically: a slice of block images guarded by a mutex, rather
// than a hand-rolled allocator.
type MemStorage struct {
	mu         sync.Mutex
	blockSize  uint32
	maxBlocks  uint64
	blocks     [][]byte
	writeBegun bool

	// FailCompleteAt, if non-zero, makes the Nth call to
	// CompleteJournaledWrite (1-indexed, counted from the storage's
	// creation) fail after writing only the first FailCompleteAt-1 blocks
	// of the group, simulating a crash mid-commit.
	// Used only by crash-consistency tests.
	FailCompleteAt  int
	completeCallNr  int
	FailCompleteErr error
}

// NewMemStorage creates an empty in-memory block device with the given
// block size and optional block cap (0 = unbounded).
func NewMemStorage(blockSize uint32, maxBlocks uint64) *MemStorage {
	return &MemStorage{blockSize: blockSize, maxBlocks: maxBlocks}
}

func (m *MemStorage) BlockSize() uint32 { return m.blockSize }
func (m *MemStorage) MaxBlocks() uint64 { return m.maxBlocks }

func (m *MemStorage) NrBlocks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.blocks))
}

func (m *MemStorage) AddNewBlock() (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxBlocks != 0 && uint64(len(m.blocks)) >= m.maxBlocks {
		return nil, OutOfSpace
	}
	idx := uint64(len(m.blocks))
	data := make([]byte, m.blockSize)
	m.blocks = append(m.blocks, data)
	return &Block{index: idx, data: data}, nil
}

func (m *MemStorage) ObtainBlock(blockIndex uint64) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blockIndex >= uint64(len(m.blocks)) {
		return nil, BlockIndexInvalid
	}
	cp := make([]byte, m.blockSize)
	copy(cp, m.blocks[blockIndex])
	return &Block{index: blockIndex, data: cp}, nil
}

func (m *MemStorage) BeginJournaledWrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeBegun {
		corrupt("storage", "BeginJournaledWrite called while a journaled write is already active")
	}
	m.writeBegun = true
	return nil
}

func (m *MemStorage) AbortJournaledWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeBegun = false
}

func (m *MemStorage) CompleteJournaledWrite(changedBlocks []*Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.writeBegun {
		corrupt("storage", "CompleteJournaledWrite called without an active journaled write")
	}
	m.writeBegun = false
	m.completeCallNr++

	limit := len(changedBlocks)
	failing := m.FailCompleteAt != 0 && m.completeCallNr == m.FailCompleteAt
	if failing {
		limit = m.FailCompleteAt - 1
		if limit > len(changedBlocks) {
			limit = len(changedBlocks)
		}
		if limit < 0 {
			limit = 0
		}
	}
	for i := 0; i < limit; i++ {
		blk := changedBlocks[i]
		m.growTo(blk.index)
		copy(m.blocks[blk.index], blk.data)
	}
	if failing {
		if m.FailCompleteErr != nil {
			return m.FailCompleteErr
		}
		return StorageInErrorState
	}
	return nil
}

// growTo ensures the block slice has room for index idx, appending
// zero blocks as needed. It is called for every committed block; blocks
// from AddNewBlock are already in the slice, so it only appends for an
// index past the current end.
func (m *MemStorage) growTo(idx uint64) {
	for uint64(len(m.blocks)) <= idx {
		m.blocks = append(m.blocks, make([]byte, m.blockSize))
	}
}
