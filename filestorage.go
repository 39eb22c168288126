package afs

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
	times "gopkg.in/djherbis/times.v1"

	"github.com/blocktree/afs/backend"
	backendfile "github.com/blocktree/afs/backend/file"
)

// afsXattrTag is a best-effort diagnostic marker written to a
// file-backed volume's extended attributes so `getfattr` can identify
// it without parsing the Master block (spec.md treats this purely as
// an operator convenience, never read back by the core itself).
const afsXattrTag = "user.afs.version"

// FileStorage is a Storage implementation backed by a regular file or
// block device via backend.Storage (spec.md §4.1/§4.6). It holds an
// advisory exclusive flock for the process's lifetime, matching
// spec.md §5's assumption that only one process mutates a volume at a
// time.
//
// Grounded on disk.Disk's use of backend.Storage plus Sys() for raw fd
// access; the flock/xattr/times wiring follows the pack's use of
// golang.org/x/sys/unix, github.com/pkg/xattr, and
// gopkg.in/djherbis/times.v1 for exactly this kind of OS-integration
// diagnostic, none of which the teacher needed for its read-mostly
// image-inspection use case.
type FileStorage struct {
	mu sync.Mutex

	backing    backend.Storage
	path       string
	blockSize  uint32
	maxBlocks  uint64
	nrBlocks   uint64
	writeBegun bool
	locked     bool
}

// OpenFileStorage opens an existing file or device as AFS block
// storage.
func OpenFileStorage(path string, blockSize uint32, maxBlocks uint64, readOnly bool) (*FileStorage, error) {
	b, err := backendfile.OpenFromPath(path, readOnly)
	if err != nil {
		return nil, err
	}
	fs := &FileStorage{backing: b, path: path, blockSize: blockSize, maxBlocks: maxBlocks}
	if !readOnly {
		if err := fs.lock(); err != nil {
			return nil, err
		}
	}
	if err := fs.computeNrBlocks(); err != nil {
		return nil, err
	}
	fs.tagXattr()
	return fs, nil
}

// CreateFileStorage creates a new, empty file to back an AFS volume.
func CreateFileStorage(path string, blockSize uint32, maxBlocks uint64) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("afs: could not create %s: %w", path, err)
	}
	b := backendfile.New(f, false)
	fs := &FileStorage{backing: b, path: path, blockSize: blockSize, maxBlocks: maxBlocks}
	if err := fs.lock(); err != nil {
		return nil, err
	}
	fs.tagXattr()
	return fs, nil
}

func (f *FileStorage) lock() error {
	sysf, err := f.backing.Sys()
	if err != nil {
		return nil // not every backend exposes a raw fd; exclusivity becomes best-effort
	}
	if err := unix.Flock(int(sysf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("afs: could not obtain exclusive lock on %s: %w", f.path, err)
	}
	f.locked = true
	return nil
}

func (f *FileStorage) tagXattr() {
	sysf, err := f.backing.Sys()
	if err != nil {
		return
	}
	_ = xattr.FSet(sysf, afsXattrTag, []byte(fmt.Sprintf("%d", fsVersion)))
}

// BackingFileTimes reports the OS-level timestamps of the backing
// file, a diagnostic surface independent of the in-volume CreateFt /
// ModifyFt fields (spec.md §4.6 does not define this; it exists purely
// so operators can cross-check volume age against host metadata).
func (f *FileStorage) BackingFileTimes() (times.Timespec, error) {
	return times.Stat(f.path)
}

func (f *FileStorage) computeNrBlocks() error {
	size, err := f.backing.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	f.nrBlocks = uint64(size) / uint64(f.blockSize)
	return nil
}

func (f *FileStorage) BlockSize() uint32 { return f.blockSize }
func (f *FileStorage) MaxBlocks() uint64 { return f.maxBlocks }

func (f *FileStorage) NrBlocks() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nrBlocks
}

func (f *FileStorage) AddNewBlock() (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxBlocks != 0 && f.nrBlocks >= f.maxBlocks {
		return nil, OutOfSpace
	}
	w, err := f.backing.Writable()
	if err != nil {
		return nil, err
	}
	idx := f.nrBlocks
	data := make([]byte, f.blockSize)
	if _, err := w.WriteAt(data, int64(idx)*int64(f.blockSize)); err != nil {
		return nil, StorageInErrorState
	}
	f.nrBlocks++
	return &Block{index: idx, data: data}, nil
}

func (f *FileStorage) ObtainBlock(blockIndex uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if blockIndex >= f.nrBlocks {
		return nil, BlockIndexInvalid
	}
	data := make([]byte, f.blockSize)
	if _, err := f.backing.ReadAt(data, int64(blockIndex)*int64(f.blockSize)); err != nil && err != io.EOF {
		return nil, StorageInErrorState
	}
	return &Block{index: blockIndex, data: data}, nil
}

func (f *FileStorage) BeginJournaledWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeBegun {
		corrupt("file storage", "BeginJournaledWrite called while a journaled write is already active")
	}
	f.writeBegun = true
	return nil
}

func (f *FileStorage) AbortJournaledWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeBegun = false
}

// CompleteJournaledWrite writes every changed block to the backing
// file. It does not itself call fsync; spec.md §4.1 leaves durability
// policy (when to flush to the physical device) to the caller that
// constructed this Storage. The blocks are written one after another
// with no journal of their own, so the group is not atomic: a crash or
// a failed write part-way through can leave some blocks of the group
// written and others not.
func (f *FileStorage) CompleteJournaledWrite(changedBlocks []*Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.writeBegun {
		corrupt("file storage", "CompleteJournaledWrite called without an active journaled write")
	}
	f.writeBegun = false

	w, err := f.backing.Writable()
	if err != nil {
		return err
	}
	for _, b := range changedBlocks {
		if _, err := w.WriteAt(b.Bytes(), int64(b.Index())*int64(f.blockSize)); err != nil {
			return StorageInErrorState
		}
	}
	return nil
}

// Close releases the backing file, including the advisory lock.
func (f *FileStorage) Close() error {
	return f.backing.Close()
}
