package afs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"

	"github.com/blocktree/afs/util/bitmap"
)

// archiveMagic tags an export stream so Import can reject foreign
// input before touching the codec (spec.md §3 scope: archives are an
// offline backup format, not a wire protocol).
var archiveMagic = [4]byte{'A', 'F', 'S', '1'}

// Codec selects the block-stream compressor used by Export/Import.
// Grounded on the pack's two general-purpose compressors:
// github.com/pierrec/lz4 (fast, used when export size matters less
// than export time) and github.com/ulikunitz/xz (slower, smaller,
// used for long-term archival).
type Codec byte

const (
	CodecLZ4 Codec = iota
	CodecXZ
)

// ExportHeader is written first in every archive, identifying the
// snapshot independently of the volume's own on-disk Master block.
type ExportHeader struct {
	SnapshotId uuid.UUID
	BlockSize  uint32
	NrBlocks   uint64
	Codec      Codec
}

// Export writes every in-use block of the volume to w as a compressed
// stream, skipping blocks the free list reports as reclaimable (spec.md
// §3 supplemented feature: a full-volume backup/restore path, absent
// from the distilled spec but present throughout the original's
// on-disk format notes).
func (fs *FileSystem) Export(w io.Writer, codec Codec) (ExportHeader, error) {
	fs.requireInited()

	free, err := fs.freeBlockSet()
	if err != nil {
		return ExportHeader{}, err
	}

	hdr := ExportHeader{
		SnapshotId: uuid.New(),
		BlockSize:  fs.blockSize,
		NrBlocks:   fs.storage.NrBlocks(),
		Codec:      codec,
	}
	if err := writeExportHeader(w, hdr); err != nil {
		return ExportHeader{}, err
	}

	cw, finish, err := newCompressWriter(w, codec)
	if err != nil {
		return ExportHeader{}, err
	}

	for i := uint64(0); i < hdr.NrBlocks; i++ {
		isFree, _ := free.IsSet(int(i))
		if isFree {
			continue
		}
		b, err := fs.storage.ObtainBlock(i)
		if err != nil {
			return ExportHeader{}, err
		}
		var idxBuf [8]byte
		binary.LittleEndian.PutUint64(idxBuf[:], i)
		if _, err := cw.Write(idxBuf[:]); err != nil {
			return ExportHeader{}, err
		}
		if _, err := cw.Write(b.Bytes()); err != nil {
			return ExportHeader{}, err
		}
	}
	if err := finish(); err != nil {
		return ExportHeader{}, err
	}
	return hdr, nil
}

// Import reconstructs a volume from an Export stream into storage,
// which must already exist with at least hdr.NrBlocks capacity.
func Import(r io.Reader, storage Storage) (ExportHeader, error) {
	hdr, err := readExportHeader(r)
	if err != nil {
		return ExportHeader{}, err
	}
	if hdr.BlockSize != storage.BlockSize() {
		return ExportHeader{}, UnexpectedBlockKind
	}

	cr, err := newDecompressReader(r, hdr.Codec)
	if err != nil {
		return ExportHeader{}, err
	}

	for storage.NrBlocks() < hdr.NrBlocks {
		if _, err := storage.AddNewBlock(); err != nil {
			return ExportHeader{}, err
		}
	}

	if err := storage.BeginJournaledWrite(); err != nil {
		return ExportHeader{}, err
	}
	var changed []*Block
	for {
		var idxBuf [8]byte
		if _, err := io.ReadFull(cr, idxBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			storage.AbortJournaledWrite()
			return ExportHeader{}, err
		}
		idx := binary.LittleEndian.Uint64(idxBuf[:])
		data := make([]byte, hdr.BlockSize)
		if _, err := io.ReadFull(cr, data); err != nil {
			storage.AbortJournaledWrite()
			return ExportHeader{}, err
		}
		changed = append(changed, &Block{index: idx, data: data})
	}
	if err := storage.CompleteJournaledWrite(changed); err != nil {
		return ExportHeader{}, err
	}
	return hdr, nil
}

// freeBlockSet renders the volume's free list as a bitmap (bit set =
// free), used to skip reclaimable blocks during Export and by
// VerifyFreeList as a diagnostic cross-check.
func (fs *FileSystem) freeBlockSet() (*bitmap.Bitmap, error) {
	nr := fs.storage.NrBlocks()
	bm := bitmap.NewBits(int(nr))

	tail := fs.freeListTailBlock
	for {
		fl := AsFreeListView(tail)
		for _, idx := range fl.Indices() {
			if err := bm.Set(int(idx)); err != nil {
				return nil, err
			}
		}
		prev := fl.PrevBlockIndex()
		if prev == noPrevFreeList {
			break
		}
		b, err := fs.storage.ObtainBlock(prev)
		if err != nil {
			return nil, err
		}
		tail = b
	}
	return bm, nil
}

// VerifyFreeList walks the free list chain and reports how many free
// blocks it holds, panicking via corrupt() on structural inconsistency
// (spec.md §4.1 diagnostic surface; grounded on the original's assorted
// EnsureThrow invariant checks scattered through free-list handling,
// consolidated here into one explicit walk).
func (fs *FileSystem) VerifyFreeList() (uint64, error) {
	fs.requireInited()
	bm, err := fs.freeBlockSet()
	if err != nil {
		return 0, err
	}
	var count uint64
	for i := 0; i < int(fs.storage.NrBlocks()); i++ {
		set, _ := bm.IsSet(i)
		if set {
			count++
		}
	}
	master := AsMasterView(fs.masterBlock)
	tail := AsFreeListView(fs.freeListTailBlock)
	expected := master.NrFullFreeListNodes()*uint64(tail.maxIndices()) + uint64(tail.NrIndices())
	if count != expected {
		corruptBlock("free list", fs.masterBlock, "walked %d free blocks, master accounting says %d", count, expected)
	}
	return count, nil
}

func writeExportHeader(w io.Writer, hdr ExportHeader) error {
	if _, err := w.Write(archiveMagic[:]); err != nil {
		return err
	}
	idBytes, err := hdr.SnapshotId.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(idBytes); err != nil {
		return err
	}
	var rest [13]byte
	binary.LittleEndian.PutUint32(rest[0:4], hdr.BlockSize)
	binary.LittleEndian.PutUint64(rest[4:12], hdr.NrBlocks)
	rest[12] = byte(hdr.Codec)
	_, err = w.Write(rest[:])
	return err
}

func readExportHeader(r io.Reader) (ExportHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return ExportHeader{}, err
	}
	if magic != archiveMagic {
		return ExportHeader{}, fmt.Errorf("afs: not an AFS export stream")
	}
	var idBytes [16]byte
	if _, err := io.ReadFull(r, idBytes[:]); err != nil {
		return ExportHeader{}, err
	}
	id, err := uuid.FromBytes(idBytes[:])
	if err != nil {
		return ExportHeader{}, err
	}
	var rest [13]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return ExportHeader{}, err
	}
	return ExportHeader{
		SnapshotId: id,
		BlockSize:  binary.LittleEndian.Uint32(rest[0:4]),
		NrBlocks:   binary.LittleEndian.Uint64(rest[4:12]),
		Codec:      Codec(rest[12]),
	}, nil
}

func newCompressWriter(w io.Writer, codec Codec) (io.Writer, func() error, error) {
	switch codec {
	case CodecLZ4:
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	case CodecXZ:
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("afs: unknown codec %d", codec)
	}
}

func newDecompressReader(r io.Reader, codec Codec) (io.Reader, error) {
	switch codec {
	case CodecLZ4:
		return bufio.NewReader(lz4.NewReader(r)), nil
	case CodecXZ:
		zr, err := xz.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, err
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("afs: unknown codec %d", codec)
	}
}
