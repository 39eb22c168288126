package afs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T) *FileSystem {
	t.Helper()
	storage := NewMemStorage(512, 0)
	fs := New(storage)
	require.NoError(t, fs.Init(Params{}, nil, 1))
	return fs
}

func TestInitBlankVolume(t *testing.T) {
	fs := newTestFs(t)
	st, err := fs.Stat(Root)
	require.NoError(t, err)
	require.Equal(t, typeDir, st.Type)
	require.EqualValues(t, 0, st.NrEntries)
}

func TestDirCreateAndReadDir(t *testing.T) {
	fs := newTestFs(t)
	sub, err := fs.DirCreate(Root, "sub", nil, 2)
	require.NoError(t, err)
	require.False(t, sub.IsRoot())

	_, err = fs.DirCreate(Root, "sub", nil, 3)
	require.ErrorIs(t, err, NameExists)

	entries, err := fs.ReadDir(Root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sub", entries[0].Name)

	st, err := fs.Stat(Root)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.NrEntries)
}

func TestFileCreateMiniWriteRead(t *testing.T) {
	fs := newTestFs(t)
	id, err := fs.FileCreate(Root, "hello.txt", []byte("m"), 1)
	require.NoError(t, err)

	require.NoError(t, fs.FileWrite(id, 0, []byte("hello, world"), 2))

	buf := make([]byte, 64)
	n, err := fs.FileRead(id, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(buf[:n]))

	st, err := fs.Stat(id)
	require.NoError(t, err)
	require.EqualValues(t, len("hello, world"), st.SizeBytes)
}

func TestFileSetSizeGrowZeroFillsAndShrinkReverts(t *testing.T) {
	fs := newTestFs(t)
	id, err := fs.FileCreate(Root, "big.bin", nil, 1)
	require.NoError(t, err)

	const bigSize = 20000 // spans many 511-byte data blocks, forcing leaf/branch growth
	actual, err := fs.FileSetSize(id, bigSize, 2)
	require.NoError(t, err)
	require.EqualValues(t, bigSize, actual)

	st, err := fs.Stat(id)
	require.NoError(t, err)
	require.EqualValues(t, bigSize, st.SizeBytes)

	buf := make([]byte, bigSize)
	n, err := fs.FileRead(id, 0, buf)
	require.NoError(t, err)
	require.Equal(t, bigSize, n)
	for i, b := range buf {
		require.Equalf(t, byte(0), b, "byte %d should be zero-filled", i)
	}

	require.NoError(t, fs.FileWrite(id, 100, []byte("marker"), 3))
	actual, err = fs.FileSetSize(id, 0, 4)
	require.NoError(t, err)
	require.EqualValues(t, 0, actual)

	st, err = fs.Stat(id)
	require.NoError(t, err)
	require.EqualValues(t, 0, st.SizeBytes)

	actual, err = fs.FileSetSize(id, 5, 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, actual)
	buf2 := make([]byte, 5)
	n, err = fs.FileRead(id, 0, buf2)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	for _, b := range buf2 {
		require.Equal(t, byte(0), b)
	}
}

func TestManyDirEntriesGrowsTreeHeight(t *testing.T) {
	fs := newTestFs(t)
	const n = 1000
	for i := 0; i < n; i++ {
		_, err := fs.DirCreate(Root, indexedName(i), nil, uint64(i))
		require.NoError(t, err)
	}

	st, err := fs.Stat(Root)
	require.NoError(t, err)
	require.EqualValues(t, n, st.NrEntries)

	entries, err := fs.ReadDir(Root)
	require.NoError(t, err)
	require.Len(t, entries, n)

	top, err := fs.getTopBlock(nil, Root, typeDir)
	require.NoError(t, err)
	dv := AsDirNodeView(top)
	require.Greater(t, dv.Level(), 0, "1000 entries in a 512-byte-block tree should not fit in one leaf")

	for i := 0; i < n; i += 97 {
		id, typ, err := fs.CrackPath(Root, indexedName(i))
		require.NoError(t, err)
		require.Equal(t, typeDir, typ)
		require.False(t, id.IsNone())
	}
}

func TestDeleteRequiresEmpty(t *testing.T) {
	fs := newTestFs(t)
	_, err := fs.DirCreate(Root, "d", nil, 1)
	require.NoError(t, err)

	sub, _, err := fs.CrackPath(Root, "d")
	require.NoError(t, err)
	subFileId, err := fs.FileCreate(sub, "f2", nil, 1)
	require.NoError(t, err)

	err = fs.Delete(Root, "d", 2)
	require.ErrorIs(t, err, DirNotEmpty)

	require.NoError(t, fs.Delete(sub, "f2", 2))
	_ = subFileId
}

func TestDeleteTruncatesNonEmptyFile(t *testing.T) {
	fs := newTestFs(t)
	id, err := fs.FileCreate(Root, "big.bin", nil, 1)
	require.NoError(t, err)

	_, err = fs.FileSetSize(id, 20000, 2)
	require.NoError(t, err)

	// Delete on a non-empty file truncates it to zero and retries,
	// rather than failing with FileNotEmpty.
	require.NoError(t, fs.Delete(Root, "big.bin", 3))

	_, _, err = fs.CrackPath(Root, "big.bin")
	require.ErrorIs(t, err, NameNotInDir)

	free, err := fs.VerifyFreeList()
	require.NoError(t, err)
	require.Greater(t, free, uint64(0))
}

func TestMoveRejectsCycle(t *testing.T) {
	fs := newTestFs(t)
	a, err := fs.DirCreate(Root, "a", nil, 1)
	require.NoError(t, err)
	_, err = fs.DirCreate(a, "b", nil, 1)
	require.NoError(t, err)
	b, _, err := fs.CrackPath(Root, "a/b")
	require.NoError(t, err)

	err = fs.Move(Root, "a", b, "a", 2)
	require.ErrorIs(t, err, MoveDestInvalid)
}

func TestCrashDuringCompleteLeavesNoPartialWrite(t *testing.T) {
	storage := NewMemStorage(512, 0)
	fs := New(storage)
	require.NoError(t, fs.Init(Params{}, nil, 1))

	_, err := fs.DirCreate(Root, "before-crash", nil, 1)
	require.NoError(t, err)

	storage.FailCompleteAt = 2
	_, err = fs.DirCreate(Root, "during-crash", nil, 2)
	require.Error(t, err)

	// Re-open a fresh façade over the same storage: the aborted write's
	// changes must not be visible (spec.md §8 crash-consistency property).
	fs2 := New(storage)
	require.NoError(t, fs2.Init(Params{}, nil, 1))
	entries, err := fs2.ReadDir(Root)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["before-crash"])
	require.False(t, names["during-crash"])
}

func indexedName(i int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := []byte{digits[i/1000%10], digits[i/100%10], digits[i/10%10], digits[i%10]}
	return "n" + string(b)
}
