package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCPMImage formats an in-memory Softcard volume: every directory slot
// carries the deleted marker.
func newCPMImage(t *testing.T) *DSKWrapper {

	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "test.dsk")
	require.NoError(t, err)

	dsk.Format = GetDiskFormat(DF_CPM)
	dsk.Layout = SectorOrderDOS33

	empty := make([]byte, CPM_BLOCK_SIZE)
	for i := range empty {
		empty[i] = CPM_DELETED_USER
	}
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		require.NoError(t, dsk.CPMPutBlock(b, empty))
	}

	return dsk
}

func TestCPMDetect(t *testing.T) {

	dsk := newCPMImage(t)

	// a directory of nothing but deleted slots is not yet proof
	assert.False(t, dsk.IsCPM())

	require.NoError(t, dsk.CPMWriteFile(0, "STAT.COM", make([]byte, 512)))
	assert.True(t, dsk.IsCPM())
}

func TestCPMWriteAndRead(t *testing.T) {

	dsk := newCPMImage(t)

	// 5000 bytes round up to 40 records
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 11)
	}
	require.NoError(t, dsk.CPMWriteFile(0, "PIP.COM", data))

	f, err := dsk.CPMGetNamedEntry(0, "PIP.COM")
	require.NoError(t, err)
	assert.Equal(t, "PIP.COM", f.FileName)
	assert.Equal(t, 0, f.UserNumber)
	assert.Equal(t, 5120, f.Size())

	back, err := dsk.CPMReadFile(f)
	require.NoError(t, err)
	require.Len(t, back, 5120)
	assert.Equal(t, data, back[:5000])
	for _, v := range back[5000:] {
		assert.Equal(t, byte(0), v)
	}
}

func TestCPMMultiExtentFile(t *testing.T) {

	dsk := newCPMImage(t)

	// 20K crosses the 16K extent boundary
	data := make([]byte, 20*1024)
	for i := range data {
		data[i] = byte(i >> 3)
	}
	require.NoError(t, dsk.CPMWriteFile(2, "BIG.DAT", data))

	f, err := dsk.CPMGetNamedEntry(2, "BIG.DAT")
	require.NoError(t, err)
	assert.Len(t, f.Extents, 2)
	assert.Equal(t, len(data), f.Size())

	back, err := dsk.CPMReadFile(f)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	// the catalog merges the extents into one row
	files, err := dsk.CPMGetCatalog(2, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestCPMUserScoping(t *testing.T) {

	dsk := newCPMImage(t)

	require.NoError(t, dsk.CPMWriteFile(0, "COMMON.TXT", []byte("zero")))
	require.NoError(t, dsk.CPMWriteFile(3, "COMMON.TXT", []byte("three")))

	all, err := dsk.CPMGetCatalog(-1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	three, err := dsk.CPMGetCatalog(3, "")
	require.NoError(t, err)
	require.Len(t, three, 1)
	assert.Equal(t, 3, three[0].UserNumber)

	// deleting for one user leaves the other's file alone
	require.NoError(t, dsk.CPMDeleteFile(0, "COMMON.TXT"))
	_, err = dsk.CPMGetNamedEntry(0, "COMMON.TXT")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = dsk.CPMGetNamedEntry(3, "COMMON.TXT")
	assert.NoError(t, err)
}

func TestCPMCatalogPattern(t *testing.T) {

	dsk := newCPMImage(t)

	require.NoError(t, dsk.CPMWriteFile(0, "STAT.COM", []byte{1}))
	require.NoError(t, dsk.CPMWriteFile(0, "PIP.COM", []byte{2}))
	require.NoError(t, dsk.CPMWriteFile(0, "README.TXT", []byte{3}))

	coms, err := dsk.CPMGetCatalog(0, "*.COM")
	require.NoError(t, err)
	assert.Len(t, coms, 2)
}

func TestCPMLock(t *testing.T) {

	dsk := newCPMImage(t)

	require.NoError(t, dsk.CPMWriteFile(0, "SAFE.DAT", []byte{1, 2, 3}))
	require.NoError(t, dsk.CPMSetLocked(0, "SAFE.DAT", true))

	f, err := dsk.CPMGetNamedEntry(0, "SAFE.DAT")
	require.NoError(t, err)
	assert.True(t, f.IsLocked())

	assert.ErrorIs(t, dsk.CPMDeleteFile(0, "SAFE.DAT"), ErrReadOnly)
	assert.ErrorIs(t, dsk.CPMRenameFile(0, "SAFE.DAT", "OTHER.DAT"), ErrReadOnly)

	require.NoError(t, dsk.CPMSetLocked(0, "SAFE.DAT", false))
	assert.NoError(t, dsk.CPMDeleteFile(0, "SAFE.DAT"))
}

func TestCPMRename(t *testing.T) {

	dsk := newCPMImage(t)

	require.NoError(t, dsk.CPMWriteFile(0, "OLD.TXT", []byte("x")))
	require.NoError(t, dsk.CPMWriteFile(0, "TAKEN.TXT", []byte("y")))

	assert.ErrorIs(t, dsk.CPMRenameFile(0, "OLD.TXT", "TAKEN.TXT"), ErrNameConflict)

	require.NoError(t, dsk.CPMRenameFile(0, "OLD.TXT", "NEW.TXT"))
	_, err := dsk.CPMGetNamedEntry(0, "NEW.TXT")
	assert.NoError(t, err)
	_, err = dsk.CPMGetNamedEntry(0, "OLD.TXT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCPMFreeBlocks(t *testing.T) {

	dsk := newCPMImage(t)

	free, err := dsk.CPMFreeBlocks()
	require.NoError(t, err)
	assert.Equal(t, CPM_TOTAL_BLOCKS-CPM_DIRECTORY_BLOCKS, free)

	require.NoError(t, dsk.CPMWriteFile(0, "FOUR.DAT", make([]byte, 4*CPM_BLOCK_SIZE)))

	free, err = dsk.CPMFreeBlocks()
	require.NoError(t, err)
	assert.Equal(t, CPM_TOTAL_BLOCKS-CPM_DIRECTORY_BLOCKS-4, free)
}

func TestCPMBadNames(t *testing.T) {

	dsk := newCPMImage(t)

	err := dsk.CPMWriteFile(0, "WAYTOOLONGNAME.TXT", []byte{1})
	assert.ErrorIs(t, err, ErrInvalidName)

	err = dsk.CPMWriteFile(99, "OK.TXT", []byte{1})
	assert.ErrorIs(t, err, ErrInvalidType)
}
