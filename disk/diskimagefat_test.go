package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFATImage builds a 160K single-sided floppy with no BPB, the DOS
// 1.x way: geometry comes from the size table, media byte 0xFE.
func newFATImage(t *testing.T) (*DSKWrapper, FATParams) {

	dsk, err := NewDSKWrapperBin(make([]byte, 163840), "test.img")
	require.NoError(t, err)
	require.Equal(t, DF_FAT, dsk.Format.ID)

	p, err := dsk.FATGetParams()
	require.NoError(t, err)

	// initialize both FAT copies: media byte then EOC fill
	table := make([]byte, p.SectorsPerFAT*p.BytesPerSector)
	table[0] = p.Media
	table[1] = 0xff
	table[2] = 0xff
	require.NoError(t, dsk.FATPutTable(p, table))

	return dsk, p
}

func TestFATDefaultGeometry(t *testing.T) {

	_, p := newFATImage(t)

	assert.Equal(t, 512, p.BytesPerSector)
	assert.Equal(t, 1, p.SectorsPerCluster)
	assert.Equal(t, byte(0xfe), p.Media)
	assert.Equal(t, 1, p.FATStart(0))
	assert.Equal(t, 2, p.FATStart(1))
	assert.Equal(t, 3, p.RootDirStart())
	assert.Equal(t, 4, p.RootDirSectors())
	assert.Equal(t, 7, p.DataStart())
	assert.Equal(t, 313, p.ClusterCount())
}

func TestFATBPBOverridesDefaults(t *testing.T) {

	dsk, err := NewDSKWrapperBin(make([]byte, 368640), "test.img")
	require.NoError(t, err)

	boot := make([]byte, 512)
	boot[11], boot[12] = 0x00, 0x02 // 512 bytes/sector
	boot[13] = 2                    // sectors/cluster
	boot[14] = 1                    // reserved
	boot[16] = 2                    // FATs
	boot[17], boot[18] = 112, 0     // root entries
	boot[19], boot[20] = 0xd0, 0x02 // 720 sectors
	boot[21] = 0xfd
	boot[22] = 2 // sectors per FAT
	require.NoError(t, dsk.PutBlock(0, boot))

	p, err := dsk.FATGetParams()
	require.NoError(t, err)
	assert.Equal(t, 2, p.SectorsPerCluster)
	assert.Equal(t, 720, p.TotalSectors)
	assert.Equal(t, byte(0xfd), p.Media)
	assert.Equal(t, 112, p.RootEntries)
}

func TestFATImplausibleBPBFallsBack(t *testing.T) {

	dsk, err := NewDSKWrapperBin(make([]byte, 163840), "test.img")
	require.NoError(t, err)

	boot := make([]byte, 512)
	boot[11], boot[12] = 0x34, 0x12 // nonsense sector size
	require.NoError(t, dsk.PutBlock(0, boot))

	p, err := dsk.FATGetParams()
	require.NoError(t, err)
	assert.Equal(t, 512, p.BytesPerSector)
	assert.Equal(t, byte(0xfe), p.Media)
}

func TestFATWriteAndRead(t *testing.T) {

	dsk, _ := newFATImage(t)

	data := make([]byte, 1300)
	for i := range data {
		data[i] = byte(i * 5)
	}
	require.NoError(t, dsk.FATWriteFile("", "README.TXT", data))

	fd, err := dsk.FATGetNamedEntry("", "README.TXT")
	require.NoError(t, err)
	assert.Equal(t, "README.TXT", fd.Name())
	assert.Equal(t, 1300, fd.Size())
	assert.NotZero(t, fd.FirstCluster())
	assert.False(t, fd.ModTime().IsZero())
	assert.Equal(t, byte(FATAttrArchive), fd.Attr())

	back, err := dsk.FATReadFile(fd)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestFATChainAccounting(t *testing.T) {

	dsk, p := newFATImage(t)

	free, total, err := dsk.FATFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, p.ClusterCount(), total)
	assert.Equal(t, total, free)

	// 1300 bytes occupy 3 clusters at 512 bytes each
	require.NoError(t, dsk.FATWriteFile("", "A.DAT", make([]byte, 1300)))
	free, _, err = dsk.FATFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, total-3, free)

	require.NoError(t, dsk.FATDeleteFile("", "A.DAT"))
	free, _, err = dsk.FATFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, total, free)

	_, err = dsk.FATGetNamedEntry("", "A.DAT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFATBackupTableFallback(t *testing.T) {

	dsk, p := newFATImage(t)

	require.NoError(t, dsk.FATWriteFile("", "KEEP.DAT", make([]byte, 700)))

	// wreck the primary copy's reserved entries
	bad := make([]byte, 512)
	require.NoError(t, dsk.PutBlock(p.FATStart(0), bad))

	table, copyIdx, err := dsk.FATGetTable(p)
	require.NoError(t, err)
	assert.Equal(t, 1, copyIdx)
	assert.True(t, fatTableValid(table, p.Media))

	// the volume still catalogs and reads through the backup
	fd, err := dsk.FATGetNamedEntry("", "KEEP.DAT")
	require.NoError(t, err)
	back, err := dsk.FATReadFile(fd)
	require.NoError(t, err)
	assert.Len(t, back, 700)

	// wreck the backup too and the volume reports inconsistency
	require.NoError(t, dsk.PutBlock(p.FATStart(1), bad))
	_, _, err = dsk.FATGetTable(p)
	assert.ErrorIs(t, err, ErrVolumeInconsistent)
}

func TestFATReplace(t *testing.T) {

	dsk, _ := newFATImage(t)

	require.NoError(t, dsk.FATWriteFile("", "DOC.TXT", make([]byte, 5000)))
	require.NoError(t, dsk.FATWriteFile("", "DOC.TXT", []byte("short")))

	entries, err := dsk.FATGetCatalog("", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Size())

	free, total, err := dsk.FATFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, total-1, free)
}

func TestFATLockAndRename(t *testing.T) {

	dsk, _ := newFATImage(t)

	require.NoError(t, dsk.FATWriteFile("", "SAFE.COM", []byte{0xcd, 0x20}))
	require.NoError(t, dsk.FATSetLocked("", "SAFE.COM", true))

	fd, err := dsk.FATGetNamedEntry("", "SAFE.COM")
	require.NoError(t, err)
	assert.True(t, fd.IsLocked())

	assert.ErrorIs(t, dsk.FATDeleteFile("", "SAFE.COM"), ErrReadOnly)
	assert.ErrorIs(t, dsk.FATRenameFile("", "SAFE.COM", "GONE.COM"), ErrReadOnly)

	require.NoError(t, dsk.FATSetLocked("", "SAFE.COM", false))
	require.NoError(t, dsk.FATRenameFile("", "SAFE.COM", "OK.COM"))

	_, err = dsk.FATGetNamedEntry("", "OK.COM")
	assert.NoError(t, err)
}

func TestFATCatalogPattern(t *testing.T) {

	dsk, _ := newFATImage(t)

	require.NoError(t, dsk.FATWriteFile("", "ONE.TXT", []byte{1}))
	require.NoError(t, dsk.FATWriteFile("", "TWO.TXT", []byte{2}))
	require.NoError(t, dsk.FATWriteFile("", "RUN.COM", []byte{3}))

	txt, err := dsk.FATGetCatalog("", "*.TXT")
	require.NoError(t, err)
	assert.Len(t, txt, 2)

	all, err := dsk.FATGetCatalog("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFATZeroLengthFile(t *testing.T) {

	dsk, _ := newFATImage(t)

	require.NoError(t, dsk.FATWriteFile("", "EMPTY.TXT", nil))

	fd, err := dsk.FATGetNamedEntry("", "EMPTY.TXT")
	require.NoError(t, err)
	assert.Equal(t, 0, fd.Size())
	assert.Equal(t, 0, fd.FirstCluster())

	back, err := dsk.FATReadFile(fd)
	require.NoError(t, err)
	assert.Empty(t, back)
}
