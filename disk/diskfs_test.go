package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFamilyOrder(t *testing.T) {

	assert.Equal(t, FamilyAppleDOS, DetectFamily(newDOSImage(t)))
	assert.Equal(t, FamilyProDOS, DetectFamily(newProDOSImage(t)))
	assert.Equal(t, FamilyPascal, DetectFamily(newPascalImage(t)))

	cpm := newCPMImage(t)
	require.NoError(t, cpm.CPMWriteFile(0, "STAT.COM", make([]byte, 256)))
	assert.Equal(t, FamilyCPM, DetectFamily(cpm))

	fat, _ := newFATImage(t)
	assert.Equal(t, FamilyFAT, DetectFamily(fat))
}

func TestNewDiskFSUnknownVolume(t *testing.T) {

	// 140K of zeros carries no volume structures of any family
	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "blank.dsk")
	require.NoError(t, err)

	_, err = NewDiskFS(dsk)
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestDiskFSAppleDOS(t *testing.T) {

	fs, err := NewDiskFS(newDOSImage(t))
	require.NoError(t, err)
	require.Equal(t, FamilyAppleDOS, fs.Family())

	prog := make([]byte, 400)
	for i := range prog {
		prog[i] = byte(i * 3)
	}
	require.NoError(t, fs.WriteFile("", "HELLO", "BAS", prog, -1))

	rows, err := fs.Catalog("", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HELLO", rows[0].Name)
	assert.Equal(t, "BAS", rows[0].Kind)
	assert.Equal(t, 3*STD_BYTES_PER_SECTOR, rows[0].Size)
	assert.Equal(t, -1, rows[0].User)

	entry, body, err := fs.ReadFile("", "HELLO")
	require.NoError(t, err)
	assert.Equal(t, 400, entry.Size)
	assert.Equal(t, 0x801, entry.AuxType)
	assert.Equal(t, prog, body)

	// the volume is flat
	_, err = fs.Catalog("SUB", "")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, fs.Mkdir("", "SUB"), ErrUnsupported)

	lock := true
	require.NoError(t, fs.SetAttributes("", "HELLO", AttributeSet{Locked: &lock}))
	rows, err = fs.Catalog("", "")
	require.NoError(t, err)
	assert.True(t, rows[0].Locked)

	hide := true
	err = fs.SetAttributes("", "HELLO", AttributeSet{Hidden: &hide})
	assert.ErrorIs(t, err, ErrUnsupported)

	st, err := fs.Stats()
	require.NoError(t, err)
	assert.Equal(t, "DOS VOLUME 254", st.VolumeName)
	assert.Equal(t, 35*16, st.TotalUnits)
	assert.Equal(t, STD_BYTES_PER_SECTOR, st.UnitSize)
	assert.Equal(t, 1, st.Files)
}

func TestDiskFSProDOSDirectories(t *testing.T) {

	fs, err := NewDiskFS(newProDOSImage(t))
	require.NoError(t, err)
	require.Equal(t, FamilyProDOS, fs.Family())

	require.NoError(t, fs.Mkdir("", "SUB"))

	note := []byte("meeting at noon\r")
	require.NoError(t, fs.WriteFile("SUB", "NOTE", "TXT", note, -1))

	root, err := fs.Catalog("", "")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.True(t, root[0].Directory)
	assert.Equal(t, "SUB", root[0].Name)

	sub, err := fs.Catalog("SUB", "")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "NOTE", sub[0].Name)

	entry, body, err := fs.ReadFile("SUB", "NOTE")
	require.NoError(t, err)
	assert.Equal(t, "TXT", entry.Kind)
	assert.Equal(t, note, body)

	// a directory is not readable as a file
	_, _, err = fs.ReadFile("", "SUB")
	assert.ErrorIs(t, err, ErrNotAFile)

	// deleting the directory takes its contents with it
	require.NoError(t, fs.Delete("", "SUB"))
	root, err = fs.Catalog("", "")
	require.NoError(t, err)
	assert.Empty(t, root)

	st, err := fs.Stats()
	require.NoError(t, err)
	assert.Equal(t, "TESTVOL", st.VolumeName)
	assert.Equal(t, PRODOS_BLOCKS_PER_DISK, st.TotalUnits)
	assert.Equal(t, 512, st.UnitSize)
}

func TestDiskFSPascal(t *testing.T) {

	fs, err := NewDiskFS(newPascalImage(t))
	require.NoError(t, err)
	require.Equal(t, FamilyPascal, fs.Family())

	require.NoError(t, fs.WriteFile("", "MAIN.PAS", "PTX", make([]byte, 900), -1))

	rows, err := fs.Catalog("", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PTX", rows[0].Kind)
	assert.Equal(t, 900, rows[0].Size)

	// the type word is rewritable even without access flags
	require.NoError(t, fs.Retype("", "MAIN.PAS", "PDA"))
	rows, err = fs.Catalog("", "")
	require.NoError(t, err)
	assert.Equal(t, "PDA", rows[0].Kind)

	lock := true
	err = fs.SetAttributes("", "MAIN.PAS", AttributeSet{Locked: &lock})
	assert.ErrorIs(t, err, ErrUnsupported)

	st, err := fs.Stats()
	require.NoError(t, err)
	assert.Equal(t, "PASVOL", st.VolumeName)
	assert.Equal(t, PRODOS_BLOCKS_PER_DISK, st.TotalUnits)
	assert.Equal(t, PASCAL_BLOCK_SIZE, st.UnitSize)
	assert.Greater(t, st.LargestFree, 0)
	assert.Equal(t, 1, st.Files)
}

func TestDiskFSCPMUserPaths(t *testing.T) {

	dsk := newCPMImage(t)
	require.NoError(t, dsk.CPMWriteFile(0, "BOOT.COM", make([]byte, 128)))

	fs, err := NewDiskFS(dsk)
	require.NoError(t, err)
	require.Equal(t, FamilyCPM, fs.Family())

	// a path is a user area, with or without the colon
	require.NoError(t, fs.WriteFile("1:", "WORK.TXT", "", []byte("draft"), -1))

	one, err := fs.Catalog("1", "")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 1, one[0].User)
	assert.Equal(t, "TXT", one[0].Kind)

	// an empty path catalogs every user area
	all, err := fs.Catalog("", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, body, err := fs.ReadFile("1:", "WORK.TXT")
	require.NoError(t, err)
	assert.Equal(t, []byte("draft"), body[:5])

	_, err = fs.Catalog("notanumber", "")
	assert.ErrorIs(t, err, ErrOutOfRange)

	// the type lives in the name
	err = fs.Retype("1", "WORK.TXT", "DAT")
	assert.ErrorIs(t, err, ErrUnsupported)

	sys := true
	require.NoError(t, fs.SetAttributes("1", "WORK.TXT", AttributeSet{System: &sys}))
	f, err := dsk.CPMGetNamedEntry(1, "WORK.TXT")
	require.NoError(t, err)
	require.NotEmpty(t, f.Extents)
	assert.True(t, f.Extents[0].IsSystem())

	st, err := fs.Stats()
	require.NoError(t, err)
	assert.Equal(t, CPM_TOTAL_BLOCKS, st.TotalUnits)
	assert.Equal(t, CPM_BLOCK_SIZE, st.UnitSize)
	assert.Equal(t, 2, st.Files)
}

func TestDiskFSFAT(t *testing.T) {

	dsk, p := newFATImage(t)
	fs, err := NewDiskFS(dsk)
	require.NoError(t, err)
	require.Equal(t, FamilyFAT, fs.Family())

	require.NoError(t, fs.WriteFile("", "README.TXT", "", []byte("hello"), -1))

	rows, err := fs.Catalog("", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TXT", rows[0].Kind)
	assert.Equal(t, 5, rows[0].Size)

	err = fs.Retype("", "README.TXT", "DAT")
	assert.ErrorIs(t, err, ErrUnsupported)

	hide, sys := true, true
	require.NoError(t, fs.SetAttributes("", "README.TXT", AttributeSet{Hidden: &hide, System: &sys}))
	fd, err := dsk.FATGetNamedEntry("", "README.TXT")
	require.NoError(t, err)
	assert.NotZero(t, fd.Attr()&FATAttrHidden)
	assert.NotZero(t, fd.Attr()&FATAttrSystem)

	st, err := fs.Stats()
	require.NoError(t, err)
	assert.Equal(t, p.ClusterCount(), st.TotalUnits)
	assert.Equal(t, p.SectorsPerCluster*p.BytesPerSector, st.UnitSize)
	assert.Equal(t, 1, st.Files)
}

func TestDiskFSWriteProtect(t *testing.T) {

	fs, err := NewDiskFS(newDOSImage(t))
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("", "KEEP", "BIN", []byte{1}, 0x300))

	fs.Wrapper().WriteProtected = true

	lock := true
	assert.ErrorIs(t, fs.WriteFile("", "MORE", "BIN", []byte{2}, 0x300), ErrReadOnly)
	assert.ErrorIs(t, fs.Delete("", "KEEP"), ErrReadOnly)
	assert.ErrorIs(t, fs.Rename("", "KEEP", "LOSE"), ErrReadOnly)
	assert.ErrorIs(t, fs.Retype("", "KEEP", "TXT"), ErrReadOnly)
	assert.ErrorIs(t, fs.SetAttributes("", "KEEP", AttributeSet{Locked: &lock}), ErrReadOnly)
	assert.ErrorIs(t, fs.Mkdir("", "SUB"), ErrReadOnly)

	// reads still pass
	_, body, err := fs.ReadFile("", "KEEP")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, body)
}
