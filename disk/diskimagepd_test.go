package disk

import (
	"bytes"
	"testing"
)

// formatProDOS lays down a volume header at block 2 and a bitmap at
// block 6 with blocks 0-6 in use.
func formatProDOS(t *testing.T, dsk *DSKWrapper, volname string, totalBlocks int) {

	vdh := &VDH{}
	vdh.SetData(make([]byte, PRODOS_ENTRY_SIZE), 2, 4)
	vdh.SetStorageType(StorageType_Volume_Header)
	vdh.SetName(volname)
	vdh.SetEntryLength(PRODOS_ENTRY_SIZE)
	vdh.SetEntriesPerBlock(13)
	vdh.SetFileCount(0)
	vdh.Data[35] = 6 // bitmap pointer
	vdh.SetTotalBlocks(totalBlocks)
	if err := vdh.Publish(dsk); err != nil {
		t.Fatal(err)
	}

	bm := make([]byte, 512)
	bm[0] = 0x01 // blocks 0-6 used, 7 free
	for i := 1; i < (totalBlocks+7)/8; i++ {
		bm[i] = 0xff
	}
	if err := dsk.PRODOSWrite(6, bm); err != nil {
		t.Fatal(err)
	}
}

func newProDOSImage(t *testing.T) *DSKWrapper {

	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "test.po")
	if err != nil {
		t.Fatal(err)
	}
	dsk.Format = GetDiskFormat(DF_PRODOS)
	dsk.Layout = SectorOrderProDOS
	formatProDOS(t, dsk, "TESTVOL", PRODOS_BLOCKS_PER_DISK)
	return dsk
}

func TestProDOSDetect(t *testing.T) {

	dsk := newProDOSImage(t)

	ok, format, layout := dsk.IsProDOS()
	if !ok {
		t.Fatal("formatted volume not detected")
	}
	if format.ID != DF_PRODOS || layout != SectorOrderProDOS {
		t.Errorf("format %s layout %s", format, layout)
	}

	vdh, err := dsk.PRODOSGetVDH(2)
	if err != nil {
		t.Fatal(err)
	}
	if vdh.GetVolumeName() != "TESTVOL" {
		t.Errorf("volume name %q", vdh.GetVolumeName())
	}
	if vdh.GetTotalBlocks() != 280 {
		t.Errorf("total blocks %d", vdh.GetTotalBlocks())
	}
}

func TestProDOSSeedling(t *testing.T) {

	dsk := newProDOSImage(t)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	if err := dsk.PRODOSWriteFile("", "SEED", FileType_PD_BIN, data, 0x2000); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.PRODOSGetNamedEntry("", "SEED")
	if err != nil {
		t.Fatal(err)
	}
	if fd.GetStorageType() != StorageType_Seedling {
		t.Errorf("storage type %d", fd.GetStorageType())
	}
	if fd.TotalBlocks() != 1 {
		t.Errorf("total blocks %d", fd.TotalBlocks())
	}

	eof, aux, body, err := dsk.PRODOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	if eof != 300 || aux != 0x2000 {
		t.Errorf("eof %d aux %.4x", eof, aux)
	}
	if !bytes.Equal(body, data) {
		t.Error("read back differs")
	}
}

func TestProDOSSapling(t *testing.T) {

	dsk := newProDOSImage(t)

	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := dsk.PRODOSWriteFile("", "SAP", FileType_PD_TXT, data, 0); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.PRODOSGetNamedEntry("", "SAP")
	if err != nil {
		t.Fatal(err)
	}
	if fd.GetStorageType() != StorageType_Sapling {
		t.Errorf("storage type %d", fd.GetStorageType())
	}
	// 4 data blocks plus the index
	if fd.TotalBlocks() != 5 {
		t.Errorf("total blocks %d", fd.TotalBlocks())
	}

	_, _, body, err := dsk.PRODOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, data) {
		t.Error("read back differs")
	}
}

func TestProDOSSparseRead(t *testing.T) {

	dsk := newProDOSImage(t)

	data := make([]byte, 2000)
	for i := range data {
		data[i] = 0xee
	}
	if err := dsk.PRODOSWriteFile("", "SPARSE", FileType_PD_BIN, data, 0); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.PRODOSGetNamedEntry("", "SPARSE")
	if err != nil {
		t.Fatal(err)
	}

	// punch a hole: zero the second index pointer
	index, err := dsk.GetBlock(fd.IndexBlock())
	if err != nil {
		t.Fatal(err)
	}
	index[1] = 0
	index[1+256] = 0
	if err := dsk.PRODOSWrite(fd.IndexBlock(), index); err != nil {
		t.Fatal(err)
	}

	_, _, body, err := dsk.PRODOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 2000 {
		t.Fatalf("length %d", len(body))
	}
	for i := 512; i < 1024; i++ {
		if body[i] != 0 {
			t.Fatal("hole did not read back as zero fill")
		}
	}
	if body[0] != 0xee || body[1024] != 0xee {
		t.Error("data outside the hole was disturbed")
	}
}

func TestProDOSTree800KB(t *testing.T) {

	dsk, err := NewDSKWrapperBin(make([]byte, PRODOS_800KB_DISK_BYTES), "test800.po")
	if err != nil {
		t.Fatal(err)
	}
	formatProDOS(t, dsk, "BIGVOL", PRODOS_800KB_BLOCKS)

	// 140K crosses the 256 block sapling limit
	data := make([]byte, 143360)
	for i := range data {
		data[i] = byte(i >> 7)
	}
	if err := dsk.PRODOSWriteFile("", "TREE", FileType_PD_BIN, data, 0); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.PRODOSGetNamedEntry("", "TREE")
	if err != nil {
		t.Fatal(err)
	}
	if fd.GetStorageType() != StorageType_Tree {
		t.Errorf("storage type %d", fd.GetStorageType())
	}
	// 280 data blocks, 2 index blocks, 1 master
	if fd.TotalBlocks() != 283 {
		t.Errorf("total blocks %d", fd.TotalBlocks())
	}

	_, _, body, err := dsk.PRODOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, data) {
		t.Error("read back differs")
	}
}

func TestProDOSDeleteFreesBlocks(t *testing.T) {

	dsk := newProDOSImage(t)

	before, err := dsk.PRODOSFreeBlockCount()
	if err != nil {
		t.Fatal(err)
	}
	if before != 273 {
		t.Errorf("initial free %d", before)
	}

	if err := dsk.PRODOSWriteFile("", "SAP", FileType_PD_BIN, make([]byte, 2000), 0); err != nil {
		t.Fatal(err)
	}
	free, _ := dsk.PRODOSFreeBlockCount()
	if free != before-5 {
		t.Errorf("free %d after write, want %d", free, before-5)
	}

	if err := dsk.PRODOSDeleteFile("", "SAP"); err != nil {
		t.Fatal(err)
	}
	free, _ = dsk.PRODOSFreeBlockCount()
	if free != before {
		t.Errorf("free %d after delete, want %d", free, before)
	}

	vdh, _ := dsk.PRODOSGetVDH(2)
	if vdh.GetFileCount() != 0 {
		t.Errorf("file count %d", vdh.GetFileCount())
	}
}

func TestProDOSLock(t *testing.T) {

	dsk := newProDOSImage(t)

	if err := dsk.PRODOSWriteFile("", "KEEP", FileType_PD_BIN, []byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}
	if err := dsk.PRODOSSetLocked("", "KEEP", true); err != nil {
		t.Fatal(err)
	}

	fd, _ := dsk.PRODOSGetNamedEntry("", "KEEP")
	if !fd.IsLocked() {
		t.Fatal("lock did not stick")
	}

	if err := dsk.PRODOSDeleteFile("", "KEEP"); err != ErrReadOnly {
		t.Errorf("delete of locked file: %v", err)
	}
	if err := dsk.PRODOSSetType("", "KEEP", FileType_PD_TXT, -1); err != ErrReadOnly {
		t.Errorf("retype of locked file: %v", err)
	}

	if err := dsk.PRODOSSetLocked("", "KEEP", false); err != nil {
		t.Fatal(err)
	}
	if err := dsk.PRODOSDeleteFile("", "KEEP"); err != nil {
		t.Errorf("delete after unlock: %v", err)
	}
}

func TestProDOSSetTypeKeepsAux(t *testing.T) {

	dsk := newProDOSImage(t)

	dsk.PRODOSWriteFile("", "DATA", FileType_PD_BIN, []byte{1}, 0x4000)

	if err := dsk.PRODOSSetType("", "DATA", FileType_PD_SYS, -1); err != nil {
		t.Fatal(err)
	}
	fd, _ := dsk.PRODOSGetNamedEntry("", "DATA")
	if fd.Type() != FileType_PD_SYS {
		t.Errorf("type %s", fd.Type())
	}
	if fd.AuxType() != 0x4000 {
		t.Errorf("aux %.4x after keep", fd.AuxType())
	}

	if err := dsk.PRODOSSetType("", "DATA", FileType_PD_BIN, 0x300); err != nil {
		t.Fatal(err)
	}
	fd, _ = dsk.PRODOSGetNamedEntry("", "DATA")
	if fd.AuxType() != 0x300 {
		t.Errorf("aux %.4x after set", fd.AuxType())
	}
}

func TestProDOSSubdirectory(t *testing.T) {

	dsk := newProDOSImage(t)

	if err := dsk.PRODOSCreateDirectory("", "SUB"); err != nil {
		t.Fatal(err)
	}
	if err := dsk.PRODOSCreateDirectory("", "SUB"); err != ErrNameConflict {
		t.Errorf("duplicate mkdir: %v", err)
	}

	payload := []byte("inside the subdirectory")
	if err := dsk.PRODOSWriteFile("SUB", "NOTE", FileType_PD_TXT, payload, 0); err != nil {
		t.Fatal(err)
	}

	_, files, err := dsk.PRODOSGetCatalogPathed(2, "SUB", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name() != "NOTE" {
		t.Fatalf("subdir catalog %d entries", len(files))
	}

	_, _, body, err := dsk.PRODOSReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, payload) {
		t.Error("read back differs")
	}

	// root lists the directory itself
	_, rootFiles, err := dsk.PRODOSGetCatalogPathed(2, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rootFiles) != 1 || rootFiles[0].Type() != FileType_PD_Directory {
		t.Fatalf("root catalog %d entries", len(rootFiles))
	}

	// deleting the directory removes its contents too
	if err := dsk.PRODOSDeleteDirectory("", "SUB"); err != nil {
		t.Fatal(err)
	}
	_, rootFiles, _ = dsk.PRODOSGetCatalogPathed(2, "", "")
	if len(rootFiles) != 0 {
		t.Errorf("root still lists %d entries", len(rootFiles))
	}
}

func TestProDOSRename(t *testing.T) {

	dsk := newProDOSImage(t)

	dsk.PRODOSWriteFile("", "ONE", FileType_PD_BIN, []byte{1}, 0)
	dsk.PRODOSWriteFile("", "TWO", FileType_PD_BIN, []byte{2}, 0)

	if err := dsk.PRODOSRenameFile("", "ONE", "TWO"); err != ErrNameConflict {
		t.Errorf("rename onto existing: %v", err)
	}
	if err := dsk.PRODOSRenameFile("", "ONE", "THREE"); err != nil {
		t.Fatal(err)
	}
	if _, err := dsk.PRODOSGetNamedEntry("", "THREE"); err != nil {
		t.Error("renamed file not found")
	}
}
