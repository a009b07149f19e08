package disk

import (
	"bytes"
	"testing"
)

// newDOSImage formats an in-memory 16-sector DOS 3.3 volume: VTOC at
// T17 S0, catalog chain T17 S15..S1, tracks 3-34 free except the
// catalog track.
func newDOSImage(t *testing.T) *DSKWrapper {

	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "test.dsk")
	if err != nil {
		t.Fatal(err)
	}

	vtoc := &VTOC{}
	vtoc.SetData(make([]byte, 256), 17, 0)
	vtoc.Data[1] = 17 // catalog start
	vtoc.Data[2] = 15
	vtoc.Data[3] = 3 // DOS version
	vtoc.Data[6] = 254
	vtoc.Data[0x27] = 122
	vtoc.Data[0x31] = 1
	vtoc.Data[0x34] = 35
	vtoc.Data[0x35] = 16
	vtoc.Data[0x36] = 0
	vtoc.Data[0x37] = 1
	for track := 3; track < 35; track++ {
		if track == 17 {
			continue
		}
		for s := 0; s < 16; s++ {
			vtoc.SetTSFree(track, s, true)
		}
	}
	if err := vtoc.Publish(dsk); err != nil {
		t.Fatal(err)
	}

	for s := 15; s >= 1; s-- {
		buffer := make([]byte, 256)
		if s > 1 {
			buffer[1] = 17
			buffer[2] = byte(s - 1)
		}
		if err := dsk.Seek(17, s); err != nil {
			t.Fatal(err)
		}
		dsk.Write(buffer)
	}

	return dsk
}

func TestAppleDOSDetectEmptyVolume(t *testing.T) {

	dsk := newDOSImage(t)

	ok, format, layout := dsk.IsAppleDOS()
	if !ok {
		t.Fatal("formatted volume not detected")
	}
	if format.ID != DF_DOS_SECTORS_16 {
		t.Errorf("wrong format %s", format)
	}
	if layout != SectorOrderDOS33 {
		t.Errorf("wrong layout %s", layout)
	}

	vtoc, files, err := dsk.AppleDOSGetCatalog("*")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("empty volume lists %d files", len(files))
	}
	if vtoc.GetVolumeID() != 254 {
		t.Errorf("volume id %d", vtoc.GetVolumeID())
	}
}

func TestAppleDOSDetectRejectsGarbage(t *testing.T) {

	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "blank.dsk")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _, _ := dsk.IsAppleDOS(); ok {
		t.Error("all-zero image detected as DOS")
	}
}

func TestAppleDOSProgramWriteAndRead(t *testing.T) {

	dsk := newDOSImage(t)

	prog := make([]byte, 400)
	for i := range prog {
		prog[i] = byte(i * 3)
	}

	if err := dsk.AppleDOSWriteFile("HELLO", FileTypeAPP, prog, 0); err != nil {
		t.Fatal(err)
	}

	_, files, err := dsk.AppleDOSGetCatalog("*")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file got %d", len(files))
	}

	fd := files[0]
	if fd.Name() != "HELLO" {
		t.Errorf("name %q", fd.Name())
	}
	if fd.Type() != FileTypeAPP {
		t.Errorf("type %s", fd.Type())
	}
	// 402 framed bytes need 2 data sectors plus the T/S list
	if fd.TotalSectors() != 3 {
		t.Errorf("sector count %d", fd.TotalSectors())
	}
	if fd.IsLocked() {
		t.Error("new file is locked")
	}

	eof, addr, body, err := dsk.AppleDOSReadFile(fd)
	if err != nil {
		t.Fatal(err)
	}
	if eof != 400 {
		t.Errorf("eof %d", eof)
	}
	if addr != 0x801 {
		t.Errorf("addr %.4x", addr)
	}
	if !bytes.Equal(body, prog) {
		t.Error("read back differs")
	}
}

func TestAppleDOSBinaryFraming(t *testing.T) {

	dsk := newDOSImage(t)

	payload := []byte{0xa9, 0x00, 0x8d, 0x30, 0xc0, 0x60}
	if err := dsk.AppleDOSWriteFile("BEEP", FileTypeBIN, payload, 0x300); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.AppleDOSNamedCatalogEntry("BEEP")
	if err != nil {
		t.Fatal(err)
	}
	eof, addr, body, err := dsk.AppleDOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	if eof != len(payload) || addr != 0x300 {
		t.Errorf("eof %d addr %.4x", eof, addr)
	}
	if !bytes.Equal(body, payload) {
		t.Error("read back differs")
	}
}

func TestAppleDOSTextStopsAtNul(t *testing.T) {

	dsk := newDOSImage(t)

	text := []byte("HELLO WORLD\r")
	if err := dsk.AppleDOSWriteFile("NOTES", FileTypeTXT, text, 0); err != nil {
		t.Fatal(err)
	}

	fd, err := dsk.AppleDOSNamedCatalogEntry("NOTES")
	if err != nil {
		t.Fatal(err)
	}
	eof, _, body, err := dsk.AppleDOSReadFile(*fd)
	if err != nil {
		t.Fatal(err)
	}
	// sector padding is NUL, so the text ends where it was written
	if eof != len(text) || !bytes.Equal(body, text) {
		t.Errorf("eof %d body %q", eof, body)
	}
}

func TestAppleDOSDeleteFreesSectors(t *testing.T) {

	dsk := newDOSImage(t)

	vtoc, _ := dsk.AppleDOSGetVTOC()
	before := vtoc.FreeSectors()

	if err := dsk.AppleDOSWriteFile("HELLO", FileTypeAPP, make([]byte, 400), 0); err != nil {
		t.Fatal(err)
	}

	vtoc, _ = dsk.AppleDOSGetVTOC()
	if vtoc.FreeSectors() != before-3 {
		t.Errorf("free %d, want %d", vtoc.FreeSectors(), before-3)
	}

	if err := dsk.AppleDOSDeleteFile("HELLO"); err != nil {
		t.Fatal(err)
	}

	vtoc, _ = dsk.AppleDOSGetVTOC()
	if vtoc.FreeSectors() != before {
		t.Errorf("free %d after delete, want %d", vtoc.FreeSectors(), before)
	}
	_, files, _ := dsk.AppleDOSGetCatalog("*")
	if len(files) != 0 {
		t.Errorf("catalog still lists %d files", len(files))
	}
}

func TestAppleDOSLockBlocksDelete(t *testing.T) {

	dsk := newDOSImage(t)

	if err := dsk.AppleDOSWriteFile("KEEP", FileTypeBIN, []byte{1, 2, 3}, 0x2000); err != nil {
		t.Fatal(err)
	}
	if err := dsk.AppleDOSSetLocked("KEEP", true); err != nil {
		t.Fatal(err)
	}

	if err := dsk.AppleDOSDeleteFile("KEEP"); err != ErrReadOnly {
		t.Errorf("delete of locked file: %v", err)
	}

	if err := dsk.AppleDOSSetLocked("KEEP", false); err != nil {
		t.Fatal(err)
	}
	if err := dsk.AppleDOSDeleteFile("KEEP"); err != nil {
		t.Errorf("delete after unlock: %v", err)
	}
}

func TestAppleDOSRename(t *testing.T) {

	dsk := newDOSImage(t)

	dsk.AppleDOSWriteFile("ONE", FileTypeBIN, []byte{1}, 0x2000)
	dsk.AppleDOSWriteFile("TWO", FileTypeBIN, []byte{2}, 0x2000)

	if err := dsk.AppleDOSRenameFile("ONE", "TWO"); err != ErrNameConflict {
		t.Errorf("rename onto existing: %v", err)
	}
	if err := dsk.AppleDOSRenameFile("ONE", "THREE"); err != nil {
		t.Fatal(err)
	}
	if _, err := dsk.AppleDOSNamedCatalogEntry("THREE"); err != nil {
		t.Error("renamed file not found")
	}
	if _, err := dsk.AppleDOSNamedCatalogEntry("ONE"); err != ErrNotFound {
		t.Errorf("old name lookup: %v", err)
	}
}

func TestAppleDOSReplaceReclaims(t *testing.T) {

	dsk := newDOSImage(t)

	if err := dsk.AppleDOSWriteFile("PROG", FileTypeAPP, make([]byte, 4000), 0); err != nil {
		t.Fatal(err)
	}
	if err := dsk.AppleDOSWriteFile("PROG", FileTypeAPP, make([]byte, 100), 0); err != nil {
		t.Fatal(err)
	}

	_, files, _ := dsk.AppleDOSGetCatalog("PROG")
	if len(files) != 1 {
		t.Fatalf("expected 1 file got %d", len(files))
	}
	if files[0].TotalSectors() != 2 {
		t.Errorf("replacement kept %d sectors", files[0].TotalSectors())
	}
}

func TestAppleDOSSetType(t *testing.T) {

	dsk := newDOSImage(t)

	dsk.AppleDOSWriteFile("DATA", FileTypeBIN, make([]byte, 10), 0x2000)
	if err := dsk.AppleDOSSetType("DATA", FileTypeTXT); err != nil {
		t.Fatal(err)
	}
	fd, err := dsk.AppleDOSNamedCatalogEntry("DATA")
	if err != nil {
		t.Fatal(err)
	}
	if fd.Type() != FileTypeTXT {
		t.Errorf("type %s", fd.Type())
	}
}
