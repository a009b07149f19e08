package disk

import (
	"bytes"
	"testing"
)

// build2MG wraps a blank 16-sector body in a minimal DOS-ordered 2MG
// preamble.
func build2MG(lock bool) []byte {

	le32 := func(v uint32) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}

	h := make([]byte, PREAMBLE_2MG_SIZE)
	copy(h, MAGIC_2MG)
	copy(h[4:], "TEST")
	h[8] = PREAMBLE_2MG_SIZE
	h[0x0a] = 1
	// image format 0: DOS sector order
	flags := uint32(0)
	if lock {
		flags |= 0x80000000
	}
	copy(h[0x10:], le32(flags))
	copy(h[0x18:], le32(PREAMBLE_2MG_SIZE))
	copy(h[0x1c:], le32(uint32(STD_DISK_BYTES)))

	return append(h, make([]byte, STD_DISK_BYTES)...)
}

func Test2MGUnwrap(t *testing.T) {

	dsk, err := NewDSKWrapperBin(build2MG(true), "test.2mg")
	if err != nil {
		t.Fatal(err)
	}
	if !dsk.WriteProtected {
		t.Error("lock flag not honored")
	}
	if len(dsk.Data) != STD_DISK_BYTES {
		t.Fatalf("inner image is %d bytes", len(dsk.Data))
	}
	if dsk.Format.ID != DF_DOS_SECTORS_16 {
		t.Errorf("wrong format %s", dsk.Format)
	}
	if dsk.Layout != SectorOrderDOS33 {
		t.Errorf("wrong layout %s", dsk.Layout)
	}
}

func Test2MGRewrap(t *testing.T) {

	img := build2MG(false)
	// the unwrapped body aliases the input, so keep a pristine copy
	orig := append([]byte(nil), img...)
	dsk, err := NewDSKWrapperBin(img, "test.2mg")
	if err != nil {
		t.Fatal(err)
	}
	if dsk.IsChanged() {
		t.Error("fresh mount reports changes")
	}

	buffer := make([]byte, STD_BYTES_PER_SECTOR)
	for i := range buffer {
		buffer[i] = 0x5a
	}
	if err := dsk.Seek(17, 0); err != nil {
		t.Fatal(err)
	}
	dsk.Write(buffer)
	if !dsk.IsChanged() {
		t.Error("write did not mark the image changed")
	}

	out := dsk.Serialize()
	if len(out) != PREAMBLE_2MG_SIZE+STD_DISK_BYTES {
		t.Fatalf("serialized %d bytes", len(out))
	}
	if !bytes.Equal(out[:PREAMBLE_2MG_SIZE], orig[:PREAMBLE_2MG_SIZE]) {
		t.Error("preamble not preserved byte for byte")
	}
	if !bytes.Equal(out[PREAMBLE_2MG_SIZE:], dsk.Data) {
		t.Error("body does not carry the sector write")
	}
	if bytes.Equal(out, orig) {
		t.Error("serialized image identical despite the write")
	}
}

func TestChecksumsTrackChanges(t *testing.T) {

	dsk, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "test.dsk")
	if err != nil {
		t.Fatal(err)
	}

	before := dsk.ChecksumDisk()
	if before != Checksum(dsk.Data) {
		t.Error("disk checksum disagrees with the raw data")
	}

	buffer := make([]byte, STD_BYTES_PER_SECTOR)
	buffer[0] = 0xa5
	if err := dsk.Seek(3, 7); err != nil {
		t.Fatal(err)
	}
	dsk.Write(buffer)

	if dsk.ChecksumDisk() == before {
		t.Error("disk checksum unchanged after a write")
	}
	if dsk.ChecksumSector(3, 7) != Checksum(buffer) {
		t.Error("sector checksum does not match the written data")
	}
	if dsk.ChecksumSector(3, 8) == Checksum(buffer) {
		t.Error("neighboring sector matched the written data")
	}
}

func TestHuntVTOC(t *testing.T) {

	dsk := newDOSImage(t)
	tr, s := dsk.HuntVTOC(35, 16)
	if tr != 17 || s != 0 {
		t.Errorf("found VTOC at %d/%d", tr, s)
	}

	blank, err := NewDSKWrapperBin(make([]byte, STD_DISK_BYTES), "blank.dsk")
	if err != nil {
		t.Fatal(err)
	}
	if tr, s = blank.HuntVTOC(35, 16); tr != -1 || s != -1 {
		t.Errorf("blank image claimed a VTOC at %d/%d", tr, s)
	}
}
