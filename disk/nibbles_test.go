package disk

import (
	"bytes"
	"testing"
)

func sampleSector(seed byte) []byte {
	out := make([]byte, 256)
	for i := range out {
		out[i] = byte(i)*7 + seed
	}
	return out
}

func TestEncode44RoundTrip(t *testing.T) {

	for v := 0; v < 256; v++ {
		pair := Encode44(byte(v))
		got, ok := Decode44(pair[0], pair[1])
		if !ok {
			t.Fatalf("value %.2x decoded as invalid", v)
		}
		if got != byte(v) {
			t.Fatalf("value %.2x round tripped as %.2x", v, got)
		}
	}

	// a nibble without the FM clock bits is not decodable
	if _, ok := Decode44(0x00, 0xaa); ok {
		t.Error("accepted nibble without clock bits")
	}
}

func TestSector62RoundTrip(t *testing.T) {

	dat := sampleSector(3)
	nibs := EncodeSector62(dat, 0)

	if len(nibs) != DATA_NIBS_62 {
		t.Fatalf("expected %d nibbles got %d", DATA_NIBS_62, len(nibs))
	}

	back, ok := DecodeSector62(nibs, 0)
	if !ok {
		t.Fatal("checksum failed on clean data")
	}
	if !bytes.Equal(back, dat) {
		t.Fatal("decoded bytes differ")
	}
}

func TestSector62DetectsCorruption(t *testing.T) {

	dat := sampleSector(9)
	nibs := EncodeSector62(dat, 0)

	// swap in a different legal nibble
	bad := make([]byte, len(nibs))
	copy(bad, nibs)
	if bad[100] == NIBBLE_62[0] {
		bad[100] = NIBBLE_62[1]
	} else {
		bad[100] = NIBBLE_62[0]
	}

	if _, ok := DecodeSector62(bad, 0); ok {
		t.Error("corrupted field passed its checksum")
	}
}

func TestSector62Seed(t *testing.T) {

	dat := sampleSector(1)
	nibs := EncodeSector62(dat, 0x5a)

	if _, ok := DecodeSector62(nibs, 0); ok {
		t.Error("seeded field decoded clean with zero seed")
	}

	back, ok := DecodeSector62(nibs, 0x5a)
	if !ok {
		t.Fatal("seeded field failed with matching seed")
	}
	if !bytes.Equal(back, dat) {
		t.Fatal("seeded decode differs")
	}
}

func TestSector53RoundTrip(t *testing.T) {

	dat := sampleSector(5)
	nibs := EncodeSector53(dat, 0)

	if len(nibs) != DATA_NIBS_53 {
		t.Fatalf("expected %d nibbles got %d", DATA_NIBS_53, len(nibs))
	}

	back, ok := DecodeSector53(nibs, 0)
	if !ok {
		t.Fatal("checksum failed on clean data")
	}
	if !bytes.Equal(back, dat) {
		t.Fatal("decoded bytes differ")
	}
}

func TestBitsToNibblesConsumesSync(t *testing.T) {

	// 10-bit self-sync bytes: FF followed by two zero bits
	var bits []byte
	var cur byte
	n := 0
	push := func(b int) {
		cur = cur<<1 | byte(b)
		n++
		if n%8 == 0 {
			bits = append(bits, cur)
			cur = 0
		}
	}
	for i := 0; i < 5; i++ {
		for j := 7; j >= 0; j-- {
			push(int(0xff>>uint(j)) & 1)
		}
		push(0)
		push(0)
	}
	for _, v := range []byte{0xd5, 0xaa, 0x96} {
		for j := 7; j >= 0; j-- {
			push(int(v>>uint(j)) & 1)
		}
	}
	bitCount := n
	for n%8 != 0 {
		push(0)
	}

	nibs, offsets := BitsToNibbles(bits, bitCount)
	if len(nibs) < 8 {
		t.Fatalf("expected at least 8 nibbles got %d", len(nibs))
	}
	if len(nibs) != len(offsets) {
		t.Fatal("offset list out of step")
	}

	// first pass around the track
	want := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xd5, 0xaa, 0x96}
	if !bytes.Equal(nibs[:8], want) {
		t.Fatalf("got nibbles % x", nibs[:8])
	}
}

// buildTrackNibs assembles a byte-aligned 6&2 track image of the given
// physical sector payloads in slice order.
func buildTrackNibs(volume, track byte, payloads map[int][]byte, order []int) []byte {

	var out []byte
	for _, sec := range order {
		for i := 0; i < 16; i++ {
			out = append(out, 0xff)
		}
		out = append(out, 0xd5, 0xaa, 0x96)
		chk := volume ^ track ^ byte(sec)
		for _, v := range []byte{volume, track, byte(sec), chk} {
			pair := Encode44(v)
			out = append(out, pair[:]...)
		}
		out = append(out, 0xde, 0xaa, 0xeb)
		for i := 0; i < 6; i++ {
			out = append(out, 0xff)
		}
		out = append(out, 0xd5, 0xaa, 0xad)
		out = append(out, EncodeSector62(payloads[sec], 0)...)
		out = append(out, 0xde, 0xaa, 0xeb)
	}
	return out
}

func TestScanTrackFindsFields(t *testing.T) {

	payloads := map[int][]byte{
		0: sampleSector(0),
		5: sampleSector(5),
	}
	nibs := buildTrackNibs(254, 17, payloads, []int{0, 5})

	tokens := ScanTrack(nibs, nil, FieldCodeGCR62)

	var addrs, datas int
	for _, tok := range tokens {
		switch tok.Kind {
		case AddressField:
			addrs++
			if !tok.Valid {
				t.Errorf("address field at bit %d invalid", tok.BitOffset)
			}
			if tok.Volume != 254 || tok.Track != 17 {
				t.Errorf("bad address contents V%d T%d", tok.Volume, tok.Track)
			}
		case DataField:
			datas++
			if !tok.Valid {
				t.Errorf("data field at bit %d invalid", tok.BitOffset)
			}
		}
	}
	if addrs != 2 || datas != 2 {
		t.Fatalf("expected 2+2 fields got %d+%d", addrs, datas)
	}
}
