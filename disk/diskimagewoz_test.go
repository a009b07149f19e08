package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wozSpec describes one synthetic track record: the cylinder its address
// fields claim and the TMAP quarter positions that point at it.
type wozSpec struct {
	cyl       byte
	payloads  map[int][]byte
	positions []int
}

func wozPayloads(seed byte) map[int][]byte {
	out := make(map[int][]byte)
	for s := 0; s < STD_SECTORS_PER_TRACK; s++ {
		out[s] = sampleSector(byte(s)*3 + seed)
	}
	return out
}

var wozFullOrder = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// buildWOZ2 assembles a WOZ2 image from scratch: 12 byte header, INFO,
// TMAP, then a TRKS chunk whose bit data starts on a 512 byte boundary.
func buildWOZ2(t *testing.T, writeProtect bool, specs []wozSpec) []byte {

	le16 := func(v int) []byte { return []byte{byte(v), byte(v >> 8)} }
	le32 := func(v int) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}

	img := []byte{'W', 'O', 'Z', '2', 0xff, 0x0a, 0x0d, 0x0a, 0, 0, 0, 0}

	info := make([]byte, 60)
	info[0] = 2
	info[1] = 1
	if writeProtect {
		info[2] = 1
	}
	copy(info[5:37], "test harness")
	for i := 5 + len("test harness"); i < 37; i++ {
		info[i] = ' '
	}
	img = append(img, "INFO"...)
	img = append(img, le32(len(info))...)
	img = append(img, info...)

	tmap := make([]byte, WOZ_QUARTER_TRACKS)
	for i := range tmap {
		tmap[i] = 0xff
	}
	for idx, sp := range specs {
		for _, pos := range sp.positions {
			tmap[pos] = byte(idx)
		}
	}
	img = append(img, "TMAP"...)
	img = append(img, le32(len(tmap))...)
	img = append(img, tmap...)

	recs := make([]byte, WOZ_QUARTER_TRACKS*8)
	dataStart := len(img) + 8 + len(recs)
	require.Zero(t, dataStart%512, "track data must be block aligned")

	block := dataStart / 512
	var bits []byte
	for idx, sp := range specs {
		nibs := buildTrackNibs(254, sp.cyl, sp.payloads, wozFullOrder)
		blocks := (len(nibs) + 511) / 512
		padded := make([]byte, blocks*512)
		copy(padded, nibs)
		for i := len(nibs); i < len(padded); i++ {
			padded[i] = 0xff
		}
		copy(recs[idx*8:], le16(block))
		copy(recs[idx*8+2:], le16(blocks))
		copy(recs[idx*8+4:], le32(len(nibs)*8))
		block += blocks
		bits = append(bits, padded...)
	}
	img = append(img, "TRKS"...)
	img = append(img, le32(len(recs)+len(bits))...)
	img = append(img, recs...)
	img = append(img, bits...)

	return img
}

func TestWOZ2Parse(t *testing.T) {

	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 0, payloads: wozPayloads(1), positions: []int{0, 1}},
		{cyl: 17, payloads: wozPayloads(2), positions: []int{67, 68, 69}},
	})
	assert.True(t, IsWOZ(img))

	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)
	assert.Equal(t, 2, w.Version)
	assert.False(t, w.WriteProtected())
	assert.Equal(t, "test harness", w.Creator())

	assert.NotNil(t, w.TrackBits(QuarterPos(0, 0)))
	assert.NotNil(t, w.TrackBits(QuarterPos(17, 0)))
	assert.Nil(t, w.TrackBits(QuarterPos(3, 0)))

	_, err = NewWOZWrapper([]byte("not a flux image"), "bad.woz")
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestWOZ2ReadChunk(t *testing.T) {

	payloads := wozPayloads(5)
	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 17, payloads: payloads, positions: []int{68}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	got, err := w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 5})
	require.NoError(t, err)
	assert.Equal(t, payloads[5], got)

	sol := w.Solve(QuarterPos(17, 0))
	assert.Len(t, sol.Sectors, 16)
	assert.Zero(t, sol.TrackMismatches)

	// an unrecorded position has no sectors to give
	_, err = w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 30, Sector: 0})
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestWOZ2TrackRange(t *testing.T) {

	// one record spans 16.75 through 17.25, a second sits at 17.50
	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 17, payloads: wozPayloads(1), positions: []int{67, 68, 69}},
		{cyl: 17, payloads: wozPayloads(9), positions: []int{70}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	// neighbors sharing a record are reported once
	entries := w.TrackRange(1675, 1725)
	require.Len(t, entries, 1)
	assert.Equal(t, 16, entries[0].Cylinder)
	assert.Equal(t, 3, entries[0].Fraction)

	entries = w.TrackRange(1700, 1750)
	require.Len(t, entries, 2)
	assert.Equal(t, 17, entries[0].Cylinder)
	assert.Equal(t, 0, entries[0].Fraction)
	assert.Equal(t, 17, entries[1].Cylinder)
	assert.Equal(t, 2, entries[1].Fraction)
	assert.NotZero(t, entries[0].BitCount)
}

func TestWOZ2WriteChunk(t *testing.T) {

	payloads := wozPayloads(7)
	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 17, payloads: payloads, positions: []int{68}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	fresh := sampleSector(0x40)
	addr := ChunkAddr{CHS: true, Cylinder: 17, Sector: 5}
	require.NoError(t, w.WriteChunk(addr, fresh))

	// the track was re-encoded and re-solved from its new bits
	got, err := w.ReadChunk(addr)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	other, err := w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 9})
	require.NoError(t, err)
	assert.Equal(t, payloads[9], other)

	// writing outside the solved sector set has no target
	err = w.WriteChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 20}, fresh)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWOZ2WriteProtect(t *testing.T) {

	img := buildWOZ2(t, true, []wozSpec{
		{cyl: 17, payloads: wozPayloads(3), positions: []int{68}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	assert.True(t, w.WriteProtected())
	err = w.WriteChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 0}, make([]byte, 256))
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestWOZ2Denibblize(t *testing.T) {

	p0 := wozPayloads(11)
	p17 := wozPayloads(13)
	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 0, payloads: p0, positions: []int{0}},
		{cyl: 17, payloads: p17, positions: []int{68}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	dsk, err := w.Denibblize()
	require.NoError(t, err)
	require.Len(t, dsk.Data, STD_DISK_BYTES)

	// physical sectors land at their DOS 3.3 logical positions
	for phys := 0; phys < STD_SECTORS_PER_TRACK; phys++ {
		logical := DOS_33_SECTOR_ORDER[phys]
		off := (17*STD_SECTORS_PER_TRACK + logical) * STD_BYTES_PER_SECTOR
		assert.Equal(t, p17[phys], dsk.Data[off:off+STD_BYTES_PER_SECTOR])
	}

	// unrecorded tracks come through as zero fill
	off := 5 * STD_SECTORS_PER_TRACK * STD_BYTES_PER_SECTOR
	for _, v := range dsk.Data[off : off+STD_BYTES_PER_SECTOR] {
		require.Equal(t, byte(0), v)
	}
}

func TestWOZ2RewriteKeepsDamagedSector(t *testing.T) {

	payloads := wozPayloads(6)
	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 17, payloads: payloads, positions: []int{68}},
	})

	// clobber a nibble inside sector 5's data field with a value
	// outside the 6&2 table
	img[1536+5*385+39+10] = 0x81

	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	_, err = w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 5})
	assert.ErrorIs(t, err, ErrChunkNotFound)

	// a write to a healthy neighbor re-encodes the track; the damaged
	// sector keeps its address mark and stays address-only
	fresh := sampleSector(0x21)
	addr := ChunkAddr{CHS: true, Cylinder: 17, Sector: 3}
	require.NoError(t, w.WriteChunk(addr, fresh))

	got, err := w.ReadChunk(addr)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	other, err := w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 9})
	require.NoError(t, err)
	assert.Equal(t, payloads[9], other)

	_, err = w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 5})
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

// buildWOZ1 lays each track into a fixed 6656 byte record: 6646 bit
// bytes, used-byte count, bit count, then splice fields.
func buildWOZ1(t *testing.T, specs []wozSpec) []byte {

	le16 := func(v int) []byte { return []byte{byte(v), byte(v >> 8)} }
	le32 := func(v int) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}

	img := []byte{'W', 'O', 'Z', '1', 0xff, 0x0a, 0x0d, 0x0a, 0, 0, 0, 0}

	info := make([]byte, 60)
	info[0] = 1
	info[1] = 1
	copy(info[5:37], "test harness")
	for i := 5 + len("test harness"); i < 37; i++ {
		info[i] = ' '
	}
	img = append(img, "INFO"...)
	img = append(img, le32(len(info))...)
	img = append(img, info...)

	tmap := make([]byte, WOZ_QUARTER_TRACKS)
	for i := range tmap {
		tmap[i] = 0xff
	}
	for idx, sp := range specs {
		for _, pos := range sp.positions {
			tmap[pos] = byte(idx)
		}
	}
	img = append(img, "TMAP"...)
	img = append(img, le32(len(tmap))...)
	img = append(img, tmap...)

	var body []byte
	for _, sp := range specs {
		nibs := buildTrackNibs(254, sp.cyl, sp.payloads, wozFullOrder)
		require.LessOrEqual(t, len(nibs), woz1TrackBits)
		rec := make([]byte, woz1TrackRecord)
		copy(rec, nibs)
		for i := len(nibs); i < woz1TrackBits; i++ {
			rec[i] = 0xff
		}
		copy(rec[woz1TrackBits:], le16(len(nibs)))
		copy(rec[woz1TrackBits+2:], le16(len(nibs)*8))
		body = append(body, rec...)
	}
	img = append(img, "TRKS"...)
	img = append(img, le32(len(body))...)
	img = append(img, body...)

	return img
}

func TestWOZ1Parse(t *testing.T) {

	payloads := wozPayloads(8)
	img := buildWOZ1(t, []wozSpec{
		{cyl: 0, payloads: wozPayloads(2), positions: []int{0}},
		{cyl: 17, payloads: payloads, positions: []int{68}},
	})
	assert.True(t, IsWOZ(img))

	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)
	assert.Equal(t, 1, w.Version)

	trk := w.TrackBits(QuarterPos(17, 0))
	require.NotNil(t, trk)
	assert.Len(t, trk.Bits, woz1TrackBits)

	got, err := w.ReadChunk(ChunkAddr{CHS: true, Cylinder: 17, Sector: 9})
	require.NoError(t, err)
	assert.Equal(t, payloads[9], got)
}

func TestWOZContainerEntry(t *testing.T) {

	src := newDOSImage(t)

	// carry the formatted volume's sectors at their physical positions
	var specs []wozSpec
	for track := 0; track < STD_TRACKS_PER_DISK; track++ {
		payloads := make(map[int][]byte)
		for phys := 0; phys < STD_SECTORS_PER_TRACK; phys++ {
			logical := DOS_33_SECTOR_ORDER[phys]
			off := (track*STD_SECTORS_PER_TRACK + logical) * STD_BYTES_PER_SECTOR
			payloads[phys] = src.Data[off : off+STD_BYTES_PER_SECTOR]
		}
		specs = append(specs, wozSpec{
			cyl:       byte(track),
			payloads:  payloads,
			positions: []int{track * 4},
		})
	}
	img := buildWOZ2(t, false, specs)

	dsk, err := NewDSKWrapperBin(img, "volume.woz")
	require.NoError(t, err)
	require.NotNil(t, dsk.Flux())
	assert.True(t, dsk.WriteProtected)
	assert.Equal(t, DF_DOS_SECTORS_16, dsk.Format.ID)
	assert.Equal(t, src.Data, dsk.Data)

	fs, err := NewDiskFS(dsk)
	require.NoError(t, err)
	assert.Equal(t, FamilyAppleDOS, fs.Family())

	// the original flux bytes come back on save
	assert.Equal(t, img, dsk.Serialize())
}

func TestWOZ2Geometry(t *testing.T) {

	img := buildWOZ2(t, false, []wozSpec{
		{cyl: 17, payloads: wozPayloads(4), positions: []int{68}},
	})
	w, err := NewWOZWrapper(img, "test.woz")
	require.NoError(t, err)

	g := w.Geometry()
	assert.Equal(t, 18, g.Cylinders)
	require.Len(t, g.Tracks, 1)
	assert.Equal(t, 17, g.Tracks[0].Cylinder)
	assert.Equal(t, 16, g.Tracks[0].Sectors)
	assert.Equal(t, FieldCodeGCR62, g.Tracks[0].DataCode)
	require.Len(t, g.Tracks[0].CHSSMap, 16)
	assert.Equal(t, [4]int{17, 0, 0, 256}, g.Tracks[0].CHSSMap[0])
}
