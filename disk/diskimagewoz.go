package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/*
	WOZ flux containers (versions 1 and 2). Tracks are raw bit streams at
	quarter-track motor positions; the TMAP chunk maps each of 160
	positions to a track record, 0xFF meaning no data lives there. Sector
	access decodes a position on demand through the codec and solver and
	caches the solution per position for the life of the wrapper.
*/

var MAGIC_WOZ1 = []byte{'W', 'O', 'Z', '1'}
var MAGIC_WOZ2 = []byte{'W', 'O', 'Z', '2'}

const WOZ_QUARTER_TRACKS = 160
const woz1TrackRecord = 6656
const woz1TrackBits = 6646

type WOZTrack struct {
	Bits     []byte
	BitCount int
}

type WOZWrapper struct {
	Filename string
	Version  int

	info     []byte
	tmap     [WOZ_QUARTER_TRACKS]byte
	tracks   map[int]*WOZTrack
	raw      []byte
	solved   map[int]*TrackSolution
	schemes  map[int]FieldCode
	Policy   SolvePolicy
}

func (w *WOZWrapper) WriteProtected() bool {
	return len(w.info) > 2 && w.info[2] == 1
}

func (w *WOZWrapper) Creator() string {
	if len(w.info) < 37 {
		return ""
	}
	return string(bytes.TrimRight(w.info[5:37], " \x00"))
}

func IsWOZ(data []byte) bool {
	return bytes.HasPrefix(data, MAGIC_WOZ1) || bytes.HasPrefix(data, MAGIC_WOZ2)
}

// NewWOZWrapper parses the chunk stream. A malformed chunk directory is an
// unknown-container failure; damaged track data is not, it just decodes to
// empty sector sets later.
func NewWOZWrapper(data []byte, filename string) (*WOZWrapper, error) {
	w := &WOZWrapper{
		Filename: filename,
		tracks:   make(map[int]*WOZTrack),
		solved:   make(map[int]*TrackSolution),
		schemes:  make(map[int]FieldCode),
		raw:      data,
		Policy:   DefaultSolvePolicy(),
	}
	switch {
	case bytes.HasPrefix(data, MAGIC_WOZ1):
		w.Version = 1
	case bytes.HasPrefix(data, MAGIC_WOZ2):
		w.Version = 2
	default:
		return nil, fmt.Errorf("woz: %w", ErrUnknownContainer)
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("woz: truncated header: %w", ErrUnknownContainer)
	}

	pos := 12 // magic + FF 0A 0D 0A + crc32
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("woz: chunk %q overruns file: %w", id, ErrUnknownContainer)
		}
		switch id {
		case "INFO":
			w.info = data[body : body+size]
		case "TMAP":
			copy(w.tmap[:], data[body:body+size])
		case "TRKS":
			if err := w.parseTrks(data, body, size); err != nil {
				return nil, err
			}
		}
		pos = body + size
	}
	if w.info == nil || len(w.tracks) == 0 {
		return nil, fmt.Errorf("woz: missing INFO or TRKS: %w", ErrUnknownContainer)
	}
	return w, nil
}

func (w *WOZWrapper) parseTrks(data []byte, body, size int) error {
	if w.Version == 1 {
		count := size / woz1TrackRecord
		for i := 0; i < count; i++ {
			rec := data[body+i*woz1TrackRecord : body+(i+1)*woz1TrackRecord]
			bitCount := int(binary.LittleEndian.Uint16(rec[woz1TrackBits+2 : woz1TrackBits+4]))
			if bitCount == 0 {
				continue
			}
			w.tracks[i] = &WOZTrack{Bits: rec[:woz1TrackBits], BitCount: bitCount}
		}
		return nil
	}
	// WOZ2: 160 eight-byte track records pointing at 512-byte blocks
	for i := 0; i < WOZ_QUARTER_TRACKS; i++ {
		off := body + i*8
		if off+8 > body+size {
			break
		}
		startBlock := int(binary.LittleEndian.Uint16(data[off : off+2]))
		blockCount := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		bitCount := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if blockCount == 0 || bitCount == 0 {
			continue
		}
		s := startBlock * 512
		e := s + blockCount*512
		if s < 0 || e > len(data) {
			return fmt.Errorf("woz: track %d data out of bounds: %w", i, ErrUnknownContainer)
		}
		w.tracks[i] = &WOZTrack{Bits: data[s:e], BitCount: bitCount}
	}
	return nil
}

// QuarterPos converts cylinder plus quarter fraction to a TMAP position.
func QuarterPos(cylinder, fraction int) int {
	return cylinder*4 + fraction
}

// TrackBits returns the raw bit stream recorded at a quarter-track
// position, or nil when the position holds no data.
func (w *WOZWrapper) TrackBits(pos int) *WOZTrack {
	if pos < 0 || pos >= WOZ_QUARTER_TRACKS {
		return nil
	}
	idx := w.tmap[pos]
	if idx == 0xff {
		return nil
	}
	return w.tracks[int(idx)]
}

// Solve decodes one quarter-track position, choosing the nibble scheme by
// which one yields address fields, and caches the result. An unreadable
// position yields an empty solution, never an error.
func (w *WOZWrapper) Solve(pos int) *TrackSolution {
	if sol, ok := w.solved[pos]; ok {
		return sol
	}
	cyl, fraction := pos/4, pos%4
	trk := w.TrackBits(pos)
	if trk == nil {
		sol := SolveTrack(nil, cyl, fraction, 0, w.Policy)
		w.solved[pos] = sol
		return sol
	}
	nibs, offsets := BitsToNibbles(trk.Bits, trk.BitCount)
	scheme := FieldCodeGCR62
	tokens := ScanTrack(nibs, offsets, scheme)
	if countValidAddrs(tokens) == 0 {
		alt := ScanTrack(nibs, offsets, FieldCodeGCR53)
		if countValidAddrs(alt) > 0 {
			tokens = alt
			scheme = FieldCodeGCR53
		}
	}
	policy := w.Policy
	if policy.ExpectedTrack < 0 && fraction == 0 {
		policy.ExpectedTrack = cyl
	}
	sol := SolveTrack(tokens, cyl, fraction, 0, policy)
	w.solved[pos] = sol
	w.schemes[pos] = scheme
	return sol
}

func countValidAddrs(tokens []FieldToken) int {
	n := 0
	for _, t := range tokens {
		if t.Kind == AddressField && t.Valid {
			n++
		}
	}
	return n
}

// RangeEntry is one quarter-track position's raw data, reported by
// TrackRange.
type RangeEntry struct {
	Cylinder int
	Fraction int
	Bits     []byte
	BitCount int
}

// TrackRange returns the recorded positions within [start,end] inclusive,
// in hundredths of a track (1725 means 17.25). Positions sharing a track
// record with an already reported neighbor are skipped, so a request
// spanning two quarter-track positions returns exactly those two and
// never spills into the adjacent whole tracks.
func (w *WOZWrapper) TrackRange(start, end int) []RangeEntry {
	var out []RangeEntry
	lastIdx := -1
	for pos := 0; pos < WOZ_QUARTER_TRACKS; pos++ {
		frac := (pos % 4) * 25
		hundredths := (pos/4)*100 + frac
		if hundredths < start || hundredths > end {
			continue
		}
		idx := w.tmap[pos]
		if idx == 0xff {
			continue
		}
		if int(idx) == lastIdx {
			continue
		}
		lastIdx = int(idx)
		trk := w.tracks[int(idx)]
		if trk == nil {
			continue
		}
		out = append(out, RangeEntry{
			Cylinder: pos / 4,
			Fraction: pos % 4,
			Bits:     trk.Bits,
			BitCount: trk.BitCount,
		})
	}
	return out
}

func (w *WOZWrapper) Geometry() DiskGeometry {
	g := DiskGeometry{Heads: 1, BlockSize: 512}
	for pos := 0; pos < WOZ_QUARTER_TRACKS; pos++ {
		if w.TrackBits(pos) == nil {
			continue
		}
		sol := w.Solve(pos)
		scheme := w.schemes[pos]
		tg := TrackGeometry{
			Cylinder:   pos / 4,
			Fraction:   pos % 4,
			Sectors:    len(sol.Sectors),
			SectorSize: STD_BYTES_PER_SECTOR,
			AddrCode:   FieldCodeFM44,
			DataCode:   scheme,
			CHSSMap:    sol.CHSSMap(),
		}
		g.Tracks = append(g.Tracks, tg)
		if pos/4+1 > g.Cylinders {
			g.Cylinders = pos/4 + 1
		}
	}
	return g
}

func (w *WOZWrapper) ReadChunk(addr ChunkAddr) ([]byte, error) {
	if !addr.CHS {
		return nil, fmt.Errorf("woz: block addressing: %w", ErrChunkNotFound)
	}
	sol := w.Solve(QuarterPos(addr.Cylinder, addr.Fraction))
	ss, ok := sol.Sectors[addr.Sector]
	if !ok || ss.Data == nil {
		return nil, fmt.Errorf("%s: %w", addr.String(), ErrChunkNotFound)
	}
	out := make([]byte, len(ss.Data))
	copy(out, ss.Data)
	return out, nil
}

// WriteChunk updates a solved sector and re-encodes the whole track in
// the angular order of the existing solution, which is what keeps tracks
// with repeated addresses byte-identical on rewrite.
func (w *WOZWrapper) WriteChunk(addr ChunkAddr, data []byte) error {
	if w.WriteProtected() {
		return ErrReadOnly
	}
	if !addr.CHS {
		return fmt.Errorf("woz: block addressing: %w", ErrOutOfRange)
	}
	pos := QuarterPos(addr.Cylinder, addr.Fraction)
	sol := w.Solve(pos)
	ss, ok := sol.Sectors[addr.Sector]
	if !ok {
		return fmt.Errorf("%s: %w", addr.String(), ErrOutOfRange)
	}
	if len(data) > STD_BYTES_PER_SECTOR {
		data = data[:STD_BYTES_PER_SECTOR]
	}
	buf := make([]byte, STD_BYTES_PER_SECTOR)
	copy(buf, data)
	ss.Data = buf
	ss.DataValid = true
	return w.reencode(pos)
}

// reencode rebuilds a track's bit stream from its solution, visiting
// sectors in angular order.
func (w *WOZWrapper) reencode(pos int) error {
	trk := w.TrackBits(pos)
	sol := w.solved[pos]
	if trk == nil || sol == nil {
		return fmt.Errorf("track position %d: %w", pos, ErrOutOfRange)
	}
	if w.schemes[pos] == FieldCodeGCR53 {
		// rewriting 13-sector flux tracks is not supported
		return fmt.Errorf("5&3 flux rewrite: %w", ErrUnsupported)
	}
	var out bytes.Buffer
	for _, sec := range sol.WriteOrder() {
		ss := sol.Sectors[sec]
		for i := 0; i < 15; i++ {
			out.WriteByte(0xff)
		}
		out.Write([]byte{0xd5, 0xaa, 0x96})
		chk := byte(ss.Volume) ^ byte(sol.Cylinder) ^ byte(sec)
		for _, v := range []byte{byte(ss.Volume), byte(sol.Cylinder), byte(sec), chk} {
			pair := Encode44(v)
			out.Write(pair[:])
		}
		out.Write([]byte{0xde, 0xaa, 0xeb})
		if ss.Data == nil {
			// the sector never yielded a data field; keep its address
			// mark but write only gap where the data would go
			for i := 0; i < 38; i++ {
				out.WriteByte(0xff)
			}
			continue
		}
		for i := 0; i < 6; i++ {
			out.WriteByte(0xff)
		}
		out.Write([]byte{0xd5, 0xaa, 0xad})
		out.Write(EncodeSector62(ss.Data, 0))
		out.Write([]byte{0xde, 0xaa, 0xeb})
		for i := 0; i < 32; i++ {
			out.WriteByte(0xff)
		}
	}
	bits := out.Bytes()
	if len(bits) > len(trk.Bits) {
		return fmt.Errorf("track position %d: encoded track too long: %w", pos, ErrNoSpace)
	}
	copy(trk.Bits, bits)
	for i := len(bits); i < len(trk.Bits); i++ {
		trk.Bits[i] = 0xff
	}
	trk.BitCount = len(trk.Bits) * 8
	delete(w.solved, pos)
	delete(w.schemes, pos)
	return nil
}

// Denibblize materializes a standard 35-track sector image from the flux
// data so the file system layer can interpret it. Missing or damaged
// sectors read as zero fill; the bridge is a snapshot, not a write path.
func (w *WOZWrapper) Denibblize() (*DSKWrapper, error) {
	plain := make([]byte, STD_DISK_BYTES)
	readable := 0
	for track := 0; track < STD_TRACKS_PER_DISK; track++ {
		sol := w.Solve(QuarterPos(track, 0))
		for phys, ss := range sol.Sectors {
			if ss.Data == nil || phys >= STD_SECTORS_PER_TRACK {
				continue
			}
			logical := DOS_33_SECTOR_ORDER[phys]
			off := (track*STD_SECTORS_PER_TRACK + logical) * STD_BYTES_PER_SECTOR
			copy(plain[off:off+STD_BYTES_PER_SECTOR], ss.Data)
			readable++
		}
	}
	if readable == 0 {
		return nil, fmt.Errorf("woz: no readable sectors: %w", ErrTrackUnreadable)
	}
	return NewDSKWrapperBin(plain, w.Filename)
}
