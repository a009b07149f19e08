package disk

/*
	Nibble codec. Translates between plain sector bytes and the disk-legal
	bit patterns used by 5.25" media: 4&4 address fields, 5&3 data fields
	(13-sector) and 6&2 data fields (16-sector). The sector scrambling
	follows the drive firmware exactly so that re-encoded tracks match
	reference images byte for byte.
*/

const invalidNibble = 0xff

const chunk53 = 0x33
const chunk62 = 0x56

// Nibbles per data field, including the trailing checksum nibble.
const DATA_NIBS_62 = 343
const DATA_NIBS_53 = 411

var NIBBLE_62 = []byte{
	0x96, 0x97, 0x9a, 0x9b, 0x9d, 0x9e, 0x9f, 0xa6,
	0xa7, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb2, 0xb3,
	0xb4, 0xb5, 0xb6, 0xb7, 0xb9, 0xba, 0xbb, 0xbc,
	0xbd, 0xbe, 0xbf, 0xcb, 0xcd, 0xce, 0xcf, 0xd3,
	0xd6, 0xd7, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde,
	0xdf, 0xe5, 0xe6, 0xe7, 0xe9, 0xea, 0xeb, 0xec,
	0xed, 0xee, 0xef, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6,
	0xf7, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff}

var NIBBLE_53 = []byte{
	0xab, 0xad, 0xae, 0xaf, 0xb5, 0xb6, 0xb7, 0xba,
	0xbb, 0xbd, 0xbe, 0xbf, 0xd6, 0xd7, 0xda, 0xdb,
	0xdd, 0xde, 0xdf, 0xea, 0xeb, 0xed, 0xee, 0xef,
	0xf5, 0xf6, 0xf7, 0xfa, 0xfb, 0xfd, 0xfe, 0xff,
}

var reverse62 [256]byte
var reverse53 [256]byte

func init() {
	for i := range reverse62 {
		reverse62[i] = invalidNibble
		reverse53[i] = invalidNibble
	}
	for i, v := range NIBBLE_62 {
		reverse62[v] = byte(i)
	}
	for i, v := range NIBBLE_53 {
		reverse53[v] = byte(i)
	}
}

func Encode62(val byte) byte {
	return NIBBLE_62[val&0x3f]
}

// Decode62 gives the 6-bit value for a nibble; ok is false for a byte
// outside the translation table. Out-of-table values are decode failures,
// never panics.
func Decode62(nib byte) (byte, bool) {
	v := reverse62[nib]
	return v, v != invalidNibble
}

func Encode53(val byte) byte {
	return NIBBLE_53[val&0x1f]
}

func Decode53(nib byte) (byte, bool) {
	v := reverse53[nib]
	return v, v != invalidNibble
}

// Encode44 spreads a byte across two FM-legal nibbles (odd bits then even
// bits, unused positions forced high).
func Encode44(val byte) [2]byte {
	return [2]byte{(val >> 1) | 0xaa, val | 0xaa}
}

func Decode44(n0, n1 byte) (byte, bool) {
	if n0&0xaa != 0xaa || n1&0xaa != 0xaa {
		return 0, false
	}
	return ((n0 << 1) | 0x01) & n1, true
}

// EncodeSector62 scrambles 256 bytes into 343 nibbles (342 data plus a
// checksum nibble). The rolling xor starts from seed, which is 0 for every
// stock DOS but is a protection hook on some media. Only the low six bits
// of the seed can reach the wire, so both directions mask it.
func EncodeSector62(dat []byte, seed byte) []byte {
	out := make([]byte, DATA_NIBS_62)
	var top [256]byte
	var twos [chunk62]byte
	twoShift := uint(0)
	twoPos := chunk62 - 1
	for i := 0; i < 256; i++ {
		val := dat[i]
		top[i] = val >> 2
		twos[twoPos] |= ((val&1)<<1 | (val&2)>>1) << twoShift
		if twoPos == 0 {
			twoPos = chunk62
			twoShift += 2
		}
		twoPos--
	}
	chk := seed & 0x3f
	idx := 0
	for i := chunk62 - 1; i >= 0; i-- {
		out[idx] = Encode62(twos[i] ^ chk)
		chk = twos[i]
		idx++
	}
	for i := 0; i < 256; i++ {
		out[idx] = Encode62(top[i] ^ chk)
		chk = top[i]
		idx++
	}
	out[idx] = Encode62(chk)
	return out
}

// DecodeSector62 reverses EncodeSector62. The decoded bytes are returned
// along with the checksum verdict; a caller tolerating damaged fields can
// keep the bytes and mark the field invalid.
func DecodeSector62(nibs []byte, seed byte) ([]byte, bool) {
	if len(nibs) < DATA_NIBS_62 {
		return nil, false
	}
	ans := make([]byte, 0, 256)
	var twos [chunk62 * 3]byte
	chk := seed & 0x3f
	idx := 0
	for i := 0; i < chunk62; i++ {
		val, ok := Decode62(nibs[idx])
		if !ok {
			return nil, false
		}
		chk ^= val
		twos[i] = (chk&0x01)<<1 | (chk&0x02)>>1
		twos[i+chunk62] = (chk&0x04)>>1 | (chk&0x08)>>3
		twos[i+chunk62*2] = (chk&0x10)>>3 | (chk&0x20)>>5
		idx++
	}
	for i := 0; i < 256; i++ {
		val, ok := Decode62(nibs[idx])
		if !ok {
			return nil, false
		}
		chk ^= val
		ans = append(ans, (chk<<2)|twos[i])
		idx++
	}
	val, ok := Decode62(nibs[idx])
	if !ok {
		return ans, false
	}
	chk ^= val
	return ans, chk == 0
}

// EncodeSector53 scrambles 256 bytes into 411 nibbles for 13-sector media.
func EncodeSector53(dat []byte, seed byte) []byte {
	out := make([]byte, DATA_NIBS_53)
	var top [256]byte
	var threes [154]byte
	for i := 0; i < chunk53; i++ {
		offset := chunk53 - 1 - i
		top[offset+chunk53*0] = dat[i*5+0] >> 3
		top[offset+chunk53*1] = dat[i*5+1] >> 3
		top[offset+chunk53*2] = dat[i*5+2] >> 3
		top[offset+chunk53*3] = dat[i*5+3] >> 3
		top[offset+chunk53*4] = dat[i*5+4] >> 3
		threes[offset+chunk53*0] = (dat[i*5+0]&0x07)<<2 | (dat[i*5+3]&0x04)>>1 | (dat[i*5+4]&0x04)>>2
		threes[offset+chunk53*1] = (dat[i*5+1]&0x07)<<2 | (dat[i*5+3]&0x02)>>0 | (dat[i*5+4]&0x02)>>1
		threes[offset+chunk53*2] = (dat[i*5+2]&0x07)<<2 | (dat[i*5+3]&0x01)<<1 | (dat[i*5+4]&0x01)>>0
	}
	// the 256th byte rides alone
	top[255] = dat[255] >> 3
	threes[153] = dat[255] & 0x07
	chk := seed & 0x1f
	idx := 0
	for i := len(threes) - 1; i >= 0; i-- {
		out[idx] = Encode53(threes[i] ^ chk)
		chk = threes[i]
		idx++
	}
	for i := 0; i < len(top); i++ {
		out[idx] = Encode53(top[i] ^ chk)
		chk = top[i]
		idx++
	}
	out[idx] = Encode53(chk)
	return out
}

func DecodeSector53(nibs []byte, seed byte) ([]byte, bool) {
	if len(nibs) < DATA_NIBS_53 {
		return nil, false
	}
	var base [256]byte
	var threes [154]byte
	chk := seed & 0x1f
	idx := 0
	for i := len(threes) - 1; i >= 0; i-- {
		val, ok := Decode53(nibs[idx])
		if !ok {
			return nil, false
		}
		chk ^= val
		threes[i] = chk
		idx++
	}
	for i := 0; i < len(base); i++ {
		val, ok := Decode53(nibs[idx])
		if !ok {
			return nil, false
		}
		chk ^= val
		base[i] = chk << 3
		idx++
	}
	val, ok := Decode53(nibs[idx])
	valid := ok
	if ok {
		chk ^= val
		valid = chk == 0
	}
	ans := make([]byte, 0, 256)
	for i := chunk53 - 1; i >= 0; i-- {
		three1 := threes[chunk53*0+i]
		three2 := threes[chunk53*1+i]
		three3 := threes[chunk53*2+i]
		three4 := (three1&0x02)<<1 | (three2 & 0x02) | (three3&0x02)>>1
		three5 := (three1&0x01)<<2 | (three2&0x01)<<1 | (three3 & 0x01)
		ans = append(ans, base[chunk53*0+i]|((three1>>2)&0x07))
		ans = append(ans, base[chunk53*1+i]|((three2>>2)&0x07))
		ans = append(ans, base[chunk53*2+i]|((three3>>2)&0x07))
		ans = append(ans, base[chunk53*3+i]|(three4&0x07))
		ans = append(ans, base[chunk53*4+i]|(three5&0x07))
	}
	ans = append(ans, base[255]|(threes[153]&0x07))
	return ans, valid
}

// BitsToNibbles runs the controller latch over a raw bit stream: bits
// shift in MSB first and a nibble is complete when the high bit of the
// latch is set. Leading zero bits are consumed as sync. The stream is
// walked twice around so fields spanning the index hole are seen whole;
// reported offsets stay within [0,bitCount).
func BitsToNibbles(bits []byte, bitCount int) ([]byte, []int) {
	if bitCount <= 0 || len(bits) == 0 {
		return nil, nil
	}
	nibs := make([]byte, 0, bitCount/8)
	offsets := make([]int, 0, bitCount/8)
	var latch byte
	start := 0
	for i := 0; i < 2*bitCount; i++ {
		pos := i % bitCount
		bit := (bits[pos/8] >> (7 - uint(pos%8))) & 1
		if latch == 0 {
			if bit == 0 {
				continue // sync run
			}
			start = pos
		}
		latch = latch<<1 | bit
		if latch&0x80 != 0 {
			nibs = append(nibs, latch)
			offsets = append(offsets, start)
			latch = 0
		}
	}
	return nibs, offsets
}

type FieldKind int

const (
	AddressField FieldKind = iota
	DataField
)

// FieldToken is one decoded address or data field candidate located at a
// bit offset within its track. Valid reflects both table membership and
// the field's own checksum.
type FieldToken struct {
	Kind      FieldKind
	BitOffset int
	Volume    byte
	Track     byte
	Sector    byte
	Payload   []byte
	Valid     bool
}

// TrackScanner walks a nibble stream looking for field prologs. It is
// restartable and tolerates malformed fields: a bad candidate is emitted
// with Valid=false and scanning continues at the next sync hit.
type TrackScanner struct {
	nibs    []byte
	offsets []int
	scheme  FieldCode
	pos     int
}

// NewTrackScanner takes the nibble stream, the per-nibble bit offsets
// (nil means byte-aligned, as in NIB containers), and the data field
// scheme. Address fields are always 4&4.
func NewTrackScanner(nibs []byte, offsets []int, scheme FieldCode) *TrackScanner {
	if offsets == nil {
		offsets = make([]int, len(nibs))
		for i := range offsets {
			offsets[i] = i * 8
		}
	}
	return &TrackScanner{nibs: nibs, offsets: offsets, scheme: scheme}
}

func (ts *TrackScanner) Reset() {
	ts.pos = 0
}

func (ts *TrackScanner) addrProlog() [3]byte {
	if ts.scheme == FieldCodeGCR53 {
		return [3]byte{0xd5, 0xaa, 0xb5}
	}
	return [3]byte{0xd5, 0xaa, 0x96}
}

func (ts *TrackScanner) dataNibs() int {
	if ts.scheme == FieldCodeGCR53 {
		return DATA_NIBS_53
	}
	return DATA_NIBS_62
}

func (ts *TrackScanner) match(i int, seq [3]byte) bool {
	return i+2 < len(ts.nibs) &&
		ts.nibs[i] == seq[0] && ts.nibs[i+1] == seq[1] && ts.nibs[i+2] == seq[2]
}

// Next returns the next field candidate in bit-offset order. The second
// return is false once the track is exhausted. Absent or too-short track
// data simply exhausts immediately, so a damaged track still catalogs.
func (ts *TrackScanner) Next() (FieldToken, bool) {
	prolog := ts.addrProlog()
	for ts.pos < len(ts.nibs) {
		i := ts.pos
		if ts.match(i, prolog) {
			ts.pos = i + 3
			return ts.decodeAddress(i)
		}
		if ts.match(i, [3]byte{0xd5, 0xaa, 0xad}) {
			ts.pos = i + 3
			return ts.decodeData(i)
		}
		ts.pos++
	}
	return FieldToken{}, false
}

func (ts *TrackScanner) decodeAddress(prologAt int) (FieldToken, bool) {
	tok := FieldToken{Kind: AddressField, BitOffset: ts.offsets[prologAt]}
	if ts.pos+8 > len(ts.nibs) {
		return tok, true
	}
	var fields [4]byte
	ok := true
	for j := 0; j < 4; j++ {
		v, valid := Decode44(ts.nibs[ts.pos+j*2], ts.nibs[ts.pos+j*2+1])
		if !valid {
			ok = false
		}
		fields[j] = v
	}
	ts.pos += 8
	tok.Volume, tok.Track, tok.Sector = fields[0], fields[1], fields[2]
	tok.Valid = ok && fields[3] == fields[0]^fields[1]^fields[2]
	// epilog check; some protected media truncate it, treat as invalid not fatal
	if ts.pos+1 < len(ts.nibs) && (ts.nibs[ts.pos] != 0xde || ts.nibs[ts.pos+1] != 0xaa) {
		tok.Valid = false
	}
	return tok, true
}

func (ts *TrackScanner) decodeData(prologAt int) (FieldToken, bool) {
	tok := FieldToken{Kind: DataField, BitOffset: ts.offsets[prologAt]}
	n := ts.dataNibs()
	if ts.pos+n > len(ts.nibs) {
		return tok, true
	}
	var payload []byte
	var ok bool
	if ts.scheme == FieldCodeGCR53 {
		payload, ok = DecodeSector53(ts.nibs[ts.pos:ts.pos+n], 0)
	} else {
		payload, ok = DecodeSector62(ts.nibs[ts.pos:ts.pos+n], 0)
	}
	ts.pos += n
	tok.Payload = payload
	tok.Valid = ok
	return tok, true
}

// ScanTrack materializes the full candidate sequence for one track.
func ScanTrack(nibs []byte, offsets []int, scheme FieldCode) []FieldToken {
	ts := NewTrackScanner(nibs, offsets, scheme)
	var out []FieldToken
	seen := make(map[int]bool)
	for {
		tok, more := ts.Next()
		if !more {
			break
		}
		// wrapped scans revisit the same physical field; keep the first
		key := int(tok.Kind)<<24 | tok.BitOffset
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tok)
	}
	return out
}
