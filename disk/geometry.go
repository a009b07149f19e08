package disk

import "fmt"

// FieldCode identifies the nibble scheme used for an address or data
// field on one track.
type FieldCode int

const (
	FieldCodeNone FieldCode = iota
	FieldCodeFM44
	FieldCodeGCR53
	FieldCodeGCR62
)

func (fc FieldCode) String() string {
	switch fc {
	case FieldCodeFM44:
		return "4&4"
	case FieldCodeGCR53:
		return "5&3"
	case FieldCodeGCR62:
		return "6&2"
	}
	return "none"
}

// ChunkAddr addresses one logical chunk in an image. Block addressing and
// CHS addressing are both supported; CHS carries an optional sector size
// for tracks that mix sizes, and a quarter-step fraction for media that
// put data between whole track positions.
type ChunkAddr struct {
	CHS      bool
	Block    int
	Cylinder int
	// Fraction is the quarter-track offset 0..3 added to Cylinder.
	Fraction int
	Head     int
	Sector   int
	// Size in bytes, 0 means the track default.
	Size int
}

func BlockAddr(n int) ChunkAddr {
	return ChunkAddr{Block: n}
}

func CHSAddr(c, h, s int) ChunkAddr {
	return ChunkAddr{CHS: true, Cylinder: c, Head: h, Sector: s}
}

func (a ChunkAddr) String() string {
	if !a.CHS {
		return fmt.Sprintf("block %d", a.Block)
	}
	if a.Fraction != 0 {
		return fmt.Sprintf("cyl %d.%d head %d sector %d", a.Cylinder, 25*a.Fraction, a.Head, a.Sector)
	}
	return fmt.Sprintf("cyl %d head %d sector %d", a.Cylinder, a.Head, a.Sector)
}

// TrackGeometry reports one track position. CHSSMap rows are
// [cylinder, head, sector, size]; consumers that predate the size element
// ignore the extra column.
type TrackGeometry struct {
	Cylinder   int
	Fraction   int
	Head       int
	Sectors    int
	SectorSize int
	AddrCode   FieldCode
	DataCode   FieldCode
	CHSSMap    [][4]int
}

// FracTrack returns the position in hundredths, e.g. 1725 for track 17.25.
func (tg TrackGeometry) FracTrack() int {
	return tg.Cylinder*100 + tg.Fraction*25
}

type DiskGeometry struct {
	Cylinders  int
	Heads      int
	BlockCount int
	BlockSize  int
	Tracks     []TrackGeometry
}

// SectorsPerTrack returns the sector count of the first whole-track entry,
// which is the nominal value for uniform images.
func (g DiskGeometry) SectorsPerTrack() int {
	for _, t := range g.Tracks {
		if t.Fraction == 0 {
			return t.Sectors
		}
	}
	return 0
}

func (g DiskGeometry) TrackAt(cyl, fraction, head int) (TrackGeometry, bool) {
	for _, t := range g.Tracks {
		if t.Cylinder == cyl && t.Fraction == fraction && t.Head == head {
			return t, true
		}
	}
	return TrackGeometry{}, false
}
