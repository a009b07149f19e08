package disk

import "sort"

// SectorCandidate pairs an address field with the data field that
// followed it around the track, if any.
type SectorCandidate struct {
	Addr FieldToken
	Data *FieldToken
}

// rank orders candidates for the same logical address. Checksum validity
// outranks angular position: a fully valid candidate beats an
// address-only one no matter where it sits in the rotation.
func (c SectorCandidate) rank() int {
	switch {
	case c.Addr.Valid && c.Data != nil && c.Data.Valid:
		return 0
	case c.Addr.Valid && c.Data != nil:
		return 1
	case c.Addr.Valid:
		return 2
	case c.Data != nil && c.Data.Valid:
		return 3
	}
	return 4
}

type SolvedSector struct {
	Sector    int
	Volume    int
	BitOffset int
	Data      []byte
	AddrValid bool
	DataValid bool
}

// TrackSolution maps logical sector ids to the chosen data payloads for
// one track position. Order preserves the angular sequence of the chosen
// instances, which is also the write visiting order.
type TrackSolution struct {
	Cylinder int
	Fraction int
	Head     int
	Sectors  map[int]*SolvedSector
	Order    []int
	// Duplicates counts addresses that appeared more than once; a
	// protection signature, not an error.
	Duplicates int
	// TrackMismatches counts valid address fields claiming a different
	// track number than expected.
	TrackMismatches int
}

type SolvePolicy struct {
	// PreferLastInstance keeps the last angular instance on ties instead
	// of the first one encountered going around.
	PreferLastInstance bool
	// ExpectedTrack enables the declared-vs-observed cross check; -1
	// skips it.
	ExpectedTrack int
}

func DefaultSolvePolicy() SolvePolicy {
	return SolvePolicy{ExpectedTrack: -1}
}

// PairFields groups a token sequence into candidates: each data field
// belongs to the nearest preceding address field, and an orphan data
// field stands alone.
func PairFields(tokens []FieldToken) []SectorCandidate {
	var out []SectorCandidate
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == DataField {
			// synthetic placeholder, marked so the solver can skip it
			out = append(out, SectorCandidate{Addr: FieldToken{Kind: DataField, BitOffset: tok.BitOffset}, Data: &tokens[i]})
			continue
		}
		cand := SectorCandidate{Addr: tok}
		if i+1 < len(tokens) && tokens[i+1].Kind == DataField {
			cand.Data = &tokens[i+1]
			i++
		}
		out = append(out, cand)
	}
	return out
}

// SolveTrack resolves a track's field candidates into at most one payload
// per sector address. A track with zero usable addresses yields an empty
// sector set, never an error, so a disk with damaged tracks still
// catalogs.
func SolveTrack(tokens []FieldToken, cylinder, fraction, head int, policy SolvePolicy) *TrackSolution {
	sol := &TrackSolution{
		Cylinder: cylinder,
		Fraction: fraction,
		Head:     head,
		Sectors:  make(map[int]*SolvedSector),
	}
	chosen := make(map[int]SectorCandidate)
	for _, cand := range PairFields(tokens) {
		if cand.Addr.Kind != AddressField {
			continue // orphan data fields cannot be placed
		}
		if policy.ExpectedTrack >= 0 && cand.Addr.Valid && int(cand.Addr.Track) != policy.ExpectedTrack {
			sol.TrackMismatches++
		}
		sec := int(cand.Addr.Sector)
		prev, exists := chosen[sec]
		if !exists {
			chosen[sec] = cand
			continue
		}
		sol.Duplicates++
		switch {
		case cand.rank() < prev.rank():
			chosen[sec] = cand
		case cand.rank() == prev.rank() && policy.PreferLastInstance:
			chosen[sec] = cand
		}
		// equal rank, earlier angular instance stays
	}
	for sec, cand := range chosen {
		ss := &SolvedSector{
			Sector:    sec,
			Volume:    int(cand.Addr.Volume),
			BitOffset: cand.Addr.BitOffset,
			AddrValid: cand.Addr.Valid,
		}
		if cand.Data != nil {
			ss.Data = cand.Data.Payload
			ss.DataValid = cand.Data.Valid
		}
		sol.Sectors[sec] = ss
		sol.Order = append(sol.Order, sec)
	}
	sort.Slice(sol.Order, func(i, j int) bool {
		return sol.Sectors[sol.Order[i]].BitOffset < sol.Sectors[sol.Order[j]].BitOffset
	})
	return sol
}

// WriteOrder reports the sector ids in the angular order the head passes
// them. Multi-sector writes must visit sectors in this order to reproduce
// reference images on tracks with repeated addresses.
func (sol *TrackSolution) WriteOrder() []int {
	out := make([]int, len(sol.Order))
	copy(out, sol.Order)
	return out
}

// CHSSMap renders the solution as [cylinder, head, sector, size] rows in
// angular order for geometry reporting.
func (sol *TrackSolution) CHSSMap() [][4]int {
	var out [][4]int
	for _, sec := range sol.Order {
		ss := sol.Sectors[sec]
		size := len(ss.Data)
		if size == 0 {
			size = STD_BYTES_PER_SECTOR
		}
		out = append(out, [4]int{sol.Cylinder, sol.Head, sec, size})
	}
	return out
}
