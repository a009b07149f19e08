package disk

import (
	"fmt"
	"regexp"
	"strings"
)

/*
	CP/M on 5.25 inch Apple media (Softcard layout): 1K allocation blocks,
	three reserved tracks, then the directory in blocks 0-1 followed by
	data. CP/M's 128-byte records interleave through the DOS logical
	sectors with their own skew, so a 1K block is four DOS sectors on one
	track.
*/

const CPM_BLOCK_SIZE = 1024
const CPM_RECORD_SIZE = 128
const CPM_RESERVED_TRACKS = 3
const CPM_TOTAL_BLOCKS = 128
const CPM_DIRECTORY_BLOCKS = 2
const CPM_DIRECTORY_ENTRIES = 64
const CPM_ENTRY_SIZE = 32
const CPM_DELETED_USER = 0xe5
const CPM_MAX_USER = 15
const cpmBlocksPerTrack = 4
const cpmRecordsPerExtent = 128 // 16K logical extent

// cpmPairSkew maps a 256-byte pair index within a track to its DOS
// logical sector.
var cpmPairSkew = [16]int{0, 3, 6, 9, 12, 15, 2, 5, 8, 11, 14, 1, 4, 7, 10, 13}

// CPMGetBlock reads one 1K allocation block.
func (dsk *DSKWrapper) CPMGetBlock(b int) ([]byte, error) {
	if b < 0 || b >= CPM_TOTAL_BLOCKS {
		return nil, fmt.Errorf("cpm block %d: %w", b, ErrOutOfRange)
	}
	track := CPM_RESERVED_TRACKS + b/cpmBlocksPerTrack
	out := make([]byte, 0, CPM_BLOCK_SIZE)
	for j := 0; j < 4; j++ {
		sector := cpmPairSkew[(b%cpmBlocksPerTrack)*4+j]
		if err := dsk.Seek(track, sector); err != nil {
			return nil, err
		}
		out = append(out, dsk.Read()...)
	}
	return out, nil
}

func (dsk *DSKWrapper) CPMPutBlock(b int, data []byte) error {
	if b < 0 || b >= CPM_TOTAL_BLOCKS {
		return fmt.Errorf("cpm block %d: %w", b, ErrOutOfRange)
	}
	for len(data) < CPM_BLOCK_SIZE {
		data = append(data, 0x00)
	}
	track := CPM_RESERVED_TRACKS + b/cpmBlocksPerTrack
	for j := 0; j < 4; j++ {
		sector := cpmPairSkew[(b%cpmBlocksPerTrack)*4+j]
		if err := dsk.Seek(track, sector); err != nil {
			return err
		}
		dsk.Write(data[j*256 : (j+1)*256])
	}
	return nil
}

// CPMExtent is one 32-byte directory slot. A file larger than 16K owns
// several extents sharing the user/name pair, numbered by EX.
type CPMExtent struct {
	Data  []byte
	index int
}

func (fd *CPMExtent) SetData(data []byte, index int) {
	if fd.Data == nil {
		fd.Data = make([]byte, CPM_ENTRY_SIZE)
	}
	copy(fd.Data, data)
	fd.index = index
}

func (fd *CPMExtent) User() int {
	return int(fd.Data[0])
}

func (fd *CPMExtent) SetUser(u int) {
	fd.Data[0] = byte(u)
}

func (fd *CPMExtent) IsDeleted() bool {
	return fd.Data[0] == CPM_DELETED_USER
}

// Name renders NAME.EXT with the flag bits masked off and trailing spaces
// trimmed.
func (fd *CPMExtent) Name() string {
	base := make([]byte, 8)
	ext := make([]byte, 3)
	for i := 0; i < 8; i++ {
		base[i] = fd.Data[1+i] & 0x7f
	}
	for i := 0; i < 3; i++ {
		ext[i] = fd.Data[9+i] & 0x7f
	}
	b := strings.TrimRight(string(base), " ")
	e := strings.TrimRight(string(ext), " ")
	if e == "" {
		return b
	}
	return b + "." + e
}

func (fd *CPMExtent) SetName(name string) error {
	base, ext := cpmSplitName(name)
	if base == "" || len(base) > 8 || len(ext) > 3 {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}
	// preserve flag bits
	for i := 0; i < 8; i++ {
		ch := byte(' ')
		if i < len(base) {
			ch = base[i]
		}
		fd.Data[1+i] = (fd.Data[1+i] & 0x80) | ch
	}
	for i := 0; i < 3; i++ {
		ch := byte(' ')
		if i < len(ext) {
			ch = ext[i]
		}
		fd.Data[9+i] = (fd.Data[9+i] & 0x80) | ch
	}
	return nil
}

func cpmSplitName(name string) (string, string) {
	name = strings.ToUpper(strings.TrimSpace(name))
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}

// Extent sequence number.
func (fd *CPMExtent) ExtentIndex() int {
	return int(fd.Data[12]) + 32*int(fd.Data[14])
}

func (fd *CPMExtent) SetExtentIndex(n int) {
	fd.Data[12] = byte(n % 32)
	fd.Data[13] = 0
	fd.Data[14] = byte(n / 32)
}

// RecordCount is the 128-byte records used in the last logical extent.
func (fd *CPMExtent) RecordCount() int {
	return int(fd.Data[15])
}

func (fd *CPMExtent) SetRecordCount(n int) {
	fd.Data[15] = byte(n)
}

// Allocation returns the block refs, 8-bit on this media.
func (fd *CPMExtent) Allocation() []int {
	var out []int
	for i := 16; i < 32; i++ {
		if fd.Data[i] != 0 {
			out = append(out, int(fd.Data[i]))
		}
	}
	return out
}

func (fd *CPMExtent) SetAllocation(blocks []int) {
	for i := 0; i < 16; i++ {
		v := 0
		if i < len(blocks) {
			v = blocks[i]
		}
		fd.Data[16+i] = byte(v)
	}
}

// ReadOnly flag lives in the high bit of the first extension byte.
func (fd *CPMExtent) IsReadOnly() bool {
	return fd.Data[9]&0x80 != 0
}

func (fd *CPMExtent) SetReadOnly(b bool) {
	fd.Data[9] &= 0x7f
	if b {
		fd.Data[9] |= 0x80
	}
}

// System flag (hidden from DIR) is the high bit of the second extension
// byte.
func (fd *CPMExtent) IsSystem() bool {
	return fd.Data[10]&0x80 != 0
}

func cpmNameValid(fd *CPMExtent) bool {
	for i := 1; i < 12; i++ {
		ch := fd.Data[i] & 0x7f
		if ch < 0x20 || ch == 0x7f {
			return false
		}
	}
	return strings.TrimSpace(fd.Name()) != ""
}

// cpmReadDirectory returns the 2K directory buffer.
func (dsk *DSKWrapper) cpmReadDirectory() ([]byte, error) {
	dir := make([]byte, 0, CPM_DIRECTORY_BLOCKS*CPM_BLOCK_SIZE)
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		chunk, err := dsk.CPMGetBlock(b)
		if err != nil {
			return nil, err
		}
		dir = append(dir, chunk...)
	}
	return dir, nil
}

func (dsk *DSKWrapper) cpmWriteDirectory(dir []byte) error {
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		if err := dsk.CPMPutBlock(b, dir[b*CPM_BLOCK_SIZE:(b+1)*CPM_BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

// IsCPM decides by inspecting the directory: every slot must be a deleted
// marker or a plausible live entry, and nothing else looks like that on
// the other family's disks.
func (dsk *DSKWrapper) IsCPM() bool {

	oldFormat := dsk.Format
	oldLayout := dsk.Layout
	defer func() {
		dsk.Format = oldFormat
		dsk.Layout = oldLayout
	}()

	if len(dsk.Data) != STD_DISK_BYTES {
		return false
	}

	dsk.Format = GetDiskFormat(DF_CPM)
	dsk.Layout = SectorOrderDOS33

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return false
	}

	live := 0
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		fd := &CPMExtent{}
		fd.SetData(dir[i*CPM_ENTRY_SIZE:(i+1)*CPM_ENTRY_SIZE], i)
		if fd.IsDeleted() {
			continue
		}
		if fd.User() > CPM_MAX_USER || !cpmNameValid(fd) {
			return false
		}
		for _, b := range fd.Allocation() {
			if b >= CPM_TOTAL_BLOCKS {
				return false
			}
		}
		live++
	}

	return live > 0
}

// CPMFileEntry is a catalog row: the merged view of all extents of one
// (user, name) pair.
type CPMFileEntry struct {
	UserNumber int
	FileName   string
	Extents    []*CPMExtent
}

func (f *CPMFileEntry) IsLocked() bool {
	return len(f.Extents) > 0 && f.Extents[0].IsReadOnly()
}

// Size in bytes: full logical extents plus the last record count.
func (f *CPMFileEntry) Size() int {
	maxIdx, rc := 0, 0
	for _, x := range f.Extents {
		if x.ExtentIndex() >= maxIdx {
			maxIdx = x.ExtentIndex()
			rc = x.RecordCount()
		}
	}
	return maxIdx*cpmRecordsPerExtent*CPM_RECORD_SIZE + rc*CPM_RECORD_SIZE
}

// CPMGetCatalog lists files for one user number (-1 means all users).
func (dsk *DSKWrapper) CPMGetCatalog(user int, pattern string) ([]*CPMFileEntry, error) {

	var re *regexp.Regexp
	if pattern != "" {
		tmp := strings.Replace(pattern, ".", "[.]", -1)
		tmp = strings.Replace(tmp, "*", ".*", -1)
		tmp = strings.Replace(tmp, "?", ".", -1)
		re = regexp.MustCompile("(?i)^" + tmp + "$")
	}

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*CPMFileEntry)
	var order []string

	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		fd := &CPMExtent{}
		fd.SetData(dir[i*CPM_ENTRY_SIZE:(i+1)*CPM_ENTRY_SIZE], i)
		if fd.IsDeleted() || fd.User() > CPM_MAX_USER {
			continue
		}
		if user >= 0 && fd.User() != user {
			continue
		}
		key := fmt.Sprintf("%d:%s", fd.User(), fd.Name())
		f, ok := merged[key]
		if !ok {
			f = &CPMFileEntry{UserNumber: fd.User(), FileName: fd.Name()}
			merged[key] = f
			order = append(order, key)
		}
		f.Extents = append(f.Extents, fd)
	}

	var files []*CPMFileEntry
	for _, key := range order {
		f := merged[key]
		if re != nil && !re.MatchString(f.FileName) {
			continue
		}
		files = append(files, f)
	}

	return files, nil
}

func (dsk *DSKWrapper) CPMGetNamedEntry(user int, name string) (*CPMFileEntry, error) {
	files, err := dsk.CPMGetCatalog(user, "")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if strings.EqualFold(f.FileName, name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// CPMReadFile concatenates the allocation of every extent in sequence
// order and trims to the record count.
func (dsk *DSKWrapper) CPMReadFile(f *CPMFileEntry) ([]byte, error) {

	extents := append([]*CPMExtent(nil), f.Extents...)
	for i := 1; i < len(extents); i++ {
		for j := i; j > 0 && extents[j-1].ExtentIndex() > extents[j].ExtentIndex(); j-- {
			extents[j-1], extents[j] = extents[j], extents[j-1]
		}
	}

	var data []byte
	for _, x := range extents {
		ext := make([]byte, 0, 16*CPM_BLOCK_SIZE)
		for _, b := range x.Allocation() {
			chunk, err := dsk.CPMGetBlock(b)
			if err != nil {
				return data, err
			}
			ext = append(ext, chunk...)
		}
		want := x.RecordCount() * CPM_RECORD_SIZE
		if want > len(ext) {
			want = len(ext)
		}
		data = append(data, ext[:want]...)
	}

	return data, nil
}

// CPMUsedBitmap marks directory and file blocks.
func (dsk *DSKWrapper) CPMUsedBitmap() ([]bool, error) {
	used := make([]bool, CPM_TOTAL_BLOCKS)
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		used[b] = true
	}
	files, err := dsk.CPMGetCatalog(-1, "")
	if err != nil {
		return used, err
	}
	for _, f := range files {
		for _, x := range f.Extents {
			for _, b := range x.Allocation() {
				if b < CPM_TOTAL_BLOCKS {
					used[b] = true
				}
			}
		}
	}
	return used, nil
}

func (dsk *DSKWrapper) CPMFreeBlocks() (int, error) {
	used, err := dsk.CPMUsedBitmap()
	if err != nil {
		return 0, err
	}
	free := 0
	for _, u := range used {
		if !u {
			free++
		}
	}
	return free, nil
}

// CPMWriteFile stores a file for a user, replacing an existing one. Each
// extent holds up to 16 blocks (16K).
func (dsk *DSKWrapper) CPMWriteFile(user int, name string, data []byte) error {

	if user < 0 || user > CPM_MAX_USER {
		return fmt.Errorf("user %d: %w", user, ErrInvalidType)
	}

	if f, err := dsk.CPMGetNamedEntry(user, name); err == nil {
		if f.IsLocked() {
			return ErrReadOnly
		}
		if err := dsk.CPMDeleteFile(user, name); err != nil {
			return err
		}
	}

	used, err := dsk.CPMUsedBitmap()
	if err != nil {
		return err
	}

	blocksNeeded := (len(data) + CPM_BLOCK_SIZE - 1) / CPM_BLOCK_SIZE
	records := (len(data) + CPM_RECORD_SIZE - 1) / CPM_RECORD_SIZE
	extentsNeeded := (blocksNeeded + 15) / 16
	if extentsNeeded == 0 {
		extentsNeeded = 1
	}

	var blocks []int
	for b := CPM_DIRECTORY_BLOCKS; b < CPM_TOTAL_BLOCKS && len(blocks) < blocksNeeded; b++ {
		if !used[b] {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) < blocksNeeded {
		return ErrNoSpace
	}

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return err
	}

	var freeSlots []int
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		if dir[i*CPM_ENTRY_SIZE] == CPM_DELETED_USER {
			freeSlots = append(freeSlots, i)
		}
	}
	if len(freeSlots) < extentsNeeded {
		return ErrNoSpace
	}

	// data first
	for i, b := range blocks {
		s := i * CPM_BLOCK_SIZE
		e := s + CPM_BLOCK_SIZE
		if e > len(data) {
			e = len(data)
		}
		chunk := make([]byte, CPM_BLOCK_SIZE)
		copy(chunk, data[s:e])
		if err := dsk.CPMPutBlock(b, chunk); err != nil {
			return err
		}
	}

	// then the directory extents
	for xi := 0; xi < extentsNeeded; xi++ {
		slot := freeSlots[xi]
		fd := &CPMExtent{}
		fd.SetData(make([]byte, CPM_ENTRY_SIZE), slot)
		fd.SetUser(user)
		if err := fd.SetName(name); err != nil {
			return err
		}
		fd.SetExtentIndex(xi)

		s := xi * 16
		e := s + 16
		if e > len(blocks) {
			e = len(blocks)
		}
		fd.SetAllocation(blocks[s:e])

		rc := records - xi*cpmRecordsPerExtent
		if rc > cpmRecordsPerExtent {
			rc = cpmRecordsPerExtent
		}
		if rc < 0 {
			rc = 0
		}
		fd.SetRecordCount(rc)

		copy(dir[slot*CPM_ENTRY_SIZE:(slot+1)*CPM_ENTRY_SIZE], fd.Data)
	}

	return dsk.cpmWriteDirectory(dir)
}

// CPMDeleteFile marks every extent of the file deleted; the blocks free
// implicitly.
func (dsk *DSKWrapper) CPMDeleteFile(user int, name string) error {

	f, err := dsk.CPMGetNamedEntry(user, name)
	if err != nil {
		return err
	}
	if f.IsLocked() {
		return ErrReadOnly
	}

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return err
	}
	for _, x := range f.Extents {
		dir[x.index*CPM_ENTRY_SIZE] = CPM_DELETED_USER
	}
	return dsk.cpmWriteDirectory(dir)
}

func (dsk *DSKWrapper) CPMRenameFile(user int, name, newname string) error {

	if _, err := dsk.CPMGetNamedEntry(user, newname); err == nil {
		return ErrNameConflict
	}

	f, err := dsk.CPMGetNamedEntry(user, name)
	if err != nil {
		return err
	}
	if f.IsLocked() {
		return ErrReadOnly
	}

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return err
	}
	for _, x := range f.Extents {
		fd := &CPMExtent{}
		fd.SetData(dir[x.index*CPM_ENTRY_SIZE:(x.index+1)*CPM_ENTRY_SIZE], x.index)
		if err := fd.SetName(newname); err != nil {
			return err
		}
		copy(dir[x.index*CPM_ENTRY_SIZE:(x.index+1)*CPM_ENTRY_SIZE], fd.Data)
	}
	return dsk.cpmWriteDirectory(dir)
}

// CPMSetLocked flips the read-only flag on every extent.
func (dsk *DSKWrapper) CPMSetLocked(user int, name string, lock bool) error {

	f, err := dsk.CPMGetNamedEntry(user, name)
	if err != nil {
		return err
	}

	dir, err := dsk.cpmReadDirectory()
	if err != nil {
		return err
	}
	for _, x := range f.Extents {
		fd := &CPMExtent{}
		fd.SetData(dir[x.index*CPM_ENTRY_SIZE:(x.index+1)*CPM_ENTRY_SIZE], x.index)
		fd.SetReadOnly(lock)
		copy(dir[x.index*CPM_ENTRY_SIZE:(x.index+1)*CPM_ENTRY_SIZE], fd.Data)
	}
	return dsk.cpmWriteDirectory(dir)
}
