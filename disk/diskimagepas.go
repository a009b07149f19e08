package disk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const PASCAL_BLOCK_SIZE = 512
const PASCAL_VOLUME_BLOCK = 2
const PASCAL_MAX_VOLUME_NAME = 7
const PASCAL_MAX_FILE_NAME = 15
const PASCAL_DIRECTORY_ENTRY_LENGTH = 26
const PASCAL_OVERSIZE_DIR = 32

// IsPascal probes the volume directory header under each plausible sector
// order. The header has fixed zero words around a short volume name, which
// is enough of a signature in practice.
func (dsk *DSKWrapper) IsPascal() (bool, SectorOrder, string) {

	oldFormat := dsk.Format
	oldLayout := dsk.Layout

	defer func() {
		dsk.Format = oldFormat
		dsk.Layout = oldLayout
	}()

	if len(dsk.Data) != STD_DISK_BYTES {
		return false, oldLayout, ""
	}

	dsk.Format = GetDiskFormat(DF_PASCAL)

	for _, l := range []SectorOrder{SectorOrderProDOS, SectorOrderDOS33, SectorOrderLinear} {

		dsk.Layout = l

		data, err := dsk.GetBlock(PASCAL_VOLUME_BLOCK)
		if err != nil {
			continue
		}

		if !(data[0x00] == 0 && data[0x01] == 0) ||
			!(data[0x04] == 0 && data[0x05] == 0) ||
			!(data[0x06] > 0 && data[0x06] <= PASCAL_MAX_VOLUME_NAME) {
			continue
		}

		l0 := int(data[0x06])
		name := data[0x07 : 0x07+l0]

		str := ""
		ok := true
		for _, ch := range name {
			if ch == 0x00 {
				break
			}
			if ch < 0x20 || ch >= 0x7f || strings.Contains("$=?,[#:", string(ch)) {
				ok = false
				break
			}
			str += string(ch)
		}
		if !ok || str == "" {
			continue
		}

		return true, l, str
	}

	return false, oldLayout, ""

}

type PascalVolumeHeader struct {
	data [PASCAL_DIRECTORY_ENTRY_LENGTH]byte
}

func (pvh *PascalVolumeHeader) SetData(data []byte) {
	for i, v := range data {
		if i < len(pvh.data) {
			pvh.data[i] = v
		}
	}
}

func (pvh *PascalVolumeHeader) GetStartBlock() int {
	return int(pvh.data[0x00]) + 256*int(pvh.data[0x01])
}

func (pvh *PascalVolumeHeader) GetNextBlock() int {
	return int(pvh.data[0x02]) + 256*int(pvh.data[0x03])
}

type PascalFileType int

const (
	FileType_PAS_NONE PascalFileType = 0
	FileType_PAS_BADD PascalFileType = 1
	FileType_PAS_CODE PascalFileType = 2
	FileType_PAS_TEXT PascalFileType = 3
	FileType_PAS_INFO PascalFileType = 4
	FileType_PAS_DATA PascalFileType = 5
	FileType_PAS_GRAF PascalFileType = 6
	FileType_PAS_FOTO PascalFileType = 7
	FileType_PAS_SECD PascalFileType = 8
)

var PascalTypeMap = map[PascalFileType][2]string{
	0x00: [2]string{"UNK", "ASCII Text"},
	0x01: [2]string{"BAD", "Bad Block"},
	0x02: [2]string{"PCD", "Pascal Code"},
	0x03: [2]string{"PTX", "Pascal Text"},
	0x04: [2]string{"PIF", "Pascal Info"},
	0x05: [2]string{"PDA", "Pascal Data"},
	0x06: [2]string{"GRF", "Pascal Graphics"},
	0x07: [2]string{"FOT", "HiRes Graphics"},
	0x08: [2]string{"SEC", "Secure Directory"},
}

func (ft PascalFileType) String() string {

	info, ok := PascalTypeMap[ft]
	if ok {
		return info[1]
	}

	return "Unknown"

}

func (ft PascalFileType) Ext() string {

	info, ok := PascalTypeMap[ft]
	if ok {
		return info[0]
	}

	return "UNK"

}

func PascalFileTypeFromExt(ext string) PascalFileType {
	for ft, info := range PascalTypeMap {
		if strings.ToUpper(ext) == info[0] {
			return ft
		}
	}
	return 0x00
}

func (pvh *PascalVolumeHeader) GetType() int {
	return int(int(pvh.data[0x04]) + 256*int(pvh.data[0x05]))
}

func (pvh *PascalVolumeHeader) GetNameLength() int {
	return int(pvh.data[0x06]) & 0x07
}

func (pvh *PascalVolumeHeader) GetName() string {
	l := pvh.GetNameLength()
	return string(pvh.data[0x07 : 0x07+l])
}

func (pvh *PascalVolumeHeader) GetTotalBlocks() int {
	return int(pvh.data[0x0e]) + 256*int(pvh.data[0x0f])
}

func (pvh *PascalVolumeHeader) GetNumFiles() int {
	return int(pvh.data[0x10]) + 256*int(pvh.data[0x11])
}

func (pvh *PascalVolumeHeader) SetNumFiles(n int) {
	pvh.data[0x10] = byte(n & 0xff)
	pvh.data[0x11] = byte(n / 0x100)
}

type PascalFileEntry struct {
	data [PASCAL_DIRECTORY_ENTRY_LENGTH]byte
}

func (pfe *PascalFileEntry) SetData(data []byte) {
	for i, v := range data {
		if i < len(pfe.data) {
			pfe.data[i] = v
		}
	}
}

// Pascal files carry no access flags; the volume layer treats them all as
// writable.
func (pfe *PascalFileEntry) IsLocked() bool {
	return false
}

func (pfe *PascalFileEntry) GetStartBlock() int {
	return int(pfe.data[0x00]) + 256*int(pfe.data[0x01])
}

func (pfe *PascalFileEntry) SetStartBlock(b int) {
	pfe.data[0x00] = byte(b & 0xff)
	pfe.data[0x01] = byte(b / 0x100)
}

func (pfe *PascalFileEntry) GetNextBlock() int {
	return int(pfe.data[0x02]) + 256*int(pfe.data[0x03])
}

func (pfe *PascalFileEntry) SetNextBlock(b int) {
	pfe.data[0x02] = byte(b & 0xff)
	pfe.data[0x03] = byte(b / 0x100)
}

func (pfe *PascalFileEntry) GetType() PascalFileType {
	return PascalFileType((int(pfe.data[0x04]) + 256*int(pfe.data[0x05])) & 0x0f)
}

func (pfe *PascalFileEntry) SetType(t PascalFileType) {
	pfe.data[0x04] = byte(t)
	pfe.data[0x05] = 0
}

func (pfe *PascalFileEntry) GetNameLength() int {
	return int(pfe.data[0x06]) & 0x0f
}

func (pfe *PascalFileEntry) GetName() string {
	l := pfe.GetNameLength()
	return string(pfe.data[0x07 : 0x07+l])
}

func (pfe *PascalFileEntry) SetName(name string) {
	name = strings.ToUpper(name)
	if len(name) > PASCAL_MAX_FILE_NAME {
		name = name[:PASCAL_MAX_FILE_NAME]
	}
	for i := 0; i < PASCAL_MAX_FILE_NAME; i++ {
		pfe.data[0x07+i] = 0x00
	}
	copy(pfe.data[0x07:], []byte(name))
	pfe.data[0x06] = byte(len(name))
}

func (pfe *PascalFileEntry) GetBytesRemaining() int {
	return int(pfe.data[0x16]) + 256*int(pfe.data[0x17])
}

func (pfe *PascalFileEntry) SetBytesRemaining(b int) {
	pfe.data[0x16] = byte(b & 0xff)
	pfe.data[0x17] = byte(b / 0x100)
}

func (pfe *PascalFileEntry) GetFileSize() int {
	return pfe.GetBytesRemaining() + (pfe.GetNextBlock()-pfe.GetStartBlock()-1)*PASCAL_BLOCK_SIZE
}

// Pascal packs the mod date as month(4) day(5) year(7).
func (pfe *PascalFileEntry) ModTime() time.Time {
	bits := int(pfe.data[0x18]) + 256*int(pfe.data[0x19])
	month := bits & 0x0f
	day := (bits >> 4) & 0x1f
	year := (bits >> 9) & 0x7f
	if year < 40 {
		year += 100
	}
	if month == 0 {
		return time.Time{}
	}
	return time.Date(1900+year, time.Month(month), day, 0, 0, 0, 0, time.Local)
}

func (pfe *PascalFileEntry) SetModTime(t time.Time) {
	year := t.Year() - 1900
	if year > 99 {
		year -= 100
	}
	bits := (year << 9) | (t.Day() << 4) | int(t.Month())
	pfe.data[0x18] = byte(bits & 0xff)
	pfe.data[0x19] = byte(bits / 0x100)
}

// pascalReadDirectory loads the directory region as one buffer plus its
// parsed header.
func (dsk *DSKWrapper) pascalReadDirectory() (*PascalVolumeHeader, []byte, int, error) {

	d, err := dsk.GetBlock(PASCAL_VOLUME_BLOCK)
	if err != nil {
		return nil, nil, 0, err
	}

	pvh := &PascalVolumeHeader{}
	pvh.SetData(d)
	numBlocks := pvh.GetNextBlock() - PASCAL_VOLUME_BLOCK

	if numBlocks < 0 || numBlocks > PASCAL_OVERSIZE_DIR {
		return pvh, nil, 0, fmt.Errorf("pascal directory: %w", ErrVolumeInconsistent)
	}

	catdata := make([]byte, 0, numBlocks*PASCAL_BLOCK_SIZE)
	for block := PASCAL_VOLUME_BLOCK; block < PASCAL_VOLUME_BLOCK+numBlocks; block++ {
		data, err := dsk.GetBlock(block)
		if err != nil {
			return pvh, catdata, numBlocks, err
		}
		catdata = append(catdata, data...)
	}

	return pvh, catdata, numBlocks, nil
}

func (dsk *DSKWrapper) pascalWriteDirectory(catdata []byte, numBlocks int) error {
	for i := 0; i < numBlocks; i++ {
		start := i * PASCAL_BLOCK_SIZE
		end := start + PASCAL_BLOCK_SIZE
		if end > len(catdata) {
			end = len(catdata)
		}
		if err := dsk.PutBlock(PASCAL_VOLUME_BLOCK+i, catdata[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (dsk *DSKWrapper) PascalGetCatalog(pattern string) ([]*PascalFileEntry, error) {

	pattern = strings.Replace(pattern, ".", "[.]", -1)
	pattern = strings.Replace(pattern, "*", ".*", -1)
	pattern = strings.Replace(pattern, "?", ".", -1)

	rx := regexp.MustCompile("(?i)" + pattern)

	files := make([]*PascalFileEntry, 0)

	pvh, catdata, _, err := dsk.pascalReadDirectory()
	if err != nil {
		return files, err
	}

	dirPtr := PASCAL_DIRECTORY_ENTRY_LENGTH
	for i := 0; i < pvh.GetNumFiles(); i++ {
		b := catdata[dirPtr : dirPtr+PASCAL_DIRECTORY_ENTRY_LENGTH]
		fd := &PascalFileEntry{}
		fd.SetData(b)

		if rx.MatchString(fd.GetName()) {
			files = append(files, fd)
		}

		dirPtr += PASCAL_DIRECTORY_ENTRY_LENGTH
	}

	return files, nil

}

func (dsk *DSKWrapper) PascalGetNamedEntry(name string) (*PascalFileEntry, error) {
	files, err := dsk.PascalGetCatalog("*")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if strings.EqualFold(f.GetName(), name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

func (dsk *DSKWrapper) PascalUsedBitmap() ([]bool, error) {

	activeBlocks := dsk.Format.BPD()

	used := make([]bool, activeBlocks)

	pvh, _, numBlocks, err := dsk.pascalReadDirectory()
	if err != nil {
		return used, err
	}
	_ = pvh
	for b := 0; b < PASCAL_VOLUME_BLOCK+numBlocks && b < activeBlocks; b++ {
		used[b] = true
	}

	files, err := dsk.PascalGetCatalog("*")
	if err != nil {
		return used, err
	}

	for _, file := range files {

		length := file.GetNextBlock() - file.GetStartBlock()
		start := file.GetStartBlock()
		if start+length > activeBlocks {
			continue // file is bad
		}

		for block := start; block < start+length; block++ {
			used[block] = true
		}

	}

	return used, nil

}

func (dsk *DSKWrapper) PascalReadFile(file *PascalFileEntry) ([]byte, error) {

	activeSectors := dsk.Format.BPD()

	length := file.GetNextBlock() - file.GetStartBlock()
	start := file.GetStartBlock()

	// If file is damaged return nothing
	if start+length > activeSectors {
		return []byte(nil), nil
	}

	block := start
	data := make([]byte, 0)
	for block < start+length && len(data) < file.GetFileSize() {

		chunk, err := dsk.GetBlock(block)
		if err != nil {
			return data, err
		}
		needed := file.GetFileSize() - len(data)
		if needed >= PASCAL_BLOCK_SIZE {
			data = append(data, chunk...)
		} else {
			data = append(data, chunk[:needed]...)
		}

		block++

	}

	return data, nil

}

// pascalGap is a candidate run of free blocks between allocated extents.
type pascalGap struct {
	start  int
	length int
}

// pascalFreeGaps lists the free extents on the volume. Pascal files are
// contiguous, so fragmentation matters: total free space can exceed the
// largest writable file.
func (dsk *DSKWrapper) pascalFreeGaps() ([]pascalGap, error) {

	pvh, _, numBlocks, err := dsk.pascalReadDirectory()
	if err != nil {
		return nil, err
	}

	files, err := dsk.PascalGetCatalog("*")
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].GetStartBlock() < files[j].GetStartBlock()
	})

	var gaps []pascalGap
	cursor := PASCAL_VOLUME_BLOCK + numBlocks
	for _, f := range files {
		if f.GetStartBlock() > cursor {
			gaps = append(gaps, pascalGap{start: cursor, length: f.GetStartBlock() - cursor})
		}
		if f.GetNextBlock() > cursor {
			cursor = f.GetNextBlock()
		}
	}
	if pvh.GetTotalBlocks() > cursor {
		gaps = append(gaps, pascalGap{start: cursor, length: pvh.GetTotalBlocks() - cursor})
	}

	return gaps, nil
}

// PascalFreeBlocks reports (total free, largest contiguous run).
func (dsk *DSKWrapper) PascalFreeBlocks() (int, int, error) {
	gaps, err := dsk.pascalFreeGaps()
	if err != nil {
		return 0, 0, err
	}
	total, largest := 0, 0
	for _, g := range gaps {
		total += g.length
		if g.length > largest {
			largest = g.length
		}
	}
	return total, largest, nil
}

// PascalWriteFile stores a file in the first gap that fits. An existing
// file of the same name is removed first. Directory entries stay sorted by
// start block, which the Pascal system requires.
func (dsk *DSKWrapper) PascalWriteFile(name string, kind PascalFileType, data []byte) error {

	name = strings.ToUpper(name)

	if _, err := dsk.PascalGetNamedEntry(name); err == nil {
		if err := dsk.PascalDeleteFile(name); err != nil {
			return err
		}
	}

	blocksNeeded := (len(data) + PASCAL_BLOCK_SIZE - 1) / PASCAL_BLOCK_SIZE
	if blocksNeeded == 0 {
		blocksNeeded = 1
	}

	gaps, err := dsk.pascalFreeGaps()
	if err != nil {
		return err
	}

	start := -1
	for _, g := range gaps {
		if g.length >= blocksNeeded {
			start = g.start
			break
		}
	}
	if start < 0 {
		return ErrNoSpace
	}

	pvh, catdata, numBlocks, err := dsk.pascalReadDirectory()
	if err != nil {
		return err
	}

	maxEntries := (numBlocks*PASCAL_BLOCK_SIZE)/PASCAL_DIRECTORY_ENTRY_LENGTH - 1
	if pvh.GetNumFiles() >= maxEntries {
		return ErrNoSpace
	}

	// write the data blocks
	for i := 0; i < blocksNeeded; i++ {
		s := i * PASCAL_BLOCK_SIZE
		e := s + PASCAL_BLOCK_SIZE
		if e > len(data) {
			e = len(data)
		}
		chunk := make([]byte, PASCAL_BLOCK_SIZE)
		copy(chunk, data[s:e])
		if err := dsk.PutBlock(start+i, chunk); err != nil {
			return err
		}
	}

	entry := &PascalFileEntry{}
	entry.SetStartBlock(start)
	entry.SetNextBlock(start + blocksNeeded)
	entry.SetType(kind)
	entry.SetName(name)
	rem := len(data) % PASCAL_BLOCK_SIZE
	if rem == 0 {
		rem = PASCAL_BLOCK_SIZE
	}
	entry.SetBytesRemaining(rem)
	entry.SetModTime(time.Now())

	// insert keeping start-block order
	n := pvh.GetNumFiles()
	entries := make([]*PascalFileEntry, 0, n+1)
	for i := 0; i < n; i++ {
		p := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		fe := &PascalFileEntry{}
		fe.SetData(catdata[p : p+PASCAL_DIRECTORY_ENTRY_LENGTH])
		entries = append(entries, fe)
	}
	entries = append(entries, entry)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].GetStartBlock() < entries[j].GetStartBlock()
	})

	for i, fe := range entries {
		p := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		copy(catdata[p:p+PASCAL_DIRECTORY_ENTRY_LENGTH], fe.data[:])
	}
	pvh.SetNumFiles(n + 1)
	copy(catdata[0:PASCAL_DIRECTORY_ENTRY_LENGTH], pvh.data[:])

	return dsk.pascalWriteDirectory(catdata, numBlocks)
}

// PascalDeleteFile removes the directory entry; the blocks become part of
// the surrounding gap.
func (dsk *DSKWrapper) PascalDeleteFile(name string) error {

	pvh, catdata, numBlocks, err := dsk.pascalReadDirectory()
	if err != nil {
		return err
	}

	n := pvh.GetNumFiles()
	found := -1
	for i := 0; i < n; i++ {
		p := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		fe := &PascalFileEntry{}
		fe.SetData(catdata[p : p+PASCAL_DIRECTORY_ENTRY_LENGTH])
		if strings.EqualFold(fe.GetName(), name) {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	// shift the remaining entries down
	for i := found; i < n-1; i++ {
		src := (i + 2) * PASCAL_DIRECTORY_ENTRY_LENGTH
		dst := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		copy(catdata[dst:dst+PASCAL_DIRECTORY_ENTRY_LENGTH], catdata[src:src+PASCAL_DIRECTORY_ENTRY_LENGTH])
	}
	last := n * PASCAL_DIRECTORY_ENTRY_LENGTH
	for i := 0; i < PASCAL_DIRECTORY_ENTRY_LENGTH; i++ {
		catdata[last+i] = 0
	}

	pvh.SetNumFiles(n - 1)
	copy(catdata[0:PASCAL_DIRECTORY_ENTRY_LENGTH], pvh.data[:])

	return dsk.pascalWriteDirectory(catdata, numBlocks)
}

func (dsk *DSKWrapper) PascalRenameFile(name, newname string) error {

	if _, err := dsk.PascalGetNamedEntry(newname); err == nil {
		return ErrNameConflict
	}

	pvh, catdata, numBlocks, err := dsk.pascalReadDirectory()
	if err != nil {
		return err
	}

	n := pvh.GetNumFiles()
	for i := 0; i < n; i++ {
		p := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		fe := &PascalFileEntry{}
		fe.SetData(catdata[p : p+PASCAL_DIRECTORY_ENTRY_LENGTH])
		if strings.EqualFold(fe.GetName(), name) {
			fe.SetName(newname)
			copy(catdata[p:p+PASCAL_DIRECTORY_ENTRY_LENGTH], fe.data[:])
			return dsk.pascalWriteDirectory(catdata, numBlocks)
		}
	}

	return fmt.Errorf("%s: %w", name, ErrNotFound)
}
