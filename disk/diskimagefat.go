package disk

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

/*
	FAT12 floppies. Geometry comes from the BPB when one is present; DOS
	1.x era disks carry no BPB, so the fallback keys off the media
	descriptor and raw size. Two FAT copies are kept; reads prefer the
	primary and fall back to the backup when the primary fails its
	signature check.
*/

const FAT_DIR_ENTRY_SIZE = 32
const FAT_DELETED_MARK = 0xe5
const FAT12_EOC = 0xff8 // and above means end of chain
const FAT12_FREE = 0x000

const (
	FATAttrReadOnly  = 0x01
	FATAttrHidden    = 0x02
	FATAttrSystem    = 0x04
	FATAttrVolumeID  = 0x08
	FATAttrDirectory = 0x10
	FATAttrArchive   = 0x20
)

// FATParams is the resolved geometry of one volume.
type FATParams struct {
	BytesPerSector    int
	SectorsPerCluster int
	ReservedSectors   int
	NumFATs           int
	RootEntries       int
	TotalSectors      int
	Media             byte
	SectorsPerFAT     int
}

func (p FATParams) FATStart(n int) int {
	return p.ReservedSectors + n*p.SectorsPerFAT
}

func (p FATParams) RootDirStart() int {
	return p.ReservedSectors + p.NumFATs*p.SectorsPerFAT
}

func (p FATParams) RootDirSectors() int {
	return (p.RootEntries * FAT_DIR_ENTRY_SIZE) / p.BytesPerSector
}

func (p FATParams) DataStart() int {
	return p.RootDirStart() + p.RootDirSectors()
}

func (p FATParams) ClusterCount() int {
	return (p.TotalSectors - p.DataStart()) / p.SectorsPerCluster
}

// fatDefaultParams covers BPB-less media by size.
func fatDefaultParams(size int) FATParams {
	p := FATParams{BytesPerSector: 512, ReservedSectors: 1, NumFATs: 2}
	switch size {
	case 163840:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 1, 1, 64, 0xfe
	case 184320:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 1, 2, 64, 0xfc
	case 327680:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 2, 1, 112, 0xff
	case 368640:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 2, 2, 112, 0xfd
	case 737280:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 2, 3, 112, 0xf9
	default:
		p.SectorsPerCluster, p.SectorsPerFAT, p.RootEntries, p.Media = 1, 9, 224, 0xf0
	}
	p.TotalSectors = size / 512
	return p
}

func le16(b []byte, off int) int {
	return int(b[off]) + 256*int(b[off+1])
}

// FATGetParams reads the BPB out of the boot sector, or falls back to the
// size table when the BPB is absent or implausible.
func (dsk *DSKWrapper) FATGetParams() (FATParams, error) {

	boot, err := dsk.GetBlock(0)
	if err != nil {
		return FATParams{}, err
	}

	p := FATParams{
		BytesPerSector:    le16(boot, 11),
		SectorsPerCluster: int(boot[13]),
		ReservedSectors:   le16(boot, 14),
		NumFATs:           int(boot[16]),
		RootEntries:       le16(boot, 17),
		TotalSectors:      le16(boot, 19),
		Media:             boot[21],
		SectorsPerFAT:     le16(boot, 22),
	}

	if p.BytesPerSector != FAT_BYTES_PER_SECTOR ||
		p.SectorsPerCluster == 0 || p.SectorsPerCluster > 8 ||
		p.NumFATs == 0 || p.NumFATs > 2 ||
		p.RootEntries == 0 || p.RootEntries%16 != 0 ||
		p.SectorsPerFAT == 0 ||
		p.TotalSectors*p.BytesPerSector > len(dsk.Data) {
		return fatDefaultParams(len(dsk.Data)), nil
	}

	return p, nil
}

// fatTableValid checks the reserved entries: entry 0 holds the media
// descriptor, entry 1 is end-of-chain fill.
func fatTableValid(table []byte, media byte) bool {
	if len(table) < 3 {
		return false
	}
	if table[0] != media {
		return false
	}
	e1 := (int(table[1]) >> 4) + (int(table[2]) << 4)
	return e1 >= FAT12_EOC
}

// FATGetTable returns the working allocation table, preferring the
// primary copy and falling back to the backup when the primary's
// reserved entries are damaged. The returned index reports which copy
// won.
func (dsk *DSKWrapper) FATGetTable(p FATParams) ([]byte, int, error) {

	read := func(n int) ([]byte, error) {
		table := make([]byte, 0, p.SectorsPerFAT*p.BytesPerSector)
		for s := 0; s < p.SectorsPerFAT; s++ {
			chunk, err := dsk.GetBlock(p.FATStart(n) + s)
			if err != nil {
				return nil, err
			}
			table = append(table, chunk...)
		}
		return table, nil
	}

	primary, err := read(0)
	if err == nil && fatTableValid(primary, p.Media) {
		return primary, 0, nil
	}

	if p.NumFATs > 1 {
		backup, berr := read(1)
		if berr == nil && fatTableValid(backup, p.Media) {
			return backup, 1, nil
		}
	}

	if err != nil {
		return nil, 0, err
	}
	return nil, 0, fmt.Errorf("allocation tables damaged: %w", ErrVolumeInconsistent)
}

// fat12Get reads a 12-bit entry.
func fat12Get(table []byte, cluster int) int {
	off := cluster + cluster/2
	if off+1 >= len(table) {
		return FAT12_EOC
	}
	if cluster%2 == 0 {
		return int(table[off]) + (int(table[off+1]&0x0f) << 8)
	}
	return (int(table[off]) >> 4) + (int(table[off+1]) << 4)
}

func fat12Set(table []byte, cluster, value int) {
	off := cluster + cluster/2
	if cluster%2 == 0 {
		table[off] = byte(value & 0xff)
		table[off+1] = (table[off+1] & 0xf0) | byte((value>>8)&0x0f)
	} else {
		table[off] = (table[off] & 0x0f) | byte((value&0x0f)<<4)
		table[off+1] = byte(value >> 4)
	}
}

// FATPutTable writes the table to every copy.
func (dsk *DSKWrapper) FATPutTable(p FATParams, table []byte) error {
	for c := 0; c < p.NumFATs; c++ {
		for s := 0; s < p.SectorsPerFAT; s++ {
			start := s * p.BytesPerSector
			end := start + p.BytesPerSector
			if end > len(table) {
				end = len(table)
			}
			chunk := make([]byte, p.BytesPerSector)
			copy(chunk, table[start:end])
			if err := dsk.PutBlock(p.FATStart(c)+s, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// FATDirEntry is a 32-byte directory slot.
type FATDirEntry struct {
	Data   []byte
	sector int
	offset int
}

func (fd *FATDirEntry) SetData(data []byte, sector, offset int) {
	if fd.Data == nil {
		fd.Data = make([]byte, FAT_DIR_ENTRY_SIZE)
	}
	copy(fd.Data, data)
	fd.sector = sector
	fd.offset = offset
}

func (fd *FATDirEntry) IsFree() bool {
	return fd.Data[0] == 0x00
}

func (fd *FATDirEntry) IsDeleted() bool {
	return fd.Data[0] == FAT_DELETED_MARK
}

func (fd *FATDirEntry) Attr() byte {
	return fd.Data[11]
}

func (fd *FATDirEntry) SetAttr(a byte) {
	fd.Data[11] = a
}

func (fd *FATDirEntry) IsDirectory() bool {
	return fd.Attr()&FATAttrDirectory != 0
}

func (fd *FATDirEntry) IsVolumeLabel() bool {
	return fd.Attr()&FATAttrVolumeID != 0
}

func (fd *FATDirEntry) IsLocked() bool {
	return fd.Attr()&FATAttrReadOnly != 0
}

func (fd *FATDirEntry) SetLocked(b bool) {
	if b {
		fd.SetAttr(fd.Attr() | FATAttrReadOnly)
	} else {
		fd.SetAttr(fd.Attr() &^ FATAttrReadOnly)
	}
}

// Name renders 8.3 with the implied dot.
func (fd *FATDirEntry) Name() string {
	base := strings.TrimRight(string(fd.Data[0:8]), " ")
	ext := strings.TrimRight(string(fd.Data[8:11]), " ")
	if len(base) > 0 && base[0] == 0x05 {
		// 0x05 escapes a leading 0xe5 byte
		base = string(byte(0xe5)) + base[1:]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func (fd *FATDirEntry) SetName(name string) error {
	base, ext := cpmSplitName(name)
	if base == "" || len(base) > 8 || len(ext) > 3 {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}
	for i := 0; i < 8; i++ {
		ch := byte(' ')
		if i < len(base) {
			ch = base[i]
		}
		fd.Data[i] = ch
	}
	for i := 0; i < 3; i++ {
		ch := byte(' ')
		if i < len(ext) {
			ch = ext[i]
		}
		fd.Data[8+i] = ch
	}
	return nil
}

func (fd *FATDirEntry) FirstCluster() int {
	return le16(fd.Data, 26)
}

func (fd *FATDirEntry) SetFirstCluster(c int) {
	fd.Data[26] = byte(c & 0xff)
	fd.Data[27] = byte(c >> 8)
}

func (fd *FATDirEntry) Size() int {
	return le16(fd.Data, 28) + 65536*le16(fd.Data, 30)
}

func (fd *FATDirEntry) SetSize(v int) {
	fd.Data[28] = byte(v & 0xff)
	fd.Data[29] = byte((v >> 8) & 0xff)
	fd.Data[30] = byte((v >> 16) & 0xff)
	fd.Data[31] = byte((v >> 24) & 0xff)
}

func fatStampToTime(datebits, timebits int) time.Time {
	if datebits == 0 {
		return time.Time{}
	}
	day := datebits & 0x1f
	month := (datebits >> 5) & 0x0f
	year := 1980 + (datebits >> 9)
	secs := (timebits & 0x1f) * 2
	mins := (timebits >> 5) & 0x3f
	hours := timebits >> 11
	return time.Date(year, time.Month(month), day, hours, mins, secs, 0, time.Local)
}

func timeToFATStamp(t time.Time) (int, int) {
	if t.IsZero() {
		return 0, 0
	}
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	datebits := (year << 9) | (int(t.Month()) << 5) | t.Day()
	timebits := (t.Hour() << 11) | (t.Minute() << 5) | (t.Second() / 2)
	return datebits, timebits
}

func (fd *FATDirEntry) ModTime() time.Time {
	return fatStampToTime(le16(fd.Data, 24), le16(fd.Data, 22))
}

func (fd *FATDirEntry) SetModTime(t time.Time) {
	d, tm := timeToFATStamp(t)
	fd.Data[22] = byte(tm & 0xff)
	fd.Data[23] = byte(tm >> 8)
	fd.Data[24] = byte(d & 0xff)
	fd.Data[25] = byte(d >> 8)
}

func (fd *FATDirEntry) Publish(dsk *DSKWrapper) error {
	sec, err := dsk.GetBlock(fd.sector)
	if err != nil {
		return err
	}
	buf := make([]byte, len(sec))
	copy(buf, sec)
	copy(buf[fd.offset:fd.offset+FAT_DIR_ENTRY_SIZE], fd.Data)
	return dsk.PutBlock(fd.sector, buf)
}

// fatDirSectors lists the sectors holding a directory: the fixed root
// region, or a cluster chain for subdirectories.
func (dsk *DSKWrapper) fatDirSectors(p FATParams, table []byte, startCluster int) []int {
	var out []int
	if startCluster == 0 {
		for s := 0; s < p.RootDirSectors(); s++ {
			out = append(out, p.RootDirStart()+s)
		}
		return out
	}
	cl := startCluster
	for i := 0; cl >= 2 && cl < FAT12_EOC && i < p.ClusterCount(); i++ {
		base := p.DataStart() + (cl-2)*p.SectorsPerCluster
		for s := 0; s < p.SectorsPerCluster; s++ {
			out = append(out, base+s)
		}
		cl = fat12Get(table, cl)
	}
	return out
}

// fatFindDir resolves a /-separated path to a directory start cluster
// (0 = root).
func (dsk *DSKWrapper) fatFindDir(p FATParams, table []byte, path string) (int, error) {
	path = strings.Trim(path, "/")
	cluster := 0
	if path == "" {
		return cluster, nil
	}
	for _, seg := range strings.Split(path, "/") {
		entries, err := dsk.fatScanDir(p, table, cluster)
		if err != nil {
			return 0, err
		}
		found := false
		for _, e := range entries {
			if e.IsDirectory() && strings.EqualFold(e.Name(), seg) {
				cluster = e.FirstCluster()
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%s: %w", seg, ErrNotFound)
		}
	}
	return cluster, nil
}

func (dsk *DSKWrapper) fatScanDir(p FATParams, table []byte, startCluster int) ([]*FATDirEntry, error) {
	var out []*FATDirEntry
	for _, sec := range dsk.fatDirSectors(p, table, startCluster) {
		data, err := dsk.GetBlock(sec)
		if err != nil {
			return out, err
		}
		for off := 0; off+FAT_DIR_ENTRY_SIZE <= len(data); off += FAT_DIR_ENTRY_SIZE {
			fd := &FATDirEntry{}
			fd.SetData(data[off:off+FAT_DIR_ENTRY_SIZE], sec, off)
			if fd.IsFree() {
				return out, nil
			}
			if fd.IsDeleted() || fd.IsVolumeLabel() {
				continue
			}
			out = append(out, fd)
		}
	}
	return out, nil
}

// FATGetCatalog lists a directory, "" or "/" being the root.
func (dsk *DSKWrapper) FATGetCatalog(path string, pattern string) ([]*FATDirEntry, error) {

	var re *regexp.Regexp
	if pattern != "" {
		tmp := strings.Replace(pattern, ".", "[.]", -1)
		tmp = strings.Replace(tmp, "*", ".*", -1)
		tmp = strings.Replace(tmp, "?", ".", -1)
		re = regexp.MustCompile("(?i)^" + tmp + "$")
	}

	p, err := dsk.FATGetParams()
	if err != nil {
		return nil, err
	}
	table, _, err := dsk.FATGetTable(p)
	if err != nil {
		return nil, err
	}

	cluster, err := dsk.fatFindDir(p, table, path)
	if err != nil {
		return nil, err
	}

	entries, err := dsk.fatScanDir(p, table, cluster)
	if err != nil {
		return nil, err
	}

	if re == nil {
		return entries, nil
	}
	var out []*FATDirEntry
	for _, e := range entries {
		if re.MatchString(e.Name()) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (dsk *DSKWrapper) FATGetNamedEntry(path, name string) (*FATDirEntry, error) {
	entries, err := dsk.FATGetCatalog(path, "")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// FATReadFile follows the cluster chain and trims to the recorded size.
func (dsk *DSKWrapper) FATReadFile(fd *FATDirEntry) ([]byte, error) {

	p, err := dsk.FATGetParams()
	if err != nil {
		return nil, err
	}
	table, _, err := dsk.FATGetTable(p)
	if err != nil {
		return nil, err
	}

	var data []byte
	cl := fd.FirstCluster()
	for i := 0; cl >= 2 && cl < FAT12_EOC && i < p.ClusterCount(); i++ {
		base := p.DataStart() + (cl-2)*p.SectorsPerCluster
		for s := 0; s < p.SectorsPerCluster; s++ {
			chunk, err := dsk.GetBlock(base + s)
			if err != nil {
				return data, err
			}
			data = append(data, chunk...)
		}
		cl = fat12Get(table, cl)
	}

	if fd.Size() < len(data) {
		data = data[:fd.Size()]
	}
	return data, nil
}

// FATFreeClusters counts free allocation units.
func (dsk *DSKWrapper) FATFreeClusters() (int, int, error) {
	p, err := dsk.FATGetParams()
	if err != nil {
		return 0, 0, err
	}
	table, _, err := dsk.FATGetTable(p)
	if err != nil {
		return 0, 0, err
	}
	free := 0
	for cl := 2; cl < 2+p.ClusterCount(); cl++ {
		if fat12Get(table, cl) == FAT12_FREE {
			free++
		}
	}
	return free, p.ClusterCount(), nil
}

// FATWriteFile stores a file in a directory, replacing a same-named one.
func (dsk *DSKWrapper) FATWriteFile(path, name string, data []byte) error {

	if old, err := dsk.FATGetNamedEntry(path, name); err == nil {
		if old.IsLocked() {
			return ErrReadOnly
		}
		if err := dsk.FATDeleteFile(path, name); err != nil {
			return err
		}
	}

	p, err := dsk.FATGetParams()
	if err != nil {
		return err
	}
	table, _, err := dsk.FATGetTable(p)
	if err != nil {
		return err
	}

	clusterBytes := p.SectorsPerCluster * p.BytesPerSector
	clustersNeeded := (len(data) + clusterBytes - 1) / clusterBytes
	if clustersNeeded == 0 && len(data) > 0 {
		clustersNeeded = 1
	}

	var clusters []int
	for cl := 2; cl < 2+p.ClusterCount() && len(clusters) < clustersNeeded; cl++ {
		if fat12Get(table, cl) == FAT12_FREE {
			clusters = append(clusters, cl)
		}
	}
	if len(clusters) < clustersNeeded {
		return ErrNoSpace
	}

	// find a free slot in the target directory
	dirCluster, err := dsk.fatFindDir(p, table, path)
	if err != nil {
		return err
	}
	var slot *FATDirEntry
	for _, sec := range dsk.fatDirSectors(p, table, dirCluster) {
		sdata, err := dsk.GetBlock(sec)
		if err != nil {
			return err
		}
		for off := 0; off+FAT_DIR_ENTRY_SIZE <= len(sdata); off += FAT_DIR_ENTRY_SIZE {
			if sdata[off] == 0x00 || sdata[off] == FAT_DELETED_MARK {
				slot = &FATDirEntry{}
				slot.SetData(make([]byte, FAT_DIR_ENTRY_SIZE), sec, off)
				break
			}
		}
		if slot != nil {
			break
		}
	}
	if slot == nil {
		return ErrNoSpace
	}

	// write data clusters and chain them
	for i, cl := range clusters {
		s := i * clusterBytes
		for sub := 0; sub < p.SectorsPerCluster; sub++ {
			chunk := make([]byte, p.BytesPerSector)
			start := s + sub*p.BytesPerSector
			if start < len(data) {
				end := start + p.BytesPerSector
				if end > len(data) {
					end = len(data)
				}
				copy(chunk, data[start:end])
			}
			if err := dsk.PutBlock(p.DataStart()+(cl-2)*p.SectorsPerCluster+sub, chunk); err != nil {
				return err
			}
		}
		next := FAT12_EOC + 7 // 0xfff
		if i < len(clusters)-1 {
			next = clusters[i+1]
		}
		fat12Set(table, cl, next)
	}

	if err := dsk.FATPutTable(p, table); err != nil {
		return err
	}

	if err := slot.SetName(name); err != nil {
		return err
	}
	slot.SetAttr(FATAttrArchive)
	if len(clusters) > 0 {
		slot.SetFirstCluster(clusters[0])
	} else {
		slot.SetFirstCluster(0)
	}
	slot.SetSize(len(data))
	slot.SetModTime(time.Now())

	return slot.Publish(dsk)
}

// FATDeleteFile frees the chain and marks the slot deleted.
func (dsk *DSKWrapper) FATDeleteFile(path, name string) error {

	fd, err := dsk.FATGetNamedEntry(path, name)
	if err != nil {
		return err
	}
	if fd.IsLocked() {
		return ErrReadOnly
	}
	if fd.IsDirectory() {
		return ErrNotAFile
	}

	p, err := dsk.FATGetParams()
	if err != nil {
		return err
	}
	table, _, err := dsk.FATGetTable(p)
	if err != nil {
		return err
	}

	cl := fd.FirstCluster()
	for i := 0; cl >= 2 && cl < FAT12_EOC && i < p.ClusterCount(); i++ {
		next := fat12Get(table, cl)
		fat12Set(table, cl, FAT12_FREE)
		cl = next
	}
	if err := dsk.FATPutTable(p, table); err != nil {
		return err
	}

	fd.Data[0] = FAT_DELETED_MARK
	return fd.Publish(dsk)
}

func (dsk *DSKWrapper) FATRenameFile(path, name, newname string) error {

	if _, err := dsk.FATGetNamedEntry(path, newname); err == nil {
		return ErrNameConflict
	}

	fd, err := dsk.FATGetNamedEntry(path, name)
	if err != nil {
		return err
	}
	if fd.IsLocked() {
		return ErrReadOnly
	}

	if err := fd.SetName(newname); err != nil {
		return err
	}
	return fd.Publish(dsk)
}

func (dsk *DSKWrapper) FATSetLocked(path, name string, lock bool) error {
	fd, err := dsk.FATGetNamedEntry(path, name)
	if err != nil {
		return err
	}
	fd.SetLocked(lock)
	return fd.Publish(dsk)
}
