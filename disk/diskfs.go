package disk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
	Uniform file system layer. One DiskFS wraps a DSKWrapper and routes
	capability calls (Catalog, ReadFile, WriteFile, ...) to the family
	driver the volume detected as. Families without a capability return
	ErrUnsupported rather than faking it.
*/

type Family int

const (
	FamilyNone Family = iota
	FamilyAppleDOS
	FamilyProDOS
	FamilyPascal
	FamilyCPM
	FamilyFAT
)

func (f Family) String() string {
	switch f {
	case FamilyAppleDOS:
		return "DOS 3.x"
	case FamilyProDOS:
		return "ProDOS"
	case FamilyPascal:
		return "Pascal"
	case FamilyCPM:
		return "CP/M"
	case FamilyFAT:
		return "FAT"
	}
	return "Unknown"
}

// DirectoryEntry is the family-neutral catalog row.
type DirectoryEntry struct {
	Name      string
	Kind      string // family type label (BAS, BIN, PTX, ...)
	Size      int
	Locked    bool
	Directory bool
	User      int // CP/M user number, -1 elsewhere
	AuxType   int
	Created   time.Time
	Modified  time.Time
}

// AttributeSet carries the unified attribute op: nil pointers leave a
// flag alone, a set pointer the family cannot express is ErrUnsupported.
type AttributeSet struct {
	Locked *bool
	Hidden *bool // FAT only
	System *bool // CP/M, FAT
}

// VolumeStats summarizes usage in the family's native allocation unit.
type VolumeStats struct {
	Family      Family
	VolumeName  string
	TotalUnits  int
	FreeUnits   int
	UnitSize    int
	Files       int
	LargestFree int // contiguous, Pascal only; 0 elsewhere
}

type DiskFS struct {
	dsk    *DSKWrapper
	family Family
}

func (fs *DiskFS) Family() Family {
	return fs.family
}

func (fs *DiskFS) Wrapper() *DSKWrapper {
	return fs.dsk
}

// DetectFamily runs the structural probes in fixed order: DOS, ProDOS,
// Pascal, CP/M, FAT. Each probe walks real volume structures; a hit also
// fixes the wrapper's format and sector order.
func DetectFamily(dsk *DSKWrapper) Family {

	if isDOS, fmtid, layout := dsk.IsAppleDOS(); isDOS {
		dsk.Format = fmtid
		dsk.Layout = layout
		return FamilyAppleDOS
	}

	if isPD, fmtid, layout := dsk.IsProDOS(); isPD {
		dsk.Format = fmtid
		dsk.Layout = layout
		return FamilyProDOS
	}

	if isPAS, layout, volName := dsk.IsPascal(); isPAS && volName != "" {
		dsk.Format = GetDiskFormat(DF_PASCAL)
		dsk.Layout = layout
		return FamilyPascal
	}

	if dsk.IsCPM() {
		return FamilyCPM
	}

	if isFATSize(len(dsk.Data)) {
		dsk.Format = fatFormatForSize(len(dsk.Data))
		dsk.Layout = SectorOrderLinear
		if _, err := dsk.FATGetParams(); err == nil {
			return FamilyFAT
		}
	}

	return FamilyNone
}

// NewDiskFS detects the volume's family and returns the capability
// wrapper for it.
func NewDiskFS(dsk *DSKWrapper) (*DiskFS, error) {
	family := DetectFamily(dsk)
	if family == FamilyNone {
		return nil, fmt.Errorf("no recognizable volume structures: %w", ErrUnknownContainer)
	}
	return &DiskFS{dsk: dsk, family: family}, nil
}

// cpmUserFromPath reads user scoping out of a path like "3" or "3:".
// Empty means all users for catalogs, user 0 for file ops.
func cpmUserFromPath(path string, defUser int) (int, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	path = strings.TrimSuffix(path, ":")
	if path == "" {
		return defUser, nil
	}
	u, err := strconv.Atoi(path)
	if err != nil || u < 0 || u > CPM_MAX_USER {
		return 0, fmt.Errorf("user area %q: %w", path, ErrOutOfRange)
	}
	return u, nil
}

func flatPathOK(path string) error {
	if strings.Trim(path, "/") != "" {
		return fmt.Errorf("volume has no directories: %w", ErrUnsupported)
	}
	return nil
}

// Catalog lists a directory. Flat families ignore path (non-root paths
// fail); CP/M reads a user number out of it.
func (fs *DiskFS) Catalog(path string, pattern string) ([]DirectoryEntry, error) {

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return nil, err
		}
		_, files, err := fs.dsk.AppleDOSGetCatalog(pattern)
		if err != nil {
			return nil, err
		}
		out := make([]DirectoryEntry, 0, len(files))
		for _, fd := range files {
			out = append(out, DirectoryEntry{
				Name:   fd.Name(),
				Kind:   fd.Type().Ext(),
				Size:   fd.TotalSectors() * STD_BYTES_PER_SECTOR,
				Locked: fd.IsLocked(),
				User:   -1,
			})
		}
		return out, nil

	case FamilyProDOS:
		_, files, err := fs.dsk.PRODOSGetCatalogPathed(2, path, pattern)
		if err != nil {
			return nil, err
		}
		out := make([]DirectoryEntry, 0, len(files))
		for _, fd := range files {
			out = append(out, DirectoryEntry{
				Name:      fd.Name(),
				Kind:      fd.Type().Ext(),
				Size:      fd.Size(),
				Locked:    fd.IsLocked(),
				Directory: fd.Type() == FileType_PD_Directory,
				User:      -1,
				AuxType:   fd.AuxType(),
				Created:   fd.CreateTime(),
				Modified:  fd.ModTime(),
			})
		}
		return out, nil

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return nil, err
		}
		files, err := fs.dsk.PascalGetCatalog(pattern)
		if err != nil {
			return nil, err
		}
		out := make([]DirectoryEntry, 0, len(files))
		for _, fd := range files {
			out = append(out, DirectoryEntry{
				Name:     fd.GetName(),
				Kind:     fd.GetType().Ext(),
				Size:     fd.GetFileSize(),
				User:     -1,
				Modified: fd.ModTime(),
			})
		}
		return out, nil

	case FamilyCPM:
		user, err := cpmUserFromPath(path, -1)
		if err != nil {
			return nil, err
		}
		files, err := fs.dsk.CPMGetCatalog(user, pattern)
		if err != nil {
			return nil, err
		}
		out := make([]DirectoryEntry, 0, len(files))
		for _, fd := range files {
			out = append(out, DirectoryEntry{
				Name:   fd.FileName,
				Kind:   cpmKindOf(fd.FileName),
				Size:   fd.Size(),
				Locked: fd.IsLocked(),
				User:   fd.UserNumber,
			})
		}
		return out, nil

	case FamilyFAT:
		files, err := fs.dsk.FATGetCatalog(path, pattern)
		if err != nil {
			return nil, err
		}
		out := make([]DirectoryEntry, 0, len(files))
		for _, fd := range files {
			out = append(out, DirectoryEntry{
				Name:      fd.Name(),
				Kind:      fatKindOf(fd.Name()),
				Size:      fd.Size(),
				Locked:    fd.IsLocked(),
				Directory: fd.IsDirectory(),
				User:      -1,
				Modified:  fd.ModTime(),
			})
		}
		return out, nil
	}

	return nil, ErrUnsupported
}

func cpmKindOf(name string) string {
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		return name[dot+1:]
	}
	return ""
}

func fatKindOf(name string) string {
	return cpmKindOf(name)
}

// ReadFile returns a file's catalog entry and unframed body. The DOS
// driver strips the family's length/address headers; the entry's AuxType
// carries the load address where one exists.
func (fs *DiskFS) ReadFile(path string, name string) (DirectoryEntry, []byte, error) {

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return DirectoryEntry{}, nil, err
		}
		fd, err := fs.dsk.AppleDOSNamedCatalogEntry(name)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		eof, addr, data, err := fs.dsk.AppleDOSReadFile(*fd)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		return DirectoryEntry{
			Name:    fd.Name(),
			Kind:    fd.Type().Ext(),
			Size:    eof,
			Locked:  fd.IsLocked(),
			User:    -1,
			AuxType: addr,
		}, data, nil

	case FamilyProDOS:
		fd, err := fs.dsk.PRODOSGetNamedEntry(path, name)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		if fd.Type() == FileType_PD_Directory {
			return DirectoryEntry{}, nil, fmt.Errorf("%s: %w", name, ErrNotAFile)
		}
		eof, aux, data, err := fs.dsk.PRODOSReadFile(*fd)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		return DirectoryEntry{
			Name:     fd.Name(),
			Kind:     fd.Type().Ext(),
			Size:     eof,
			Locked:   fd.IsLocked(),
			User:     -1,
			AuxType:  aux,
			Created:  fd.CreateTime(),
			Modified: fd.ModTime(),
		}, data, nil

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return DirectoryEntry{}, nil, err
		}
		fd, err := fs.dsk.PascalGetNamedEntry(name)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		data, err := fs.dsk.PascalReadFile(fd)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		return DirectoryEntry{
			Name:     fd.GetName(),
			Kind:     fd.GetType().Ext(),
			Size:     len(data),
			User:     -1,
			Modified: fd.ModTime(),
		}, data, nil

	case FamilyCPM:
		user, err := cpmUserFromPath(path, 0)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		fd, err := fs.dsk.CPMGetNamedEntry(user, name)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		data, err := fs.dsk.CPMReadFile(fd)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		return DirectoryEntry{
			Name:   fd.FileName,
			Kind:   cpmKindOf(fd.FileName),
			Size:   len(data),
			Locked: fd.IsLocked(),
			User:   fd.UserNumber,
		}, data, nil

	case FamilyFAT:
		fd, err := fs.dsk.FATGetNamedEntry(path, name)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		if fd.IsDirectory() {
			return DirectoryEntry{}, nil, fmt.Errorf("%s: %w", name, ErrNotAFile)
		}
		data, err := fs.dsk.FATReadFile(fd)
		if err != nil {
			return DirectoryEntry{}, nil, err
		}
		return DirectoryEntry{
			Name:     fd.Name(),
			Kind:     fatKindOf(fd.Name()),
			Size:     fd.Size(),
			Locked:   fd.IsLocked(),
			User:     -1,
			Modified: fd.ModTime(),
		}, data, nil
	}

	return DirectoryEntry{}, nil, ErrUnsupported
}

// WriteFile stores data under name, replacing a same-named file. kind is
// the family type label (extension form); auxtype is the load address or
// aux word where the family keeps one, -1 for the type's default.
func (fs *DiskFS) WriteFile(path string, name string, kind string, data []byte, auxtype int) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return err
		}
		t := AppleDOSFileTypeFromExt(kind)
		if auxtype < 0 {
			auxtype = 0x2000
		}
		return fs.dsk.AppleDOSWriteFile(name, t, data, auxtype)

	case FamilyProDOS:
		t := ProDOSFileTypeFromExt(kind)
		if auxtype < 0 {
			auxtype = 0x2000
		}
		return fs.dsk.PRODOSWriteFile(path, name, t, data, auxtype)

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.PascalWriteFile(name, PascalFileTypeFromExt(kind), data)

	case FamilyCPM:
		user, err := cpmUserFromPath(path, 0)
		if err != nil {
			return err
		}
		return fs.dsk.CPMWriteFile(user, name, data)

	case FamilyFAT:
		return fs.dsk.FATWriteFile(path, name, data)
	}

	return ErrUnsupported
}

func (fs *DiskFS) Delete(path string, name string) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.AppleDOSDeleteFile(name)

	case FamilyProDOS:
		fd, err := fs.dsk.PRODOSGetNamedEntry(path, name)
		if err != nil {
			return err
		}
		if fd.Type() == FileType_PD_Directory {
			return fs.dsk.PRODOSDeleteDirectory(path, name)
		}
		return fs.dsk.PRODOSDeleteFile(path, name)

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.PascalDeleteFile(name)

	case FamilyCPM:
		user, err := cpmUserFromPath(path, 0)
		if err != nil {
			return err
		}
		return fs.dsk.CPMDeleteFile(user, name)

	case FamilyFAT:
		return fs.dsk.FATDeleteFile(path, name)
	}

	return ErrUnsupported
}

func (fs *DiskFS) Rename(path string, name string, newname string) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.AppleDOSRenameFile(name, newname)

	case FamilyProDOS:
		return fs.dsk.PRODOSRenameFile(path, name, newname)

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.PascalRenameFile(name, newname)

	case FamilyCPM:
		user, err := cpmUserFromPath(path, 0)
		if err != nil {
			return err
		}
		return fs.dsk.CPMRenameFile(user, name, newname)

	case FamilyFAT:
		return fs.dsk.FATRenameFile(path, name, newname)
	}

	return ErrUnsupported
}

// Retype changes a file's type label. CP/M and FAT carry the type in the
// name itself, so for them a retype is refused; callers wanting a new
// extension rename the file instead.
func (fs *DiskFS) Retype(path string, name string, kind string) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	switch fs.family {

	case FamilyAppleDOS:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.dsk.AppleDOSSetType(name, AppleDOSFileTypeFromExt(kind))

	case FamilyProDOS:
		return fs.dsk.PRODOSSetType(path, name, ProDOSFileTypeFromExt(kind), -1)

	case FamilyPascal:
		if err := flatPathOK(path); err != nil {
			return err
		}
		return fs.pascalSetType(name, PascalFileTypeFromExt(kind))

	case FamilyCPM, FamilyFAT:
		return fmt.Errorf("type lives in the file name: %w", ErrUnsupported)
	}

	return ErrUnsupported
}

// pascalSetType rewrites the type word of a directory entry in place.
func (fs *DiskFS) pascalSetType(name string, kind PascalFileType) error {

	pvh, catdata, numBlocks, err := fs.dsk.pascalReadDirectory()
	if err != nil {
		return err
	}

	for i := 1; i <= pvh.GetNumFiles(); i++ {
		off := i * PASCAL_DIRECTORY_ENTRY_LENGTH
		if off+PASCAL_DIRECTORY_ENTRY_LENGTH > len(catdata) {
			break
		}
		var e PascalFileEntry
		e.SetData(catdata[off : off+PASCAL_DIRECTORY_ENTRY_LENGTH])
		if strings.EqualFold(e.GetName(), name) {
			e.SetType(kind)
			copy(catdata[off:off+PASCAL_DIRECTORY_ENTRY_LENGTH], e.data[:])
			return fs.dsk.pascalWriteDirectory(catdata, numBlocks)
		}
	}

	return fmt.Errorf("%s: %w", name, ErrNotFound)
}

// SetAttributes applies the unified attribute op. Requesting a flag the
// family has no bits for is ErrUnsupported.
func (fs *DiskFS) SetAttributes(path string, name string, attr AttributeSet) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	switch fs.family {

	case FamilyAppleDOS:
		if attr.Hidden != nil || attr.System != nil {
			return ErrUnsupported
		}
		if err := flatPathOK(path); err != nil {
			return err
		}
		if attr.Locked != nil {
			return fs.dsk.AppleDOSSetLocked(name, *attr.Locked)
		}
		return nil

	case FamilyProDOS:
		if attr.Hidden != nil || attr.System != nil {
			return ErrUnsupported
		}
		if attr.Locked != nil {
			return fs.dsk.PRODOSSetLocked(path, name, *attr.Locked)
		}
		return nil

	case FamilyPascal:
		// no access flags at all
		if attr.Locked != nil || attr.Hidden != nil || attr.System != nil {
			return ErrUnsupported
		}
		return nil

	case FamilyCPM:
		if attr.Hidden != nil {
			return ErrUnsupported
		}
		user, err := cpmUserFromPath(path, 0)
		if err != nil {
			return err
		}
		if attr.Locked != nil {
			if err := fs.dsk.CPMSetLocked(user, name, *attr.Locked); err != nil {
				return err
			}
		}
		if attr.System != nil {
			return fs.cpmSetSystem(user, name, *attr.System)
		}
		return nil

	case FamilyFAT:
		fd, err := fs.dsk.FATGetNamedEntry(path, name)
		if err != nil {
			return err
		}
		if attr.Locked != nil {
			fd.SetLocked(*attr.Locked)
		}
		if attr.Hidden != nil {
			if *attr.Hidden {
				fd.SetAttr(fd.Attr() | FATAttrHidden)
			} else {
				fd.SetAttr(fd.Attr() &^ FATAttrHidden)
			}
		}
		if attr.System != nil {
			if *attr.System {
				fd.SetAttr(fd.Attr() | FATAttrSystem)
			} else {
				fd.SetAttr(fd.Attr() &^ FATAttrSystem)
			}
		}
		return fd.Publish(fs.dsk)
	}

	return ErrUnsupported
}

// cpmSetSystem flips the SYS bit on every extent of a file.
func (fs *DiskFS) cpmSetSystem(user int, name string, sys bool) error {

	fd, err := fs.dsk.CPMGetNamedEntry(user, name)
	if err != nil {
		return err
	}

	dir, err := fs.dsk.cpmReadDirectory()
	if err != nil {
		return err
	}

	for _, x := range fd.Extents {
		off := x.index * CPM_ENTRY_SIZE
		if sys {
			dir[off+10] |= 0x80
		} else {
			dir[off+10] &= 0x7f
		}
	}

	return fs.dsk.cpmWriteDirectory(dir)
}

// Mkdir creates a subdirectory; only ProDOS has them writable here.
func (fs *DiskFS) Mkdir(path string, name string) error {

	if fs.dsk.WriteProtected {
		return ErrReadOnly
	}

	if fs.family != FamilyProDOS {
		return ErrUnsupported
	}
	return fs.dsk.PRODOSCreateDirectory(path, name)
}

// Stats reports usage in the family's allocation unit.
func (fs *DiskFS) Stats() (VolumeStats, error) {

	st := VolumeStats{Family: fs.family}

	switch fs.family {

	case FamilyAppleDOS:
		vtoc, files, err := fs.dsk.AppleDOSGetCatalog("")
		if err != nil {
			return st, err
		}
		st.VolumeName = fmt.Sprintf("DOS VOLUME %.3d", vtoc.GetVolumeID())
		st.TotalUnits = vtoc.GetTracks() * vtoc.GetSectors()
		st.FreeUnits = vtoc.FreeSectors()
		st.UnitSize = STD_BYTES_PER_SECTOR
		st.Files = len(files)
		return st, nil

	case FamilyProDOS:
		vdh, files, err := fs.dsk.PRODOSGetCatalog(2, "")
		if err != nil {
			return st, err
		}
		free, err := fs.dsk.PRODOSFreeBlockCount()
		if err != nil {
			return st, err
		}
		st.VolumeName = vdh.GetVolumeName()
		st.TotalUnits = vdh.GetTotalBlocks()
		st.FreeUnits = free
		st.UnitSize = STD_BYTES_PER_SECTOR * PRODOS_SECTORS_PER_BLOCK
		st.Files = len(files)
		return st, nil

	case FamilyPascal:
		pvh, _, _, err := fs.dsk.pascalReadDirectory()
		if err != nil {
			return st, err
		}
		free, largest, err := fs.dsk.PascalFreeBlocks()
		if err != nil {
			return st, err
		}
		st.VolumeName = pvh.GetName()
		st.TotalUnits = pvh.GetTotalBlocks()
		st.FreeUnits = free
		st.UnitSize = PASCAL_BLOCK_SIZE
		st.Files = pvh.GetNumFiles()
		st.LargestFree = largest
		return st, nil

	case FamilyCPM:
		files, err := fs.dsk.CPMGetCatalog(-1, "")
		if err != nil {
			return st, err
		}
		free, err := fs.dsk.CPMFreeBlocks()
		if err != nil {
			return st, err
		}
		st.VolumeName = "CP/M"
		st.TotalUnits = CPM_TOTAL_BLOCKS
		st.FreeUnits = free
		st.UnitSize = CPM_BLOCK_SIZE
		st.Files = len(files)
		return st, nil

	case FamilyFAT:
		files, err := fs.dsk.FATGetCatalog("", "")
		if err != nil {
			return st, err
		}
		free, total, err := fs.dsk.FATFreeClusters()
		if err != nil {
			return st, err
		}
		p, err := fs.dsk.FATGetParams()
		if err != nil {
			return st, err
		}
		st.VolumeName = "FAT"
		st.TotalUnits = total
		st.FreeUnits = free
		st.UnitSize = p.SectorsPerCluster * p.BytesPerSector
		st.Files = len(files)
		return st, nil
	}

	return st, ErrUnsupported
}
