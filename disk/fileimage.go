package disk

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

/*
	FileImage is the portable, file-system-agnostic form of one file:
	metadata fields carried as the raw bytes the family stores on disk,
	data carried as a sparse chunk map. The JSON form uses upper-case hex
	strings for byte fields and decimal string keys for the chunk map.
*/

const FILE_IMAGE_VERSION = "2.1.0"

type FileImage struct {
	FimgVersion string
	FileSystem  string
	FullPath    string
	ChunkLen    int
	EOF         []byte
	FSType      []byte
	Aux         []byte
	Access      []byte
	Created     []byte
	Modified    []byte
	Accessed    []byte
	Version     []byte
	MinVersion  []byte
	Chunks      map[int][]byte
}

// fsName is the identifier written into the file_system field.
func (f Family) fsName() string {
	switch f {
	case FamilyAppleDOS:
		return "a2 dos"
	case FamilyProDOS:
		return "prodos"
	case FamilyPascal:
		return "a2 pascal"
	case FamilyCPM:
		return "cpm"
	case FamilyFAT:
		return "fat"
	}
	return "unknown"
}

// NewFileImage returns an empty image with the family's natural chunk
// size. Metadata fields start empty; empty means "not carried".
func NewFileImage(fileSystem string, chunkLen int) *FileImage {
	return &FileImage{
		FimgVersion: FILE_IMAGE_VERSION,
		FileSystem:  fileSystem,
		ChunkLen:    chunkLen,
		Chunks:      make(map[int][]byte),
	}
}

func (fimg *FileImage) OrderedIndices() []int {
	idx := make([]int, 0, len(fimg.Chunks))
	for k := range fimg.Chunks {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// End is the logical chunk count, counting holes.
func (fimg *FileImage) End() int {
	idx := fimg.OrderedIndices()
	if len(idx) == 0 {
		return 0
	}
	return idx[len(idx)-1] + 1
}

// Sequence flattens the chunk map in index order; holes read as full
// chunks of zeros so sparse files keep their record positions.
func (fimg *FileImage) Sequence() []byte {
	var out []byte
	for i := 0; i < fimg.End(); i++ {
		if chunk, ok := fimg.Chunks[i]; ok {
			out = append(out, chunk...)
			if len(chunk) < fimg.ChunkLen && i < fimg.End()-1 {
				out = append(out, make([]byte, fimg.ChunkLen-len(chunk))...)
			}
		} else {
			out = append(out, make([]byte, fimg.ChunkLen)...)
		}
	}
	return out
}

func (fimg *FileImage) SequenceLimited(maxLen int) []byte {
	out := fimg.Sequence()
	if maxLen >= 0 && maxLen < len(out) {
		out = out[:maxLen]
	}
	return out
}

// Desequence replaces the chunk map with a fresh split of dat. Always a
// full replacement, never a merge.
func (fimg *FileImage) Desequence(dat []byte) {
	fimg.Chunks = make(map[int][]byte)
	fimg.SetEOF(len(dat))
	if len(dat) == 0 {
		return
	}
	idx := 0
	for mark := 0; mark < len(dat); mark += fimg.ChunkLen {
		end := mark + fimg.ChunkLen
		if end > len(dat) {
			end = len(dat)
		}
		chunk := make([]byte, end-mark)
		copy(chunk, dat[mark:end])
		fimg.Chunks[idx] = chunk
		idx++
	}
}

// fixLEBytes renders val little-endian without trailing zeros, padded
// back up to minLen.
func fixLEBytes(val int, minLen int) []byte {
	var out []byte
	for v := val; v > 0; v >>= 8 {
		out = append(out, byte(v&0xff))
	}
	for len(out) < minLen {
		out = append(out, 0)
	}
	return out
}

func leBytesValue(b []byte) int {
	v := 0
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 + int(b[i])
	}
	return v
}

func (fimg *FileImage) EOFValue() int {
	return leBytesValue(fimg.EOF)
}

func (fimg *FileImage) SetEOF(v int) {
	fimg.EOF = fixLEBytes(v, len(fimg.EOF))
}

func (fimg *FileImage) AuxValue() int {
	return leBytesValue(fimg.Aux)
}

func (fimg *FileImage) SetAux(v int) {
	fimg.Aux = fixLEBytes(v, 2)
}

// Unpack recovers the file body: the flat sequence trimmed to eof when
// one is recorded.
func (fimg *FileImage) Unpack() []byte {
	if len(fimg.EOF) > 0 {
		return fimg.SequenceLimited(fimg.EOFValue())
	}
	return fimg.Sequence()
}

// familyChunkLen is the natural chunk size the family stores files in.
func familyChunkLen(f Family) int {
	switch f {
	case FamilyAppleDOS:
		return STD_BYTES_PER_SECTOR
	case FamilyCPM:
		return CPM_BLOCK_SIZE
	case FamilyFAT:
		return FAT_BYTES_PER_SECTOR
	}
	return STD_BYTES_PER_SECTOR * PRODOS_SECTORS_PER_BLOCK
}

// PackEntry builds a FileImage from a catalog entry and its unframed
// body, as returned by DiskFS.ReadFile.
func PackEntry(family Family, path string, entry DirectoryEntry, data []byte) *FileImage {

	fimg := NewFileImage(family.fsName(), familyChunkLen(family))

	full := entry.Name
	if p := strings.Trim(path, "/"); p != "" {
		full = p + "/" + entry.Name
	}
	fimg.FullPath = full
	fimg.Desequence(data)

	switch family {
	case FamilyAppleDOS:
		fimg.FSType = []byte{byte(AppleDOSFileTypeFromExt(entry.Kind))}
		fimg.SetAux(entry.AuxType)
		access := byte(0)
		if entry.Locked {
			access = 0x80
		}
		fimg.Access = []byte{access}
	case FamilyProDOS:
		fimg.FSType = []byte{byte(ProDOSFileTypeFromExt(entry.Kind))}
		fimg.SetAux(entry.AuxType)
		access := byte(AccessType_Default)
		if entry.Locked {
			access = byte(AccessType_Changed | AccessType_Readable)
		}
		fimg.Access = []byte{access}
		if !entry.Created.IsZero() {
			fimg.Created = timeToProdosStampBytes(entry.Created)
		}
		if !entry.Modified.IsZero() {
			fimg.Modified = timeToProdosStampBytes(entry.Modified)
		}
	case FamilyPascal:
		fimg.FSType = []byte{byte(PascalFileTypeFromExt(entry.Kind)), 0}
	case FamilyCPM:
		access := byte(0)
		if entry.Locked {
			access = 0x80
		}
		fimg.Access = []byte{access}
	case FamilyFAT:
		access := byte(FATAttrArchive)
		if entry.Locked {
			access |= FATAttrReadOnly
		}
		fimg.Access = []byte{access}
	}

	return fimg
}

// UnpackEntry recovers the write arguments for DiskFS.WriteFile.
func UnpackEntry(family Family, fimg *FileImage) (name string, kind string, data []byte, auxtype int) {

	name = fimg.FullPath
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	switch family {
	case FamilyAppleDOS:
		if len(fimg.FSType) > 0 {
			kind = FileType(fimg.FSType[0]).Ext()
		}
	case FamilyProDOS:
		if len(fimg.FSType) > 0 {
			kind = ProDOSFileType(fimg.FSType[0]).Ext()
		}
	case FamilyPascal:
		if len(fimg.FSType) > 0 {
			kind = PascalFileType(fimg.FSType[0]).Ext()
		}
	}

	auxtype = -1
	if len(fimg.Aux) > 0 {
		auxtype = fimg.AuxValue()
	}

	return name, kind, fimg.Unpack(), auxtype
}

// JSON form. Byte fields become upper-case hex strings, the chunk map an
// object with decimal string keys. Unknown keys are tolerated on read.

type fileImageJSON struct {
	FimgVersion string            `json:"fimg_version"`
	FileSystem  string            `json:"file_system"`
	FullPath    string            `json:"full_path"`
	ChunkLen    int               `json:"chunk_len"`
	EOF         string            `json:"eof"`
	FSType      string            `json:"fs_type"`
	Aux         string            `json:"aux"`
	Access      string            `json:"access"`
	Created     string            `json:"created"`
	Modified    string            `json:"modified"`
	Accessed    string            `json:"accessed"`
	Version     string            `json:"version"`
	MinVersion  string            `json:"min_version"`
	Chunks      map[string]string `json:"chunks"`
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func (fimg *FileImage) MarshalJSON() ([]byte, error) {
	out := fileImageJSON{
		FimgVersion: fimg.FimgVersion,
		FileSystem:  fimg.FileSystem,
		FullPath:    fimg.FullPath,
		ChunkLen:    fimg.ChunkLen,
		EOF:         hexUpper(fimg.EOF),
		FSType:      hexUpper(fimg.FSType),
		Aux:         hexUpper(fimg.Aux),
		Access:      hexUpper(fimg.Access),
		Created:     hexUpper(fimg.Created),
		Modified:    hexUpper(fimg.Modified),
		Accessed:    hexUpper(fimg.Accessed),
		Version:     hexUpper(fimg.Version),
		MinVersion:  hexUpper(fimg.MinVersion),
		Chunks:      make(map[string]string),
	}
	for k, v := range fimg.Chunks {
		out.Chunks[strconv.Itoa(k)] = hexUpper(v)
	}
	return json.Marshal(out)
}

func (fimg *FileImage) UnmarshalJSON(data []byte) error {

	var in fileImageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.FimgVersion == "" || in.FileSystem == "" || in.ChunkLen == 0 {
		return fmt.Errorf("file image missing required fields: %w", ErrUnsupported)
	}

	parse := func(field, s string) ([]byte, error) {
		if s == "" {
			return nil, nil
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("file image field %s: %w", field, err)
		}
		return b, nil
	}

	var err error
	fimg.FimgVersion = in.FimgVersion
	fimg.FileSystem = in.FileSystem
	fimg.FullPath = in.FullPath
	fimg.ChunkLen = in.ChunkLen
	if fimg.EOF, err = parse("eof", in.EOF); err != nil {
		return err
	}
	if fimg.FSType, err = parse("fs_type", in.FSType); err != nil {
		return err
	}
	if fimg.Aux, err = parse("aux", in.Aux); err != nil {
		return err
	}
	if fimg.Access, err = parse("access", in.Access); err != nil {
		return err
	}
	if fimg.Created, err = parse("created", in.Created); err != nil {
		return err
	}
	if fimg.Modified, err = parse("modified", in.Modified); err != nil {
		return err
	}
	if fimg.Accessed, err = parse("accessed", in.Accessed); err != nil {
		return err
	}
	if fimg.Version, err = parse("version", in.Version); err != nil {
		return err
	}
	if fimg.MinVersion, err = parse("min_version", in.MinVersion); err != nil {
		return err
	}

	fimg.Chunks = make(map[int][]byte)
	for k, v := range in.Chunks {
		num, err := strconv.Atoi(k)
		if err != nil || num < 0 {
			return fmt.Errorf("chunk key %q: %w", k, ErrUnsupported)
		}
		b, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", num, err)
		}
		fimg.Chunks[num] = b
	}

	return nil
}
