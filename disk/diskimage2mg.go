package disk

/*
	2MG wrapper. A 2MG file is a sector image preceded by a 64-byte
	preamble; the wrapper is unwrapped to the normal chunk space and the
	preamble is retained so a save re-wraps byte for byte.
*/

const PREAMBLE_2MG_SIZE = 0x40

var MAGIC_2MG = []byte{byte('2'), byte('I'), byte('M'), byte('G')}

type Header2MG struct {
	Data [64]byte
}

func (h *Header2MG) SetData(data []byte) {
	for i, v := range data {
		if i < 64 {
			h.Data[i] = v
		}
	}
}

func (h *Header2MG) GetID() string {
	return string(h.Data[0x00:0x04])
}

func (h *Header2MG) GetCreatorID() string {
	return string(h.Data[0x04:0x08])
}

func (h *Header2MG) GetHeaderSize() int {
	return int(h.Data[0x08]) + 256*int(h.Data[0x09])
}

func (h *Header2MG) GetVersion() int {
	return int(h.Data[0x0A]) + 256*int(h.Data[0x0B])
}

func (h *Header2MG) le32(offset int) int {
	return int(h.Data[offset]) + 256*int(h.Data[offset+1]) +
		65536*int(h.Data[offset+2]) + 16777216*int(h.Data[offset+3])
}

func (h *Header2MG) GetImageFormat() int {
	return h.le32(0x0C)
}

func (h *Header2MG) GetDOSFlags() int {
	return h.le32(0x10)
}

func (h *Header2MG) GetProDOSBlocks() int {
	return h.le32(0x14)
}

func (h *Header2MG) GetDiskDataStart() int {
	return h.le32(0x18)
}

func (h *Header2MG) GetDiskDataLength() int {
	return h.le32(0x1C)
}

func (h *Header2MG) IsLocked() bool {
	return h.le32(0x10)&0x80000000 != 0
}

// Is2MG reports whether the loaded bytes carry the 2MG preamble, and if
// so returns the format/order of the wrapped image plus the unwrapped
// sector data.
func (dsk *DSKWrapper) Is2MG() (bool, DiskFormat, SectorOrder, []byte) {

	if len(dsk.Data) < PREAMBLE_2MG_SIZE {
		return false, GetDiskFormat(DF_NONE), SectorOrderDOS33, nil
	}

	h := &Header2MG{}
	h.SetData(dsk.Data[:PREAMBLE_2MG_SIZE])

	if h.GetID() != "2IMG" {
		return false, GetDiskFormat(DF_NONE), SectorOrderDOS33, nil
	}

	start := h.GetDiskDataStart()
	size := h.GetDiskDataLength()
	if start == 0 {
		start = PREAMBLE_2MG_SIZE
	}
	if start+size > len(dsk.Data) || size == 0 {
		size = len(dsk.Data) - start
	}

	if size != STD_DISK_BYTES && size != PRODOS_800KB_DISK_BYTES && size != PRODOS_400KB_DISK_BYTES {
		return false, GetDiskFormat(DF_NONE), SectorOrderDOS33, nil
	}

	data := dsk.Data[start : start+size]

	switch h.GetImageFormat() {
	case 0x00: // DOS sector order
		return true, GetDiskFormat(DF_DOS_SECTORS_16), SectorOrderDOS33, data
	case 0x01: // ProDOS sector order
		switch h.GetProDOSBlocks() {
		case 1600:
			return true, GetDiskFormat(DF_PRODOS_800KB), SectorOrderLinear, data
		case 800:
			return true, GetDiskFormat(DF_PRODOS_400KB), SectorOrderLinear, data
		case 280, 0:
			return true, GetDiskFormat(DF_PRODOS), SectorOrderProDOS, data
		default:
			return true, GetPDDiskFormat(DF_PRODOS_CUSTOM, h.GetProDOSBlocks()), SectorOrderLinear, data
		}
	}

	return false, GetDiskFormat(DF_NONE), SectorOrderDOS33, nil
}
