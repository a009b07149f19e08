package disk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

/*
	Records is the random-access text view of a sparse file: fixed-length
	slots addressed by record number, each holding LF-separated fields.
	The storage pattern is not invertible, so deriving records from a
	chunk map can surface spurious entries alongside the real ones.
*/

type Records struct {
	RecordLen int
	Map       map[int]string
}

func NewRecords(recordLen int) *Records {
	return &Records{
		RecordLen: recordLen,
		Map:       make(map[int]string),
	}
}

func (r *Records) Add(num int, fields string) {
	r.Map[num] = fields
}

// RecordsFromFileImage scans the chunk map for record boundaries that
// land inside present chunks and extracts every complete, NUL-terminated
// record it finds there.
func RecordsFromFileImage(fimg *FileImage, recordLen int) (*Records, error) {

	if recordLen <= 0 {
		return nil, fmt.Errorf("record length %d: %w", recordLen, ErrOutOfRange)
	}

	out := NewRecords(recordLen)
	chunkLen := fimg.ChunkLen

	var candidates []int
	for c := range fimg.Chunks {
		startRec := (c*chunkLen + recordLen - 1) / recordLen
		endRec := ((c+1)*chunkLen + recordLen - 1) / recordLen
		for r := startRec; r < endRec; r++ {
			candidates = append(candidates, r)
		}
	}

	for _, rec := range candidates {
		startChunk := rec * recordLen / chunkLen
		endChunk := 1 + (rec+1)*recordLen/chunkLen
		startOffset := rec * recordLen % chunkLen

		var bytes []byte
		complete := true
		for c := startChunk; c < endChunk; c++ {
			chunk, ok := fimg.Chunks[c]
			if !ok {
				complete = false
				break
			}
			bytes = append(bytes, chunk...)
		}
		if !complete || startOffset >= len(bytes) {
			continue
		}

		end := startOffset + recordLen
		if end > len(bytes) {
			end = len(bytes)
		}
		text := string(bytes[startOffset:end])
		if i := strings.IndexByte(text, 0); i >= 0 {
			text = text[:i]
		}
		if text != "" {
			out.Map[rec] = text
		}
	}

	return out, nil
}

// UpdateFileImage projects the records into the image's chunk map. The
// default is a merge over whatever chunks exist; replace mode clears the
// map first for callers rebuilding the file outright. requireFirst
// forces chunk 0 to exist, which ProDOS storage needs.
func (r *Records) UpdateFileImage(fimg *FileImage, replace bool, requireFirst bool) error {

	if r.RecordLen <= 0 {
		return fmt.Errorf("record length %d: %w", r.RecordLen, ErrOutOfRange)
	}

	chunkLen := fimg.ChunkLen
	if replace {
		fimg.Chunks = make(map[int][]byte)
	}
	if requireFirst {
		if _, ok := fimg.Chunks[0]; !ok {
			fimg.Chunks[0] = make([]byte, chunkLen)
		}
	}

	eof := fimg.EOFValue()
	for rec, fields := range r.Map {
		data := []byte(fields)
		if len(data) > r.RecordLen {
			data = data[:r.RecordLen]
		}

		firstChunk := r.RecordLen * rec / chunkLen
		lastChunk := (r.RecordLen*rec + len(data) + chunkLen - 1) / chunkLen
		fwd := r.RecordLen * rec % chunkLen

		for c := firstChunk; c < lastChunk; c++ {
			startByte := 0
			if c == firstChunk {
				startByte = fwd
			}
			endByte := chunkLen
			if c == lastChunk-1 {
				endByte = fwd + len(data) - chunkLen*(lastChunk-firstChunk-1)
			}

			buf := fimg.Chunks[c]
			for len(buf) < endByte {
				buf = append(buf, 0)
			}
			for i := startByte; i < endByte; i++ {
				buf[i] = data[chunkLen*(c-firstChunk)+i-fwd]
			}
			fimg.Chunks[c] = buf

			if c*chunkLen+len(buf) > eof {
				eof = c*chunkLen + len(buf)
			}
		}
	}

	fimg.SetEOF(eof)
	return nil
}

// JSON form: {"fimg_type":"rec","record_length":N,"records":{"0":[lines]}}

type recordsJSON struct {
	FimgType     string              `json:"fimg_type"`
	RecordLength int                 `json:"record_length"`
	Records      map[string][]string `json:"records"`
}

func (r *Records) MarshalJSON() ([]byte, error) {
	out := recordsJSON{
		FimgType:     "rec",
		RecordLength: r.RecordLen,
		Records:      make(map[string][]string),
	}
	for num, fields := range r.Map {
		lines := strings.Split(strings.TrimRight(fields, "\n"), "\n")
		out.Records[strconv.Itoa(num)] = lines
	}
	return json.Marshal(out)
}

func (r *Records) UnmarshalJSON(data []byte) error {

	var in recordsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.FimgType != "rec" || in.RecordLength <= 0 {
		return fmt.Errorf("not a record set: %w", ErrUnsupported)
	}

	r.RecordLen = in.RecordLength
	r.Map = make(map[int]string)
	for key, lines := range in.Records {
		num, err := strconv.Atoi(key)
		if err != nil || num < 0 {
			return fmt.Errorf("record key %q: %w", key, ErrUnsupported)
		}
		r.Map[num] = strings.Join(lines, "\n") + "\n"
	}

	return nil
}
