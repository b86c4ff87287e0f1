package flat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/recallkit/recall"
)

// Index file layout (little-endian):
//
//	magic    [4]byte  "RFLT"
//	version  uint16   1
//	metric   uint8    0 = IP, 1 = L2
//	dim      uint32
//	count    uint32
//	rows     count × { idLen uint32, id []byte, vec [dim]float32 }
const (
	indexMagic   = "RFLT"
	indexVersion = 1
)

// save flushes the index and payload files. Called with the write lock
// held. Both files go through a temp-file-then-rename so a failed write
// leaves the previous flush intact; the in-memory state is already
// updated and will be persisted by the next successful mutation.
func (s *Store) save() error {
	if err := s.saveIndex(); err != nil {
		return &recall.ErrStore{Op: "flush", Message: err.Error()}
	}
	if err := s.savePayloads(); err != nil {
		return &recall.ErrStore{Op: "flush", Message: err.Error()}
	}
	return nil
}

func (s *Store) saveIndex() error {
	buf := make([]byte, 0, 16+len(s.ids)*(8+s.dim*4))
	buf = append(buf, indexMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, indexVersion)
	buf = append(buf, metricByte(s.metric))
	buf = append(buf, 0) // padding
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.ids)))

	for _, id := range s.ids {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(id)))
		buf = append(buf, id...)
		for _, f := range s.vectors[id] {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return writeAtomic(s.idxPath, buf)
}

func (s *Store) savePayloads() error {
	data, err := json.Marshal(s.payloads)
	if err != nil {
		return fmt.Errorf("marshal payloads: %w", err)
	}
	return writeAtomic(s.payloadPath, data)
}

// load restores both files. Any read or decode failure is logged and
// the store starts empty, never an error to the caller.
func (s *Store) load() {
	idxData, err := os.ReadFile(s.idxPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("flat: unreadable index, starting empty", "path", s.idxPath, "error", err)
		}
		return
	}
	plData, err := os.ReadFile(s.payloadPath)
	if err != nil {
		s.logger.Warn("flat: unreadable payload file, starting empty", "path", s.payloadPath, "error", err)
		return
	}

	ids, vectors, err := decodeIndex(idxData, s.dim)
	if err != nil {
		s.logger.Warn("flat: corrupt index, starting empty", "path", s.idxPath, "error", err)
		return
	}
	payloads := make(map[string]map[string]any)
	if err := json.Unmarshal(plData, &payloads); err != nil {
		s.logger.Warn("flat: corrupt payload file, starting empty", "path", s.payloadPath, "error", err)
		return
	}
	for _, id := range ids {
		if _, ok := payloads[id]; !ok {
			s.logger.Warn("flat: payload missing for indexed row, starting empty", "id", id)
			return
		}
	}

	s.ids = ids
	s.vectors = vectors
	s.payloads = payloads
	s.logger.Debug("flat: loaded collection", "collection", s.collection, "rows", len(ids))
}

func decodeIndex(data []byte, wantDim int) ([]string, map[string][]float32, error) {
	if len(data) < 16 {
		return nil, nil, fmt.Errorf("truncated header: %d bytes", len(data))
	}
	if string(data[:4]) != indexMagic {
		return nil, nil, fmt.Errorf("bad magic %q", data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != indexVersion {
		return nil, nil, fmt.Errorf("unsupported version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	if dim != wantDim {
		return nil, nil, fmt.Errorf("dimension %d, want %d", dim, wantDim)
	}
	count := int(binary.LittleEndian.Uint32(data[12:16]))

	ids := make([]string, 0, count)
	vectors := make(map[string][]float32, count)
	off := 16
	for range count {
		if off+4 > len(data) {
			return nil, nil, fmt.Errorf("truncated row at offset %d", off)
		}
		idLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+idLen+dim*4 > len(data) {
			return nil, nil, fmt.Errorf("truncated row at offset %d", off)
		}
		id := string(data[off : off+idLen])
		off += idLen

		vec := make([]float32, dim)
		for i := range dim {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		ids = append(ids, id)
		vectors[id] = vec
	}
	return ids, vectors, nil
}

// writeAtomic writes data to a sibling temp file and renames it over
// path, so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func metricByte(m Metric) byte {
	if m == MetricL2 {
		return 1
	}
	return 0
}

// sanitizePayload normalises payload values to JSON-safe forms: byte
// blobs become strings, float32 vectors become plain float slices.
// Anything json.Marshal still rejects is stringified.
func sanitizePayload(pl map[string]any) map[string]any {
	out := make(map[string]any, len(pl))
	for k, v := range pl {
		out[k] = jsonSafe(v)
	}
	return out
}

func jsonSafe(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case []float32:
		fs := make([]float64, len(t))
		for i, f := range t {
			fs[i] = float64(f)
		}
		return fs
	case map[string]any:
		return sanitizePayload(t)
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprint(v)
		}
		return v
	}
}
