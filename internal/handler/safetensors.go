package handler

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/dreadnode/tensor-man/internal/safelog"
)

// safeTensorsHandler implements Handler for the SafeTensors format: a
// length-prefixed JSON header followed by a flat tensor data block, and
// optionally a sharded model described by a `*.safetensors.index.json`
// sidecar mapping tensor names to shard filenames.
type safeTensorsHandler struct{}

func (h *safeTensorsHandler) FileType() FileType { return FileTypeSafeTensors }

func (h *safeTensorsHandler) IsHandlerFor(path string, scope Scope) bool {
	lower := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(lower, ".safetensors") {
		return true
	}
	if scope == ScopeSigning && strings.HasSuffix(lower, ".safetensors.index.json") {
		return true
	}
	return false
}

func (h *safeTensorsHandler) PathsToSign(path string) ([]string, error) {
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".index.json") {
		return []string{path}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read safetensors index %s: %w", safelog.Sanitize(path), err)
	}

	var index struct {
		WeightMap map[string]string `json:"weight_map"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse safetensors index %s: %w", safelog.Sanitize(path), err)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]struct{}, len(index.WeightMap))
	paths := []string{path}
	shardNames := make([]string, 0, len(index.WeightMap))
	for _, shard := range index.WeightMap {
		shardNames = append(shardNames, shard)
	}
	sort.Strings(shardNames)
	for _, shard := range shardNames {
		if _, ok := seen[shard]; ok {
			continue
		}
		seen[shard] = struct{}{}
		if filepath.IsAbs(shard) {
			paths = append(paths, shard)
		} else {
			paths = append(paths, filepath.Join(dir, shard))
		}
	}
	return paths, nil
}

func (h *safeTensorsHandler) Inspect(path string, detail DetailLevel, filter string) (Inspection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Inspection{}, fmt.Errorf("stat %s: %w", safelog.Sanitize(path), err)
	}

	header, headerSize, err := readSafeTensorsHeader(path)
	if err != nil {
		return Inspection{}, err
	}

	insp := Inspection{
		Path:       path,
		FileType:   FileTypeSafeTensors,
		FileSize:   uint64(info.Size()),
		HeaderSize: headerSize,
		Metadata:   header.Metadata,
	}

	type namedTensor struct {
		name   string
		tensor safeTensorInfo
	}
	tensors := make([]namedTensor, 0, len(header.Tensors))
	for name, t := range header.Tensors {
		tensors = append(tensors, namedTensor{name: name, tensor: t})
	}
	sort.Slice(tensors, func(i, j int) bool {
		return tensors[i].tensor.DataOffsets[0] < tensors[j].tensor.DataOffsets[0]
	})

	shapes := make([]Shape, 0, len(tensors))
	dtypes := make([]string, 0, len(tensors))
	var dataSize uint64
	var descriptors []TensorDescriptor

	for _, nt := range tensors {
		start := nt.tensor.DataOffsets[0]
		end := nt.tensor.DataOffsets[1]
		size := uint64(0)
		if end > start {
			size = end - start
		}
		dataSize += size
		shapes = append(shapes, Shape(nt.tensor.Shape))
		if nt.tensor.DType != "" {
			dtypes = append(dtypes, nt.tensor.DType)
		}

		if detail == DetailFull && (filter == "" || strings.Contains(nt.name, filter)) {
			descriptors = append(descriptors, TensorDescriptor{
				ID:    nt.name,
				Shape: nt.tensor.Shape,
				DType: nt.tensor.DType,
				Size:  size,
			})
		}
	}

	insp.TensorCount = len(tensors)
	insp.DataSize = dataSize
	insp.UniqueShapes = uniqueShapes(shapes)
	insp.UniqueDTypes = uniqueDTypes(dtypes)
	if detail == DetailFull {
		insp.Tensors = descriptors
	}

	return insp, nil
}

func (h *safeTensorsHandler) CreateGraph(path, output string) error {
	return ErrGraphUnsupported
}

// safeTensorsHeader mirrors the JSON object at the start of a .safetensors
// file: tensor name -> {dtype, shape, data_offsets}, plus an optional
// "__metadata__" entry holding free-form string metadata.
type safeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]safeTensorInfo
}

type safeTensorInfo struct {
	DType       string    `json:"dtype"`
	Shape       []uint64  `json:"shape"`
	DataOffsets [2]uint64 `json:"data_offsets"`
}

const maxSafeTensorsHeaderSize = 100 * 1024 * 1024

// readSafeTensorsHeader memory-maps path and parses the 8-byte
// little-endian header length followed by that many bytes of JSON,
// without reading the (potentially huge) tensor data block that follows.
func readSafeTensorsHeader(path string) (*safeTensorsHeader, uint64, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap %s: %w", safelog.Sanitize(path), err)
	}
	defer r.Close()

	if r.Len() < 8 {
		return nil, 0, fmt.Errorf("safetensors file %s is too small to contain a header", safelog.Sanitize(path))
	}

	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, 0, fmt.Errorf("read header length from %s: %w", safelog.Sanitize(path), err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxSafeTensorsHeaderSize {
		return nil, 0, fmt.Errorf("safetensors header too large in %s: %d bytes", safelog.Sanitize(path), headerLen)
	}
	if int64(8+headerLen) > int64(r.Len()) {
		return nil, 0, fmt.Errorf("safetensors header in %s extends past end of file", safelog.Sanitize(path))
	}

	headerBytes := make([]byte, headerLen)
	if _, err := r.ReadAt(headerBytes, 8); err != nil {
		return nil, 0, fmt.Errorf("read header from %s: %w", safelog.Sanitize(path), err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse safetensors header JSON in %s: %w", safelog.Sanitize(path), err)
	}

	header := &safeTensorsHeader{Tensors: make(map[string]safeTensorInfo, len(raw))}
	for name, msg := range raw {
		if name == "__metadata__" {
			var meta map[string]string
			if err := json.Unmarshal(msg, &meta); err != nil {
				return nil, 0, fmt.Errorf("parse safetensors metadata in %s: %w", safelog.Sanitize(path), err)
			}
			header.Metadata = meta
			continue
		}
		var info safeTensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, 0, fmt.Errorf("parse tensor %q in %s: %w", name, safelog.Sanitize(path), err)
		}
		header.Tensors[name] = info
	}

	return header, 8 + headerLen, nil
}
