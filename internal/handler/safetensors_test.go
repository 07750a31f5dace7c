package handler

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeSafeTensorsFile(t *testing.T, dir, name string, header map[string]interface{}, data []byte) string {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length: %v", err)
	}
	if _, err := f.Write(headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write data: %v", err)
	}
	return path
}

func TestReadSafeTensorsHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeSafeTensorsFile(t, dir, "model.safetensors", map[string]interface{}{
		"weight": map[string]interface{}{
			"dtype":        "F32",
			"shape":        []int{2, 2},
			"data_offsets": []int{0, 16},
		},
		"__metadata__": map[string]string{"format": "pt"},
	}, make([]byte, 16))

	header, headerSize, err := readSafeTensorsHeader(path)
	if err != nil {
		t.Fatalf("readSafeTensorsHeader: %v", err)
	}
	if headerSize <= 8 {
		t.Errorf("headerSize = %d, want > 8", headerSize)
	}
	tensor, ok := header.Tensors["weight"]
	if !ok {
		t.Fatal("expected tensor 'weight'")
	}
	if tensor.DType != "F32" {
		t.Errorf("dtype = %q, want F32", tensor.DType)
	}
	if header.Metadata["format"] != "pt" {
		t.Errorf("metadata[format] = %q, want pt", header.Metadata["format"])
	}
}

func TestSafeTensorsIsHandlerFor(t *testing.T) {
	h := &safeTensorsHandler{}
	if !h.IsHandlerFor("model.safetensors", ScopeInspection) {
		t.Error("expected .safetensors to be claimed in inspection scope")
	}
	if h.IsHandlerFor("model.safetensors.index.json", ScopeInspection) {
		t.Error("did not expect index.json to be claimed in inspection scope")
	}
	if !h.IsHandlerFor("model.safetensors.index.json", ScopeSigning) {
		t.Error("expected index.json to be claimed in signing scope")
	}
}

func TestSafeTensorsPathsToSignIndex(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "model.safetensors.index.json")
	payload := map[string]interface{}{
		"weight_map": map[string]string{
			"w1": "model-00001-of-00002.safetensors",
			"w2": "model-00002-of-00002.safetensors",
			"w3": "model-00001-of-00002.safetensors",
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(index, data, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	h := &safeTensorsHandler{}
	paths, err := h.PathsToSign(index)
	if err != nil {
		t.Fatalf("PathsToSign: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v, want 3 entries (index + 2 distinct shards)", paths)
	}
	if paths[0] != index {
		t.Errorf("paths[0] = %q, want index path", paths[0])
	}
}

func TestSafeTensorsInspect(t *testing.T) {
	dir := t.TempDir()
	path := writeSafeTensorsFile(t, dir, "model.safetensors", map[string]interface{}{
		"a": map[string]interface{}{"dtype": "F32", "shape": []int{2}, "data_offsets": []int{0, 8}},
		"b": map[string]interface{}{"dtype": "F16", "shape": []int{4}, "data_offsets": []int{8, 16}},
	}, make([]byte, 16))

	h := &safeTensorsHandler{}
	insp, err := h.Inspect(path, DetailFull, "")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if insp.TensorCount != 2 {
		t.Errorf("TensorCount = %d, want 2", insp.TensorCount)
	}
	if insp.DataSize != 16 {
		t.Errorf("DataSize = %d, want 16", insp.DataSize)
	}
	if len(insp.Tensors) != 2 {
		t.Errorf("Tensors = %d, want 2", len(insp.Tensors))
	}
}
