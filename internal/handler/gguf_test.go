package handler

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func writeStr(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func buildGGUF(t *testing.T, alignmentMeta bool) []byte {
	t.Helper()
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, uint32(ggufMagic))
	binary.Write(&buf, binary.LittleEndian, uint32(3)) // version
	binary.Write(&buf, binary.LittleEndian, uint64(1)) // tensor count
	metaCount := uint64(1)
	if alignmentMeta {
		metaCount = 2
	}
	binary.Write(&buf, binary.LittleEndian, metaCount)

	writeStr(&buf, "general.name")
	binary.Write(&buf, binary.LittleEndian, uint32(ggufValString))
	writeStr(&buf, "test-model")

	if alignmentMeta {
		writeStr(&buf, "general.alignment")
		binary.Write(&buf, binary.LittleEndian, uint32(ggufValUint32))
		binary.Write(&buf, binary.LittleEndian, uint32(64))
	}

	writeStr(&buf, "weight")
	binary.Write(&buf, binary.LittleEndian, uint32(2)) // n_dims
	binary.Write(&buf, binary.LittleEndian, uint64(4))
	binary.Write(&buf, binary.LittleEndian, uint64(8))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // F32
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // offset, unused

	return buf.Bytes()
}

func TestParseGGUFBasic(t *testing.T) {
	data := buildGGUF(t, false)
	g, err := parseGGUF(data)
	if err != nil {
		t.Fatalf("parseGGUF: %v", err)
	}
	if g.version != 3 {
		t.Errorf("version = %d, want 3", g.version)
	}
	if len(g.tensors) != 1 {
		t.Fatalf("tensors = %d, want 1", len(g.tensors))
	}
	if g.tensors[0].name != "weight" {
		t.Errorf("tensor name = %q, want weight", g.tensors[0].name)
	}
	if g.metadata["general.name"] != "test-model" {
		t.Errorf("metadata[general.name] = %q, want test-model", g.metadata["general.name"])
	}
	// default alignment 32, header ends at len(data); dataOffset must be >= len(data)
	if g.dataOffset < uint64(len(data)) {
		t.Errorf("dataOffset %d is before end of header %d", g.dataOffset, len(data))
	}
	if g.dataOffset%32 != 0 {
		t.Errorf("dataOffset %d not aligned to default 32", g.dataOffset)
	}
}

func TestParseGGUFCustomAlignment(t *testing.T) {
	data := buildGGUF(t, true)
	g, err := parseGGUF(data)
	if err != nil {
		t.Fatalf("parseGGUF: %v", err)
	}
	if g.dataOffset%64 != 0 {
		t.Errorf("dataOffset %d not aligned to custom 64", g.dataOffset)
	}
}

func TestParseGGUFBadMagic(t *testing.T) {
	data := buildGGUF(t, false)
	data[0] = 0x00
	if _, err := parseGGUF(data); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseGGUFTruncated(t *testing.T) {
	data := buildGGUF(t, false)
	if _, err := parseGGUF(data[:10]); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestGGUFTensorSizeComputation(t *testing.T) {
	// weight tensor: dims [4, 8], F32 (32 bits) -> 4*8*32/8 = 128 bytes.
	shape := Shape([]uint64{4, 8})
	bits := ggufTypeBits[0]
	size := bits * shape.Volume() / 8
	if size != 128 {
		t.Errorf("size = %d, want 128", size)
	}
}

func TestGGUFIsHandlerFor(t *testing.T) {
	h := &ggufHandler{}
	if !h.IsHandlerFor("model.gguf", ScopeInspection) {
		t.Error("expected .gguf to be claimed")
	}
	if h.IsHandlerFor("model.safetensors", ScopeInspection) {
		t.Error("did not expect .safetensors to be claimed")
	}
}
