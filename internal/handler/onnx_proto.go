package handler

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The ONNX on-disk format is a serialized protobuf ModelProto. tensor-man
// needs only a handful of its fields (enough to discover external-data
// references and report structural metadata), so rather than vendor a
// generated onnx.pb.go this package hand-decodes those fields directly off
// the wire with protowire, the same technique distribution-distribution's
// vendored go-unixfsnode/data/unmarshal.go uses to decode UnixFS protobuf
// without generated stubs.

const (
	onnxFieldIRVersion       = 1
	onnxFieldProducerName    = 2
	onnxFieldProducerVersion = 3
	onnxFieldDomain          = 4
	onnxFieldModelVersion    = 5
	onnxFieldDocString       = 6
	onnxFieldGraph           = 7
	onnxFieldMetadataProps   = 14

	onnxFieldGraphInitializer = 5

	onnxFieldTensorDims         = 1
	onnxFieldTensorDataType     = 2
	onnxFieldTensorName         = 8
	onnxFieldTensorExternalData = 13
	onnxFieldTensorDataLocation = 14

	onnxFieldEntryKey   = 1
	onnxFieldEntryValue = 2

	onnxDataLocationExternal = 1
)

type onnxStringEntry struct {
	key   string
	value string
}

type onnxTensorProto struct {
	name         string
	dims         []int64
	dataType     int32
	dataLocation int32
	externalData []onnxStringEntry
}

type onnxGraphProto struct {
	initializers []onnxTensorProto
}

type onnxModelProto struct {
	irVersion       int64
	modelVersion    int64
	producerName    string
	producerVersion string
	domain          string
	docString       string
	metadataProps   []onnxStringEntry
	graph           *onnxGraphProto
}

// parseONNXModel decodes the subset of ModelProto fields tensor-man needs
// from raw protobuf wire bytes.
func parseONNXModel(buf []byte) (*onnxModelProto, error) {
	m := &onnxModelProto{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case onnxFieldIRVersion:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.irVersion = int64(v)
		case onnxFieldModelVersion:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.modelVersion = int64(v)
		case onnxFieldProducerName:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.producerName = s
		case onnxFieldProducerVersion:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.producerVersion = s
		case onnxFieldDomain:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.domain = s
		case onnxFieldDocString:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			m.docString = s
		case onnxFieldMetadataProps:
			raw, n, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			entry, err := parseONNXStringEntry(raw)
			if err != nil {
				return nil, err
			}
			m.metadataProps = append(m.metadataProps, entry)
		case onnxFieldGraph:
			raw, n, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			graph, err := parseONNXGraph(raw)
			if err != nil {
				return nil, err
			}
			m.graph = graph
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
		}
	}

	return m, nil
}

func parseONNXGraph(buf []byte) (*onnxGraphProto, error) {
	g := &onnxGraphProto{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case onnxFieldGraphInitializer:
			raw, n, err := consumeBytes(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			tensor, err := parseONNXTensor(raw)
			if err != nil {
				return nil, err
			}
			g.initializers = append(g.initializers, tensor)
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
		}
	}
	return g, nil
}

func parseONNXTensor(buf []byte) (onnxTensorProto, error) {
	var t onnxTensorProto
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return t, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case onnxFieldTensorDims:
			if typ == protowire.BytesType {
				raw, n, err := consumeBytes(buf, typ)
				if err != nil {
					return t, err
				}
				buf = buf[n:]
				for len(raw) > 0 {
					v, m := protowire.ConsumeVarint(raw)
					if m < 0 {
						return t, protowire.ParseError(m)
					}
					raw = raw[m:]
					t.dims = append(t.dims, int64(v))
				}
			} else {
				v, n, err := consumeVarint(buf, typ)
				if err != nil {
					return t, err
				}
				buf = buf[n:]
				t.dims = append(t.dims, int64(v))
			}
		case onnxFieldTensorDataType:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return t, err
			}
			buf = buf[n:]
			t.dataType = int32(v)
		case onnxFieldTensorName:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return t, err
			}
			buf = buf[n:]
			t.name = s
		case onnxFieldTensorDataLocation:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return t, err
			}
			buf = buf[n:]
			t.dataLocation = int32(v)
		case onnxFieldTensorExternalData:
			raw, n, err := consumeBytes(buf, typ)
			if err != nil {
				return t, err
			}
			buf = buf[n:]
			entry, err := parseONNXStringEntry(raw)
			if err != nil {
				return t, err
			}
			t.externalData = append(t.externalData, entry)
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return t, err
			}
			buf = buf[n:]
		}
	}
	return t, nil
}

func parseONNXStringEntry(buf []byte) (onnxStringEntry, error) {
	var e onnxStringEntry
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case onnxFieldEntryKey:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return e, err
			}
			buf = buf[n:]
			e.key = s
		case onnxFieldEntryValue:
			s, n, err := consumeString(buf, typ)
			if err != nil {
				return e, err
			}
			buf = buf[n:]
			e.value = s
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return e, err
			}
			buf = buf[n:]
		}
	}
	return e, nil
}

func consumeVarint(buf []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint wire type, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected length-delimited wire type, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(buf []byte, typ protowire.Type) (string, int, error) {
	v, n, err := consumeBytes(buf, typ)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

func skipField(buf []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, buf)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
