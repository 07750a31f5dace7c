package handler

import (
	"path/filepath"
	"strings"

	"github.com/dreadnode/tensor-man/internal/sandbox"
)

// pyTorchHandler implements Handler for PyTorch's pickle-based archive
// format. Because that format is unsafe to parse in-process, inspect
// delegates entirely to a sandboxed subprocess (internal/sandbox).
type pyTorchHandler struct {
	inspector *sandbox.PyTorchInspector
}

func (h *pyTorchHandler) FileType() FileType { return FileTypePyTorch }

func (h *pyTorchHandler) IsHandlerFor(path string, _ Scope) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".pt") || strings.HasSuffix(name, ".pth") {
		return true
	}
	return strings.Contains(name, "pytorch_model") && strings.HasSuffix(name, ".bin")
}

// PathsToSign returns [path] plus, when the sandboxed inspector is
// available and reports external members, those resolved relative to
// path's directory — the extension point spec.md §9 leaves open for
// PyTorch archives that are not strictly single-file.
func (h *pyTorchHandler) PathsToSign(path string) ([]string, error) {
	paths := []string{path}

	res, err := h.inspector.Inspect(path, false, "")
	if err != nil {
		// The sandbox being unavailable is not fatal to paths_to_sign:
		// single-file PyTorch models remain signable without it.
		return paths, nil
	}

	dir := filepath.Dir(path)
	seen := map[string]struct{}{}
	for _, ext := range res.ExternalFiles {
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		if filepath.IsAbs(ext) {
			paths = append(paths, ext)
		} else {
			paths = append(paths, filepath.Join(dir, ext))
		}
	}
	return paths, nil
}

func (h *pyTorchHandler) Inspect(path string, detail DetailLevel, filter string) (Inspection, error) {
	res, err := h.inspector.Inspect(path, detail == DetailFull, filter)
	if err != nil {
		return Inspection{}, err
	}

	shapes := make([]Shape, 0, len(res.UniqueShapes))
	for _, s := range res.UniqueShapes {
		shapes = append(shapes, Shape(s))
	}
	tensors := make([]TensorDescriptor, 0, len(res.Tensors))
	for _, t := range res.Tensors {
		tensors = append(tensors, TensorDescriptor{
			ID:       t.ID,
			Shape:    t.Shape,
			DType:    t.DType,
			Size:     t.Size,
			Metadata: t.Metadata,
		})
	}

	return Inspection{
		Path:          path,
		FileType:      FileTypePyTorch,
		FileSize:      res.FileSize,
		HeaderSize:    res.HeaderSize,
		Version:       res.Version,
		TensorCount:   res.TensorCount,
		DataSize:      res.DataSize,
		UniqueShapes:  uniqueShapes(shapes),
		UniqueDTypes:  uniqueDTypes(res.UniqueDTypes),
		Metadata:      res.Metadata,
		Tensors:       tensors,
		ExternalFiles: res.ExternalFiles,
	}, nil
}

func (h *pyTorchHandler) CreateGraph(path, output string) error {
	return ErrGraphUnsupported
}
