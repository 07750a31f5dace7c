package handler

import (
	"fmt"

	"github.com/dreadnode/tensor-man/internal/safelog"
	"github.com/dreadnode/tensor-man/internal/sandbox"
)

// Handler is the capability every supported model format implements.
type Handler interface {
	// FileType returns the handler's own format tag.
	FileType() FileType

	// IsHandlerFor reports whether this handler owns path for the given
	// scope. Implementations use lowercased filename/extension checks only
	// and must never read file contents here.
	IsHandlerFor(path string, scope Scope) bool

	// PathsToSign returns the complete set of files that together
	// constitute the model rooted at path, always including path itself
	// when it is a regular file. May open and parse path to discover
	// external references.
	PathsToSign(path string) ([]string, error)

	// Inspect produces a structural report for path.
	Inspect(path string, detail DetailLevel, filter string) (Inspection, error)

	// CreateGraph renders a visualization of the model to output. Formats
	// that don't support this return ErrGraphUnsupported.
	CreateGraph(path, output string) error
}

// ErrGraphUnsupported is returned by CreateGraph for handlers that don't
// implement graph rendering (every format except ONNX).
var ErrGraphUnsupported = fmt.Errorf("graph generation not supported for this format")

// registry holds all registered handlers in registration order. Order
// matters: handler_for falls back to the first handler (in this order)
// whose IsHandlerFor returns true.
var registry []Handler

// register adds a handler implementation to the global registry.
func register(h Handler) {
	registry = append(registry, h)
}

// init populates the registry in the exact fallback order the dispatcher
// must honor: SafeTensors, then ONNX, then GGUF, then PyTorch. This order
// is spelled out explicitly here rather than left to each handler file's
// own init(), since Go runs those in alphabetical file order (gguf, onnx,
// pytorch, safetensors) which does not match the order above.
func init() {
	register(&safeTensorsHandler{})
	register(&onnxHandler{})
	register(&ggufHandler{})
	register(&pyTorchHandler{inspector: sandbox.NewPyTorchInspector()})
}

// byFileType looks up a registered handler by its self-identified type.
func byFileType(ft FileType) (Handler, bool) {
	for _, h := range registry {
		if h.FileType() == ft {
			return h, true
		}
	}
	return nil, false
}

// For resolves a path (optionally with a user-forced format override) to a
// concrete Handler for the given scope. Pure: it does not touch the
// filesystem beyond what IsHandlerFor permits (extension inspection).
func For(override FileType, path string, scope Scope) (Handler, error) {
	if override != "" && override != FileTypeUnknown {
		h, ok := byFileType(override)
		if !ok {
			return nil, fmt.Errorf("unsupported file format: %s", override)
		}
		return h, nil
	}

	for _, h := range registry {
		if h.IsHandlerFor(path, scope) {
			return h, nil
		}
	}

	return nil, fmt.Errorf("unable to detect format for %s", safelog.Sanitize(path))
}
