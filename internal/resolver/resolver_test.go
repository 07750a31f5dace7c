package resolver

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/dreadnode/tensor-man/internal/handler"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestResolveSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.safetensors", []byte("12345678weights"))
	binary := append([]byte{8, 0, 0, 0, 0, 0, 0, 0}, []byte("{}")...)
	if err := os.WriteFile(path, binary, 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	paths, err := Resolve(handler.FileTypeUnknown, path, handler.ScopeSigning, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("paths = %v, want 1", paths)
	}
}

func TestResolveDirectorySkipsUnmatched(t *testing.T) {
	dir := t.TempDir()
	header := append([]byte{2, 0, 0, 0, 0, 0, 0, 0}, []byte("{}")...)
	writeFile(t, dir, "model.safetensors", header)
	writeFile(t, dir, "README.md", []byte("hello"))
	writeFile(t, dir, "tokenizer.json", []byte("{}"))

	paths, err := Resolve(handler.FileTypeUnknown, dir, handler.ScopeSigning, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("paths = %v, want exactly the safetensors file", paths)
	}
}

func TestResolveEmptyDirectoryErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", []byte("hello"))

	if _, err := Resolve(handler.FileTypeUnknown, dir, handler.ScopeSigning, nil, nil); err == nil {
		t.Fatal("expected error for directory with no compatible paths")
	}
}

func TestResolveExcludesSignaturePath(t *testing.T) {
	dir := t.TempDir()
	header := append([]byte{2, 0, 0, 0, 0, 0, 0, 0}, []byte("{}")...)
	modelPath := writeFile(t, dir, "model.safetensors", header)
	sigPath := writeFile(t, dir, "tensor-man.signature", []byte("{}"))

	excludeAbs, err := filepath.Abs(sigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedSig, err := filepath.EvalSymlinks(excludeAbs)
	if err != nil {
		resolvedSig = excludeAbs
	}

	paths, err := Resolve(handler.FileTypeUnknown, dir, handler.ScopeSigning, []string{resolvedSig}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	sort.Strings(paths)
	for _, p := range paths {
		if p == resolvedSig {
			t.Fatalf("signature path %s should have been excluded from %v", resolvedSig, paths)
		}
	}
	_ = modelPath
}

func TestSignaturePathDefaults(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "model.safetensors", []byte("x"))

	sig, err := SignaturePath(file)
	if err != nil {
		t.Fatalf("SignaturePath: %v", err)
	}
	if filepath.Base(sig) != "model.signature" {
		t.Errorf("sig = %q, want model.signature", sig)
	}

	dirSig, err := SignaturePath(dir)
	if err != nil {
		t.Fatalf("SignaturePath: %v", err)
	}
	if filepath.Base(dirSig) != "tensor-man.signature" {
		t.Errorf("dirSig = %q, want tensor-man.signature", dirSig)
	}
}
