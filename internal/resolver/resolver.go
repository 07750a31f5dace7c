// Package resolver implements the path-of-interest resolver (spec.md §4.3):
// given a single file or a directory, it determines the complete,
// de-duplicated set of files a sign or verify operation must hash.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dreadnode/tensor-man/internal/handler"
	"github.com/dreadnode/tensor-man/internal/logging"
	"github.com/dreadnode/tensor-man/internal/safelog"
)

// Resolve walks root (a file or directory) and returns the canonicalized,
// de-duplicated union of every constituent file, per the format handlers'
// paths_to_sign. excludePaths names canonical paths to drop from the
// result regardless of handler output — used to exclude a prior
// tensor-man.signature from directory resolution (SPEC_FULL.md §12.2).
func Resolve(override handler.FileType, root string, scope handler.Scope, excludePaths []string, log logging.Logger) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", safelog.Sanitize(root), err)
	}

	exclude := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		if canon, err := canonicalize(p); err == nil {
			exclude[canon] = struct{}{}
		}
	}

	var paths []string
	if info.IsDir() {
		paths, err = resolveDirectory(override, root, scope, log)
	} else {
		paths, err = resolveFile(override, root, scope, log)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		canon, err := canonicalize(p)
		if err != nil {
			return nil, fmt.Errorf("canonicalize %s: %w", safelog.Sanitize(p), err)
		}
		if _, excluded := exclude[canon]; excluded {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no compatible paths found under %s", safelog.Sanitize(root))
	}
	return out, nil
}

func resolveFile(override handler.FileType, path string, scope handler.Scope, log logging.Logger) ([]string, error) {
	h, err := handler.For(override, path, scope)
	if err != nil {
		if log != nil {
			log.Warnf("no format handler claimed %s; signing this file alone, whole-model integrity is not guaranteed", safelog.Sanitize(path))
		}
		return []string{path}, nil
	}
	return h.PathsToSign(path)
}

func resolveDirectory(override handler.FileType, root string, scope handler.Scope, log logging.Logger) ([]string, error) {
	var all []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		h, err := handler.For(override, path, scope)
		if err != nil {
			// Unmatched files are expected noise in a directory tree
			// (tokenizer configs, READMEs, …) and are silently skipped.
			return nil
		}

		matched, err := h.PathsToSign(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", safelog.Sanitize(path), err)
		}
		all = append(all, matched...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return all, nil
}

// canonicalize resolves symlinks and makes path absolute, so that two
// different references to the same underlying file collapse to one entry.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// A path that doesn't exist yet (e.g. an output path) can't be
		// symlink-resolved; fall back to the absolute form.
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}

// SignaturePath returns the default signature file location for root, per
// spec.md §6: the file's name with its extension replaced by ".signature"
// for a single file (model.safetensors -> model.signature), and
// "<dir>/tensor-man.signature" for a directory.
func SignaturePath(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", safelog.Sanitize(root), err)
	}
	if info.IsDir() {
		return filepath.Join(root, "tensor-man.signature"), nil
	}
	ext := filepath.Ext(root)
	base := root[:len(root)-len(ext)]
	return base + ".signature", nil
}
