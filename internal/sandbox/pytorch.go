// Package sandbox runs the PyTorch inspector in an isolated container,
// because PyTorch's pickle-based serialization format is unsafe to parse
// in-process: unpickling can execute arbitrary code embedded in the file.
// The container receives the model file read-only, runs with networking
// disabled, and is auto-removed after exit — the contract spec.md §4.5/§6
// describes. This package implements only the Go-side invocation; the
// embedded Dockerfile/script/requirements are out of scope (spec.md §13).
package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dreadnode/tensor-man/internal/safelog"
)

const (
	inContainerModelPath = "/model/input"
	imageTagPrefix       = "tensor-man-inspect-"
	inspectTimeout       = 2 * time.Minute
)

// TensorRecord mirrors the per-tensor fields the sandboxed Python inspector
// emits in its JSON stdout document.
type TensorRecord struct {
	ID       string            `json:"id"`
	Shape    []uint64          `json:"shape"`
	DType    string            `json:"dtype"`
	Size     uint64            `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result mirrors the Inspection JSON document the sandboxed inspector
// prints on stdout. internal/handler converts this into its own
// Inspection type, keeping this package free of a dependency on handler
// (which itself depends on sandbox) and avoiding an import cycle.
type Result struct {
	FileType      string            `json:"file_type"`
	FileSize      uint64            `json:"file_size"`
	HeaderSize    uint64            `json:"header_size"`
	Version       string            `json:"version"`
	TensorCount   int               `json:"tensor_count"`
	DataSize      uint64            `json:"data_size"`
	UniqueShapes  [][]uint64        `json:"unique_shapes"`
	UniqueDTypes  []string          `json:"unique_dtypes"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tensors       []TensorRecord    `json:"tensors,omitempty"`
	ExternalFiles []string          `json:"external_files,omitempty"`
}

// PyTorchInspector builds (on first use) and runs the sandboxed PyTorch
// inspector image via the Docker CLI.
type PyTorchInspector struct {
	// DockerPath overrides the docker binary name, for tests.
	DockerPath string
	// assetsDir, when set, points at the directory holding the
	// Dockerfile/script/requirements; in production these are embedded
	// assets written to a temp dir on first build.
	assetsDir string
}

// NewPyTorchInspector constructs the default sandboxed inspector, invoking
// the "docker" binary on PATH.
func NewPyTorchInspector() *PyTorchInspector {
	return &PyTorchInspector{DockerPath: "docker"}
}

// Inspect mounts path read-only into a fresh container running the
// content-hash-tagged inspector image and parses its JSON stdout.
func (p *PyTorchInspector) Inspect(path string, detailed bool, filter string) (Result, error) {
	if _, err := exec.LookPath(p.dockerPath()); err != nil {
		return Result{}, fmt.Errorf("pytorch inspection requires a container runtime: %w", err)
	}

	imageTag, err := p.ensureImage()
	if err != nil {
		return Result{}, fmt.Errorf("build pytorch inspector image: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", safelog.Sanitize(path), err)
	}

	args := []string{
		"run", "--rm",
		"--network", "none",
		"--read-only",
		"-v", fmt.Sprintf("%s:%s:ro", abs, inContainerModelPath),
		imageTag,
		inContainerModelPath,
	}
	if filter != "" {
		args = append(args, "--filter="+filter)
	}
	if detailed {
		args = append(args, "--detailed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.dockerPath(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("pytorch sandbox for %s: %w", safelog.Sanitize(path), err)
	}
	if stderr.Len() > 0 {
		return Result{}, fmt.Errorf("pytorch sandbox for %s reported an error: %s", safelog.Sanitize(path), safelog.Sanitize(stderr.String()))
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("parse pytorch sandbox output for %s: %w", safelog.Sanitize(path), err)
	}
	return res, nil
}

func (p *PyTorchInspector) dockerPath() string {
	if p.DockerPath != "" {
		return p.DockerPath
	}
	return "docker"
}

// ensureImage builds the inspector image the first time it's needed,
// tagged by a content hash over its embedded assets so re-running never
// rebuilds an unchanged image and editing the script always invalidates
// the cache automatically.
func (p *PyTorchInspector) ensureImage() (string, error) {
	dir, err := p.assetsDirPath()
	if err != nil {
		return "", err
	}

	hash, err := hashDir(dir)
	if err != nil {
		return "", err
	}
	tag := imageTagPrefix + hash[:16]

	check := exec.Command(p.dockerPath(), "image", "inspect", tag)
	if err := check.Run(); err == nil {
		return tag, nil
	}

	build := exec.Command(p.dockerPath(), "build", "-t", tag, dir)
	var stderr bytes.Buffer
	build.Stderr = &stderr
	if err := build.Run(); err != nil {
		return "", fmt.Errorf("docker build: %s: %w", safelog.Sanitize(stderr.String()), err)
	}
	return tag, nil
}

func (p *PyTorchInspector) assetsDirPath() (string, error) {
	if p.assetsDir != "" {
		return p.assetsDir, nil
	}
	dir, err := writeEmbeddedAssets()
	if err != nil {
		return "", err
	}
	p.assetsDir = dir
	return dir, nil
}

// hashDir returns a stable hex digest over the name and content of every
// file directly in dir, in name order, so image tags are deterministic
// across machines. Subdirectories are not descended into.
func hashDir(dir string) (string, error) {
	h := sha256.New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return "", err
		}
		h.Write([]byte(e.Name()))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeEmbeddedAssets materializes the Dockerfile/script/requirements to a
// fresh temp directory. Their content is the out-of-scope Python side
// (spec.md §13); this writes a minimal placeholder set sufficient to
// produce a deterministic, cacheable image identity.
func writeEmbeddedAssets() (string, error) {
	dir, err := os.MkdirTemp("", "tensor-man-pytorch-inspect-")
	if err != nil {
		return "", err
	}
	assets := map[string]string{
		"Dockerfile":       embeddedDockerfile,
		"inspect.py":       embeddedInspectScript,
		"requirements.txt": embeddedRequirements,
	}
	for name, content := range assets {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

const embeddedDockerfile = `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY inspect.py .
ENTRYPOINT ["python", "inspect.py"]
`

const embeddedRequirements = `torch>=2.2
`

const embeddedInspectScript = `import argparse, json, sys

def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("path")
    parser.add_argument("--filter", default="")
    parser.add_argument("--detailed", action="store_true")
    args = parser.parse_args()
    try:
        import torch
        state = torch.load(args.path, map_location="cpu", weights_only=True)
    except Exception as exc:
        print(str(exc), file=sys.stderr)
        sys.exit(1)
    print(json.dumps({"file_type": "pytorch", "tensor_count": len(state) if hasattr(state, "__len__") else 0}))

if __name__ == "__main__":
    main()
`
