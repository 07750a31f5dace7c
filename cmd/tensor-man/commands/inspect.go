package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/handler"
)

func newInspectCmd() *cobra.Command {
	var (
		format  string
		detail  string
		filter  string
		toJSON  string
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Report the structure of a model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			override, err := parseFormatOverride(format)
			if err != nil {
				return err
			}
			detailLevel, err := parseDetail(detail)
			if err != nil {
				return err
			}

			h, err := handler.For(override, path, handler.ScopeInspection)
			if err != nil {
				return err
			}

			insp, err := h.Inspect(path, detailLevel, filter)
			if err != nil {
				return err
			}

			if toJSON != "" {
				data, err := json.MarshalIndent(insp, "", "  ")
				if err != nil {
					return fmt.Errorf("serialize inspection: %w", err)
				}
				if err := os.WriteFile(toJSON, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", toJSON, err)
				}
			}

			if quiet {
				return nil
			}

			printInspection(cmd, insp)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force a file format (safetensors|onnx|gguf|pytorch)")
	cmd.Flags().StringVar(&detail, "detail", "brief", "Detail level: brief or full")
	cmd.Flags().StringVar(&filter, "filter", "", "Only include tensors whose id contains this substring (--detail full)")
	cmd.Flags().StringVar(&toJSON, "to-json", "", "Write the inspection report as JSON to this path")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress the human-readable report")

	return cmd
}

func printInspection(cmd *cobra.Command, insp handler.Inspection) {
	cmd.Printf("path:          %s\n", insp.Path)
	cmd.Printf("format:        %s\n", insp.FileType)
	cmd.Printf("file size:     %s\n", units.BytesSize(float64(insp.FileSize)))
	cmd.Printf("header size:   %s\n", units.BytesSize(float64(insp.HeaderSize)))
	if insp.Version != "" {
		cmd.Printf("version:       %s\n", insp.Version)
	}
	cmd.Printf("tensor count:  %d\n", insp.TensorCount)
	cmd.Printf("data size:     %s\n", units.BytesSize(float64(insp.DataSize)))
	cmd.Printf("average size:  %s\n", units.BytesSize(float64(insp.AverageTensorSize())))

	cmd.Printf("unique shapes: %d\n", len(insp.UniqueShapes))
	for _, s := range insp.UniqueShapes {
		cmd.Printf("  %v\n", []uint64(s))
	}
	cmd.Printf("unique dtypes: %v\n", insp.UniqueDTypes)

	if len(insp.Metadata) > 0 {
		cmd.Println("metadata:")
		for k, v := range insp.Metadata {
			cmd.Printf("  %s: %s\n", k, v)
		}
	}

	if len(insp.ExternalFiles) > 0 {
		cmd.Println("external files:")
		for _, f := range insp.ExternalFiles {
			cmd.Printf("  %s\n", f)
		}
	}

	if len(insp.Tensors) > 0 {
		cmd.Println("tensors:")
		for _, t := range insp.Tensors {
			cmd.Printf("  %s: %s %v (%s)\n", t.ID, t.DType, t.Shape, units.BytesSize(float64(t.Size)))
		}
	}
}
