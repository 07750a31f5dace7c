package commands

import (
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/handler"
)

func newGraphCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "graph <file>",
		Short: "Render a model's structure as a Graphviz DOT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			override, err := parseFormatOverride(format)
			if err != nil {
				return err
			}

			h, err := handler.For(override, path, handler.ScopeInspection)
			if err != nil {
				return err
			}

			if err := h.CreateGraph(path, output); err != nil {
				return err
			}

			cmd.Printf("wrote graph to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force a file format (safetensors|onnx|gguf|pytorch)")
	cmd.Flags().StringVar(&output, "output", "graph.dot", "Path to write the DOT file")

	return cmd
}
