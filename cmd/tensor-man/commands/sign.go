package commands

import (
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/handler"
	"github.com/dreadnode/tensor-man/internal/keys"
	"github.com/dreadnode/tensor-man/internal/manifest"
	"github.com/dreadnode/tensor-man/internal/resolver"
)

func newSignCmd() *cobra.Command {
	var (
		format  string
		keyPath string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "sign <path>",
		Short: "Sign a model file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]

			override, err := parseFormatOverride(format)
			if err != nil {
				return err
			}

			if output == "" {
				output, err = resolver.SignaturePath(root)
				if err != nil {
					return err
				}
			}

			// Exclude a prior signature file from the resolved set: signing
			// a directory a second time must not fold the previous
			// signature into the new manifest (SPEC_FULL.md §12.2).
			defaultSig, err := resolver.SignaturePath(root)
			if err != nil {
				return err
			}

			paths, err := resolver.Resolve(override, root, handler.ScopeSigning, []string{defaultSig, output}, log)
			if err != nil {
				return err
			}

			priv, err := keys.LoadPrivateKey(keyPath)
			if err != nil {
				return err
			}

			m, err := manifest.ForSigning(root, priv, "tensor-man/"+ToolVersion)
			if err != nil {
				return err
			}
			if err := m.Sign(paths); err != nil {
				return err
			}
			if err := m.Save(output); err != nil {
				return err
			}

			cmd.Printf("signed %d file(s), wrote manifest to %s\n", len(paths), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force a file format (safetensors|onnx|gguf|pytorch)")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Path to the PKCS#8-encoded private key")
	cmd.Flags().StringVar(&output, "output", "", "Path to write the signature manifest (default: <name>.signature beside a file, <dir>/tensor-man.signature for a directory)")
	cmd.MarkFlagRequired("key-path")

	return cmd
}
