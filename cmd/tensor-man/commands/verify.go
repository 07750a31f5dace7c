package commands

import (
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/handler"
	"github.com/dreadnode/tensor-man/internal/keys"
	"github.com/dreadnode/tensor-man/internal/manifest"
	"github.com/dreadnode/tensor-man/internal/resolver"
)

func newVerifyCmd() *cobra.Command {
	var (
		format        string
		keyPath       string
		signaturePath string
	)

	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify a model file or directory against a signature manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]

			override, err := parseFormatOverride(format)
			if err != nil {
				return err
			}

			defaultSig, err := resolver.SignaturePath(root)
			if err != nil {
				return err
			}
			if signaturePath == "" {
				signaturePath = defaultSig
			}

			paths, err := resolver.Resolve(override, root, handler.ScopeSigning, []string{defaultSig, signaturePath}, log)
			if err != nil {
				return err
			}

			pub, err := keys.LoadPublicKey(keyPath)
			if err != nil {
				return err
			}

			ref, err := manifest.FromSignaturePath(root, signaturePath)
			if err != nil {
				return err
			}

			m, err := manifest.ForVerifying(root, pub)
			if err != nil {
				return err
			}
			if err := m.Verify(paths, ref); err != nil {
				return err
			}

			cmd.Printf("verified %d file(s) against %s\n", len(paths), signaturePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Force a file format (safetensors|onnx|gguf|pytorch)")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Path to the raw Ed25519 public key")
	cmd.Flags().StringVar(&signaturePath, "signature", "", "Path to the signature manifest (default: <name>.signature beside a file, <dir>/tensor-man.signature for a directory)")
	cmd.MarkFlagRequired("key-path")

	return cmd
}
