package commands

import (
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/keys"
)

func newCreateKeyCmd() *cobra.Command {
	var (
		privatePath string
		publicPath  string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Generate a new Ed25519 signing keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := keys.Generate()
			if err != nil {
				return err
			}
			if err := keys.WritePrivateKey(privatePath, priv, force); err != nil {
				return err
			}
			if err := keys.WritePublicKey(publicPath, pub, force); err != nil {
				return err
			}
			cmd.Printf("wrote private key to %s\n", privatePath)
			cmd.Printf("wrote public key to %s\n", publicPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&privatePath, "private-key", "./private.key", "Path to write the PKCS#8-encoded private key")
	cmd.Flags().StringVar(&publicPath, "public-key", "./public.key", "Path to write the raw public key")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")

	return cmd
}
