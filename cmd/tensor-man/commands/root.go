// Package commands implements the tensor-man CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreadnode/tensor-man/internal/logging"
)

// ToolVersion is tensor-man's own semantic version, embedded in
// manifest.signed_with and reported by the version subcommand.
const ToolVersion = "0.1.0"

var (
	verbose bool
	logJSON bool

	log logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tensor-man",
	Short: "Inspect and cryptographically sign machine-learning model files",
	Long: `tensor-man inspects and signs ML model files across SafeTensors, ONNX,
GGUF, and PyTorch containers, tolerating sharded and multi-file layouts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		logger := logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
		if logJSON {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}

		if level := os.Getenv("TENSOR_MAN_LOG_LEVEL"); level != "" {
			if lvl, err := logrus.ParseLevel(level); err == nil {
				logger.SetLevel(lvl)
			}
		}
		if os.Getenv("TENSOR_MAN_LOG_JSON") == "true" {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}

		log = logging.NewLogrusAdapterFromEntry(logger.WithField("component", "tensor-man"))
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any returned error to stderr
// (cobra's own error printing is silenced).
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newInspectCmd(),
		newCreateKeyCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newGraphCmd(),
		newVersionCmd(),
	)
}
