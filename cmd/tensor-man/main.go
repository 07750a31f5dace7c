// tensor-man inspects and cryptographically signs machine-learning model
// files across SafeTensors, ONNX, GGUF, and PyTorch containers.
package main

import (
	"os"

	"github.com/dreadnode/tensor-man/cmd/tensor-man/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
