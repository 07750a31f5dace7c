package commands

import (
	"fmt"

	"github.com/dreadnode/tensor-man/internal/handler"
)

// parseFormatOverride maps the --format flag's string value to a
// handler.FileType, accepting the empty string as "no override".
func parseFormatOverride(format string) (handler.FileType, error) {
	switch format {
	case "":
		return handler.FileTypeUnknown, nil
	case string(handler.FileTypeSafeTensors), string(handler.FileTypeONNX),
		string(handler.FileTypeGGUF), string(handler.FileTypePyTorch):
		return handler.FileType(format), nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", format)
	}
}

// parseDetail maps the --detail flag's string value to a handler.DetailLevel.
func parseDetail(detail string) (handler.DetailLevel, error) {
	switch detail {
	case "", "brief":
		return handler.DetailBrief, nil
	case "full":
		return handler.DetailFull, nil
	default:
		return 0, fmt.Errorf("invalid --detail value %q: must be brief or full", detail)
	}
}
