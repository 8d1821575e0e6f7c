package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// DefaultDotEnvFileName is the credentials file read from the working directory.
	DefaultDotEnvFileName = ".env"

	dotEnvLoadFailureTemplateConstant = "load %s: %w"
)

// LoadDotEnv populates the process environment from the given files. Missing files
// are ignored and variables already present in the environment win.
func LoadDotEnv(filePaths ...string) error {
	for _, filePath := range filePaths {
		trimmedPath := strings.TrimSpace(filePath)
		if len(trimmedPath) == 0 {
			continue
		}
		loadError := godotenv.Load(trimmedPath)
		if loadError == nil || errors.Is(loadError, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf(dotEnvLoadFailureTemplateConstant, trimmedPath, loadError)
	}
	return nil
}
