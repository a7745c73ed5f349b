package settings

import (
	"os"
	"path/filepath"
	"strings"
)

// GetWorkingFolder returns the folder holding the executable. Binaries
// started from the temp dir (go run) use the current directory instead.
func GetWorkingFolder() (string, error) {
	exePath, exeErr := os.Executable()
	if exeErr != nil {
		return "", exeErr
	}

	workingFolder := filepath.Dir(exePath)
	if strings.HasPrefix(workingFolder, os.TempDir()) {
		return os.Getwd()
	}
	return workingFolder, nil
}
