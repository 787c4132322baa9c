package util

import "os"

// FileExists checks if a regular file exists at path
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
