package utils

import "os"

// FileExists reports whether path names an existing regular file.
// Directories and unreadable stat results count as missing.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
