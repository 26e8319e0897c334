package database

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeyFileName is the extended key dictionary looked up by ProbeForKeyFile
const KeyFileName = "mfkeys.dic"

// GetDefaultSearchPaths returns common locations for the extended key dictionary
func GetDefaultSearchPaths() []string {
	paths := []string{
		"./" + KeyFileName,
		"../" + KeyFileName,
		"/etc/mfclone/" + KeyFileName,
		"/usr/local/share/mfclone/" + KeyFileName,
		"/usr/share/mfclone/" + KeyFileName,
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".mfclone", KeyFileName),
			filepath.Join(home, ".local", "share", "mfclone", KeyFileName),
		)
	}
	return paths
}

// ProbeForKeyFile returns the first existing path of candidates
func ProbeForKeyFile(candidates []string) (string, error) {
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in any standard location", KeyFileName)
}
