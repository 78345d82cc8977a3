package pixbuf

import (
	"fmt"
	"path/filepath"
)

// ConvertToAbsolute returns path unchanged if it is absolute, otherwise the path
// joined onto baseDir and made absolute.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	abs, err := filepath.Abs(filepath.Join(baseDir, path))
	if err != nil {
		return "", fmt.Errorf("can't make %q absolute relative to %q: %v", path, baseDir, err)
	}
	return abs, nil
}
