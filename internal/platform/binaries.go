package platform

import (
	"fmt"
	"os/exec"
)

// RequiredBinaries lists, by the config key that can override them, the
// external CLI tools the post-processing pipeline shells out to. The
// zero-value default (PATH lookup by name) is used whenever config leaves
// the override empty.
var RequiredBinaries = map[string]string{
	"par2":  "par2",
	"unrar": "unrar",
	"unzip": "unzip",
	"7z":    "7z",
}

// ValidateDependencies resolves each tool in RequiredBinaries against an
// explicit config override (overridePaths, keyed the same as
// RequiredBinaries) or its default PATH name, returning every binary that
// can't be found in one error instead of failing on the first.
func ValidateDependencies(overridePaths map[string]string) error {
	var missing []string

	for key, defaultName := range RequiredBinaries {
		path := overridePaths[key]
		if path == "" {
			path = defaultName
		}
		if _, err := exec.LookPath(path); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", key, path))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("required dependencies not found in PATH: %v", missing)
	}
	return nil
}
