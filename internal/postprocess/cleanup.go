package postprocess

import (
	"os"
	"path/filepath"
	"strings"
)

// CleanupOptions controls which files/directories Cleanup removes after a
// successful Move, grounded on spec.md's Cleanup stage and the Rust
// original's post_processing/cleanup.rs behavior (not present in the
// teacher at all).
type CleanupOptions struct {
	TargetExtensions  []string // e.g. .par2, .nzb, .sfv
	ArchiveExtensions []string // e.g. .rar, .zip, .7z — removed once extracted
	SampleFolderNames []string // e.g. "sample", "proof"
	DeleteSamples     bool
}

// Cleanup walks dir removing files whose extension matches
// TargetExtensions or ArchiveExtensions, and (if DeleteSamples) any
// directory whose name matches SampleFolderNames. Returns the count of
// files removed plus one per sample directory removed.
func Cleanup(dir string, opts CleanupOptions) (int, error) {
	targets := extSet(opts.TargetExtensions, opts.ArchiveExtensions)
	sampleDirs := nameSet(opts.SampleFolderNames)

	removed := 0

	var walk func(path string) error
	walk = func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			full := filepath.Join(path, entry.Name())

			if entry.IsDir() {
				if opts.DeleteSamples && sampleDirs[strings.ToLower(entry.Name())] {
					if err := os.RemoveAll(full); err == nil {
						removed++
					}
					continue
				}
				if err := walk(full); err != nil {
					return err
				}
				continue
			}

			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if targets[ext] {
				if err := os.Remove(full); err == nil {
					removed++
				}
			}
		}
		return nil
	}

	if err := walk(dir); err != nil {
		return removed, err
	}
	return removed, nil
}

func extSet(lists ...[]string) map[string]bool {
	out := make(map[string]bool)
	for _, list := range lists {
		for _, ext := range list {
			out[strings.ToLower(ext)] = true
		}
	}
	return out
}

func nameSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, n := range list {
		out[strings.ToLower(n)] = true
	}
	return out
}
