// Package extraction consolidates the teacher's archive extractors
// (RAR/7z/ZIP, previously split across internal/processor's unrar.go,
// detector.go, 7z.go, unzip.go) into one package with a properly defined
// Extractor interface that every concrete extractor satisfies, password
// support, and nested-archive recursion.
package extraction

import (
	"context"
	"strings"
)

// Extractor handles one archive family.
type Extractor interface {
	// Extract extracts archivePath into destDir, trying password (empty
	// string for none). Returns the list of extracted file paths; the
	// CLI-backed CLIUnrar, CLI7z and CLIUnzip return an empty list, since
	// they do not report what the tool wrote.
	Extract(ctx context.Context, archivePath, destDir, password string) ([]string, error)

	// CanExtract reports whether this extractor recognizes archivePath,
	// verified by magic bytes rather than extension alone.
	CanExtract(archivePath string) (bool, error)

	// Name is the human-readable extractor name (e.g. "RAR", "7-Zip").
	Name() string
}

// isWrongPasswordErr is a best-effort classifier used by the password-list
// retry loop: archive tools vary in wording, so this only needs to avoid
// false negatives on the common phrasings.
func isWrongPasswordErr(output string) bool {
	lower := strings.ToLower(output)
	for _, needle := range []string{
		"wrong password",
		"incorrect password",
		"password incorrect",
		"cannot open encrypted",
		"enter password",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
