package extraction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jvz-devx/usenetd/internal/domain"
)

var errWrongPassword = errors.New("extraction: wrong password")

// Manager holds every available extractor (binaries that weren't found on
// PATH are simply skipped) and drives password-list retry plus nested
// archive recursion, generalized from the teacher's processor.Manager.
type Manager struct {
	extractors   []Extractor
	passwords    []string
	tryEmptyFirst bool
	nestedDepth  int
}

func NewManager(rarPath, zipPath, sevenZPath string, passwords []string, tryEmptyFirst bool, nestedDepth int) *Manager {
	m := &Manager{passwords: passwords, tryEmptyFirst: tryEmptyFirst, nestedDepth: nestedDepth}

	if unrar, err := NewCLIUnrar(rarPath); err == nil {
		m.extractors = append(m.extractors, unrar)
	}
	if unzip, err := NewCLIUnzip(zipPath); err == nil {
		m.extractors = append(m.extractors, unzip)
	}
	if sevenZ, err := NewCLI7z(sevenZPath); err == nil {
		m.extractors = append(m.extractors, sevenZ)
	}

	return m
}

func (m *Manager) HasExtractors() bool { return len(m.extractors) > 0 }

func (m *Manager) AvailableExtractors() []string {
	names := make([]string, len(m.extractors))
	for i, e := range m.extractors {
		names[i] = e.Name()
	}
	return names
}

// LoadPasswordFile reads one password per line (blank lines and lines
// starting with # are skipped) and appends them to the manager's
// password list, used to seed from config.ToolsConfig.PasswordFile.
func (m *Manager) LoadPasswordFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open password file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.passwords = append(m.passwords, line)
	}
	return scanner.Err()
}

// DetectArchive reports whether any configured extractor recognizes
// archivePath as an openable archive (first-volume detection for
// multi-part sets), used by the DirectUnpack coordinator to classify
// download files without attempting an extraction.
func (m *Manager) DetectArchive(archivePath string) (bool, error) {
	ext, err := m.detect(archivePath)
	return ext != nil, err
}

// detect returns the extractor that recognizes archivePath, or nil.
func (m *Manager) detect(archivePath string) (Extractor, error) {
	for _, e := range m.extractors {
		ok, err := e.CanExtract(archivePath)
		if err != nil {
			return nil, fmt.Errorf("detect %s on %s: %w", e.Name(), archivePath, err)
		}
		if ok {
			return e, nil
		}
	}
	return nil, nil
}

// ExtractWithPasswordList tries the cached password first (if any), then
// every configured password, then an empty password last (or first, if
// tryEmptyFirst), stopping at the first one that doesn't fail with a
// wrong-password error.
func (m *Manager) ExtractWithPasswordList(ctx context.Context, archivePath, destDir, cachedPassword string) (extracted []string, usedPassword string, err error) {
	ext, err := m.detect(archivePath)
	if err != nil {
		return nil, "", err
	}
	if ext == nil {
		return nil, "", domain.NewError(domain.ErrKindToolUnsupported, "no extractor recognizes %s", archivePath)
	}

	candidates := make([]string, 0, len(m.passwords)+2)
	if cachedPassword != "" {
		candidates = append(candidates, cachedPassword)
	}
	if m.tryEmptyFirst {
		candidates = append(candidates, "")
	}
	candidates = append(candidates, m.passwords...)
	if !m.tryEmptyFirst {
		candidates = append(candidates, "")
	}

	var lastErr error
	tried := make(map[string]bool, len(candidates))
	for _, pw := range candidates {
		if tried[pw] {
			continue
		}
		tried[pw] = true

		files, err := ext.Extract(ctx, archivePath, destDir, pw)
		if err == nil {
			return files, pw, nil
		}
		if errors.Is(err, errWrongPassword) {
			lastErr = err
			continue
		}
		return nil, "", domain.NewError(domain.ErrKindExtractionFailed, "%v", err)
	}

	if lastErr != nil {
		return nil, "", domain.NewError(domain.ErrKindExtractionFailed, "no password in the list opened %s", archivePath)
	}
	return nil, "", domain.NewError(domain.ErrKindToolUnsupported, "no extractor recognizes %s", archivePath)
}

// ExtractRecursive extracts archivePath and then, up to nestedDepth times,
// extracts any archive found among the just-extracted files — the nested
// .rar-inside-.rar / .zip-inside-.rar case spec.md's Extract stage
// requires. Nested archives are found only through an Extractor that
// returns the paths it extracted; with the CLI-backed extractors the list
// is empty and no nested archive is extracted.
func (m *Manager) ExtractRecursive(ctx context.Context, archivePath, destDir, cachedPassword string) ([]string, error) {
	all, usedPassword, err := m.ExtractWithPasswordList(ctx, archivePath, destDir, cachedPassword)
	if err != nil {
		return nil, err
	}

	depth := m.nestedDepth
	frontier := all
	for depth > 0 && len(frontier) > 0 {
		var nextFrontier []string
		for _, f := range frontier {
			ext, err := m.detect(f)
			if err != nil || ext == nil {
				continue
			}
			nested, _, err := m.ExtractWithPasswordList(ctx, f, destDir, usedPassword)
			if err != nil {
				continue // best-effort: a nested archive that can't be opened doesn't fail the whole extract
			}
			all = append(all, nested...)
			nextFrontier = append(nextFrontier, nested...)
		}
		frontier = nextFrontier
		depth--
	}

	return all, nil
}
