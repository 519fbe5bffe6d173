package extraction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeExtractor is a test double so password-retry and detection logic can
// be exercised without a real unrar/unzip/7z binary on PATH.
type fakeExtractor struct {
	name       string
	extractOK  map[string]bool // password -> succeeds
	calls      []string
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) CanExtract(filePath string) (bool, error) {
	return filepath.Ext(filePath) == ".fake", nil
}

func (f *fakeExtractor) Extract(ctx context.Context, archivePath, destDir, password string) ([]string, error) {
	f.calls = append(f.calls, password)
	if f.extractOK[password] {
		return []string{filepath.Join(destDir, "extracted.txt")}, nil
	}
	return nil, errWrongPassword
}

func TestDetectFindsRegisteredExtractor(t *testing.T) {
	fe := &fakeExtractor{name: "fake"}
	m := &Manager{extractors: []Extractor{fe}}

	ok, err := m.DetectArchive("movie.fake")
	if err != nil {
		t.Fatalf("DetectArchive: %v", err)
	}
	if !ok {
		t.Fatal("expected the fake extractor to recognize a .fake file")
	}
}

func TestDetectArchiveNoMatch(t *testing.T) {
	fe := &fakeExtractor{name: "fake"}
	m := &Manager{extractors: []Extractor{fe}}

	ok, err := m.DetectArchive("movie.mkv")
	if err != nil {
		t.Fatalf("DetectArchive: %v", err)
	}
	if ok {
		t.Fatal("expected no extractor to recognize a .mkv file")
	}
}

func TestExtractWithPasswordListTriesCachedPasswordFirst(t *testing.T) {
	fe := &fakeExtractor{name: "fake", extractOK: map[string]bool{"cached": true}}
	m := &Manager{extractors: []Extractor{fe}, passwords: []string{"other"}}

	_, used, err := m.ExtractWithPasswordList(context.Background(), "a.fake", "/tmp/out", "cached")
	if err != nil {
		t.Fatalf("ExtractWithPasswordList: %v", err)
	}
	if used != "cached" {
		t.Fatalf("expected cached password to win, got %q", used)
	}
	if len(fe.calls) != 1 || fe.calls[0] != "cached" {
		t.Fatalf("expected a single call with the cached password, got %v", fe.calls)
	}
}

func TestExtractWithPasswordListFallsBackThroughList(t *testing.T) {
	fe := &fakeExtractor{name: "fake", extractOK: map[string]bool{"correct": true}}
	m := &Manager{extractors: []Extractor{fe}, passwords: []string{"wrong1", "correct", "wrong2"}}

	_, used, err := m.ExtractWithPasswordList(context.Background(), "a.fake", "/tmp/out", "")
	if err != nil {
		t.Fatalf("ExtractWithPasswordList: %v", err)
	}
	if used != "correct" {
		t.Fatalf("expected the correct password from the list to win, got %q", used)
	}
}

func TestExtractWithPasswordListTriesEmptyFirstWhenConfigured(t *testing.T) {
	fe := &fakeExtractor{name: "fake", extractOK: map[string]bool{"": true}}
	m := &Manager{extractors: []Extractor{fe}, passwords: []string{"never-used"}, tryEmptyFirst: true}

	_, used, err := m.ExtractWithPasswordList(context.Background(), "a.fake", "/tmp/out", "")
	if err != nil {
		t.Fatalf("ExtractWithPasswordList: %v", err)
	}
	if used != "" {
		t.Fatalf("expected the empty password to win when tried first, got %q", used)
	}
	if len(fe.calls) != 1 {
		t.Fatalf("expected the empty password to be tried before the configured list, got %v", fe.calls)
	}
}

func TestExtractWithPasswordListExhaustsCandidates(t *testing.T) {
	fe := &fakeExtractor{name: "fake"}
	m := &Manager{extractors: []Extractor{fe}, passwords: []string{"a", "b"}}

	if _, _, err := m.ExtractWithPasswordList(context.Background(), "a.fake", "/tmp/out", ""); err == nil {
		t.Fatal("expected an error once every candidate password fails")
	}
}

func TestExtractWithPasswordListNoExtractorRecognizesFile(t *testing.T) {
	m := &Manager{extractors: []Extractor{&fakeExtractor{name: "fake"}}}

	if _, _, err := m.ExtractWithPasswordList(context.Background(), "a.mkv", "/tmp/out", ""); err == nil {
		t.Fatal("expected an error when no extractor recognizes the file")
	}
}

func TestLoadPasswordFileSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "passwords.txt")
	content := "hunter2\n\n# a comment\nsecondpass\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := &Manager{}
	if err := m.LoadPasswordFile(path); err != nil {
		t.Fatalf("LoadPasswordFile: %v", err)
	}
	if len(m.passwords) != 2 || m.passwords[0] != "hunter2" || m.passwords[1] != "secondpass" {
		t.Fatalf("got passwords %v", m.passwords)
	}
}

func TestLoadPasswordFileEmptyPathIsNoop(t *testing.T) {
	m := &Manager{}
	if err := m.LoadPasswordFile(""); err != nil {
		t.Fatalf("expected no error for an empty path, got %v", err)
	}
	if len(m.passwords) != 0 {
		t.Fatal("expected no passwords to be loaded")
	}
}

func TestCLIUnrarCanExtractChecksMagicBytes(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "archive.rar")
	if err := os.WriteFile(good, append([]byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}, []byte("padding")...), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	u := &CLIUnrar{BinaryPath: "unrar"}
	ok, err := u.CanExtract(good)
	if err != nil {
		t.Fatalf("CanExtract: %v", err)
	}
	if !ok {
		t.Fatal("expected a file with valid RAR magic bytes to be recognized")
	}

	bad := filepath.Join(dir, "notreally.rar")
	if err := os.WriteFile(bad, []byte("not a rar file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ok, err = u.CanExtract(bad)
	if err != nil {
		t.Fatalf("CanExtract: %v", err)
	}
	if ok {
		t.Fatal("expected a file without RAR magic bytes to be rejected")
	}
}

func TestCLIUnrarCanExtractRejectsNonFirstVolume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.part02.rar")
	if err := os.WriteFile(path, []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	u := &CLIUnrar{BinaryPath: "unrar"}
	ok, err := u.CanExtract(path)
	if err != nil {
		t.Fatalf("CanExtract: %v", err)
	}
	if ok {
		t.Fatal("expected a non-first multi-part volume to be rejected")
	}
}
