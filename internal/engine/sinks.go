package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// sinkFile is one pre-allocated download-file output, generalized from the
// teacher's engine.fileHandle (internal/engine/file_writer.go) to also
// carry the one-shot pre-allocation guard Phase 5 needs: the first decoded
// segment for a file truncates it to the yEnc header's declared size, every
// later segment for the same file just writes.
type sinkFile struct {
	mu        sync.Mutex
	file      *os.File
	allocated atomic.Bool
	size      atomic.Int64
	path      string
}

// sinks owns every output file for one download task's temp directory,
// keyed by file_index instead of path (the teacher's FileWriter keyed by
// path directly, which this generalizes since a download can have files
// with the same on-disk name across categories).
type sinks struct {
	mu      sync.RWMutex
	dir     string
	byIndex map[int]*sinkFile
}

func newSinks(dir string) *sinks {
	return &sinks{dir: dir, byIndex: make(map[int]*sinkFile)}
}

// register creates an empty output file for fileIndex named from the NZB
// file name, ahead of any segment being downloaded — Phase 3's "create an
// empty output file inside the temp directory" step.
func (s *sinks) register(fileIndex int, fileName string) (string, error) {
	path := filepath.Join(s.dir, sanitizeFileName(fileName))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return "", fmt.Errorf("create output file %s: %w", path, err)
	}

	s.mu.Lock()
	s.byIndex[fileIndex] = &sinkFile{file: f, path: path}
	s.mu.Unlock()

	return path, nil
}

func (s *sinks) get(fileIndex int) (*sinkFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.byIndex[fileIndex]
	return sf, ok
}

// preAllocateOnce truncates the file to size the first time it's called
// for a given fileIndex; every later call just records the declared size
// (so finalSize can trim to it) without re-truncating. On Unix the initial
// truncate creates a sparse file rather than zero-filling it.
func (s *sinks) preAllocateOnce(fileIndex int, size int64) error {
	sf, ok := s.get(fileIndex)
	if !ok || size <= 0 {
		return nil
	}
	sf.size.Store(size)
	if !sf.allocated.CompareAndSwap(false, true) {
		return nil
	}
	return sf.file.Truncate(size)
}

// writeAt performs the lock-free-by-design positional write: concurrent
// writers for the same file address disjoint byte ranges (distinct article
// segments), so the per-handle mutex here only guards the *os.File value,
// not ordering — WriteAt itself is safe for concurrent use on the same fd.
func (s *sinks) writeAt(fileIndex int, data []byte, offset int64) error {
	sf, ok := s.get(fileIndex)
	if !ok {
		return fmt.Errorf("no sink registered for file_index %d", fileIndex)
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	_, err := sf.file.WriteAt(data, offset)
	return err
}

// finalSize truncates a now-complete file to the last declared =ybegin
// size seen for it, removing any sparse over-allocation left by a
// multi-part size= mismatch (a later segment reporting a different total
// than the one preAllocateOnce originally truncated to).
func (s *sinks) finalSize(fileIndex int) error {
	sf, ok := s.get(fileIndex)
	if !ok {
		return nil
	}
	size := sf.size.Load()
	if size <= 0 {
		return nil
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.file.Truncate(size)
}

func (s *sinks) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sf := range s.byIndex {
		sf.file.Sync()
		sf.file.Close()
	}
}

// writeLegacyArticle dumps one undecoded-or-failed segment to its own file
// when a download has no download-file metadata (pre-file-tracking records)
// per spec's legacy fallback.
func writeLegacyArticle(dir string, segment int, data []byte) error {
	path := filepath.Join(dir, fmt.Sprintf("article_%d.dat", segment))
	return os.WriteFile(path, data, 0644)
}

// sanitizeFileName strips path separators from an NZB subject-derived file
// name so it can't escape the temp directory.
func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}
