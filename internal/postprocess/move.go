// Package postprocess runs the Verify/Repair/Extract/Move/Cleanup pipeline
// a download's PostProcessMode selects, grounded on the teacher's
// processor.fs.go (moveFile/moveCrossDevice) and processor/detector.go's
// extraction orchestration, generalized with a collision-policy table and
// a cleanup stage the teacher never had.
package postprocess

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// moveCrossDevice copies source to a temp file next to dest, fsyncs, then
// renames into place. moveFile falls back to it whenever os.Rename fails
// (a cross-device EXDEV being the usual cause), whatever the error.
func moveCrossDevice(source, dest string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	tempDest := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp")

	dst, err := os.Create(tempDest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tempDest)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tempDest)
		return err
	}
	dst.Close()
	src.Close()

	if err := os.Rename(tempDest, dest); err != nil {
		os.Remove(tempDest)
		return err
	}

	return os.Remove(source)
}

func moveFile(source, dest string) error {
	if err := os.Rename(source, dest); err == nil {
		return nil
	}
	return moveCrossDevice(source, dest)
}

// resolveDestination applies the collision policy when dest already
// exists: Overwrite moves in place, Skip aborts the move with a
// FileCollision error, Rename tries "name (1).ext" through
// "name (9999).ext".
func resolveDestination(dest string, policy domain.FileCollisionPolicy) (string, error) {
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest, nil
	}

	switch policy {
	case domain.CollisionOverwrite:
		return dest, nil
	case domain.CollisionSkip:
		return "", domain.NewError(domain.ErrKindFileCollision, "destination exists: %s", dest)
	case domain.CollisionRename:
		ext := filepath.Ext(dest)
		base := dest[:len(dest)-len(ext)]
		for i := 1; i <= 9999; i++ {
			candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, nil
			}
		}
		return "", domain.NewError(domain.ErrKindFileCollision, "exhausted rename attempts for %s", dest)
	default:
		return dest, nil
	}
}

// Move relocates every regular file directly inside srcDir into destDir,
// applying the collision policy per file. Subdirectories and their
// contents are not moved. Returns the count actually moved.
func Move(srcDir, destDir string, policy domain.FileCollisionPolicy) (int, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("mkdir destination: %w", err)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, fmt.Errorf("read source dir: %w", err)
	}

	moved := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, entry.Name())
		dest := filepath.Join(destDir, entry.Name())

		resolved, err := resolveDestination(dest, policy)
		if err != nil {
			return moved, err
		}

		if err := moveFile(src, resolved); err != nil {
			return moved, domain.NewError(domain.ErrKindFileCollision, "move %s: %v", entry.Name(), err)
		}
		moved++
	}

	return moved, nil
}
