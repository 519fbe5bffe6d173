package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var rarSignatures = [][]byte{
	{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00},
	{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00},
}

type CLIUnrar struct {
	BinaryPath string
}

func NewCLIUnrar(binaryPath string) (*CLIUnrar, error) {
	if binaryPath != "" {
		return &CLIUnrar{BinaryPath: binaryPath}, nil
	}
	path, err := exec.LookPath("unrar")
	if err != nil {
		return nil, fmt.Errorf("unrar binary not found in PATH: %w", err)
	}
	return &CLIUnrar{BinaryPath: path}, nil
}

func (u *CLIUnrar) Name() string { return "RAR" }

// CanExtract checks extension, multi-part first-volume naming, and magic
// bytes, exactly as the teacher's processor.CLIUnrar.CanExtract did.
func (u *CLIUnrar) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))

	if !strings.HasSuffix(lower, ".rar") {
		return false, nil
	}

	if strings.Contains(lower, ".part") {
		if !(strings.Contains(lower, ".part01.rar") ||
			strings.Contains(lower, ".part001.rar") ||
			strings.Contains(lower, ".part1.rar")) {
			return false, nil
		}
	}

	return hasRarSignature(filePath)
}

func (u *CLIUnrar) Extract(ctx context.Context, archivePath, destDir, password string) ([]string, error) {
	args := []string{"x", "-o+", "-y", "-kb"}
	if password != "" {
		args = append(args, "-p"+password)
	} else {
		args = append(args, "-p-")
	}
	args = append(args, archivePath, destDir+string(filepath.Separator))

	cmd := exec.CommandContext(ctx, u.BinaryPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isWrongPasswordErr(string(output)) {
			return nil, errWrongPassword
		}
		return nil, fmt.Errorf("unrar extraction failed: %w\nOutput: %s", err, string(output))
	}

	return []string{}, nil
}

func hasRarSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 8)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}
	if n < 7 {
		return false, nil
	}

	for _, sig := range rarSignatures {
		if bytes.Equal(header[:len(sig)], sig) {
			return true, nil
		}
	}
	return false, nil
}
