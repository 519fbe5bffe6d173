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

var sevenZipSignature = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}

type CLI7z struct {
	BinaryPath string
}

func NewCLI7z(binaryPath string) (*CLI7z, error) {
	if binaryPath != "" {
		return &CLI7z{BinaryPath: binaryPath}, nil
	}
	path, err := exec.LookPath("7z")
	if err != nil {
		path, err = exec.LookPath("7za")
		if err != nil {
			return nil, fmt.Errorf("7z/7za binary not found in PATH: %w", err)
		}
	}
	return &CLI7z{BinaryPath: path}, nil
}

func (z *CLI7z) Name() string { return "7-Zip" }

func (z *CLI7z) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))
	if !strings.HasSuffix(lower, ".7z") {
		return false, nil
	}
	return has7zSignature(filePath)
}

func (z *CLI7z) Extract(ctx context.Context, archivePath, destDir, password string) ([]string, error) {
	args := []string{"x", fmt.Sprintf("-o%s", destDir), "-y"}
	if password != "" {
		args = append(args, "-p"+password)
	} else {
		args = append(args, "-p-")
	}
	args = append(args, archivePath)

	cmd := exec.CommandContext(ctx, z.BinaryPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isWrongPasswordErr(string(output)) {
			return nil, errWrongPassword
		}
		return nil, fmt.Errorf("7z extraction failed: %w\nOutput: %s", err, string(output))
	}

	return []string{}, nil
}

func has7zSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 6)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}
	if n < 6 {
		return false, nil
	}
	return bytes.Equal(header, sevenZipSignature), nil
}
