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

var zipSignatures = [][]byte{
	{0x50, 0x4B, 0x03, 0x04},
	{0x50, 0x4B, 0x05, 0x06},
	{0x50, 0x4B, 0x07, 0x08},
}

type CLIUnzip struct {
	BinaryPath string
}

func NewCLIUnzip(binaryPath string) (*CLIUnzip, error) {
	if binaryPath != "" {
		return &CLIUnzip{BinaryPath: binaryPath}, nil
	}
	path, err := exec.LookPath("unzip")
	if err != nil {
		return nil, fmt.Errorf("unzip binary not found in PATH: %w", err)
	}
	return &CLIUnzip{BinaryPath: path}, nil
}

func (u *CLIUnzip) Name() string { return "ZIP" }

func (u *CLIUnzip) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))
	if !strings.HasSuffix(lower, ".zip") {
		return false, nil
	}
	return hasZipSignature(filePath)
}

func (u *CLIUnzip) Extract(ctx context.Context, archivePath, destDir, password string) ([]string, error) {
	args := []string{"-o", "-q"}
	if password != "" {
		args = append(args, "-P", password)
	}
	args = append(args, archivePath, "-d", destDir)

	cmd := exec.CommandContext(ctx, u.BinaryPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isWrongPasswordErr(string(output)) {
			return nil, errWrongPassword
		}
		return nil, fmt.Errorf("unzip extraction failed: %w\nOutput: %s", err, string(output))
	}

	return []string{}, nil
}

func hasZipSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 4)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}
	if n < 4 {
		return false, nil
	}

	for _, sig := range zipSignatures {
		if bytes.Equal(header, sig) {
			return true, nil
		}
	}
	return false, nil
}
