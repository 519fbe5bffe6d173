// Package parity wraps the par2 CLI tool for verify/repair, grounded on
// the teacher's repair.CLIPar2 exit-code semantics (0 = ok, 1 = damaged but
// repairable, 2+ = hard error), generalized into structured VerifyResult
// output and context-aware exec.
package parity

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// Handler is the par2 capability the post-processor's Verify/Repair stages
// depend on.
type Handler interface {
	Verify(ctx context.Context, par2File string) (*VerifyResult, error)
	Repair(ctx context.Context, par2File string) error
}

// VerifyResult is what spec.md's Verify stage reports: whether the set is
// already complete, how many blocks are damaged, how many recovery blocks
// are available, and whether a Repair is expected to succeed.
type VerifyResult struct {
	IsComplete               bool
	DamagedBlocks             int
	RecoveryBlocksAvailable   int
	Repairable                bool
}

type CLIPar2 struct {
	BinaryPath string
}

func NewCLIPar2(binaryPath string) *CLIPar2 {
	if binaryPath == "" {
		binaryPath = "par2"
	}
	return &CLIPar2{BinaryPath: binaryPath}
}

var (
	reDamagedBlocks = regexp.MustCompile(`(\d+)\s+block\(s\)\s+.*damaged`)
	reRecoveryAvail = regexp.MustCompile(`You have\s+(\d+)\s+available recovery block`)
	reRepairPossible = regexp.MustCompile(`Repair is possible`)
	reRepairNotPossible = regexp.MustCompile(`Repair is not possible`)
)

// Verify runs `par2 v <path>` and parses its stdout for block counts,
// falling back to the exit-code-only result the teacher used when the
// output doesn't match the expected format.
func (c *CLIPar2) Verify(ctx context.Context, par2File string) (*VerifyResult, error) {
	cmd := exec.CommandContext(ctx, c.BinaryPath, "v", par2File)
	out, err := cmd.Output()

	result := &VerifyResult{}

	if err == nil {
		result.IsComplete = true
		return result, nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return nil, domain.NewError(domain.ErrKindVerificationFailed, "par2 verify: %v", err)
	}

	if exitErr.ExitCode() != 1 {
		return nil, domain.NewError(domain.ErrKindVerificationFailed, "par2 exited %d", exitErr.ExitCode())
	}

	result.IsComplete = false
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if m := reDamagedBlocks.FindStringSubmatch(line); m != nil {
			result.DamagedBlocks, _ = strconv.Atoi(m[1])
		}
		if m := reRecoveryAvail.FindStringSubmatch(line); m != nil {
			result.RecoveryBlocksAvailable, _ = strconv.Atoi(m[1])
		}
		if reRepairPossible.MatchString(line) {
			result.Repairable = true
		}
		if reRepairNotPossible.MatchString(line) {
			result.Repairable = false
		}
	}

	return result, nil
}

// Repair runs `par2 r <path>`. A non-zero exit means repair failed (not
// enough recovery blocks, or a hard I/O error).
func (c *CLIPar2) Repair(ctx context.Context, par2File string) error {
	cmd := exec.CommandContext(ctx, c.BinaryPath, "r", par2File)
	if err := cmd.Run(); err != nil {
		return domain.NewError(domain.ErrKindRepairFailed, "par2 repair: %v", err)
	}
	return nil
}
