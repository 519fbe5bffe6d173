package parity

import "testing"

func TestDamagedBlocksRegexMatchesPar2Output(t *testing.T) {
	m := reDamagedBlocks.FindStringSubmatch("There are 3 block(s) missing or damaged.")
	if m == nil {
		t.Fatal("expected the damaged-blocks line to match")
	}
	if m[1] != "3" {
		t.Fatalf("got %q", m[1])
	}
}

func TestRecoveryAvailRegexMatchesPar2Output(t *testing.T) {
	m := reRecoveryAvail.FindStringSubmatch("You have 12 available recovery blocks out of 20.")
	if m == nil {
		t.Fatal("expected the recovery-available line to match")
	}
	if m[1] != "12" {
		t.Fatalf("got %q", m[1])
	}
}

func TestRepairPossibleRegex(t *testing.T) {
	if !reRepairPossible.MatchString("Repair is possible.") {
		t.Fatal("expected a positive match")
	}
	if reRepairPossible.MatchString("Repair is not possible.") {
		t.Fatal("expected reRepairPossible not to match the negative phrasing")
	}
}

func TestRepairNotPossibleRegex(t *testing.T) {
	if !reRepairNotPossible.MatchString("Repair is not possible.") {
		t.Fatal("expected the not-possible line to match")
	}
}

func TestNewCLIPar2DefaultsBinaryName(t *testing.T) {
	c := NewCLIPar2("")
	if c.BinaryPath != "par2" {
		t.Fatalf("expected default binary path %q, got %q", "par2", c.BinaryPath)
	}
}

func TestNewCLIPar2HonorsExplicitPath(t *testing.T) {
	c := NewCLIPar2("/usr/local/bin/par2")
	if c.BinaryPath != "/usr/local/bin/par2" {
		t.Fatalf("got %q", c.BinaryPath)
	}
}
