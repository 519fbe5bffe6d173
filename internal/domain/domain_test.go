package domain

import (
	"reflect"
	"testing"
)

func TestJobStatusIncomplete(t *testing.T) {
	cases := map[JobStatus]bool{
		StatusQueued:      true,
		StatusDownloading: true,
		StatusProcessing:  true,
		StatusPaused:      false,
		StatusComplete:    false,
		StatusFailed:      false,
	}
	for status, want := range cases {
		if got := status.Incomplete(); got != want {
			t.Errorf("%s.Incomplete() = %v, want %v", status, got, want)
		}
	}
}

func TestPostProcessModeStages(t *testing.T) {
	cases := []struct {
		mode PostProcessMode
		want []string
	}{
		{PostProcessNone, nil},
		{PostProcessVerify, []string{"verify"}},
		{PostProcessRepair, []string{"verify", "repair"}},
		{PostProcessUnpack, []string{"verify", "repair", "extract"}},
		{PostProcessUnpackAndCleanup, []string{"verify", "repair", "extract", "move", "cleanup"}},
	}
	for _, c := range cases {
		if got := c.mode.Stages(); !reflect.DeepEqual(got, c.want) {
			t.Errorf("%s.Stages() = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestErrorFormatsWithAndWithoutMessage(t *testing.T) {
	withMsg := &Error{Kind: ErrKindNotFound, Message: "download 5"}
	if got, want := withMsg.Error(), "NotFound: download 5"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	bare := &Error{Kind: ErrKindShuttingDown}
	if got, want := bare.Error(), "ShuttingDown"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWithFieldChainsAndAccumulates(t *testing.T) {
	err := NewError(ErrKindInsufficientSpace, "need more room").
		WithField("required_bytes", int64(100)).
		WithField("available_bytes", int64(50))

	if err.Fields["required_bytes"] != int64(100) {
		t.Fatalf("got %v", err.Fields["required_bytes"])
	}
	if err.Fields["available_bytes"] != int64(50) {
		t.Fatalf("got %v", err.Fields["available_bytes"])
	}
}

func TestIsKindMatchesDomainErrorKind(t *testing.T) {
	err := NewError(ErrKindDuplicate, "already queued")
	if !IsKind(err, ErrKindDuplicate) {
		t.Fatal("expected IsKind to match the error's own kind")
	}
	if IsKind(err, ErrKindNotFound) {
		t.Fatal("expected IsKind to reject a different kind")
	}
}

func TestIsKindRejectsNonDomainError(t *testing.T) {
	if IsKind(errPlain("boom"), ErrKindNotFound) {
		t.Fatal("expected a non-domain error never to match")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
