package nzbparse

import "testing"

func TestFileNamePrefersQuotedSegment(t *testing.T) {
	got := FileName(`[001/120] - "Some.Movie.2024.1080p.mkv" yEnc (1/500)`)
	if got != "Some.Movie.2024.1080p.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestFileNameFallsBackWithoutQuotes(t *testing.T) {
	got := FileName(`(1/20) Some.Movie.2024.1080p.mkv yEnc`)
	if got != "Some.Movie.2024.1080p.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestFileNameSanitizesBadPathChars(t *testing.T) {
	got := FileName(`"weird<name>:file?.mkv"`)
	if got != "weird_name__file_.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestFileNameEmptyFallsBackToUnnamed(t *testing.T) {
	if got := FileName(""); got != "unnamed" {
		t.Fatalf("got %q", got)
	}
}
