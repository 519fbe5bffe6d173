package nzbparse

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Entropy thresholds below which a name is judged structured rather than
// random — ported from the distilled implementation's balanced
// upper/lower/digit ratio heuristic.
const (
	minEntropyStringLength       = 24
	entropyRatioLowerBound       = 0.28
	entropyRatioUpperBoundLetter = 0.38
	entropyRatioLowerBoundLetter = 0.31
)

var hexStringRe = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// IsObfuscated reports whether name looks like a randomly generated
// filename (common in Usenet releases that hide their real content) rather
// than a meaningful release name, using the same set of heuristics as the
// distilled implementation: high-entropy alphanumeric, UUID shape, long
// pure-hex strings, and vowel-free strings.
func IsObfuscated(name string) bool {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if stem == "" {
		stem = name
	}

	return isHighEntropy(stem) ||
		looksLikeUUID(stem) ||
		(hexStringRe.MatchString(stem) && len(stem) > 16) ||
		(hasNoVowels(stem) && len(stem) > 8)
}

func isHighEntropy(s string) bool {
	if len(s) < minEntropyStringLength {
		return false
	}

	var upper, lower, digit int
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
			upper++
		case c >= 'a' && c <= 'z':
			lower++
		case c >= '0' && c <= '9':
			digit++
		}
	}

	total := upper + lower + digit
	if total < minEntropyStringLength || upper == 0 || lower == 0 || digit == 0 {
		return false
	}

	upperRatio := float64(upper) / float64(total)
	lowerRatio := float64(lower) / float64(total)
	digitRatio := float64(digit) / float64(total)

	inRange := func(r, lo, hi float64) bool { return r >= lo && r <= hi }
	return inRange(upperRatio, entropyRatioLowerBoundLetter, entropyRatioUpperBoundLetter) &&
		inRange(lowerRatio, entropyRatioLowerBoundLetter, entropyRatioUpperBoundLetter) &&
		inRange(digitRatio, entropyRatioLowerBound, entropyRatioUpperBoundLetter)
}

func looksLikeUUID(s string) bool {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		parts := strings.Split(s, "-")
		if len(parts) == 5 && len(parts[0]) == 8 && len(parts[1]) == 4 && len(parts[2]) == 4 &&
			len(parts[3]) == 4 && len(parts[4]) == 12 {
			for _, p := range parts {
				if !hexStringRe.MatchString(p) {
					return false
				}
			}
			return true
		}
	}
	return len(s) == 32 && hexStringRe.MatchString(s)
}

func hasNoVowels(s string) bool {
	return !strings.ContainsAny(s, "aeiouAEIOU")
}

// DetermineJobName resolves the deobfuscated release title for a download,
// preferring the job name (derived from the NZB's own file/subject name),
// then the NZB's <meta type="name"> title, then the largest extracted
// file's stem, falling back to the job name even if it's still obfuscated.
func DetermineJobName(jobName, nzbMetaName string, extractedFiles []string) string {
	if !IsObfuscated(jobName) {
		return jobName
	}
	if nzbMetaName != "" && !IsObfuscated(nzbMetaName) {
		return nzbMetaName
	}
	if largest := findLargestFile(extractedFiles); largest != "" {
		stem := strings.TrimSuffix(filepath.Base(largest), filepath.Ext(largest))
		if !IsObfuscated(stem) {
			return stem
		}
	}
	return jobName
}

func findLargestFile(files []string) string {
	var largest string
	var largestSize int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.IsDir() {
			continue
		}
		if largest == "" || info.Size() > largestSize {
			largest, largestSize = f, info.Size()
		}
	}
	return largest
}
