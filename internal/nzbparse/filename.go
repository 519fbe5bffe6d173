package nzbparse

import (
	"html"
	"regexp"
	"strings"
)

var (
	yencSuffixRe = regexp.MustCompile(`(?i)\s+yenc.*$`)
	leadCounterRe = regexp.MustCompile(`^\[?\(?\d+/\d+\)?\]?\s*`)
	badPathCharsRe = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// FileName derives the on-disk file name for one NZB <file> from its
// subject line, the same two-pattern heuristic as the teacher's
// FileProcessor.sanitizeFileName: prefer the quoted segment ("name.rar"),
// falling back to stripping the yEnc/counter noise when the subject isn't
// quoted.
func FileName(subject string) string {
	res := html.UnescapeString(subject)

	if first, last := strings.Index(res, `"`), strings.LastIndex(res, `"`); first != -1 && last != -1 && first < last {
		res = res[first+1 : last]
	} else {
		res = yencSuffixRe.ReplaceAllString(res, "")
		res = leadCounterRe.ReplaceAllString(res, "")
	}

	res = badPathCharsRe.ReplaceAllString(res, "_")
	res = strings.TrimSpace(res)
	if res == "" {
		return "unnamed"
	}
	return res
}
