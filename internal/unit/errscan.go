package unit

import (
	"regexp"
	"strings"
)

// Scan limits keep error detection bounded on unbounded input.
const (
	maxScanBytes = 64 << 10
	maxScanLines = 400
)

var errorLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)traceback \(most recent call last\)`),
	regexp.MustCompile(`^panic: `),
	regexp.MustCompile(`^goroutine \d+ \[`),
	regexp.MustCompile(`^\s+at [\w$.<>]+\(.*\)`),
	regexp.MustCompile(`(?i)^\s*(\w+\.)*\w*(error|exception)\b\s*:`),
	regexp.MustCompile(`(?i)\bstack ?trace\b`),
	regexp.MustCompile(`(?i)\bsegmentation fault\b`),
	regexp.MustCompile(`^FAIL\s`),
}

// LooksLikeError reports whether content contains error or stack-trace
// output. Only the first 64KiB and 400 lines are scanned.
func LooksLikeError(content string) bool {
	if len(content) > maxScanBytes {
		content = content[:maxScanBytes]
	}
	lines := 0
	for len(content) > 0 && lines < maxScanLines {
		line := content
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			content = ""
		}
		lines++
		for _, re := range errorLinePatterns {
			if re.MatchString(line) {
				return true
			}
		}
	}
	return false
}
