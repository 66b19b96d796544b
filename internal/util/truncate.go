package util

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultLogMaxLen bounds request paths echoed into zap fields (1KB).
const DefaultLogMaxLen = 1024

// TruncateRunes cuts s to at most maxRunes characters and appends marker when
// anything was dropped. Counting is by rune so multi-byte text is never split.
func TruncateRunes(s string, maxRunes int, marker string) string {
	if maxRunes < 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == maxRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String() + marker
}

// TruncateLog shortens s for log output and notes the original byte length.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return TruncateRunes(s, maxLen, "") + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
