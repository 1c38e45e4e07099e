package engine

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/config"
)

// ignoreMarker excludes a unit from analysis and obfuscation when it appears
// in a comment near the top of the file.
const ignoreMarker = "ccobf:ignore"

// markerWindow is how many leading lines are searched for the marker.
const markerWindow = 10

// isIgnored reports whether a unit at rel (slash separated, relative to the
// input root) is excluded by config rules or an inline marker, and why.
func isIgnored(rel, content string, cfg config.Config) (bool, string) {
	for _, ig := range cfg.Ignore {
		if ig.Path == "" {
			continue
		}
		if strings.HasPrefix(filepath.ToSlash(rel), filepath.ToSlash(ig.Path)) {
			reason := ig.Reason
			if reason == "" {
				reason = "ignored by config rule " + ig.Path
			}
			return true, reason
		}
	}
	if reason, ok := inlineSuppression(content); ok {
		return true, reason
	}
	return false, ""
}

// inlineSuppression looks for `// ccobf:ignore reason` in the first lines of content.
func inlineSuppression(content string) (string, bool) {
	s := bufio.NewScanner(strings.NewReader(content))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 0; n < markerWindow && s.Scan(); n++ {
		line := s.Text()
		i := strings.Index(line, ignoreMarker)
		if i < 0 || !strings.Contains(line[:i], "//") {
			continue
		}
		reason := strings.TrimSpace(line[i+len(ignoreMarker):])
		if reason == "" {
			reason = "inline " + ignoreMarker
		}
		return reason, true
	}
	return "", false
}
