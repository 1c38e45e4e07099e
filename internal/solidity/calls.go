package solidity

import (
	"regexp"
	"sort"
	"strings"
)

// Call is a call-like expression found in a unit. Start..End spans the whole
// expression up to and including the closing parenthesis.
type Call struct {
	Start  int
	End    int
	Groups []string // submatches of the head pattern, original text
	Args   string   // verbatim argument text
	Line   int
}

// FindCalls matches head against the masked text. head must end with `\(`; the
// argument list is closed by balanced parenthesis matching so nested calls and
// parenthesised string contents do not truncate it. Unbalanced heads are dropped.
func (s *Source) FindCalls(head *regexp.Regexp) []Call {
	var out []Call
	for _, loc := range head.FindAllStringSubmatchIndex(s.Masked, -1) {
		open := loc[1] - 1
		if open < 0 || s.Masked[open] != '(' {
			continue
		}
		closeAt := matchParen(s.Masked, open)
		if closeAt < 0 {
			continue
		}
		c := Call{Start: loc[0], End: closeAt + 1, Args: s.Text[open+1 : closeAt], Line: s.Line(loc[0])}
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] < 0 {
				c.Groups = append(c.Groups, "")
				continue
			}
			c.Groups = append(c.Groups, s.Text[loc[g]:loc[g+1]])
		}
		out = append(out, c)
	}
	return out
}

func matchParen(m string, open int) int {
	depth := 0
	for i := open; i < len(m); i++ {
		switch m[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Edit replaces Text[Start:End] with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// ApplyEdits applies non-overlapping edits. When two edits overlap the one that
// starts first wins; later overlapping edits are dropped and returned.
func ApplyEdits(src string, edits []Edit) (string, []Edit) {
	if len(edits) == 0 {
		return src, nil
	}
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	var (
		b       strings.Builder
		dropped []Edit
		pos     int
	)
	for _, e := range sorted {
		if e.Start < pos {
			dropped = append(dropped, e)
			continue
		}
		b.WriteString(src[pos:e.Start])
		b.WriteString(e.Text)
		pos = e.End
	}
	b.WriteString(src[pos:])
	return b.String(), dropped
}
