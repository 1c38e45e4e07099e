package transform

import (
	"regexp"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

var reElse = regexp.MustCompile(`^(else|do)\b`)

// statementStart returns the first byte of the statement holding offset. The
// body is scanned forward from its opening brace; delimiters inside
// parentheses (for headers, call arguments) or inside call-option braces do not
// end a statement, so the unbraced body of a for, while or if is anchored at
// its control keyword.
func statementStart(src *solidity.Source, offset int) int {
	from := 0
	if fn, ok := src.FunctionAt(offset); ok {
		from = fn.Open + 1
	}
	start, parens, opts := from, 0, 0
	for i := from; i < offset; i++ {
		switch src.Masked[i] {
		case '(':
			parens++
		case ')':
			if parens > 0 {
				parens--
			}
		case '{':
			switch {
			case parens > 0:
			case opts > 0 || callOptions(src.Masked, i):
				opts++
			default:
				start = i + 1
			}
		case '}':
			switch {
			case parens > 0:
			case opts > 0:
				opts--
			default:
				start = i + 1
			}
		case ';':
			if parens == 0 && opts == 0 {
				start = i + 1
			}
		}
	}
	for start < offset && strings.ContainsRune(" \t\r\n", rune(src.Masked[start])) {
		start++
	}
	return start
}

// callOptions reports whether the brace at open starts a `{value: ...}` or
// `{salt: ...}` option list: it follows a member name or a `new T`.
func callOptions(masked string, open int) bool {
	i := open - 1
	for i >= 0 && strings.ContainsRune(" \t\r\n", rune(masked[i])) {
		i--
	}
	end := i + 1
	for i >= 0 && isWordByte(masked[i]) {
		i--
	}
	if i+1 == end {
		return false
	}
	for i >= 0 && strings.ContainsRune(" \t\r\n", rune(masked[i])) {
		i--
	}
	if i >= 0 && masked[i] == '.' {
		return true
	}
	return i >= 3 && masked[i-2:i+1] == "new" && !isWordByte(masked[i-3])
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// insertBefore builds an edit placing stmt before the statement holding offset.
// When the statement owns its line the new statement gets a line of its own.
// Statements hanging off an else branch cannot take a sibling and are refused.
func insertBefore(src *solidity.Source, offset int, stmt string) (solidity.Edit, bool) {
	at := statementStart(src, offset)
	if reElse.MatchString(src.Masked[at:]) {
		return solidity.Edit{}, false
	}
	ls := src.LineStart(at)
	if strings.TrimSpace(src.Text[ls:at]) == "" {
		return solidity.Edit{Start: ls, End: ls, Text: src.Indent(at) + stmt + "\n"}, true
	}
	return solidity.Edit{Start: at, End: at, Text: stmt + " "}, true
}

// bodyIndent guesses the indentation of statements inside a function body.
func bodyIndent(src *solidity.Source, fn solidity.Function) string {
	next := src.LineEnd(fn.Open) + 1
	for next < fn.Close {
		end := src.LineEnd(next)
		line := src.Text[next:end]
		if strings.TrimSpace(line) != "" {
			if end > fn.Close {
				break
			}
			return src.Indent(next)
		}
		next = end + 1
	}
	return src.Indent(fn.Start) + "    "
}

// insertAtEntry places stmt right after the opening brace of fn.
func insertAtEntry(src *solidity.Source, fn solidity.Function, stmt string) solidity.Edit {
	return solidity.Edit{Start: fn.Open + 1, End: fn.Open + 1, Text: "\n" + bodyIndent(src, fn) + stmt}
}

// insideBody reports whether offset lies directly in fn's body rather than in
// a function nested inside it.
func insideBody(src *solidity.Source, fn solidity.Function, offset int) bool {
	got, ok := src.FunctionAt(offset)
	return ok && got.Start == fn.Start
}

// contractTypes returns the names of contracts, interfaces and libraries
// declared in the unit.
func contractTypes(src *solidity.Source) map[string]bool {
	out := map[string]bool{}
	for _, b := range src.Blocks {
		out[b.Name] = true
	}
	return out
}

// memberIndent returns the indentation used for members of block b.
func memberIndent(src *solidity.Source, b solidity.Block) string {
	for _, fn := range src.FunctionsIn(b.Name) {
		if src.Line(fn.Start) != src.Line(b.Open) {
			return src.Indent(fn.Start)
		}
	}
	return src.Indent(b.Start) + "    "
}

// appendMembers inserts member declarations just above the closing brace of b.
// Each member is a complete, indented declaration ending in a newline.
func appendMembers(src *solidity.Source, b solidity.Block, members []string) solidity.Edit {
	text := "\n" + strings.Join(members, "\n")
	ls := src.LineStart(b.Close)
	if strings.TrimSpace(src.Text[ls:b.Close]) == "" {
		return solidity.Edit{Start: ls, End: ls, Text: text}
	}
	return solidity.Edit{Start: b.Close, End: b.Close, Text: text}
}
