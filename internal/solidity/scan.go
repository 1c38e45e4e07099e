package solidity

import (
	"regexp"
	"sort"
)

// Block is a contract, interface or library body.
type Block struct {
	Kind     string `json:"kind"`
	Abstract bool   `json:"abstract,omitempty"`
	Name     string `json:"name"`
	Start    int    `json:"start"`
	Open     int    `json:"open"`
	Close    int    `json:"close"` // -1 when unterminated
}

func (b Block) Contains(offset int) bool {
	return offset > b.Open && (b.Close < 0 || offset < b.Close)
}

// Function is a function-like declaration: function, constructor, fallback, receive or modifier.
type Function struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Params   string `json:"params"`
	Header   string `json:"header"`
	Contract string `json:"contract"`
	Nested   bool   `json:"nested,omitempty"` // declared inside another body (assembly helpers)
	Start    int    `json:"start"`
	Open     int    `json:"open"`  // -1 when declared without a body
	Close    int    `json:"close"` // -1 when unterminated

	masked string
}

func (f Function) HasBody() bool { return f.Open >= 0 && f.Close > f.Open }

// HasWord reports whether the header carries the given keyword (visibility, mutability, modifier name).
func (f Function) HasWord(word string) bool {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`).MatchString(f.masked)
}

// Source is a scanned unit. Masked has comments and string literals blanked,
// offsets and line numbers are shared with Text.
type Source struct {
	Text      string
	Masked    string
	Blocks    []Block
	Functions []Function

	lineStarts []int
}

// Scan runs a bracket-depth automaton over the masked text and records
// contract and function spans. Depth only moves on '{' and '}' tokens.
func Scan(src string) *Source {
	m := Mask(src)
	s := &Source{Text: src, Masked: m, lineStarts: []int{0}}
	for i := 0; i < len(m); i++ {
		if m[i] == '\n' {
			s.lineStarts = append(s.lineStarts, i+1)
		}
	}

	type frame struct {
		block bool
		idx   int
		depth int
	}
	var (
		stack      []frame
		depth      int
		pendBlock  *Block
		pendFn     *Function
		parens     int
		paramStart = -1
		paramsDone bool
	)
	resetFn := func() {
		pendFn, parens, paramStart, paramsDone = nil, 0, -1, false
	}
	enclosing := func() string {
		for k := len(stack) - 1; k >= 0; k-- {
			if stack[k].block {
				return s.Blocks[stack[k].idx].Name
			}
		}
		return ""
	}

	for i := 0; i < len(m); i++ {
		c := m[i]
		if isIdentStart(c) && (i == 0 || (!isIdentChar(m[i-1]) && m[i-1] != '.')) {
			j := i
			for j < len(m) && isIdentChar(m[j]) {
				j++
			}
			word := m[i:j]
			if pendFn == nil && pendBlock == nil {
				switch word {
				case "contract", "interface", "library":
					b := &Block{Kind: word, Name: nextIdent(m, j), Start: i, Close: -1}
					if w, at := prevIdent(m, i); w == "abstract" {
						b.Abstract, b.Start = true, at
					}
					pendBlock = b
				case "function", "constructor", "fallback", "receive", "modifier":
					fn := &Function{Kind: word, Name: word, Start: i, Open: -1, Close: -1, Contract: enclosing()}
					fn.Nested = len(stack) > 0 && !stack[len(stack)-1].block
					if word == "function" || word == "modifier" {
						fn.Name = nextIdent(m, j)
					}
					pendFn = fn
				}
			}
			i = j - 1
			continue
		}
		switch c {
		case '(':
			if pendFn != nil {
				if parens == 0 && !paramsDone {
					paramStart = i + 1
				}
				parens++
			}
		case ')':
			if pendFn != nil && parens > 0 {
				parens--
				if parens == 0 && !paramsDone && paramStart >= 0 {
					pendFn.Params = src[paramStart:i]
					paramsDone = true
				}
			}
		case ';':
			if pendFn != nil && parens == 0 {
				pendFn.Header, pendFn.masked = src[pendFn.Start:i], m[pendFn.Start:i]
				s.Functions = append(s.Functions, *pendFn)
				resetFn()
			}
		case '{':
			depth++
			switch {
			case pendBlock != nil:
				pendBlock.Open = i
				s.Blocks = append(s.Blocks, *pendBlock)
				stack = append(stack, frame{block: true, idx: len(s.Blocks) - 1, depth: depth})
				pendBlock = nil
			case pendFn != nil && parens == 0:
				pendFn.Open = i
				pendFn.Header, pendFn.masked = src[pendFn.Start:i], m[pendFn.Start:i]
				s.Functions = append(s.Functions, *pendFn)
				stack = append(stack, frame{idx: len(s.Functions) - 1, depth: depth})
				resetFn()
			}
		case '}':
			if n := len(stack); n > 0 && stack[n-1].depth == depth {
				top := stack[n-1]
				if top.block {
					s.Blocks[top.idx].Close = i
				} else {
					s.Functions[top.idx].Close = i
				}
				stack = stack[:n-1]
			}
			depth--
		}
	}
	return s
}

// Line returns the 1-based line of offset.
func (s *Source) Line(offset int) int {
	return sort.Search(len(s.lineStarts), func(i int) bool { return s.lineStarts[i] > offset })
}

// LineEnd returns the offset of the newline terminating the line holding offset, or len(Text).
func (s *Source) LineEnd(offset int) int {
	l := s.Line(offset)
	if l < len(s.lineStarts) {
		return s.lineStarts[l] - 1
	}
	return len(s.Text)
}

// LineStart returns the offset of the first byte of the line holding offset.
func (s *Source) LineStart(offset int) int {
	return s.lineStarts[s.Line(offset)-1]
}

// Indent returns the leading whitespace of the line holding offset.
func (s *Source) Indent(offset int) string {
	start := s.LineStart(offset)
	end := start
	for end < len(s.Text) && (s.Text[end] == ' ' || s.Text[end] == '\t') {
		end++
	}
	return s.Text[start:end]
}

// Block returns the first block with the given name.
func (s *Source) Block(name string) (Block, bool) {
	for _, b := range s.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

// BlockAt returns the innermost block containing offset.
func (s *Source) BlockAt(offset int) (Block, bool) {
	var (
		found Block
		ok    bool
	)
	for _, b := range s.Blocks {
		if b.Contains(offset) && (!ok || b.Open > found.Open) {
			found, ok = b, true
		}
	}
	return found, ok
}

// FunctionAt returns the innermost function body containing offset.
func (s *Source) FunctionAt(offset int) (Function, bool) {
	var (
		found Function
		ok    bool
	)
	for _, f := range s.Functions {
		if f.HasBody() && offset > f.Open && offset < f.Close && (!ok || f.Open > found.Open) {
			found, ok = f, true
		}
	}
	return found, ok
}

// FunctionsIn returns the functions declared directly in the named block.
func (s *Source) FunctionsIn(contract string) []Function {
	var out []Function
	for _, f := range s.Functions {
		if f.Contract == contract && !f.Nested {
			out = append(out, f)
		}
	}
	return out
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func nextIdent(m string, from int) string {
	i := from
	for i < len(m) && isSpace(m[i]) {
		i++
	}
	j := i
	for j < len(m) && isIdentChar(m[j]) {
		j++
	}
	return m[i:j]
}

func prevIdent(m string, before int) (string, int) {
	i := before - 1
	for i >= 0 && isSpace(m[i]) {
		i--
	}
	end := i + 1
	for i >= 0 && isIdentChar(m[i]) {
		i--
	}
	return m[i+1 : end], i + 1
}
