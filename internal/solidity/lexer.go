package solidity

// Mask returns a copy of src with comments and the contents of string literals
// replaced by spaces. Newlines and quote characters are kept, so byte offsets and
// line numbers in the result match src.
func Mask(src string) string {
	b := []byte(src)
	n := len(b)
	for i := 0; i < n; {
		switch {
		case b[i] == '/' && i+1 < n && b[i+1] == '/':
			for i < n && b[i] != '\n' {
				b[i] = ' '
				i++
			}
		case b[i] == '/' && i+1 < n && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			i += 2
			for i < n && !(b[i] == '*' && i+1 < n && b[i+1] == '/') {
				if b[i] != '\n' {
					b[i] = ' '
				}
				i++
			}
			if i < n {
				b[i] = ' '
				if i+1 < n {
					b[i+1] = ' '
				}
				i += 2
			}
		case b[i] == '"' || b[i] == '\'':
			q := b[i]
			i++
			for i < n && b[i] != q && b[i] != '\n' {
				if b[i] == '\\' && i+1 < n && b[i+1] != '\n' {
					b[i] = ' '
					i++
				}
				b[i] = ' '
				i++
			}
			i++
		default:
			i++
		}
	}
	return string(b)
}
