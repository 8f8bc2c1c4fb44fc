package pdf

import (
	"errors"
	"fmt"
	"strconv"
)

// lexer walks raw PDF syntax inside a byte slice. It is position-based so a
// caller can seek to xref offsets and parse indirect objects in place.
type lexer struct {
	data []byte
	pos  int
}

var errUnexpectedEOF = errors.New("pdf: unexpected end of data")

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) eof() bool { return l.pos >= len(l.data) }

func (l *lexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.data[l.pos]
}

// skipSpace consumes whitespace and comments.
func (l *lexer) skipSpace() {
	for !l.eof() {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for !l.eof() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// keyword reads a bare regular-character run (obj, endobj, stream, R, true).
func (l *lexer) keyword() string {
	start := l.pos
	for !l.eof() && !isWhitespace(l.data[l.pos]) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *lexer) expect(kw string) error {
	l.skipSpace()
	if got := l.keyword(); got != kw {
		return fmt.Errorf("pdf: expected %q at offset %d, got %q", kw, l.pos, got)
	}
	return nil
}

// parseObject parses the next object, resolving "N G R" reference syntax.
func (l *lexer) parseObject() (Object, error) {
	l.skipSpace()
	if l.eof() {
		return nil, errUnexpectedEOF
	}
	c := l.peek()
	switch {
	case c == '/':
		return l.parseName()
	case c == '(':
		return l.parseLiteralString()
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			return l.parseDict()
		}
		return l.parseHexString()
	case c == '[':
		return l.parseArray()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.parseNumberOrRef()
	}
	switch kw := l.keyword(); kw {
	case "true":
		return Boolean(true), nil
	case "false":
		return Boolean(false), nil
	case "null":
		return Null{}, nil
	case "":
		return nil, fmt.Errorf("pdf: unexpected byte %q at offset %d", c, l.pos)
	default:
		return nil, fmt.Errorf("pdf: unexpected keyword %q at offset %d", kw, l.pos)
	}
}

func (l *lexer) parseName() (Name, error) {
	l.pos++ // consume '/'
	var out []byte
	for !l.eof() {
		c := l.data[l.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			hi, ok1 := hexVal(l.data[l.pos+1])
			lo, ok2 := hexVal(l.data[l.pos+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				l.pos += 3
				continue
			}
		}
		out = append(out, c)
		l.pos++
	}
	return Name(out), nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *lexer) parseLiteralString() (String, error) {
	l.pos++ // consume '('
	var out []byte
	depth := 1
	for !l.eof() {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.eof() {
				return nil, errUnexpectedEOF
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\n':
				// line continuation
			case '\r':
				if !l.eof() && l.data[l.pos] == '\n' {
					l.pos++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && !l.eof(); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return String(out), nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return nil, errUnexpectedEOF
}

func (l *lexer) parseHexString() (String, error) {
	l.pos++ // consume '<'
	var out []byte
	var hi byte
	haveHi := false
	for !l.eof() {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if haveHi {
				out = append(out, hi<<4)
			}
			return String(out), nil
		}
		v, ok := hexVal(c)
		if !ok {
			continue
		}
		if haveHi {
			out = append(out, hi<<4|v)
			haveHi = false
		} else {
			hi = v
			haveHi = true
		}
	}
	return nil, errUnexpectedEOF
}

func (l *lexer) parseArray() (Array, error) {
	l.pos++ // consume '['
	arr := Array{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, errUnexpectedEOF
		}
		if l.peek() == ']' {
			l.pos++
			return arr, nil
		}
		item, err := l.parseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (l *lexer) parseDict() (Object, error) {
	l.pos += 2 // consume '<<'
	d := Dict{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, errUnexpectedEOF
		}
		if l.peek() == '>' {
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
				l.pos += 2
				return d, nil
			}
			return nil, fmt.Errorf("pdf: stray '>' in dictionary at offset %d", l.pos)
		}
		if l.peek() != '/' {
			return nil, fmt.Errorf("pdf: expected name key at offset %d", l.pos)
		}
		key, err := l.parseName()
		if err != nil {
			return nil, err
		}
		val, err := l.parseObject()
		if err != nil {
			return nil, err
		}
		d[key] = val
	}
}

// parseNumberOrRef parses a number, looking ahead for "gen R" reference
// syntax when the number is a non-negative integer.
func (l *lexer) parseNumberOrRef() (Object, error) {
	num, err := l.parseNumber()
	if err != nil {
		return nil, err
	}
	n, ok := num.(Integer)
	if !ok || n < 0 {
		return num, nil
	}
	save := l.pos
	l.skipSpace()
	if c := l.peek(); c >= '0' && c <= '9' {
		gen, err := l.parseNumber()
		if g, isInt := gen.(Integer); err == nil && isInt {
			l.skipSpace()
			// "R" must be a bare keyword, not a prefix of something else.
			mark := l.pos
			if kw := l.keyword(); kw == "R" {
				return Ref{Num: int(n), Gen: int(g)}, nil
			}
			l.pos = mark
		}
	}
	l.pos = save
	return n, nil
}

// parseNumber returns an Integer or a Real.
func (l *lexer) parseNumber() (Object, error) {
	l.skipSpace()
	start := l.pos
	if !l.eof() && (l.peek() == '+' || l.peek() == '-') {
		l.pos++
	}
	isInt := true
	for !l.eof() {
		c := l.data[l.pos]
		if c >= '0' && c <= '9' {
			l.pos++
			continue
		}
		if c == '.' {
			isInt = false
			l.pos++
			continue
		}
		break
	}
	tok := string(l.data[start:l.pos])
	if tok == "" || tok == "+" || tok == "-" || tok == "." {
		return nil, fmt.Errorf("pdf: malformed number at offset %d", start)
	}
	if isInt {
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pdf: malformed integer %q: %w", tok, err)
		}
		return Integer(v), nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("pdf: malformed real %q: %w", tok, err)
	}
	return Real(f), nil
}
