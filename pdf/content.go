package pdf

import "io"

// ContentOp is one operator call in a decoded page content stream.
type ContentOp struct {
	Operator string
	Operands []Object
}

// ContentParser reads a content stream as a sequence of operator calls.
// Inline image data (BI ... EI) is skipped wholesale.
type ContentParser struct {
	lex lexer
}

// NewContentParser wraps an already-decoded content stream.
func NewContentParser(data []byte) *ContentParser {
	return &ContentParser{lex: lexer{data: data}}
}

// Next returns the next operator call, or io.EOF at the end of the stream.
func (p *ContentParser) Next() (ContentOp, error) {
	var operands []Object
	for {
		p.lex.skipSpace()
		if p.lex.eof() {
			return ContentOp{}, io.EOF
		}
		c := p.lex.peek()
		if c == '/' || c == '(' || c == '<' || c == '[' ||
			c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			obj, err := p.lex.parseObject()
			if err != nil {
				return ContentOp{}, err
			}
			operands = append(operands, obj)
			continue
		}
		switch kw := p.lex.keyword(); kw {
		case "true":
			operands = append(operands, Boolean(true))
		case "false":
			operands = append(operands, Boolean(false))
		case "null":
			operands = append(operands, Null{})
		case "BI":
			if err := p.skipInlineImage(); err != nil {
				return ContentOp{}, err
			}
			operands = operands[:0]
		case "":
			// Stray delimiter; step over it to keep making progress.
			p.lex.pos++
		default:
			return ContentOp{Operator: kw, Operands: operands}, nil
		}
	}
}

// skipInlineImage consumes everything through the EI marker. The binary
// payload cannot be tokenized, so this scans for a delimited EI.
func (p *ContentParser) skipInlineImage() error {
	data := p.lex.data
	for i := p.lex.pos; i+1 < len(data); i++ {
		if data[i] != 'E' || data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isWhitespace(data[i-1]) {
			continue
		}
		if i+2 < len(data) && !isWhitespace(data[i+2]) && !isDelimiter(data[i+2]) {
			continue
		}
		p.lex.pos = i + 2
		return nil
	}
	return errUnexpectedEOF
}
