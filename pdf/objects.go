// Package pdf implements the minimal document substrate the annotation
// editor needs: parsing a byte stream into a navigable page tree, decoding
// content streams, and writing annotation overlays back out as an
// incremental update that leaves the original bytes untouched.
package pdf

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Object is any PDF object. Concrete types are Name, Integer, Real,
// Boolean, String, Array, Dict, *Stream, Ref and Null.
type Object interface{}

type Name string

type Integer int64

type Real float64

type Boolean bool

// String holds the raw bytes of a PDF string object.
type String []byte

type Array []Object

type Dict map[Name]Object

// Ref is an indirect object reference.
type Ref struct {
	Num int
	Gen int
}

// Null is the PDF null object.
type Null struct{}

// Stream pairs a stream dictionary with its raw (still encoded) data.
type Stream struct {
	Dict Dict
	Data []byte
}

// Get returns the value for key without resolving references.
func (d Dict) Get(key Name) (Object, bool) {
	v, ok := d[key]
	return v, ok
}

// Clone returns a shallow copy of d.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// writeObject serializes obj in PDF syntax.
func writeObject(buf *bytes.Buffer, obj Object) {
	switch v := obj.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Name:
		buf.WriteByte('/')
		buf.WriteString(escapeName(string(v)))
	case Integer:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case Real:
		buf.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 64))
	case Boolean:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case String:
		writeLiteralString(buf, v)
	case Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	case Array:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, item)
		}
		buf.WriteByte(']')
	case Dict:
		writeDict(buf, v)
	case *Stream:
		writeDict(buf, v.Dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		// Unknown values serialize as null rather than corrupting the file.
		buf.WriteString("null")
	}
}

func writeDict(buf *bytes.Buffer, d Dict) {
	buf.WriteString("<<")
	// Deterministic key order keeps output byte-stable for tests.
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(" /")
		buf.WriteString(escapeName(k))
		buf.WriteByte(' ')
		writeObject(buf, d[Name(k)])
	}
	buf.WriteString(" >>")
}

func escapeName(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c == '#' || c == '/' || c == '(' || c == ')' || c == '<' || c == '>' ||
			c == '[' || c == ']' || c == '{' || c == '}' || c == '%' || c > '~' {
			out = append(out, fmt.Sprintf("#%02X", c)...)
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}

func writeLiteralString(buf *bytes.Buffer, s []byte) {
	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
