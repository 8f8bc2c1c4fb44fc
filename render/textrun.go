package render

import (
	"errors"
	"io"
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/measure"
	"github.com/tablekit/pdfedit/pdf"
)

// TextRun is one positioned show-text call extracted from a page's content
// streams. X/Y/Width/Height are screen coordinates at the render's zoom in
// an unrotated page frame; Transform is the raw text rendering matrix in
// PDF user space, kept so edit matching can re-derive PDF coordinates.
type TextRun struct {
	Text      string        `json:"text"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Width     float64       `json:"width"`
	Height    float64       `json:"height"`
	FontSize  float64       `json:"fontSize"`
	Transform coords.Matrix `json:"transform"`
}

// PdfOrigin returns the run's baseline origin in PDF user space.
func (r TextRun) PdfOrigin() coords.Point {
	return r.Transform.Apply(coords.Point{})
}

// textState tracks the interpreter's graphics and text state while walking
// content-stream operators.
type textState struct {
	ctm      coords.Matrix
	stack    []coords.Matrix
	tm       coords.Matrix
	tlm      coords.Matrix
	inText   bool
	fontSize float64
	font     string
	leading  float64
}

// extractRuns walks the page's decoded content streams and records every
// show-text operator with its device position.
func extractRuns(doc *pdf.Document, page *pdf.Page, zoom float64) ([]TextRun, error) {
	blobs, err := page.Contents()
	if err != nil {
		return nil, err
	}
	fonts := fontDecoders(doc, page)
	_, pageHeight := page.Size()

	var runs []TextRun
	st := textState{ctm: coords.Identity(), tm: coords.Identity(), tlm: coords.Identity()}
	for _, data := range blobs {
		p := pdf.NewContentParser(data)
		for {
			op, err := p.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				// Malformed trailing operators are tolerated; runs found
				// so far are still useful for hit-testing.
				break
			}
			st.apply(op, fonts, pageHeight, zoom, &runs)
		}
	}
	return runs, nil
}

func (st *textState) apply(op pdf.ContentOp, fonts map[string]*fontDecoder, pageHeight, zoom float64, runs *[]TextRun) {
	args := op.Operands
	switch op.Operator {
	case "q":
		st.stack = append(st.stack, st.ctm)
	case "Q":
		if n := len(st.stack); n > 0 {
			st.ctm = st.stack[n-1]
			st.stack = st.stack[:n-1]
		}
	case "cm":
		if m, ok := matrixArgs(args); ok {
			st.ctm = m.Multiply(st.ctm)
		}
	case "BT":
		st.inText = true
		st.tm = coords.Identity()
		st.tlm = coords.Identity()
	case "ET":
		st.inText = false
	case "Tf":
		if len(args) >= 2 {
			if name, ok := args[len(args)-2].(pdf.Name); ok {
				st.font = string(name)
			}
			st.fontSize = numArg(args[len(args)-1], st.fontSize)
		}
	case "TL":
		if len(args) >= 1 {
			st.leading = numArg(args[0], st.leading)
		}
	case "Td":
		if len(args) >= 2 {
			st.lineTo(numArg(args[0], 0), numArg(args[1], 0))
		}
	case "TD":
		if len(args) >= 2 {
			ty := numArg(args[1], 0)
			st.leading = -ty
			st.lineTo(numArg(args[0], 0), ty)
		}
	case "Tm":
		if m, ok := matrixArgs(args); ok {
			st.tm = m
			st.tlm = m
		}
	case "T*":
		st.lineTo(0, -st.leading)
	case "Tj":
		if len(args) >= 1 {
			st.show(stringArg(args[len(args)-1]), fonts, pageHeight, zoom, runs)
		}
	case "'":
		st.lineTo(0, -st.leading)
		if len(args) >= 1 {
			st.show(stringArg(args[len(args)-1]), fonts, pageHeight, zoom, runs)
		}
	case "\"":
		st.lineTo(0, -st.leading)
		if len(args) >= 3 {
			st.show(stringArg(args[2]), fonts, pageHeight, zoom, runs)
		}
	case "TJ":
		if len(args) >= 1 {
			st.showArray(args[len(args)-1], fonts, pageHeight, zoom, runs)
		}
	}
}

func (st *textState) lineTo(tx, ty float64) {
	st.tlm = coords.Translate(tx, ty).Multiply(st.tlm)
	st.tm = st.tlm
}

// show records one run and advances the text matrix by the estimated
// string width.
func (st *textState) show(raw []byte, fonts map[string]*fontDecoder, pageHeight, zoom float64, runs *[]TextRun) {
	if !st.inText || len(raw) == 0 {
		return
	}
	text := decodeShown(raw, fonts[st.font])
	if text == "" {
		return
	}
	trm := st.tm.Multiply(st.ctm)
	origin := trm.Apply(coords.Point{})
	size := st.fontSize * scaleOf(trm)
	if size <= 0 {
		size = measure.DefaultFontSize
	}
	width := measure.HeuristicWidth(text, size)
	// The advance lives in text space, where the matrix has not yet
	// applied its scale, so it is sized by the nominal font size.
	nominal := st.fontSize
	if nominal <= 0 {
		nominal = measure.DefaultFontSize
	}
	advance := measure.HeuristicWidth(text, nominal)

	sx, sy := coords.PdfToScreen(origin.X, origin.Y+size, pageHeight, zoom)
	*runs = append(*runs, TextRun{
		Text:      text,
		X:         sx,
		Y:         sy,
		Width:     width * zoom,
		Height:    size * zoom,
		FontSize:  size,
		Transform: trm,
	})
	st.tm = coords.Translate(advance, 0).Multiply(st.tm)
}

func (st *textState) showArray(arg pdf.Object, fonts map[string]*fontDecoder, pageHeight, zoom float64, runs *[]TextRun) {
	arr, ok := arg.(pdf.Array)
	if !ok {
		return
	}
	for _, item := range arr {
		switch v := item.(type) {
		case pdf.String:
			st.show([]byte(v), fonts, pageHeight, zoom, runs)
		case pdf.Integer:
			st.tm = coords.Translate(-float64(v)/1000*st.fontSize, 0).Multiply(st.tm)
		case pdf.Real:
			st.tm = coords.Translate(-float64(v)/1000*st.fontSize, 0).Multiply(st.tm)
		}
	}
}

// scaleOf approximates the vertical scale factor of a text rendering
// matrix, used to turn the nominal font size into device units.
func scaleOf(m coords.Matrix) float64 {
	s := math.Hypot(m[1], m[3])
	if s <= 0 {
		return 1
	}
	return s
}

func matrixArgs(args []pdf.Object) (coords.Matrix, bool) {
	if len(args) < 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i := 0; i < 6; i++ {
		m[i] = numArg(args[len(args)-6+i], 0)
	}
	return m, true
}

func numArg(obj pdf.Object, def float64) float64 {
	switch v := obj.(type) {
	case pdf.Integer:
		return float64(v)
	case pdf.Real:
		return float64(v)
	}
	return def
}

func stringArg(obj pdf.Object) []byte {
	if s, ok := obj.(pdf.String); ok {
		return []byte(s)
	}
	return nil
}

// decodeShown maps shown string bytes to text, preferring the font's
// ToUnicode CMap, then a UTF-16BE BOM, then Latin-1.
func decodeShown(data []byte, dec *fontDecoder) string {
	if dec != nil && dec.cmap != nil {
		return dec.cmap.decode(data)
	}
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		return decodeUTF16BE(data[2:])
	}
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func decodeUTF16BE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return ""
	}
	buf := make([]uint16, len(data)/2)
	for i := range buf {
		buf[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(buf))
}
