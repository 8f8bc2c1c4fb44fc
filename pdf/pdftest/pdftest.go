// Package pdftest builds small, well-formed PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Minimal returns a single-revision PDF with the given number of US Letter
// pages, each showing one line of Helvetica text.
func Minimal(pages int) []byte {
	contents := make([]string, pages)
	for i := range contents {
		contents[i] = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
	}
	return WithContents(contents)
}

// WithContents returns a PDF with one page per entry, using the entry as
// the page's content stream. Pages are 612x792 with a shared Helvetica /F1.
func WithContents(contents []string) []byte {
	if len(contents) == 0 {
		contents = []string{""}
	}
	n := len(contents)

	// Object numbering: 1 catalog, 2 pages, 3 font, then page/content pairs.
	pageNum := func(i int) int { return 4 + 2*i }
	contentNum := func(i int) int { return 5 + 2*i }
	total := 3 + 2*n

	var kids bytes.Buffer
	for i := 0; i < n; i++ {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(&kids, "%d 0 R", pageNum(i))
	}

	bodies := make(map[int]string, total)
	bodies[1] = "<< /Type /Catalog /Pages 2 0 R >>"
	bodies[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), n)
	bodies[3] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"
	for i, c := range contents {
		bodies[pageNum(i)] = fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum(i))
		bodies[contentNum(i)] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int64, total+1)
	for num := 1; num <= total; num++ {
		offsets[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, bodies[num])
	}

	xref := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", total+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= total; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xref)
	return buf.Bytes()
}
