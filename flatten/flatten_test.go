package flatten

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/pdf"
	"github.com/tablekit/pdfedit/pdf/pdftest"
)

func parseDoc(t *testing.T, data []byte) *pdf.Document {
	t.Helper()
	doc, err := pdf.Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	t.Cleanup(doc.Close)
	return doc
}

func pageContent(t *testing.T, data []byte, page int) string {
	t.Helper()
	doc := parseDoc(t, data)
	pg, err := doc.Page(page)
	if err != nil {
		t.Fatalf("page %d: %v", page, err)
	}
	blobs, err := pg.Contents()
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	var all bytes.Buffer
	for _, b := range blobs {
		all.Write(b)
		all.WriteByte('\n')
	}
	return all.String()
}

func TestFlattenNoAnnotationsIsIdentity(t *testing.T) {
	original := pdftest.Minimal(2)
	doc := parseDoc(t, original)

	out, err := New().Flatten(doc, nil, "contract.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !bytes.Equal(out.Bytes, original) {
		t.Fatal("empty save must be byte-identical to the original")
	}
	if out.Filename != "contract-annotated.pdf" || out.ContentType != "application/pdf" {
		t.Fatalf("wrapper: %q %q", out.Filename, out.ContentType)
	}
}

func TestFlattenSignatureFieldsNotBurned(t *testing.T) {
	original := pdftest.Minimal(1)
	doc := parseDoc(t, original)

	s := annotation.NewStore(nil)
	s.AddSignatureField(0, coords.Point{X: 50, Y: 100}, annotation.FieldSignature, "Sign here", true)

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !bytes.Equal(out.Bytes, original) {
		t.Fatal("field markers alone must not modify the document")
	}
}

func TestFlattenHighlight(t *testing.T) {
	original := pdftest.Minimal(1)
	doc := parseDoc(t, original)

	s := annotation.NewStore(nil)
	s.AddHighlight(0, coords.Rect{X: 70, Y: 690, Width: 120, Height: 16}, nil)

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes, original) {
		t.Fatal("original bytes must survive as an exact prefix")
	}

	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, "70 690 120 16 re") {
		t.Fatalf("highlight rect missing:\n%s", content)
	}
	if !strings.Contains(content, "gs") || !strings.Contains(content, "1 1 0 rg") {
		t.Fatalf("alpha state or color missing:\n%s", content)
	}

	// The ExtGState landed in the page resources with the default alpha.
	redoc := parseDoc(t, out.Bytes)
	pg, _ := redoc.Page(0)
	gs, _ := redoc.Resolve(pg.Resources["ExtGState"]).(pdf.Dict)
	if len(gs) != 1 {
		t.Fatalf("ExtGState resources: %v", gs)
	}
}

func TestFlattenTextBox(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddTextBox(0, coords.Point{X: 100, Y: 700}, "Hello (world)", annotation.TextFormat{
		FontSize: 12,
		Color:    annotation.Color{R: 1, A: 1},
	})

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, `(Hello \(world\)) Tj`) {
		t.Fatalf("escaped text missing:\n%s", content)
	}
	if !strings.Contains(content, "12 Tf") {
		t.Fatalf("font size missing:\n%s", content)
	}
	if !strings.Contains(content, "1 0 0 rg") {
		t.Fatalf("fill color missing:\n%s", content)
	}
	// Baseline sits one font size below the top edge the box was placed at.
	if !strings.Contains(content, "100 688 Td") {
		t.Fatalf("baseline missing:\n%s", content)
	}
}

func TestFlattenTextEditEmptyReplacementErasesOnly(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddTextEdit(0, 72, 720, 60, 12, "Page 1", "", 12, annotation.TextFormat{})

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	overlay := lastBlob(t, out.Bytes, 0)
	if !strings.Contains(overlay, "1 1 1 rg") {
		t.Fatalf("cover rect missing:\n%s", overlay)
	}
	if strings.Contains(overlay, "Tj") {
		t.Fatalf("empty replacement must not draw text:\n%s", overlay)
	}
}

// lastBlob returns the page's final content stream, which after a flatten
// is the annotation overlay.
func lastBlob(t *testing.T, data []byte, page int) string {
	t.Helper()
	doc := parseDoc(t, data)
	pg, err := doc.Page(page)
	if err != nil {
		t.Fatalf("page %d: %v", page, err)
	}
	blobs, err := pg.Contents()
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if len(blobs) == 0 {
		t.Fatal("no content streams")
	}
	return string(blobs[len(blobs)-1])
}

func TestFlattenTextEditReplacement(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddTextEdit(0, 72, 720, 40, 12, "Page 1", "Chapter One", 12, annotation.TextFormat{})

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, "(Chapter One) Tj") {
		t.Fatalf("replacement text missing:\n%s", content)
	}
	// The replacement is longer than the original, so the cover must be at
	// least as wide as its measured width.
	if !strings.Contains(content, "1 1 1 rg") {
		t.Fatalf("cover missing:\n%s", content)
	}
}

func TestFlattenCorruptSignatureIsSkipped(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddSignature(0, coords.Point{X: 40, Y: 200}, "!!!not-base64!!!", 0, 0)
	s.AddHighlight(0, coords.Rect{X: 10, Y: 10, Width: 20, Height: 20}, nil)

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("one bad annotation must not abort the save: %v", err)
	}
	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, "10 10 20 20 re") {
		t.Fatalf("surviving highlight missing:\n%s", content)
	}
	if strings.Contains(content, "Do") {
		t.Fatalf("skipped signature still drawn:\n%s", content)
	}
}

func signaturePNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 20, G: 30, B: 40, A: uint8(x * 60)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestFlattenSignatureImage(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddSignature(0, coords.Point{X: 300, Y: 150}, "data:image/png;base64,"+signaturePNG(t), 120, 60)

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, "120 0 0 60 300 90 cm") {
		t.Fatalf("placement matrix missing:\n%s", content)
	}
	if !strings.Contains(content, "Do") {
		t.Fatalf("image not drawn:\n%s", content)
	}

	redoc := parseDoc(t, out.Bytes)
	pg, _ := redoc.Page(0)
	xo, _ := redoc.Resolve(pg.Resources["XObject"]).(pdf.Dict)
	if len(xo) != 1 {
		t.Fatalf("XObject resources: %v", xo)
	}
	for _, ref := range xo {
		img, _ := redoc.Resolve(ref).(*pdf.Stream)
		if img == nil {
			t.Fatal("image stream missing")
		}
		if img.Dict["ColorSpace"] != pdf.Name("DeviceRGB") {
			t.Fatalf("color space: %v", img.Dict["ColorSpace"])
		}
		if _, ok := img.Dict["SMask"]; !ok {
			t.Fatal("transparent signature must carry a soft mask")
		}
	}
}

func TestFlattenLeavesOtherPagesUntouched(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(2))
	before := pageContent(t, pdftest.Minimal(2), 1)

	s := annotation.NewStore(nil)
	s.AddHighlight(0, coords.Rect{X: 1, Y: 1, Width: 2, Height: 2}, nil)

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if got := pageContent(t, out.Bytes, 1); got != before {
		t.Fatalf("page 1 changed:\n%s", got)
	}
}

func TestFlattenPreservesOriginalContent(t *testing.T) {
	doc := parseDoc(t, pdftest.Minimal(1))

	s := annotation.NewStore(nil)
	s.AddTextBox(0, coords.Point{X: 10, Y: 100}, "note", annotation.TextFormat{})

	out, err := New().Flatten(doc, s.All(), "a.pdf")
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	content := pageContent(t, out.Bytes, 0)
	if !strings.Contains(content, "(Page 1) Tj") {
		t.Fatalf("original page text lost:\n%s", content)
	}
	if !strings.Contains(content, "(note) Tj") {
		t.Fatalf("annotation text missing:\n%s", content)
	}
}

func TestDownloadName(t *testing.T) {
	cases := map[string]string{
		"contract.pdf": "contract-annotated.pdf",
		"scan":         "scan-annotated.pdf",
		"":             "document-annotated.pdf",
	}
	for in, want := range cases {
		if got := downloadName(in); got != want {
			t.Errorf("downloadName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeText(t *testing.T) {
	if got := escapeText(`a(b)c\d`); got != `a\(b\)c\\d` {
		t.Fatalf("escape: %q", got)
	}
}
