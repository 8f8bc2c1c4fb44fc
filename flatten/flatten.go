// Package flatten burns annotations into a document. The output is an
// incremental update: the original bytes are preserved unchanged as a
// prefix, followed by replacement page objects whose content streams gain
// an overlay drawing the annotations. Signature field markers are workflow
// metadata and are never drawn.
package flatten

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/measure"
	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/pdf"
)

// Output is the flattened document, wrapped for download.
type Output struct {
	Bytes       []byte
	Filename    string
	ContentType string
}

// Pipeline renders annotations into page content. Construct with New.
type Pipeline struct {
	measurer *measure.Measurer
	log      observability.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMeasurer sets the text measurer used to size cover rectangles.
func WithMeasurer(m *measure.Measurer) Option {
	return func(p *Pipeline) { p.measurer = m }
}

// WithLogger sets the logger; the default is a no-op.
func WithLogger(log observability.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New returns a Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{log: observability.NopLogger{}}
	for _, o := range opts {
		o(p)
	}
	if p.measurer == nil {
		p.measurer = measure.NewHeuristic()
	}
	return p
}

// Flatten produces the annotated document. With nothing to draw the output
// is byte-identical to the original. A single bad annotation (for example
// an undecodable signature image) is logged and skipped; it never aborts
// the save.
func (p *Pipeline) Flatten(doc *pdf.Document, anns []annotation.Annotation, filename string) (*Output, error) {
	start := time.Now()
	upd, err := doc.NewUpdate()
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]annotation.Annotation)
	for _, a := range anns {
		if a.Type() == annotation.TypeSignatureField {
			continue
		}
		byPage[a.PageIndex()] = append(byPage[a.PageIndex()], a)
	}

	if len(byPage) > 0 {
		pages := make([]int, 0, len(byPage))
		for idx := range byPage {
			pages = append(pages, idx)
		}
		sort.Ints(pages)

		// One shared font and one shared save-state prologue for every
		// touched page.
		fontRef := upd.Add(pdf.Dict{
			"Type":     pdf.Name("Font"),
			"Subtype":  pdf.Name("Type1"),
			"BaseFont": pdf.Name("Helvetica"),
		})
		saveRef := upd.AddRawStream(pdf.Dict{}, []byte("q\n"))

		for _, idx := range pages {
			if err := p.flattenPage(doc, upd, idx, byPage[idx], fontRef, saveRef); err != nil {
				return nil, fmt.Errorf("flatten page %d: %w", idx, err)
			}
		}
	}

	out, err := upd.Bytes()
	if err != nil {
		return nil, err
	}
	p.log.Info("document flattened",
		observability.Int(observability.MetricAnnotationCount, len(anns)),
		observability.Int("bytes", len(out)),
		observability.Duration(observability.MetricFlattenTime, time.Since(start)))
	return &Output{
		Bytes:       out,
		Filename:    downloadName(filename),
		ContentType: "application/pdf",
	}, nil
}

// flattenPage appends an overlay content stream to one page and swaps in a
// page dictionary referencing it plus the resources the overlay needs.
func (p *Pipeline) flattenPage(doc *pdf.Document, upd *pdf.Update, idx int, anns []annotation.Annotation, fontRef, saveRef pdf.Ref) error {
	page, err := doc.Page(idx)
	if err != nil {
		return err
	}

	res := newResources(doc, page.Resources)
	fontName := res.addFont(fontRef)

	var buf bytes.Buffer
	// The shared prologue saved the pristine graphics state before the
	// original content ran; restore it so annotation coordinates are in
	// the default user space.
	buf.WriteString("Q\n")

	for _, a := range anns {
		switch v := a.(type) {
		case *annotation.Highlight:
			p.drawHighlight(&buf, upd, res, v)
		case *annotation.TextBox:
			p.drawTextBox(&buf, fontName, v)
		case *annotation.TextEdit:
			p.drawTextEdit(&buf, fontName, v)
		case *annotation.Signature:
			if err := p.drawSignature(&buf, upd, res, v); err != nil {
				p.log.Warn("skipping signature annotation",
					observability.String("id", v.ID()),
					observability.Int("page", idx),
					observability.Error("err", err))
			}
		}
	}

	overlayRef := upd.AddStream(pdf.Dict{}, buf.Bytes())

	pageDict := page.Dict().Clone()
	pageDict["Resources"] = res.dict()
	pageDict["Contents"] = contentsWith(doc, page.RawContents(), saveRef, overlayRef)
	return upd.Replace(page.Ref, pageDict)
}

// contentsWith brackets the original content with the save-state prologue
// and the overlay stream.
func contentsWith(doc *pdf.Document, orig pdf.Object, saveRef, overlayRef pdf.Ref) pdf.Array {
	arr := pdf.Array{saveRef}
	switch v := doc.Resolve(orig).(type) {
	case pdf.Array:
		for _, item := range v {
			arr = append(arr, item)
		}
	default:
		if ref, ok := orig.(pdf.Ref); ok {
			arr = append(arr, ref)
		}
	}
	return append(arr, overlayRef)
}

func (p *Pipeline) drawHighlight(buf *bytes.Buffer, upd *pdf.Update, res *resources, h *annotation.Highlight) {
	gsRef := upd.Add(pdf.Dict{
		"Type": pdf.Name("ExtGState"),
		"ca":   pdf.Real(h.Color.A),
		"CA":   pdf.Real(h.Color.A),
	})
	gsName := res.addExtGState(gsRef)
	r := h.Bounds()
	fmt.Fprintf(buf, "q\n/%s gs\n%s %s %s rg\n%s re\nf\nQ\n",
		gsName, num(h.Color.R), num(h.Color.G), num(h.Color.B), rectOp(r))
}

func (p *Pipeline) drawTextBox(buf *bytes.Buffer, fontName string, t *annotation.TextBox) {
	f := t.Format
	if f.FontSize <= 0 {
		f = annotation.DefaultFormat()
	}
	r := t.Bounds()
	if f.Background != nil {
		fmt.Fprintf(buf, "q\n%s %s %s rg\n%s re\nf\nQ\n",
			num(f.Background.R), num(f.Background.G), num(f.Background.B), rectOp(r))
	}
	// First baseline sits one font size below the box's top edge.
	baseline := r.Y + r.Height - f.FontSize
	p.drawLines(buf, fontName, f, r.X, baseline, t.Content)
}

// drawTextEdit occludes the source glyphs with an opaque rectangle sized
// to the wider of the original and replacement strings, then draws the
// replacement on top. An empty replacement just erases.
func (p *Pipeline) drawTextEdit(buf *bytes.Buffer, fontName string, t *annotation.TextEdit) {
	f := t.Format
	if f.FontSize <= 0 {
		f = annotation.DefaultFormat()
	}
	coverW := measure.HeuristicWidth(t.OriginalText, f.FontSize)
	if t.Content != "" {
		if w := p.measurer.LineWidth(t.Content, styleOf(f)); w > coverW {
			coverW = w
		}
	}
	r := t.Bounds()
	if r.Width > coverW {
		coverW = r.Width
	}
	// The stored Y is the source run's baseline; pad below for descenders
	// and above for the ascent.
	cover := coords.Rect{
		X:      t.OriginalX - 1,
		Y:      t.OriginalY - 0.25*f.FontSize,
		Width:  coverW + 4,
		Height: 1.35 * f.FontSize,
	}
	fmt.Fprintf(buf, "q\n1 1 1 rg\n%s re\nf\nQ\n", rectOp(cover))
	if t.Content == "" {
		return
	}
	p.drawLines(buf, fontName, f, t.OriginalX, t.OriginalY, t.Content)
}

// drawLines emits a text object starting at the given baseline, one show
// per line with the editor's line spacing, plus underlines when asked.
func (p *Pipeline) drawLines(buf *bytes.Buffer, fontName string, f annotation.TextFormat, x, baseline float64, content string) {
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	leading := f.FontSize * 1.4

	fmt.Fprintf(buf, "BT\n/%s %s Tf\n%s TL\n%s %s %s rg\n%s %s Td\n",
		fontName, num(f.FontSize), num(leading),
		num(f.Color.R), num(f.Color.G), num(f.Color.B),
		num(x), num(baseline))
	for i, line := range lines {
		if i > 0 {
			buf.WriteString("T*\n")
		}
		fmt.Fprintf(buf, "(%s) Tj\n", escapeText(line))
	}
	buf.WriteString("ET\n")

	if f.Underline {
		st := styleOf(f)
		for i, line := range lines {
			w := p.measurer.LineWidth(line, st)
			if w <= 0 {
				continue
			}
			y := baseline - float64(i)*leading - 1.5
			fmt.Fprintf(buf, "q\n%s %s %s rg\n%s %s %s 0.75 re\nf\nQ\n",
				num(f.Color.R), num(f.Color.G), num(f.Color.B),
				num(x), num(y), num(w))
		}
	}
}

func (p *Pipeline) drawSignature(buf *bytes.Buffer, upd *pdf.Update, res *resources, s *annotation.Signature) error {
	imgRef, err := addImageXObject(upd, s.ImageData)
	if err != nil {
		return err
	}
	name := res.addXObject(imgRef)
	r := s.Bounds()
	fmt.Fprintf(buf, "q\n%s 0 0 %s %s %s cm\n/%s Do\nQ\n",
		num(r.Width), num(r.Height), num(r.X), num(r.Y), name)
	return nil
}

func styleOf(f annotation.TextFormat) measure.Style {
	return measure.Style{
		FontSize:   f.FontSize,
		FontFamily: f.FontFamily,
		Bold:       f.Bold,
		Italic:     f.Italic,
	}
}

// num formats a coordinate without an exponent, which PDF syntax forbids.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func rectOp(r coords.Rect) string {
	return fmt.Sprintf("%s %s %s %s", num(r.X), num(r.Y), num(r.Width), num(r.Height))
}

func escapeText(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\r':
			b.WriteString("\\r")
		case '\n':
			b.WriteString("\\n")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func downloadName(filename string) string {
	base := strings.TrimSuffix(filename, ".pdf")
	if base == "" {
		base = "document"
	}
	return base + "-annotated.pdf"
}

// resources accumulates the overlay's resource entries on top of the
// page's existing (possibly inherited) resource dictionary.
type resources struct {
	base      pdf.Dict
	fonts     pdf.Dict
	extGState pdf.Dict
	xobjects  pdf.Dict
	counter   int
}

func newResources(doc *pdf.Document, existing pdf.Dict) *resources {
	r := &resources{base: pdf.Dict{}}
	for k, v := range existing {
		r.base[k] = v
	}
	r.fonts = subDict(doc, r.base, "Font")
	r.extGState = subDict(doc, r.base, "ExtGState")
	r.xobjects = subDict(doc, r.base, "XObject")
	return r
}

// subDict resolves and copies a resource subdictionary so additions never
// mutate objects owned by the parsed document.
func subDict(doc *pdf.Document, base pdf.Dict, key pdf.Name) pdf.Dict {
	out := pdf.Dict{}
	if existing, ok := doc.Resolve(base[key]).(pdf.Dict); ok {
		for k, v := range existing {
			out[k] = v
		}
	}
	return out
}

func (r *resources) addFont(ref pdf.Ref) string {
	return r.add(r.fonts, "Fa", ref)
}

func (r *resources) addExtGState(ref pdf.Ref) string {
	return r.add(r.extGState, "GSa", ref)
}

func (r *resources) addXObject(ref pdf.Ref) string {
	return r.add(r.xobjects, "Ima", ref)
}

func (r *resources) add(d pdf.Dict, prefix string, ref pdf.Ref) string {
	for {
		r.counter++
		name := pdf.Name(prefix + strconv.Itoa(r.counter))
		if _, taken := d[name]; !taken {
			d[name] = ref
			return string(name)
		}
	}
}

func (r *resources) dict() pdf.Dict {
	out := r.base
	if len(r.fonts) > 0 {
		out["Font"] = r.fonts
	}
	if len(r.extGState) > 0 {
		out["ExtGState"] = r.extGState
	}
	if len(r.xobjects) > 0 {
		out["XObject"] = r.xobjects
	}
	return out
}
