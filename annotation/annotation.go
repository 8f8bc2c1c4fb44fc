// Package annotation holds the editor's data model: a tagged union of
// page-scoped overlay objects with PDF-space geometry, and a Store that
// mutates them under a bounded undo/redo history.
package annotation

import "github.com/tablekit/pdfedit/coords"

// Type discriminates the annotation variants.
type Type string

const (
	TypeHighlight      Type = "highlight"
	TypeTextBox        Type = "textbox"
	TypeTextEdit       Type = "textedit"
	TypeSignature      Type = "signature"
	TypeSignatureField Type = "signature-field"
)

// Color is an RGBA color with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// FieldType classifies signature field placeholders.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldInitials  FieldType = "initials"
	FieldDate      FieldType = "date"
	FieldText      FieldType = "text"
)

// TextFormat carries the formatting shared by text boxes and text edits.
// A nil Background means transparent.
type TextFormat struct {
	FontSize   float64
	FontFamily string
	Bold       bool
	Italic     bool
	Underline  bool
	Color      Color
	Background *Color
}

// DefaultFormat is the formatting applied when a caller passes the zero
// value.
func DefaultFormat() TextFormat {
	return TextFormat{
		FontSize:   14,
		FontFamily: "Helvetica",
		Color:      Color{A: 1},
	}
}

func (f TextFormat) clone() TextFormat {
	if f.Background != nil {
		bg := *f.Background
		f.Background = &bg
	}
	return f
}

// Annotation is the tagged union over variants. Every annotation has a
// stable unique identifier, a zero-based page index, and a PDF-space
// bounding rectangle. Mutation preserves identifier and type.
type Annotation interface {
	ID() string
	Type() Type
	PageIndex() int
	Bounds() coords.Rect
	// Clone returns a deep copy, used for history snapshots and query
	// results.
	Clone() Annotation

	base() *meta
}

// meta is the shared part of every variant.
type meta struct {
	id   string
	page int
	rect coords.Rect
}

func (m *meta) ID() string          { return m.id }
func (m *meta) PageIndex() int      { return m.page }
func (m *meta) Bounds() coords.Rect { return m.rect }
func (m *meta) base() *meta         { return m }

// Highlight is a filled, alpha-blended rectangle.
type Highlight struct {
	meta
	Color Color
}

func (h *Highlight) Type() Type { return TypeHighlight }

func (h *Highlight) Clone() Annotation {
	c := *h
	return &c
}

// TextBox is free text placed at a rectangle.
type TextBox struct {
	meta
	Content string
	Format  TextFormat
}

func (t *TextBox) Type() Type { return TypeTextBox }

func (t *TextBox) Clone() Annotation {
	c := *t
	c.Format = t.Format.clone()
	return &c
}

// TextEdit replaces a text run extracted from the page. At save time the
// original glyphs are covered with an opaque rectangle before the
// replacement is drawn, which is why it is distinct from TextBox.
type TextEdit struct {
	meta
	Content      string
	Format       TextFormat
	OriginalText string
	OriginalX    float64
	OriginalY    float64
}

func (t *TextEdit) Type() Type { return TypeTextEdit }

func (t *TextEdit) Clone() Annotation {
	c := *t
	c.Format = t.Format.clone()
	return &c
}

// Signature is an embedded raster image, stored as base64-encoded PNG.
type Signature struct {
	meta
	ImageData string
}

func (s *Signature) Type() Type { return TypeSignature }

func (s *Signature) Clone() Annotation {
	c := *s
	return &c
}

// SignatureField is a placeholder marker consumed by the external
// signature-request workflow; it is never burned into the saved document.
type SignatureField struct {
	meta
	FieldType FieldType
	Label     string
	Required  bool
	Assignee  string
}

func (s *SignatureField) Type() Type { return TypeSignatureField }

func (s *SignatureField) Clone() Annotation {
	c := *s
	return &c
}
