package server

import (
	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
)

// annotationJSON is the flattened wire form of the annotation union.
// Fields that do not apply to a variant are omitted.
type annotationJSON struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Page int         `json:"page"`
	Rect coords.Rect `json:"rect"`

	Color *annotation.Color `json:"color,omitempty"`

	Content string      `json:"content,omitempty"`
	Format  *formatJSON `json:"format,omitempty"`

	OriginalText string  `json:"originalText,omitempty"`
	OriginalX    float64 `json:"originalX,omitempty"`
	OriginalY    float64 `json:"originalY,omitempty"`

	ImageData string `json:"imageData,omitempty"`

	FieldType string `json:"fieldType,omitempty"`
	Label     string `json:"label,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
}

type formatJSON struct {
	FontSize   float64           `json:"fontSize"`
	FontFamily string            `json:"fontFamily"`
	Bold       bool              `json:"bold,omitempty"`
	Italic     bool              `json:"italic,omitempty"`
	Underline  bool              `json:"underline,omitempty"`
	Color      annotation.Color  `json:"color"`
	Background *annotation.Color `json:"background,omitempty"`
}

// toFormat maps the wire format onto the model; a nil or zero receiver
// yields the zero TextFormat, which the store replaces with defaults.
func (f *formatJSON) toFormat() annotation.TextFormat {
	if f == nil {
		return annotation.TextFormat{}
	}
	out := annotation.TextFormat{
		FontSize:   f.FontSize,
		FontFamily: f.FontFamily,
		Bold:       f.Bold,
		Italic:     f.Italic,
		Underline:  f.Underline,
		Color:      f.Color,
	}
	if f.Background != nil {
		bg := *f.Background
		out.Background = &bg
	}
	return out
}

func fromFormat(f annotation.TextFormat) *formatJSON {
	out := &formatJSON{
		FontSize:   f.FontSize,
		FontFamily: f.FontFamily,
		Bold:       f.Bold,
		Italic:     f.Italic,
		Underline:  f.Underline,
		Color:      f.Color,
	}
	if f.Background != nil {
		bg := *f.Background
		out.Background = &bg
	}
	return out
}

func toWire(a annotation.Annotation) annotationJSON {
	out := annotationJSON{
		ID:   a.ID(),
		Type: string(a.Type()),
		Page: a.PageIndex(),
		Rect: a.Bounds(),
	}
	switch v := a.(type) {
	case *annotation.Highlight:
		c := v.Color
		out.Color = &c
	case *annotation.TextBox:
		out.Content = v.Content
		out.Format = fromFormat(v.Format)
	case *annotation.TextEdit:
		out.Content = v.Content
		out.Format = fromFormat(v.Format)
		out.OriginalText = v.OriginalText
		out.OriginalX = v.OriginalX
		out.OriginalY = v.OriginalY
	case *annotation.Signature:
		out.ImageData = v.ImageData
	case *annotation.SignatureField:
		out.FieldType = string(v.FieldType)
		out.Label = v.Label
		out.Required = v.Required
		out.Assignee = v.Assignee
	}
	return out
}
