package editor

import (
	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
)

// Tool is an interaction mode: it determines how pointer events on the
// page surface are interpreted.
type Tool string

const (
	ToolSelect         Tool = "select"
	ToolPan            Tool = "pan"
	ToolHighlight      Tool = "highlight"
	ToolAddText        Tool = "add-text"
	ToolEditText       Tool = "edit-text"
	ToolSignature      Tool = "signature"
	ToolSignatureField Tool = "signature-field"
	ToolInitialsField  Tool = "initials-field"
	ToolDateField      Tool = "date-field"
)

// FieldTypeFor maps a field-placement tool to the field it places. The
// second result is false for non-field tools.
func FieldTypeFor(t Tool) (annotation.FieldType, bool) {
	switch t {
	case ToolSignatureField:
		return annotation.FieldSignature, true
	case ToolInitialsField:
		return annotation.FieldInitials, true
	case ToolDateField:
		return annotation.FieldDate, true
	}
	return "", false
}

// Pointer is a pointer event on a page surface, in screen coordinates at
// the session's current zoom.
type Pointer struct {
	Page int
	X    float64
	Y    float64
}

// PointerDown begins an interaction. Under the select tool a hit starts a
// drag; under the highlight tool it anchors the rectangle.
func (s *Session) PointerDown(p Pointer) {
	pt, err := s.toPdf(p.Page, p.X, p.Y)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.tool {
	case ToolSelect:
		hit := s.hitTest(p.Page, pt)
		if hit == nil {
			s.store.Select("")
			return
		}
		s.store.Select(hit.ID())
		s.store.BeginMove(hit.ID())
		b := hit.Bounds()
		s.drag = dragState{
			id:      hit.ID(),
			active:  true,
			offsetX: pt.X - b.X,
			offsetY: pt.Y - b.Y,
			page:    p.Page,
		}
	case ToolHighlight:
		s.drag = dragState{anchorX: pt.X, anchorY: pt.Y, anchored: true, page: p.Page}
	}
}

// PointerMove continues a drag. Moves do not push history; the checkpoint
// was taken when the drag started.
func (s *Session) PointerMove(p Pointer) {
	pt, err := s.toPdf(p.Page, p.X, p.Y)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag.active && s.drag.page == p.Page {
		s.store.Move(s.drag.id, pt.X-s.drag.offsetX, pt.Y-s.drag.offsetY)
	}
}

// PointerUp finishes the interaction. Under the highlight tool it commits
// the dragged rectangle when it has any area.
func (s *Session) PointerUp(p Pointer) {
	pt, err := s.toPdf(p.Page, p.X, p.Y)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.drag.active:
		s.drag = dragState{}
	case s.tool == ToolHighlight && s.drag.anchored && s.drag.page == p.Page:
		r := rectBetween(coords.Point{X: s.drag.anchorX, Y: s.drag.anchorY}, pt)
		s.drag = dragState{}
		if r.Width > 0 && r.Height > 0 {
			s.store.AddHighlight(p.Page, r, nil)
		}
	default:
		s.drag = dragState{}
	}
}

// hitTest returns the topmost annotation under a PDF-space point, newest
// first so recently added annotations win.
func (s *Session) hitTest(page int, pt coords.Point) annotation.Annotation {
	anns := s.store.ByPage(page)
	for i := len(anns) - 1; i >= 0; i-- {
		if anns[i].Bounds().Contains(pt) {
			return anns[i]
		}
	}
	return nil
}

func rectBetween(a, b coords.Point) coords.Rect {
	x0, x1 := a.X, b.X
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	y0, y1 := a.Y, b.Y
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return coords.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// AddHighlight places a highlight from a screen-space rectangle.
func (s *Session) AddHighlight(page int, screenRect coords.Rect, color *annotation.Color) (string, error) {
	h, err := s.pageHeight(page)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddHighlight(page, coords.RectScreenToPdf(screenRect, h, s.zoom), color), nil
}

// AddTextBox places free text with its top-left corner at a screen point.
func (s *Session) AddTextBox(page int, x, y float64, content string, format annotation.TextFormat) (string, error) {
	pt, err := s.toPdf(page, x, y)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddTextBox(page, pt, content, format), nil
}

// EditTextRun records a replacement for an extracted text run. The run's
// transform matrix carries its PDF-space origin, so no screen conversion
// is involved.
func (s *Session) EditTextRun(page int, originX, originY, width, height float64, originalText, newContent string, fontSize float64, format annotation.TextFormat) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddTextEdit(page, originX, originY, width, height, originalText, newContent, fontSize, format)
}

// AddSignature places a drawn signature image at a screen point.
func (s *Session) AddSignature(page int, x, y float64, imageData string, width, height float64) (string, error) {
	pt, err := s.toPdf(page, x, y)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.AddSignature(page, pt, imageData, width, height), nil
}

// UpdateAnnotation applies a partial update. A screen-space rectangle, when
// given, is translated into PDF space before the merge.
func (s *Session) UpdateAnnotation(id string, patch annotation.Patch, screenRect *coords.Rect) (bool, error) {
	if screenRect != nil {
		s.mu.Lock()
		a := s.store.ByID(id)
		zoom := s.zoom
		s.mu.Unlock()
		if a == nil {
			return false, nil
		}
		h, err := s.pageHeight(a.PageIndex())
		if err != nil {
			return false, err
		}
		r := coords.RectScreenToPdf(*screenRect, h, zoom)
		patch.Rect = &r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(id, patch), nil
}

// AddField places a signature-workflow field of the kind the active tool
// selects, or of fieldType when the caller names one explicitly.
func (s *Session) AddField(page int, x, y float64, fieldType annotation.FieldType, label string, required bool) (string, error) {
	pt, err := s.toPdf(page, x, y)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fieldType == "" {
		if ft, ok := FieldTypeFor(s.tool); ok {
			fieldType = ft
		}
	}
	return s.store.AddSignatureField(page, pt, fieldType, label, required), nil
}
