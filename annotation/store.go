package annotation

import (
	"math"

	"github.com/google/uuid"

	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/measure"
)

const (
	// historyLimit bounds the undo stack; the oldest snapshot is discarded
	// beyond this.
	historyLimit = 50
	// matchTolerance is the positional slack, in PDF units, when matching a
	// TextEdit to its source run.
	matchTolerance = 5.0

	defaultSignatureWidth  = 150.0
	defaultSignatureHeight = 75.0
	defaultFieldWidth      = 180.0
	defaultFieldHeight     = 40.0
)

// Store owns the annotation list for one editing session. All operations
// are total: bad identifiers and empty stacks are no-ops, never errors.
// Store is not safe for concurrent use; the editor session serializes
// access.
type Store struct {
	measurer    *measure.Measurer
	annotations []Annotation
	selected    string
	undo        [][]Annotation
	redo        [][]Annotation
}

// NewStore returns an empty store. A nil measurer falls back to heuristic
// text sizing.
func NewStore(m *measure.Measurer) *Store {
	if m == nil {
		m = measure.NewHeuristic()
	}
	return &Store{measurer: m}
}

// snapshot deep-copies the current annotation list.
func (s *Store) snapshot() []Annotation {
	out := make([]Annotation, len(s.annotations))
	for i, a := range s.annotations {
		out[i] = a.Clone()
	}
	return out
}

// checkpoint pushes the current list onto the undo stack and invalidates
// the redo stack. Called before every mutating operation except Move.
func (s *Store) checkpoint() {
	s.undo = append(s.undo, s.snapshot())
	if len(s.undo) > historyLimit {
		s.undo = s.undo[1:]
	}
	s.redo = nil
}

// BeginMove records one checkpoint for a drag so that the per-frame Move
// calls coalesce into a single history entry.
func (s *Store) BeginMove(id string) {
	if s.byID(id) == nil {
		return
	}
	s.checkpoint()
}

// AddHighlight adds a filled rectangle. A nil color defaults to
// translucent yellow.
func (s *Store) AddHighlight(page int, rect coords.Rect, color *Color) string {
	c := Color{R: 1, G: 1, B: 0, A: 0.3}
	if color != nil {
		c = *color
	}
	s.checkpoint()
	h := &Highlight{meta: meta{id: uuid.NewString(), page: page, rect: rect}, Color: c}
	s.annotations = append(s.annotations, h)
	return h.id
}

// AddTextBox adds free text at position (the box's top-left corner in PDF
// space), sized by the measurer.
func (s *Store) AddTextBox(page int, position coords.Point, content string, format TextFormat) string {
	if format.FontSize <= 0 {
		format = DefaultFormat()
	}
	size := s.measurer.Measure(content, styleOf(format))
	s.checkpoint()
	t := &TextBox{
		meta: meta{
			id:   uuid.NewString(),
			page: page,
			rect: coords.Rect{X: position.X, Y: position.Y - size.Height, Width: size.Width, Height: size.Height},
		},
		Content: content,
		Format:  format.clone(),
	}
	s.annotations = append(s.annotations, t)
	return t.id
}

// AddTextEdit adds a replacement for an extracted text run. If an edit for
// the same source run already exists within tolerance, it is updated in
// place rather than duplicated, preserving its identifier.
func (s *Store) AddTextEdit(page int, originalX, originalY, width, height float64, originalText, newContent string, fontSize float64, format TextFormat) string {
	if format.FontSize <= 0 {
		format = DefaultFormat()
	}
	if fontSize > 0 {
		format.FontSize = fontSize
	}
	if existing := s.findTextEdit(page, originalText, originalX, originalY); existing != nil {
		s.checkpoint()
		existing.Content = newContent
		existing.Format = format.clone()
		return existing.id
	}
	s.checkpoint()
	t := &TextEdit{
		meta: meta{
			id:   uuid.NewString(),
			page: page,
			rect: coords.Rect{X: originalX, Y: originalY, Width: width, Height: height},
		},
		Content:      newContent,
		Format:       format.clone(),
		OriginalText: originalText,
		OriginalX:    originalX,
		OriginalY:    originalY,
	}
	s.annotations = append(s.annotations, t)
	return t.id
}

// AddSignature places a base64-encoded PNG at position. Non-positive
// dimensions fall back to the default signature size.
func (s *Store) AddSignature(page int, position coords.Point, imageData string, width, height float64) string {
	if width <= 0 {
		width = defaultSignatureWidth
	}
	if height <= 0 {
		height = defaultSignatureHeight
	}
	s.checkpoint()
	a := &Signature{
		meta: meta{
			id:   uuid.NewString(),
			page: page,
			rect: coords.Rect{X: position.X, Y: position.Y - height, Width: width, Height: height},
		},
		ImageData: imageData,
	}
	s.annotations = append(s.annotations, a)
	return a.id
}

// AddSignatureField places a workflow marker. It is never rendered into
// the saved document.
func (s *Store) AddSignatureField(page int, position coords.Point, fieldType FieldType, label string, required bool) string {
	if fieldType == "" {
		fieldType = FieldSignature
	}
	s.checkpoint()
	a := &SignatureField{
		meta: meta{
			id:   uuid.NewString(),
			page: page,
			rect: coords.Rect{X: position.X, Y: position.Y - defaultFieldHeight, Width: defaultFieldWidth, Height: defaultFieldHeight},
		},
		FieldType: fieldType,
		Label:     label,
		Required:  required,
	}
	s.annotations = append(s.annotations, a)
	return a.id
}

// Patch is a partial update; nil fields are left untouched. BackgroundSet
// distinguishes "set background to nil (transparent)" from "no change".
type Patch struct {
	Rect          *coords.Rect
	Content       *string
	FontSize      *float64
	FontFamily    *string
	Bold          *bool
	Italic        *bool
	Underline     *bool
	Color         *Color
	Background    *Color
	BackgroundSet bool
	ImageData     *string
	Label         *string
	Required      *bool
	FieldType     *FieldType
	Assignee      *string
}

func (p Patch) touchesText() bool {
	return p.Content != nil || p.FontSize != nil || p.FontFamily != nil ||
		p.Bold != nil || p.Italic != nil
}

// Update applies a shallow merge to the annotation with the given
// identifier as one atomic step. Text-affecting changes re-measure the
// bounding box. Unknown identifiers are ignored.
func (s *Store) Update(id string, patch Patch) bool {
	a := s.byID(id)
	if a == nil {
		return false
	}
	s.checkpoint()
	if patch.Rect != nil {
		a.base().rect = *patch.Rect
	}
	switch v := a.(type) {
	case *Highlight:
		if patch.Color != nil {
			v.Color = *patch.Color
		}
	case *TextBox:
		applyTextPatch(&v.Content, &v.Format, patch)
		if patch.touchesText() {
			s.remeasure(&v.meta, v.Content, v.Format)
		}
	case *TextEdit:
		applyTextPatch(&v.Content, &v.Format, patch)
		if patch.touchesText() {
			s.remeasure(&v.meta, v.Content, v.Format)
		}
	case *Signature:
		if patch.ImageData != nil {
			v.ImageData = *patch.ImageData
		}
	case *SignatureField:
		if patch.Label != nil {
			v.Label = *patch.Label
		}
		if patch.Required != nil {
			v.Required = *patch.Required
		}
		if patch.FieldType != nil {
			v.FieldType = *patch.FieldType
		}
		if patch.Assignee != nil {
			v.Assignee = *patch.Assignee
		}
	}
	return true
}

func applyTextPatch(content *string, format *TextFormat, patch Patch) {
	if patch.Content != nil {
		*content = *patch.Content
	}
	if patch.FontSize != nil {
		format.FontSize = *patch.FontSize
	}
	if patch.FontFamily != nil {
		format.FontFamily = *patch.FontFamily
	}
	if patch.Bold != nil {
		format.Bold = *patch.Bold
	}
	if patch.Italic != nil {
		format.Italic = *patch.Italic
	}
	if patch.Underline != nil {
		format.Underline = *patch.Underline
	}
	if patch.Color != nil {
		format.Color = *patch.Color
	}
	if patch.BackgroundSet {
		if patch.Background != nil {
			bg := *patch.Background
			format.Background = &bg
		} else {
			format.Background = nil
		}
	}
}

// remeasure keeps the box anchored at its top edge while the measured size
// changes underneath.
func (s *Store) remeasure(m *meta, content string, format TextFormat) {
	top := m.rect.Y + m.rect.Height
	size := s.measurer.Measure(content, styleOf(format))
	m.rect = coords.Rect{X: m.rect.X, Y: top - size.Height, Width: size.Width, Height: size.Height}
}

func styleOf(f TextFormat) measure.Style {
	return measure.Style{
		FontSize:   f.FontSize,
		FontFamily: f.FontFamily,
		Bold:       f.Bold,
		Italic:     f.Italic,
	}
}

// Move is a geometry-only mutation with no history push; drags coalesce
// through BeginMove.
func (s *Store) Move(id string, x, y float64) bool {
	a := s.byID(id)
	if a == nil {
		return false
	}
	b := a.base()
	b.rect.X = x
	b.rect.Y = y
	return true
}

// Remove deletes one annotation.
func (s *Store) Remove(id string) bool {
	for i, a := range s.annotations {
		if a.ID() == id {
			s.checkpoint()
			s.annotations = append(s.annotations[:i], s.annotations[i+1:]...)
			if s.selected == id {
				s.selected = ""
			}
			return true
		}
	}
	return false
}

// RemoveSelected deletes the current selection, if any.
func (s *Store) RemoveSelected() bool {
	if s.selected == "" {
		return false
	}
	return s.Remove(s.selected)
}

// Clear removes every annotation in one history step.
func (s *Store) Clear() {
	if len(s.annotations) == 0 {
		return
	}
	s.checkpoint()
	s.annotations = nil
	s.selected = ""
}

// Select marks an annotation as selected; an empty id clears selection.
func (s *Store) Select(id string) {
	if id == "" || s.byID(id) != nil {
		s.selected = id
	}
}

// Selected returns the selected annotation's identifier, or "".
func (s *Store) Selected() string { return s.selected }

func (s *Store) byID(id string) Annotation {
	for _, a := range s.annotations {
		if a.ID() == id {
			return a
		}
	}
	return nil
}

// ByID returns a copy of the annotation with the given identifier.
func (s *Store) ByID(id string) Annotation {
	a := s.byID(id)
	if a == nil {
		return nil
	}
	return a.Clone()
}

// ByPage returns copies of the annotations on a page, in insertion order.
func (s *Store) ByPage(page int) []Annotation {
	var out []Annotation
	for _, a := range s.annotations {
		if a.PageIndex() == page {
			out = append(out, a.Clone())
		}
	}
	return out
}

// All returns a copy of the full annotation list.
func (s *Store) All() []Annotation { return s.snapshot() }

func (s *Store) findTextEdit(page int, originalText string, x, y float64) *TextEdit {
	for _, a := range s.annotations {
		t, ok := a.(*TextEdit)
		if !ok || t.page != page || t.OriginalText != originalText {
			continue
		}
		if math.Abs(t.OriginalX-x) <= matchTolerance && math.Abs(t.OriginalY-y) <= matchTolerance {
			return t
		}
	}
	return nil
}

// FindTextEdit locates the edit for a source run within tolerance and
// returns a copy, or nil.
func (s *Store) FindTextEdit(page int, originalText string, x, y float64) *TextEdit {
	t := s.findTextEdit(page, originalText, x, y)
	if t == nil {
		return nil
	}
	return t.Clone().(*TextEdit)
}

// SignatureFields returns copies of all field markers for the external
// signing workflow.
func (s *Store) SignatureFields() []*SignatureField {
	var out []*SignatureField
	for _, a := range s.annotations {
		if f, ok := a.(*SignatureField); ok {
			out = append(out, f.Clone().(*SignatureField))
		}
	}
	return out
}

// Undo restores the previous snapshot. A no-op on an empty stack.
func (s *Store) Undo() {
	if len(s.undo) == 0 {
		return
	}
	s.redo = append(s.redo, s.snapshot())
	s.annotations = s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.selected = ""
}

// Redo reverses the most recent Undo. A no-op on an empty stack.
func (s *Store) Redo() {
	if len(s.redo) == 0 {
		return
	}
	s.undo = append(s.undo, s.snapshot())
	s.annotations = s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.selected = ""
}

// CanUndo reports whether Undo would change state.
func (s *Store) CanUndo() bool { return len(s.undo) > 0 }

// CanRedo reports whether Redo would change state.
func (s *Store) CanRedo() bool { return len(s.redo) > 0 }

// HasChanges reports whether any annotations are present.
func (s *Store) HasChanges() bool { return len(s.annotations) > 0 }

// Len returns the number of annotations.
func (s *Store) Len() int { return len(s.annotations) }
