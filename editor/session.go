// Package editor wires the loader, renderer, annotation store, and save
// pipeline into one interactive editing session. A session owns its
// document and annotation list exclusively; nothing is shared across
// sessions.
package editor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/flatten"
	"github.com/tablekit/pdfedit/loader"
	"github.com/tablekit/pdfedit/measure"
	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/render"
)

// ErrNoDocument is returned by operations that need an open document.
var ErrNoDocument = errors.New("editor: no document open")

// Session is one editing instance over one document.
type Session struct {
	log      observability.Logger
	measurer *measure.Measurer

	mu       sync.Mutex
	loader   *loader.Loader
	renderer *render.Renderer
	store    *annotation.Store
	pipeline *flatten.Pipeline
	tool     Tool
	zoom     float64
	rotation int
	filename string

	drag dragState
}

// dragState coalesces a pointer drag into a single history entry.
type dragState struct {
	id       string
	active   bool
	offsetX  float64
	offsetY  float64
	anchorX  float64
	anchorY  float64
	anchored bool
	page     int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; the default is a no-op.
func WithLogger(log observability.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMeasurer overrides the text measurer. The default shapes text with
// the embedded faces.
func WithMeasurer(m *measure.Measurer) Option {
	return func(s *Session) { s.measurer = m }
}

// WithLoader overrides the document loader, mainly to inject an HTTP
// client in tests.
func WithLoader(l *loader.Loader) Option {
	return func(s *Session) { s.loader = l }
}

// NewSession returns a session with no document open.
func NewSession(opts ...Option) *Session {
	s := &Session{
		log:  observability.NopLogger{},
		tool: ToolSelect,
		zoom: 1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.measurer == nil {
		s.measurer = measure.New()
	}
	if s.loader == nil {
		s.loader = loader.New(loader.WithLogger(s.log))
	}
	s.store = annotation.NewStore(s.measurer)
	s.pipeline = flatten.New(flatten.WithMeasurer(s.measurer), flatten.WithLogger(s.log))
	return s
}

// Open fetches and parses the document at the signed URL, replacing any
// document already open. The annotation list is reset.
func (s *Session) Open(ctx context.Context, docURL string) error {
	res, err := s.loader.Load(ctx, docURL)
	if err != nil {
		return err
	}
	s.install(res, filenameFromURL(docURL))
	return nil
}

// OpenBytes opens an already-fetched document.
func (s *Session) OpenBytes(ctx context.Context, data []byte, filename string) error {
	res, err := s.loader.LoadBytes(ctx, data)
	if err != nil {
		return err
	}
	s.install(res, filename)
	return nil
}

func (s *Session) install(res *loader.Result, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderer != nil {
		s.renderer.CancelAll()
	}
	s.renderer = render.New(res.Document, render.WithLogger(s.log))
	s.store = annotation.NewStore(s.measurer)
	s.filename = filename
	s.drag = dragState{}
	s.log.Info("document opened",
		observability.String("filename", filename),
		observability.Int(observability.MetricPageCount, res.PageCount))
}

// Close cancels outstanding work and releases the parsed document. The
// annotation list is discarded; there is no cross-session persistence.
func (s *Session) Close() {
	s.mu.Lock()
	if s.renderer != nil {
		s.renderer.CancelAll()
		s.renderer = nil
	}
	s.store = annotation.NewStore(s.measurer)
	s.mu.Unlock()
	s.loader.Reset()
}

// PageCount returns the open document's page count, or 0.
func (s *Session) PageCount() int { return s.loader.PageCount() }

// SetTool selects the interaction mode for subsequent pointer events.
func (s *Session) SetTool(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tool = t
}

// Tool returns the active interaction mode.
func (s *Session) Tool() Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// SetView updates zoom and rotation for subsequent renders. Zoom must be
// positive; rotation snaps to 90-degree steps.
func (s *Session) SetView(zoom float64, rotation int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if zoom > 0 {
		s.zoom = zoom
	}
	s.rotation = rotation
}

// Zoom returns the current zoom factor.
func (s *Session) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// Rotation returns the current view rotation in degrees.
func (s *Session) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// RenderPage renders one page at the session's view settings.
func (s *Session) RenderPage(ctx context.Context, page int) (*render.Result, error) {
	s.mu.Lock()
	r := s.renderer
	zoom, rot := s.zoom, s.rotation
	s.mu.Unlock()
	if r == nil {
		return nil, ErrNoDocument
	}
	return r.Render(ctx, render.Params{Page: page, Zoom: zoom, Rotation: rot})
}

// RenderPageAt renders one page at explicit view parameters, leaving the
// session's view state untouched.
func (s *Session) RenderPageAt(ctx context.Context, page int, zoom float64, rotation int) (*render.Result, error) {
	s.mu.Lock()
	r := s.renderer
	s.mu.Unlock()
	if r == nil {
		return nil, ErrNoDocument
	}
	return r.Render(ctx, render.Params{Page: page, Zoom: zoom, Rotation: rotation})
}

// Prefetch warms the neighbours of page at the current view settings.
func (s *Session) Prefetch(ctx context.Context, page int) error {
	s.mu.Lock()
	r := s.renderer
	zoom, rot := s.zoom, s.rotation
	s.mu.Unlock()
	if r == nil {
		return ErrNoDocument
	}
	return r.Prefetch(ctx, page, zoom, rot)
}

// pageHeight reads the unrotated page height needed for screen/PDF
// conversion.
func (s *Session) pageHeight(page int) (float64, error) {
	doc := s.loader.Document()
	if doc == nil {
		return 0, ErrNoDocument
	}
	pg, err := doc.Page(page)
	if err != nil {
		return 0, err
	}
	_, h := pg.Size()
	return h, nil
}

// toPdf translates a screen point at the session's zoom into PDF space.
func (s *Session) toPdf(page int, x, y float64) (coords.Point, error) {
	h, err := s.pageHeight(page)
	if err != nil {
		return coords.Point{}, err
	}
	s.mu.Lock()
	zoom := s.zoom
	s.mu.Unlock()
	px, py := coords.ScreenToPdf(x, y, h, zoom)
	return coords.Point{X: px, Y: py}, nil
}

// Save flattens the current annotations over the original bytes.
func (s *Session) Save() (*flatten.Output, error) {
	doc := s.loader.Document()
	if doc == nil {
		return nil, ErrNoDocument
	}
	s.mu.Lock()
	anns := s.store.All()
	filename := s.filename
	s.mu.Unlock()
	out, err := s.pipeline.Flatten(doc, anns, filename)
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return out, nil
}

// The store itself is not safe for concurrent use; every access goes
// through the session mutex, including the read-only delegates below.

// Annotation returns a copy of one annotation, or nil.
func (s *Session) Annotation(id string) annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ByID(id)
}

// Annotations returns a copy of the full annotation list.
func (s *Session) Annotations() []annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All()
}

// AnnotationsOnPage returns copies of the annotations on one page.
func (s *Session) AnnotationsOnPage(page int) []annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ByPage(page)
}

// RemoveAnnotation deletes one annotation.
func (s *Session) RemoveAnnotation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Remove(id)
}

// ClearAnnotations removes every annotation in one history step.
func (s *Session) ClearAnnotations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
}

// Selected returns the selected annotation's identifier, or "".
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Selected()
}

// HasChanges reports whether any annotations exist.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.HasChanges()
}

// CanUndo reports whether an undo step is available.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CanUndo()
}

// CanRedo reports whether a redo step is available.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CanRedo()
}

// AnnotationCount returns the live annotation count for status display.
func (s *Session) AnnotationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Undo rolls back the most recent annotation mutation.
func (s *Session) Undo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Undo()
}

// Redo reapplies the most recently undone mutation.
func (s *Session) Redo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Redo()
}

// SignatureFields returns the field markers for the external signing
// workflow.
func (s *Session) SignatureFields() []*annotation.SignatureField {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SignatureFields()
}

func filenameFromURL(docURL string) string {
	u, err := url.Parse(docURL)
	if err != nil {
		return "document.pdf"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	return name
}
