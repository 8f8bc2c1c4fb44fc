package editor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/measure"
	"github.com/tablekit/pdfedit/pdf/pdftest"
)

func openSession(t *testing.T, pages int) (*Session, []byte) {
	t.Helper()
	doc := pdftest.Minimal(pages)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(doc)
	}))
	t.Cleanup(srv.Close)

	s := NewSession(WithMeasurer(measure.NewHeuristic()))
	if err := s.Open(context.Background(), srv.URL+"/files/report.pdf"); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s, doc
}

func TestOpenSession(t *testing.T) {
	s, _ := openSession(t, 3)
	if s.PageCount() != 3 {
		t.Fatalf("page count: %d", s.PageCount())
	}
	if s.Tool() != ToolSelect {
		t.Fatalf("default tool: %v", s.Tool())
	}
	if s.HasChanges() || s.CanUndo() || s.CanRedo() || s.AnnotationCount() != 0 {
		t.Fatal("fresh session must be pristine")
	}
}

func TestHighlightDragCreatesAnnotation(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolHighlight)

	s.PointerDown(Pointer{Page: 0, X: 100, Y: 100})
	s.PointerUp(Pointer{Page: 0, X: 200, Y: 150})

	anns := s.AnnotationsOnPage(0)
	if len(anns) != 1 {
		t.Fatalf("annotations: %d", len(anns))
	}
	// Screen (100,100)-(200,150) at zoom 1 on a 792-high page.
	want := coords.Rect{X: 100, Y: 642, Width: 100, Height: 50}
	if got := anns[0].Bounds(); got != want {
		t.Fatalf("rect: %+v want %+v", got, want)
	}
}

func TestHighlightClickWithoutAreaIsIgnored(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolHighlight)

	s.PointerDown(Pointer{Page: 0, X: 100, Y: 100})
	s.PointerUp(Pointer{Page: 0, X: 100, Y: 100})
	if s.AnnotationCount() != 0 {
		t.Fatal("zero-area drag must not create a highlight")
	}
}

func TestSelectDragCoalescesHistory(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolHighlight)
	s.PointerDown(Pointer{Page: 0, X: 100, Y: 100})
	s.PointerUp(Pointer{Page: 0, X: 200, Y: 150})
	id := s.AnnotationsOnPage(0)[0].ID()

	s.SetTool(ToolSelect)
	s.PointerDown(Pointer{Page: 0, X: 150, Y: 120})
	if s.Selected() != id {
		t.Fatal("hit-test must select the highlight")
	}
	for i := 1; i <= 10; i++ {
		s.PointerMove(Pointer{Page: 0, X: 150 + float64(i), Y: 120 + float64(i)})
	}
	s.PointerUp(Pointer{Page: 0, X: 160, Y: 130})

	moved := s.Annotation(id).Bounds()
	if moved.X != 110 || moved.Y != 632 {
		t.Fatalf("dragged rect: %+v", moved)
	}

	// The whole drag is one history entry.
	s.Undo()
	if got := s.Annotation(id).Bounds(); got.X != 100 || got.Y != 642 {
		t.Fatalf("undo of drag: %+v", got)
	}
	s.Undo()
	if s.AnnotationCount() != 0 {
		t.Fatal("second undo must remove the highlight")
	}
}

func TestSelectMissClearsSelection(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolHighlight)
	s.PointerDown(Pointer{Page: 0, X: 100, Y: 100})
	s.PointerUp(Pointer{Page: 0, X: 200, Y: 150})
	id := s.AnnotationsOnPage(0)[0].ID()

	s.SetTool(ToolSelect)
	s.PointerDown(Pointer{Page: 0, X: 150, Y: 120})
	if s.Selected() != id {
		t.Fatal("expected selection")
	}
	s.PointerUp(Pointer{Page: 0, X: 150, Y: 120})
	s.PointerDown(Pointer{Page: 0, X: 400, Y: 400})
	if s.Selected() != "" {
		t.Fatal("miss must clear selection")
	}
}

func TestAddTextBoxTranslatesScreenPoint(t *testing.T) {
	s, _ := openSession(t, 1)
	id, err := s.AddTextBox(0, 50, 92, "note", annotation.TextFormat{FontSize: 10})
	if err != nil {
		t.Fatalf("add text box: %v", err)
	}
	b := s.Annotation(id).Bounds()
	// Screen y 92 on a 792-high page puts the box top at PDF y 700.
	if top := b.Y + b.Height; b.X != 50 || top != 700 {
		t.Fatalf("bounds: %+v", b)
	}
}

func TestFieldTypeFor(t *testing.T) {
	cases := map[Tool]annotation.FieldType{
		ToolSignatureField: annotation.FieldSignature,
		ToolInitialsField:  annotation.FieldInitials,
		ToolDateField:      annotation.FieldDate,
	}
	for tool, want := range cases {
		got, ok := FieldTypeFor(tool)
		if !ok || got != want {
			t.Errorf("FieldTypeFor(%v) = %v, %v", tool, got, ok)
		}
	}
	if _, ok := FieldTypeFor(ToolSelect); ok {
		t.Error("select is not a field tool")
	}
}

func TestAddFieldUsesActiveTool(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolDateField)
	if _, err := s.AddField(0, 100, 700, "", "Date signed", true); err != nil {
		t.Fatalf("add field: %v", err)
	}
	fields := s.SignatureFields()
	if len(fields) != 1 || fields[0].FieldType != annotation.FieldDate {
		t.Fatalf("fields: %+v", fields)
	}
	if !fields[0].Required || fields[0].Label != "Date signed" {
		t.Fatalf("field attrs: %+v", fields[0])
	}
}

func TestSaveProducesAnnotatedDownload(t *testing.T) {
	s, original := openSession(t, 1)
	s.SetTool(ToolHighlight)
	s.PointerDown(Pointer{Page: 0, X: 10, Y: 10})
	s.PointerUp(Pointer{Page: 0, X: 60, Y: 30})

	out, err := s.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes, original) {
		t.Fatal("saved document must keep the original bytes as a prefix")
	}
	if out.Filename != "report-annotated.pdf" {
		t.Fatalf("filename: %q", out.Filename)
	}
}

func TestRenderPageThroughSession(t *testing.T) {
	s, _ := openSession(t, 2)
	s.SetView(2, 0)

	res, err := s.RenderPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.ViewportWidth != 1224 {
		t.Fatalf("viewport at zoom 2: %v", res.ViewportWidth)
	}
	if err := s.Prefetch(context.Background(), 0); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
}

func TestCloseReleasesDocument(t *testing.T) {
	s, _ := openSession(t, 1)
	s.SetTool(ToolHighlight)
	s.PointerDown(Pointer{Page: 0, X: 10, Y: 10})
	s.PointerUp(Pointer{Page: 0, X: 60, Y: 30})
	s.Close()

	if s.HasChanges() {
		t.Fatal("annotations must be discarded on close")
	}
	if _, err := s.RenderPage(context.Background(), 0); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("render after close: %v", err)
	}
	if _, err := s.Save(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("save after close: %v", err)
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/files/contract.pdf?sig=abc": "contract.pdf",
		"https://cdn.example.com/files/scan":                 "scan.pdf",
		"https://cdn.example.com/":                           "document.pdf",
	}
	for in, want := range cases {
		if got := filenameFromURL(in); got != want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	s, _ := openSession(t, 1)

	var wg sync.WaitGroup
	rect := coords.Rect{X: 10, Y: 10, Width: 40, Height: 12}
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := s.AddHighlight(0, rect, nil); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			s.Undo()
		}()
		go func() {
			defer wg.Done()
			for _, a := range s.Annotations() {
				_ = a.Bounds()
			}
			s.AnnotationCount()
		}()
	}
	wg.Wait()

	// Undos and adds interleave arbitrarily; the lists just have to agree.
	if got := len(s.Annotations()); got != s.AnnotationCount() {
		t.Fatalf("list length %d, count %d", got, s.AnnotationCount())
	}
}
