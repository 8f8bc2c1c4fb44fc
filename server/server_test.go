package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/pdf/pdftest"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	raw := pdftest.Minimal(2)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(files.Close)

	srv := New(Config{MaxUploadBytes: 50 << 20}, observability.NopLogger{})
	t.Cleanup(srv.Close)
	return srv, files, files.URL + "/docs/report.pdf"
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler, docURL string) sessionResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{URL: docURL})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp
}

func TestAnnotateUndoSaveFlow(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()

	sess := createSession(t, router, docURL)
	assert.Equal(t, 2, sess.PageCount)
	assert.False(t, sess.HasChanges)

	base := "/api/v1/sessions/" + sess.ID

	// Highlight a region of page 0, given in screen coordinates.
	rec := doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
		"type": "highlight",
		"page": 0,
		"rect": map[string]float64{"x": 100, "y": 100, "width": 120, "height": 16},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created annotationJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "highlight", created.Type)
	assert.NotEmpty(t, created.ID)
	// Screen y 100 at zoom 1 on a 792pt page puts the rect's top at 692.
	assert.InDelta(t, 100.0, created.Rect.X, 1e-9)
	assert.InDelta(t, 676.0, created.Rect.Y, 1e-9)

	rec = doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
		"type":    "textbox",
		"page":    0,
		"x":       72,
		"y":       300,
		"content": "Approved",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	status := doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status.Code)
	var st sessionResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
	assert.Equal(t, 2, st.AnnotationCount)
	assert.True(t, st.CanUndo)

	// Undo removes the text box but keeps the highlight.
	rec = doJSON(t, router, http.MethodPost, base+"/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.AnnotationCount)
	assert.True(t, st.CanRedo)

	list := doJSON(t, router, http.MethodGet, base+"/annotations", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var anns []annotationJSON
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &anns))
	require.Len(t, anns, 1)
	assert.Equal(t, created.ID, anns[0].ID)

	save := doJSON(t, router, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, save.Code)
	assert.Equal(t, "application/pdf", save.Header().Get("Content-Type"))
	assert.Contains(t, save.Header().Get("Content-Disposition"), "report-annotated.pdf")
	out := save.Body.Bytes()
	assert.True(t, bytes.HasPrefix(out, pdftest.Minimal(2)))
	assert.Contains(t, string(out[len(pdftest.Minimal(2)):]), "re")
}

func TestUploadRawDocument(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions?filename=scan.pdf",
		bytes.NewReader(pdftest.Minimal(1)))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.PageCount)

	save := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+resp.ID+"/save", nil)
	require.Equal(t, http.StatusOK, save.Code)
	assert.Contains(t, save.Header().Get("Content-Disposition"), "scan-annotated.pdf")
}

func TestUploadTooLarge(t *testing.T) {
	srv := New(Config{MaxUploadBytes: 16}, observability.NopLogger{})
	t.Cleanup(srv.Close)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		bytes.NewReader(pdftest.Minimal(1)))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodPost, "/api/v1/sessions/nope/undo"},
		{http.MethodPost, "/api/v1/sessions/nope/save"},
	} {
		rec := doJSON(t, router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
	}
}

func TestUpdateAndRemoveAnnotation(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)
	base := "/api/v1/sessions/" + sess.ID

	rec := doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
		"type": "highlight", "page": 0,
		"rect": map[string]float64{"x": 10, "y": 10, "width": 40, "height": 12},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created annotationJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodPatch, base+"/annotations/"+created.ID, map[string]interface{}{
		"color": map[string]float64{"r": 0, "g": 1, "b": 0, "a": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched annotationJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patched))
	require.NotNil(t, patched.Color)
	assert.Equal(t, 1.0, patched.Color.G)

	rec = doJSON(t, router, http.MethodDelete, base+"/annotations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, http.MethodDelete, base+"/annotations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenderEndpointReturnsPNG(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)

	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/pages/0/render?zoom=1", sess.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestPageTextEndpoint(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)

	rec := doJSON(t, router, http.MethodGet,
		"/api/v1/sessions/"+sess.ID+"/pages/0/text", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp pageTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 612.0, resp.ViewportWidth)
	require.NotEmpty(t, resp.TextRuns)
	assert.Equal(t, "Page 1", resp.TextRuns[0].Text)
}

func TestSignatureFieldWorkflow(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)
	base := "/api/v1/sessions/" + sess.ID

	rec := doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
		"type": "signature-field", "page": 1,
		"x": 100, "y": 600,
		"fieldType": "initials", "label": "Initial here", "required": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list := doJSON(t, router, http.MethodGet, base+"/signature-fields", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var fields []signatureFieldJSON
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &fields))
	require.Len(t, fields, 1)
	assert.Equal(t, "initials", string(fields[0].FieldType))
	assert.True(t, fields[0].Required)

	// Field markers never alter the saved bytes.
	save := doJSON(t, router, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, save.Code)
	assert.Equal(t, pdftest.Minimal(2), save.Body.Bytes())
}

func TestConcurrentSessionRequests(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)
	base := "/api/v1/sessions/" + sess.ID

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec := doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
				"type": "highlight", "page": 0,
				"rect": map[string]float64{"x": 10, "y": 10, "width": 40, "height": 12},
			})
			assert.Equal(t, http.StatusCreated, rec.Code)
		}()
		go func() {
			defer wg.Done()
			rec := doJSON(t, router, http.MethodPost, base+"/undo", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	status := doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status.Code)
}

func TestRenderQueryParamsDoNotStickToView(t *testing.T) {
	srv, _, docURL := newTestServer(t)
	router := srv.Router()
	sess := createSession(t, router, docURL)
	base := "/api/v1/sessions/" + sess.ID

	rec := doJSON(t, router, http.MethodGet, base+"/pages/0/render?zoom=2&rotation=90", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A later screen-space annotation still converts at the session's
	// zoom of 1.
	rec = doJSON(t, router, http.MethodPost, base+"/annotations", map[string]interface{}{
		"type": "highlight", "page": 0,
		"rect": map[string]float64{"x": 100, "y": 100, "width": 120, "height": 16},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created annotationJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.InDelta(t, 100.0, created.Rect.X, 1e-9)
	assert.InDelta(t, 676.0, created.Rect.Y, 1e-9)
}
