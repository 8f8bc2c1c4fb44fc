package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tablekit/pdfedit/annotation"
	"github.com/tablekit/pdfedit/coords"
	"github.com/tablekit/pdfedit/editor"
	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/render"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// session resolves the {id} path variable to a live session, writing a 404
// when it is gone.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

type createSessionRequest struct {
	URL string `json:"url"`
}

type sessionResponse struct {
	ID              string `json:"id"`
	PageCount       int    `json:"pageCount"`
	HasChanges      bool   `json:"hasChanges"`
	CanUndo         bool   `json:"canUndo"`
	CanRedo         bool   `json:"canRedo"`
	AnnotationCount int    `json:"annotationCount"`
	Tool            string `json:"tool"`
}

func (s *Server) sessionResponse(id string, sess *editor.Session) sessionResponse {
	return sessionResponse{
		ID:              id,
		PageCount:       sess.PageCount(),
		HasChanges:      sess.HasChanges(),
		CanUndo:         sess.CanUndo(),
		CanRedo:         sess.CanRedo(),
		AnnotationCount: sess.AnnotationCount(),
		Tool:            string(sess.Tool()),
	}
}

// handleCreateSession opens a document either from a signed URL (JSON
// body) or from raw PDF bytes posted as application/pdf.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := editor.NewSession(
		editor.WithLogger(s.log),
		editor.WithMeasurer(s.measurer),
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/pdf") {
		data, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		name := r.URL.Query().Get("filename")
		if name == "" {
			name = "document.pdf"
		}
		if err := sess.OpenBytes(r.Context(), data, name); err != nil {
			sess.Close()
			writeError(w, http.StatusUnprocessableEntity, "open document: "+err.Error())
			return
		}
	} else {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			writeError(w, http.StatusBadRequest, "a document url is required")
			return
		}
		if err := sess.Open(r.Context(), req.URL); err != nil {
			sess.Close()
			writeError(w, http.StatusBadGateway, "open document: "+err.Error())
			return
		}
	}

	id := s.registry.Put(sess)
	s.log.Info("session created",
		observability.String("session", id),
		observability.Int("pages", sess.PageCount()))
	writeJSON(w, http.StatusCreated, s.sessionResponse(id, sess))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(mux.Vars(r)["id"], sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Delete(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTool(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Tool string `json:"tool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "a tool is required")
		return
	}
	sess.SetTool(editor.Tool(req.Tool))
	writeJSON(w, http.StatusOK, s.sessionResponse(mux.Vars(r)["id"], sess))
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Zoom     float64 `json:"zoom"`
		Rotation int     `json:"rotation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed view")
		return
	}
	sess.SetView(req.Zoom, req.Rotation)
	w.WriteHeader(http.StatusNoContent)
}

func pageVar(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["page"])
}

func (s *Server) handleRenderPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	page, err := pageVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed page index")
		return
	}
	// Query parameters apply to this render only; the session's view
	// state changes through PUT /view.
	zoom, rot := sess.Zoom(), sess.Rotation()
	q := r.URL.Query()
	if z, err := strconv.ParseFloat(q.Get("zoom"), 64); err == nil && z > 0 {
		zoom = z
	}
	if n, err := strconv.Atoi(q.Get("rotation")); err == nil {
		rot = n
	}
	res, err := sess.RenderPageAt(r.Context(), page, zoom, rot)
	if err != nil {
		writeError(w, renderStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, res.Image); err != nil {
		s.log.Warn("encode page png", observability.Error("err", err))
	}
}

type pageTextResponse struct {
	ViewportWidth  float64          `json:"viewportWidth"`
	ViewportHeight float64          `json:"viewportHeight"`
	TextRuns       []render.TextRun `json:"textRuns"`
}

func (s *Server) handlePageText(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	page, err := pageVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed page index")
		return
	}
	res, err := sess.RenderPage(r.Context(), page)
	if err != nil {
		writeError(w, renderStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pageTextResponse{
		ViewportWidth:  res.ViewportWidth,
		ViewportHeight: res.ViewportHeight,
		TextRuns:       res.TextRuns,
	})
}

func renderStatus(err error) int {
	if errors.Is(err, editor.ErrNoDocument) {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

type addAnnotationRequest struct {
	Type    string            `json:"type"`
	Page    int               `json:"page"`
	Rect    *coords.Rect      `json:"rect,omitempty"`
	Color   *annotation.Color `json:"color,omitempty"`
	X       float64           `json:"x"`
	Y       float64           `json:"y"`
	Content string            `json:"content,omitempty"`
	Format  *formatJSON       `json:"format,omitempty"`

	OriginalText string  `json:"originalText,omitempty"`
	OriginalX    float64 `json:"originalX,omitempty"`
	OriginalY    float64 `json:"originalY,omitempty"`
	Width        float64 `json:"width,omitempty"`
	Height       float64 `json:"height,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty"`

	ImageData string `json:"imageData,omitempty"`

	FieldType string `json:"fieldType,omitempty"`
	Label     string `json:"label,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

func (s *Server) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req addAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed annotation")
		return
	}

	var id string
	var err error
	switch annotation.Type(req.Type) {
	case annotation.TypeHighlight:
		if req.Rect == nil {
			err = errors.New("a rect is required for highlights")
			break
		}
		id, err = sess.AddHighlight(req.Page, *req.Rect, req.Color)
	case annotation.TypeTextBox:
		id, err = sess.AddTextBox(req.Page, req.X, req.Y, req.Content, req.Format.toFormat())
	case annotation.TypeTextEdit:
		id = sess.EditTextRun(req.Page, req.OriginalX, req.OriginalY, req.Width, req.Height,
			req.OriginalText, req.Content, req.FontSize, req.Format.toFormat())
	case annotation.TypeSignature:
		id, err = sess.AddSignature(req.Page, req.X, req.Y, req.ImageData, req.Width, req.Height)
	case annotation.TypeSignatureField:
		id, err = sess.AddField(req.Page, req.X, req.Y, annotation.FieldType(req.FieldType), req.Label, req.Required)
	default:
		err = fmt.Errorf("unknown annotation type %q", req.Type)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a := sess.Annotation(id)
	writeJSON(w, http.StatusCreated, toWire(a))
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var anns []annotation.Annotation
	if pq := r.URL.Query().Get("page"); pq != "" {
		page, err := strconv.Atoi(pq)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed page filter")
			return
		}
		anns = sess.AnnotationsOnPage(page)
	} else {
		anns = sess.Annotations()
	}
	out := make([]annotationJSON, 0, len(anns))
	for _, a := range anns {
		out = append(out, toWire(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type patchRequest struct {
	Rect          *coords.Rect      `json:"rect,omitempty"`
	Content       *string           `json:"content,omitempty"`
	FontSize      *float64          `json:"fontSize,omitempty"`
	FontFamily    *string           `json:"fontFamily,omitempty"`
	Bold          *bool             `json:"bold,omitempty"`
	Italic        *bool             `json:"italic,omitempty"`
	Underline     *bool             `json:"underline,omitempty"`
	Color         *annotation.Color `json:"color,omitempty"`
	Background    *annotation.Color `json:"background,omitempty"`
	BackgroundSet bool              `json:"backgroundSet,omitempty"`
	ImageData     *string           `json:"imageData,omitempty"`
	Label         *string           `json:"label,omitempty"`
	Required      *bool             `json:"required,omitempty"`
	FieldType     *string           `json:"fieldType,omitempty"`
	Assignee      *string           `json:"assignee,omitempty"`
}

func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed patch")
		return
	}
	patch := annotation.Patch{
		Content:       req.Content,
		FontSize:      req.FontSize,
		FontFamily:    req.FontFamily,
		Bold:          req.Bold,
		Italic:        req.Italic,
		Underline:     req.Underline,
		Color:         req.Color,
		Background:    req.Background,
		BackgroundSet: req.BackgroundSet,
		ImageData:     req.ImageData,
		Label:         req.Label,
		Required:      req.Required,
		Assignee:      req.Assignee,
	}
	if req.FieldType != nil {
		ft := annotation.FieldType(*req.FieldType)
		patch.FieldType = &ft
	}

	annID := mux.Vars(r)["annID"]
	applied, err := sess.UpdateAnnotation(annID, patch, req.Rect)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !applied {
		writeError(w, http.StatusNotFound, "unknown annotation")
		return
	}
	writeJSON(w, http.StatusOK, toWire(sess.Annotation(annID)))
}

func (s *Server) handleRemoveAnnotation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.RemoveAnnotation(mux.Vars(r)["annID"]) {
		writeError(w, http.StatusNotFound, "unknown annotation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Undo()
	writeJSON(w, http.StatusOK, s.sessionResponse(mux.Vars(r)["id"], sess))
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Redo()
	writeJSON(w, http.StatusOK, s.sessionResponse(mux.Vars(r)["id"], sess))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.ClearAnnotations()
	writeJSON(w, http.StatusOK, s.sessionResponse(mux.Vars(r)["id"], sess))
}

type signatureFieldJSON struct {
	ID        string               `json:"id"`
	Page      int                  `json:"page"`
	Rect      coords.Rect          `json:"rect"`
	FieldType annotation.FieldType `json:"fieldType"`
	Label     string               `json:"label"`
	Required  bool                 `json:"required"`
	Assignee  string               `json:"assignee,omitempty"`
}

func (s *Server) handleSignatureFields(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	fields := sess.SignatureFields()
	out := make([]signatureFieldJSON, 0, len(fields))
	for _, f := range fields {
		out = append(out, signatureFieldJSON{
			ID:        f.ID(),
			Page:      f.PageIndex(),
			Rect:      f.Bounds(),
			FieldType: f.FieldType,
			Label:     f.Label,
			Required:  f.Required,
			Assignee:  f.Assignee,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.Save()
	if err != nil {
		writeError(w, renderStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Bytes)))
	if _, err := w.Write(out.Bytes); err != nil {
		s.log.Warn("write download", observability.Error("err", err))
	}
}
