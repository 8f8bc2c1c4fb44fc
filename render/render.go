// Package render rasterizes document pages and extracts positioned text
// runs for edit-mode hit-testing. Each page has its own state machine with
// last-request-wins cancellation: a new render for a page supersedes any
// render still in flight for that page, and a superseded render commits
// nothing.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"

	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/pdf"
)

// ErrCancelled reports that a render was superseded or torn down. Expected
// control flow when view parameters change rapidly; never a failure.
var ErrCancelled = errors.New("render cancelled")

// State is a page's render lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRendering
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params selects what to render. Rotation is in clockwise degrees and is
// snapped to a multiple of 90; it composes with the page's own /Rotate.
type Params struct {
	Page     int
	Zoom     float64
	Rotation int
}

// Result is a completed render: the raster surface, the viewport size in
// screen units, and the page's text runs in the unrotated frame.
type Result struct {
	Image          *image.RGBA
	ViewportWidth  float64
	ViewportHeight float64
	TextRuns       []TextRun
}

type pageState struct {
	gen    uint64
	cancel context.CancelFunc
	state  State
	result *Result
	err    error
}

// Renderer renders pages of a single parsed document. Safe for concurrent
// use; overlapping renders of the same page race by generation and the
// newest wins.
type Renderer struct {
	doc *pdf.Document
	log observability.Logger

	mu    sync.Mutex
	pages map[int]*pageState

	// afterExtract, when set, runs between text extraction and commit.
	// Tests use it to interleave renders deterministically.
	afterExtract func(page int)
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger; the default is a no-op.
func WithLogger(log observability.Logger) Option {
	return func(r *Renderer) { r.log = log }
}

// New returns a renderer over doc.
func New(doc *pdf.Document, opts ...Option) *Renderer {
	r := &Renderer{
		doc:   doc,
		log:   observability.NopLogger{},
		pages: make(map[int]*pageState),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render rasterizes one page. Any render already in flight for the same
// page is cancelled first. A superseded call returns ErrCancelled and
// leaves no trace in the page's state.
func (r *Renderer) Render(ctx context.Context, params Params) (*Result, error) {
	if params.Zoom <= 0 {
		params.Zoom = 1
	}
	g, cctx, ps := r.begin(ctx, params.Page)
	start := time.Now()

	page, err := r.doc.Page(params.Page)
	if err != nil {
		return r.fail(ps, g, fmt.Errorf("fetch page %d: %w", params.Page, err))
	}
	if err := r.stale(cctx, ps, g); err != nil {
		return nil, err
	}

	pw, ph := page.Size()
	rot := normalizeRotation(page.Rotate + params.Rotation)
	vw, vh := pw*params.Zoom, ph*params.Zoom
	if rot == 90 || rot == 270 {
		vw, vh = vh, vw
	}

	runs, err := extractRuns(r.doc, page, params.Zoom)
	if err != nil {
		return r.fail(ps, g, fmt.Errorf("extract text: %w", err))
	}
	if err := r.stale(cctx, ps, g); err != nil {
		return nil, err
	}

	surface := rasterize(runs, pw*params.Zoom, ph*params.Zoom, rot)
	if err := r.stale(cctx, ps, g); err != nil {
		return nil, err
	}

	if r.afterExtract != nil {
		r.afterExtract(params.Page)
	}

	res := &Result{Image: surface, ViewportWidth: vw, ViewportHeight: vh, TextRuns: runs}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g != ps.gen {
		return nil, ErrCancelled
	}
	ps.state = StateReady
	ps.result = res
	ps.err = nil
	ps.cancel = nil
	r.log.Debug("page rendered",
		observability.Int("page", params.Page),
		observability.Int("runs", len(runs)),
		observability.Duration(observability.MetricRenderTime, time.Since(start)))
	return res, nil
}

func (r *Renderer) begin(ctx context.Context, page int) (uint64, context.Context, *pageState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.pages[page]
	if ps == nil {
		ps = &pageState{}
		r.pages[page] = ps
	}
	if ps.cancel != nil {
		ps.cancel()
	}
	ps.gen++
	cctx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel
	ps.state = StateRendering
	return ps.gen, cctx, ps
}

// stale checks the generation after an async boundary. A superseded render
// must produce no observable effect.
func (r *Renderer) stale(ctx context.Context, ps *pageState, g uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g != ps.gen || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

func (r *Renderer) fail(ps *pageState, g uint64, err error) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g != ps.gen {
		return nil, ErrCancelled
	}
	r.log.Warn("render failed", observability.Error("err", err))
	ps.state = StateFailed
	ps.err = err
	ps.cancel = nil
	return nil, err
}

// Cancel aborts any in-flight render for the page. Safe to call repeatedly
// and when nothing is active.
func (r *Renderer) Cancel(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.pages[page]
	if ps == nil {
		return
	}
	if ps.cancel != nil {
		ps.cancel()
		ps.cancel = nil
	}
	ps.gen++
	if ps.state == StateRendering {
		ps.state = StateIdle
	}
}

// CancelAll aborts every in-flight render; used at teardown and before
// switching documents.
func (r *Renderer) CancelAll() {
	r.mu.Lock()
	pages := make([]int, 0, len(r.pages))
	for p := range r.pages {
		pages = append(pages, p)
	}
	r.mu.Unlock()
	for _, p := range pages {
		r.Cancel(p)
	}
}

// State returns the page's lifecycle phase.
func (r *Renderer) State(page int) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps := r.pages[page]; ps != nil {
		return ps.state
	}
	return StateIdle
}

// Result returns the page's most recent committed render, or nil.
func (r *Renderer) Result(page int) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps := r.pages[page]; ps != nil {
		return ps.result
	}
	return nil
}

// Err returns the page's most recent render failure, or nil.
func (r *Renderer) Err(page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps := r.pages[page]; ps != nil {
		return ps.err
	}
	return nil
}

// Prefetch warms the pages adjacent to center with bounded concurrency.
// Cancelled and out-of-range prefetches are discarded silently.
func (r *Renderer) Prefetch(ctx context.Context, center int, zoom float64, rotation int) error {
	var eg errgroup.Group
	eg.SetLimit(2)
	for _, p := range []int{center - 1, center + 1} {
		if p < 0 || p >= r.doc.PageCount() {
			continue
		}
		page := p
		eg.Go(func() error {
			_, err := r.Render(ctx, Params{Page: page, Zoom: zoom, Rotation: rotation})
			if err != nil && !errors.Is(err, ErrCancelled) {
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

// rasterize draws a best-effort preview: a white page with the extracted
// runs drawn at their screen positions, rotated into the viewport frame.
func rasterize(runs []TextRun, w, h float64, rot int) *image.RGBA {
	iw, ih := int(math.Ceil(w)), int(math.Ceil(h))
	if iw < 1 {
		iw = 1
	}
	if ih < 1 {
		ih = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, iw, ih))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	for _, run := range runs {
		d.Dot = fixed.P(int(run.X), int(run.Y+run.Height))
		d.DrawString(run.Text)
	}
	if rot == 0 {
		return img
	}
	return rotateImage(img, rot)
}

// rotateImage rotates the surface clockwise by a multiple of 90 degrees.
func rotateImage(img *image.RGBA, rot int) *image.RGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	var dst *image.RGBA
	var m f64.Aff3
	switch rot {
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	default:
		return img
	}
	xdraw.NearestNeighbor.Transform(dst, m, img, b, xdraw.Src, nil)
	return dst
}
