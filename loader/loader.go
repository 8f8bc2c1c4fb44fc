// Package loader fetches raw PDF bytes and parses them into a navigable
// document handle. Loads are cancellable and last-wins: starting a new load
// aborts any load still in flight, and only the most recent load can ever
// reach the ready state.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tablekit/pdfedit/observability"
	"github.com/tablekit/pdfedit/pdf"
)

// ErrCancelled reports that a load was superseded by a newer one or torn
// down via Reset. It is control flow, not a failure; callers discard it
// silently.
var ErrCancelled = errors.New("load cancelled")

// maxDocumentSize caps a fetched document at 256 MiB.
const maxDocumentSize = 256 << 20

// State is the loader's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is a successful load: the parsed handle, the retained original
// bytes for the save pipeline, and the page count.
type Result struct {
	Document  *pdf.Document
	Raw       []byte
	PageCount int
}

// Loader owns at most one parsed document at a time. The previous document
// handle is closed whenever a newer load commits or Reset is called.
type Loader struct {
	client *http.Client
	log    observability.Logger

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	state     State
	doc       *pdf.Document
	raw       []byte
	pageCount int
	lastErr   error
}

// Option configures a Loader.
type Option func(*Loader)

// WithClient overrides the HTTP client used for fetches.
func WithClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithLogger sets the logger; the default is a no-op.
func WithLogger(log observability.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// New returns an idle loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    observability.NopLogger{},
		state:  StateIdle,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load fetches the document at url and parses it. A load already in flight
// is cancelled first. On success the loader retains one copy of the raw
// bytes for saving and hands a second copy to the parser, since the parser
// keeps a reference to the buffer it is given.
func (l *Loader) Load(ctx context.Context, url string) (*Result, error) {
	g, cctx := l.begin(ctx)

	start := time.Now()
	data, err := l.fetch(cctx, url)
	if err != nil {
		return l.fail(g, fmt.Errorf("fetch document: %w", err), cctx)
	}
	l.log.Debug("document fetched",
		observability.String("url", url),
		observability.Int("bytes", len(data)),
		observability.Duration(observability.MetricLoadTime, time.Since(start)))

	return l.parseAndCommit(g, cctx, data)
}

// LoadBytes parses an already-fetched document, following the same
// last-wins rules as Load.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) (*Result, error) {
	g, cctx := l.begin(ctx)
	return l.parseAndCommit(g, cctx, data)
}

// begin cancels any in-flight load, advances the generation, and moves the
// loader to the loading state.
func (l *Loader) begin(ctx context.Context) (uint64, context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	cctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = StateLoading
	l.lastErr = nil
	return l.gen, cctx
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}

func (l *Loader) parseAndCommit(g uint64, ctx context.Context, data []byte) (*Result, error) {
	parseCopy := make([]byte, len(data))
	copy(parseCopy, data)

	start := time.Now()
	doc, err := pdf.Parse(ctx, parseCopy)
	if err != nil {
		return l.fail(g, fmt.Errorf("parse document: %w", err), ctx)
	}
	l.log.Debug("document parsed",
		observability.Int(observability.MetricPageCount, doc.PageCount()),
		observability.Duration(observability.MetricParseTime, time.Since(start)))

	l.mu.Lock()
	defer l.mu.Unlock()
	if g != l.gen {
		doc.Close()
		return nil, ErrCancelled
	}
	if l.doc != nil {
		l.doc.Close()
	}
	l.doc = doc
	l.raw = data
	l.pageCount = doc.PageCount()
	l.state = StateReady
	l.cancel = nil
	return &Result{Document: doc, Raw: data, PageCount: l.pageCount}, nil
}

// fail records a terminal error for this load attempt unless the attempt
// was superseded or cancelled, in which case it reports ErrCancelled and
// leaves the loader's state to the winning load.
func (l *Loader) fail(g uint64, err error, ctx context.Context) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g != l.gen {
		return nil, ErrCancelled
	}
	if ctx.Err() != nil {
		// Reset cancelled us without starting a replacement load.
		l.state = StateIdle
		l.cancel = nil
		return nil, ErrCancelled
	}
	l.log.Warn("load failed", observability.Error("err", err))
	l.state = StateFailed
	l.lastErr = err
	l.cancel = nil
	return nil, err
}

// Reset cancels any in-flight load and releases the parsed document. The
// loader returns to idle and can be reused.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	if l.doc != nil {
		l.doc.Close()
		l.doc = nil
	}
	l.raw = nil
	l.pageCount = 0
	l.lastErr = nil
	l.state = StateIdle
}

// State returns the current lifecycle phase.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Document returns the parsed handle, or nil until a load succeeds.
func (l *Loader) Document() *pdf.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc
}

// Raw returns the retained original bytes, or nil until a load succeeds.
// The slice is shared with the loader; callers must not mutate it.
func (l *Loader) Raw() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raw
}

// PageCount returns the page count of the loaded document.
func (l *Loader) PageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pageCount
}

// Err returns the error from the most recent failed load, or nil.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
