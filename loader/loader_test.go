package loader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tablekit/pdfedit/pdf"
	"github.com/tablekit/pdfedit/pdf/pdftest"
)

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadSuccess(t *testing.T) {
	doc := pdftest.Minimal(3)
	srv := serveBytes(t, doc)

	l := New()
	res, err := l.Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.State() != StateReady {
		t.Fatalf("state: %v", l.State())
	}
	if res.PageCount != 3 || l.PageCount() != 3 {
		t.Fatalf("page count: %d", res.PageCount)
	}
	if !bytes.Equal(res.Raw, doc) {
		t.Fatal("raw bytes must match the fetched document")
	}
	if res.Document == nil || res.Document.PageCount() != 3 {
		t.Fatal("document handle not usable")
	}
}

func TestRawBufferIsIndependentOfParser(t *testing.T) {
	doc := pdftest.Minimal(1)
	srv := serveBytes(t, doc)

	l := New()
	res, err := l.Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Clobbering the retained save-pipeline copy must not disturb the
	// parser's view of the document.
	for i := range res.Raw {
		res.Raw[i] = 0
	}
	if _, err := res.Document.Page(0); err != nil {
		t.Fatalf("document corrupted by raw-buffer write: %v", err)
	}
}

func TestLoadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := New()
	_, err := l.Load(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if l.State() != StateFailed {
		t.Fatalf("state: %v", l.State())
	}
	if l.Err() == nil {
		t.Fatal("Err must retain the failure")
	}
}

func TestLoadMalformedDocument(t *testing.T) {
	srv := serveBytes(t, []byte("this is not a pdf"))

	l := New()
	_, err := l.Load(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if l.State() != StateFailed {
		t.Fatalf("state: %v", l.State())
	}
}

func TestLoadLastWins(t *testing.T) {
	doc := pdftest.Minimal(2)
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
		}
		w.Write(doc)
	}))
	defer srv.Close()
	defer close(release)

	l := New()
	firstDone := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), srv.URL)
		firstDone <- err
	}()

	// Wait for the first request to reach the handler before racing it.
	for atomic.LoadInt32(&calls) == 0 {
		time.Sleep(time.Millisecond)
	}

	res, err := l.Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if res.PageCount != 2 || l.State() != StateReady {
		t.Fatal("second load must reach ready")
	}

	select {
	case err := <-firstDone:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("first load: got %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first load never settled")
	}
	// The superseded load must not have disturbed the winner's state.
	if l.State() != StateReady || l.PageCount() != 2 {
		t.Fatal("stale load overwrote state")
	}
}

func TestReset(t *testing.T) {
	srv := serveBytes(t, pdftest.Minimal(1))

	l := New()
	res, err := l.Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	l.Reset()

	if l.State() != StateIdle || l.Document() != nil || l.Raw() != nil || l.PageCount() != 0 {
		t.Fatal("reset must return the loader to idle")
	}
	// The handle released by Reset is closed.
	if _, err := res.Document.Page(0); !errors.Is(err, pdf.ErrClosed) {
		t.Fatalf("document still open after reset: %v", err)
	}

	// The loader is reusable.
	if _, err := l.Load(context.Background(), srv.URL); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if l.State() != StateReady {
		t.Fatalf("state after reload: %v", l.State())
	}
}

func TestResetCancelsInFlightLoad(t *testing.T) {
	doc := pdftest.Minimal(1)
	release := make(chan struct{})
	started := make(chan struct{})
	var once int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.CompareAndSwapInt32(&once, 0, 1) {
			close(started)
			<-release
		}
		w.Write(doc)
	}))
	defer srv.Close()
	defer close(release)

	l := New()
	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), srv.URL)
		done <- err
	}()
	<-started

	l.Reset()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("got %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load never settled after reset")
	}
	if l.State() != StateIdle {
		t.Fatalf("state: %v", l.State())
	}
}

func TestLoadBytes(t *testing.T) {
	l := New()
	res, err := l.LoadBytes(context.Background(), pdftest.Minimal(4))
	if err != nil {
		t.Fatalf("load bytes: %v", err)
	}
	if res.PageCount != 4 || l.State() != StateReady {
		t.Fatalf("page count %d state %v", res.PageCount, l.State())
	}
}

func TestLoadEncryptedDocumentFails(t *testing.T) {
	data := bytes.Replace(pdftest.Minimal(1),
		[]byte("/Root 1 0 R >>"),
		[]byte("/Root 1 0 R /Encrypt 3 0 R >>"), 1)

	l := New()
	if _, err := l.LoadBytes(context.Background(), data); !errors.Is(err, pdf.ErrEncrypted) {
		t.Fatalf("encrypted load: %v", err)
	}
	if l.State() != StateFailed {
		t.Fatalf("state: %v", l.State())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:    "idle",
		StateLoading: "loading",
		StateReady:   "ready",
		StateFailed:  "failed",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q want %q", int(s), got, want)
		}
	}
}
