package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// Document is a parsed, navigable PDF. It keeps a reference to the bytes it
// was parsed from; the loader owns a separate pristine copy for saving.
// Close releases the document; a closed document rejects all lookups.
type Document struct {
	mu        sync.Mutex
	data      []byte
	entries   map[int]xrefEntry
	trailer   Dict
	startXref int64
	maxNum    int
	cache     map[int]Object
	objstm    map[int]map[int]Object
	pages     []*Page
	closed    bool
}

var (
	// ErrClosed is returned when a document handle is used after Close.
	ErrClosed = errors.New("pdf: document is closed")
	// ErrMalformed wraps structural failures surfaced to the loader.
	ErrMalformed = errors.New("pdf: malformed document")
	// ErrEncrypted rejects documents carrying an /Encrypt dictionary;
	// decryption is not supported, so the load fails instead of yielding
	// garbled content.
	ErrEncrypted = fmt.Errorf("%w: encrypted document", ErrMalformed)
)

// Parse reads the xref chain and page tree out of data. The context is
// consulted between sections so a superseded load can abandon its work.
func Parse(ctx context.Context, data []byte) (*Document, error) {
	if len(data) < 8 || !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrMalformed)
	}
	d := &Document{
		data:    data,
		entries: make(map[int]xrefEntry),
		cache:   make(map[int]Object),
		objstm:  make(map[int]map[int]Object),
	}
	start, err := findStartXref(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d.startXref = start
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.loadXrefChain(start); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.trailer["Encrypt"] != nil {
		return nil, ErrEncrypted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.loadPageTree(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// Close releases the document. Further lookups fail with ErrClosed.
// Closing twice is safe.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cache = nil
	d.objstm = nil
	d.pages = nil
	d.entries = nil
	d.data = nil
}

// Trailer returns the merged trailer dictionary.
func (d *Document) Trailer() Dict { return d.trailer }

// Object loads the indirect object behind ref, caching the result.
func (d *Document) Object(ref Ref) (Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objectLocked(ref)
}

func (d *Document) objectLocked(ref Ref) (Object, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if obj, ok := d.cache[ref.Num]; ok {
		return obj, nil
	}
	entry, ok := d.entries[ref.Num]
	if !ok {
		return Null{}, nil
	}
	var obj Object
	var err error
	if entry.inStream {
		obj, err = d.objectFromStream(entry.streamNum, ref.Num)
	} else {
		var got Ref
		got, obj, err = d.parseIndirectAt(entry.offset)
		if err == nil && got.Num != ref.Num {
			err = fmt.Errorf("pdf: object %d expected at offset %d, found %d", ref.Num, entry.offset, got.Num)
		}
	}
	if err != nil {
		return nil, err
	}
	d.cache[ref.Num] = obj
	return obj, nil
}

// Resolve follows reference chains, returning the referenced object or nil
// when unresolvable.
func (d *Document) Resolve(obj Object) Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveLocked(obj)
}

func (d *Document) resolveLocked(obj Object) Object {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		next, err := d.objectLocked(ref)
		if err != nil {
			return nil
		}
		obj = next
	}
	return nil
}

// parseIndirectAt parses "num gen obj ... endobj" at a byte offset,
// attaching stream data when the body is a stream dictionary.
func (d *Document) parseIndirectAt(offset int64) (Ref, Object, error) {
	if offset < 0 || offset >= int64(len(d.data)) {
		return Ref{}, nil, fmt.Errorf("pdf: object offset %d out of range", offset)
	}
	l := &lexer{data: d.data, pos: int(offset)}
	numObj, err := l.parseNumber()
	if err != nil {
		return Ref{}, nil, err
	}
	genObj, err := l.parseNumber()
	if err != nil {
		return Ref{}, nil, err
	}
	num, ok1 := numObj.(Integer)
	gen, ok2 := genObj.(Integer)
	if !ok1 || !ok2 {
		return Ref{}, nil, errors.New("pdf: malformed object header")
	}
	if err := l.expect("obj"); err != nil {
		return Ref{}, nil, err
	}
	obj, err := l.parseObject()
	if err != nil {
		return Ref{}, nil, err
	}
	ref := Ref{Num: int(num), Gen: int(gen)}

	dict, isDict := obj.(Dict)
	if !isDict {
		return ref, obj, nil
	}
	save := l.pos
	l.skipSpace()
	if kw := l.keyword(); kw != "stream" {
		l.pos = save
		return ref, dict, nil
	}
	// An EOL (CRLF or LF) follows the stream keyword.
	if l.peek() == '\r' {
		l.pos++
	}
	if l.peek() == '\n' {
		l.pos++
	}
	data, err := d.streamBytes(l, dict)
	if err != nil {
		return Ref{}, nil, err
	}
	return ref, &Stream{Dict: dict, Data: data}, nil
}

// streamBytes slices the stream payload, trusting /Length when it is sane
// and falling back to scanning for the endstream keyword.
func (d *Document) streamBytes(l *lexer, dict Dict) ([]byte, error) {
	start := l.pos
	length := int64(-1)
	switch v := dict["Length"].(type) {
	case Integer:
		length = int64(v)
	case Ref:
		if obj, err := d.objectLocked(v); err == nil {
			if n, ok := obj.(Integer); ok {
				length = int64(n)
			}
		}
	}
	if length >= 0 && start+int(length) <= len(d.data) {
		end := start + int(length)
		probe := &lexer{data: d.data, pos: end}
		probe.skipSpace()
		if kw := probe.keyword(); kw == "endstream" {
			return d.data[start:end], nil
		}
	}
	idx := bytes.Index(d.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, errors.New("pdf: unterminated stream")
	}
	end := start + idx
	// Strip the EOL that precedes endstream.
	for end > start && (d.data[end-1] == '\n' || d.data[end-1] == '\r') {
		end--
	}
	return d.data[start:end], nil
}

// objectFromStream extracts one object from a compressed object stream.
// Caller holds d.mu.
func (d *Document) objectFromStream(streamNum, wantNum int) (Object, error) {
	objs, ok := d.objstm[streamNum]
	if !ok {
		entry, found := d.entries[streamNum]
		if !found || entry.inStream {
			return nil, fmt.Errorf("pdf: object stream %d missing", streamNum)
		}
		_, container, err := d.parseIndirectAt(entry.offset)
		if err != nil {
			return nil, err
		}
		stm, isStream := container.(*Stream)
		if !isStream {
			return nil, fmt.Errorf("pdf: object %d is not an object stream", streamNum)
		}
		data, err := d.decodeStream(stm)
		if err != nil {
			return nil, err
		}
		n := int(intOr(stm.Dict["N"], 0))
		first := int(intOr(stm.Dict["First"], 0))
		if first > len(data) {
			return nil, errors.New("pdf: object stream First exceeds data length")
		}
		objs = make(map[int]Object, n)
		header := &lexer{data: data[:first]}
		for i := 0; i < n; i++ {
			numObj, err := header.parseNumber()
			if err != nil {
				return nil, fmt.Errorf("pdf: object stream header: %w", err)
			}
			offObj, err := header.parseNumber()
			if err != nil {
				return nil, fmt.Errorf("pdf: object stream header: %w", err)
			}
			num, ok1 := numObj.(Integer)
			off, ok2 := offObj.(Integer)
			if !ok1 || !ok2 || first+int(off) > len(data) {
				return nil, errors.New("pdf: malformed object stream header")
			}
			body := &lexer{data: data, pos: first + int(off)}
			obj, err := body.parseObject()
			if err != nil {
				return nil, fmt.Errorf("pdf: object stream entry %d: %w", num, err)
			}
			objs[int(num)] = obj
		}
		d.objstm[streamNum] = objs
	}
	obj, ok := objs[wantNum]
	if !ok {
		return nil, fmt.Errorf("pdf: object %d not found in object stream %d", wantNum, streamNum)
	}
	return obj, nil
}

// Typed getters resolving references. Caller holds d.mu.

func (d *Document) dictVal(dict Dict, key Name) Dict {
	v, _ := d.resolveLocked(dict[key]).(Dict)
	return v
}

func (d *Document) arrayVal(dict Dict, key Name) Array {
	v, _ := d.resolveLocked(dict[key]).(Array)
	return v
}

func (d *Document) floatVal(obj Object, def float64) float64 {
	switch v := d.resolveLocked(obj).(type) {
	case Integer:
		return float64(v)
	case Real:
		return float64(v)
	}
	return def
}
