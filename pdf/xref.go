package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// xrefEntry locates one object: either a byte offset into the file or a
// position inside a compressed object stream.
type xrefEntry struct {
	offset    int64
	inStream  bool
	streamNum int
	streamIdx int
}

var errNoXref = errors.New("pdf: startxref not found")

// findStartXref locates the startxref value before the final %%EOF.
func findStartXref(data []byte) (int64, error) {
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errNoXref
	}
	l := &lexer{data: tail, pos: idx + len("startxref")}
	obj, err := l.parseNumber()
	if err != nil {
		return 0, fmt.Errorf("pdf: malformed startxref: %w", err)
	}
	off, ok := obj.(Integer)
	if !ok || int64(off) < 0 || int64(off) >= int64(len(data)) {
		return 0, fmt.Errorf("pdf: startxref offset %v out of range", obj)
	}
	return int64(off), nil
}

// loadXrefChain walks the /Prev chain from the most recent section to the
// oldest. The newest entry for each object number wins, so entries are only
// recorded when not already present.
func (d *Document) loadXrefChain(start int64) error {
	seen := make(map[int64]bool)
	offset := start
	for i := 0; offset >= 0 && i < 64; i++ {
		if seen[offset] {
			return errors.New("pdf: circular xref chain")
		}
		seen[offset] = true

		trailer, err := d.loadXrefSection(offset)
		if err != nil {
			return err
		}
		d.mergeTrailer(trailer)

		// Hybrid-reference files carry a parallel xref stream.
		if stm, ok := trailer["XRefStm"].(Integer); ok && !seen[int64(stm)] {
			seen[int64(stm)] = true
			hybrid, err := d.loadXrefSection(int64(stm))
			if err == nil {
				d.mergeTrailer(hybrid)
			}
		}

		prev, ok := trailer["Prev"].(Integer)
		if !ok {
			return nil
		}
		offset = int64(prev)
	}
	return errors.New("pdf: xref chain too long")
}

// mergeTrailer keeps the newest Root/Info/Size seen while walking the chain.
func (d *Document) mergeTrailer(t Dict) {
	if d.trailer == nil {
		d.trailer = Dict{}
	}
	for _, key := range []Name{"Root", "Info", "Size", "ID"} {
		if _, have := d.trailer[key]; !have {
			if v, ok := t[key]; ok {
				d.trailer[key] = v
			}
		}
	}
}

func (d *Document) loadXrefSection(offset int64) (Dict, error) {
	if offset < 0 || offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("pdf: xref offset %d out of range", offset)
	}
	l := &lexer{data: d.data, pos: int(offset)}
	l.skipSpace()
	if bytes.HasPrefix(d.data[l.pos:], []byte("xref")) {
		return d.loadXrefTable(l)
	}
	return d.loadXrefStream(offset)
}

// loadXrefTable parses a classic cross-reference table plus its trailer.
func (d *Document) loadXrefTable(l *lexer) (Dict, error) {
	if err := l.expect("xref"); err != nil {
		return nil, err
	}
	for {
		l.skipSpace()
		if bytes.HasPrefix(d.data[l.pos:], []byte("trailer")) {
			break
		}
		startObj, err := l.parseNumber()
		if err != nil {
			return nil, fmt.Errorf("pdf: xref subsection header: %w", err)
		}
		count, err := l.parseNumber()
		if err != nil {
			return nil, fmt.Errorf("pdf: xref subsection header: %w", err)
		}
		first, ok1 := startObj.(Integer)
		n, ok2 := count.(Integer)
		if !ok1 || !ok2 || n < 0 {
			return nil, errors.New("pdf: malformed xref subsection header")
		}
		for i := int64(0); i < int64(n); i++ {
			l.skipSpace()
			if l.pos+18 > len(d.data) {
				return nil, errUnexpectedEOF
			}
			entry := string(d.data[l.pos : l.pos+18])
			l.pos += 18
			off, err := strconv.ParseInt(entry[0:10], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("pdf: malformed xref entry %q", entry)
			}
			kind := entry[17]
			num := int(first) + int(i)
			if kind == 'n' {
				d.addEntry(num, xrefEntry{offset: off})
			}
		}
	}
	if err := l.expect("trailer"); err != nil {
		return nil, err
	}
	obj, err := l.parseObject()
	if err != nil {
		return nil, fmt.Errorf("pdf: trailer dictionary: %w", err)
	}
	trailer, ok := obj.(Dict)
	if !ok {
		return nil, errors.New("pdf: trailer is not a dictionary")
	}
	return trailer, nil
}

// loadXrefStream parses a PDF 1.5 cross-reference stream at offset.
func (d *Document) loadXrefStream(offset int64) (Dict, error) {
	_, obj, err := d.parseIndirectAt(offset)
	if err != nil {
		return nil, fmt.Errorf("pdf: xref stream: %w", err)
	}
	stm, ok := obj.(*Stream)
	if !ok {
		return nil, errors.New("pdf: xref offset does not point at a table or stream")
	}
	if t, _ := stm.Dict["Type"].(Name); t != "XRef" {
		return nil, fmt.Errorf("pdf: expected XRef stream, got type %q", t)
	}
	data, err := d.decodeStream(stm)
	if err != nil {
		return nil, err
	}

	wArr, ok := stm.Dict["W"].(Array)
	if !ok || len(wArr) < 3 {
		return nil, errors.New("pdf: xref stream missing W array")
	}
	w := make([]int, 3)
	for i := 0; i < 3; i++ {
		n, ok := wArr[i].(Integer)
		if !ok || n < 0 || n > 8 {
			return nil, errors.New("pdf: malformed xref stream W array")
		}
		w[i] = int(n)
	}
	size := intOr(stm.Dict["Size"], 0)

	// Default index is [0 Size].
	var index []int64
	if idxArr, ok := stm.Dict["Index"].(Array); ok {
		for _, v := range idxArr {
			if n, ok := v.(Integer); ok {
				index = append(index, int64(n))
			}
		}
	}
	if len(index) == 0 || len(index)%2 != 0 {
		index = []int64{0, size}
	}

	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("pdf: zero-width xref stream rows")
	}
	pos := 0
	for s := 0; s+1 < len(index); s += 2 {
		first, count := index[s], index[s+1]
		for i := int64(0); i < count; i++ {
			if pos+rowLen > len(data) {
				return nil, errors.New("pdf: xref stream data truncated")
			}
			f1 := readField(data[pos:pos+w[0]], 1) // type defaults to 1
			f2 := readField(data[pos+w[0]:pos+w[0]+w[1]], 0)
			f3 := readField(data[pos+w[0]+w[1]:pos+rowLen], 0)
			pos += rowLen
			num := int(first + i)
			switch f1 {
			case 1:
				d.addEntry(num, xrefEntry{offset: f2})
			case 2:
				d.addEntry(num, xrefEntry{inStream: true, streamNum: int(f2), streamIdx: int(f3)})
			}
		}
	}
	return stm.Dict, nil
}

func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func (d *Document) addEntry(num int, e xrefEntry) {
	if _, have := d.entries[num]; have {
		return // a newer section already claimed this object
	}
	d.entries[num] = e
	if num > d.maxNum {
		d.maxNum = num
	}
}
