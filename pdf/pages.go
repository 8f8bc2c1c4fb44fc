package pdf

import (
	"errors"
	"fmt"

	"github.com/tablekit/pdfedit/coords"
)

// Page is one leaf of the page tree with its inherited attributes applied.
type Page struct {
	Index     int
	Ref       Ref
	MediaBox  coords.Rect
	Rotate    int
	Resources Dict

	dict Dict
	doc  *Document
}

// inherited carries the attributes a Pages node passes down to its kids.
type inherited struct {
	mediaBox  Object
	resources Object
	rotate    Object
}

func (d *Document) loadPageTree() error {
	root, _ := d.resolveLocked(d.trailer["Root"]).(Dict)
	if root == nil {
		return errors.New("pdf: trailer has no document catalog")
	}
	pagesObj, ok := root["Pages"]
	if !ok {
		return errors.New("pdf: catalog has no page tree")
	}
	if err := d.walkPages(pagesObj, inherited{}, 0); err != nil {
		return err
	}
	if len(d.pages) == 0 {
		return errors.New("pdf: document has no pages")
	}
	return nil
}

func (d *Document) walkPages(obj Object, inh inherited, depth int) error {
	if depth > 64 {
		return errors.New("pdf: page tree too deep")
	}
	ref, _ := obj.(Ref)
	node, _ := d.resolveLocked(obj).(Dict)
	if node == nil {
		return errors.New("pdf: page tree node is not a dictionary")
	}
	if v, ok := node["MediaBox"]; ok {
		inh.mediaBox = v
	}
	if v, ok := node["Resources"]; ok {
		inh.resources = v
	}
	if v, ok := node["Rotate"]; ok {
		inh.rotate = v
	}
	switch nodeType, _ := node["Type"].(Name); nodeType {
	case "Pages":
		kids := d.arrayVal(node, "Kids")
		for _, kid := range kids {
			if err := d.walkPages(kid, inh, depth+1); err != nil {
				return err
			}
		}
		return nil
	case "Page":
		box := d.rectVal(inh.mediaBox, coords.Rect{Width: 612, Height: 792})
		rotate := int(d.floatVal(inh.rotate, 0))
		rotate = ((rotate % 360) + 360) % 360
		resources, _ := d.resolveLocked(inh.resources).(Dict)
		d.pages = append(d.pages, &Page{
			Index:     len(d.pages),
			Ref:       ref,
			MediaBox:  box,
			Rotate:    rotate,
			Resources: resources,
			dict:      node,
			doc:       d,
		})
		return nil
	default:
		return fmt.Errorf("pdf: unexpected page tree node type %q", nodeType)
	}
}

// rectVal converts a [llx lly urx ury] array. Caller holds d.mu (or runs
// single-threaded during Parse).
func (d *Document) rectVal(obj Object, def coords.Rect) coords.Rect {
	arr, _ := d.resolveLocked(obj).(Array)
	if len(arr) != 4 {
		return def
	}
	llx := d.floatVal(arr[0], 0)
	lly := d.floatVal(arr[1], 0)
	urx := d.floatVal(arr[2], 0)
	ury := d.floatVal(arr[3], 0)
	if urx < llx {
		llx, urx = urx, llx
	}
	if ury < lly {
		lly, ury = ury, lly
	}
	return coords.Rect{X: llx, Y: lly, Width: urx - llx, Height: ury - lly}
}

// PageCount returns the number of leaf pages.
func (d *Document) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pages)
}

// Page returns the zero-based page at index.
func (d *Document) Page(index int) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("pdf: page index %d out of range [0, %d)", index, len(d.pages))
	}
	return d.pages[index], nil
}

// Size returns the page dimensions in PDF units, ignoring rotation.
func (p *Page) Size() (width, height float64) {
	return p.MediaBox.Width, p.MediaBox.Height
}

// Dict exposes the page dictionary for the save pipeline.
func (p *Page) Dict() Dict { return p.dict }

// RawContents returns the page's original /Contents value (a reference, a
// stream, or an array of references).
func (p *Page) RawContents() Object {
	return p.dict["Contents"]
}

// Contents returns the decoded content streams for the page, in order.
func (p *Page) Contents() ([][]byte, error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.closed {
		return nil, ErrClosed
	}
	return p.doc.contentsLocked(p.dict["Contents"], 0)
}

func (d *Document) contentsLocked(obj Object, depth int) ([][]byte, error) {
	if depth > 8 {
		return nil, errors.New("pdf: content stream nesting too deep")
	}
	switch v := d.resolveLocked(obj).(type) {
	case *Stream:
		data, err := d.decodeStream(v)
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	case Array:
		var out [][]byte
		for _, item := range v {
			part, err := d.contentsLocked(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
		return out, nil
	case nil, Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("pdf: unexpected /Contents value %T", v)
	}
}
