package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// Update accumulates objects for an incremental update. The produced bytes
// start with the original document unchanged, followed by the new and
// replaced objects, a cross-reference section, and a trailer chained to the
// previous one via /Prev. Readers that only look at the newest xref section
// see the edited document; the original revision stays intact.
type Update struct {
	doc     *Document
	next    int
	objects []updateObject
	used    map[int]bool
}

type updateObject struct {
	ref Ref
	obj Object
}

// NewUpdate starts an incremental update on top of d.
func (d *Document) NewUpdate() (*Update, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return &Update{doc: d, next: d.maxNum + 1, used: make(map[int]bool)}, nil
}

// Add appends a new object and returns its reference.
func (u *Update) Add(obj Object) Ref {
	ref := Ref{Num: u.next}
	u.next++
	u.objects = append(u.objects, updateObject{ref: ref, obj: obj})
	u.used[ref.Num] = true
	return ref
}

// AddStream appends a new stream object, flate-compressing its data.
func (u *Update) AddStream(dict Dict, data []byte) Ref {
	d := dict.Clone()
	compressed := flateEncode(data)
	d["Filter"] = Name("FlateDecode")
	d["Length"] = Integer(len(compressed))
	return u.Add(&Stream{Dict: d, Data: compressed})
}

// AddRawStream appends a stream whose data is already in final form (for
// payloads like DCT images that carry their own compression).
func (u *Update) AddRawStream(dict Dict, data []byte) Ref {
	d := dict.Clone()
	d["Length"] = Integer(len(data))
	return u.Add(&Stream{Dict: d, Data: data})
}

// Replace overrides an existing object in the new revision.
func (u *Update) Replace(ref Ref, obj Object) error {
	if ref.Num <= 0 {
		return errors.New("pdf: cannot replace object without a reference")
	}
	if u.used[ref.Num] {
		// Second replacement of the same object in one update wins.
		for i := range u.objects {
			if u.objects[i].ref.Num == ref.Num {
				u.objects[i].obj = obj
				return nil
			}
		}
	}
	u.objects = append(u.objects, updateObject{ref: ref, obj: obj})
	u.used[ref.Num] = true
	return nil
}

// Bytes assembles the updated document.
func (u *Update) Bytes() ([]byte, error) {
	u.doc.mu.Lock()
	defer u.doc.mu.Unlock()
	if u.doc.closed {
		return nil, ErrClosed
	}
	if len(u.objects) == 0 {
		out := make([]byte, len(u.doc.data))
		copy(out, u.doc.data)
		return out, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(u.doc.data) + 4096)
	buf.Write(u.doc.data)
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	offsets := make(map[int]int64, len(u.objects))
	gens := make(map[int]int, len(u.objects))
	for _, uo := range u.objects {
		offsets[uo.ref.Num] = int64(buf.Len())
		gens[uo.ref.Num] = uo.ref.Gen
		fmt.Fprintf(&buf, "%d %d obj\n", uo.ref.Num, uo.ref.Gen)
		writeObject(&buf, uo.obj)
		buf.WriteString("\nendobj\n")
	}

	nums := make([]int, 0, len(offsets))
	for n := range offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	xrefStart := int64(buf.Len())
	buf.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(&buf, "%d %d\n", nums[i], j-i+1)
		for _, n := range nums[i : j+1] {
			fmt.Fprintf(&buf, "%010d %05d n \n", offsets[n], gens[n])
		}
		i = j + 1
	}

	maxNum := u.doc.maxNum
	if u.next-1 > maxNum {
		maxNum = u.next - 1
	}
	trailer := Dict{
		"Size": Integer(maxNum + 1),
		"Prev": Integer(u.doc.startXref),
	}
	for _, key := range []Name{"Root", "Info", "ID"} {
		if v, ok := u.doc.trailer[key]; ok {
			trailer[key] = v
		}
	}
	if _, ok := trailer["Root"]; !ok {
		return nil, errors.New("pdf: document trailer has no /Root")
	}
	buf.WriteString("trailer\n")
	writeObject(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes(), nil
}
