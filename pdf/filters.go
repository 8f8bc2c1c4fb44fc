package pdf

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"fmt"
	"io"
)

// StreamData resolves obj to a stream and returns its decoded data.
func (d *Document) StreamData(obj Object) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	s, ok := d.resolveLocked(obj).(*Stream)
	if !ok {
		return nil, fmt.Errorf("pdf: object is not a stream")
	}
	return d.decodeStream(s)
}

// decodeStream applies the stream's filter chain to its raw data:
// FlateDecode with optional PNG predictors, the ASCII transport filters,
// and RunLengthDecode. Streams without filters pass through unchanged.
func (d *Document) decodeStream(s *Stream) ([]byte, error) {
	filters, params := filterChain(d, s.Dict)
	data := s.Data
	for i, name := range filters {
		var parm Dict
		if i < len(params) {
			parm = params[i]
		}
		var out []byte
		var err error
		switch name {
		case "FlateDecode", "Fl":
			out, err = flateDecode(data)
			if err == nil {
				out, err = applyPredictor(d, out, parm)
			}
		case "ASCIIHexDecode", "AHx":
			out, err = asciiHexDecode(data)
		case "ASCII85Decode", "A85":
			out, err = ascii85Decode(data)
		case "RunLengthDecode", "RL":
			out, err = runLengthDecode(data)
		default:
			return nil, fmt.Errorf("pdf: unsupported stream filter %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("pdf: %s: %w", name, err)
		}
		data = out
	}
	return data, nil
}

func filterChain(d *Document, dict Dict) ([]Name, []Dict) {
	var names []Name
	switch v := d.resolveLocked(dict["Filter"]).(type) {
	case Name:
		names = []Name{v}
	case Array:
		for _, item := range v {
			if n, ok := d.resolveLocked(item).(Name); ok {
				names = append(names, n)
			}
		}
	}
	var params []Dict
	switch v := d.resolveLocked(dict["DecodeParms"]).(type) {
	case Dict:
		params = []Dict{v}
	case Array:
		for _, item := range v {
			p, _ := d.resolveLocked(item).(Dict)
			params = append(params, p)
		}
	}
	return names, params
}

func flateDecode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out.Bytes(), nil
}

// asciiHexDecode drops whitespace, stops at the > EOD marker, and pads an
// odd trailing nibble with 0.
func asciiHexDecode(data []byte) ([]byte, error) {
	trimmed := make([]byte, 0, len(data))
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		case '>':
		default:
			trimmed = append(trimmed, c)
			continue
		}
		break
	}
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	out := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(out, trimmed)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// ascii85Decode strips the optional <~ framing and the ~> EOD marker.
func ascii85Decode(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("~>"))
	out := make([]byte, len(trimmed)*2)
	n, _, err := ascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// runLengthDecode expands the byte-oriented run-length scheme: a length
// byte 0-127 copies the next length+1 bytes, 129-255 repeats the next byte
// 257-length times, 128 ends the data.
func runLengthDecode(data []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(data) {
				return nil, fmt.Errorf("truncated literal run")
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("truncated repeat run")
			}
			for j := 0; j < 257-n; j++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out, nil
}

// flateEncode compresses data for newly written streams.
func flateEncode(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

// applyPredictor undoes PNG row predictors (values 10-15), which xref
// streams almost always use. Predictor 1 or absent is a no-op.
func applyPredictor(d *Document, data []byte, parm Dict) ([]byte, error) {
	if parm == nil {
		return data, nil
	}
	predictor := intOr(d.resolveLocked(parm["Predictor"]), 1)
	if predictor <= 1 {
		return data, nil
	}
	if predictor == 2 {
		return nil, fmt.Errorf("pdf: TIFF predictor not supported")
	}
	columns := int(intOr(d.resolveLocked(parm["Columns"]), 1))
	colors := int(intOr(d.resolveLocked(parm["Colors"]), 1))
	bpc := int(intOr(d.resolveLocked(parm["BitsPerComponent"]), 8))
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8

	stride := rowLen + 1
	if stride <= 1 || len(data)%stride != 0 {
		return nil, fmt.Errorf("pdf: predictor row length %d does not divide data length %d", stride, len(data))
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				left, upLeft := 0, 0
				if i >= bpp {
					left = int(cur[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				cur[i] += paeth(left, int(prev[i]), upLeft)
			}
		default:
			return nil, fmt.Errorf("pdf: unknown PNG filter type %d", ft)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return byte(a)
	}
	if pb <= pc {
		return byte(b)
	}
	return byte(c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func intOr(obj Object, def int64) int64 {
	if n, ok := obj.(Integer); ok {
		return int64(n)
	}
	return def
}
