package render

import (
	"bufio"
	"bytes"
	"sort"
	"strings"

	"github.com/tablekit/pdfedit/pdf"
)

// fontDecoder maps a font resource's shown bytes back to text via its
// ToUnicode CMap, when the document embeds one.
type fontDecoder struct {
	cmap *toUnicodeMap
}

// fontDecoders builds a decoder per font name in the page's resource
// dictionary. Fonts without a ToUnicode entry get no decoder and fall back
// to byte-level decoding.
func fontDecoders(doc *pdf.Document, page *pdf.Page) map[string]*fontDecoder {
	if page.Resources == nil {
		return nil
	}
	fonts, _ := doc.Resolve(page.Resources["Font"]).(pdf.Dict)
	if fonts == nil {
		return nil
	}
	out := make(map[string]*fontDecoder, len(fonts))
	for name, obj := range fonts {
		dict, _ := doc.Resolve(obj).(pdf.Dict)
		if dict == nil {
			continue
		}
		cmapObj, ok := dict["ToUnicode"]
		if !ok {
			continue
		}
		data, err := doc.StreamData(cmapObj)
		if err != nil || len(data) == 0 {
			continue
		}
		out[string(name)] = &fontDecoder{cmap: parseToUnicode(data)}
	}
	return out
}

// toUnicodeMap holds bfchar/bfrange mappings keyed by source byte strings,
// with the distinct code lengths seen, longest first.
type toUnicodeMap struct {
	entries map[string]string
	lengths []int
}

func parseToUnicode(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{entries: make(map[string]string)}
	lengths := make(map[int]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	state := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		switch {
		case strings.HasSuffix(line, "begincodespacerange"):
			state = "codespace"
			continue
		case strings.HasSuffix(line, "beginbfchar"):
			state = "bfchar"
			continue
		case strings.HasSuffix(line, "beginbfrange"):
			state = "bfrange"
			continue
		case strings.HasPrefix(line, "end"):
			state = ""
			continue
		}
		switch state {
		case "codespace":
			if hexes := hexTokens(line); len(hexes) >= 1 {
				if b := hexBytes(hexes[0]); len(b) > 0 {
					lengths[len(b)] = struct{}{}
				}
			}
		case "bfchar":
			hexes := hexTokens(line)
			if len(hexes) < 2 {
				continue
			}
			src := hexBytes(hexes[0])
			if len(src) == 0 {
				continue
			}
			m.entries[string(src)] = decodeUTF16BE(hexBytes(hexes[1]))
			lengths[len(src)] = struct{}{}
		case "bfrange":
			line = joinBracketed(line, sc)
			hexes := hexTokens(line)
			if len(hexes) < 3 {
				continue
			}
			src := hexBytes(hexes[0])
			lo, hi := bytesInt(src), bytesInt(hexBytes(hexes[1]))
			lengths[len(src)] = struct{}{}
			if strings.Contains(line, "[") {
				for i := 0; i <= hi-lo && 2+i < len(hexes); i++ {
					m.entries[string(intBytes(lo+i, len(src)))] = decodeUTF16BE(hexBytes(hexes[2+i]))
				}
			} else {
				dst := hexBytes(hexes[2])
				base := bytesInt(dst)
				for i := 0; i <= hi-lo; i++ {
					m.entries[string(intBytes(lo+i, len(src)))] = decodeUTF16BE(intBytes(base+i, len(dst)))
				}
			}
		}
	}
	if len(lengths) == 0 {
		for k := range m.entries {
			lengths[len(k)] = struct{}{}
		}
	}
	for l := range lengths {
		m.lengths = append(m.lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(m.lengths)))
	return m
}

// joinBracketed pulls in continuation lines until an open bfrange array
// closes.
func joinBracketed(line string, sc *bufio.Scanner) string {
	if !strings.Contains(line, "[") || strings.Contains(line, "]") {
		return line
	}
	for sc.Scan() {
		next := strings.TrimSpace(sc.Text())
		line += " " + next
		if strings.Contains(next, "]") {
			break
		}
	}
	return line
}

func (m *toUnicodeMap) decode(data []byte) string {
	if len(m.lengths) == 0 {
		return string(data)
	}
	var out strings.Builder
	for len(data) > 0 {
		matched := false
		for _, l := range m.lengths {
			if len(data) < l {
				continue
			}
			if val, ok := m.entries[string(data[:l])]; ok {
				out.WriteString(val)
				data = data[l:]
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(data[0])
			data = data[1:]
		}
	}
	return out.String()
}

func hexTokens(line string) []string {
	var tokens []string
	for {
		start := strings.IndexByte(line, '<')
		if start == -1 {
			break
		}
		end := strings.IndexByte(line[start+1:], '>')
		if end == -1 {
			break
		}
		tokens = append(tokens, strings.ReplaceAll(line[start+1:start+1+end], " ", ""))
		line = line[start+2+end:]
	}
	return tokens
}

func hexBytes(hex string) []byte {
	if len(hex)%2 == 1 {
		hex += "0"
	}
	out := make([]byte, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		out[i/2] = hexNibble(hex[i])<<4 | hexNibble(hex[i+1])
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func bytesInt(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func intBytes(v, length int) []byte {
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
