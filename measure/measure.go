// Package measure sizes annotation text. It shapes each line with
// go-text/typesetting against an embedded face and falls back to a
// character-count heuristic when no face is available, so measurement can
// never fail.
package measure

import (
	"bytes"
	"strings"
	"sync"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// Style is the subset of text formatting that affects measurement.
type Style struct {
	FontSize   float64
	FontFamily string
	Bold       bool
	Italic     bool
}

// Size is a measured bounding box in PDF units.
type Size struct {
	Width  float64
	Height float64
}

// DefaultFontSize is used when a style names no size.
const DefaultFontSize = 14.0

const (
	// widthPadding is added to the longest measured line so boxed text has
	// breathing room on both sides.
	widthPadding = 10.0
	// lineHeightFactor matches the editor's rendered line height.
	lineHeightFactor = 1.4
	// heuristicEmWidth approximates average glyph advance as a fraction of
	// the font size when shaping is unavailable.
	heuristicEmWidth = 0.6
)

// Measurer measures text. The zero value is not usable; construct with New.
type Measurer struct {
	mu      sync.Mutex
	regular *font.Face
	bold    *font.Face
	italic  *font.Face
	shaper  shaping.HarfbuzzShaper
}

// New returns a Measurer backed by the embedded Go faces. Faces that fail
// to parse are left nil and those styles degrade to the heuristic.
func New() *Measurer {
	m := &Measurer{}
	m.regular = parseFace(goregular.TTF)
	m.bold = parseFace(gobold.TTF)
	m.italic = parseFace(goitalic.TTF)
	return m
}

// NewHeuristic returns a Measurer with no faces, always using the fallback.
// Useful for tests and headless environments.
func NewHeuristic() *Measurer { return &Measurer{} }

func parseFace(ttf []byte) *font.Face {
	face, err := font.ParseTTF(bytes.NewReader(ttf))
	if err != nil {
		return nil
	}
	return face
}

// Measure returns the bounding box for content under style. Multi-line
// content splits on \n; the widest line wins.
func (m *Measurer) Measure(content string, style Style) Size {
	size := style.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	lines := strings.Split(content, "\n")
	maxWidth := 0.0
	for _, line := range lines {
		if w := m.LineWidth(line, style); w > maxWidth {
			maxWidth = w
		}
	}
	return Size{
		Width:  maxWidth + widthPadding,
		Height: float64(len(lines)) * size * lineHeightFactor,
	}
}

// LineWidth measures a single line without padding.
func (m *Measurer) LineWidth(line string, style Style) float64 {
	size := style.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	if line == "" {
		return 0
	}
	face := m.face(style)
	if face == nil {
		return HeuristicWidth(line, size)
	}

	runes := []rune(line)
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      face,
		Size:      fixed.Int26_6(size * 64),
		Script:    language.Latin,
		Language:  language.DefaultLanguage(),
	}
	m.mu.Lock()
	output := m.shaper.Shape(input)
	m.mu.Unlock()

	width := 0.0
	for _, g := range output.Glyphs {
		width += float64(g.XAdvance) / 64.0
	}
	if width <= 0 {
		return HeuristicWidth(line, size)
	}
	return width
}

func (m *Measurer) face(style Style) *font.Face {
	switch {
	case style.Bold && m.bold != nil:
		return m.bold
	case style.Italic && m.italic != nil:
		return m.italic
	default:
		return m.regular
	}
}

// HeuristicWidth is the shared character-count fallback, also used by the
// save pipeline when sizing cover rectangles for replaced text.
func HeuristicWidth(line string, fontSize float64) float64 {
	return float64(len([]rune(line))) * fontSize * heuristicEmWidth
}
