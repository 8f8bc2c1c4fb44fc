// Package coords converts between PDF user space (origin at the page's
// bottom-left corner, Y up) and screen space (origin at the top-left of the
// rendered surface, Y down). All conversions are pure; rotation is handled
// by the renderer's viewport, never here.
package coords

import (
	"errors"
	"math"
)

// Point is a position in PDF space unless explicitly labeled otherwise.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle. In PDF space Y is measured from the
// page bottom to the rectangle's lower edge.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside r (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// PdfToScreen maps a PDF-space point to screen space for a page of the given
// height at the given zoom.
func PdfToScreen(x, y, pageHeight, zoom float64) (float64, float64) {
	return x * zoom, (pageHeight - y) * zoom
}

// ScreenToPdf is the exact inverse of PdfToScreen.
func ScreenToPdf(x, y, pageHeight, zoom float64) (float64, float64) {
	return x / zoom, pageHeight - y/zoom
}

// RectPdfToScreen maps a PDF-space rectangle to screen space. The screen
// rectangle's top-left corner corresponds to the PDF rectangle's top edge.
func RectPdfToScreen(r Rect, pageHeight, zoom float64) Rect {
	sx, sy := PdfToScreen(r.X, r.Y+r.Height, pageHeight, zoom)
	return Rect{X: sx, Y: sy, Width: r.Width * zoom, Height: r.Height * zoom}
}

// RectScreenToPdf is the inverse of RectPdfToScreen.
func RectScreenToPdf(r Rect, pageHeight, zoom float64) Rect {
	px, py := ScreenToPdf(r.X, r.Y, pageHeight, zoom)
	h := r.Height / zoom
	return Rect{X: px, Y: py - h, Width: r.Width / zoom, Height: h}
}

// Matrix is a PDF affine transform [a b c d e f], mapping
// (x, y) -> (a*x + c*y + e, b*x + d*y + f).
type Matrix [6]float64

// Identity returns the identity transform.
func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns m followed by o (o applied last).
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

// Apply transforms p by m.
func (m Matrix) Apply(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// ErrSingular is returned by Inverse for non-invertible matrices.
var ErrSingular = errors.New("coords: matrix is singular")

// Inverse returns the inverse transform of m.
func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-12 {
		return Matrix{}, ErrSingular
	}
	return Matrix{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

// Translate returns a translation by (tx, ty).
func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Scaled returns a scale by (sx, sy).
func Scaled(sx, sy float64) Matrix { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rotated returns a counter-clockwise rotation by angle radians.
func Rotated(angle float64) Matrix {
	c, s := math.Cos(angle), math.Sin(angle)
	return Matrix{c, s, -s, c, 0, 0}
}
