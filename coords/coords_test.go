package coords

import (
	"math"
	"testing"
)

func TestPdfScreenRoundTrip(t *testing.T) {
	heights := []float64{792, 842, 1000, 612.5}
	zooms := []float64{0.25, 0.5, 1, 1.5, 2, 3.75}
	points := []Point{
		{0, 0},
		{100, 200},
		{612, 792},
		{0.001, 0.001},
		{599.9, 13.37},
	}
	for _, h := range heights {
		for _, z := range zooms {
			for _, p := range points {
				sx, sy := PdfToScreen(p.X, p.Y, h, z)
				bx, by := ScreenToPdf(sx, sy, h, z)
				if math.Abs(bx-p.X) > 1e-6 || math.Abs(by-p.Y) > 1e-6 {
					t.Fatalf("round trip (%v, %v) h=%v z=%v: got (%v, %v)", p.X, p.Y, h, z, bx, by)
				}
			}
		}
	}
}

func TestPdfToScreenOrientation(t *testing.T) {
	// A point near the page top in PDF space lands near the top of the screen.
	_, sy := PdfToScreen(0, 780, 792, 1)
	if sy != 12 {
		t.Fatalf("expected screen y 12, got %v", sy)
	}
	// Zoom scales both axes.
	sx, sy := PdfToScreen(100, 700, 792, 2)
	if sx != 200 || sy != 184 {
		t.Fatalf("expected (200, 184), got (%v, %v)", sx, sy)
	}
}

func TestRectRoundTrip(t *testing.T) {
	rects := []Rect{
		{X: 100, Y: 200, Width: 150, Height: 20},
		{X: 0, Y: 0, Width: 612, Height: 792},
		{X: 13.5, Y: 77.25, Width: 1, Height: 300},
	}
	for _, r := range rects {
		s := RectPdfToScreen(r, 792, 1.5)
		back := RectScreenToPdf(s, 792, 1.5)
		if math.Abs(back.X-r.X) > 1e-6 || math.Abs(back.Y-r.Y) > 1e-6 ||
			math.Abs(back.Width-r.Width) > 1e-6 || math.Abs(back.Height-r.Height) > 1e-6 {
			t.Fatalf("rect round trip %+v: got %+v", r, back)
		}
	}
}

func TestRectPdfToScreenUsesTopEdge(t *testing.T) {
	r := Rect{X: 100, Y: 200, Width: 150, Height: 20}
	s := RectPdfToScreen(r, 792, 1)
	if s.X != 100 || s.Y != 792-220 {
		t.Fatalf("expected screen origin (100, 572), got (%v, %v)", s.X, s.Y)
	}
	if s.Width != 150 || s.Height != 20 {
		t.Fatalf("unexpected screen size %vx%v", s.Width, s.Height)
	}
}

func TestRectContains(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 20, Height: 5}
	if !r.Contains(Point{X: 10, Y: 10}) || !r.Contains(Point{X: 30, Y: 15}) {
		t.Fatal("expected edge points inside")
	}
	if r.Contains(Point{X: 9.99, Y: 12}) || r.Contains(Point{X: 15, Y: 15.01}) {
		t.Fatal("expected outside points excluded")
	}
}

func TestMatrixInverse(t *testing.T) {
	m := Translate(30, 40).Multiply(Scaled(2, 3)).Multiply(Rotated(math.Pi / 6))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := Point{X: 12.5, Y: -7}
	q := inv.Apply(m.Apply(p))
	if math.Abs(q.X-p.X) > 1e-9 || math.Abs(q.Y-p.Y) > 1e-9 {
		t.Fatalf("inverse round trip: got %+v", q)
	}

	if _, err := (Matrix{0, 0, 0, 0, 1, 2}).Inverse(); err == nil {
		t.Fatal("expected singular matrix error")
	}
}
