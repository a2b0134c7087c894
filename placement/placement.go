// Package placement computes where a source page lands on a fixed-size output
// page: rotated, uniformly scaled to fit, and centered.
package placement

import (
	"math"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/rect"

	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/rotation"
)

// Placement describes how a source page is drawn onto the canvas.
type Placement struct {
	// Rect is the destination rectangle in canvas coordinates.
	Rect rect.Rect
	// Rotation is the counter-clockwise angle applied to the source content
	// when drawing. It is the negative of the stored clockwise angle.
	Rotation int
	// Scale is the uniform scale factor from source to canvas.
	Scale float64
}

// Fit places a page of the given unrotated size, rotated clockwise by angle,
// on canvas. The rotated page is scaled with a single factor so that it fits
// the canvas completely ("contain") and is centered on both axes.
//
// width and height must be positive.
func Fit(width, height float64, angle rotation.Angle, canvas geometry.Size) Placement {
	w, h := width, height
	if angle.Quarter() {
		w, h = h, w
	}

	scale := math.Min(canvas.Width/w, canvas.Height/h)
	fw := w * scale
	fh := h * scale
	x0 := (canvas.Width - fw) / 2
	y0 := (canvas.Height - fh) / 2

	return Placement{
		Rect:     rect.Rect{LLx: x0, LLy: y0, URx: x0 + fw, URy: y0 + fh},
		Rotation: -int(angle),
		Scale:    scale,
	}
}

// Transform returns the matrix which maps the box src, turned
// counter-clockwise by rot degrees, exactly onto dest.
//
// rot must be a multiple of 90. Passing the Rotation of a Placement yields
// a clockwise visual turn by the stored angle, the same direction as the
// /Rotate entry of a page.
func Transform(src rect.Rect, rot int, dest rect.Rect) matrix.Matrix {
	m := matrix.Translate(-src.LLx, -src.LLy).Mul(matrix.RotateDeg(float64(rot)))

	w, h := src.Dx(), src.Dy()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := apply(m, c[0]+src.LLx, c[1]+src.LLy)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	m = m.Mul(matrix.Translate(-minX, -minY))
	m = m.Mul(matrix.Scale(dest.Dx()/(maxX-minX), dest.Dy()/(maxY-minY)))
	m = m.Mul(matrix.Translate(dest.LLx, dest.LLy))
	return clean(m)
}

func apply(m matrix.Matrix, x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// clean removes floating point noise left by the trigonometry in RotateDeg,
// so that quarter turns serialize as exact 0 and 1 entries.
func clean(m matrix.Matrix) matrix.Matrix {
	for i, v := range m {
		r := math.Round(v*1e9) / 1e9
		if r == 0 {
			r = 0 // drop negative zero
		}
		m[i] = r
	}
	return m
}
