package maps

import (
	"image"
	"image/color"
	"io"
	"math"

	"github.com/disintegration/imaging"

	"kisantrack/models"
)

const (
	canvasPad    = 48
	MinWidth     = 64
	MaxWidth     = 1024
	DefaultWidth = 320
	// drawn at full size so Fit only ever scales down
	canvasSize = MaxWidth
	// minSpan keeps a route whose ends nearly coincide from being blown up to
	// the whole canvas.
	minSpan = 0.01
)

var (
	background = color.NRGBA{R: 0xf5, G: 0xf3, B: 0xee, A: 0xff}
	guideColor = color.NRGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
	trailColor = color.NRGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0xff}
	farmColor  = color.NRGBA{R: 0x8d, G: 0x6e, B: 0x63, A: 0xff}
	destColor  = color.NRGBA{R: 0xc6, G: 0x28, B: 0x28, A: 0xff}
	hereColor  = color.NRGBA{R: 0x15, G: 0x65, B: 0xc0, A: 0xff}
)

// ClampWidth maps a requested width onto [MinWidth, MaxWidth]; zero or
// negative means DefaultWidth.
func ClampWidth(w int) int {
	switch {
	case w <= 0:
		return DefaultWidth
	case w < MinWidth:
		return MinWidth
	case w > MaxWidth:
		return MaxWidth
	}
	return w
}

type projection struct {
	minLat, minLng, span float64
}

func newProjection(points []models.LatLng) projection {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		minLat, maxLat = math.Min(minLat, p.Lat), math.Max(maxLat, p.Lat)
		minLng, maxLng = math.Min(minLng, p.Lng), math.Max(maxLng, p.Lng)
	}
	span := math.Max(math.Max(maxLat-minLat, maxLng-minLng), minSpan)
	// centre the bounding box in a square of side span
	return projection{
		minLat: (minLat+maxLat)/2 - span/2,
		minLng: (minLng+maxLng)/2 - span/2,
		span:   span,
	}
}

func (p projection) point(ll models.LatLng) image.Point {
	inner := float64(canvasSize - 2*canvasPad)
	x := canvasPad + (ll.Lng-p.minLng)/p.span*inner
	y := canvasPad + (1-(ll.Lat-p.minLat)/p.span)*inner
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

// RenderRoute draws the straight farm-to-destination guide, the travelled
// trail and the markers, scaled to fit width x width.
func RenderRoute(o *models.Order, width int) image.Image {
	width = ClampWidth(width)
	points := []models.LatLng{o.FarmLocation, o.DestLocation, o.CurrentLocation}
	for _, s := range o.TrackingHistory {
		points = append(points, s.Point())
	}
	proj := newProjection(points)

	canvas := imaging.New(canvasSize, canvasSize, background)
	line(canvas, proj.point(o.FarmLocation), proj.point(o.DestLocation), guideColor, 2)

	prev := proj.point(o.FarmLocation)
	for _, s := range o.TrackingHistory {
		next := proj.point(s.Point())
		line(canvas, prev, next, trailColor, 4)
		prev = next
	}

	dot(canvas, proj.point(o.FarmLocation), 14, farmColor)
	dot(canvas, proj.point(o.DestLocation), 14, destColor)
	dot(canvas, proj.point(o.CurrentLocation), 12, hereColor)

	return imaging.Fit(canvas, width, width, imaging.Lanczos)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// line is Bresenham with a square brush of the given half-width.
func line(img *image.NRGBA, a, b image.Point, c color.NRGBA, half int) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		brush(img, x, y, half, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func brush(img *image.NRGBA, x, y, half int, c color.NRGBA) {
	for yy := y - half + 1; yy < y+half; yy++ {
		for xx := x - half + 1; xx < x+half; xx++ {
			if (image.Point{X: xx, Y: yy}).In(img.Rect) {
				img.SetNRGBA(xx, yy, c)
			}
		}
	}
}

func dot(img *image.NRGBA, at image.Point, r int, c color.NRGBA) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			p := image.Pt(at.X+x, at.Y+y)
			if x*x+y*y <= r*r && p.In(img.Rect) {
				img.SetNRGBA(p.X, p.Y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
