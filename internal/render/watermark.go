package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Watermark canvas, in pixels, and its placed size, in millimetres.
const (
	watermarkCanvasW = 300
	watermarkCanvasH = 150
	watermarkPx      = 20
	watermarkTextX   = 40
	watermarkTextY   = 75
	watermarkAngle   = -30.0

	WatermarkWidth  = 80.0
	WatermarkHeight = 40.0
)

var watermarkColor = color.NRGBA{R: 200, G: 200, B: 200, A: 102}

// Watermark tile origins on every page.
var (
	WatermarkColumns = []float64{30, 110}
	WatermarkRows    = []float64{50, 130, 210}
)

// WatermarkLabel is the text tiled across each page.
func WatermarkLabel(id string) string { return "同意协议 " + id }

// watermarkImage draws the label on a transparent canvas rotated about its
// centre.
func (r *Renderer) watermarkImage(id string) ([]byte, error) {
	bounds := image.Rect(0, 0, watermarkCanvasW, watermarkCanvasH)
	src := image.NewRGBA(bounds)
	r.engine.DrawText(src, WatermarkLabel(id), watermarkPx, watermarkColor, watermarkTextX, watermarkTextY)

	rad := watermarkAngle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(watermarkCanvasW)/2, float64(watermarkCanvasH)/2
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	dst := image.NewRGBA(bounds)
	xdraw.BiLinear.Transform(dst, m, src, bounds, xdraw.Over, nil)
	return encodePNG(dst)
}

// watermark tiles the label over every page after pagination.
func (r *Renderer) watermark(doc *Document) error {
	img, err := r.watermarkImage(doc.ID)
	if err != nil {
		return err
	}
	for _, p := range doc.Pages {
		for _, y := range WatermarkRows {
			for _, x := range WatermarkColumns {
				p.add(Element{
					Kind: KindWatermark, X: x, Y: y, W: WatermarkWidth, H: WatermarkHeight,
					Lines: []string{WatermarkLabel(doc.ID)}, PNG: img,
				})
			}
		}
	}
	return nil
}
