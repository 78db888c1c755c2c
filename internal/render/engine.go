package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Scale is the raster resolution in pixels per millimetre.
const Scale = 3

// LineHeight is the height of one text line at fontSize, in millimetres.
func LineHeight(fontSize float64) float64 { return fontSize * 1.5 }

// TextLayoutEngine measures and rasterizes text.
type TextLayoutEngine interface {
	// Measure returns the advance width of text at fontSize, in millimetres.
	Measure(text string, fontSize float64) float64

	// Rasterize draws lines top-down in black on white into a canvas
	// width*Scale wide and LineHeight(fontSize)*len(lines)*Scale high.
	Rasterize(lines []string, width, fontSize float64, bold bool) (image.Image, error)

	// DrawText paints text with its baseline at (x, y) pixels of dst using a
	// pixel-sized font.
	DrawText(dst draw.Image, text string, px float64, c color.Color, x, y int)
}

// FontEngine draws with an OpenType face, or with the built-in 7x13 bitmap
// face when no font file is configured. The bitmap face has no CJK glyphs.
type FontEngine struct {
	mu    sync.Mutex
	font  *opentype.Font // nil means basicfont
	faces map[float64]font.Face
}

var _ TextLayoutEngine = (*FontEngine)(nil)

// NewBasicEngine returns an engine backed by basicfont.Face7x13.
func NewBasicEngine() *FontEngine {
	return &FontEngine{faces: map[float64]font.Face{}}
}

// NewFontEngine parses a TTF/OTF font.
func NewFontEngine(src []byte) (*FontEngine, error) {
	f, err := opentype.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &FontEngine{font: f, faces: map[float64]font.Face{}}, nil
}

// LoadFontEngine reads a font file; an empty path yields the basic engine.
func LoadFontEngine(path string) (*FontEngine, error) {
	if path == "" {
		return NewBasicEngine(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	return NewFontEngine(src)
}

const basicHeight = 13

// face returns a face for px-sized text and the factor its advances must be
// multiplied by to match px.
func (e *FontEngine) face(px float64) (font.Face, float64) {
	if e.font == nil {
		return basicfont.Face7x13, px / basicHeight
	}
	if f, ok := e.faces[px]; ok {
		return f, 1
	}
	f, err := opentype.NewFace(e.font, &opentype.FaceOptions{Size: px, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return basicfont.Face7x13, px / basicHeight
	}
	e.faces[px] = f
	return f, 1
}

// Measure implements TextLayoutEngine.
func (e *FontEngine) Measure(text string, fontSize float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	px := fontSize * Scale
	f, k := e.face(px)
	adv := font.MeasureString(f, text)
	return float64(adv) / 64 * k / Scale
}

// Rasterize implements TextLayoutEngine.
func (e *FontEngine) Rasterize(lines []string, width, fontSize float64, bold bool) (image.Image, error) {
	w := int(math.Round(width * Scale))
	lh := LineHeight(fontSize) * Scale
	h := int(math.Round(lh * float64(len(lines))))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty canvas %dx%d", w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	e.mu.Lock()
	defer e.mu.Unlock()
	px := fontSize * Scale
	f, _ := e.face(px)
	ascent := f.Metrics().Ascent.Ceil()
	for i, line := range lines {
		top := int(math.Round(float64(i) * lh))
		e.draw(img, f, line, image.Black, 0, top+ascent)
		if bold {
			e.draw(img, f, line, image.Black, 1, top+ascent)
		}
	}
	return img, nil
}

// DrawText implements TextLayoutEngine.
func (e *FontEngine) DrawText(dst draw.Image, text string, px float64, c color.Color, x, y int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, _ := e.face(px)
	e.draw(dst, f, text, image.NewUniform(c), x, y)
}

func (e *FontEngine) draw(dst draw.Image, f font.Face, text string, src image.Image, x, y int) {
	d := font.Drawer{Dst: dst, Src: src, Face: f, Dot: fixed.P(x, y)}
	d.DrawString(text)
}
