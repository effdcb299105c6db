package raster

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// maxFontFileSize limits the size of a font file loaded into memory.
const maxFontFileSize = 20 << 20

// FontCache parses one TrueType/OpenType font and caches a face per point
// size. Faces are not safe for concurrent use, so every draw goes through
// the cache's lock.
type FontCache struct {
	mu    sync.Mutex
	font  *opentype.Font
	faces map[float64]font.Face
}

// NewFontCache loads the font at path, or the embedded Go Regular face when
// path is empty.
func NewFontCache(path string) (*FontCache, error) {
	data := goregular.TTF
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > maxFontFileSize {
			return nil, fmt.Errorf("font file too large: %d bytes (max %d)", info.Size(), maxFontFileSize)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &FontCache{font: f, faces: make(map[float64]font.Face)}, nil
}

// BasicFontCache draws every size with the fixed 7x13 bitmap face. It is
// the fallback when no outline font can be parsed.
func BasicFontCache() *FontCache {
	return &FontCache{faces: make(map[float64]font.Face)}
}

// face must be called with fc.mu held. Sizes are points at 72 DPI, so one
// point is one pixel.
func (fc *FontCache) face(sizePt float64) font.Face {
	if fc.font == nil {
		return basicfont.Face7x13
	}
	if f, ok := fc.faces[sizePt]; ok {
		return f
	}
	f, err := opentype.NewFace(fc.font, &opentype.FaceOptions{
		Size:    sizePt,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	fc.faces[sizePt] = f
	return f
}

// DrawString draws text with its top-left corner at (x, y).
func (fc *FontCache) DrawString(dst *image.RGBA, sizePt float64, c color.Color, x, y int, text string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	face := fc.face(sizePt)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y).Add(fixed.Point26_6{Y: face.Metrics().Ascent}),
	}
	d.DrawString(text)
}

// MeasureString returns the advance width of text in pixels.
func (fc *FontCache) MeasureString(sizePt float64, text string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return font.MeasureString(fc.face(sizePt), text).Ceil()
}

// Close releases cached faces.
func (fc *FontCache) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for k, f := range fc.faces {
		f.Close()
		delete(fc.faces, k)
	}
	return nil
}
