// Package raster draws placed shapes onto transparent frame-sized layers.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/system"
)

const (
	// TableFontSize and TablePadding style every table cell.
	TableFontSize = 24
	TablePadding  = 5
)

// Layer is one rasterized element in z-order. Exactly one of Image and
// Animation is set; Image always has the bounds of the frame.
type Layer struct {
	Shape     string
	Image     *image.RGBA
	Animation *clip.Animation
}

// ShapeRenderError reports a shape that could not be drawn. The shape is
// dropped and the slide continues.
type ShapeRenderError struct {
	Shape string
	Kind  deck.ShapeKind
	Err   error
}

func (e *ShapeRenderError) Error() string {
	return fmt.Sprintf("render %s shape %q: %v", e.Kind, e.Shape, e.Err)
}

func (e *ShapeRenderError) Unwrap() error { return e.Err }

type Rasterizer struct {
	width, height int
	fonts         *FontCache
	logger        *slog.Logger
}

func NewRasterizer(width, height int, fonts *FontCache, logger *slog.Logger) *Rasterizer {
	if fonts == nil {
		fonts = BasicFontCache()
	}
	return &Rasterizer{width: width, height: height, fonts: fonts, logger: logging.OrDiscard(logger)}
}

func (r *Rasterizer) frame() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

// RenderSlide rasterizes every placed shape in order. Shapes that fail are
// logged and left out.
func (r *Rasterizer) RenderSlide(placed []layout.Placed, scope *system.Scope) []Layer {
	var layers []Layer
	for _, p := range placed {
		ls, err := r.Render(p, scope)
		if err != nil {
			r.logger.Warn("shape skipped", "shape", p.Name, "kind", p.Kind, "error", err)
			continue
		}
		layers = append(layers, ls...)
	}
	return layers
}

// Render draws one shape. The fill goes first, then text, then the
// kind-specific content. A shape with nothing visible yields no layers.
func (r *Rasterizer) Render(p layout.Placed, scope *system.Scope) (layers []Layer, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			layers = nil
			err = &ShapeRenderError{Shape: p.Name, Kind: p.Kind, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	var static *image.RGBA
	canvas := func() *image.RGBA {
		if static == nil {
			static = scope.Acquire(r.frame())
		}
		return static
	}

	empty := p.Box.Empty()
	if p.Fill != nil && !empty {
		draw.Draw(canvas(), p.Box, &image.Uniform{C: p.Fill.RGBA()}, image.Point{}, draw.Src)
	}
	if p.Text != nil {
		r.drawText(canvas, p)
	}

	var anim *clip.Animation
	switch p.Kind {
	case deck.KindFilled, deck.KindText:
	case deck.KindStaticPicture:
		if !empty {
			if err := r.drawPicture(canvas(), p); err != nil {
				return nil, &ShapeRenderError{Shape: p.Name, Kind: p.Kind, Err: err}
			}
		}
	case deck.KindAnimatedPicture:
		if !empty {
			anim, err = DecodeAnimation(p.Picture, p.Box, scope)
			if err != nil {
				return nil, &ShapeRenderError{Shape: p.Name, Kind: p.Kind, Err: err}
			}
		}
	case deck.KindTable:
		r.drawTable(canvas(), p.Table)
	default:
		return nil, &ShapeRenderError{Shape: p.Name, Kind: p.Kind, Err: fmt.Errorf("unsupported shape kind")}
	}

	if static != nil {
		layers = append(layers, Layer{Shape: p.Name, Image: static})
	}
	if anim != nil {
		layers = append(layers, Layer{Shape: p.Name, Animation: anim})
	}
	return layers, nil
}

// drawText draws each run at the shape's top-left corner, trimmed of
// surrounding whitespace. Blank runs are skipped and runs are not flowed
// into lines.
func (r *Rasterizer) drawText(canvas func() *image.RGBA, p layout.Placed) {
	for _, para := range p.Text.Paragraphs {
		for _, run := range para.Runs {
			text := strings.TrimSpace(run.Text)
			if text == "" {
				continue
			}
			r.fonts.DrawString(canvas(), run.ResolvedSize(), run.ResolvedColor().RGBA(), p.Box.Min.X, p.Box.Min.Y, text)
		}
	}
}

func (r *Rasterizer) drawPicture(dst *image.RGBA, p layout.Placed) error {
	src, _, err := image.Decode(bytes.NewReader(p.Picture))
	if err != nil {
		return fmt.Errorf("decode picture: %w", err)
	}
	xdraw.CatmullRom.Scale(dst, p.Box, src, src.Bounds(), xdraw.Over, nil)
	return nil
}

// drawTable lays the grid over the whole frame: cell size is the frame
// divided by the grid dimensions, whatever the shape's own box.
func (r *Rasterizer) drawTable(dst *image.RGBA, t *deck.Table) {
	rows, cols := t.Dimensions()
	if rows == 0 || cols == 0 {
		return
	}
	cw, ch := r.width/cols, r.height/rows
	white := &image.Uniform{C: color.White}
	black := &image.Uniform{C: color.Black}

	for ri, row := range t.Rows {
		for ci, cell := range row {
			x, y := ci*cw, ri*ch
			// Edges are inclusive, so neighbouring cells share a border line.
			draw.Draw(dst, image.Rect(x, y, x+cw+1, y+ch+1), black, image.Point{}, draw.Src)
			draw.Draw(dst, image.Rect(x+1, y+1, x+cw, y+ch), white, image.Point{}, draw.Src)
			text := r.fitText(strings.TrimSpace(cell), TableFontSize, cw-2*TablePadding)
			if text != "" {
				r.fonts.DrawString(dst, TableFontSize, color.Black, x+TablePadding, y+TablePadding, text)
			}
		}
	}
}

// fitText drops trailing runes until text is at most width pixels wide.
func (r *Rasterizer) fitText(text string, sizePt float64, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(text)
	for len(runes) > 0 && r.fonts.MeasureString(sizePt, string(runes)) > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
