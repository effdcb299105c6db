// Package background produces the opaque base frame of a slide from the
// first background found along its slide, layout and master chain.
package background

import (
	"bytes"
	"cmp"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"slices"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/system"
)

// PatternTile is the edge of one checkerboard square, in pixels.
const PatternTile = 20

type Resolver struct {
	Width, Height int
	logger        *slog.Logger
}

func NewResolver(width, height int, logger *slog.Logger) *Resolver {
	return &Resolver{Width: width, Height: height, logger: logging.OrDiscard(logger)}
}

// Resolve renders the first non-nil background in chain, or white when the
// chain is empty. The result is always fully opaque.
func (r *Resolver) Resolve(chain []*deck.Background, scope *system.Scope) *image.RGBA {
	img := scope.Acquire(image.Rect(0, 0, r.Width, r.Height))
	for _, bg := range chain {
		if bg == nil {
			continue
		}
		if err := r.render(img, bg); err != nil {
			r.logger.Warn("background failed, using white", "kind", bg.Kind, "error", err)
			fill(img, deck.White)
		}
		return img
	}
	fill(img, deck.White)
	return img
}

func (r *Resolver) render(dst *image.RGBA, bg *deck.Background) error {
	switch bg.Kind {
	case deck.BackgroundSolid:
		fill(dst, bg.Color)
	case deck.BackgroundGradient:
		gradient(dst, bg.Stops, bg.Angle)
	case deck.BackgroundPicture:
		return picture(dst, bg.Picture)
	case deck.BackgroundPattern:
		pattern(dst, bg.Fore, bg.Back)
	default:
		return fmt.Errorf("unsupported background %v", bg.Kind)
	}
	return nil
}

func fill(dst *image.RGBA, c deck.Color) {
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c.RGBA()}, image.Point{}, draw.Src)
}

// gradient interpolates stops along the axis at angle degrees through the
// frame centre. Position 0 is the frame edge the axis starts from.
func gradient(dst *image.RGBA, stops []deck.GradientStop, angle float64) {
	if len(stops) == 0 {
		fill(dst, deck.White)
		return
	}
	sorted := slices.Clone(stops)
	slices.SortStableFunc(sorted, func(a, b deck.GradientStop) int {
		return cmp.Compare(a.Position, b.Position)
	})

	b := dst.Bounds()
	rad := angle * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	half := math.Abs(cx*dx) + math.Abs(cy*dy)
	if half == 0 {
		half = 1
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := dst.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			p := ((float64(x)+0.5-cx)*dx + (float64(y)+0.5-cy)*dy) / half
			c := colorAt(sorted, (p+1)/2)
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 255
			off += 4
		}
	}
}

func colorAt(stops []deck.GradientStop, pos float64) deck.Color {
	if pos <= stops[0].Position {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if pos >= last.Position {
		return last.Color
	}
	for i := 1; i < len(stops); i++ {
		a, b := stops[i-1], stops[i]
		if pos > b.Position {
			continue
		}
		span := b.Position - a.Position
		if span <= 0 {
			return b.Color
		}
		t := (pos - a.Position) / span
		return deck.Color{
			R: lerp(a.Color.R, b.Color.R, t),
			G: lerp(a.Color.G, b.Color.G, t),
			B: lerp(a.Color.B, b.Color.B, t),
		}
	}
	return last.Color
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// picture scales the image to the frame over white so transparent regions
// stay opaque.
func picture(dst *image.RGBA, data []byte) error {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode picture: %w", err)
	}
	fill(dst, deck.White)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return nil
}

// pattern paints a checkerboard: fore on the top-left and bottom-right
// squares of every 2x2 block, back elsewhere.
func pattern(dst *image.RGBA, fore, back deck.Color) {
	fill(dst, back)
	f := &image.Uniform{C: fore.RGBA()}
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 2 * PatternTile {
		for x := b.Min.X; x < b.Max.X; x += 2 * PatternTile {
			draw.Draw(dst, image.Rect(x, y, x+PatternTile, y+PatternTile).Intersect(b), f, image.Point{}, draw.Src)
			draw.Draw(dst, image.Rect(x+PatternTile, y+PatternTile, x+2*PatternTile, y+2*PatternTile).Intersect(b), f, image.Point{}, draw.Src)
		}
	}
}

// Opaque reports whether every pixel of img has full alpha.
func Opaque(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return false
		}
	}
	return true
}
