// Package layout maps shape geometry from the deck's native coordinate
// space onto the output frame.
package layout

import (
	"image"
	"log/slog"

	"github.com/ivlev/deck2video/internal/deck"
)

// Mapper scales native units linearly onto a pixel frame. Values are
// truncated toward zero, never rounded.
type Mapper struct {
	NativeW, NativeH int64
	Width, Height    int
}

func NewMapper(d *deck.Deck, width, height int) Mapper {
	return Mapper{NativeW: d.Width, NativeH: d.Height, Width: width, Height: height}
}

// X converts a horizontal native coordinate or length to pixels.
func (m Mapper) X(native int64) int {
	return int(float64(native) / float64(m.NativeW) * float64(m.Width))
}

// Y converts a vertical native coordinate or length to pixels.
func (m Mapper) Y(native int64) int {
	return int(float64(native) / float64(m.NativeH) * float64(m.Height))
}

// Box returns the pixel rectangle of a shape. A missing position is the
// origin; a missing size is half the native extent on each axis.
func (m Mapper) Box(s *deck.Shape) image.Rectangle {
	var x, y int64
	if s.Position != nil {
		x, y = s.Position.X, s.Position.Y
	}
	w, h := m.NativeW/2, m.NativeH/2
	if s.Size != nil {
		w, h = s.Size.W, s.Size.H
	}
	px, py := m.X(x), m.Y(y)
	return image.Rect(px, py, px+m.X(w), py+m.Y(h))
}

// Placed is a shape resolved to pixel geometry, ready for rasterization.
type Placed struct {
	// Index is the shape's position in the slide's z-order.
	Index int
	Name  string
	Kind  deck.ShapeKind
	Box   image.Rectangle

	Fill    *deck.Color
	Text    *deck.TextFrame
	Picture []byte
	Table   *deck.Table
}

// Place resolves every renderable shape of a slide in z-order. Shapes of
// unknown kind are skipped.
func (m Mapper) Place(s *deck.Slide, logger *slog.Logger) []Placed {
	out := make([]Placed, 0, len(s.Shapes))
	for i := range s.Shapes {
		sh := &s.Shapes[i]
		if sh.Kind == deck.KindUnknown {
			logger.Warn("skipping shape of unknown kind", "shape", sh.Name, "kind", sh.RawKind)
			continue
		}
		out = append(out, Placed{
			Index:   i,
			Name:    sh.Name,
			Kind:    sh.Kind,
			Box:     m.Box(sh),
			Fill:    sh.Fill,
			Text:    sh.Text,
			Picture: sh.Picture,
			Table:   sh.Table,
		})
	}
	return out
}
