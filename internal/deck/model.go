// Package deck holds the slide-deck object model consumed by the renderer
// and the loaders that produce it.
package deck

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
)

// Color is an opaque RGB colour.
type Color struct {
	R, G, B uint8
}

var (
	White = Color{R: 255, G: 255, B: 255}
	Black = Color{}
)

// RGBA returns c as an opaque color.RGBA.
func (c Color) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func (c Color) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseColor accepts "#RRGGBB", "RRGGBB" and "#RGB".
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	var c Color
	if _, err := fmt.Sscanf(h, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return c, nil
}

type BackgroundKind int

const (
	BackgroundSolid BackgroundKind = iota + 1
	BackgroundGradient
	BackgroundPicture
	BackgroundPattern
)

func (k BackgroundKind) String() string {
	switch k {
	case BackgroundSolid:
		return "solid"
	case BackgroundGradient:
		return "gradient"
	case BackgroundPicture:
		return "picture"
	case BackgroundPattern:
		return "pattern"
	default:
		return fmt.Sprintf("background(%d)", int(k))
	}
}

// GradientStop is a colour at a relative position in [0, 1] along the
// gradient axis.
type GradientStop struct {
	Position float64
	Color    Color
}

// Background is one of solid, gradient, picture or pattern; Kind selects
// which fields are meaningful.
type Background struct {
	Kind BackgroundKind

	Color Color

	Stops []GradientStop
	// Angle of the gradient axis in degrees; 0 runs left to right, 90 top to bottom.
	Angle float64

	Picture []byte

	Fore, Back Color
}

type ShapeKind int

const (
	KindUnknown ShapeKind = iota
	KindFilled
	KindText
	KindStaticPicture
	KindAnimatedPicture
	KindTable
)

func (k ShapeKind) String() string {
	switch k {
	case KindFilled:
		return "filled"
	case KindText:
		return "text"
	case KindStaticPicture:
		return "picture"
	case KindAnimatedPicture:
		return "animated_picture"
	case KindTable:
		return "table"
	default:
		return "unknown"
	}
}

// Point is a position in native units.
type Point struct {
	X, Y int64
}

// Extent is a size in native units.
type Extent struct {
	W, H int64
}

// Shape is a visual element of a slide. Kind is the closed set of content
// the rasterizer knows; Fill and Text may accompany any kind and are drawn
// beneath the kind-specific content.
type Shape struct {
	Name     string
	Kind     ShapeKind
	Position *Point
	Size     *Extent
	Fill     *Color
	Text     *TextFrame
	Picture  []byte
	Table    *Table

	// RawKind keeps the declared kind when it was not recognised.
	RawKind string
}

type TextFrame struct {
	Paragraphs []Paragraph
}

type Paragraph struct {
	Runs []Run
}

// Run is a span of text with uniform formatting. A nil Color, or a run that
// only names a theme colour, renders black.
type Run struct {
	Text       string
	Size       float64
	Color      *Color
	ThemeColor string
}

// DefaultFontSize is used for runs without an explicit size, in points.
const DefaultFontSize = 24

// ResolvedColor returns the run colour, black when unresolvable.
func (r Run) ResolvedColor() Color {
	if r.Color == nil {
		return Black
	}
	return *r.Color
}

// ResolvedSize returns the run size in points.
func (r Run) ResolvedSize() float64 {
	if r.Size <= 0 {
		return DefaultFontSize
	}
	return r.Size
}

// Table is a grid of plain-text cells.
type Table struct {
	Rows [][]string
}

// Dimensions returns the grid size; ragged rows count as the widest row.
func (t *Table) Dimensions() (rows, cols int) {
	if t == nil {
		return 0, 0
	}
	for _, r := range t.Rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return len(t.Rows), cols
}

type Slide struct {
	Shapes     []Shape
	Background *Background
	Layout     string
}

type Layout struct {
	Name       string
	Master     string
	Background *Background
}

type Master struct {
	Name       string
	Background *Background
}

// Deck is the immutable input of a render. Width and Height are the native
// coordinate space every shape geometry is expressed in.
type Deck struct {
	Width   int64
	Height  int64
	Slides  []Slide
	Layouts []Layout
	Masters []Master
}

var ErrNoSlides = errors.New("deck has no slides")

// Validate checks the invariants the renderer relies on.
func (d *Deck) Validate() error {
	if d == nil {
		return errors.New("deck is nil")
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("deck native size must be positive, got %dx%d", d.Width, d.Height)
	}
	if len(d.Slides) == 0 {
		return ErrNoSlides
	}
	return nil
}

func (d *Deck) layout(name string) *Layout {
	for i := range d.Layouts {
		if d.Layouts[i].Name == name {
			return &d.Layouts[i]
		}
	}
	return nil
}

func (d *Deck) master(name string) *Master {
	for i := range d.Masters {
		if d.Masters[i].Name == name {
			return &d.Masters[i]
		}
	}
	return nil
}

// BackgroundChain lists the background sources of a slide in lookup order:
// slide, layout, master. Entries may be nil. A slide without a resolvable
// layout, or a layout naming no known master, falls back to the first
// master of the deck.
func (d *Deck) BackgroundChain(s *Slide) []*Background {
	chain := []*Background{s.Background, nil, nil}
	var m *Master
	if l := d.layout(s.Layout); s.Layout != "" && l != nil {
		chain[1] = l.Background
		m = d.master(l.Master)
	}
	if m == nil && len(d.Masters) > 0 {
		m = &d.Masters[0]
	}
	if m != nil {
		chain[2] = m.Background
	}
	return chain
}
