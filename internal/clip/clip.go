// Package clip defines timed sources of frames: still images, animated
// layers and their composites. Times are in seconds from the clip start.
package clip

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"
)

// Clip yields a frame for any time in [0, Duration()). The returned image
// may be reused by the next FrameAt call on the same clip, so a clip must
// not be sampled from more than one goroutine.
type Clip interface {
	Duration() float64
	Size() image.Point
	FrameAt(t float64) image.Image
}

// Still shows one image for its whole duration.
type Still struct {
	Image image.Image
	Dur   float64
}

func NewStill(img image.Image, dur float64) *Still {
	return &Still{Image: img, Dur: dur}
}

func (s *Still) Duration() float64           { return s.Dur }
func (s *Still) Size() image.Point           { return s.Image.Bounds().Size() }
func (s *Still) FrameAt(float64) image.Image { return s.Image }

// NewBlank returns a still of a single colour.
func NewBlank(size image.Point, c color.Color, dur float64) *Still {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return NewStill(img, dur)
}

// DefaultFrameDelay is used for animation frames that declare no delay.
const DefaultFrameDelay = 100 * time.Millisecond

// Animation is a sequence of frames placed at a fixed rectangle of the
// slide. Every frame has the bounds of that rectangle.
type Animation struct {
	Frames []*image.RGBA
	Delays []time.Duration
}

// Bounds is the rectangle the animation occupies.
func (a *Animation) Bounds() image.Rectangle {
	if len(a.Frames) == 0 {
		return image.Rectangle{}
	}
	return a.Frames[0].Rect
}

func (a *Animation) delay(i int) time.Duration {
	if i < len(a.Delays) && a.Delays[i] > 0 {
		return a.Delays[i]
	}
	return DefaultFrameDelay
}

// FrameIndex returns the index of the frame visible at t seconds. The
// sequence plays once; after that the final frame is held for the rest of
// the slide, whatever loop count the source file declares.
func (a *Animation) FrameIndex(t float64) int {
	n := len(a.Frames)
	if n <= 1 || t <= 0 {
		return 0
	}
	at := time.Duration(t * float64(time.Second))
	var acc time.Duration
	for i := 0; i < n; i++ {
		acc += a.delay(i)
		if at < acc {
			return i
		}
	}
	return n - 1
}

// Frame returns the frame visible at t seconds.
func (a *Animation) Frame(t float64) *image.RGBA {
	if len(a.Frames) == 0 {
		return nil
	}
	return a.Frames[a.FrameIndex(t)]
}

// Layer is one z-ordered element of a Composite: either a static image
// covering the frame or an animation.
type Layer struct {
	Static    image.Image
	Animation *Animation
}

// Composite draws its layers over an opaque base on every frame.
type Composite struct {
	Base   image.Image
	Layers []Layer
	Dur    float64

	canvas *image.RGBA
}

// NewComposite renders into canvas, which must have the bounds of base.
// A nil canvas is allocated.
func NewComposite(base image.Image, layers []Layer, dur float64, canvas *image.RGBA) *Composite {
	if canvas == nil {
		canvas = image.NewRGBA(base.Bounds())
	}
	return &Composite{Base: base, Layers: layers, Dur: dur, canvas: canvas}
}

func (c *Composite) Duration() float64 { return c.Dur }
func (c *Composite) Size() image.Point { return c.Base.Bounds().Size() }

func (c *Composite) FrameAt(t float64) image.Image {
	draw.Draw(c.canvas, c.canvas.Bounds(), c.Base, c.Base.Bounds().Min, draw.Src)
	for _, l := range c.Layers {
		switch {
		case l.Animation != nil:
			if f := l.Animation.Frame(t); f != nil {
				draw.Draw(c.canvas, f.Rect, f, f.Rect.Min, draw.Over)
			}
		case l.Static != nil:
			draw.Draw(c.canvas, l.Static.Bounds(), l.Static, l.Static.Bounds().Min, draw.Over)
		}
	}
	return c.canvas
}

// FrameCount is the number of frames a clip occupies at fps.
func FrameCount(dur float64, fps int) int {
	return int(math.Round(dur * float64(fps)))
}
