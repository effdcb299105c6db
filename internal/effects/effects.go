// Package effects wraps slide clips with time-varying transitions.
package effects

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/system"
)

const (
	Fade       = "fade"
	SlideLeft  = "slide_left"
	SlideRight = "slide_right"
	Zoom       = "zoom"

	// ZoomGain is the extra scale reached at the end of the zoom window.
	ZoomGain = 0.1
)

// Cycle is the default transition order.
var Cycle = []string{Fade, SlideLeft, SlideRight, Zoom}

// Effect renders one frame of a transition. src is the wrapped clip's frame
// at time t, dst is a frame-sized canvas, T the transition window.
type Effect interface {
	Name() string
	Render(dst *image.RGBA, src image.Image, t, dur, T float64)
}

// Select returns the transition for a 1-based slide index. Slide 1 gets
// transitions[1], so the cycle starts at its second entry.
func Select(transitions []string, index int) string {
	if len(transitions) == 0 {
		return Fade
	}
	return transitions[index%len(transitions)]
}

// New returns the effect registered under name.
func New(name string) (Effect, error) {
	switch name {
	case Fade:
		return fadeEffect{}, nil
	case SlideLeft:
		return slideEffect{name: SlideLeft, dir: -1}, nil
	case SlideRight:
		return slideEffect{name: SlideRight, dir: 1}, nil
	case Zoom:
		return zoomEffect{}, nil
	default:
		return nil, fmt.Errorf("unknown transition %q", name)
	}
}

// Apply wraps c with effect over a window of T seconds. The result has the
// same duration and size as c. If anything goes wrong the original clip is
// returned, and a frame that panics is replaced by the untransformed one.
func Apply(c clip.Clip, effect Effect, T float64, scope *system.Scope, logger *slog.Logger) (out clip.Clip) {
	logger = logging.OrDiscard(logger)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("transition failed, keeping original clip", "transition", effect.Name(), "panic", rec)
			out = c
		}
	}()
	if effect == nil || T <= 0 {
		return c
	}
	size := c.Size()
	return &transitioned{
		inner:  c,
		effect: effect,
		window: T,
		canvas: scope.Acquire(image.Rectangle{Max: size}),
		logger: logger,
	}
}

type transitioned struct {
	inner  clip.Clip
	effect Effect
	window float64
	canvas *image.RGBA
	logger *slog.Logger
	failed bool
}

func (c *transitioned) Duration() float64 { return c.inner.Duration() }
func (c *transitioned) Size() image.Point { return c.inner.Size() }

func (c *transitioned) FrameAt(t float64) (frame image.Image) {
	src := c.inner.FrameAt(t)
	if c.failed {
		return src
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("transition frame failed, disabling effect", "transition", c.effect.Name(), "panic", rec)
			c.failed = true
			frame = src
		}
	}()
	c.effect.Render(c.canvas, src, t, c.inner.Duration(), c.window)
	return c.canvas
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// progress is how far t is into the opening window, in [0, 1].
func progress(t, T float64) float64 {
	return clamp01(t / T)
}

var black = &image.Uniform{C: color.Black}

// fadeEffect ramps from black over the first window and back to black over
// the last one.
type fadeEffect struct{}

func (fadeEffect) Name() string { return Fade }

func (fadeEffect) Render(dst *image.RGBA, src image.Image, t, dur, T float64) {
	alpha := clamp01(min(t/T, (dur-t)/T))
	draw.Draw(dst, dst.Bounds(), black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	if alpha >= 1 {
		return
	}
	a := uint32(alpha * 256)
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i+0] = uint8(uint32(dst.Pix[i+0]) * a >> 8)
		dst.Pix[i+1] = uint8(uint32(dst.Pix[i+1]) * a >> 8)
		dst.Pix[i+2] = uint8(uint32(dst.Pix[i+2]) * a >> 8)
		dst.Pix[i+3] = 255
	}
}

// slideEffect moves the content in from one side over a black backdrop and
// stops at its native position when the window ends.
type slideEffect struct {
	name string
	dir  int
}

func (e slideEffect) Name() string { return e.name }

func (e slideEffect) Render(dst *image.RGBA, src image.Image, t, dur, T float64) {
	w := dst.Bounds().Dx()
	offset := int(float64(e.dir) * float64(w) * (1 - progress(t, T)))
	draw.Draw(dst, dst.Bounds(), black, image.Point{}, draw.Src)
	r := dst.Bounds().Add(image.Pt(offset, 0))
	draw.Draw(dst, r, src, src.Bounds().Min, draw.Over)
}

// zoomEffect scales the content about the frame centre from 100% up to
// 100%+ZoomGain over the window and holds it there.
type zoomEffect struct{}

func (zoomEffect) Name() string { return Zoom }

func (zoomEffect) Render(dst *image.RGBA, src image.Image, t, dur, T float64) {
	s := 1 + ZoomGain*progress(t, T)
	b := dst.Bounds()
	draw.Draw(dst, b, black, image.Point{}, draw.Src)
	if s == 1 {
		draw.Draw(dst, b, src, src.Bounds().Min, draw.Over)
		return
	}
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	aff := f64.Aff3{
		s, 0, (1 - s) * cx,
		0, s, (1 - s) * cy,
	}
	xdraw.ApproxBiLinear.Transform(dst, aff, src, src.Bounds(), xdraw.Over, nil)
}
