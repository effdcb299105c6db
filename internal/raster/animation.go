package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/system"
)

var ErrNoFrames = errors.New("animation has no frames")

// DecodeAnimation decodes every GIF frame, composes it with the frames
// before it according to their disposal methods, and scales the result to
// box. Frame delays of zero become clip.DefaultFrameDelay.
func DecodeAnimation(data []byte, box image.Rectangle, scope *system.Scope) (*clip.Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode animation: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}

	logical := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if logical.Empty() {
		logical = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(logical)
	var previous *image.RGBA

	anim := &clip.Animation{}
	for i, frame := range g.Image {
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			if previous == nil {
				previous = image.NewRGBA(logical)
			}
			copy(previous.Pix, canvas.Pix)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		out := scope.Acquire(box)
		xdraw.CatmullRom.Scale(out, box, canvas, logical, xdraw.Src, nil)
		anim.Frames = append(anim.Frames, out)

		var delay time.Duration
		if i < len(g.Delay) {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		if delay <= 0 {
			delay = clip.DefaultFrameDelay
		}
		anim.Delays = append(anim.Delays, delay)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			copy(canvas.Pix, previous.Pix)
		}
	}
	return anim, nil
}
