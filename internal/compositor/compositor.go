// Package compositor stacks a slide's background and shape layers into the
// timed clip that represents the slide.
package compositor

import (
	"image"
	"image/draw"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/system"
)

// Compose alpha-composites layers over bg in order. Without animated layers
// the result is a single still held for duration. Otherwise consecutive
// static layers are flattened into groups and the animations are drawn
// between them on every frame, so z-order is kept.
//
// bg is used as the drawing surface and must not be shared with another
// slide.
func Compose(bg *image.RGBA, layers []raster.Layer, duration float64, scope *system.Scope) clip.Clip {
	firstAnim := -1
	for i, l := range layers {
		if l.Animation != nil {
			firstAnim = i
			break
		}
	}

	if firstAnim < 0 {
		flatten(bg, layers)
		return clip.NewStill(bg, duration)
	}

	// Everything below the first animation is baked into the base.
	flatten(bg, layers[:firstAnim])

	var parts []clip.Layer
	var group *image.RGBA
	for _, l := range layers[firstAnim:] {
		switch {
		case l.Animation != nil:
			if group != nil {
				parts = append(parts, clip.Layer{Static: group})
				group = nil
			}
			parts = append(parts, clip.Layer{Animation: l.Animation})
		case l.Image != nil:
			if group == nil {
				group = scope.Acquire(bg.Bounds())
			}
			draw.Draw(group, group.Bounds(), l.Image, l.Image.Bounds().Min, draw.Over)
		}
	}
	if group != nil {
		parts = append(parts, clip.Layer{Static: group})
	}

	return clip.NewComposite(bg, parts, duration, scope.Acquire(bg.Bounds()))
}

func flatten(dst *image.RGBA, layers []raster.Layer) {
	for _, l := range layers {
		if l.Image != nil {
			draw.Draw(dst, dst.Bounds(), l.Image, l.Image.Bounds().Min, draw.Over)
		}
	}
}
