package engine

import (
	"fmt"
	"log/slog"

	"github.com/ivlev/deck2video/internal/background"
	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/compositor"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/effects"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/system"
)

// State is the lifecycle of a run.
type State int32

const (
	StateInit State = iota
	StateLoaded
	StateRendering
	StateRendered
	StateFailedFallback
	StateEncoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoaded:
		return "LOADED"
	case StateRendering:
		return "RENDERING"
	case StateRendered:
		return "RENDERED"
	case StateFailedFallback:
		return "FAILED_FALLBACK"
	case StateEncoding:
		return "ENCODING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// slideRenderer turns a slide into its transitioned clip. It is shared by
// all workers; per-slide buffers come from the scope passed in.
type slideRenderer struct {
	deck       *deck.Deck
	cfg        *config.Config
	mapper     layout.Mapper
	resolver   *background.Resolver
	rasterizer *raster.Rasterizer
	logger     *slog.Logger
}

// compose builds the slide's clip before any transition is applied.
func (r *slideRenderer) compose(i int, scope *system.Scope) (clip.Clip, int, error) {
	slide := &r.deck.Slides[i]
	placed := r.mapper.Place(slide, r.logger)
	bg := r.resolver.Resolve(r.deck.BackgroundChain(slide), scope)
	layers := r.rasterizer.RenderSlide(placed, scope)
	return compositor.Compose(bg, layers, r.cfg.SegmentDuration(), scope), len(layers), nil
}

// render composes slide i and wraps it in transition. A panic anywhere in
// the slide becomes an error so the caller can fall back.
func (r *slideRenderer) render(i int, transition string, scope *system.Scope) (c clip.Clip, layers int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c, layers, err = nil, 0, fmt.Errorf("panic: %v", rec)
		}
	}()

	c, layers, err = r.compose(i, scope)
	if err != nil {
		return nil, 0, err
	}
	eff, err := effects.New(transition)
	if err != nil {
		r.logger.Warn("unknown transition, slide left as is", "transition", transition)
		return c, layers, nil
	}
	return effects.Apply(c, eff, r.cfg.TransitionDuration, scope, r.logger), layers, nil
}
