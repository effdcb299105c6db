package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/deck2video/internal/background"
	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/effects"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/system"
	"github.com/ivlev/deck2video/internal/timeline"
	"github.com/ivlev/deck2video/internal/video"
)

type VideoProject struct {
	Config  *config.Config
	Encoder video.VideoEncoder
	Fonts   *raster.FontCache
	Pool    *system.ImagePool
	// Prober verifies the artifact when Config.Probe is set.
	Prober func(path string) (*video.Metadata, error)

	logger *slog.Logger
	state  atomic.Int32
}

func NewVideoProject(cfg *config.Config, ve video.VideoEncoder, fonts *raster.FontCache, logger *slog.Logger) *VideoProject {
	logger = logging.WithComponent(logging.OrDiscard(logger), "engine")
	if fonts == nil {
		var err error
		if fonts, err = raster.NewFontCache(cfg.FontPath); err != nil {
			logger.Warn("font not loaded, using basic face", "path", cfg.FontPath, "error", err)
			fonts = raster.BasicFontCache()
		}
	}
	return &VideoProject{
		Config:  cfg,
		Encoder: ve,
		Fonts:   fonts,
		Pool:    system.NewImagePool(),
		Prober:  video.ProbeVideo,
		logger:  logger,
	}
}

// State reports where the current run is.
func (p *VideoProject) State() State {
	return State(p.state.Load())
}

func (p *VideoProject) setState(logger *slog.Logger, s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		logger.Debug("state", "from", prev, "to", s)
	}
}

// SlideReport describes what happened to one slide.
type SlideReport struct {
	Index      int // 1-based
	Transition string
	Duration   float64
	Frames     int
	Fallback   bool
	Digest     string
	Layers     int
}

type Result struct {
	RunID      string
	OutputPath string
	Bytes      int64
	Slides     []SlideReport
	Fallbacks  int
	Manifest   string

	RenderTime time.Duration
	ConcatTime time.Duration
	Elapsed    time.Duration
}

// Run renders d into a video at outputPath. The file only appears once it
// passed verification; on failure nothing is left behind.
func (p *VideoProject) Run(ctx context.Context, d *deck.Deck, outputPath string) (*Result, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := logging.WithRunID(p.logger, runID)
	p.setState(logger, StateInit)

	res, err := p.run(ctx, logger, runID, d, outputPath)
	if err != nil {
		p.setState(logger, StateFailed)
		logger.Error("run failed", "error", err)
		return nil, err
	}
	res.Elapsed = time.Since(startTime)
	p.setState(logger, StateDone)
	logger.Info("run complete",
		"output", logging.SanitizePath(res.OutputPath),
		"bytes", res.Bytes,
		"slides", len(res.Slides),
		"fallbacks", res.Fallbacks,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

func (p *VideoProject) run(ctx context.Context, logger *slog.Logger, runID string, d *deck.Deck, outputPath string) (*Result, error) {
	cfg := p.Config
	if err := validateDeck(d); err != nil {
		return nil, err
	}
	if err := p.checkOutput(outputPath); err != nil {
		return nil, err
	}
	p.setState(logger, StateLoaded)
	logger.Info("deck loaded", "slides", len(d.Slides), "resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "fps", cfg.FPS)

	tempDir, err := os.MkdirTemp("", "deck2video_")
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	defer os.RemoveAll(tempDir)

	r := &slideRenderer{
		deck:       d,
		cfg:        cfg,
		mapper:     layout.NewMapper(d, cfg.Width, cfg.Height),
		resolver:   background.NewResolver(cfg.Width, cfg.Height, logger),
		rasterizer: raster.NewRasterizer(cfg.Width, cfg.Height, p.Fonts, logger),
		logger:     logger,
	}
	seq := video.NewSequencer(p.Encoder, tempDir, logger)

	workers := p.workerCount(d)
	logger.Debug("rendering slides", "workers", workers, "memory", system.ReadMemory())

	renderStart := time.Now()
	reports := make([]SlideReport, len(d.Slides))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range d.Slides {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep, err := p.processSlide(gctx, logger, r, seq, i)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	renderTime := time.Since(renderStart)
	p.setState(logger, StateRendered)

	p.setState(logger, StateEncoding)
	concatStart := time.Now()
	tmpOut := partialPath(outputPath, runID)
	if err := seq.Finish(ctx, tmpOut); err != nil {
		os.Remove(tmpOut)
		return nil, &EncodingError{Err: err}
	}
	size, err := p.verify(tmpOut)
	if err != nil {
		os.Remove(tmpOut)
		return nil, err
	}
	if err := os.Rename(tmpOut, outputPath); err != nil {
		os.Remove(tmpOut)
		return nil, &EncodingError{Err: fmt.Errorf("publish output: %w", err)}
	}

	res := &Result{
		RunID:      runID,
		OutputPath: outputPath,
		Bytes:      size,
		Slides:     reports,
		RenderTime: renderTime,
		ConcatTime: time.Since(concatStart),
	}
	for _, rep := range reports {
		if rep.Fallback {
			res.Fallbacks++
		}
	}

	if cfg.Manifest {
		path, err := p.writeManifest(res, cfg)
		if err != nil {
			logger.Warn("timeline manifest not written", "error", err)
		} else {
			res.Manifest = path
		}
	}
	return res, nil
}

func validateDeck(d *deck.Deck) error {
	err := d.Validate()
	if err == nil {
		return nil
	}
	if errors.Is(err, deck.ErrNoSlides) {
		return &FatalInputError{Err: video.ErrNoValidSlides}
	}
	return &FatalInputError{Err: err}
}

// workerCount bounds parallel slide rendering by configuration and by the
// memory a slide needs.
func (p *VideoProject) workerCount(d *deck.Deck) int {
	shapes := 0
	for _, s := range d.Slides {
		shapes = max(shapes, len(s.Shapes))
	}
	perSlide := system.FrameWorkingSet(p.Config.Width, p.Config.Height, shapes)
	n := system.MaxWorkersForMemory(p.Config.Workers, perSlide)
	return max(1, min(n, len(d.Slides)))
}

// processSlide renders, transitions and encodes one slide, substituting a
// blank clip if rendering fails. Only encoder failures are returned.
func (p *VideoProject) processSlide(ctx context.Context, logger *slog.Logger, r *slideRenderer, seq *video.Sequencer, i int) (SlideReport, error) {
	cfg := p.Config
	index := i + 1
	slideLog := logging.WithSlide(logger, index)
	transition := effects.Select(cfg.Transitions, index)
	rep := SlideReport{Index: index, Transition: transition, Duration: cfg.SegmentDuration()}

	scope := p.Pool.NewScope()
	defer func() {
		scope.Release()
		system.Reclaim()
		slideLog.Debug("slide memory released", "buffers", scope.Acquired(), "memory", system.ReadMemory())
	}()

	p.setState(slideLog, StateRendering)
	c, layers, err := r.render(i, transition, scope)
	if err == nil {
		rep.Layers = layers
		info, encErr := seq.Add(ctx, i, c, cfg.Segment(i, transition, rep.Duration))
		if encErr == nil {
			rep.Frames, rep.Digest = info.Frames, info.Digest
			slideLog.Info("slide rendered", "transition", transition, "layers", layers, "frames", info.Frames)
			return rep, nil
		}
		if !errors.Is(encErr, video.ErrClipFrame) {
			return rep, &EncodingError{Err: fmt.Errorf("slide %d: %w", index, encErr)}
		}
		err = encErr
	}

	p.setState(slideLog, StateFailedFallback)
	slideLog.Error("slide failed, using blank fallback", "error", &SlideRenderError{Slide: index, Err: err})
	fallback := clip.NewBlank(image.Pt(cfg.Width, cfg.Height), color.White, cfg.TransitionDuration)
	rep = SlideReport{Index: index, Transition: "none", Duration: cfg.TransitionDuration, Fallback: true}
	info, encErr := seq.Add(ctx, i, fallback, cfg.Segment(i, "none", rep.Duration))
	if encErr != nil {
		return rep, &EncodingError{Err: fmt.Errorf("slide %d fallback: %w", index, encErr)}
	}
	rep.Frames, rep.Digest = info.Frames, info.Digest
	return rep, nil
}

// checkOutput enforces that the run owns outputPath exclusively.
func (p *VideoProject) checkOutput(outputPath string) error {
	if outputPath == "" {
		return &FatalInputError{Err: errors.New("output path is empty")}
	}
	info, err := os.Stat(outputPath)
	switch {
	case err == nil && info.IsDir():
		return &FatalInputError{Err: fmt.Errorf("output %s is a directory", outputPath)}
	case err == nil && !strings.EqualFold(filepath.Ext(outputPath), ".mp4"):
		return &FatalInputError{Err: fmt.Errorf("%w: %s is not an mp4 and is never replaced", ErrOutputExists, outputPath)}
	case err == nil && !p.Config.Overwrite:
		return &FatalInputError{Err: fmt.Errorf("%w: %s", ErrOutputExists, outputPath)}
	case err != nil && !os.IsNotExist(err):
		return &FatalInputError{Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return &FatalInputError{Err: err}
	}
	return nil
}

// partialPath is a hidden sibling of the output that is renamed into place
// after verification.
func partialPath(outputPath, runID string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.partial%s", strings.TrimSuffix(base, ext), runID[:8], ext))
}

// verify checks the encoded artifact before it is published.
func (p *VideoProject) verify(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &PostConditionError{Path: path, Min: p.Config.MinArtifactBytes, Err: err}
	}
	if info.Size() < p.Config.MinArtifactBytes {
		return info.Size(), &PostConditionError{Path: path, Size: info.Size(), Min: p.Config.MinArtifactBytes}
	}
	if p.Config.Probe && p.Prober != nil {
		md, err := p.Prober(path)
		if err != nil {
			return info.Size(), &PostConditionError{Path: path, Size: info.Size(), Err: err}
		}
		if md.HasAudio {
			return info.Size(), &PostConditionError{Path: path, Size: info.Size(), Err: errors.New("unexpected audio track")}
		}
	}
	return info.Size(), nil
}

func (p *VideoProject) writeManifest(res *Result, cfg *config.Config) (string, error) {
	m := &timeline.Manifest{
		Version: timeline.Version,
		RunID:   res.RunID,
		Source:  cfg.InputPath,
		Output:  filepath.Base(res.OutputPath),
		Width:   cfg.Width,
		Height:  cfg.Height,
		FPS:     cfg.FPS,
	}
	for _, s := range res.Slides {
		m.Append(timeline.Entry{
			Slide:      s.Index,
			Duration:   s.Duration,
			Transition: s.Transition,
			Frames:     s.Frames,
			Fallback:   s.Fallback,
			Digest:     s.Digest,
		})
	}
	path := timeline.ManifestPath(res.OutputPath)
	return path, timeline.Write(m, path)
}

// Report formats run statistics for the console.
func (r *Result) Report(build string) string {
	fps := 0.0
	if s := r.Elapsed.Seconds(); s > 0 {
		fps = float64(len(r.Slides)) / s
	}
	return fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Run: %s\n"+
			"Total Time: %.2fs\n"+
			"Rendering+Encoding: %.2fs\n"+
			"Concatenation: %.2fs\n"+
			"Slides/s: %.2f\n"+
			"Fallbacks: %d\n"+
			"----------------------------\n",
		build, r.RunID, r.Elapsed.Seconds(), r.RenderTime.Seconds(), r.ConcatTime.Seconds(), fps, r.Fallbacks,
	)
}

// BenchmarkEntry is one line of the benchmark log.
func (r *Result) BenchmarkEntry(build, input string) string {
	fps := 0.0
	if s := r.Elapsed.Seconds(); s > 0 {
		fps = float64(len(r.Slides)) / s
	}
	return fmt.Sprintf("[%s] Build: %s | Input: %s | Slides: %d | Fallbacks: %d | Total: %.2fs | Render: %.2fs | Concat: %.2fs | Slides/s: %.2f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		build,
		filepath.Base(input),
		len(r.Slides),
		r.Fallbacks,
		r.Elapsed.Seconds(),
		r.RenderTime.Seconds(),
		r.ConcatTime.Seconds(),
		fps,
	)
}
