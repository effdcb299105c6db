package video

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/logging"
)

// ErrNoValidSlides is returned when there is nothing to encode.
var ErrNoValidSlides = errors.New("no valid slides were processed")

type segment struct {
	index int
	info  SegmentInfo
}

// Sequencer encodes slide clips into segments and joins them in slide
// order, whatever order they were added in. Add is safe for concurrent use.
type Sequencer struct {
	enc    VideoEncoder
	tmpDir string
	logger *slog.Logger

	mu       sync.Mutex
	segments []segment
}

func NewSequencer(enc VideoEncoder, tmpDir string, logger *slog.Logger) *Sequencer {
	return &Sequencer{enc: enc, tmpDir: tmpDir, logger: logging.OrDiscard(logger)}
}

// SegmentPath is where the segment of the slide at zero-based index lives.
func (s *Sequencer) SegmentPath(index int) string {
	return filepath.Join(s.tmpDir, fmt.Sprintf("seg_%04d.mp4", index))
}

// Add encodes c as the segment for the slide at zero-based index.
func (s *Sequencer) Add(ctx context.Context, index int, c clip.Clip, params config.SegmentParams) (SegmentInfo, error) {
	info, err := s.enc.EncodeSegment(ctx, c, s.SegmentPath(index), params)
	if err != nil {
		return info, err
	}
	if info.Path == "" {
		info.Path = s.SegmentPath(index)
	}

	s.mu.Lock()
	s.segments = append(s.segments, segment{index: index, info: info})
	s.mu.Unlock()
	return info, nil
}

// Len reports how many segments have been added.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Finish joins every segment into finalPath. With no segments it fails
// before the encoder is invoked.
func (s *Sequencer) Finish(ctx context.Context, finalPath string) error {
	s.mu.Lock()
	segs := slices.Clone(s.segments)
	s.mu.Unlock()

	if len(segs) == 0 {
		return ErrNoValidSlides
	}
	slices.SortFunc(segs, func(a, b segment) int { return cmp.Compare(a.index, b.index) })

	paths := make([]string, len(segs))
	for i, seg := range segs {
		paths[i] = seg.info.Path
	}
	s.logger.Info("joining segments", "count", len(paths))
	return s.enc.Concatenate(ctx, paths, finalPath, s.tmpDir)
}
