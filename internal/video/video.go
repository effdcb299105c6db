package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/logging"
)

type VideoEncoder interface {
	// EncodeSegment renders every frame of c into a standalone segment.
	EncodeSegment(ctx context.Context, c clip.Clip, videoPath string, params config.SegmentParams) (SegmentInfo, error)
	// Concatenate joins segments, in the given order, into finalPath.
	Concatenate(ctx context.Context, segmentPaths []string, finalPath string, tmpDir string) error
}

// FFmpegEncoder pipes raw RGBA frames into an ffmpeg process per segment
// and joins segments with the concat demuxer.
type FFmpegEncoder struct {
	Binary  string
	Codec   string
	Bitrate string
	Preset  string

	logger *slog.Logger
}

func NewFFmpegEncoder(cfg *config.Config, logger *slog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{
		Binary:  "ffmpeg",
		Codec:   cfg.VideoEncoder,
		Bitrate: cfg.Bitrate,
		Preset:  cfg.Preset,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "encoder"),
	}
}

func (e *FFmpegEncoder) EncodeSegment(
	ctx context.Context,
	c clip.Clip,
	videoPath string,
	params config.SegmentParams,
) (SegmentInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := e.buildFFmpegArgs(videoPath, params)
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return SegmentInfo{}, fmt.Errorf("stdin pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return SegmentInfo{}, fmt.Errorf("ffmpeg start error: %w", err)
	}

	w := bufio.NewWriterSize(stdin, params.Width*params.Height*4)
	info, werr := WriteFrames(w, c, params.Width, params.Height, params.FPS)
	if werr == nil {
		werr = w.Flush()
	}
	if werr != nil {
		cancel()
		stdin.Close()
		cmd.Wait()
		os.Remove(videoPath)
		if errors.Is(werr, ErrClipFrame) {
			return info, werr
		}
		return info, fmt.Errorf("write raw error: %w (ffmpeg: %s)", werr, lastLine(stderr.String()))
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		os.Remove(videoPath)
		return info, fmt.Errorf("ffmpeg wait error: %w (ffmpeg: %s)", err, lastLine(stderr.String()))
	}

	info.Path = videoPath
	e.logger.Debug("segment encoded", "path", videoPath, "frames", info.Frames, "transition", params.Transition)
	return info, nil
}

func (e *FFmpegEncoder) buildFFmpegArgs(videoPath string, params config.SegmentParams) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", params.Width, params.Height),
		"-framerate", fmt.Sprintf("%d", params.FPS),
		"-i", "-",
		"-an",
		"-c:v", e.Codec,
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", params.FPS),
	}
	args = append(args, e.qualityArgs()...)
	args = append(args, "-f", "mp4", videoPath)
	return args
}

// qualityArgs favour encode speed over size at a fixed bitrate.
func (e *FFmpegEncoder) qualityArgs() []string {
	switch e.Codec {
	case "h264_videotoolbox":
		return []string{"-realtime", "1", "-b:v", e.Bitrate}
	case "h264_nvenc":
		return []string{"-preset", "p1", "-tune", "ll", "-b:v", e.Bitrate}
	default: // libx264
		return []string{"-preset", e.Preset, "-tune", "fastdecode", "-bf", "0", "-b:v", e.Bitrate}
	}
}

func (e *FFmpegEncoder) Concatenate(ctx context.Context, segmentPaths []string, finalPath string, tmpDir string) error {
	if len(segmentPaths) == 0 {
		return ErrNoValidSlides
	}

	concatFilePath := filepath.Join(tmpDir, "inputs.txt")
	if err := writeConcatList(concatFilePath, segmentPaths); err != nil {
		return err
	}

	stream := ffmpeg.Input(concatFilePath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(finalPath, ffmpeg.KwArgs{"c": "copy", "movflags": "+faststart", "f": "mp4"}).
		OverWriteOutput()
	compiled := stream.Compile()

	cmd := exec.CommandContext(ctx, e.Binary, compiled.Args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat error: %v, output: %s", err, lastLine(string(out)))
	}
	e.logger.Debug("segments joined", "count", len(segmentPaths), "path", finalPath)
	return nil
}

func writeConcatList(path string, segmentPaths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, p := range segmentPaths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			f.Close()
			return err
		}
		// The concat demuxer quotes with single quotes; escape embedded ones.
		fmt.Fprintf(f, "file '%s'\n", strings.ReplaceAll(absPath, "'", `'\''`))
	}
	return f.Close()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
