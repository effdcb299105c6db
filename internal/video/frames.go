package video

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/ivlev/deck2video/internal/clip"
)

// ErrClipFrame is returned when a clip fails to produce a frame.
var ErrClipFrame = errors.New("clip frame failed")

// SegmentInfo describes an encoded segment. Digest is the SHA-256 of the
// raw RGBA stream fed to the encoder, so equal digests mean equal pixels.
type SegmentInfo struct {
	Path   string
	Frames int
	Digest string
}

// WriteFrames samples c at fps and writes each frame as raw RGBA of
// width x height. Frames of a different size are centred on black.
func WriteFrames(w io.Writer, c clip.Clip, width, height, fps int) (SegmentInfo, error) {
	n := clip.FrameCount(c.Duration(), fps)
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	hash := sha256.New()
	out := io.MultiWriter(w, hash)

	for i := 0; i < n; i++ {
		t := float64(i) / float64(fps)
		src, err := sample(c, t)
		if err != nil {
			return SegmentInfo{Frames: i}, err
		}
		if err := writeRawRGBA(out, canvas, src); err != nil {
			return SegmentInfo{Frames: i}, fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return SegmentInfo{Frames: n, Digest: hex.EncodeToString(hash.Sum(nil))}, nil
}

func sample(c clip.Clip, t float64) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w at %.3fs: %v", ErrClipFrame, t, rec)
		}
	}()
	img = c.FrameAt(t)
	if img == nil {
		return nil, fmt.Errorf("%w at %.3fs: no frame", ErrClipFrame, t)
	}
	return img, nil
}

func writeRawRGBA(w io.Writer, canvas *image.RGBA, img image.Image) error {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect == canvas.Rect && rgba.Stride == canvas.Stride {
		_, err := w.Write(rgba.Pix)
		return err
	}
	b := canvas.Bounds()
	draw.Draw(canvas, b, image.Black, image.Point{}, draw.Src)
	size := img.Bounds().Size()
	at := image.Pt((b.Dx()-size.X)/2, (b.Dy()-size.Y)/2)
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(size)}, img, img.Bounds().Min, draw.Over)
	_, err := w.Write(canvas.Pix)
	return err
}
