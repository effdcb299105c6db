package deck

import (
	"bytes"
	"errors"
	"fmt"
	"image/gif"
	"os"
)

var gifMagic = []byte("GIF8")

// MinAnimationBytes is the smallest file accepted as an animated picture.
const MinAnimationBytes = 100

var (
	ErrNotGIF            = errors.New("not a GIF file")
	ErrAnimationTooSmall = errors.New("animation file too small")
)

// VerifyAnimation checks that path holds a readable GIF before it is
// placed into a deck.
func VerifyAnimation(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read animation: %w", err)
	}
	return VerifyAnimationBytes(data)
}

// VerifyAnimationBytes is VerifyAnimation for in-memory content.
func VerifyAnimationBytes(data []byte) error {
	if !bytes.HasPrefix(data, gifMagic) {
		return ErrNotGIF
	}
	if len(data) < MinAnimationBytes {
		return fmt.Errorf("%w: %d bytes", ErrAnimationTooSmall, len(data))
	}
	if _, err := gif.DecodeAll(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode animation: %w", err)
	}
	return nil
}
