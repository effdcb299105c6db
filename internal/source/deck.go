package source

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/logging"
)

// Load reads any supported input as a deck. YAML and JSON files are parsed
// directly; PDFs and images become one slide per page.
func Load(ctx context.Context, path string, dpi int, logger *slog.Logger) (*deck.Deck, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return deck.Load(path)
	}
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return ToDeck(ctx, src, dpi, logger)
}

// ToDeck rasterizes every page of src into a picture background. The deck
// takes the aspect ratio of the first page. A page that fails to render is
// left as an empty slide so numbering is preserved.
func ToDeck(ctx context.Context, src Source, dpi int, logger *slog.Logger) (*deck.Deck, error) {
	logger = logging.WithComponent(logging.OrDiscard(logger), "source")
	n := src.PageCount()
	d := &deck.Deck{Width: deck.DefaultWidth, Height: deck.DefaultHeight}
	if n == 0 {
		return d, nil
	}

	w, h, err := src.GetPageDimensions(0)
	if err != nil {
		return nil, fmt.Errorf("page 1: %w", err)
	}
	if w > 0 && h > 0 {
		d.Height = int64(float64(d.Width) * h / w)
	}

	d.Slides = make([]deck.Slide, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := renderPNG(src, i, dpi)
			if err != nil {
				logger.Warn("page not rendered, slide left empty", "page", i+1, "error", err)
				return nil
			}
			d.Slides[i].Background = &deck.Background{Kind: deck.BackgroundPicture, Picture: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Debug("pages converted", "pages", n, "dpi", dpi)
	return d, nil
}

func renderPNG(src Source, i, dpi int) ([]byte, error) {
	img, err := src.RenderPage(i, dpi)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
