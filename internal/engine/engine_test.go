package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/deck2video/internal/background"
	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/system"
	"github.com/ivlev/deck2video/internal/timeline"
	"github.com/ivlev/deck2video/internal/video"
)

// rawEncoder stores the raw RGBA stream as the segment and joins segments
// byte for byte, so tests can run without ffmpeg.
type rawEncoder struct {
	mu         sync.Mutex
	clipFail   map[int]bool // zero-based slide index -> fail once with ErrClipFrame
	concatErr  error
	tinyOutput bool
	encoded    int
}

func (e *rawEncoder) EncodeSegment(ctx context.Context, c clip.Clip, path string, p config.SegmentParams) (video.SegmentInfo, error) {
	e.mu.Lock()
	fail := e.clipFail[p.PageIndex]
	delete(e.clipFail, p.PageIndex)
	e.encoded++
	e.mu.Unlock()
	if fail {
		return video.SegmentInfo{}, fmt.Errorf("%w: injected", video.ErrClipFrame)
	}

	var buf bytes.Buffer
	info, err := video.WriteFrames(&buf, c, p.Width, p.Height, p.FPS)
	if err != nil {
		return info, err
	}
	info.Path = path
	return info, os.WriteFile(path, buf.Bytes(), 0644)
}

func (e *rawEncoder) Concatenate(ctx context.Context, paths []string, final, tmp string) error {
	if e.tinyOutput {
		return os.WriteFile(final, []byte("tiny"), 0644)
	}
	f, err := os.Create(final)
	if err != nil {
		return err
	}
	defer f.Close()
	if e.concatErr != nil {
		f.WriteString("partial")
		return e.concatErr
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		f.Write(data)
	}
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Width, cfg.Height, cfg.FPS = 64, 36, 4
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidDeck(n int) *deck.Deck {
	d := &deck.Deck{Width: deck.DefaultWidth, Height: deck.DefaultHeight}
	for i := 0; i < n; i++ {
		c := deck.Color{R: uint8(40 * i), G: 100, B: 200}
		d.Slides = append(d.Slides, deck.Slide{Shapes: []deck.Shape{{
			Name:     fmt.Sprintf("fill-%d", i),
			Kind:     deck.KindFilled,
			Position: &deck.Point{},
			Size:     &deck.Extent{W: deck.DefaultWidth, H: deck.DefaultHeight},
			Fill:     &c,
		}}})
	}
	return d
}

func newProject(cfg *config.Config, enc video.VideoEncoder) *VideoProject {
	return NewVideoProject(cfg, enc, nil, testLogger())
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".partial") {
			t.Errorf("partial file left behind: %s", e.Name())
		}
	}
}

func TestRunSegmentsInSlideOrder(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deck.mp4")
	p := newProject(testConfig(), &rawEncoder{})

	res, err := p.Run(context.Background(), solidDeck(5), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.State() != StateDone {
		t.Errorf("State() = %v, want DONE", p.State())
	}

	wantTransitions := []string{"slide_left", "slide_right", "zoom", "fade", "slide_left"}
	if len(res.Slides) != 5 {
		t.Fatalf("got %d slide reports, want 5", len(res.Slides))
	}
	for i, s := range res.Slides {
		if s.Index != i+1 || s.Transition != wantTransitions[i] {
			t.Errorf("slide %d = %+v, want transition %s", i+1, s, wantTransitions[i])
		}
		if s.Duration != 2.5 || s.Frames != 10 || s.Fallback {
			t.Errorf("slide %d timing = %+v", i+1, s)
		}
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if want := int64(5 * 10 * 64 * 36 * 4); info.Size() != want || res.Bytes != want {
		t.Errorf("output size = %d (reported %d), want %d", info.Size(), res.Bytes, want)
	}
	assertNoPartials(t, dir)
}

func TestRunZeroSlides(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "empty.mp4")
	enc := &rawEncoder{}
	_, err := newProject(testConfig(), enc).Run(context.Background(), solidDeck(0), out)

	var fatal *FatalInputError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want FatalInputError", err)
	}
	if !errors.Is(err, video.ErrNoValidSlides) {
		t.Errorf("error = %v, want it to wrap ErrNoValidSlides", err)
	}
	if !strings.Contains(err.Error(), "no valid slides") {
		t.Errorf("message = %q", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("no output file should be produced")
	}
	if enc.encoded != 0 {
		t.Error("encoder should not be invoked")
	}
}

func TestRunNilDeck(t *testing.T) {
	_, err := newProject(testConfig(), &rawEncoder{}).Run(context.Background(), nil, filepath.Join(t.TempDir(), "x.mp4"))
	var fatal *FatalInputError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want FatalInputError", err)
	}
}

func TestRunFallbackOnSlideFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deck.mp4")
	enc := &rawEncoder{clipFail: map[int]bool{1: true}}
	cfg := testConfig()
	cfg.Manifest = true

	res, err := newProject(cfg, enc).Run(context.Background(), solidDeck(3), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", res.Fallbacks)
	}
	fb := res.Slides[1]
	if !fb.Fallback || fb.Duration != 0.5 || fb.Frames != 2 {
		t.Errorf("fallback slide = %+v, want blank 0.5s clip", fb)
	}
	if res.Slides[0].Fallback || res.Slides[2].Fallback {
		t.Error("other slides should render normally")
	}

	m, err := timeline.Read(res.Manifest)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(m.Slides) != 3 || !m.Slides[1].Fallback || m.Slides[2].Start != 3.0 {
		t.Errorf("manifest = %+v", m.Slides)
	}
}

func TestRunPostConditionRemovesTinyArtifact(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deck.mp4")
	_, err := newProject(testConfig(), &rawEncoder{tinyOutput: true}).Run(context.Background(), solidDeck(1), out)

	var pc *PostConditionError
	if !errors.As(err, &pc) {
		t.Fatalf("error = %v, want PostConditionError", err)
	}
	if pc.Size != 4 || pc.Min != config.DefaultMinArtifactBytes {
		t.Errorf("PostConditionError = %+v", pc)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("undersized artifact must not be published")
	}
	assertNoPartials(t, dir)
}

func TestRunEncodingErrorRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deck.mp4")
	p := newProject(testConfig(), &rawEncoder{concatErr: errors.New("codec not found")})

	_, err := p.Run(context.Background(), solidDeck(2), out)
	var ee *EncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want EncodingError", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %v, want FAILED", p.State())
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output must not exist after a failed encode")
	}
	assertNoPartials(t, dir)
}

func TestRunOutputOwnership(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deck.mp4")
	if err := os.WriteFile(out, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	_, err := newProject(cfg, &rawEncoder{}).Run(context.Background(), solidDeck(1), out)
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("error = %v, want ErrOutputExists", err)
	}

	cfg.Overwrite = true
	if _, err := newProject(cfg, &rawEncoder{}).Run(context.Background(), solidDeck(1), out); err != nil {
		t.Fatalf("Run() with overwrite error = %v", err)
	}
	if info, _ := os.Stat(out); info.Size() <= 3 {
		t.Error("output was not replaced")
	}

	notes := filepath.Join(dir, "notes.txt")
	os.WriteFile(notes, []byte("keep"), 0644)
	if _, err := newProject(cfg, &rawEncoder{}).Run(context.Background(), solidDeck(1), notes); !errors.Is(err, ErrOutputExists) {
		t.Errorf("non-mp4 output error = %v, want ErrOutputExists even with overwrite", err)
	}

	_, err = newProject(cfg, &rawEncoder{}).Run(context.Background(), solidDeck(1), dir)
	var fatal *FatalInputError
	if !errors.As(err, &fatal) {
		t.Errorf("directory output error = %v, want FatalInputError", err)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	d := solidDeck(4)

	run := func(name string, workers int) []byte {
		cfg := testConfig()
		cfg.Workers = workers
		out := filepath.Join(dir, name)
		res, err := newProject(cfg, &rawEncoder{}).Run(context.Background(), d, out)
		if err != nil {
			t.Fatalf("Run(%s) error = %v", name, err)
		}
		for _, s := range res.Slides {
			if s.Digest == "" {
				t.Errorf("slide %d has no digest", s.Index)
			}
		}
		data, _ := os.ReadFile(out)
		return data
	}

	first := run("a.mp4", 1)
	second := run("b.mp4", 1)
	parallel := run("c.mp4", 3)
	if !bytes.Equal(first, second) {
		t.Error("two runs of the same deck produced different frames")
	}
	if !bytes.Equal(first, parallel) {
		t.Error("parallel workers changed the output")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := filepath.Join(t.TempDir(), "deck.mp4")
	_, err := newProject(testConfig(), &rawEncoder{}).Run(ctx, solidDeck(2), out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("canceled run left an output file")
	}
}

func testRenderer(t *testing.T, d *deck.Deck) *slideRenderer {
	t.Helper()
	p := newProject(testConfig(), &rawEncoder{})
	cfg := p.Config
	return &slideRenderer{
		deck:       d,
		cfg:        cfg,
		mapper:     layout.NewMapper(d, cfg.Width, cfg.Height),
		resolver:   background.NewResolver(cfg.Width, cfg.Height, p.logger),
		rasterizer: raster.NewRasterizer(cfg.Width, cfg.Height, p.Fonts, p.logger),
		logger:     p.logger,
	}
}

func TestSolidShapeFillsEveryFrame(t *testing.T) {
	d := solidDeck(1)
	r := testRenderer(t, d)
	scope := system.NewScope()
	defer scope.Release()

	c, _, err := r.compose(0, scope)
	if err != nil {
		t.Fatal(err)
	}
	want := d.Slides[0].Shapes[0].Fill.RGBA()
	for _, ts := range []float64{0, 1, 2.4} {
		img := c.FrameAt(ts).(*image.RGBA)
		for y := 0; y < 36; y++ {
			for x := 0; x < 64; x++ {
				if got := img.RGBAAt(x, y); got != want {
					t.Fatalf("t=%v pixel (%d,%d) = %v, want %v", ts, x, y, got, want)
				}
			}
		}
	}
}

func TestBadPictureDoesNotBlankSlide(t *testing.T) {
	red := deck.Color{R: 255}
	d := &deck.Deck{Width: 100, Height: 100, Slides: []deck.Slide{{
		Background: &deck.Background{Kind: deck.BackgroundSolid, Color: deck.Color{B: 255}},
		Shapes: []deck.Shape{
			{Name: "broken", Kind: deck.KindStaticPicture, Position: &deck.Point{}, Size: &deck.Extent{W: 100, H: 100}, Picture: []byte("garbage")},
			{Name: "box", Kind: deck.KindFilled, Position: &deck.Point{X: 50, Y: 50}, Size: &deck.Extent{W: 50, H: 50}, Fill: &red},
		},
	}}}
	r := testRenderer(t, d)

	c, layers, err := r.compose(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if layers == 0 {
		t.Error("the good shape produced no layers")
	}
	img := c.FrameAt(0).(*image.RGBA)
	if got := img.RGBAAt(60, 30); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("box pixel = %v, want red", got)
	}
	if got := img.RGBAAt(5, 5); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("background pixel = %v, want blue", got)
	}
}

func TestStateString(t *testing.T) {
	if StateFailedFallback.String() != "FAILED_FALLBACK" || State(42).String() != "State(42)" {
		t.Error("unexpected State names")
	}
}
