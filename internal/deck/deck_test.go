package deck

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// testGIF encodes a noisy paletted GIF with the given frame count.
func testGIF(t *testing.T, frames int) []byte {
	t.Helper()
	palette := color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
	}
	rng := rand.New(rand.NewPCG(1, 2))
	g := &gif.GIF{}
	for i := 0; i < frames; i++ {
		img := image.NewPaletted(image.Rect(0, 0, 40, 40), palette)
		for j := range img.Pix {
			img.Pix[j] = uint8(rng.IntN(len(palette)))
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"#FF8000", Color{255, 128, 0}, false},
		{"00ff00", Color{0, 255, 0}, false},
		{"#fff", White, false},
		{"#12345", Color{}, true},
		{"#GGGGGG", Color{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"914400", 914400},
		{"1in", EMUPerInch},
		{"0.5in", EMUPerInch / 2},
		{"12pt", 12 * EMUPerPoint},
		{"500emu", 500},
	}
	for _, tt := range tests {
		got, err := ParseLength(tt.in)
		if err != nil {
			t.Fatalf("ParseLength(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLength("wide"); err == nil {
		t.Error("expected error for non-numeric length")
	}
}

func TestParseDeck(t *testing.T) {
	doc := `
masters:
  - name: base
    background: {solid: "#112233"}
layouts:
  - name: title
    master: base
slides:
  - layout: title
    shapes:
      - name: box
        left: 1in
        top: 1in
        width: 2in
        height: 1in
        fill: "#FF0000"
      - name: caption
        left: 0
        top: 0
        text:
          - [{text: "Hello", size: 32, color: "#00FF00"}, {text: " world", theme: accent1}]
      - name: grid
        table: [[a, b, c], [d]]
      - name: mystery
        kind: smartart
  - background:
      gradient:
        angle: 90
        stops: [{pos: 0, color: "#000"}, {pos: 1, color: "#fff"}]
`
	d, err := Parse([]byte(doc), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if d.Width != DefaultWidth || d.Height != DefaultHeight {
		t.Errorf("native size = %dx%d, want default", d.Width, d.Height)
	}
	if len(d.Slides) != 2 {
		t.Fatalf("got %d slides, want 2", len(d.Slides))
	}

	shapes := d.Slides[0].Shapes
	wantKinds := []ShapeKind{KindFilled, KindText, KindTable, KindUnknown}
	for i, want := range wantKinds {
		if shapes[i].Kind != want {
			t.Errorf("shape %d kind = %v, want %v", i, shapes[i].Kind, want)
		}
	}
	if shapes[0].Position.X != EMUPerInch || shapes[0].Size.W != 2*EMUPerInch {
		t.Errorf("box geometry = %+v %+v", shapes[0].Position, shapes[0].Size)
	}
	if shapes[1].Size != nil {
		t.Error("caption without extent should have nil Size")
	}
	runs := shapes[1].Text.Paragraphs[0].Runs
	if runs[0].ResolvedColor() != (Color{0, 255, 0}) || runs[0].ResolvedSize() != 32 {
		t.Errorf("first run = %+v", runs[0])
	}
	if runs[1].ResolvedColor() != Black || runs[1].ResolvedSize() != DefaultFontSize {
		t.Errorf("theme-only run should resolve to black at default size, got %+v", runs[1])
	}
	if rows, cols := shapes[2].Table.Dimensions(); rows != 2 || cols != 3 {
		t.Errorf("table dimensions = %dx%d, want 2x3", rows, cols)
	}
	if shapes[3].RawKind != "smartart" {
		t.Errorf("RawKind = %q", shapes[3].RawKind)
	}

	chain := d.BackgroundChain(&d.Slides[0])
	if chain[0] != nil || chain[1] != nil || chain[2] == nil || chain[2].Color != (Color{0x11, 0x22, 0x33}) {
		t.Errorf("chain for slide 1 = %v", chain)
	}
	chain = d.BackgroundChain(&d.Slides[1])
	if chain[0] == nil || chain[0].Kind != BackgroundGradient || len(chain[0].Stops) != 2 {
		t.Errorf("slide 2 should carry its own gradient, got %v", chain[0])
	}
}

func TestParsePictures(t *testing.T) {
	dir := t.TempDir()
	anim := testGIF(t, 3)
	if err := os.WriteFile(filepath.Join(dir, "spin.gif"), anim, 0644); err != nil {
		t.Fatal(err)
	}
	still := testGIF(t, 1)

	doc := "slides:\n  - shapes:\n" +
		"      - {name: anim, picture: {path: spin.gif}}\n" +
		"      - {name: still, picture: {data: " + base64.StdEncoding.EncodeToString(still) + "}}\n"

	d, err := Parse([]byte(doc), dir)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	shapes := d.Slides[0].Shapes
	if shapes[0].Kind != KindAnimatedPicture {
		t.Errorf("multi-frame GIF kind = %v", shapes[0].Kind)
	}
	if shapes[1].Kind != KindStaticPicture {
		t.Errorf("single-frame GIF kind = %v", shapes[1].Kind)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"bad colour":      "slides:\n  - shapes:\n      - {fill: '#zzz'}\n",
		"missing picture": "slides:\n  - shapes:\n      - {picture: {path: absent.png}}\n",
		"empty gradient":  "slides:\n  - background: {gradient: {angle: 0}}\n",
		"not yaml":        "slides: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), t.TempDir()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseInlineRejectsPaths(t *testing.T) {
	doc := "slides:\n  - shapes:\n      - {picture: {path: /etc/hostname}}\n"
	if _, err := ParseInline([]byte(doc)); !errors.Is(err, ErrExternalPicture) {
		t.Errorf("ParseInline() error = %v, want ErrExternalPicture", err)
	}
	if _, err := ParseInline([]byte("slides:\n  - shapes: []\n")); err != nil {
		t.Errorf("ParseInline() on plain deck error = %v", err)
	}
}

// tinyGIF encodes one 1x1 frame per colour.
func tinyGIF(t *testing.T, colors ...color.Color) []byte {
	t.Helper()
	g := &gif.GIF{}
	for _, c := range colors {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{c, color.White}))
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseKeepsTinyStaticGIF(t *testing.T) {
	dir := t.TempDir()
	dot := tinyGIF(t, color.Black)
	if err := os.WriteFile(filepath.Join(dir, "dot.gif"), dot, 0644); err != nil {
		t.Fatal(err)
	}
	doc := "slides:\n  - shapes:\n" +
		"      - {name: dot, kind: picture, picture: {path: dot.gif}}\n" +
		"      - {name: title, text: [[{text: Hi}]]}\n"
	d, err := Parse([]byte(doc), dir)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	shapes := d.Slides[0].Shapes
	if shapes[0].Kind != KindStaticPicture {
		t.Errorf("kind = %v, want static picture", shapes[0].Kind)
	}
	if !bytes.Equal(shapes[0].Picture, dot) {
		t.Error("static GIF bytes were not kept")
	}
	if shapes[1].Kind != KindText {
		t.Errorf("neighbour kind = %v, want text", shapes[1].Kind)
	}
}

func TestParseCorruptGIFOnlyAffectsItsShape(t *testing.T) {
	dir := t.TempDir()
	corrupt := append([]byte("GIF89a"), bytes.Repeat([]byte{0xFF}, 200)...)
	if err := os.WriteFile(filepath.Join(dir, "broken.gif"), corrupt, 0644); err != nil {
		t.Fatal(err)
	}
	doc := "slides:\n  - shapes:\n" +
		"      - {name: broken, picture: {path: broken.gif}}\n" +
		"      - {name: box, fill: '#FF0000'}\n"
	d, err := Parse([]byte(doc), dir)
	if err != nil {
		t.Fatalf("Parse() error = %v, want the deck to load", err)
	}
	shapes := d.Slides[0].Shapes
	if len(shapes) != 2 {
		t.Fatalf("got %d shapes, want 2", len(shapes))
	}
	if shapes[0].Kind != KindStaticPicture || len(shapes[0].Picture) == 0 {
		t.Errorf("broken GIF = %v with %d bytes, want static picture left for the rasterizer to reject", shapes[0].Kind, len(shapes[0].Picture))
	}
	if shapes[1].Kind != KindFilled {
		t.Errorf("neighbour kind = %v, want filled", shapes[1].Kind)
	}
}

func TestParseDropsAnimationFailingVerification(t *testing.T) {
	blink := tinyGIF(t, color.Black, color.White)
	if len(blink) >= MinAnimationBytes {
		t.Fatalf("fixture is %d bytes, want under %d", len(blink), MinAnimationBytes)
	}
	doc := "slides:\n  - shapes:\n" +
		"      - {name: blink, picture: {data: " + base64.StdEncoding.EncodeToString(blink) + "}}\n"
	d, err := Parse([]byte(doc), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	sh := d.Slides[0].Shapes[0]
	if sh.Kind != KindAnimatedPicture || sh.Picture != nil {
		t.Errorf("shape = %v with %d bytes, want animated picture without bytes", sh.Kind, len(sh.Picture))
	}
}

func TestParseSingleAxisSize(t *testing.T) {
	doc := "width: 1000\nheight: 600\nslides:\n  - shapes:\n" +
		"      - {name: wide, width: 800}\n" +
		"      - {name: tall, height: 500}\n"
	d, err := Parse([]byte(doc), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	shapes := d.Slides[0].Shapes
	if got := *shapes[0].Size; got != (Extent{W: 800, H: 300}) {
		t.Errorf("width-only size = %+v, want {800 300}", got)
	}
	if got := *shapes[1].Size; got != (Extent{W: 500, H: 500}) {
		t.Errorf("height-only size = %+v, want {500 500}", got)
	}
}

func TestBackgroundChainFallsBackToFirstMaster(t *testing.T) {
	base := &Background{Kind: BackgroundSolid, Color: Color{R: 1}}
	other := &Background{Kind: BackgroundSolid, Color: Color{G: 1}}
	d := &Deck{
		Masters: []Master{{Name: "base", Background: base}, {Name: "alt", Background: other}},
		Layouts: []Layout{{Name: "orphan", Master: "gone"}, {Name: "alt", Master: "alt"}},
	}
	tests := map[string]struct {
		layout string
		want   *Background
	}{
		"no layout":          {"", base},
		"missing layout":     {"absent", base},
		"layout w/o master":  {"orphan", base},
		"layout with master": {"alt", other},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			chain := d.BackgroundChain(&Slide{Layout: tt.layout})
			if chain[2] != tt.want {
				t.Errorf("master background = %v, want %v", chain[2], tt.want)
			}
		})
	}
	if chain := (&Deck{}).BackgroundChain(&Slide{}); chain[2] != nil {
		t.Errorf("deck without masters gave %v", chain[2])
	}
}

func TestValidateEmptyDeck(t *testing.T) {
	d := &Deck{Width: DefaultWidth, Height: DefaultHeight}
	if err := d.Validate(); !errors.Is(err, ErrNoSlides) {
		t.Errorf("Validate() = %v, want ErrNoSlides", err)
	}
}

func TestVerifyAnimation(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.gif")
	if err := os.WriteFile(good, testGIF(t, 2), 0644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyAnimation(good); err != nil {
		t.Errorf("VerifyAnimation(good) = %v", err)
	}

	if err := VerifyAnimationBytes([]byte("PNG....")); !errors.Is(err, ErrNotGIF) {
		t.Errorf("non-GIF error = %v", err)
	}
	if err := VerifyAnimationBytes([]byte("GIF89a tiny")); !errors.Is(err, ErrAnimationTooSmall) {
		t.Errorf("tiny GIF error = %v", err)
	}
	corrupt := append([]byte("GIF89a"), bytes.Repeat([]byte{0xFF}, 200)...)
	if err := VerifyAnimationBytes(corrupt); err == nil {
		t.Error("expected decode error for corrupt GIF")
	}
	if err := VerifyAnimation(filepath.Join(dir, "absent.gif")); err == nil {
		t.Error("expected error for missing file")
	}
}
