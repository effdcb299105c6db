package deck

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/gif"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Deck files are YAML. Geometry is in EMU unless suffixed with "in", "pt"
// or "emu". Picture content is either a path relative to the deck file or
// base64 data.

type fileDeck struct {
	Width   *length      `yaml:"width"`
	Height  *length      `yaml:"height"`
	Masters []fileMaster `yaml:"masters"`
	Layouts []fileLayout `yaml:"layouts"`
	Slides  []fileSlide  `yaml:"slides"`
}

type fileMaster struct {
	Name       string          `yaml:"name"`
	Background *fileBackground `yaml:"background"`
}

type fileLayout struct {
	Name       string          `yaml:"name"`
	Master     string          `yaml:"master"`
	Background *fileBackground `yaml:"background"`
}

type fileSlide struct {
	Layout     string          `yaml:"layout"`
	Background *fileBackground `yaml:"background"`
	Shapes     []fileShape     `yaml:"shapes"`
}

type fileBackground struct {
	Solid    string        `yaml:"solid"`
	Gradient *fileGradient `yaml:"gradient"`
	Picture  *filePicture  `yaml:"picture"`
	Pattern  *filePattern  `yaml:"pattern"`
}

type fileGradient struct {
	Angle float64    `yaml:"angle"`
	Stops []fileStop `yaml:"stops"`
}

type fileStop struct {
	Pos   float64 `yaml:"pos"`
	Color string  `yaml:"color"`
}

type filePattern struct {
	Fore string `yaml:"fore"`
	Back string `yaml:"back"`
}

type filePicture struct {
	Path string `yaml:"path"`
	Data string `yaml:"data"`
}

type fileShape struct {
	Name    string       `yaml:"name"`
	Kind    string       `yaml:"kind"`
	Left    *length      `yaml:"left"`
	Top     *length      `yaml:"top"`
	Width   *length      `yaml:"width"`
	Height  *length      `yaml:"height"`
	Fill    string       `yaml:"fill"`
	Text    [][]fileRun  `yaml:"text"`
	Picture *filePicture `yaml:"picture"`
	Table   [][]string   `yaml:"table"`
}

type fileRun struct {
	Text  string  `yaml:"text"`
	Size  float64 `yaml:"size"`
	Color string  `yaml:"color"`
	Theme string  `yaml:"theme"`
}

// length is an EMU value that may be written with a unit suffix.
type length int64

func (l *length) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseLength(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = length(v)
	return nil
}

// ParseLength parses "914400", "1in", "12pt" or "500emu" into EMU.
func ParseLength(s string) (int64, error) {
	s = strings.TrimSpace(s)
	num, convert := s, func(f float64) int64 { return int64(f) }
	switch {
	case strings.HasSuffix(s, "emu"):
		num = strings.TrimSuffix(s, "emu")
	case strings.HasSuffix(s, "in"):
		num, convert = strings.TrimSuffix(s, "in"), Inch
	case strings.HasSuffix(s, "pt"):
		num, convert = strings.TrimSuffix(s, "pt"), Pt
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	return convert(f), nil
}

// Load reads a deck file from disk.
func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck: %w", err)
	}
	d, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ErrExternalPicture is returned by ParseInline for pictures given by path.
var ErrExternalPicture = errors.New("picture paths are not allowed here; embed the data")

// inlineOnly is a baseDir no real path can equal.
const inlineOnly = "\x00inline"

// ParseInline decodes a deck whose pictures must all be embedded as data.
// It is used for uploads, where paths would read the server's files.
func ParseInline(data []byte) (*Deck, error) {
	return Parse(data, inlineOnly)
}

// Parse decodes a deck document. baseDir resolves relative picture paths.
func Parse(data []byte, baseDir string) (*Deck, error) {
	var f fileDeck
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse deck: %w", err)
	}

	d := &Deck{Width: DefaultWidth, Height: DefaultHeight}
	if f.Width != nil {
		d.Width = int64(*f.Width)
	}
	if f.Height != nil {
		d.Height = int64(*f.Height)
	}

	var errs []error
	for i, m := range f.Masters {
		bg, err := convertBackground(m.Background, baseDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("master %d: %w", i, err))
		}
		d.Masters = append(d.Masters, Master{Name: m.Name, Background: bg})
	}
	for i, l := range f.Layouts {
		bg, err := convertBackground(l.Background, baseDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("layout %d: %w", i, err))
		}
		d.Layouts = append(d.Layouts, Layout{Name: l.Name, Master: l.Master, Background: bg})
	}
	for i, s := range f.Slides {
		slide, err := convertSlide(s, baseDir, Extent{W: d.Width, H: d.Height})
		if err != nil {
			errs = append(errs, fmt.Errorf("slide %d: %w", i+1, err))
		}
		d.Slides = append(d.Slides, slide)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

func convertSlide(s fileSlide, baseDir string, native Extent) (Slide, error) {
	bg, err := convertBackground(s.Background, baseDir)
	if err != nil {
		return Slide{}, err
	}
	slide := Slide{Layout: s.Layout, Background: bg}
	for i, fs := range s.Shapes {
		sh, err := convertShape(fs, baseDir, native)
		if err != nil {
			return Slide{}, fmt.Errorf("shape %d (%s): %w", i, fs.Name, err)
		}
		slide.Shapes = append(slide.Shapes, sh)
	}
	return slide, nil
}

func convertBackground(b *fileBackground, baseDir string) (*Background, error) {
	if b == nil {
		return nil, nil
	}
	switch {
	case b.Solid != "":
		c, err := ParseColor(b.Solid)
		if err != nil {
			return nil, err
		}
		return &Background{Kind: BackgroundSolid, Color: c}, nil
	case b.Gradient != nil:
		bg := &Background{Kind: BackgroundGradient, Angle: b.Gradient.Angle}
		for _, st := range b.Gradient.Stops {
			c, err := ParseColor(st.Color)
			if err != nil {
				return nil, err
			}
			bg.Stops = append(bg.Stops, GradientStop{Position: st.Pos, Color: c})
		}
		if len(bg.Stops) == 0 {
			return nil, errors.New("gradient without stops")
		}
		return bg, nil
	case b.Picture != nil:
		data, err := readPicture(b.Picture, baseDir)
		if err != nil {
			return nil, err
		}
		return &Background{Kind: BackgroundPicture, Picture: data}, nil
	case b.Pattern != nil:
		fore, err := ParseColor(b.Pattern.Fore)
		if err != nil {
			return nil, err
		}
		back, err := ParseColor(b.Pattern.Back)
		if err != nil {
			return nil, err
		}
		return &Background{Kind: BackgroundPattern, Fore: fore, Back: back}, nil
	}
	return nil, nil
}

// convertShape builds a shape from its file form. A shape that gives only one
// of width and height takes half the native extent on the other axis.
func convertShape(fs fileShape, baseDir string, native Extent) (Shape, error) {
	sh := Shape{Name: fs.Name}
	if fs.Left != nil || fs.Top != nil {
		sh.Position = &Point{}
		if fs.Left != nil {
			sh.Position.X = int64(*fs.Left)
		}
		if fs.Top != nil {
			sh.Position.Y = int64(*fs.Top)
		}
	}
	if fs.Width != nil || fs.Height != nil {
		sh.Size = &Extent{W: native.W / 2, H: native.H / 2}
		if fs.Width != nil {
			sh.Size.W = int64(*fs.Width)
		}
		if fs.Height != nil {
			sh.Size.H = int64(*fs.Height)
		}
	}
	if fs.Fill != "" {
		c, err := ParseColor(fs.Fill)
		if err != nil {
			return Shape{}, err
		}
		sh.Fill = &c
	}
	if len(fs.Text) > 0 {
		tf := &TextFrame{}
		for _, para := range fs.Text {
			var p Paragraph
			for _, r := range para {
				run := Run{Text: r.Text, Size: r.Size, ThemeColor: r.Theme}
				if r.Color != "" {
					c, err := ParseColor(r.Color)
					if err != nil {
						return Shape{}, err
					}
					run.Color = &c
				}
				p.Runs = append(p.Runs, run)
			}
			tf.Paragraphs = append(tf.Paragraphs, p)
		}
		sh.Text = tf
	}
	if fs.Picture != nil {
		data, err := readPicture(fs.Picture, baseDir)
		if err != nil {
			return Shape{}, err
		}
		sh.Picture = data
	}
	if len(fs.Table) > 0 {
		sh.Table = &Table{Rows: fs.Table}
	}
	sh.Kind = classify(fs.Kind, &sh)
	// An animation that fails verification keeps its kind but loses its
	// bytes, so only this shape is skipped at render time.
	if sh.Kind == KindAnimatedPicture && VerifyAnimationBytes(sh.Picture) != nil {
		sh.Picture = nil
	}
	if sh.Kind == KindUnknown {
		sh.RawKind = fs.Kind
	}
	return sh, nil
}

// classify maps a declared kind onto the closed set. Without a declaration
// the content decides: picture, then table, then text, then fill.
func classify(declared string, sh *Shape) ShapeKind {
	pictureKind := func() ShapeKind {
		if IsAnimated(sh.Picture) {
			return KindAnimatedPicture
		}
		return KindStaticPicture
	}
	switch strings.ToLower(declared) {
	case "":
	case "filled", "rect", "rectangle", "shape":
		return KindFilled
	case "text", "textbox":
		return KindText
	case "picture", "image":
		return pictureKind()
	case "table":
		return KindTable
	default:
		return KindUnknown
	}
	switch {
	case sh.Picture != nil:
		return pictureKind()
	case sh.Table != nil:
		return KindTable
	case sh.Text != nil:
		return KindText
	case sh.Fill != nil:
		return KindFilled
	}
	return KindUnknown
}

// IsAnimated reports whether data is a GIF with more than one frame.
func IsAnimated(data []byte) bool {
	if !bytes.HasPrefix(data, gifMagic) {
		return false
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

func readPicture(p *filePicture, baseDir string) ([]byte, error) {
	if p.Data != "" {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.Data))
		if err != nil {
			return nil, fmt.Errorf("decode picture data: %w", err)
		}
		return data, nil
	}
	if p.Path == "" {
		return nil, errors.New("picture needs a path or data")
	}
	if baseDir == inlineOnly {
		return nil, fmt.Errorf("%w: %s", ErrExternalPicture, p.Path)
	}
	path := p.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read picture: %w", err)
	}
	return data, nil
}
