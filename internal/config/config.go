package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultWidth              = 1920
	DefaultHeight             = 1080
	DefaultFPS                = 24
	DefaultSlideDuration      = 2.0
	DefaultTransitionDuration = 0.5
	DefaultBitrate            = "2000k"
	DefaultPreset             = "ultrafast"
	DefaultVideoEncoder       = "libx264"
	DefaultMinArtifactBytes   = 1000
	DefaultMaxUploadBytes     = 64 << 20
	DefaultListen             = "127.0.0.1:8790"

	envPrefix = "DECK2VIDEO_"
)

// DefaultTransitions is the cycle slides walk through by 1-based index.
var DefaultTransitions = []string{"fade", "slide_left", "slide_right", "zoom"}

var knownTransitions = map[string]bool{
	"fade":        true,
	"slide_left":  true,
	"slide_right": true,
	"zoom":        true,
}

type Config struct {
	InputPath   string `yaml:"input"`
	OutputVideo string `yaml:"output"`
	OutputDir   string `yaml:"output_dir"`
	Overwrite   bool   `yaml:"overwrite"`

	Width              int      `yaml:"width"`
	Height             int      `yaml:"height"`
	FPS                int      `yaml:"fps"`
	Workers            int      `yaml:"workers"`
	SlideDuration      float64  `yaml:"slide_duration"`
	TransitionDuration float64  `yaml:"transition_duration"`
	Transitions        []string `yaml:"transitions"`
	DPI                int      `yaml:"dpi"`
	FontPath           string   `yaml:"font"`

	VideoEncoder     string `yaml:"encoder"`
	Bitrate          string `yaml:"bitrate"`
	Preset           string `yaml:"preset"`
	MinArtifactBytes int64  `yaml:"min_artifact_bytes"`
	Probe            bool   `yaml:"probe"`
	Manifest         bool   `yaml:"manifest"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HistoryDB      string `yaml:"history_db"`
	Listen         string `yaml:"listen"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	ShowStats    bool   `yaml:"show_stats"`
	BuildVersion string `yaml:"-"`
}

// SegmentParams describes how one slide is turned into a video segment.
type SegmentParams struct {
	Width, Height      int
	FPS                int
	Duration           float64
	TransitionDuration float64
	Transition         string
	PageIndex          int
}

// Default returns the reference pipeline settings: 1920x1080 at 24 fps,
// 2s slides with 0.5s transitions, fast libx264 at 2000k.
func Default() *Config {
	return &Config{
		OutputDir:          "output",
		Width:              DefaultWidth,
		Height:             DefaultHeight,
		FPS:                DefaultFPS,
		Workers:            1,
		SlideDuration:      DefaultSlideDuration,
		TransitionDuration: DefaultTransitionDuration,
		Transitions:        append([]string(nil), DefaultTransitions...),
		DPI:                150,
		VideoEncoder:       DefaultVideoEncoder,
		Bitrate:            DefaultBitrate,
		Preset:             DefaultPreset,
		MinArtifactBytes:   DefaultMinArtifactBytes,
		LogLevel:           "info",
		LogFormat:          "text",
		Listen:             DefaultListen,
		MaxUploadBytes:     DefaultMaxUploadBytes,
	}
}

// SegmentDuration is the length of every rendered slide segment.
func (c *Config) SegmentDuration() float64 {
	return c.SlideDuration + c.TransitionDuration
}

// Segment builds the parameters for the slide at zero-based index i.
func (c *Config) Segment(i int, transition string, duration float64) SegmentParams {
	return SegmentParams{
		Width:              c.Width,
		Height:             c.Height,
		FPS:                c.FPS,
		Duration:           duration,
		TransitionDuration: c.TransitionDuration,
		Transition:         transition,
		PageIndex:          i,
	}
}

// Load layers the sources below flags: defaults, then the YAML file at path
// (skipped when empty), then .env and DECK2VIDEO_* variables.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile overlays the keys present in a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from DECK2VIDEO_* environment variables.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"WIDTH":   &c.Width,
		"HEIGHT":  &c.Height,
		"FPS":     &c.FPS,
		"WORKERS": &c.Workers,
		"DPI":     &c.DPI,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"SLIDE_DURATION":      &c.SlideDuration,
		"TRANSITION_DURATION": &c.TransitionDuration,
	}
	for key, dst := range floats {
		if v := os.Getenv(envPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = f
		}
	}

	strs := map[string]*string{
		"OUTPUT_DIR": &c.OutputDir,
		"FONT":       &c.FontPath,
		"ENCODER":    &c.VideoEncoder,
		"BITRATE":    &c.Bitrate,
		"PRESET":     &c.Preset,
		"LOG_LEVEL":  &c.LogLevel,
		"LOG_FORMAT": &c.LogFormat,
		"HISTORY_DB": &c.HistoryDB,
		"LISTEN":     &c.Listen,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envPrefix + "TRANSITIONS"); v != "" {
		var list []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				list = append(list, t)
			}
		}
		c.Transitions = list
	}
	return nil
}

// Validate reports every setting that would make a run impossible.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height))
	} else if c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("yuv420p needs even dimensions, got %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.FPS))
	}
	if c.SlideDuration <= 0 {
		errs = append(errs, fmt.Errorf("slide duration must be positive, got %.3f", c.SlideDuration))
	}
	if c.TransitionDuration <= 0 {
		errs = append(errs, fmt.Errorf("transition duration must be positive, got %.3f", c.TransitionDuration))
	}
	if len(c.Transitions) == 0 {
		errs = append(errs, errors.New("at least one transition is required"))
	}
	for _, t := range c.Transitions {
		if !knownTransitions[t] {
			errs = append(errs, fmt.Errorf("unknown transition %q", t))
		}
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MinArtifactBytes < 0 {
		errs = append(errs, fmt.Errorf("min artifact size cannot be negative"))
	}
	return errors.Join(errs...)
}
