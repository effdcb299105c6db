// Package timeline records where each slide landed in a rendered video.
// The manifest sits next to the video and doubles as a snapshot for
// regression checks: equal frame digests mean equal pixels.
package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const Version = "1"

// Manifest describes a rendered video slide by slide.
type Manifest struct {
	Version string  `yaml:"version"`
	RunID   string  `yaml:"run_id"`
	Source  string  `yaml:"source,omitempty"`
	Output  string  `yaml:"output"`
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	FPS     int     `yaml:"fps"`
	Total   float64 `yaml:"total"` // seconds
	Slides  []Entry `yaml:"slides"`
}

// Entry is one slide's segment.
type Entry struct {
	Slide      int     `yaml:"slide"` // 1-based
	Start      float64 `yaml:"start"`
	Duration   float64 `yaml:"duration"`
	Transition string  `yaml:"transition"`
	Frames     int     `yaml:"frames"`
	Fallback   bool    `yaml:"fallback,omitempty"`
	Digest     string  `yaml:"digest"`
}

// Append adds e after the last entry, setting its start time.
func (m *Manifest) Append(e Entry) {
	e.Start = m.Total
	m.Total += e.Duration
	m.Slides = append(m.Slides, e)
}

// ManifestPath returns the manifest location for a video file.
func ManifestPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + ".timeline.yaml"
}

// Write writes a manifest to a YAML file
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read reads a manifest from a YAML file
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	return &m, nil
}

// Diff lists the 1-based slides whose content differs between a and b.
// Slides present in only one manifest count as different.
func Diff(a, b *Manifest) []int {
	var out []int
	n := max(len(a.Slides), len(b.Slides))
	for i := 0; i < n; i++ {
		if i >= len(a.Slides) || i >= len(b.Slides) ||
			a.Slides[i].Digest != b.Slides[i].Digest ||
			a.Slides[i].Transition != b.Slides[i].Transition {
			out = append(out, i+1)
		}
	}
	return out
}
