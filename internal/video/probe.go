package video

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Metadata is what ffprobe reports about an encoded artifact.
type Metadata struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  string
	HasAudio   bool
	SizeBytes  int64
	NbFrames   int
	FormatName string
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// ProbeVideo runs ffprobe on path.
func ProbeVideo(path string) (*Metadata, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("error probing video: %v", err)
	}
	return parseProbe(raw)
}

func parseProbe(raw string) (*Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.WithStack(err)
	}

	md := &Metadata{FormatName: out.Format.FormatName}
	md.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	md.SizeBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)

	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			md.Codec = s.CodecName
			md.Width, md.Height = s.Width, s.Height
			md.FrameRate = s.RFrameRate
			md.NbFrames, _ = strconv.Atoi(s.NbFrames)
			if md.Duration == 0 {
				md.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			md.HasAudio = true
		}
	}
	if !foundVideo {
		return nil, errors.New("no video stream found")
	}
	return md, nil
}
