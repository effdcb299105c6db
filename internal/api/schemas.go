package api

import (
	"time"

	"github.com/ivlev/deck2video/internal/engine"
	"github.com/ivlev/deck2video/internal/history"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type SlideResponse struct {
	Index      int     `json:"index"`
	Transition string  `json:"transition"`
	Duration   float64 `json:"duration"`
	Frames     int     `json:"frames"`
	Fallback   bool    `json:"fallback,omitempty"`
}

type RenderResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Output    string          `json:"output"`
	Bytes     int64           `json:"bytes"`
	Fallbacks int             `json:"fallbacks"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Slides    []SlideResponse `json:"slides"`
}

type RunsResponse struct {
	Runs []*history.Run `json:"runs"`
}

func ResultToResponse(id string, res *engine.Result) RenderResponse {
	resp := RenderResponse{
		ID:        id,
		Status:    history.StatusDone,
		Output:    res.OutputPath,
		Bytes:     res.Bytes,
		Fallbacks: res.Fallbacks,
		ElapsedMS: res.Elapsed.Milliseconds(),
		Slides:    make([]SlideResponse, len(res.Slides)),
	}
	for i, s := range res.Slides {
		resp.Slides[i] = SlideResponse{
			Index:      s.Index,
			Transition: s.Transition,
			Duration:   s.Duration,
			Frames:     s.Frames,
			Fallback:   s.Fallback,
		}
	}
	return resp
}

func uptime(start time.Time) int64 {
	return int64(time.Since(start).Seconds())
}
