package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/engine"
	"github.com/ivlev/deck2video/internal/history"
	"github.com/ivlev/deck2video/internal/logging"
)

// Version is reported by /health; the daemon sets it from its build flags.
var Version = "dev"

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	rd := newRenderer(cfg)
	r := chi.NewRouter()

	r.Use(tagRequests(cfg.Logger))
	r.Use(accessLog(cfg.Logger))
	r.Use(recoverPanics(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Route("/renders", func(r chi.Router) {
		r.Post("/", createRenderHandler(cfg, rd))
		r.Get("/", listRendersHandler(cfg))
		r.Get("/{id}", getRenderHandler(cfg))
		r.Get("/{id}/video", videoHandler(cfg))
	})
	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: uptime(cfg.StartTime),
		})
	}
}

// createRenderHandler renders the uploaded deck synchronously and answers
// with the run report.
func createRenderHandler(cfg ServerConfig, rd *renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Config.MaxUploadBytes)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "deck exceeds upload limit", "PAYLOAD_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "failed to read request body", "BAD_REQUEST")
			return
		}

		d, err := deck.ParseInline(data)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_INPUT")
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload"
		}
		id := uuid.NewString()
		output := filepath.Join(cfg.Config.OutputDir, id+".mp4")
		run := &history.Run{ID: id, Deck: name, Output: output}
		if cfg.History != nil {
			if err := cfg.History.Create(r.Context(), run); err != nil {
				requestLogger(r.Context(), cfg.Logger).Warn("run not recorded", "id", id, "error", err)
			}
		}

		res, runErr := rd.render(r.Context(), d, output)

		if cfg.History != nil {
			out := history.Outcome{Err: runErr}
			if res != nil {
				out.Slides, out.Fallbacks, out.Bytes = len(res.Slides), res.Fallbacks, res.Bytes
			}
			if err := cfg.History.Finish(context.WithoutCancel(r.Context()), id, out); err != nil {
				requestLogger(r.Context(), cfg.Logger).Warn("run outcome not recorded", "id", id, "error", err)
			}
		}

		if runErr != nil {
			status, code := errorStatus(runErr)
			WriteError(w, status, runErr.Error(), code)
			return
		}
		WriteJSON(w, http.StatusCreated, ResultToResponse(id, res))
	}
}

func (rd *renderer) render(ctx context.Context, d *deck.Deck, output string) (*engine.Result, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.project.Run(ctx, d, output)
}

func errorStatus(err error) (int, string) {
	var fatal *engine.FatalInputError
	switch {
	case errors.As(err, &fatal):
		return http.StatusUnprocessableEntity, "INVALID_INPUT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELED"
	}
	return http.StatusInternalServerError, "ENCODING_FAILED"
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteJSON(w, http.StatusOK, RunsResponse{Runs: []*history.Run{}})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := cfg.History.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list renders", "INTERNAL_ERROR")
			return
		}
		if runs == nil {
			runs = []*history.Run{}
		}
		WriteJSON(w, http.StatusOK, RunsResponse{Runs: runs})
	}
}

func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*history.Run, bool) {
	if cfg.History == nil {
		WriteError(w, http.StatusNotFound, "render history is disabled", "NOT_FOUND")
		return nil, false
	}
	run, err := cfg.History.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return run, true
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if run, ok := lookupRun(cfg, w, r); ok {
			WriteJSON(w, http.StatusOK, run)
		}
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		if run.Status != history.StatusDone {
			WriteError(w, http.StatusConflict, "render is "+run.Status, "NOT_READY")
			return
		}
		if _, err := os.Stat(run.Output); err != nil {
			WriteError(w, http.StatusGone, "video no longer on disk", "GONE")
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeFile(w, r, run.Output)
	}
}
