package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/deck2video/internal/clip"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/history"
	"github.com/ivlev/deck2video/internal/video"
)

// rawEncoder writes raw frames instead of calling ffmpeg.
type rawEncoder struct {
	concatErr error
}

func (e *rawEncoder) EncodeSegment(ctx context.Context, c clip.Clip, path string, p config.SegmentParams) (video.SegmentInfo, error) {
	var buf bytes.Buffer
	info, err := video.WriteFrames(&buf, c, p.Width, p.Height, p.FPS)
	if err != nil {
		return info, err
	}
	return info, os.WriteFile(path, buf.Bytes(), 0644)
}

func (e *rawEncoder) Concatenate(ctx context.Context, paths []string, final, tmp string) error {
	if e.concatErr != nil {
		return e.concatErr
	}
	var all []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		all = append(all, data...)
	}
	return os.WriteFile(final, all, 0644)
}

const twoSlides = `
slides:
  - background: {solid: "#336699"}
    shapes:
      - {fill: "#ff0000", left: 1in, top: 1in, width: 2in, height: 1in}
  - shapes:
      - {text: [[{text: Hello}]], left: 0.5in, top: 0.5in}
`

func newTestServer(t *testing.T, enc video.VideoEncoder) (http.Handler, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Width, cfg.Height, cfg.FPS = 64, 36, 4
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.MaxUploadBytes = 4096

	db, err := history.Open(filepath.Join(dir, "history.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	return NewRouter(ServerConfig{
		Config:    cfg,
		Encoder:   enc,
		History:   history.NewRepository(db),
		StartTime: time.Now(),
	}), cfg
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, &rawEncoder{})
	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if got := decode[HealthResponse](t, rr); got.Status != "ok" {
		t.Errorf("health = %+v", got)
	}
}

func TestCreateRenderAndFetch(t *testing.T) {
	h, _ := newTestServer(t, &rawEncoder{})

	rr := do(h, http.MethodPost, "/renders?name=demo", twoSlides)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status code = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[RenderResponse](t, rr)
	if len(resp.Slides) != 2 || resp.Slides[0].Transition != "slide_left" || resp.Slides[1].Transition != "slide_right" {
		t.Errorf("slides = %+v", resp.Slides)
	}
	if _, err := os.Stat(resp.Output); err != nil {
		t.Errorf("output not written: %v", err)
	}

	rr = do(h, http.MethodGet, "/renders/"+resp.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	run := decode[history.Run](t, rr)
	if run.Status != history.StatusDone || run.Deck != "demo" || run.Slides != 2 {
		t.Errorf("run = %+v", run)
	}

	rr = do(h, http.MethodGet, "/renders", "")
	if got := decode[RunsResponse](t, rr); len(got.Runs) != 1 {
		t.Errorf("list = %+v", got)
	}

	rr = do(h, http.MethodGet, "/renders/"+resp.ID+"/video", "")
	if rr.Code != http.StatusOK || rr.Body.Len() != int(resp.Bytes) {
		t.Errorf("video status = %d, %d bytes", rr.Code, rr.Body.Len())
	}
}

func TestCreateRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		enc  *rawEncoder
		body string
		want int
	}{
		{"empty deck", &rawEncoder{}, "slides: []\n", http.StatusUnprocessableEntity},
		{"malformed", &rawEncoder{}, "slides: [", http.StatusUnprocessableEntity},
		{"picture path", &rawEncoder{}, "slides:\n  - shapes:\n      - {picture: {path: /etc/passwd}}\n", http.StatusUnprocessableEntity},
		{"too large", &rawEncoder{}, "slides: []\n#" + strings.Repeat("x", 5000), http.StatusRequestEntityTooLarge},
		{"encoder fails", &rawEncoder{concatErr: errors.New("boom")}, twoSlides, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, tt.enc)
			rr := do(h, http.MethodPost, "/renders", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status code = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestFailedRunIsRecorded(t *testing.T) {
	h, _ := newTestServer(t, &rawEncoder{concatErr: errors.New("boom")})
	do(h, http.MethodPost, "/renders", twoSlides)

	runs := decode[RunsResponse](t, do(h, http.MethodGet, "/renders", "")).Runs
	if len(runs) != 1 || runs[0].Status != history.StatusFailed || !strings.Contains(runs[0].Error, "boom") {
		t.Fatalf("runs = %+v", runs)
	}
	rr := do(h, http.MethodGet, "/renders/"+runs[0].ID+"/video", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("video status = %d, want 409", rr.Code)
	}
}

func TestGetUnknownRender(t *testing.T) {
	h, _ := newTestServer(t, &rawEncoder{})
	if rr := do(h, http.MethodGet, "/renders/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rr.Code)
	}
}
