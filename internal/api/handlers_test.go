package api

import (
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

	"github.com/gin-gonic/gin"

	"tubeload/internal/engine"
	"tubeload/internal/history"
	"tubeload/internal/media"
	"tubeload/internal/task"
)

type stubEngine struct {
	fetch func(req engine.Request, sink engine.Sink) error
}

func (s *stubEngine) Fetch(_ context.Context, req engine.Request, sink engine.Sink) error {
	if s.fetch == nil {
		return nil
	}
	return s.fetch(req, sink)
}

func (s *stubEngine) Probe(_ context.Context, url string) (*engine.MediaInfo, error) {
	if strings.Contains(url, "bad") {
		return nil, &engine.Error{Class: engine.ClassUnavailable, Msg: "Video unavailable"}
	}
	return &engine.MediaInfo{Title: "A Clip", Duration: "3:25", IsPlaylist: false}, nil
}

type stubHistory struct {
	runs []history.Record
	err  error
}

func (s *stubHistory) Recent(context.Context, int) ([]history.Record, error) {
	return s.runs, s.err
}

func newTestRouter(t *testing.T, eng *stubEngine, hist HistoryReader) (*gin.Engine, *task.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	downloadDir := t.TempDir()
	board := task.NewBoard(20*time.Second, media.FindOutput)
	manager := task.NewManager(task.Options{
		Workers:       1,
		QueueCapacity: 2,
		SubmitWait:    10 * time.Millisecond,
	}, eng, board, nil)
	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	t.Cleanup(func() {
		cancel()
		manager.WaitAll(context.Background())
	})

	router := gin.New()
	NewAPI(manager, eng, hist, Defaults{Folder: downloadDir, Mode: "Video", Quality: "Best"}).RegisterRoutes(router)
	return router, manager, downloadDir
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartDownloadQueuesTask(t *testing.T) {
	done := make(chan engine.Request, 1)
	eng := &stubEngine{fetch: func(req engine.Request, sink engine.Sink) error {
		done <- req
		_ = os.WriteFile(filepath.Join(req.Destination, "clip.mp4"), []byte("x"), 0o600)
		return nil
	}}
	router, _, downloadDir := newTestRouter(t, eng, &stubHistory{})

	w := doJSON(router, http.MethodPost, "/api/download", `{"url":"https://e.org/v","resolution":"720p"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case req := <-done:
		if req.Destination != downloadDir || req.Mode != "Video" || req.Quality != "720p" {
			t.Fatalf("defaults not applied: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine never invoked")
	}
}

func TestStartDownloadRejectsBadBody(t *testing.T) {
	router, _, _ := newTestRouter(t, &stubEngine{}, &stubHistory{})
	if w := doJSON(router, http.MethodPost, "/api/download", `{"mode":"Video"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing url should be 400, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/api/download", `{"url":"ftp://e.org/v"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad scheme should be 400, got %d", w.Code)
	}
}

func TestStartDownloadDuplicateConflict(t *testing.T) {
	block := make(chan struct{})
	eng := &stubEngine{fetch: func(req engine.Request, sink engine.Sink) error {
		<-block
		return nil
	}}
	router, _, _ := newTestRouter(t, eng, &stubHistory{})
	t.Cleanup(func() { close(block) })

	body := `{"url":"https://e.org/same"}`
	if w := doJSON(router, http.MethodPost, "/api/download", body); w.Code != http.StatusOK {
		t.Fatalf("first submit: %d", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/api/download", body); w.Code != http.StatusConflict {
		t.Fatalf("duplicate should be 409, got %d", w.Code)
	}
}

func TestStatusEndpointShape(t *testing.T) {
	router, _, _ := newTestRouter(t, &stubEngine{}, &stubHistory{})

	w := doJSON(router, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	for _, key := range []string{"status", "progress", "active_count", "logs", "jobs"} {
		if _, ok := snap[key]; !ok {
			t.Errorf("snapshot missing %q: %v", key, snap)
		}
	}
	if snap["status"] != "idle" {
		t.Fatalf("fresh service should be idle, got %v", snap["status"])
	}
}

func TestCancelWhenIdleConflicts(t *testing.T) {
	router, _, _ := newTestRouter(t, &stubEngine{}, &stubHistory{})
	if w := doJSON(router, http.MethodPost, "/api/cancel", ""); w.Code != http.StatusConflict {
		t.Fatalf("idle cancel should be 409, got %d", w.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t, &stubEngine{}, &stubHistory{})

	w := doJSON(router, http.MethodPost, "/api/info", `{"url":"https://e.org/v"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("info: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["title"] != "A Clip" || resp["is_playlist"] != false {
		t.Fatalf("unexpected info: %v", resp)
	}

	if w := doJSON(router, http.MethodPost, "/api/info", `{"url":"https://e.org/bad"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("probe failure should be 502, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/api/info", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing url should be 400, got %d", w.Code)
	}
}

func TestOptionsEndpoint(t *testing.T) {
	router, _, downloadDir := newTestRouter(t, &stubEngine{}, &stubHistory{})

	w := doJSON(router, http.MethodGet, "/api/options", "")
	if w.Code != http.StatusOK {
		t.Fatalf("options: %d", w.Code)
	}
	var resp struct {
		Modes     []string `json:"modes"`
		Qualities []string `json:"qualities"`
		Defaults  struct {
			Mode   string `json:"mode"`
			Folder string `json:"folder"`
		} `json:"defaults"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(resp.Modes) != 2 || len(resp.Qualities) == 0 {
		t.Fatalf("thin options: %+v", resp)
	}
	if resp.Defaults.Mode != "Video" || resp.Defaults.Folder != downloadDir {
		t.Fatalf("defaults missing: %+v", resp.Defaults)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	router, _, downloadDir := newTestRouter(t, &stubEngine{}, &stubHistory{})

	sub := filepath.Join(downloadDir, "My Playlist")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "01 - Track.mp3"), []byte("audio"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := doJSON(router, http.MethodGet, "/api/archive?folder=My+Playlist", "")
	if w.Code != http.StatusOK {
		t.Fatalf("archive: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "My Playlist.zip") {
		t.Fatalf("disposition %q", w.Header().Get("Content-Disposition"))
	}

	if w := doJSON(router, http.MethodGet, "/api/archive?folder=..%2Fescape", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("traversal should be 400, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/api/archive?folder=missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing folder should be 404, got %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	hist := &stubHistory{runs: []history.Record{{ID: "r1", URL: "https://e.org/v", Phase: "completed"}}}
	router, _, _ := newTestRouter(t, &stubEngine{}, hist)

	w := doJSON(router, http.MethodGet, "/api/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"r1"`) {
		t.Fatalf("expected run in body: %s", w.Body.String())
	}

	hist.err = errors.New("db gone")
	if w := doJSON(router, http.MethodGet, "/api/history", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("history failure should be 500, got %d", w.Code)
	}
}
