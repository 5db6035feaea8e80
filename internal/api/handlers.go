package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tubeload/internal/archive"
	"tubeload/internal/config"
	"tubeload/internal/engine"
	"tubeload/internal/history"
	"tubeload/internal/task"
)

type downloadRequest struct {
	URL            string `json:"url" binding:"required"`
	Mode           string `json:"mode"`
	Resolution     string `json:"resolution"`
	Folder         string `json:"folder"`
	Subtitles      bool   `json:"subtitles"`
	EmbedThumbnail bool   `json:"embed_thumbnail"`
	Kind           string `json:"kind"`
	RecentCount    int    `json:"recent_count"`
}

type infoRequest struct {
	URL string `json:"url" binding:"required"`
}

// Prober is the slice of the engine the info endpoint needs.
type Prober interface {
	Probe(ctx context.Context, url string) (*engine.MediaInfo, error)
}

// HistoryReader is the read side of the run history store.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Defaults fills request fields the client left blank.
type Defaults struct {
	Folder  string
	Mode    string
	Quality string
}

type API struct {
	manager  *task.Manager
	prober   Prober
	hist     HistoryReader
	defaults Defaults
}

func NewAPI(manager *task.Manager, prober Prober, hist HistoryReader, defaults Defaults) *API {
	return &API{manager: manager, prober: prober, hist: hist, defaults: defaults}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/download", a.StartDownload)
		api.GET("/status", a.GetStatus)
		api.POST("/cancel", a.Cancel)
		api.POST("/info", a.GetInfo)
		api.GET("/history", a.GetHistory)
		api.GET("/archive", a.GetArchive)
		api.GET("/options", a.GetOptions)
	}
	router.StaticFS("/downloads", gin.Dir(a.defaults.Folder, false))
}

// StartDownload validates and enqueues one download task.
func (a *API) StartDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	t := a.taskFrom(req)
	if err := a.manager.Submit(t); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, task.ErrDuplicate):
			status = http.StatusConflict
		case errors.Is(err, task.ErrQueueFull):
			status = http.StatusServiceUnavailable
		}
		log.Warn().Str("url", req.URL).Err(err).Msg("download rejected")
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	log.Info().Str("url", t.URL).Str("mode", string(t.Mode)).Str("folder", t.Destination).Msg("download queued")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Download queued"})
}

// GetStatus serves the aggregate snapshot. Reconciliation and stall
// detection happen inside the snapshot read.
func (a *API) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.manager.Status())
}

// Cancel clears queued downloads; running ones finish on their own.
func (a *API) Cancel(c *gin.Context) {
	cleared, err := a.manager.Cancel()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": cleared, "message": "Cancellation requested (may leave partial files)"})
}

// GetInfo probes a URL for a preview without downloading.
func (a *API) GetInfo(c *gin.Context) {
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "url is required"})
		return
	}
	info, err := a.prober.Probe(c.Request.Context(), req.URL)
	if err != nil {
		log.Warn().Str("url", req.URL).Err(err).Msg("probe failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"title":       info.Title,
		"thumbnail":   info.Thumbnail,
		"duration":    info.Duration,
		"is_playlist": info.IsPlaylist,
		"entry_count": info.EntryCount,
	})
}

// GetHistory lists recent finalized runs.
func (a *API) GetHistory(c *gin.Context) {
	if a.hist == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []history.Record{}})
		return
	}
	runs, err := a.hist.Recent(c.Request.Context(), 50)
	if err != nil {
		log.Error().Err(err).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetOptions tells clients which request values the service understands, plus
// the defaults applied when a field is left blank.
func (a *API) GetOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"modes":     []task.Mode{task.ModeVideo, task.ModeAudio},
		"kinds":     []task.Kind{task.KindSingle, task.KindPlaylist, task.KindChannel},
		"qualities": config.QualityOptions,
		"defaults": gin.H{
			"mode":    a.defaults.Mode,
			"quality": a.defaults.Quality,
			"folder":  a.defaults.Folder,
		},
	})
}

// GetArchive streams a subfolder of the download directory as a zip, so a
// finished playlist run can be fetched in one request. An empty folder
// parameter bundles the whole download directory.
func (a *API) GetArchive(c *gin.Context) {
	folder := c.Query("folder")
	if folder != "" && !filepath.IsLocal(folder) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "folder must be relative to the download directory"})
		return
	}
	root := filepath.Join(a.defaults.Folder, folder)

	name := filepath.Base(root)
	if folder == "" {
		name = "downloads"
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))

	n, err := archive.WriteFolder(c.Writer, root)
	if err != nil {
		// Headers may already be out; only map the error when nothing was
		// written yet.
		if n == 0 && !c.Writer.Written() {
			c.Writer.Header().Del("Content-Type")
			c.Writer.Header().Del("Content-Disposition")
			status := http.StatusInternalServerError
			if errors.Is(err, archive.ErrNoMedia) || errors.Is(err, os.ErrNotExist) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}
		log.Error().Str("folder", root).Err(err).Msg("archive stream aborted")
		return
	}
	log.Info().Str("folder", root).Int("files", n).Msg("archive served")
}

func (a *API) taskFrom(req downloadRequest) task.Task {
	t := task.Task{
		URL:            req.URL,
		Destination:    req.Folder,
		Mode:           task.Mode(req.Mode),
		Quality:        req.Resolution,
		Subtitles:      req.Subtitles,
		EmbedThumbnail: req.EmbedThumbnail,
		Kind:           task.Kind(req.Kind),
		RecentCount:    req.RecentCount,
	}
	if t.Destination == "" {
		t.Destination = a.defaults.Folder
	}
	if t.Mode == "" {
		t.Mode = task.Mode(a.defaults.Mode)
	}
	if t.Quality == "" {
		t.Quality = a.defaults.Quality
	}
	if t.Kind == "" {
		t.Kind = task.KindSingle
	}
	return t
}
