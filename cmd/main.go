package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tubeload/internal/api"
	"tubeload/internal/config"
	"tubeload/internal/deps"
	"tubeload/internal/engine"
	fileutil "tubeload/internal/file"
	"tubeload/internal/history"
	"tubeload/internal/media"
	"tubeload/internal/task"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DownloadDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DownloadDir).Msg("ensure download dir")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	// One server per data dir: two instances sharing history.db and the
	// download root would fight over both.
	lock := flock.New(filepath.Join(cfg.DataDir, "tubeload.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("another instance holds the data dir")
	}
	defer func() { _ = lock.Unlock() }()

	bins, err := deps.Locate(cfg.BinDir)
	if err != nil {
		log.Fatal().Err(err).Msg("missing extraction binary")
	}
	if bins.FFmpegDir == "" {
		log.Warn().Msg("ffmpeg not found; merging and audio extraction rely on yt-dlp defaults")
	}

	hist, err := history.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open history store")
	}
	defer func() { _ = hist.Close() }()

	eng := engine.NewYtDlp(bins.YtDlp, bins.FFmpegDir, cfg.Engine)
	board := task.NewBoard(cfg.StallThreshold(), media.FindOutput)
	manager := task.NewManager(task.Options{
		Workers:        cfg.Workers,
		QueueCapacity:  cfg.QueueCapacity,
		StallThreshold: cfg.StallThreshold(),
	}, eng, board, hist)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.Start(baseCtx)

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())
	apiHandler := api.NewAPI(manager, eng, hist, api.Defaults{
		Folder:  cfg.DownloadDir,
		Mode:    cfg.DefaultMode,
		Quality: cfg.DefaultQuality,
	})
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Str("downloads", cfg.DownloadDir).Int("workers", cfg.Workers).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, manager)
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *task.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !manager.WaitAll(ctx) {
		log.Warn().Msg("workers did not finish before timeout; partial files may remain")
	}
	log.Info().Msg("server exited cleanly")
}
