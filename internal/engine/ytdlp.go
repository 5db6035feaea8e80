package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"tubeload/internal/config"
)

// progressPrefix marks lines produced by our --progress-template so they can
// be told apart from the engine's free-form output.
const progressPrefix = "dl:"

const progressTemplate = "download:" + progressPrefix +
	"%(progress._percent_str)s|%(progress.downloaded_bytes)s|%(progress.total_bytes)s|%(progress._speed_str)s|%(progress._eta_str)s"

const outputTailLines = 50

// YtDlp shells out to the yt-dlp binary and translates its line output into
// engine events.
type YtDlp struct {
	bin       string
	ffmpegDir string
	tuning    config.Engine
}

func NewYtDlp(bin, ffmpegDir string, tuning config.Engine) *YtDlp {
	return &YtDlp{bin: bin, ffmpegDir: ffmpegDir, tuning: tuning}
}

// Fetch runs one download attempt, streaming progress into the sink. The
// returned error is always a classified *Error when non-nil.
func (y *YtDlp) Fetch(ctx context.Context, req Request, sink Sink) error {
	args := y.fetchArgs(req)
	cmd := exec.CommandContext(ctx, y.bin, args...) //nolint:gosec // binary path comes from deps location, args are built here

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Class: ClassUnknown, Msg: "stdout pipe: " + err.Error()}
	}
	cmd.Stderr = cmd.Stdout // yt-dlp splits progress and errors across both

	log.Debug().Str("url", req.URL).Bool("fallback", req.Fallback).Msg("starting extraction")
	if err := cmd.Start(); err != nil {
		return &Error{Class: ClassUnknown, Msg: "start yt-dlp: " + err.Error()}
	}

	tail := make([]string, 0, outputTailLines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(tail) == outputTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
		if ev, ok := parseLine(line); ok {
			sink(ev)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return &Error{Class: ClassCancelled, Msg: ctx.Err().Error()}
	}
	if waitErr != nil {
		return Classify(strings.Join(tail, "\n"), waitErr)
	}
	return nil
}

// Probe fetches metadata without downloading, for URL previews.
func (y *YtDlp) Probe(ctx context.Context, url string) (*MediaInfo, error) {
	args := []string{"--dump-single-json", "--flat-playlist", "--skip-download", "--no-warnings"}
	if y.tuning.CookiesFile != "" {
		args = append(args, "--cookies", y.tuning.CookiesFile)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.bin, args...) //nolint:gosec // see Fetch
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, Classify(stderr.String(), err)
	}

	var raw struct {
		Title     string  `json:"title"`
		Thumbnail string  `json:"thumbnail"`
		Duration  float64 `json:"duration"`
		Type      string  `json:"_type"`
		Entries   []struct {
			ID string `json:"id"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	info := &MediaInfo{
		Title:      raw.Title,
		Thumbnail:  raw.Thumbnail,
		IsPlaylist: raw.Type == "playlist",
		EntryCount: len(raw.Entries),
	}
	if raw.Duration > 0 {
		info.Duration = formatDuration(int(raw.Duration))
	}
	return info, nil
}

func (y *YtDlp) fetchArgs(req Request) []string {
	args := []string{
		"--newline",
		"--no-warnings",
		"--progress-template", progressTemplate,
		"--retries", strconv.Itoa(y.tuning.Retries),
		"--fragment-retries", strconv.Itoa(y.tuning.FragmentRetries),
		"--socket-timeout", strconv.Itoa(y.tuning.SocketTimeoutSec),
		"--concurrent-fragments", strconv.Itoa(y.tuning.ConcurrentFragments),
		"--http-chunk-size", strconv.Itoa(y.tuning.HTTPChunkSize),
		"-P", req.Destination,
	}

	if req.Playlist {
		args = append(args, "--yes-playlist",
			"-o", filepath.Join("%(playlist)s", "%(playlist_index)s - %(title)s [%(id)s].%(ext)s"))
		if req.RecentCount > 0 {
			args = append(args, "--playlist-items", "1:"+strconv.Itoa(req.RecentCount))
		}
	} else {
		args = append(args, "--no-playlist", "-o", "%(title)s [%(id)s].%(ext)s")
	}

	if req.Mode == "Audio" {
		args = append(args, "-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "320K")
	} else {
		args = append(args, "-f", formatSelector(req.Quality, req.Fallback), "--merge-output-format", "mp4")
	}

	if req.Subtitles {
		args = append(args, "--embed-subs")
	}
	if req.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}

	clients := y.tuning.PlayerClients
	if req.Fallback {
		clients = broadenClients(clients)
	}
	if len(clients) > 0 {
		args = append(args, "--extractor-args", "youtube:player_client="+strings.Join(clients, ","))
	}
	if y.tuning.CookiesFile != "" {
		args = append(args, "--cookies", y.tuning.CookiesFile)
	}
	if y.ffmpegDir != "" {
		args = append(args, "--ffmpeg-location", y.ffmpegDir)
	}

	return append(args, req.URL)
}

// formatSelector builds the -f expression for video mode. Fallback relaxes
// selection to whatever single best stream exists.
func formatSelector(quality string, fallback bool) string {
	if fallback {
		return "best"
	}
	height := parseHeight(quality)
	if height <= 0 {
		return "bestvideo+bestaudio/best"
	}
	h := strconv.Itoa(height)
	return "bestvideo[height<=" + h + "]+bestaudio/best[height<=" + h + "]/best"
}

func parseHeight(quality string) int {
	quality = strings.TrimSpace(quality)
	idx := strings.IndexByte(quality, 'p')
	if idx <= 0 {
		return 0
	}
	height, err := strconv.Atoi(quality[:idx])
	if err != nil {
		return 0
	}
	return height
}

// broadenClients appends the clients held back by default. Used only for the
// fallback attempt.
func broadenClients(clients []string) []string {
	out := append([]string(nil), clients...)
	for _, extra := range []string{"ios", "tv"} {
		found := false
		for _, c := range out {
			if c == extra {
				found = true
				break
			}
		}
		if !found {
			out = append(out, extra)
		}
	}
	return out
}

// parseLine recognizes progress-template lines, destination announcements and
// postprocessor markers. Anything else is ignored.
func parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, progressPrefix):
		return parseProgress(strings.TrimPrefix(line, progressPrefix))
	case strings.HasPrefix(line, "[download] Destination: "):
		name := strings.TrimPrefix(line, "[download] Destination: ")
		return Event{Kind: EventDownloading, Title: titleFromPath(name)}, true
	case strings.Contains(line, "has already been downloaded"):
		return Event{Kind: EventFinished}, true
	case strings.HasPrefix(line, "[ExtractAudio]"),
		strings.HasPrefix(line, "[Merger]"),
		strings.HasPrefix(line, "[EmbedThumbnail]"),
		strings.HasPrefix(line, "[EmbedSubtitle]"),
		strings.HasPrefix(line, "[Metadata]"),
		strings.HasPrefix(line, "[Fixup"):
		// Interleaved subprocess output can truncate the marker before the
		// closing bracket.
		end := strings.IndexByte(line, ']')
		if end < 0 {
			return Event{}, false
		}
		return Event{Kind: EventPostprocessing, Stage: line[1:end]}, true
	case strings.HasPrefix(line, "ERROR:"):
		return Event{Kind: EventError, Message: strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))}, true
	default:
		return Event{}, false
	}
}

// parseProgress decodes "percent|downloaded|total|speed|eta". Fields the
// engine does not know arrive as "NA".
func parseProgress(payload string) (Event, bool) {
	parts := strings.Split(payload, "|")
	if len(parts) != 5 {
		return Event{}, false
	}
	ev := Event{Kind: EventDownloading}

	pct := strings.TrimSuffix(strings.TrimSpace(parts[0]), "%")
	if v, err := strconv.ParseFloat(pct, 64); err == nil {
		ev.Percent = v
		ev.HasPercent = true
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err == nil {
		ev.DownloadedBytes = v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64); err == nil {
		ev.TotalBytes = v
	}
	if speed := strings.TrimSpace(parts[3]); speed != "" && speed != "NA" {
		ev.Speed = speed
	}
	if eta := strings.TrimSpace(parts[4]); eta != "" && eta != "NA" {
		ev.ETA = eta
	}
	if ev.HasPercent && ev.Percent >= 100 {
		return Event{Kind: EventFinished}, true
	}
	return ev, true
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	return base
}

func formatDuration(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
