// Package deps locates the external binaries the engine shells out to.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Binaries holds resolved paths. FFmpeg may be empty; merging and audio
// extraction then depend on whatever yt-dlp finds on its own.
type Binaries struct {
	YtDlp     string
	FFmpegDir string
}

// Locate resolves yt-dlp and ffmpeg, preferring a local bin directory over
// PATH so a portable install wins. yt-dlp is required.
func Locate(binDir string) (Binaries, error) {
	var bins Binaries

	ytdlp, err := find(binDir, "yt-dlp")
	if err != nil {
		return bins, fmt.Errorf("yt-dlp not found in %q or PATH: %w", binDir, err)
	}
	bins.YtDlp = ytdlp

	if ffmpeg, err := find(binDir, "ffmpeg"); err == nil {
		bins.FFmpegDir = filepath.Dir(ffmpeg)
	}
	return bins, nil
}

func find(binDir, name string) (string, error) {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if binDir != "" {
		local := filepath.Join(binDir, name)
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return local, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}
	return path, nil
}
