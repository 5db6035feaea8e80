// Package media knows which file extensions count as real output for each
// download mode and cleans up intermediate artifacts.
package media

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".webm": {}, ".mov": {}, ".avi": {},
}

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".m4a": {}, ".opus": {}, ".ogg": {}, ".flac": {}, ".wav": {},
}

// artifactExtensions are intermediates the engine leaves behind next to the
// output: sidecar thumbnails and interrupted-download leftovers.
var artifactExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {},
	".part": {}, ".ytdl": {},
}

// Matches reports whether the file name carries an extension valid for the
// given mode ("Video" or "Audio").
func Matches(name, mode string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if mode == "Audio" {
		_, ok := audioExtensions[ext]
		return ok
	}
	_, ok := videoExtensions[ext]
	return ok
}

// IsMedia reports whether the file name is a finished output of either mode.
func IsMedia(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := videoExtensions[ext]; ok {
		return true
	}
	_, ok := audioExtensions[ext]
	return ok
}

// FindOutput walks the destination folder (playlists produce subfolders) and
// returns the first mode-matching file modified at or after since. A zero
// since accepts any matching file.
func FindOutput(dir, mode string, since time.Time) (string, bool) {
	var found string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are simply skipped
		}
		if !Matches(d.Name(), mode) {
			return nil
		}
		if !since.IsZero() {
			info, infoErr := d.Info()
			if infoErr != nil || info.ModTime().Before(since) {
				return nil
			}
		}
		found = path
		return filepath.SkipAll
	})
	return found, found != ""
}

// CleanupArtifacts removes known intermediate files under dir. It reports how
// many were removed and the first error encountered; callers are expected to
// log and move on.
func CleanupArtifacts(dir string) (int, error) {
	removed := 0
	var firstErr error
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := artifactExtensions[ext]; !ok {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			if firstErr == nil {
				firstErr = rmErr
			}
			return nil
		}
		removed++
		return nil
	})
	return removed, firstErr
}
