// Package archive bundles a download folder into a zip so playlist and
// channel runs can be fetched in a single request instead of file by file.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"tubeload/internal/media"
)

// ErrNoMedia is returned when the folder holds no finished output files.
var ErrNoMedia = errors.New("no media files in folder")

// WriteFolder streams every finished media file under root into a zip written
// to w. Artifacts and unfinished files are skipped. Entry names are relative
// to root so the zip unpacks into the same layout.
func WriteFolder(w io.Writer, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a folder", root)
	}

	zw := zip.NewWriter(w)
	written := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Str("path", path).Err(err).Msg("skipping unreadable entry")
			return nil //nolint:nilerr
		}
		if d.IsDir() || !media.IsMedia(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr
		}
		if err := addFile(zw, path, filepath.ToSlash(rel), d); err != nil {
			return err
		}
		written++
		return nil
	})
	if walkErr != nil {
		_ = zw.Close()
		return written, fmt.Errorf("archive folder: %w", walkErr)
	}
	if written == 0 {
		// No entries were created, so nothing reached w yet; skip Close to
		// keep the response body untouched for the error path.
		return 0, ErrNoMedia
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("close zip: %w", err)
	}
	return written, nil
}

func addFile(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	f, err := os.Open(path) //nolint:gosec // path comes from walking the download dir
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
