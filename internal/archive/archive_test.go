package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func entryNames(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestWriteFolderBundlesMediaOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Some Mix/01 - Intro [abc].mp4", "video-bytes")
	writeFile(t, dir, "Some Mix/02 - Track [def].mp3", "audio-bytes")
	writeFile(t, dir, "Some Mix/cover.jpg", "thumb")
	writeFile(t, dir, "Some Mix/03 - Outro [ghi].part", "partial")

	var buf bytes.Buffer
	n, err := WriteFolder(&buf, dir)
	if err != nil {
		t.Fatalf("WriteFolder: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	names := entryNames(t, &buf)
	want := map[string]bool{
		"Some Mix/01 - Intro [abc].mp4": true,
		"Some Mix/02 - Track [def].mp3": true,
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected entry %q", name)
		}
		delete(want, name)
	}
	for name := range want {
		t.Errorf("missing entry %q", name)
	}
}

func TestWriteFolderRoundTripsContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clip.mp4", "the-payload")

	var buf bytes.Buffer
	if _, err := WriteFolder(&buf, dir); err != nil {
		t.Fatalf("WriteFolder: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	got := make([]byte, 32)
	n, _ := rc.Read(got)
	if string(got[:n]) != "the-payload" {
		t.Fatalf("content mangled: %q", got[:n])
	}
}

func TestWriteFolderEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "not media")

	var buf bytes.Buffer
	if _, err := WriteFolder(&buf, dir); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
}

func TestWriteFolderMissing(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteFolder(&buf, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing folder")
	}
}
