// Package engine defines the boundary to the external extraction binary.
// The rest of the service only sees typed progress events and classified
// errors; everything about format negotiation and muxing stays behind it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventKind identifies a lifecycle signal emitted during a fetch.
type EventKind int

const (
	EventDownloading EventKind = iota
	EventFinished
	EventPostprocessing
	EventError
)

// Event is one progress signal pushed into the sink during a fetch.
// Percent is only meaningful when HasPercent is set; byte counters are
// zero when the engine did not report them.
type Event struct {
	Kind            EventKind
	Percent         float64
	HasPercent      bool
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	ETA             string
	Title           string
	Stage           string
	Message         string
}

// Sink receives events as the fetch progresses. Implementations must not
// block on I/O; they are called from the line-reading loop.
type Sink func(Event)

// Request describes one fetch handed to the engine. Fallback selects the
// relaxed second-attempt parameters (broadened player clients, best
// available format).
type Request struct {
	URL            string
	Destination    string
	Mode           string // "Video" or "Audio"
	Quality        string // "Best" or a height like "1080p"
	Subtitles      bool
	EmbedThumbnail bool
	Playlist       bool
	RecentCount    int // >0 limits a channel fetch to the newest N entries
	Fallback       bool
}

// MediaInfo is the probe result used for URL previews.
type MediaInfo struct {
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail"`
	Duration   string `json:"duration"`
	IsPlaylist bool   `json:"is_playlist"`
	EntryCount int    `json:"entry_count,omitempty"`
}

// Engine performs fetches and metadata probes.
type Engine interface {
	Fetch(ctx context.Context, req Request, sink Sink) error
	Probe(ctx context.Context, url string) (*MediaInfo, error)
}

// Class tags an engine failure. Only ClassFormatUnavailable triggers the
// fallback attempt; everything else is terminal at the worker layer.
type Class int

const (
	ClassUnknown Class = iota
	ClassFormatUnavailable
	ClassNetwork
	ClassUnavailable
	ClassLoginRequired
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassFormatUnavailable:
		return "format unavailable"
	case ClassNetwork:
		return "network failure"
	case ClassUnavailable:
		return "media unavailable"
	case ClassLoginRequired:
		return "login required"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the classified failure returned by an engine implementation.
type Error struct {
	Class Class
	Msg   string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Class.String()
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

// ClassOf extracts the class from an error chain, ClassUnknown otherwise.
func ClassOf(err error) Class {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Class
	}
	return ClassUnknown
}

// Classify translates raw engine output into a tagged Error. The binary
// only exposes text, so substring matching is confined to this one place.
func Classify(output string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Class: ClassCancelled, Msg: err.Error()}
	}
	text := strings.ToLower(output)
	if text == "" {
		text = strings.ToLower(err.Error())
	}
	switch {
	case strings.Contains(text, "requested format is not available"),
		strings.Contains(text, "no video formats found"),
		strings.Contains(text, "only images are available"):
		return &Error{Class: ClassFormatUnavailable, Msg: firstErrorLine(output, err)}
	case strings.Contains(text, "video unavailable"),
		strings.Contains(text, "this video is not available"),
		strings.Contains(text, "private video"):
		return &Error{Class: ClassUnavailable, Msg: firstErrorLine(output, err)}
	case strings.Contains(text, "sign in to confirm"),
		strings.Contains(text, "login required"),
		strings.Contains(text, "cookies"):
		return &Error{Class: ClassLoginRequired, Msg: firstErrorLine(output, err)}
	case strings.Contains(text, "timed out"),
		strings.Contains(text, "connection reset"),
		strings.Contains(text, "temporary failure in name resolution"),
		strings.Contains(text, "http error 5"):
		return &Error{Class: ClassNetwork, Msg: firstErrorLine(output, err)}
	default:
		return &Error{Class: ClassUnknown, Msg: firstErrorLine(output, err)}
	}
}

// firstErrorLine picks the first ERROR: line from captured output, falling
// back to the exec error itself.
func firstErrorLine(output string, err error) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return err.Error()
}
