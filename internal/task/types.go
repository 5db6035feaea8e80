package task

import "time"

// Mode selects what the engine extracts.
type Mode string

const (
	ModeVideo Mode = "Video"
	ModeAudio Mode = "Audio"
)

// Kind describes the shape of the target URL.
type Kind string

const (
	KindSingle   Kind = "single"
	KindPlaylist Kind = "playlist"
	KindChannel  Kind = "channel"
)

// Phase is the lifecycle state reported for a run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseDownloading Phase = "downloading"
	PhaseProcessing  Phase = "processing"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
	PhaseCancelled   Phase = "cancelled"
)

// Task is one requested download. It is immutable after submission; all
// dynamic state lives on the Board, keyed by the run ID a worker assigns.
type Task struct {
	URL            string
	Destination    string
	Mode           Mode
	Quality        string
	Subtitles      bool
	EmbedThumbnail bool
	Kind           Kind
	RecentCount    int // only meaningful for KindChannel; 0 means all uploads
}

// Options configures a Manager.
type Options struct {
	Workers        int
	QueueCapacity  int
	SubmitWait     time.Duration
	StallThreshold time.Duration
}

const (
	defaultWorkers    = 3
	defaultCapacity   = 100
	defaultSubmitWait = 250 * time.Millisecond
	defaultStall      = 20 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}
	if o.QueueCapacity < 1 {
		o.QueueCapacity = defaultCapacity
	}
	if o.SubmitWait <= 0 {
		o.SubmitWait = defaultSubmitWait
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = defaultStall
	}
	return o
}
