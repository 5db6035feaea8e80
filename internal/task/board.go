package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tubeload/internal/engine"
)

const logCapacity = 100

// JobStatus is the dynamic state of one run, keyed by its run ID.
type JobStatus struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Folder     string    `json:"folder"`
	Mode       string    `json:"mode"`
	Title      string    `json:"title,omitempty"`
	Phase      Phase     `json:"phase"`
	Percent    float64   `json:"progress"`
	Speed      string    `json:"speed,omitempty"`
	ETA        string    `json:"eta,omitempty"`
	Action     string    `json:"action,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ProgressAt time.Time `json:"-"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Snapshot is the aggregate view served to status queries: the most recently
// touched run flattened into the legacy single-status shape, plus every
// active run for per-job visibility.
type Snapshot struct {
	ActiveCount   int         `json:"active_count"`
	IsDownloading bool        `json:"is_downloading"`
	CurrentURL    string      `json:"current_url"`
	CurrentFolder string      `json:"current_folder"`
	CurrentMode   string      `json:"current_mode"`
	Title         string      `json:"title"`
	Phase         Phase       `json:"status"`
	Progress      float64     `json:"progress"`
	Speed         string      `json:"speed"`
	ETA           string      `json:"eta"`
	CurrentAction string      `json:"current_action"`
	StalledForSec int         `json:"stalled_for_seconds"`
	Jobs          []JobStatus `json:"jobs"`
	Logs          []string    `json:"logs"`
}

// scanFunc re-checks the filesystem during reconciliation. Injected so tests
// control what the destination folder appears to contain.
type scanFunc func(folder, mode string, since time.Time) (string, bool)

// Board owns all shared mutable state: per-run statuses, the active URL set
// and the log ring. Every read and write is linearized through one mutex.
// The reconcile scan in Snapshot is the only I/O done under the lock.
type Board struct {
	mu             sync.Mutex
	active         map[string]*JobStatus
	activeURLs     map[string]struct{}
	last           *JobStatus
	logs           []string
	cancelledAt    time.Time
	stallThreshold time.Duration
	scan           scanFunc
	now            func() time.Time
}

func NewBoard(stallThreshold time.Duration, scan scanFunc) *Board {
	if stallThreshold <= 0 {
		stallThreshold = defaultStall
	}
	return &Board{
		active:         make(map[string]*JobStatus),
		activeURLs:     make(map[string]struct{}),
		stallThreshold: stallThreshold,
		scan:           scan,
		now:            time.Now,
	}
}

// AcquireURL claims ownership of a URL for the lifetime of one job. It fails
// when another queued or running job already owns it.
func (b *Board) AcquireURL(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.activeURLs[url]; taken {
		return false
	}
	b.activeURLs[url] = struct{}{}
	return true
}

// ReleaseURL gives up ownership. Safe to call for URLs never acquired.
func (b *Board) ReleaseURL(url string) {
	b.mu.Lock()
	delete(b.activeURLs, url)
	b.mu.Unlock()
}

// OwnsURL reports current ownership; used by tests and dedup diagnostics.
func (b *Board) OwnsURL(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.activeURLs[url]
	return ok
}

// StartRun registers a dequeued task as an active job.
func (b *Board) StartRun(id string, t Task) {
	b.mu.Lock()
	now := b.now()
	b.active[id] = &JobStatus{
		ID:         id,
		URL:        t.URL,
		Folder:     t.Destination,
		Mode:       string(t.Mode),
		Phase:      PhaseStarting,
		StartedAt:  now,
		ProgressAt: now,
	}
	b.mu.Unlock()
	b.Logf("Starting download: %s", t.URL)
	b.Logf("Save location: %s", t.Destination)
}

// Apply folds one engine event into the job's status. This is the progress
// sink contract: percent is derived from byte counters when the sample is
// missing and never regresses on an absent sample.
func (b *Board) Apply(id string, ev engine.Event) {
	b.mu.Lock()
	job, ok := b.active[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	switch ev.Kind {
	case engine.EventDownloading:
		job.Phase = PhaseDownloading
		switch {
		case ev.HasPercent:
			job.Percent = clampPercent(ev.Percent)
		case ev.TotalBytes > 0:
			job.Percent = clampPercent(float64(ev.DownloadedBytes) / float64(ev.TotalBytes) * 100)
		}
		if ev.Speed != "" {
			job.Speed = ev.Speed
		}
		if ev.ETA != "" {
			job.ETA = ev.ETA
		}
		if ev.Title != "" {
			job.Title = ev.Title
		}
		job.Action = actionForPercent(job.Percent)
		job.ProgressAt = b.now()
	case engine.EventFinished:
		job.Phase = PhaseProcessing
		job.Percent = 98
		job.Speed = ""
		job.ETA = "processing"
		job.Action = "Download finished, processing..."
		job.ProgressAt = b.now()
	case engine.EventPostprocessing:
		job.Phase = PhaseProcessing
		job.Percent = 99
		job.Action = actionForStage(ev.Stage)
		job.ProgressAt = b.now()
	case engine.EventError:
		job.Phase = PhaseError
		job.Error = ev.Message
		b.mu.Unlock()
		b.Logf("Error: %s", ev.Message)
		return
	}
	b.mu.Unlock()
}

// Finalize moves a run to its terminal phase, releases its URL and makes it
// the last-completed run visible to status queries. On error the percent is
// left at its last known value. Returns a copy of the final state.
func (b *Board) Finalize(id string, phase Phase, errMsg string) JobStatus {
	b.mu.Lock()
	job, ok := b.active[id]
	if !ok {
		b.mu.Unlock()
		return JobStatus{}
	}
	delete(b.active, id)
	delete(b.activeURLs, job.URL)
	job.Phase = phase
	job.Error = errMsg
	job.FinishedAt = b.now()
	if phase == PhaseCompleted {
		job.Percent = 100
		job.Speed = ""
		job.ETA = ""
		job.Action = "Completed"
	}
	b.last = job
	b.mu.Unlock()

	switch phase {
	case PhaseCompleted:
		b.Logf("Download completed successfully: %s", job.URL)
	case PhaseCancelled:
		b.Logf("Download cancelled: %s", job.URL)
	default:
		b.Logf("Download failed: %s (%s)", job.URL, errMsg)
	}
	return *job
}

// NoteCancelled records a cancellation request. Not-yet-started work is gone;
// anything already inside the engine runs to completion.
func (b *Board) NoteCancelled(cleared int) {
	b.mu.Lock()
	b.cancelledAt = b.now()
	b.mu.Unlock()
	b.Logf("Cancel requested: cleared %d queued download(s); running downloads finish on their own", cleared)
}

// Logf appends a timestamped entry to the ring, evicting the oldest past 100.
func (b *Board) Logf(format string, args ...any) {
	b.mu.Lock()
	entry := "[" + b.now().Format("15:04:05") + "] " + fmt.Sprintf(format, args...)
	b.logs = append(b.logs, entry)
	if len(b.logs) > logCapacity {
		b.logs = b.logs[len(b.logs)-logCapacity:]
	}
	b.mu.Unlock()
}

// Snapshot derives the aggregate view. This is also where stall detection and
// reconciliation run: both are read-time computations, never a timer.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	current := b.currentLocked()

	snap := Snapshot{
		ActiveCount: len(b.active),
		Phase:       PhaseIdle,
		Jobs:        make([]JobStatus, 0, len(b.active)),
		Logs:        append([]string(nil), b.logs...),
	}
	for _, job := range b.active {
		snap.Jobs = append(snap.Jobs, *job)
	}

	if current == nil {
		if !b.cancelledAt.IsZero() {
			snap.Phase = PhaseCancelled
		}
		return snap
	}

	// Heal runs whose owner exited without a terminal signal reaching the
	// sink: no active worker, near-complete progress, output on disk.
	midFlight := current.Phase == PhaseDownloading || current.Phase == PhaseProcessing || current.Phase == PhaseFinalizing
	if len(b.active) == 0 && midFlight && current.Percent >= 95 && b.scan != nil {
		if _, found := b.scan(current.Folder, current.Mode, current.StartedAt); found {
			current.Phase = PhaseCompleted
			current.Percent = 100
			current.Speed = ""
			current.ETA = ""
			current.Action = "Completed"
		}
	}

	snap.IsDownloading = len(b.active) > 0
	snap.CurrentURL = current.URL
	snap.CurrentFolder = current.Folder
	snap.CurrentMode = current.Mode
	snap.Title = current.Title
	snap.Phase = current.Phase
	snap.Progress = current.Percent
	snap.Speed = current.Speed
	snap.ETA = current.ETA
	snap.CurrentAction = current.Action

	if len(b.active) > 0 {
		// Seconds since the freshest progress signal, reported on every
		// query; the stall notice only appears past the threshold.
		stalled := now.Sub(current.ProgressAt)
		if stalled > 0 {
			snap.StalledForSec = int(stalled.Seconds())
		}
		if current.Phase == PhaseDownloading && stalled >= b.stallThreshold {
			notice := fmt.Sprintf("No progress for %ds - engine may be stalled", snap.StalledForSec)
			if snap.CurrentAction != "" {
				notice += " | " + snap.CurrentAction
			}
			snap.CurrentAction = notice
		}
	}

	if !b.cancelledAt.IsZero() && len(b.active) == 0 && b.cancelledAt.After(current.FinishedAt) {
		snap.Phase = PhaseCancelled
	}
	return snap
}

// currentLocked picks the run the aggregate view talks about: the active run
// with the freshest progress, else the last finalized one.
func (b *Board) currentLocked() *JobStatus {
	var current *JobStatus
	for _, job := range b.active {
		if current == nil || job.ProgressAt.After(current.ProgressAt) {
			current = job
		}
	}
	if current == nil {
		current = b.last
	}
	return current
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// actionForPercent maps progress into a coarse display narrative.
func actionForPercent(percent float64) string {
	switch {
	case percent < 5:
		return "Connecting and starting transfer..."
	case percent < 25:
		return "Downloading media..."
	case percent < 75:
		return "Downloading media (keep the window open)..."
	case percent < 95:
		return "Almost there..."
	default:
		return "Finishing download..."
	}
}

// actionForStage classifies a postprocessor stage by keyword.
func actionForStage(stage string) string {
	s := strings.ToLower(stage)
	switch {
	case strings.Contains(s, "audio"):
		return "Extracting audio track..."
	case strings.Contains(s, "merg"), strings.Contains(s, "mux"), strings.Contains(s, "fixup"):
		return "Merging audio and video..."
	case strings.Contains(s, "thumbnail"), strings.Contains(s, "subtitle"), strings.Contains(s, "metadata"):
		return "Embedding metadata..."
	default:
		return "Post-processing..."
	}
}
