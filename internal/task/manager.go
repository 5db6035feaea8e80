package task

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"

	"tubeload/internal/engine"
	fileutil "tubeload/internal/file"
)

// Recorder persists finalized runs. Nil-safe via the manager; the concrete
// implementation lives in internal/history.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// RunRecord is what a finalized run leaves behind.
type RunRecord struct {
	ID          string
	URL         string
	Title       string
	Mode        string
	Kind        string
	Phase       string
	Error       string
	Destination string
	OutputFile  string
	Seconds     float64
}

// Manager wires the bounded queue, the worker pool and the status board.
// It is constructed once at startup and handed to the API by reference.
type Manager struct {
	opts     Options
	queue    *queue
	board    *Board
	eng      engine.Engine
	recorder Recorder
	wg       sync.WaitGroup
}

func NewManager(opts Options, eng engine.Engine, board *Board, recorder Recorder) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:     opts,
		queue:    newQueue(opts.QueueCapacity, opts.SubmitWait),
		board:    board,
		eng:      eng,
		recorder: recorder,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// WaitAll observes the drain.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go func(worker int) {
			defer m.wg.Done()
			m.workerLoop(ctx, worker)
		}(i)
	}
}

// Submit validates the request, claims the URL and enqueues the task.
// The URL enters the active set here and leaves only in worker finalization,
// so duplicates are rejected regardless of queue depth.
func (m *Manager) Submit(t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	if !m.board.AcquireURL(t.URL) {
		return ErrDuplicate
	}
	if err := fileutil.EnsureDir(t.Destination); err != nil {
		m.board.ReleaseURL(t.URL)
		return fmt.Errorf("%w: cannot create folder: %s", ErrInvalidInput, t.Destination)
	}
	if err := m.queue.Submit(t); err != nil {
		m.board.ReleaseURL(t.URL)
		return err
	}
	m.board.Logf("Queued: %s (%s, %s)", t.URL, t.Mode, t.Quality)
	return nil
}

// Status returns the aggregate snapshot, running stall detection and
// reconciliation as part of the read.
func (m *Manager) Status() Snapshot {
	return m.board.Snapshot()
}

// Cancel drains the queue and marks the shared status cancelled. Runs
// already inside the engine are not preempted and may still complete.
func (m *Manager) Cancel() (int, error) {
	drained := m.queue.Drain()
	for _, t := range drained {
		m.board.ReleaseURL(t.URL)
	}
	if len(drained) == 0 && m.board.Snapshot().ActiveCount == 0 {
		return 0, ErrNothingInProgress
	}
	m.board.NoteCancelled(len(drained))
	log.Info().Int("cleared", len(drained)).Msg("cancellation requested")
	return len(drained), nil
}

// WaitAll blocks until every worker has exited or the context expires.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func validate(t Task) error {
	if t.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(t.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: not an http(s) url: %s", ErrInvalidInput, t.URL)
	}
	if t.Destination == "" {
		return fmt.Errorf("%w: destination folder is required", ErrInvalidInput)
	}
	if t.Mode != ModeVideo && t.Mode != ModeAudio {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, t.Mode)
	}
	switch t.Kind {
	case KindSingle, KindPlaylist, KindChannel:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, t.Kind)
	}
	if t.RecentCount < 0 {
		return fmt.Errorf("%w: recent count must be >= 0", ErrInvalidInput)
	}
	return nil
}
