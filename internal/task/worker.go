package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tubeload/internal/engine"
	"tubeload/internal/media"
)

// workerLoop is one member of the pool: blocking dequeue, run, repeat.
// The dequeue is a cancellable receive, so shutdown is observed promptly
// without polling.
func (m *Manager) workerLoop(ctx context.Context, worker int) {
	log.Debug().Int("worker", worker).Msg("worker started")
	for {
		t, ok := m.queue.Receive(ctx)
		if !ok {
			log.Debug().Int("worker", worker).Msg("worker stopped")
			return
		}
		m.run(ctx, t)
	}
}

// run owns one task end to end: primary attempt, one fallback on the
// format-unavailable class, output verification, artifact cleanup, finalize.
func (m *Manager) run(ctx context.Context, t Task) {
	id := uuid.NewString()
	started := time.Now()
	// Filesystems with coarse mtime granularity can stamp a file fractionally
	// before the recorded start.
	outputSince := started.Add(-2 * time.Second)
	m.board.StartRun(id, t)
	sink := func(ev engine.Event) { m.board.Apply(id, ev) }

	err := m.eng.Fetch(ctx, requestFor(t, false), sink)
	if err != nil && engine.ClassOf(err) == engine.ClassFormatUnavailable {
		m.board.Logf("Requested format unavailable, retrying with relaxed selection: %s", t.URL)
		err = m.eng.Fetch(ctx, requestFor(t, true), sink)
	}

	phase := PhaseCompleted
	var msg string
	switch {
	case err != nil && engine.ClassOf(err) == engine.ClassCancelled:
		phase, msg = PhaseCancelled, err.Error()
	case err != nil:
		phase, msg = PhaseError, err.Error()
	default:
		// The engine's success signal is necessary but not sufficient:
		// require an output file matching the mode's extensions.
		if _, found := media.FindOutput(t.Destination, string(t.Mode), outputSince); !found {
			phase, msg = PhaseError, "finished but no media output found in "+t.Destination
		}
	}

	if phase == PhaseCompleted {
		if removed, cleanErr := media.CleanupArtifacts(t.Destination); cleanErr != nil {
			// Never escalated: a stray thumbnail is not a failed download.
			m.board.Logf("Cleanup warning: %v", cleanErr)
			log.Warn().Err(cleanErr).Str("folder", t.Destination).Msg("artifact cleanup incomplete")
		} else if removed > 0 {
			log.Debug().Int("removed", removed).Str("folder", t.Destination).Msg("artifacts cleaned")
		}
	}

	final := m.board.Finalize(id, phase, msg)
	m.record(t, final, started)
}

func (m *Manager) record(t Task, final JobStatus, started time.Time) {
	if m.recorder == nil {
		return
	}
	output, _ := media.FindOutput(t.Destination, string(t.Mode), started.Add(-2*time.Second))
	rec := RunRecord{
		ID:          final.ID,
		URL:         t.URL,
		Title:       final.Title,
		Mode:        string(t.Mode),
		Kind:        string(t.Kind),
		Phase:       string(final.Phase),
		Error:       final.Error,
		Destination: t.Destination,
		OutputFile:  output,
		Seconds:     time.Since(started).Seconds(),
	}
	// Recording must survive shutdown cancellation of the worker context.
	if err := m.recorder.Record(context.Background(), rec); err != nil {
		log.Warn().Err(err).Str("url", t.URL).Msg("record run failed")
	}
}

// requestFor maps an immutable task onto one engine attempt.
func requestFor(t Task, fallback bool) engine.Request {
	req := engine.Request{
		URL:            t.URL,
		Destination:    t.Destination,
		Mode:           string(t.Mode),
		Quality:        t.Quality,
		Subtitles:      t.Subtitles,
		EmbedThumbnail: t.EmbedThumbnail,
		Playlist:       t.Kind == KindPlaylist || t.Kind == KindChannel,
		Fallback:       fallback,
	}
	if t.Kind == KindChannel && t.RecentCount > 0 {
		req.RecentCount = t.RecentCount
	}
	return req
}
