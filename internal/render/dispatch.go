package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"audiobooker/internal/book"
	"audiobooker/internal/chaptercache"
	"audiobooker/internal/failure"
	"audiobooker/internal/ledger"
	"audiobooker/internal/logging"
	"audiobooker/internal/progress"
	"audiobooker/internal/services"
	"audiobooker/internal/synthesis"
	"audiobooker/internal/wav"
)

type job struct {
	chapter     book.Chapter
	fingerprint string
	previous    ledger.Entry
}

// event is sent from a synthesis worker to the session loop.
type event struct {
	job          job
	write        chaptercache.WriteResult
	duration     float64
	synthSeconds float64
	err          error
}

// dispatch runs jobs on a bounded worker pool. Workers synthesize and write
// chapter files; the calling goroutine hands out jobs and applies every
// ledger update in the order completions arrive, so no new chapter starts
// after the run is stopped. The returned error is reserved for failures that
// leave the ledger unusable; chapter failures are recorded on the session.
func (s *session) dispatch(ctx context.Context, jobs []job) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan job)
	events := make(chan event)
	g, gctx := errgroup.WithContext(workCtx)
	for range min(s.opts.Workers, len(jobs)) {
		g.Go(func() error {
			for j := range queue {
				events <- s.synthesize(gctx, j)
			}
			return nil
		})
	}

	var fatal error
	next, inFlight := 0, 0
	canSend := func() bool { return next < len(jobs) && !s.aborted && ctx.Err() == nil }
	for inFlight > 0 || canSend() {
		var (
			send    chan<- job
			nextJob job
		)
		if canSend() {
			send = queue
			nextJob = jobs[next]
		}
		select {
		case send <- nextJob:
			next++
			inFlight++
			s.tracker.Begin(nextJob.chapter.Index)
			s.logger.Debug("chapter synthesis started",
				logging.String(logging.FieldEventType, "chapter_start"),
				logging.Int(logging.FieldChapterIndex, nextJob.chapter.Index),
				logging.String(logging.FieldChapterTitle, nextJob.chapter.DisplayTitle()),
			)
		case ev := <-events:
			inFlight--
			if err := s.complete(ctx, ev, workCtx.Err() != nil); err != nil && fatal == nil {
				fatal = err
			}
			if fatal != nil || s.stopsRun(ev.err) {
				s.aborted = true
				cancel()
			}
			s.emit()
		}
	}
	close(queue)
	_ = g.Wait()
	return fatal
}

// stopsRun reports whether a chapter error ends the run. Configuration
// problems stop it even when partial output is allowed.
func (s *session) stopsRun(err error) bool {
	if err == nil {
		return false
	}
	return !s.opts.AllowPartial || services.IsFatalForRun(err)
}

// synthesize runs on a worker goroutine. It only touches the chapter's own
// cache file.
func (s *session) synthesize(ctx context.Context, j job) event {
	ctx = services.WithChapter(ctx, j.chapter.Index)
	start := time.Now()
	res, err := s.r.synth.Synthesize(ctx, synthesis.Request{
		ChapterIndex: j.chapter.Index,
		Utterances:   j.chapter.Utterances,
		Params:       s.params,
	})
	ev := event{job: j, synthSeconds: time.Since(start).Seconds()}
	if err == nil && len(res.Audio) == 0 {
		err = services.Wrap(services.ErrTransient, "synthesis", "synthesize", "synthesizer returned no audio", nil)
	}
	if err != nil {
		ev.err = err
		return ev
	}

	ev.duration = res.DurationSeconds
	if ev.duration <= 0 {
		if seconds, derr := wav.Duration(res.Audio); derr == nil {
			ev.duration = seconds
		}
	}
	written, err := s.store.Write(j.chapter.Index, res.Audio)
	if err != nil {
		ev.err = err
		return ev
	}
	ev.write = written
	return ev
}

// complete applies a finished job to the ledger, the tracker and the result.
func (s *session) complete(ctx context.Context, ev event, stopping bool) error {
	ch := ev.job.chapter
	res := s.byIndex[ch.Index]
	res.SynthSeconds = ev.synthSeconds

	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) && (stopping || ctx.Err() != nil) {
			s.tracker.Observe(progress.Observation{Index: ch.Index, Outcome: progress.Skipped})
			s.logger.Debug("chapter interrupted",
				logging.String(logging.FieldEventType, "chapter_interrupted"),
				logging.Int(logging.FieldChapterIndex, ch.Index),
			)
			return nil
		}
		return s.recordFailure(ev)
	}

	entry := ledger.Entry{
		Index:           ch.Index,
		Title:           res.Title,
		Fingerprint:     ev.job.fingerprint,
		Status:          ledger.StatusOK,
		AudioPath:       ev.write.RelPath,
		DurationSeconds: ev.duration,
		SizeBytes:       ev.write.SizeBytes,
		SHA256:          ev.write.SHA256,
		Attempts:        ev.job.previous.Attempts + 1,
		UpdatedAt:       s.r.now(),
	}
	s.ledger.Put(entry)
	if err := s.ledger.Flush(); err != nil {
		logging.ErrorWithContext(s.logger, "ledger write failed", "ledger_flush_failed",
			logging.Error(err),
			logging.Int(logging.FieldChapterIndex, ch.Index),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the cache directory"),
		)
		return fmt.Errorf("persist ledger: %w", err)
	}

	res.State = StateRendered
	res.AudioPath = ev.write.Path
	res.DurationSeconds = ev.duration
	s.result.Rendered++

	voice := ch.PrimaryVoice()
	s.tracker.Observe(progress.Observation{
		Index:        ch.Index,
		Voice:        voice,
		Outcome:      progress.Rendered,
		Words:        ch.WordCount(),
		AudioSeconds: ev.duration,
		SynthSeconds: ev.synthSeconds,
	})
	if s.r.history != nil {
		if err := s.r.history.RecordPace(ctx, voice, ev.duration, ev.synthSeconds); err != nil {
			logging.WarnWithContext(s.logger, "pace not recorded", "pace_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "future ETA estimates ignore this chapter"),
			)
		}
	}
	s.logger.Info("chapter rendered",
		logging.String(logging.FieldEventType, "chapter_rendered"),
		logging.Int(logging.FieldChapterIndex, ch.Index),
		logging.String(logging.FieldChapterTitle, res.Title),
		logging.String(logging.FieldVoice, voice),
		logging.Float64("audio_seconds", ev.duration),
		logging.Float64("synth_seconds", ev.synthSeconds),
	)
	return nil
}

func (s *session) recordFailure(ev event) error {
	ch := ev.job.chapter
	res := s.byIndex[ch.Index]
	kind := services.Classify(ev.err)
	now := s.r.now()

	s.ledger.Put(ledger.Entry{
		Index:       ch.Index,
		Title:       res.Title,
		Fingerprint: ev.job.fingerprint,
		Status:      ledger.StatusFailed,
		LastError:   ev.err.Error(),
		ErrorKind:   kind,
		Attempts:    ev.job.previous.Attempts + 1,
		UpdatedAt:   now,
	})
	flushErr := s.ledger.Flush()

	res.State = StateFailed
	res.Error = ev.err.Error()
	res.ErrorKind = kind
	s.result.Failed++
	if s.firstErr == nil {
		s.firstErr = ev.err
	}

	detail := failure.Chapter{
		Index:     ch.Index,
		Title:     res.Title,
		Error:     ev.err.Error(),
		ErrorKind: kind,
		FailedAt:  now,
	}
	if idx := synthesis.FailedUtterance(ev.err); idx >= 0 && idx < len(ch.Utterances) {
		u := ch.Utterances[idx]
		detail.Utterance = &failure.Utterance{
			Index:       idx,
			Speaker:     u.Speaker,
			TextPreview: failure.Preview(u.Text),
			Voice:       u.Voice,
			Emotion:     u.Emotion,
		}
	}
	s.failures = append(s.failures, detail)
	s.tracker.Observe(progress.Observation{Index: ch.Index, Voice: ch.PrimaryVoice(), Outcome: progress.Failed})

	logging.ErrorWithContext(s.logger, "chapter synthesis failed", "chapter_failed",
		logging.Int(logging.FieldChapterIndex, ch.Index),
		logging.String(logging.FieldChapterTitle, res.Title),
		logging.String("error_kind", kind),
		logging.Error(ev.err),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
	)
	if flushErr != nil {
		return fmt.Errorf("persist ledger: %w", flushErr)
	}
	return nil
}

func failureHint(kind string) string {
	switch kind {
	case services.KindConfiguration, services.KindValidation:
		return "fix the voice or engine configuration before re-running"
	case services.KindTimeout:
		return "raise tts.timeout_seconds or reduce render.workers"
	default:
		return "re-run render to retry; cached chapters are kept"
	}
}
