package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"audiobooker/internal/book"
	"audiobooker/internal/chaptercache"
	"audiobooker/internal/failure"
	"audiobooker/internal/fingerprint"
	"audiobooker/internal/ledger"
	"audiobooker/internal/logging"
	"audiobooker/internal/progress"
	"audiobooker/internal/synthesis"
)

// session holds the state of one Render call. Everything except the synthesis
// workers executes on the calling goroutine, which is the only writer of the
// ledger, the tracker and the result.
type session struct {
	r       *Renderer
	project *book.Project
	params  book.RenderParams
	opts    Options
	store   *chaptercache.Store
	ledger  *ledger.Ledger
	logger  *slog.Logger
	tracker *progress.Tracker
	sampler *logging.ProgressSampler

	result   Result
	byIndex  map[int]*ChapterResult
	failures []failure.Chapter
	firstErr error
	aborted  bool
}

// planned is the validity decision for one chapter.
type planned struct {
	chapter     book.Chapter
	fingerprint string
	entry       ledger.Entry
	found       bool
	check       chaptercache.Check
}

func (s *session) execute(ctx context.Context) error {
	if err := s.prepare(); err != nil {
		return err
	}

	plans, err := s.plan(ctx)
	if err != nil {
		return err
	}
	jobs := s.classify(plans)
	if err := s.ledger.Flush(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	s.logger.Info("render started",
		logging.String(logging.FieldEventType, "render_start"),
		logging.String("book", s.project.Title),
		logging.Int("chapters", len(plans)),
		logging.Int("to_render", len(jobs)),
		logging.Int("cached", s.result.Cached),
		logging.Int("workers", s.opts.Workers),
		logging.Bool("resume", s.opts.Resume),
	)
	s.emit()

	if len(s.failures) > 0 && !s.opts.AllowPartial {
		return s.failChapters()
	}

	if len(jobs) > 0 {
		if err := s.checkVoices(ctx, jobs); err != nil {
			s.reportFailure("voice_validation", err)
			return err
		}
		if err := s.dispatch(ctx, jobs); err != nil {
			s.reportFailure("ledger", err)
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		if len(s.failures) > 0 {
			s.reportFailure("interrupted", err)
		}
		return fmt.Errorf("render interrupted: %w", err)
	}
	if len(s.failures) > 0 && (!s.opts.AllowPartial || s.aborted) {
		return s.failChapters()
	}

	if s.opts.OnlyChapter != nil {
		if err := s.exportChapter(*s.opts.OnlyChapter); err != nil {
			s.reportFailure("export", err)
			return err
		}
	} else if err := s.assemble(ctx); err != nil {
		s.reportFailure("assembly", err)
		return err
	}

	if len(s.failures) > 0 {
		s.reportFailure("", nil)
	} else if err := failure.Remove(s.store.Root()); err != nil {
		logging.WarnWithContext(s.logger, "stale failure report not removed", "failure_report_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "'audiobooker report' may show an earlier failure"),
		)
	}
	return nil
}

func (s *session) prepare() error {
	if s.opts.CleanCache {
		if err := s.store.Clear(); err != nil {
			return err
		}
		if err := s.ledger.Reset(); err != nil {
			return fmt.Errorf("reset ledger: %w", err)
		}
		if err := failure.Remove(s.store.Root()); err != nil {
			return err
		}
		s.logger.Info("cache cleared before render",
			logging.String(logging.FieldEventType, "cache_cleared"),
			logging.String("cache_root", s.store.Root()),
		)
	}
	title := s.opts.Title
	if title == "" {
		title = s.project.Title
	}
	s.ledger.SetBookTitle(title)
	return nil
}

// selected returns the chapters the run is responsible for, in book order.
func (s *session) selected() []book.Chapter {
	if s.opts.OnlyChapter != nil {
		ch, _ := s.project.Chapter(*s.opts.OnlyChapter)
		return []book.Chapter{ch}
	}
	return s.project.Chapters
}

// plan fingerprints and checks every selected chapter concurrently.
func (s *session) plan(ctx context.Context) ([]planned, error) {
	chapters := s.selected()
	plans := make([]planned, len(chapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ch := range chapters {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp := fingerprint.Compute(ch, s.params)
			entry, found := s.ledger.Get(ch.Index)
			plans[i] = planned{
				chapter:     ch,
				fingerprint: fp,
				entry:       entry,
				found:       found,
				check:       s.store.Check(entry, found, fp),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("plan chapters: %w", err)
	}
	return plans, nil
}

// classify settles every chapter that needs no synthesis and returns the
// rest as jobs.
func (s *session) classify(plans []planned) []job {
	var (
		jobs    []job
		pending []progress.Plan
	)
	type settled struct {
		index   int
		outcome progress.Outcome
	}
	var done []settled

	s.result.Chapters = make([]ChapterResult, 0, len(plans))
	for _, p := range plans {
		ch := p.chapter
		s.result.Chapters = append(s.result.Chapters, ChapterResult{
			Index:       ch.Index,
			Title:       ch.DisplayTitle(),
			Fingerprint: p.fingerprint,
			State:       StatePending,
		})
		res := &s.result.Chapters[len(s.result.Chapters)-1]
		s.byIndex[ch.Index] = res

		if p.check.Inconsistent {
			s.selfHeal(p, res)
		}
		beforeStart := s.opts.OnlyChapter == nil && ch.Index < s.opts.StartChapter

		switch {
		case p.check.Validity == chaptercache.Valid && (s.opts.Resume || beforeStart):
			s.markCached(res, p.entry)
			done = append(done, settled{ch.Index, progress.Cached})
		case beforeStart:
			res.State = StateSkipped
			s.result.Skipped++
			done = append(done, settled{ch.Index, progress.Skipped})
		case s.isStickyFailure(p):
			res.State = StateFailed
			res.Error = p.entry.LastError
			res.ErrorKind = p.entry.ErrorKind
			s.result.Failed++
			s.failures = append(s.failures, failure.Chapter{
				Index:     ch.Index,
				Title:     res.Title,
				Error:     p.entry.LastError,
				ErrorKind: p.entry.ErrorKind,
				FailedAt:  p.entry.UpdatedAt,
			})
			if s.firstErr == nil {
				s.firstErr = errors.New(p.entry.LastError)
			}
			done = append(done, settled{ch.Index, progress.Failed})
			s.logger.Info("chapter failed previously; not retrying",
				logging.String(logging.FieldEventType, "chapter_failure_sticky"),
				logging.Int(logging.FieldChapterIndex, ch.Index),
				logging.String(logging.FieldChapterTitle, res.Title),
			)
		default:
			jobs = append(jobs, job{chapter: ch, fingerprint: p.fingerprint, previous: p.entry})
			pending = append(pending, progress.Plan{Index: ch.Index, Voice: ch.PrimaryVoice(), Words: ch.WordCount()})
		}
	}

	s.seedTracker()
	s.tracker.Start(len(plans), pending)
	for _, d := range done {
		s.tracker.Observe(progress.Observation{Index: d.index, Outcome: d.outcome})
	}
	return jobs
}

func (s *session) isStickyFailure(p planned) bool {
	return s.opts.Resume && !s.opts.RetryFailed && p.found &&
		p.entry.Status == ledger.StatusFailed && p.entry.Fingerprint == p.fingerprint
}

func (s *session) selfHeal(p planned, res *ChapterResult) {
	entry := p.entry
	entry.Status = ledger.StatusPending
	entry.LastError = p.check.Reason
	entry.UpdatedAt = s.r.now()
	s.ledger.Put(entry)
	res.SelfHealed = true
	s.logger.Info("cached chapter audio no longer matches the ledger; it will be re-rendered",
		logging.String(logging.FieldEventType, "cache_self_heal"),
		logging.Int(logging.FieldChapterIndex, p.chapter.Index),
		logging.String("reason", p.check.Reason),
	)
}

func (s *session) markCached(res *ChapterResult, entry ledger.Entry) {
	res.State = StateCached
	res.DurationSeconds = entry.DurationSeconds
	if path, err := s.store.Resolve(entry.AudioPath); err == nil {
		res.AudioPath = path
	}
	s.result.Cached++
}

func (s *session) seedTracker() {
	if s.r.history == nil {
		return
	}
	paces, err := s.r.history.VoicePaces(context.Background())
	if err != nil {
		logging.WarnWithContext(s.logger, "pace history unavailable", "pace_history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "initial ETA uses the default pace"),
		)
		return
	}
	s.tracker.Seed(paces)
}

func (s *session) checkVoices(ctx context.Context, jobs []job) error {
	if !s.opts.ValidateVoices {
		return nil
	}
	checker, ok := s.r.synth.(synthesis.VoiceChecker)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var voices []string
	for _, j := range jobs {
		for _, v := range j.chapter.Voices() {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			voices = append(voices, v)
		}
	}
	if err := checker.CheckVoices(ctx, voices); err != nil {
		logging.ErrorWithContext(s.logger, "voice validation failed", "voice_validation_failed",
			logging.Error(err),
			logging.Int("voices", len(voices)),
			logging.String(logging.FieldErrorHint, "install the missing voice models or fix the casting"),
		)
		return fmt.Errorf("validate voices: %w", err)
	}
	return nil
}

func (s *session) emit() {
	snap := s.tracker.Snapshot()
	s.result.Progress = snap
	if s.r.onProgress != nil {
		s.r.onProgress(snap)
	}
	if s.sampler.ShouldLog(snap.Percent, snap.Failed) {
		s.logger.Info("render progress",
			logging.String(logging.FieldEventType, "render_progress"),
			logging.Int("done", snap.Done()),
			logging.Int("total", snap.Total),
			logging.Int("failed", snap.Failed),
			logging.Float64("percent", snap.Percent),
			logging.Float64("eta_seconds", snap.ETASeconds),
		)
	}
}

// failChapters writes the failure report and returns the run error for the
// first failed chapter.
func (s *session) failChapters() error {
	s.reportFailure("synthesis", nil)
	first := s.failures[0]
	return fmt.Errorf("%w: chapter %d (%s): %w", ErrChapterFailed, first.Index, first.Title, s.firstErr)
}
