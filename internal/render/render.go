package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiobooker/internal/assembly"
	"audiobooker/internal/book"
	"audiobooker/internal/chaptercache"
	"audiobooker/internal/history"
	"audiobooker/internal/ledger"
	"audiobooker/internal/logging"
	"audiobooker/internal/progress"
	"audiobooker/internal/services"
	"audiobooker/internal/synthesis"
)

// ErrChapterFailed is returned when a chapter failure ends the run.
var ErrChapterFailed = errors.New("chapter synthesis failed")

// State is a chapter's outcome within one run.
type State string

const (
	StateCached   State = "cached"
	StateRendered State = "rendered"
	StateFailed   State = "failed"
	// StateSkipped marks a chapter before the start chapter without valid
	// cached audio.
	StateSkipped State = "skipped"
	// StatePending marks a chapter the run never reached or that was
	// interrupted.
	StatePending State = "pending"
)

// ChapterResult reports what happened to one chapter.
type ChapterResult struct {
	Index           int
	Title           string
	Fingerprint     string
	State           State
	AudioPath       string
	DurationSeconds float64
	SynthSeconds    float64
	Error           string
	ErrorKind       string
	// SelfHealed is set when an ok ledger entry no longer matched its file
	// and was downgraded to pending.
	SelfHealed bool
}

// Result summarizes a render run.
type Result struct {
	RunID           string
	CacheRoot       string
	LedgerPath      string
	LedgerRecovered string
	Chapters        []ChapterResult
	Rendered        int
	Cached          int
	Failed          int
	Skipped         int
	OutputPath      string
	Assembly        *assembly.Result
	ReportPath      string
	Progress        progress.Snapshot
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Missing returns the chapters left out of the assembled output.
func (r Result) Missing() []int {
	if r.Assembly == nil {
		return nil
	}
	return r.Assembly.Missing
}

// History is the run and pace store consulted by Render. A nil History
// disables recording.
type History interface {
	VoicePaces(ctx context.Context) (map[string]float64, error)
	RecordPace(ctx context.Context, voice string, audioSeconds, synthSeconds float64) error
	RecordRun(ctx context.Context, run history.Run) error
}

// Renderer drives synthesis, caching and assembly for a project.
type Renderer struct {
	synth      synthesis.Synthesizer
	muxer      assembly.Muxer
	logger     *slog.Logger
	history    History
	duration   assembly.DurationFunc
	progress   progress.Options
	onProgress func(progress.Snapshot)
	newRunID   func() string
	now        func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) { r.logger = logging.NewComponentLogger(logger, "render") }
}

// WithHistory records runs and pace measurements in h.
func WithHistory(h History) Option {
	return func(r *Renderer) { r.history = h }
}

// WithDurationProbe measures cached audio that has no recorded duration.
func WithDurationProbe(fn assembly.DurationFunc) Option {
	return func(r *Renderer) { r.duration = fn }
}

// WithProgressOptions tunes the ETA estimator.
func WithProgressOptions(opts progress.Options) Option {
	return func(r *Renderer) { r.progress = opts }
}

// WithProgressFunc receives a snapshot after every chapter state change. It
// is called from the goroutine running Render.
func WithProgressFunc(fn func(progress.Snapshot)) Option {
	return func(r *Renderer) { r.onProgress = fn }
}

// New returns a renderer using synth for chapter audio and muxer for
// assembly.
func New(synth synthesis.Synthesizer, muxer assembly.Muxer, opts ...Option) *Renderer {
	r := &Renderer{
		synth:    synth,
		muxer:    muxer,
		logger:   logging.NewComponentLogger(nil, "render"),
		newRunID: uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render brings every selected chapter of project to a terminal state and
// assembles the result. The cache root is locked for the duration of the
// call; a concurrent run against the same root fails with ErrLocked.
//
// A returned error always comes with a Result describing the chapters that
// did complete. Their cached audio stays valid for the next run.
func (r *Renderer) Render(ctx context.Context, project *book.Project, params book.RenderParams, cacheRoot string, opts Options) (Result, error) {
	if r.synth == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "render", "init", "synthesizer not configured", nil)
	}
	if project == nil || len(project.Chapters) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "render", "init", "project has no chapters", nil)
	}
	cacheRoot = strings.TrimSpace(cacheRoot)
	if cacheRoot == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "render", "init", "cache root is required", nil)
	}
	opts = opts.normalized()
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if opts.OnlyChapter != nil {
		if _, ok := project.Chapter(*opts.OnlyChapter); !ok {
			return Result{}, services.Wrap(services.ErrValidation, "render", "options", fmt.Sprintf("chapter %d does not exist", *opts.OnlyChapter), nil)
		}
	} else if r.muxer == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "render", "init", "muxer not configured", nil)
	}

	lock, err := AcquireLock(cacheRoot)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = lock.Release() }()

	runID := r.newRunID()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	store := chaptercache.New(cacheRoot, chaptercache.WithChecksumVerification(opts.VerifyChecksums))
	led := ledger.Open(filepath.Join(cacheRoot, ledger.FileName), logger)

	progressOpts := r.progress
	progressOpts.Workers = opts.Workers
	s := &session{
		r:       r,
		project: project,
		params:  params,
		opts:    opts,
		store:   store,
		ledger:  led,
		logger:  logger,
		tracker: progress.New(progressOpts),
		sampler: logging.NewProgressSampler(5),
		byIndex: make(map[int]*ChapterResult),
		result: Result{
			RunID:           runID,
			CacheRoot:       cacheRoot,
			LedgerPath:      led.Path(),
			LedgerRecovered: led.Recovered(),
			StartedAt:       r.now(),
		},
	}

	err = s.execute(ctx)
	s.finish(ctx, err)
	return s.result, err
}
