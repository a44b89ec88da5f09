package progress

import (
	"math"
	"time"
)

const (
	defaultAlpha          = 0.3
	defaultPace           = 2.0
	defaultWordsPerMinute = 150
)

// Outcome is how a chapter reached a terminal state in a run.
type Outcome int

const (
	Rendered Outcome = iota
	Cached
	Failed
	Skipped
)

// Options tunes the estimator.
type Options struct {
	// Alpha is the EWMA weight given to the newest pace sample.
	Alpha float64
	// DefaultPace (audio seconds per synthesis second) is used before any
	// measurement exists for a voice or overall.
	DefaultPace float64
	// WordsPerMinute estimates chapter audio length before any chapter has
	// been measured.
	WordsPerMinute int
	// Workers is the synthesis concurrency; remaining work is divided across it.
	Workers int
}

// Plan describes a chapter the run still has to synthesize.
type Plan struct {
	Index int
	Voice string
	Words int
}

// Observation reports one chapter reaching a terminal state.
type Observation struct {
	Index        int
	Voice        string
	Outcome      Outcome
	Words        int
	AudioSeconds float64
	SynthSeconds float64
}

// Snapshot is the derived progress view. It is never persisted.
type Snapshot struct {
	Total      int
	Rendered   int
	Cached     int
	Skipped    int
	Failed     int
	InFlight   int
	Remaining  int
	Percent    float64
	ETASeconds float64
	Elapsed    time.Duration
}

// Done returns the count of chapters in a terminal state.
func (s Snapshot) Done() int {
	return s.Rendered + s.Cached + s.Skipped + s.Failed
}

// Tracker derives progress and ETA for one render run. It is owned by the
// orchestrator's event loop and is not safe for concurrent use.
type Tracker struct {
	opts Options

	total    int
	counts   map[Outcome]int
	pending  map[int]Plan
	inFlight map[int]struct{}
	started  time.Time
	now      func() time.Time

	voicePace  map[string]float64
	globalPace float64
	secPerWord float64
}

// New returns a tracker with defaults filled in for unset options.
func New(opts Options) *Tracker {
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = defaultAlpha
	}
	if opts.DefaultPace <= 0 {
		opts.DefaultPace = defaultPace
	}
	if opts.WordsPerMinute <= 0 {
		opts.WordsPerMinute = defaultWordsPerMinute
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Tracker{
		opts:      opts,
		counts:    make(map[Outcome]int),
		pending:   make(map[int]Plan),
		inFlight:  make(map[int]struct{}),
		voicePace: make(map[string]float64),
		now:       time.Now,
	}
}

// Seed installs pace measurements from earlier runs so the first estimate of
// a new run is informed.
func (t *Tracker) Seed(paces map[string]float64) {
	sum, n := 0.0, 0
	for voice, pace := range paces {
		if pace <= 0 || math.IsNaN(pace) || math.IsInf(pace, 0) {
			continue
		}
		t.voicePace[voice] = pace
		sum += pace
		n++
	}
	if n > 0 && t.globalPace == 0 {
		t.globalPace = sum / float64(n)
	}
}

// Start resets counters for a run over total chapters, of which plans still
// need synthesis.
func (t *Tracker) Start(total int, plans []Plan) {
	t.total = total
	t.counts = make(map[Outcome]int)
	t.pending = make(map[int]Plan, len(plans))
	t.inFlight = make(map[int]struct{})
	for _, p := range plans {
		t.pending[p.Index] = p
	}
	t.started = t.now()
}

// Begin marks a planned chapter as being synthesized.
func (t *Tracker) Begin(index int) {
	if _, ok := t.pending[index]; ok {
		t.inFlight[index] = struct{}{}
	}
}

// Observe records a terminal chapter outcome and folds rendered chapters into
// the pace estimates.
func (t *Tracker) Observe(obs Observation) {
	t.counts[obs.Outcome]++
	delete(t.pending, obs.Index)
	delete(t.inFlight, obs.Index)

	if obs.Outcome != Rendered || obs.AudioSeconds <= 0 || obs.SynthSeconds <= 0 {
		return
	}
	pace := obs.AudioSeconds / obs.SynthSeconds
	t.voicePace[obs.Voice] = t.ewma(t.voicePace[obs.Voice], pace)
	t.globalPace = t.ewma(t.globalPace, pace)
	if obs.Words > 0 {
		t.secPerWord = t.ewma(t.secPerWord, obs.AudioSeconds/float64(obs.Words))
	}
}

// Snapshot computes the current progress view.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Total:     t.total,
		Rendered:  t.counts[Rendered],
		Cached:    t.counts[Cached],
		Skipped:   t.counts[Skipped],
		Failed:    t.counts[Failed],
		InFlight:  len(t.inFlight),
		Remaining: len(t.pending),
	}
	if !t.started.IsZero() {
		snap.Elapsed = t.now().Sub(t.started)
	}
	if t.total > 0 {
		snap.Percent = math.Min(100, float64(snap.Done())/float64(t.total)*100)
	} else {
		snap.Percent = 100
	}
	snap.ETASeconds = t.eta()
	return snap
}

// PaceFor returns the pace estimate used for voice.
func (t *Tracker) PaceFor(voice string) float64 {
	if pace, ok := t.voicePace[voice]; ok && pace > 0 {
		return pace
	}
	if t.globalPace > 0 {
		return t.globalPace
	}
	return t.opts.DefaultPace
}

// VoicePaces returns the current per-voice pace estimates.
func (t *Tracker) VoicePaces() map[string]float64 {
	out := make(map[string]float64, len(t.voicePace))
	for voice, pace := range t.voicePace {
		out[voice] = pace
	}
	return out
}

func (t *Tracker) eta() float64 {
	if len(t.pending) == 0 {
		return 0
	}
	secPerWord := t.secPerWord
	if secPerWord <= 0 {
		secPerWord = 60 / float64(t.opts.WordsPerMinute)
	}
	total := 0.0
	for _, p := range t.pending {
		audio := float64(p.Words) * secPerWord
		total += audio / t.PaceFor(p.Voice)
	}
	workers := t.opts.Workers
	if len(t.pending) < workers {
		workers = len(t.pending)
	}
	eta := total / float64(workers)
	if eta < 0 || math.IsNaN(eta) || math.IsInf(eta, 0) {
		return 0
	}
	return eta
}

func (t *Tracker) ewma(prev, sample float64) float64 {
	if prev <= 0 {
		return sample
	}
	return t.opts.Alpha*sample + (1-t.opts.Alpha)*prev
}
