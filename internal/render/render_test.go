package render_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"audiobooker/internal/assembly"
	"audiobooker/internal/book"
	"audiobooker/internal/failure"
	"audiobooker/internal/history"
	"audiobooker/internal/ledger"
	"audiobooker/internal/progress"
	"audiobooker/internal/render"
	"audiobooker/internal/services"
	"audiobooker/internal/synthesis"
	"audiobooker/internal/wav"
)

type fakeSynth struct {
	mu    sync.Mutex
	calls map[int]int
	fail  map[int]error
	hook  func(ctx context.Context, index int) error
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{calls: make(map[int]int), fail: make(map[int]error)}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req synthesis.Request) (synthesis.Result, error) {
	f.mu.Lock()
	f.calls[req.ChapterIndex]++
	err := f.fail[req.ChapterIndex]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, req.ChapterIndex); err != nil {
			return synthesis.Result{}, err
		}
	}
	if err != nil {
		return synthesis.Result{}, err
	}

	h := fnv.New32a()
	for _, u := range req.Utterances {
		fmt.Fprintf(h, "%s|%s|%s|", u.Text, u.Voice, u.Emotion)
	}
	fmt.Fprintf(h, "%+v", req.Params)
	seed := h.Sum32()
	samples := make([]int16, req.Params.SampleRate/10)
	for i := range samples {
		samples[i] = int16(seed >> (i % 16))
	}
	return synthesis.Result{Audio: wav.Encode(samples, req.Params.SampleRate)}, nil
}

func (f *fakeSynth) setFail(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, index)
		return
	}
	f.fail[index] = err
}

func (f *fakeSynth) callCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

func (f *fakeSynth) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type checkingSynth struct {
	*fakeSynth
	err    error
	voices []string
}

func (c *checkingSynth) CheckVoices(_ context.Context, voices []string) error {
	c.voices = voices
	return c.err
}

type fakeMuxer struct {
	calls    int
	embedErr bool
}

func (m *fakeMuxer) Mux(_ context.Context, req assembly.MuxRequest) (assembly.MuxResult, error) {
	m.calls++
	var buf bytes.Buffer
	for _, track := range req.Tracks {
		data, err := os.ReadFile(track.Path)
		if err != nil {
			return assembly.MuxResult{}, err
		}
		buf.Write(data)
	}
	if m.embedErr {
		audio := filepath.Join(req.WorkDir, "audio.m4a")
		if err := os.WriteFile(audio, buf.Bytes(), 0o644); err != nil {
			return assembly.MuxResult{}, err
		}
		return assembly.MuxResult{}, &assembly.ChapterEmbedError{
			Reason:      "chapter metadata rejected",
			Diagnostics: "Invalid data found when processing input",
			AudioPath:   audio,
		}
	}
	if err := os.WriteFile(req.OutputPath, buf.Bytes(), 0o644); err != nil {
		return assembly.MuxResult{}, err
	}
	return assembly.MuxResult{OutputPath: req.OutputPath}, nil
}

type fakeHistory struct {
	runs  []history.Run
	paces map[string]float64
}

func (h *fakeHistory) VoicePaces(context.Context) (map[string]float64, error) {
	return h.paces, nil
}

func (h *fakeHistory) RecordPace(_ context.Context, voice string, audioSeconds, synthSeconds float64) error {
	if h.paces == nil {
		h.paces = make(map[string]float64)
	}
	h.paces[voice] = audioSeconds / synthSeconds
	return nil
}

func (h *fakeHistory) RecordRun(_ context.Context, run history.Run) error {
	h.runs = append(h.runs, run)
	return nil
}

var testParams = book.RenderParams{
	SampleRate:      8000,
	Bitrate:         "64k",
	Codec:           "aac",
	NarratorPauseMS: 300,
	DialoguePauseMS: 200,
}

func testProject(n int) *book.Project {
	project := &book.Project{Title: "The Test Book", Author: "A. Writer"}
	for i := 0; i < n; i++ {
		project.Chapters = append(project.Chapters, book.Chapter{
			Index: i,
			Title: fmt.Sprintf("Chapter %d", i+1),
			Utterances: []book.Utterance{
				{Speaker: "narrator", Text: fmt.Sprintf("This is chapter %d of the book.", i), Kind: book.KindNarration, Voice: "amy", Position: 0},
				{Speaker: "bob", Text: "Hello there.", Kind: book.KindDialogue, Voice: "bob", Emotion: "calm", Position: 1},
			},
		})
	}
	return project
}

type testEnv struct {
	root  string
	out   string
	synth *fakeSynth
	muxer *fakeMuxer
	hist  *fakeHistory
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		root:  filepath.Join(dir, "cache"),
		out:   filepath.Join(dir, "out", "book.m4b"),
		synth: newFakeSynth(),
		muxer: &fakeMuxer{},
		hist:  &fakeHistory{},
	}
}

func (e *testEnv) renderer(opts ...render.Option) *render.Renderer {
	opts = append([]render.Option{render.WithHistory(e.hist)}, opts...)
	return render.New(e.synth, e.muxer, opts...)
}

func (e *testEnv) options() render.Options {
	opts := render.DefaultOptions()
	opts.OutputPath = e.out
	return opts
}

func (e *testEnv) ledger() *ledger.Ledger {
	return ledger.Open(filepath.Join(e.root, ledger.FileName), nil)
}

func (e *testEnv) chapterFile(index int) string {
	return filepath.Join(e.root, "chapters", fmt.Sprintf("chapter_%04d.wav", index))
}

func mustRender(t *testing.T, r *render.Renderer, p *book.Project, params book.RenderParams, root string, opts render.Options) render.Result {
	t.Helper()
	result, err := r.Render(context.Background(), p, params, root, opts)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return result
}

func entryStatus(t *testing.T, l *ledger.Ledger, index int) ledger.Status {
	t.Helper()
	entry, ok := l.Get(index)
	if !ok {
		return ""
	}
	return entry.Status
}

func TestRenderIsIdempotent(t *testing.T) {
	e := newEnv(t)
	project := testProject(3)
	r := e.renderer()

	first := mustRender(t, r, project, testParams, e.root, e.options())
	if first.Rendered != 3 || first.Cached != 0 {
		t.Fatalf("first run: rendered=%d cached=%d", first.Rendered, first.Cached)
	}
	if !first.Assembly.ChaptersEmbedded {
		t.Fatal("expected chapters embedded")
	}
	firstOut, err := os.ReadFile(e.out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	second := mustRender(t, r, project, testParams, e.root, e.options())
	if second.Rendered != 0 || second.Cached != 3 {
		t.Fatalf("second run: rendered=%d cached=%d", second.Rendered, second.Cached)
	}
	if got := e.synth.totalCalls(); got != 3 {
		t.Fatalf("expected 3 synthesis calls in total, got %d", got)
	}
	secondOut, err := os.ReadFile(e.out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(firstOut, secondOut) {
		t.Fatal("output bytes differ between identical runs")
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids, got %q and %q", first.RunID, second.RunID)
	}
}

func TestRenderInvalidatesOnlyAffectedChapters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *book.Project, params *book.RenderParams)
		want   map[int]int
	}{
		{
			name:   "voice change",
			mutate: func(p *book.Project, _ *book.RenderParams) { p.Chapters[1].Utterances[1].Voice = "carol" },
			want:   map[int]int{0: 1, 1: 2, 2: 1},
		},
		{
			name:   "emotion change",
			mutate: func(p *book.Project, _ *book.RenderParams) { p.Chapters[2].Utterances[1].Emotion = "angry" },
			want:   map[int]int{0: 1, 1: 1, 2: 2},
		},
		{
			name:   "text change",
			mutate: func(p *book.Project, _ *book.RenderParams) { p.Chapters[0].Utterances[0].Text = "Rewritten." },
			want:   map[int]int{0: 2, 1: 1, 2: 1},
		},
		{
			name:   "audio parameter change",
			mutate: func(_ *book.Project, params *book.RenderParams) { params.DialoguePauseMS = 450 },
			want:   map[int]int{0: 2, 1: 2, 2: 2},
		},
		{
			name:   "title change only",
			mutate: func(p *book.Project, _ *book.RenderParams) { p.Chapters[1].Title = "Renamed" },
			want:   map[int]int{0: 1, 1: 1, 2: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			project := testProject(3)
			params := testParams
			r := e.renderer()
			mustRender(t, r, project, params, e.root, e.options())
			before := e.ledger()

			tt.mutate(project, &params)
			mustRender(t, r, project, params, e.root, e.options())

			after := e.ledger()
			for index, want := range tt.want {
				if got := e.synth.callCount(index); got != want {
					t.Errorf("chapter %d synthesized %d times, want %d", index, got, want)
				}
				if want == 1 {
					b, _ := before.Get(index)
					a, _ := after.Get(index)
					if !reflect.DeepEqual(a, b) {
						t.Errorf("chapter %d ledger entry changed: %+v -> %+v", index, b, a)
					}
				}
			}
		})
	}
}

func TestRenderResumesAfterFailure(t *testing.T) {
	e := newEnv(t)
	project := testProject(5)
	r := e.renderer()
	e.synth.setFail(2, services.Wrap(services.ErrTransient, "synthesis", "piper", "model crashed", nil))

	result, err := r.Render(context.Background(), project, testParams, e.root, e.options())
	if !errors.Is(err, render.ErrChapterFailed) {
		t.Fatalf("expected ErrChapterFailed, got %v", err)
	}
	if e.muxer.calls != 0 {
		t.Fatal("assembly must not run after an aborting failure")
	}
	l := e.ledger()
	for _, index := range []int{0, 1} {
		if got := entryStatus(t, l, index); got != ledger.StatusOK {
			t.Fatalf("chapter %d status %q, want ok", index, got)
		}
	}
	if got := entryStatus(t, l, 2); got != ledger.StatusFailed {
		t.Fatalf("chapter 2 status %q, want failed", got)
	}
	for _, index := range []int{3, 4} {
		if got := entryStatus(t, l, index); got == ledger.StatusOK {
			t.Fatalf("chapter %d must not be ok", index)
		}
	}
	entry, _ := l.Get(2)
	if entry.ErrorKind != services.KindTransient || entry.Attempts != 1 {
		t.Fatalf("unexpected failed entry %+v", entry)
	}

	if result.ReportPath == "" {
		t.Fatal("expected failure report path")
	}
	report, ok, err := failure.Load(e.root)
	if err != nil || !ok {
		t.Fatalf("load report: ok=%v err=%v", ok, err)
	}
	if len(report.Chapters) != 1 || report.Chapters[0].Index != 2 {
		t.Fatalf("unexpected report chapters %+v", report.Chapters)
	}
	if report.Rendered != 2 || report.RunID != result.RunID {
		t.Fatalf("unexpected report totals %+v", report)
	}

	e.synth.setFail(2, nil)
	second := mustRender(t, r, project, testParams, e.root, e.options())
	if second.Cached != 2 || second.Rendered != 3 {
		t.Fatalf("second run: cached=%d rendered=%d", second.Cached, second.Rendered)
	}
	for index, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 1, 4: 1} {
		if got := e.synth.callCount(index); got != want {
			t.Errorf("chapter %d synthesized %d times, want %d", index, got, want)
		}
	}
	if _, ok, _ := failure.Load(e.root); ok {
		t.Fatal("expected stale failure report removed after a clean run")
	}
}

func TestRenderReportsFailedUtterance(t *testing.T) {
	e := newEnv(t)
	e.synth.setFail(0, &synthesis.UtteranceError{Index: 1, Err: errors.New("voice exploded")})

	_, err := e.renderer().Render(context.Background(), testProject(1), testParams, e.root, e.options())
	if !errors.Is(err, render.ErrChapterFailed) {
		t.Fatalf("expected ErrChapterFailed, got %v", err)
	}
	report, ok, err := failure.Load(e.root)
	if err != nil || !ok {
		t.Fatalf("load report: ok=%v err=%v", ok, err)
	}
	u := report.Chapters[0].Utterance
	if u == nil {
		t.Fatal("expected failed utterance details")
	}
	if u.Index != 1 || u.Speaker != "bob" || u.Voice != "bob" || u.Emotion != "calm" || u.TextPreview != "Hello there." {
		t.Fatalf("unexpected utterance details %+v", u)
	}
}

func TestRenderDetectsCacheInconsistency(t *testing.T) {
	tests := []struct {
		name    string
		verify  bool
		corrupt func(t *testing.T, e *testEnv)
	}{
		{
			name: "file deleted",
			corrupt: func(t *testing.T, e *testEnv) {
				if err := os.Remove(e.chapterFile(1)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "file truncated",
			corrupt: func(t *testing.T, e *testEnv) {
				if err := os.Truncate(e.chapterFile(1), 10); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "file emptied",
			corrupt: func(t *testing.T, e *testEnv) {
				if err := os.WriteFile(e.chapterFile(1), nil, 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name:   "same size different bytes",
			verify: true,
			corrupt: func(t *testing.T, e *testEnv) {
				data, err := os.ReadFile(e.chapterFile(1))
				if err != nil {
					t.Fatal(err)
				}
				data[len(data)-1] ^= 0xff
				if err := os.WriteFile(e.chapterFile(1), data, 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			project := testProject(3)
			r := e.renderer()
			opts := e.options()
			opts.VerifyChecksums = tt.verify
			mustRender(t, r, project, testParams, e.root, opts)

			tt.corrupt(t, e)

			result := mustRender(t, r, project, testParams, e.root, opts)
			if result.Rendered != 1 || e.synth.callCount(1) != 2 {
				t.Fatalf("expected only chapter 1 re-rendered, rendered=%d calls=%d", result.Rendered, e.synth.callCount(1))
			}
			if !result.Chapters[1].SelfHealed {
				t.Fatal("expected chapter 1 marked self-healed")
			}
			if got := entryStatus(t, e.ledger(), 1); got != ledger.StatusOK {
				t.Fatalf("chapter 1 status %q after heal", got)
			}
		})
	}
}

func TestRenderIgnoresFileWrittenBeforeLedgerUpdate(t *testing.T) {
	e := newEnv(t)
	project := testProject(2)

	// A run that died after writing chapter 1's file but before recording it.
	if err := os.MkdirAll(filepath.Dir(e.chapterFile(1)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.chapterFile(1), []byte("partial garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := mustRender(t, e.renderer(), project, testParams, e.root, e.options())
	if result.Rendered != 2 {
		t.Fatalf("expected both chapters rendered, got %d", result.Rendered)
	}
	data, err := os.ReadFile(e.chapterFile(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wav.Duration(data); err != nil {
		t.Fatalf("expected valid audio after re-render: %v", err)
	}
	entry, _ := e.ledger().Get(1)
	if entry.SizeBytes != int64(len(data)) {
		t.Fatalf("ledger size %d does not match file %d", entry.SizeBytes, len(data))
	}
}

func TestRenderPartialAssembly(t *testing.T) {
	e := newEnv(t)
	project := testProject(4)
	e.synth.setFail(2, errors.New("network hiccup"))
	opts := e.options()
	opts.AllowPartial = true

	result, err := e.renderer().Render(context.Background(), project, testParams, e.root, opts)
	if err != nil {
		t.Fatalf("partial render should succeed: %v", err)
	}
	if !reflect.DeepEqual(result.Missing(), []int{2}) {
		t.Fatalf("expected chapter 2 missing, got %v", result.Missing())
	}
	if !reflect.DeepEqual(result.Assembly.Included, []int{0, 1, 3}) {
		t.Fatalf("unexpected included chapters %v", result.Assembly.Included)
	}
	if result.Failed != 1 || result.Rendered != 3 {
		t.Fatalf("unexpected counts rendered=%d failed=%d", result.Rendered, result.Failed)
	}
	if result.ReportPath == "" {
		t.Fatal("expected a failure report for the missing chapter")
	}
	if e.muxer.calls != 1 {
		t.Fatalf("expected one mux call, got %d", e.muxer.calls)
	}
	if got := e.hist.runs[len(e.hist.runs)-1].Status; got != history.StatusPartial {
		t.Fatalf("history status %q, want partial", got)
	}
}

func TestRenderWithoutPartialRefusesAssembly(t *testing.T) {
	e := newEnv(t)
	e.synth.setFail(2, errors.New("network hiccup"))

	_, err := e.renderer().Render(context.Background(), testProject(4), testParams, e.root, e.options())
	if !errors.Is(err, render.ErrChapterFailed) {
		t.Fatalf("expected ErrChapterFailed, got %v", err)
	}
	if e.muxer.calls != 0 {
		t.Fatal("muxer must not run")
	}
	if _, err := os.Stat(e.out); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, stat err=%v", err)
	}
}

func TestRenderChapterEmbedFallback(t *testing.T) {
	e := newEnv(t)
	e.muxer.embedErr = true

	result := mustRender(t, e.renderer(), testProject(2), testParams, e.root, e.options())
	want := filepath.Join(filepath.Dir(e.out), "book.m4a")
	if result.OutputPath != want {
		t.Fatalf("expected fallback output %s, got %s", want, result.OutputPath)
	}
	if result.Assembly.ChaptersEmbedded {
		t.Fatal("expected ChaptersEmbedded=false")
	}
	if result.Assembly.FallbackReason != "chapter metadata rejected" || result.Assembly.Diagnostics == "" {
		t.Fatalf("fallback reason not surfaced: %+v", result.Assembly)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("fallback output missing: %v", err)
	}
}

func TestRenderProgressETA(t *testing.T) {
	e := newEnv(t)
	var snaps []progress.Snapshot
	r := e.renderer(render.WithProgressFunc(func(s progress.Snapshot) { snaps = append(snaps, s) }))

	mustRender(t, r, testProject(4), testParams, e.root, e.options())

	if len(snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	first := snaps[0]
	if first.ETASeconds <= 0 || math.IsInf(first.ETASeconds, 0) || math.IsNaN(first.ETASeconds) {
		t.Fatalf("expected finite positive estimate before any sample, got %v", first.ETASeconds)
	}
	for i, s := range snaps {
		if s.ETASeconds < 0 || math.IsNaN(s.ETASeconds) || math.IsInf(s.ETASeconds, 0) {
			t.Fatalf("snapshot %d has invalid ETA %v", i, s.ETASeconds)
		}
		if i > 0 && s.Remaining > snaps[i-1].Remaining {
			t.Fatalf("remaining grew at snapshot %d", i)
		}
	}
	last := snaps[len(snaps)-1]
	if last.Remaining != 0 || last.ETASeconds != 0 || last.Rendered != 4 {
		t.Fatalf("unexpected final snapshot %+v", last)
	}
}

func TestRenderRejectsConcurrentRun(t *testing.T) {
	e := newEnv(t)
	lock, err := render.AcquireLock(e.root)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	_, err = e.renderer().Render(context.Background(), testProject(1), testParams, e.root, e.options())
	if !errors.Is(err, render.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if e.synth.totalCalls() != 0 {
		t.Fatal("no synthesis may happen while locked")
	}
}

func TestRenderCleanCache(t *testing.T) {
	e := newEnv(t)
	project := testProject(3)
	r := e.renderer()
	mustRender(t, r, project, testParams, e.root, e.options())

	opts := e.options()
	opts.CleanCache = true
	result := mustRender(t, r, project, testParams, e.root, opts)
	if result.Rendered != 3 || result.Cached != 0 {
		t.Fatalf("expected full re-render, rendered=%d cached=%d", result.Rendered, result.Cached)
	}
}

func TestRenderWithoutResumeRerendersEverything(t *testing.T) {
	e := newEnv(t)
	project := testProject(2)
	r := e.renderer()
	mustRender(t, r, project, testParams, e.root, e.options())

	opts := e.options()
	opts.Resume = false
	result := mustRender(t, r, project, testParams, e.root, opts)
	if result.Rendered != 2 || e.synth.totalCalls() != 4 {
		t.Fatalf("expected re-render of both chapters, rendered=%d calls=%d", result.Rendered, e.synth.totalCalls())
	}
	entry, _ := e.ledger().Get(0)
	if entry.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", entry.Attempts)
	}
}

func TestRenderStickyFailures(t *testing.T) {
	e := newEnv(t)
	project := testProject(3)
	r := e.renderer()
	e.synth.setFail(1, errors.New("flaky engine"))

	opts := e.options()
	opts.AllowPartial = true
	opts.RetryFailed = false
	if _, err := r.Render(context.Background(), project, testParams, e.root, opts); err != nil {
		t.Fatalf("first run: %v", err)
	}

	e.synth.setFail(1, nil)
	second := mustRender(t, r, project, testParams, e.root, opts)
	if e.synth.callCount(1) != 1 {
		t.Fatalf("sticky failure was retried: %d calls", e.synth.callCount(1))
	}
	if second.Failed != 1 || second.Chapters[1].State != render.StateFailed {
		t.Fatalf("expected chapter 1 still failed, got %+v", second.Chapters[1])
	}

	opts.RetryFailed = true
	third := mustRender(t, r, project, testParams, e.root, opts)
	if e.synth.callCount(1) != 2 || third.Failed != 0 {
		t.Fatalf("expected retry, calls=%d failed=%d", e.synth.callCount(1), third.Failed)
	}
}

func TestRenderStickyFailureAbortsWithoutPartial(t *testing.T) {
	e := newEnv(t)
	project := testProject(2)
	r := e.renderer()
	e.synth.setFail(0, errors.New("flaky engine"))
	opts := e.options()
	opts.RetryFailed = false
	if _, err := r.Render(context.Background(), project, testParams, e.root, opts); err == nil {
		t.Fatal("expected first run to fail")
	}

	e.synth.setFail(0, nil)
	_, err := r.Render(context.Background(), project, testParams, e.root, opts)
	if !errors.Is(err, render.ErrChapterFailed) {
		t.Fatalf("expected ErrChapterFailed, got %v", err)
	}
	if e.synth.callCount(0) != 1 || e.synth.callCount(1) != 0 {
		t.Fatalf("unexpected calls: %v", e.synth.calls)
	}
}

func TestRenderValidatesVoicesFirst(t *testing.T) {
	e := newEnv(t)
	synth := &checkingSynth{
		fakeSynth: e.synth,
		err:       services.Wrap(services.ErrConfiguration, "tts", "voices", "unknown voice \"bob\"", nil),
	}
	r := render.New(synth, e.muxer)

	_, err := r.Render(context.Background(), testProject(2), testParams, e.root, e.options())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if e.synth.totalCalls() != 0 {
		t.Fatal("no chapter may be synthesized after a voice check failure")
	}
	if !reflect.DeepEqual(synth.voices, []string{"amy", "bob"}) {
		t.Fatalf("unexpected voices checked %v", synth.voices)
	}
	report, ok, err := failure.Load(e.root)
	if err != nil || !ok {
		t.Fatalf("load report: ok=%v err=%v", ok, err)
	}
	if report.Stage != "voice_validation" || report.Error == "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRenderConfigurationErrorStopsPartialRun(t *testing.T) {
	e := newEnv(t)
	e.synth.setFail(0, services.Wrap(services.ErrConfiguration, "tts", "piper", "model missing", nil))
	opts := e.options()
	opts.AllowPartial = true

	_, err := e.renderer().Render(context.Background(), testProject(3), testParams, e.root, opts)
	if !errors.Is(err, render.ErrChapterFailed) || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected chapter failure wrapping a configuration error, got %v", err)
	}
	if e.synth.callCount(1) != 0 || e.synth.callCount(2) != 0 {
		t.Fatal("run must stop after a configuration error")
	}
}

func TestRenderContentErrorSkipsOnlyThatChapter(t *testing.T) {
	e := newEnv(t)
	e.synth.setFail(1, services.Wrap(services.ErrValidation, "tts", "synthesize", "chapter 1 produced no audio", nil))
	opts := e.options()
	opts.AllowPartial = true

	result, err := e.renderer().Render(context.Background(), testProject(3), testParams, e.root, opts)
	if err != nil {
		t.Fatalf("partial render should succeed: %v", err)
	}
	if e.synth.callCount(2) != 1 {
		t.Fatalf("chapter after the failed one was not rendered (calls=%d)", e.synth.callCount(2))
	}
	if got := result.Chapters[2].State; got != render.StateRendered {
		t.Fatalf("chapter 2 state %q, want rendered", got)
	}
	if !reflect.DeepEqual(result.Missing(), []int{1}) {
		t.Fatalf("expected chapter 1 missing, got %v", result.Missing())
	}
	if result.Assembly == nil || result.Assembly.OutputPath == "" {
		t.Fatal("expected partial output to be assembled")
	}
	if got := entryStatus(t, e.ledger(), 1); got != ledger.StatusFailed {
		t.Fatalf("chapter 1 status %q, want failed", got)
	}
}

func TestRenderStartChapter(t *testing.T) {
	t.Run("fresh cache leaves earlier chapters missing", func(t *testing.T) {
		e := newEnv(t)
		opts := e.options()
		opts.StartChapter = 1
		opts.AllowPartial = true

		result := mustRender(t, e.renderer(), testProject(3), testParams, e.root, opts)
		if e.synth.callCount(0) != 0 {
			t.Fatal("chapter before the start chapter was synthesized")
		}
		if result.Skipped != 1 || !reflect.DeepEqual(result.Missing(), []int{0}) {
			t.Fatalf("expected chapter 0 skipped and missing, got skipped=%d missing=%v", result.Skipped, result.Missing())
		}
	})

	t.Run("fresh cache without partial refuses assembly", func(t *testing.T) {
		e := newEnv(t)
		opts := e.options()
		opts.StartChapter = 1

		_, err := e.renderer().Render(context.Background(), testProject(3), testParams, e.root, opts)
		if !errors.Is(err, assembly.ErrIncomplete) {
			t.Fatalf("expected ErrIncomplete, got %v", err)
		}
		report, ok, _ := failure.Load(e.root)
		if !ok || report.Stage != "assembly" {
			t.Fatalf("expected assembly failure report, got ok=%v %+v", ok, report)
		}
	})

	t.Run("earlier chapters reuse cache even without resume", func(t *testing.T) {
		e := newEnv(t)
		project := testProject(3)
		r := e.renderer()
		mustRender(t, r, project, testParams, e.root, e.options())

		opts := e.options()
		opts.StartChapter = 2
		opts.Resume = false
		result := mustRender(t, r, project, testParams, e.root, opts)
		if result.Cached != 2 || result.Rendered != 1 {
			t.Fatalf("cached=%d rendered=%d", result.Cached, result.Rendered)
		}
		if e.synth.callCount(2) != 2 || e.synth.callCount(0) != 1 {
			t.Fatalf("unexpected calls %v", e.synth.calls)
		}
	})
}

func TestRenderSingleChapter(t *testing.T) {
	e := newEnv(t)
	only := 1
	opts := e.options()
	opts.OnlyChapter = &only
	opts.OutputPath = filepath.Join(t.TempDir(), "chapter.wav")

	result := mustRender(t, e.renderer(), testProject(3), testParams, e.root, opts)
	if e.muxer.calls != 0 {
		t.Fatal("single-chapter render must not assemble")
	}
	if e.synth.callCount(1) != 1 || e.synth.totalCalls() != 1 {
		t.Fatalf("unexpected calls %v", e.synth.calls)
	}
	if result.OutputPath != opts.OutputPath {
		t.Fatalf("unexpected output %s", result.OutputPath)
	}
	got, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := os.ReadFile(e.chapterFile(1))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, cached) {
		t.Fatal("exported chapter differs from cached audio")
	}
}

func TestRenderRejectsUnknownChapter(t *testing.T) {
	e := newEnv(t)
	missing := 7
	opts := e.options()
	opts.OnlyChapter = &missing
	_, err := e.renderer().Render(context.Background(), testProject(2), testParams, e.root, opts)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRenderRecoversFromCorruptLedger(t *testing.T) {
	e := newEnv(t)
	project := testProject(2)
	r := e.renderer()
	mustRender(t, r, project, testParams, e.root, e.options())

	if err := os.WriteFile(filepath.Join(e.root, ledger.FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := mustRender(t, r, project, testParams, e.root, e.options())
	if result.LedgerRecovered == "" {
		t.Fatal("expected recovery reason")
	}
	if result.Rendered != 2 {
		t.Fatalf("expected full re-render, got %d", result.Rendered)
	}
}

func TestRenderInterruptedLeavesLedgerConsistent(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.synth.hook = func(ctx context.Context, index int) error {
		if index == 1 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	_, err := e.renderer().Render(ctx, testProject(3), testParams, e.root, e.options())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	l := e.ledger()
	if got := entryStatus(t, l, 0); got != ledger.StatusOK {
		t.Fatalf("chapter 0 status %q, want ok", got)
	}
	if got := entryStatus(t, l, 1); got == ledger.StatusOK || got == ledger.StatusFailed {
		t.Fatalf("interrupted chapter recorded as %q", got)
	}
	if got := e.hist.runs[len(e.hist.runs)-1].Status; got != history.StatusInterrupted {
		t.Fatalf("history status %q, want interrupted", got)
	}

	e.synth.hook = nil
	result := mustRender(t, e.renderer(), testProject(3), testParams, e.root, e.options())
	if result.Cached != 1 || result.Rendered != 2 {
		t.Fatalf("resume after interrupt: cached=%d rendered=%d", result.Cached, result.Rendered)
	}
}

func TestRenderInterruptedKeepsReportOfEarlierFailures(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.synth.setFail(0, errors.New("voice server reset"))
	e.synth.hook = func(ctx context.Context, index int) error {
		if index == 2 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	opts := e.options()
	opts.AllowPartial = true

	result, err := e.renderer().Render(ctx, testProject(3), testParams, e.root, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result.ReportPath == "" {
		t.Fatal("expected a failure report for the chapter that failed before the interrupt")
	}
	report, found, err := failure.Load(e.root)
	if err != nil || !found {
		t.Fatalf("load report: found=%v err=%v", found, err)
	}
	if report.Stage != "interrupted" || len(report.Chapters) != 1 || report.Chapters[0].Index != 0 {
		t.Fatalf("unexpected report stage=%q chapters=%+v", report.Stage, report.Chapters)
	}
}

func TestRenderRecordsHistory(t *testing.T) {
	e := newEnv(t)
	e.hist.paces = map[string]float64{"amy": 12}
	mustRender(t, e.renderer(), testProject(2), testParams, e.root, e.options())

	if len(e.hist.runs) != 1 {
		t.Fatalf("expected one run recorded, got %d", len(e.hist.runs))
	}
	run := e.hist.runs[0]
	if run.Status != history.StatusSucceeded || run.Rendered != 2 || run.BookTitle != "The Test Book" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinishedAt.Before(run.StartedAt) || run.StartedAt.After(time.Now()) {
		t.Fatalf("unexpected run timestamps %+v", run)
	}
}

func TestRenderRequiresOutputPath(t *testing.T) {
	e := newEnv(t)
	opts := render.DefaultOptions()
	_, err := e.renderer().Render(context.Background(), testProject(1), testParams, e.root, opts)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := render.DefaultOptions()
	if !opts.Resume || opts.AllowPartial || opts.StartChapter != 0 || opts.OnlyChapter != nil {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestAcquireLockReleases(t *testing.T) {
	root := t.TempDir()
	lock, err := render.AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := render.AcquireLock(root); !errors.Is(err, render.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := render.AcquireLock(root)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
}
