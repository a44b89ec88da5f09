package fingerprint_test

import (
	"testing"

	"audiobooker/internal/book"
	"audiobooker/internal/fingerprint"
)

func baseChapter() book.Chapter {
	return book.Chapter{
		Index: 3,
		Title: "Harbor",
		Utterances: []book.Utterance{
			{Speaker: "narrator", Text: "The boats came in.\nGulls followed.", Kind: book.KindNarration, Voice: "alan"},
			{Speaker: "Tom", Text: "Caf\u00e9's open!", Kind: book.KindDialogue, Voice: "ryan", Emotion: "happy"},
		},
	}
}

func baseParams() book.RenderParams {
	return book.RenderParams{SampleRate: 24000, Bitrate: "128k", Codec: "aac", NarratorPauseMS: 600, DialoguePauseMS: 400}
}

func TestComputeIsDeterministic(t *testing.T) {
	a := fingerprint.Compute(baseChapter(), baseParams())
	b := fingerprint.Compute(baseChapter(), baseParams())
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestComputeSensitivity(t *testing.T) {
	base := fingerprint.Compute(baseChapter(), baseParams())

	tests := []struct {
		name    string
		chapter func(*book.Chapter)
		params  func(*book.RenderParams)
	}{
		{name: "voice", chapter: func(c *book.Chapter) { c.Utterances[1].Voice = "amy" }},
		{name: "emotion", chapter: func(c *book.Chapter) { c.Utterances[1].Emotion = "sad" }},
		{name: "emotion cleared", chapter: func(c *book.Chapter) { c.Utterances[1].Emotion = "" }},
		{name: "text", chapter: func(c *book.Chapter) { c.Utterances[0].Text = "The ships came in.\nGulls followed." }},
		{name: "kind", chapter: func(c *book.Chapter) { c.Utterances[1].Kind = book.KindNarration }},
		{name: "order", chapter: func(c *book.Chapter) {
			c.Utterances[0], c.Utterances[1] = c.Utterances[1], c.Utterances[0]
		}},
		{name: "dropped utterance", chapter: func(c *book.Chapter) { c.Utterances = c.Utterances[:1] }},
		{name: "sample rate", params: func(p *book.RenderParams) { p.SampleRate = 44100 }},
		{name: "bitrate", params: func(p *book.RenderParams) { p.Bitrate = "64k" }},
		{name: "codec", params: func(p *book.RenderParams) { p.Codec = "opus" }},
		{name: "narrator pause", params: func(p *book.RenderParams) { p.NarratorPauseMS = 601 }},
		{name: "dialogue pause", params: func(p *book.RenderParams) { p.DialoguePauseMS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := baseChapter()
			params := baseParams()
			if tt.chapter != nil {
				tt.chapter(&ch)
			}
			if tt.params != nil {
				tt.params(&params)
			}
			if got := fingerprint.Compute(ch, params); got == base {
				t.Fatalf("expected fingerprint to change for %s", tt.name)
			}
		})
	}
}

func TestComputeIgnoresDisplayMetadata(t *testing.T) {
	base := fingerprint.Compute(baseChapter(), baseParams())

	ch := baseChapter()
	ch.Title = "A Different Title"
	ch.Utterances[1].Speaker = "Thomas"
	ch.Utterances[0].Position = 9
	if got := fingerprint.Compute(ch, baseParams()); got != base {
		t.Fatal("display-only fields must not change the fingerprint")
	}
}

func TestComputeNormalizesText(t *testing.T) {
	base := fingerprint.Compute(baseChapter(), baseParams())

	ch := baseChapter()
	ch.Utterances[0].Text = "The boats came in.\r\nGulls followed."
	ch.Utterances[1].Text = "Cafe\u0301's open!"
	if got := fingerprint.Compute(ch, baseParams()); got != base {
		t.Fatal("CRLF and decomposed accents should hash like their normalized forms")
	}
}

func TestFieldBoundariesAreUnambiguous(t *testing.T) {
	a := book.Chapter{Utterances: []book.Utterance{{Text: "ab", Voice: "c"}}}
	b := book.Chapter{Utterances: []book.Utterance{{Text: "a", Voice: "bc"}}}
	if fingerprint.Compute(a, baseParams()) == fingerprint.Compute(b, baseParams()) {
		t.Fatal("shifting bytes between fields must change the fingerprint")
	}
}
