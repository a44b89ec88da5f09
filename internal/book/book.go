package book

import (
	"strconv"
	"strings"
)

// Kind distinguishes narration from quoted dialogue.
type Kind string

const (
	KindNarration Kind = "narration"
	KindDialogue  Kind = "dialogue"
)

// Utterance is one speakable unit with its voice already resolved.
type Utterance struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text" validate:"required"`
	Kind     Kind   `json:"kind" validate:"oneof=narration dialogue"`
	Voice    string `json:"voice" validate:"required"`
	Emotion  string `json:"emotion,omitempty"`
	Position int    `json:"position" validate:"gte=0"`
}

// Chapter is an ordered block of utterances. Title is display metadata only.
type Chapter struct {
	Index      int         `json:"index" validate:"gte=0"`
	Title      string      `json:"title"`
	Utterances []Utterance `json:"utterances" validate:"required,min=1,dive"`
}

// DisplayTitle returns the title or a numbered placeholder.
func (c Chapter) DisplayTitle() string {
	if title := strings.TrimSpace(c.Title); title != "" {
		return title
	}
	return "Chapter " + strconv.Itoa(c.Index+1)
}

// WordCount counts whitespace-separated words across all utterances.
func (c Chapter) WordCount() int {
	total := 0
	for _, u := range c.Utterances {
		total += len(strings.Fields(u.Text))
	}
	return total
}

// PrimaryVoice returns the voice that speaks the most words in the chapter.
// Ties resolve to the voice that appears first.
func (c Chapter) PrimaryVoice() string {
	counts := make(map[string]int)
	order := make([]string, 0, 4)
	for _, u := range c.Utterances {
		if _, ok := counts[u.Voice]; !ok {
			order = append(order, u.Voice)
		}
		counts[u.Voice] += len(strings.Fields(u.Text))
	}
	best := ""
	bestCount := -1
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

// Voices returns the distinct voices in first-use order.
func (c Chapter) Voices() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range c.Utterances {
		if _, ok := seen[u.Voice]; ok {
			continue
		}
		seen[u.Voice] = struct{}{}
		out = append(out, u.Voice)
	}
	return out
}

// Project is a compiled book ready to render.
type Project struct {
	Title    string    `json:"title" validate:"required"`
	Author   string    `json:"author,omitempty"`
	Language string    `json:"language,omitempty"`
	Chapters []Chapter `json:"chapters" validate:"required,min=1,dive"`
}

// Chapter returns the chapter with the given index.
func (p *Project) Chapter(index int) (Chapter, bool) {
	for _, ch := range p.Chapters {
		if ch.Index == index {
			return ch, true
		}
	}
	return Chapter{}, false
}

// Voices returns every distinct voice used by the project.
func (p *Project) Voices() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ch := range p.Chapters {
		for _, v := range ch.Voices() {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// RenderParams holds every audio parameter that changes synthesized output.
// Assembly-only settings (chapter gap, container) are not part of it.
type RenderParams struct {
	SampleRate      int    `json:"sample_rate"`
	Bitrate         string `json:"bitrate"`
	Codec           string `json:"codec"`
	NarratorPauseMS int    `json:"narrator_pause_ms"`
	DialoguePauseMS int    `json:"dialogue_pause_ms"`
}

// PauseAfter returns the silence in milliseconds that follows an utterance
// of the given kind.
func (p RenderParams) PauseAfter(kind Kind) int {
	if kind == KindDialogue {
		return p.DialoguePauseMS
	}
	return p.NarratorPauseMS
}
