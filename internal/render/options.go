package render

import (
	"fmt"
	"strings"

	"audiobooker/internal/services"
)

// Options is the invocation bundle accepted by Render. Use DefaultOptions as
// the starting point: resume on, partial assembly off, start at chapter 0.
type Options struct {
	// Resume reuses chapters whose cached audio is still valid. When false
	// every selected chapter is synthesized again.
	Resume bool
	// StartChapter skips synthesis of chapters with a lower index. Their
	// valid cached audio is still assembled.
	StartChapter int
	// OnlyChapter renders a single chapter and copies its audio to
	// OutputPath instead of assembling the book.
	OnlyChapter *int
	// AllowPartial keeps rendering after a chapter fails and assembles the
	// chapters that are available.
	AllowPartial bool
	// CleanCache discards every cached chapter, the ledger and any failure
	// report before starting.
	CleanCache bool
	// RetryFailed re-synthesizes chapters that failed in an earlier run even
	// when their fingerprint is unchanged.
	RetryFailed bool
	// Workers bounds concurrent synthesis calls.
	Workers int
	// OutputPath is the assembled book, or the copied chapter audio in
	// single-chapter mode.
	OutputPath string
	// VerifyChecksums re-hashes cached files before trusting them.
	VerifyChecksums bool
	// ValidateVoices asks the synthesizer to confirm every voice before the
	// first chapter is rendered.
	ValidateVoices bool
	// GapMS is the silence inserted between chapters during assembly.
	GapMS int
	// Title and Author override the project metadata written to the output.
	Title  string
	Author string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Resume:         true,
		StartChapter:   0,
		AllowPartial:   false,
		RetryFailed:    true,
		Workers:        1,
		ValidateVoices: true,
	}
}

func (o Options) normalized() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.GapMS < 0 {
		o.GapMS = 0
	}
	o.OutputPath = strings.TrimSpace(o.OutputPath)
	return o
}

func (o Options) validate() error {
	if o.StartChapter < 0 {
		return services.Wrap(services.ErrValidation, "render", "options", fmt.Sprintf("start chapter %d is negative", o.StartChapter), nil)
	}
	if o.OnlyChapter != nil && *o.OnlyChapter < 0 {
		return services.Wrap(services.ErrValidation, "render", "options", fmt.Sprintf("chapter %d is negative", *o.OnlyChapter), nil)
	}
	if o.OutputPath == "" {
		return services.Wrap(services.ErrValidation, "render", "options", "output path is required", nil)
	}
	return nil
}
