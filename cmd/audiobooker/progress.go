package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"audiobooker/internal/progress"
)

// progressPrinter shows render progress on stderr. Terminals get a single
// line redrawn in place; other writers get one line per finished chapter.
type progressPrinter struct {
	out      io.Writer
	terminal bool
	lastDone int
	width    int
	drawn    bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, terminal: isTerminal(out), lastDone: -1}
}

func (p *progressPrinter) update(snap progress.Snapshot) {
	line := formatProgress(snap)
	if p.terminal {
		pad := ""
		if n := p.width - len(line); n > 0 {
			pad = strings.Repeat(" ", n)
		}
		fmt.Fprintf(p.out, "\r%s%s", line, pad)
		p.width = len(line)
		p.drawn = true
		return
	}
	if done := snap.Done(); done != p.lastDone {
		p.lastDone = done
		fmt.Fprintln(p.out, line)
	}
}

func (p *progressPrinter) finish() {
	if p.terminal && p.drawn {
		fmt.Fprintln(p.out)
	}
}

func formatProgress(snap progress.Snapshot) string {
	line := fmt.Sprintf("[%d/%d] %5.1f%%  rendered %d  cached %d  failed %d",
		snap.Done(), snap.Total, snap.Percent, snap.Rendered, snap.Cached, snap.Failed)
	if snap.Skipped > 0 {
		line += fmt.Sprintf("  skipped %d", snap.Skipped)
	}
	if snap.Remaining > 0 {
		line += "  eta " + formatSeconds(snap.ETASeconds)
	}
	return line
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
