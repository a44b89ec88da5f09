package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// Filter reports whether a log line should be shown. A nil Filter keeps every
// line.
type Filter func(line string) bool

// RunFilter keeps lines that mention runID, in either the console or the
// JSON log format.
func RunFilter(runID string) Filter {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil
	}
	return func(line string) bool { return strings.Contains(line, runID) }
}

// Last returns up to limit matching lines from the end of the file at path
// and the offset just past them. A missing file yields no lines.
func Last(path string, limit int, keep Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	offset, err := scanLines(file, 0, func(line string) {
		if keep != nil && !keep(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// Follow emits matching lines appended after offset until ctx ends. When the
// file shrinks below offset it was rotated, and reading restarts at the top
// of the new file.
func Follow(ctx context.Context, path string, offset int64, keep Filter, emit func(string)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, keep, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, keep Filter, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}
	return scanLines(file, offset, func(line string) {
		if keep == nil || keep(line) {
			emit(line)
		}
	})
}

// scanLines calls fn for every complete line after offset and returns the
// offset just past the last one. A trailing partial line is left for the
// next read.
func scanLines(file *os.File, offset int64, fn func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}
