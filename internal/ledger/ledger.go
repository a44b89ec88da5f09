package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"audiobooker/internal/fileutil"
	"audiobooker/internal/logging"
)

const (
	// SchemaVersion is written into every ledger document. Documents with a
	// newer version are ignored rather than misread.
	SchemaVersion = 1
	// FileName is the ledger document name inside the cache root.
	FileName = "ledger.json"
)

// Status is the durable render state of one chapter.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// Entry records the render state of one chapter.
type Entry struct {
	Index           int       `json:"index"`
	Title           string    `json:"title,omitempty"`
	Fingerprint     string    `json:"fingerprint"`
	Status          Status    `json:"status"`
	AudioPath       string    `json:"audio_path,omitempty"` // relative to the cache root
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	SHA256          string    `json:"sha256,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Attempts        int       `json:"attempts,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type document struct {
	SchemaVersion int       `json:"schema_version"`
	BookTitle     string    `json:"book_title,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
	Chapters      []Entry   `json:"chapters"`
}

// Ledger is the durable per-chapter render record for one project. Reads are
// safe from any goroutine; a render run routes every mutation through a
// single owner.
type Ledger struct {
	path      string
	logger    *slog.Logger
	mu        sync.RWMutex
	bookTitle string
	updated   time.Time
	entries   map[int]Entry
	recovered string
	now       func() time.Time
}

// Open loads the ledger at path. A missing file yields an empty ledger. An
// unreadable, corrupt, or newer-version document also yields an empty ledger;
// the reason is logged and available from Recovered.
func Open(path string, logger *slog.Logger) *Ledger {
	logger = logging.NewComponentLogger(logger, "ledger")
	l := &Ledger{
		path:    path,
		logger:  logger,
		entries: make(map[int]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := l.load(); err != nil {
		l.entries = make(map[int]Entry)
		l.bookTitle = ""
		l.recovered = err.Error()
		logging.WarnWithContext(logger, "ledger unreadable; starting empty", "ledger_recovered",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "chapter audio stays on disk; run 'audiobooker cache clear' to discard it"),
			logging.String(logging.FieldImpact, "all chapters will be re-synthesized"),
		)
	}
	return l
}

// Path returns the ledger document location.
func (l *Ledger) Path() string { return l.path }

// Recovered returns the reason the on-disk ledger was discarded, or "".
func (l *Ledger) Recovered() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recovered
}

// Get returns the entry for a chapter index.
func (l *Ledger) Get(index int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[index]
	return entry, ok
}

// Put records an entry in memory. Call Flush to persist it.
func (l *Ledger) Put(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = l.now()
	}
	l.entries[entry.Index] = entry
}

// Delete removes the entry for index from memory.
func (l *Ledger) Delete(index int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, index)
}

// Entries returns all entries sorted by chapter index.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked()
}

// Len returns the number of recorded chapters.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// SetBookTitle records the project title shown by cache status.
func (l *Ledger) SetBookTitle(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bookTitle = title
}

// BookTitle returns the recorded project title.
func (l *Ledger) BookTitle() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bookTitle
}

// LastUpdated returns the time of the last successful flush (or load).
func (l *Ledger) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updated
}

// Reset drops every entry and persists the empty ledger.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	l.entries = make(map[int]Entry)
	l.mu.Unlock()
	return l.Flush()
}

// Flush writes the ledger atomically: the document on disk is either the
// previous version or this one.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := l.now()
	doc := document{
		SchemaVersion: SchemaVersion,
		BookTitle:     l.bookTitle,
		LastUpdated:   updated,
		Chapters:      l.sortedLocked(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := fileutil.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	l.updated = updated
	return nil
}

func (l *Ledger) sortedLocked() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		return errors.New("ledger file is empty")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse ledger: %w", err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported version %d", doc.SchemaVersion, SchemaVersion)
	}
	if doc.SchemaVersion < 1 {
		return fmt.Errorf("ledger schema version %d is invalid", doc.SchemaVersion)
	}

	for _, entry := range doc.Chapters {
		if entry.Index < 0 {
			continue
		}
		switch entry.Status {
		case StatusPending, StatusOK, StatusFailed:
		default:
			entry.Status = StatusPending
		}
		l.entries[entry.Index] = entry
	}
	l.bookTitle = doc.BookTitle
	l.updated = doc.LastUpdated

	l.logger.Debug("loaded ledger",
		logging.Int("entry_count", len(l.entries)),
		logging.String("path", l.path))
	return nil
}
