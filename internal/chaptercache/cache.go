package chaptercache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"audiobooker/internal/fileutil"
	"audiobooker/internal/ledger"
)

const chaptersDir = "chapters"

// Validity is the outcome of checking a chapter's cached audio.
type Validity int

const (
	// Absent means nothing usable was ever recorded for the chapter.
	Absent Validity = iota
	// Stale means the ledger records audio that can no longer be trusted.
	Stale
	// Valid means the ledger and the file agree with the current fingerprint.
	Valid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Check describes a validity decision.
type Check struct {
	Validity Validity
	Reason   string
	// Inconsistent marks an ok entry whose file disagrees with the ledger, as
	// opposed to an ordinary fingerprint change.
	Inconsistent bool
}

// WriteResult describes audio stored for a chapter.
type WriteResult struct {
	Path      string
	RelPath   string
	SizeBytes int64
	SHA256    string
}

// Store is a directory of chapter audio files keyed by chapter index. A file
// is only trusted when the ledger entry for its index carries the current
// fingerprint.
type Store struct {
	root   string
	verify bool
	statfs func(string) (uint64, uint64, error)
}

// Option configures a Store.
type Option func(*Store)

// WithChecksumVerification re-hashes cached files during Check.
func WithChecksumVerification(enabled bool) Option {
	return func(s *Store) { s.verify = enabled }
}

// New returns a store rooted at root. The directory is created lazily.
func New(root string, opts ...Option) *Store {
	s := &Store{root: filepath.Clean(root), statfs: realStatfs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// RelPath returns the stable location of a chapter file relative to the root.
func (s *Store) RelPath(index int) string {
	return filepath.Join(chaptersDir, fmt.Sprintf("chapter_%04d.wav", index))
}

// ChapterPath returns the absolute location of a chapter file.
func (s *Store) ChapterPath(index int) string {
	return filepath.Join(s.root, s.RelPath(index))
}

// Resolve maps a ledger audio path to an absolute path, refusing anything
// that escapes the cache root.
func (s *Store) Resolve(audioPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", errors.New("empty audio path")
	}
	candidate := audioPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(s.root, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("audio path %q is outside cache root", audioPath)
	}
	return candidate, nil
}

// Check decides whether entry (if found) still vouches for valid audio under
// fingerprint. Neither the ledger nor the filesystem is trusted alone.
func (s *Store) Check(entry ledger.Entry, found bool, fingerprint string) Check {
	if !found {
		return Check{Validity: Absent, Reason: "no ledger entry"}
	}
	if entry.Status != ledger.StatusOK {
		return Check{Validity: Absent, Reason: "status " + string(entry.Status)}
	}
	if entry.Fingerprint != fingerprint {
		return Check{Validity: Stale, Reason: "fingerprint changed"}
	}

	inconsistent := func(reason string) Check {
		return Check{Validity: Stale, Reason: reason, Inconsistent: true}
	}
	path, err := s.Resolve(entry.AudioPath)
	if err != nil {
		return inconsistent(err.Error())
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return inconsistent("audio file missing")
		}
		return inconsistent("stat audio: " + err.Error())
	}
	if !info.Mode().IsRegular() {
		return inconsistent("audio path is not a regular file")
	}
	if info.Size() == 0 {
		return inconsistent("audio file is empty")
	}
	if entry.SizeBytes > 0 && info.Size() != entry.SizeBytes {
		return inconsistent(fmt.Sprintf("audio size %d does not match recorded %d", info.Size(), entry.SizeBytes))
	}
	if s.verify && entry.SHA256 != "" {
		sum, _, err := fileutil.HashFile(path)
		if err != nil {
			return inconsistent("hash audio: " + err.Error())
		}
		if sum != entry.SHA256 {
			return inconsistent("audio checksum mismatch")
		}
	}
	return Check{Validity: Valid}
}

// Getter is the read side of the ledger.
type Getter interface {
	Get(index int) (ledger.Entry, bool)
}

// Has reports whether valid audio exists for index under fingerprint.
func (s *Store) Has(l Getter, index int, fingerprint string) bool {
	entry, found := l.Get(index)
	return s.Check(entry, found, fingerprint).Validity == Valid
}

// Read returns the stored audio for index. The boolean is false when no file
// exists.
func (s *Store) Read(index int) ([]byte, bool, error) {
	data, err := os.ReadFile(s.ChapterPath(index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read chapter %d: %w", index, err)
	}
	return data, true, nil
}

// Write stores audio for index atomically. The caller records the result in
// the ledger only after Write returns, so a crash never leaves an ok entry
// pointing at a partial file.
func (s *Store) Write(index int, audio []byte) (WriteResult, error) {
	if len(audio) == 0 {
		return WriteResult{}, fmt.Errorf("chapter %d: refusing to cache empty audio", index)
	}
	path := s.ChapterPath(index)
	if err := fileutil.WriteFileAtomic(path, audio, 0o644); err != nil {
		return WriteResult{}, fmt.Errorf("cache chapter %d: %w", index, err)
	}
	return WriteResult{
		Path:      path,
		RelPath:   s.RelPath(index),
		SizeBytes: int64(len(audio)),
		SHA256:    fileutil.HashBytes(audio),
	}, nil
}

// Remove deletes the file for index if present.
func (s *Store) Remove(index int) error {
	if err := os.Remove(s.ChapterPath(index)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove chapter %d: %w", index, err)
	}
	return nil
}

// Clear deletes every cached chapter file.
func (s *Store) Clear() error {
	if err := os.RemoveAll(filepath.Join(s.root, chaptersDir)); err != nil {
		return fmt.Errorf("clear chapter cache: %w", err)
	}
	return nil
}
