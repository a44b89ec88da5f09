package ledger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audiobooker/internal/ledger"
)

func TestPutFlushReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ledger.FileName)

	l := ledger.Open(path, nil)
	l.SetBookTitle("The Lighthouse")
	l.Put(ledger.Entry{Index: 1, Fingerprint: "fp1", Status: ledger.StatusOK, AudioPath: "chapters/chapter_0001.wav", DurationSeconds: 12.5, SizeBytes: 44})
	l.Put(ledger.Entry{Index: 0, Fingerprint: "fp0", Status: ledger.StatusFailed, LastError: "piper exited 1", ErrorKind: "transient"})
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded := ledger.Open(path, nil)
	if reloaded.Recovered() != "" {
		t.Fatalf("unexpected recovery: %s", reloaded.Recovered())
	}
	if reloaded.BookTitle() != "The Lighthouse" {
		t.Errorf("BookTitle mismatch: got %q", reloaded.BookTitle())
	}
	if reloaded.LastUpdated().IsZero() {
		t.Error("expected last_updated to be persisted")
	}

	entries := reloaded.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries length mismatch: got %d, want 2", len(entries))
	}
	if entries[0].Index != 0 || entries[1].Index != 1 {
		t.Fatalf("entries not sorted by index: %+v", entries)
	}
	got, ok := reloaded.Get(1)
	if !ok {
		t.Fatal("Get failed to find stored entry")
	}
	if got.Fingerprint != "fp1" || got.Status != ledger.StatusOK || got.DurationSeconds != 12.5 {
		t.Errorf("entry mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
	failed, _ := reloaded.Get(0)
	if failed.LastError != "piper exited 1" || failed.ErrorKind != "transient" {
		t.Errorf("failed entry mismatch: %+v", failed)
	}
}

func TestUnflushedPutIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FileName)
	l := ledger.Open(path, nil)
	l.Put(ledger.Entry{Index: 0, Fingerprint: "fp", Status: ledger.StatusOK})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no ledger file before Flush, stat err = %v", err)
	}
	if _, ok := ledger.Open(path, nil).Get(0); ok {
		t.Fatal("unflushed entry visible after reopen")
	}
}

func TestCorruptLedgerDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"garbage", "{not json", "parse"},
		{"empty", "", "empty"},
		{"newer schema", `{"schema_version": 99, "chapters": [{"index": 0, "status": "ok"}]}`, "newer"},
		{"missing schema", `{"chapters": [{"index": 0, "status": "ok"}]}`, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ledger.FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			l := ledger.Open(path, nil)
			if l.Len() != 0 {
				t.Fatalf("expected empty ledger, got %d entries", l.Len())
			}
			if !strings.Contains(l.Recovered(), tt.reason) {
				t.Fatalf("Recovered() = %q, want mention of %q", l.Recovered(), tt.reason)
			}

			// The damaged ledger is replaced on the next flush.
			l.Put(ledger.Entry{Index: 0, Fingerprint: "fp", Status: ledger.StatusPending})
			if err := l.Flush(); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}
			if ledger.Open(path, nil).Recovered() != "" {
				t.Fatal("expected rewritten ledger to load cleanly")
			}
		})
	}
}

func TestUnknownStatusLoadsAsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FileName)
	doc := `{"schema_version": 1, "chapters": [{"index": 2, "fingerprint": "x", "status": "rendering"}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	entry, ok := ledger.Open(path, nil).Get(2)
	if !ok || entry.Status != ledger.StatusPending {
		t.Fatalf("expected pending entry, got %+v (found=%v)", entry, ok)
	}
}

func TestResetPersistsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FileName)
	l := ledger.Open(path, nil)
	l.Put(ledger.Entry{Index: 0, Fingerprint: "fp", Status: ledger.StatusOK})
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if ledger.Open(path, nil).Len() != 0 {
		t.Fatal("expected empty ledger after reset")
	}
}

func TestFlushWritesVersionedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ledger.FileName)
	l := ledger.Open(path, nil)
	l.Put(ledger.Entry{Index: 0, Fingerprint: "fp", Status: ledger.StatusOK})
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("ledger is not valid json: %v", err)
	}
	if raw["schema_version"] != float64(ledger.SchemaVersion) {
		t.Fatalf("schema_version = %v", raw["schema_version"])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != ledger.FileName {
			t.Fatalf("unexpected file left in cache root: %s", e.Name())
		}
	}
}
