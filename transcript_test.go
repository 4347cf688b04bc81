// ghostline/transcript_test.go
package ghostline

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func setupTestTranscript(t *testing.T) *TranscriptStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript", "transcript.db")
	ts, err := OpenTranscriptStore(path, nil)
	if err != nil {
		t.Fatalf("OpenTranscriptStore failed: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Close(); err != nil {
			t.Errorf("Error closing transcript store: %v", err)
		}
	})
	return ts
}

func TestTranscriptStore_RecordAndRecent(t *testing.T) {
	ts := setupTestTranscript(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := ts.Record(TranscriptEntry{
			Fingerprint: fmt.Sprintf("fp-%d", i),
			Prompt:      fmt.Sprintf("prompt-%d", i),
			Completion:  fmt.Sprintf("completion-%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record(%d) failed: %v", i, err)
		}
	}

	count, err := ts.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Len() = %d, want 5", count)
	}

	entries, err := ts.Recent(3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent(3) returned %d entries", len(entries))
	}
	// Newest first.
	for i, want := range []string{"fp-4", "fp-3", "fp-2"} {
		if entries[i].Fingerprint != want {
			t.Errorf("Recent[%d].Fingerprint = %q, want %q", i, entries[i].Fingerprint, want)
		}
	}
	if entries[0].Completion != "completion-4" {
		t.Errorf("Recent[0].Completion = %q, want %q", entries[0].Completion, "completion-4")
	}

	// Asking for more than exists returns everything.
	all, err := ts.Recent(100)
	if err != nil {
		t.Fatalf("Recent(100) failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Recent(100) returned %d entries, want 5", len(all))
	}
}

func TestTranscriptStore_Prune(t *testing.T) {
	ts := setupTestTranscript(t)

	total := transcriptMaxEntries + 17
	for i := 0; i < total; i++ {
		err := ts.Record(TranscriptEntry{
			Fingerprint: fmt.Sprintf("fp-%d", i),
			Completion:  "x",
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("Record(%d) failed: %v", i, err)
		}
	}

	count, err := ts.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if count != transcriptMaxEntries {
		t.Errorf("Len() = %d after prune, want %d", count, transcriptMaxEntries)
	}

	// The oldest entries are gone, the newest survive.
	entries, err := ts.Recent(transcriptMaxEntries)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != transcriptMaxEntries {
		t.Fatalf("Recent returned %d entries, want %d", len(entries), transcriptMaxEntries)
	}
	if entries[0].Fingerprint != fmt.Sprintf("fp-%d", total-1) {
		t.Errorf("newest entry = %q, want fp-%d", entries[0].Fingerprint, total-1)
	}
	oldest := entries[len(entries)-1].Fingerprint
	if oldest != fmt.Sprintf("fp-%d", total-transcriptMaxEntries) {
		t.Errorf("oldest surviving entry = %q, want fp-%d", oldest, total-transcriptMaxEntries)
	}
}

func TestTranscriptStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.db")

	ts, err := OpenTranscriptStore(path, nil)
	if err != nil {
		t.Fatalf("OpenTranscriptStore failed: %v", err)
	}
	if err := ts.Record(TranscriptEntry{Fingerprint: "persisted", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := ts.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenTranscriptStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	entries, err := reopened.Recent(1)
	if err != nil {
		t.Fatalf("Recent after reopen failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Fingerprint != "persisted" {
		t.Errorf("entry did not survive reopen: %+v", entries)
	}
}
