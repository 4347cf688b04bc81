// ghostline/transcript.go
// Persistent history of prompt/completion round trips, backed by bbolt.
package ghostline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var transcriptBucketName = []byte("TranscriptV1")

// transcriptMaxEntries bounds the stored history; older entries are pruned on
// insert.
const transcriptMaxEntries = 200

// TranscriptEntry is one recorded provider round trip.
type TranscriptEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Prompt      string    `json:"prompt"`
	Completion  string    `json:"completion"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptStore records completed requests so the prompt and response of
// recent completions can be inspected after the fact. Entries are keyed by a
// monotonically increasing sequence number. Safe for concurrent use; bbolt
// serializes writers.
type TranscriptStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenTranscriptStore opens (or creates) the transcript database at path.
func OpenTranscriptStore(path string, logger *slog.Logger) (*TranscriptStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storeLogger := logger.With("component", "transcript")

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: creating transcript directory failed: %w", ErrTranscript, err)
	}

	opts := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening transcript database failed: %w", ErrTranscript, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(transcriptBucketName)
		if berr != nil {
			return fmt.Errorf("failed to create transcript bucket %s: %w", string(transcriptBucketName), berr)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrTranscript, err)
	}

	storeLogger.Info("Using bbolt transcript store", "path", path)
	return &TranscriptStore{db: db, logger: storeLogger}, nil
}

// Record appends an entry and prunes the oldest entries beyond the bound.
func (ts *TranscriptStore) Record(entry TranscriptEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding transcript entry failed: %w", ErrTranscript, err)
	}
	err = ts.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transcriptBucketName)
		if b == nil {
			return fmt.Errorf("transcript bucket %s disappeared", string(transcriptBucketName))
		}
		seq, seqErr := b.NextSequence()
		if seqErr != nil {
			return fmt.Errorf("allocating transcript sequence failed: %w", seqErr)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if putErr := b.Put(key, data); putErr != nil {
			return fmt.Errorf("writing transcript entry failed: %w", putErr)
		}

		// Prune oldest entries beyond the bound.
		count := 0
		if countErr := b.ForEach(func(_, _ []byte) error { count++; return nil }); countErr != nil {
			return fmt.Errorf("counting transcript entries failed: %w", countErr)
		}
		excess := count - transcriptMaxEntries
		if excess > 0 {
			cur := b.Cursor()
			for k, _ := cur.First(); k != nil && excess > 0; k, _ = cur.Next() {
				if delErr := cur.Delete(); delErr != nil {
					return fmt.Errorf("pruning transcript entry failed: %w", delErr)
				}
				excess--
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	ts.logger.Debug("Recorded transcript entry", "fingerprint_len", len(entry.Fingerprint), "completion_len", len(entry.Completion))
	return nil
}

// Recent returns up to n entries, newest first.
func (ts *TranscriptStore) Recent(n int) ([]TranscriptEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	var entries []TranscriptEntry
	err := ts.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transcriptBucketName)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		for k, v := cur.Last(); k != nil && len(entries) < n; k, v = cur.Prev() {
			var entry TranscriptEntry
			if decErr := json.Unmarshal(v, &entry); decErr != nil {
				ts.logger.Warn("Skipping undecodable transcript entry", "error", decErr)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	return entries, nil
}

// Len returns the number of stored entries.
func (ts *TranscriptStore) Len() (int, error) {
	count := 0
	err := ts.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(transcriptBucketName); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	return count, nil
}

// Close releases the underlying database.
func (ts *TranscriptStore) Close() error {
	ts.logger.Info("Closing transcript store.")
	if err := ts.db.Close(); err != nil {
		return fmt.Errorf("%w: closing transcript database failed: %w", ErrTranscript, err)
	}
	return nil
}
