// ghostline/cache.go
// Bounded FIFO cache mapping context fingerprints to previously seen completions.
package ghostline

import (
	"log/slog"
	"strings"
)

// ResultCache maps a context fingerprint to a raw completion. Eviction is
// strictly FIFO by insertion order: when full, the oldest-inserted key is
// removed regardless of how recently it was read. Lookups never refresh
// recency. The cache is private to one running session; nothing persists.
//
// Not safe for concurrent use; owned by the Engine on the owning goroutine.
type ResultCache struct {
	capacity int
	entries  map[string]string
	order    []string // Insertion order, oldest first.
	logger   *slog.Logger
}

// NewResultCache returns an empty cache bounded to capacity entries.
func NewResultCache(capacity int, logger *slog.Logger) *ResultCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
		logger:   logger,
	}
}

// Get returns the cached completion for fingerprint, if present.
func (c *ResultCache) Get(fingerprint string) (string, bool) {
	text, ok := c.entries[fingerprint]
	return text, ok
}

// Put stores text under fingerprint, evicting the oldest-inserted entry if
// the cache is at capacity. Overwriting an existing key keeps its original
// insertion slot.
func (c *ResultCache) Put(fingerprint, text string) {
	if _, exists := c.entries[fingerprint]; exists {
		c.entries[fingerprint] = text
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.Debug("Result cache evicted oldest entry.", "evicted_key_len", len(oldest), "capacity", c.capacity)
	}
	c.entries[fingerprint] = text
	c.order = append(c.order, fingerprint)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	return len(c.entries)
}

// Fingerprint derives the cache key for a context window: the last
// fingerprintBeforeChars of the before-context, the current line prefix, and
// the first fingerprintAfterChars of the after-context, with all spaces and
// newlines stripped. It is a heuristic, not a semantic hash; distinct windows
// beyond the truncation bounds may collide, and that is accepted behavior.
func Fingerprint(w ContextWindow) string {
	before := w.Before
	if len(before) > fingerprintBeforeChars {
		before = before[len(before)-fingerprintBeforeChars:]
	}
	after := w.After
	if len(after) > fingerprintAfterChars {
		after = after[:fingerprintAfterChars]
	}
	combined := before + w.CurrentLinePrefix + after
	combined = strings.ReplaceAll(combined, " ", "")
	return strings.ReplaceAll(combined, "\n", "")
}
