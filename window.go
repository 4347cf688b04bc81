// ghostline/window.go
// Extracts the bounded context window around the cursor that completion
// requests are built from.
package ghostline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const windowMemoTTL = 30 * time.Second

// ContextWindower walks the document around the cursor and produces a
// ContextWindow: up to maxBeforeLines non-blank lines above, the current line
// prefix, and up to maxAfterLines non-blank lines below. Given identical
// document state and cursor position the output is byte-identical.
//
// A ristretto cache memoizes extraction keyed on document version and cursor,
// so repeated triggers on an unchanged document skip the line walk. Overlay
// state is not part of the key, so extraction with an active suggestion
// bypasses the memo entirely.
type ContextWindower struct {
	memo   *ristretto.Cache
	logger *slog.Logger
}

// NewContextWindower returns a windower. If the memo cache cannot be created,
// extraction still works, just uncached.
func NewContextWindower(logger *slog.Logger) *ContextWindower {
	if logger == nil {
		logger = slog.Default()
	}
	windowLogger := logger.With("component", "windower")
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 22, // 4MB of cached windows is plenty.
		BufferItems: 64,
	})
	if err != nil {
		windowLogger.Warn("Failed to create window memo cache, memoization disabled.", "error", err)
		memo = nil
	}
	return &ContextWindower{memo: memo, logger: windowLogger}
}

// Extract builds the context window for cursor. If active is non-nil and
// anchored on the cursor's line, the current line prefix stops at the anchor
// column so the virtual overlay text never leaks into context.
func (cw *ContextWindower) Extract(doc TextSurface, cursor Position, active *ActiveSuggestion) ContextWindow {
	if cw.memo != nil && active == nil {
		key := fmt.Sprintf("window:%d:%d:%d", doc.Version(), cursor.Line, cursor.Col)
		if cached, found := cw.memo.Get(key); found {
			if w, ok := cached.(ContextWindow); ok {
				cw.logger.Debug("Window memo hit.", "key", key)
				return w
			}
		}
		w := cw.extract(doc, cursor, nil)
		cost := int64(len(w.Before) + len(w.CurrentLinePrefix) + len(w.After) + 1)
		cw.memo.SetWithTTL(key, w, cost, windowMemoTTL)
		return w
	}
	return cw.extract(doc, cursor, active)
}

func (cw *ContextWindower) extract(doc TextSurface, cursor Position, active *ActiveSuggestion) ContextWindow {
	var before []string
	startLine := cursor.Line - maxBeforeLines
	if startLine < 0 {
		startLine = 0
	}
	for i := startLine; i < cursor.Line; i++ {
		line, err := doc.Line(i)
		if err != nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		before = append(before, line)
	}

	prefix := ""
	if line, err := doc.Line(cursor.Line); err == nil {
		end := cursor.Col
		if active != nil && active.Anchor.Line == cursor.Line && active.Anchor.Col < end {
			end = active.Anchor.Col
		}
		if end > len(line) {
			end = len(line)
		}
		if end > 0 {
			prefix = line[:end]
		}
	}

	var after []string
	endLine := cursor.Line + maxAfterLines
	if last := doc.LineCount() - 1; endLine > last {
		endLine = last
	}
	for i := cursor.Line + 1; i <= endLine; i++ {
		line, err := doc.Line(i)
		if err != nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		after = append(after, line)
	}

	return ContextWindow{
		Before:            strings.Join(before, "\n"),
		CurrentLinePrefix: prefix,
		After:             strings.Join(after, "\n"),
	}
}
