// ghostline/controller.go
// Orchestrates the suggestion lifecycle: trigger, debounce and cache gating,
// the provider round trip, overlay display, and accept/dismiss.
package ghostline

import (
	"context"
	"errors"
	stdslog "log/slog"
	"strings"
	"time"
)

// ControllerMetrics counts pipeline events since the controller was created.
// Read via Metrics on the owning goroutine.
type ControllerMetrics struct {
	Triggers        int64
	Rejected        int64
	Suppressed      int64
	CacheHits       int64
	Requests        int64
	Failures        int64
	StaleDiscards   int64
	ShownSuggestion int64
	Accepted        int64
	Dismissed       int64
}

// SuggestionController owns the single active suggestion and drives the
// lifecycle around it. All of its mutable state (the active suggestion, the
// trigger-layer rate limiter, metrics) plus the engine's cache and limiter
// belong to one owning goroutine: every method except the provider call it
// spawns must run there. Results from the provider are marshalled back via
// the post function before touching any state.
//
// A second rate limiter lives inside the Engine; the two gates are
// deliberately independent and their debounce effects compound.
type SuggestionController struct {
	engine   *Engine
	doc      TextSurface
	windower *ContextWindower
	resolver *OverlapResolver
	limiter  *RateLimiter // Trigger-layer gate, separate from the engine's.

	// post schedules a function onto the owning execution context queue.
	post func(func())
	// status receives user-facing status strings. Never nil.
	status func(string)

	transcript *TranscriptStore // Optional; nil disables recording.

	active  *ActiveSuggestion
	pending bool
	enabled bool
	metrics ControllerMetrics

	// Clock and timer hooks, overridable in tests.
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	logger *stdslog.Logger
}

// NewSuggestionController wires a controller around an engine and a text
// surface. post must execute its argument on the goroutine that owns all
// pipeline state; a nil post runs callbacks inline, which is only safe in
// single-goroutine embeddings and tests.
func NewSuggestionController(engine *Engine, doc TextSurface, post func(func()), logger *stdslog.Logger) *SuggestionController {
	if logger == nil {
		logger = stdslog.Default()
	}
	ctrlLogger := logger.With("component", "controller")
	if post == nil {
		post = func(fn func()) { fn() }
	}
	cfg := engine.GetCurrentConfig()
	return &SuggestionController{
		engine:    engine,
		doc:       doc,
		windower:  NewContextWindower(logger),
		resolver:  NewOverlapResolver(ctrlLogger),
		limiter:   NewRateLimiter(time.Duration(cfg.CompletionDelayMs)*time.Millisecond, ctrlLogger),
		post:      post,
		status:    func(string) {},
		enabled:   cfg.Enabled,
		now:       time.Now,
		afterFunc: time.AfterFunc,
		logger:    ctrlLogger,
	}
}

// SetStatusCallback registers the sink for user-facing status strings.
func (c *SuggestionController) SetStatusCallback(fn func(string)) {
	if fn == nil {
		fn = func(string) {}
	}
	c.status = fn
}

// SetTranscript attaches a transcript store recording each provider round trip.
func (c *SuggestionController) SetTranscript(ts *TranscriptStore) {
	c.transcript = ts
}

// SetEnabled toggles suggestion triggering. Disabling does not clear an
// already-displayed suggestion.
func (c *SuggestionController) SetEnabled(enabled bool) {
	c.enabled = enabled
	c.logger.Info("Suggestion triggering toggled", "enabled", enabled)
}

// Enabled reports whether triggers are currently admitted.
func (c *SuggestionController) Enabled() bool {
	return c.enabled
}

// Active returns the current suggestion, or nil.
func (c *SuggestionController) Active() *ActiveSuggestion {
	return c.active
}

// Pending reports whether a provider request is in flight.
func (c *SuggestionController) Pending() bool {
	return c.pending
}

// Metrics returns a copy of the event counters.
func (c *SuggestionController) Metrics() ControllerMetrics {
	return c.metrics
}

// Stats returns the engine's display snapshot.
func (c *SuggestionController) Stats() Stats {
	return c.engine.Stats()
}

// NotifyContentKey clears the overlay before a content-changing key press
// mutates the document.
func (c *SuggestionController) NotifyContentKey() {
	if c.active != nil {
		c.logger.Debug("Clearing overlay before content key")
		c.Dismiss()
	}
}

// NotifyCursorMove clears the overlay when the cursor moves away from the
// anchor (arrow keys, mouse click).
func (c *SuggestionController) NotifyCursorMove() {
	if c.active != nil {
		c.logger.Debug("Clearing overlay before cursor movement")
		c.Dismiss()
	}
}

// ScheduleTrigger arms the post-edit coalescing delay and then runs a trigger
// on the owning goroutine. Each edit arms its own timer; bursts are coalesced
// by the rate limiters, not by timer deduplication.
func (c *SuggestionController) ScheduleTrigger(ctx context.Context) {
	delay := time.Duration(c.engine.GetCurrentConfig().ScheduleDelayMs) * time.Millisecond
	c.afterFunc(delay, func() {
		c.post(func() { c.Trigger(ctx) })
	})
}

// Trigger runs the full suggestion path from the current cursor position:
// trigger-condition checks, both rate limiters, cache lookup, and finally the
// asynchronous provider request. Owning goroutine only.
func (c *SuggestionController) Trigger(ctx context.Context) {
	opLogger := c.logger.With("operation", "Trigger")
	c.metrics.Triggers++

	cfg := c.engine.GetCurrentConfig()
	if !c.enabled || !cfg.Enabled {
		opLogger.Debug("Trigger ignored, suggestions disabled")
		return
	}

	cursor := c.doc.Cursor()
	window := c.windower.Extract(c.doc, cursor, c.active)

	if strings.TrimSpace(window.CurrentLinePrefix) == "" {
		opLogger.Debug("Trigger rejected, empty line prefix", "cursor", cursor)
		c.metrics.Rejected++
		return
	}

	line, err := c.doc.Line(cursor.Line)
	if err != nil {
		opLogger.Warn("Trigger aborted, cursor line unreadable", "cursor", cursor, "error", err)
		c.metrics.Rejected++
		return
	}
	logicalEnd := len(line)
	if c.active != nil && c.active.Anchor.Line == cursor.Line {
		logicalEnd = c.active.Anchor.Col
	}
	// The cursor may sit one column short of the logical end and still
	// qualify; anything further left is mid-line.
	if cursor.Col < logicalEnd-1 {
		opLogger.Debug("Trigger rejected, cursor not at logical end of line", "cursor_col", cursor.Col, "logical_end", logicalEnd)
		c.metrics.Rejected++
		return
	}

	now := c.now()
	if c.limiter.ShouldSuppress(now) {
		opLogger.Debug("Trigger suppressed by controller rate limiter")
		c.metrics.Suppressed++
		return
	}
	if c.engine.Suppress(now) {
		opLogger.Debug("Trigger suppressed by engine rate limiter")
		c.metrics.Suppressed++
		return
	}

	fingerprint := Fingerprint(window)
	if cached, ok := c.engine.Cached(fingerprint); ok {
		opLogger.Debug("Cache hit, resolving without provider call", "fingerprint_len", len(fingerprint))
		c.metrics.CacheHits++
		c.showCompletion(cached, cursor)
		return
	}

	prompt := c.engine.BuildPrompt(window)
	c.status(StatusRequesting)
	c.pending = true
	c.metrics.Requests++
	opLogger.Debug("Cache miss, dispatching provider request", "prompt_len", len(prompt))

	go func() {
		text, completeErr := c.engine.Complete(ctx, prompt)
		c.post(func() {
			c.deliver(cursor, fingerprint, prompt, text, completeErr)
		})
	}()
}

// deliver handles the provider result back on the owning goroutine.
func (c *SuggestionController) deliver(requestCursor Position, fingerprint, prompt, text string, err error) {
	opLogger := c.logger.With("operation", "deliver")
	c.pending = false

	if err != nil {
		if errors.Is(err, ErrEmptyCompletion) {
			opLogger.Debug("Provider returned no completion")
			c.status(StatusNoSuggest)
			return
		}
		c.metrics.Failures++
		opLogger.Warn("Provider request failed", "error", err)
		c.status(statusErrorPrefix + err.Error())
		return
	}

	if c.transcript != nil {
		if recErr := c.transcript.Record(TranscriptEntry{
			Fingerprint: fingerprint,
			Prompt:      prompt,
			Completion:  text,
			CreatedAt:   c.now(),
		}); recErr != nil {
			opLogger.Warn("Failed to record transcript entry", "error", recErr)
		}
	}

	// The raw completion is cached before the stale check so a late result
	// still benefits the next identical request.
	c.engine.Store(fingerprint, text)
	c.showCompletion(text, requestCursor)
}

// showCompletion validates the result against current cursor state, trims the
// overlap, and installs the overlay. Used by both the cache-hit and provider
// paths.
func (c *SuggestionController) showCompletion(raw string, requestCursor Position) {
	opLogger := c.logger.With("operation", "showCompletion")

	current := c.doc.Cursor()
	if current != requestCursor {
		opLogger.Debug("Discarding completion result", "error", ErrStaleResult, "expected", requestCursor, "actual", current)
		c.metrics.StaleDiscards++
		return
	}

	// A new resolved suggestion supersedes whatever is showing.
	if c.active != nil {
		c.metrics.Dismissed++
		c.clearOverlay()
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		opLogger.Debug("Empty completion after trim")
		return
	}

	prefix, err := c.doc.Span(Position{Line: requestCursor.Line, Col: 0}, requestCursor)
	if err != nil {
		opLogger.Warn("Could not read current line prefix", "error", err)
		return
	}
	currentWord := CurrentWordOf(prefix)

	trimmed := c.resolver.Resolve(currentWord, raw)
	// The overlay is a single-line span; anything past the first newline is
	// dropped from display but stays in the cached raw completion.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		opLogger.Debug("Nothing left to display after overlap resolution", "current_word", currentWord)
		return
	}

	if insErr := c.doc.Insert(requestCursor, trimmed); insErr != nil {
		opLogger.Warn("Failed to insert overlay text", "error", insErr)
		return
	}
	// Cursor stays at the anchor; the overlay sits after it.
	c.doc.SetCursor(requestCursor)
	c.active = &ActiveSuggestion{Anchor: requestCursor, Text: trimmed}
	c.metrics.ShownSuggestion++

	opLogger.Debug("Overlay installed", "anchor", requestCursor, "text_len", len(trimmed))
	c.status(StatusReady)
}

// Accept commits the displayed suggestion as real content: the overlay text
// is already in the document, so accepting moves the cursor past it and
// clears the suggestion state. Returns false if nothing was showing.
func (c *SuggestionController) Accept() bool {
	if c.active == nil {
		return false
	}
	end := c.active.End()
	c.doc.SetCursor(end)
	c.active = nil
	c.metrics.Accepted++
	c.logger.Debug("Suggestion accepted", "cursor", end)
	c.status("Completion accepted!")
	return true
}

// Dismiss removes the overlay from the document and clears suggestion state.
// The span at the anchor is verified against the remembered text first; if
// the user already edited it out from under the controller, only the
// in-memory state is cleared. Dismissing with no active suggestion is a no-op.
func (c *SuggestionController) Dismiss() {
	if c.active == nil {
		return
	}
	c.metrics.Dismissed++
	c.clearOverlay()
}

func (c *SuggestionController) clearOverlay() {
	end := c.active.End()
	actual, err := c.doc.Span(c.active.Anchor, end)
	if err != nil {
		c.logger.Debug("Overlay span unreadable, clearing state only", "error", err)
		c.active = nil
		return
	}
	if actual != c.active.Text {
		c.logger.Debug("Clearing suggestion state only", "error", ErrSpanMismatch, "anchor", c.active.Anchor)
		c.active = nil
		return
	}
	if delErr := c.doc.Delete(c.active.Anchor, end); delErr != nil {
		c.logger.Warn("Failed to delete overlay span", "error", delErr)
	}
	c.active = nil
}
