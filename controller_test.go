// ghostline/controller_test.go
package ghostline

import (
	"context"
	"errors"
	stdslog "log/slog"
	"sync"
	"testing"
	"time"
)

// mockProvider counts calls and returns a canned response or error.
type mockProvider struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (m *mockProvider) Complete(_ context.Context, _ string, _ ProviderOptions, _ *stdslog.Logger) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.response, m.err
}

func (m *mockProvider) CheckAvailability(_ context.Context, _ *stdslog.Logger) error { return nil }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testHarness owns a controller wired to a mock provider. Posted callbacks
// are queued on a channel and executed by the test goroutine, standing in for
// the owning execution context.
type testHarness struct {
	controller *SuggestionController
	engine     *Engine
	doc        *Document
	provider   *mockProvider
	posted     chan func()
	statuses   []string
	clock      time.Time
}

func newTestHarness(t *testing.T, content string, cursor Position) *testHarness {
	t.Helper()

	cfg := getDefaultConfig()
	engine, err := NewEngineWithConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngineWithConfig failed: %v", err)
	}
	provider := &mockProvider{response: "completion"}
	engine.SetProvider(provider)

	doc := NewDocument(content)
	doc.SetCursor(cursor)

	h := &testHarness{
		engine:   engine,
		doc:      doc,
		provider: provider,
		posted:   make(chan func(), 16),
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.controller = NewSuggestionController(engine, doc, func(fn func()) { h.posted <- fn }, nil)
	h.controller.SetStatusCallback(func(msg string) { h.statuses = append(h.statuses, msg) })
	h.controller.now = func() time.Time { return h.clock }
	// Fire scheduled triggers immediately.
	h.controller.afterFunc = func(_ time.Duration, fn func()) *time.Timer {
		fn()
		return nil
	}
	return h
}

// drain runs the next posted callback on the test goroutine.
func (h *testHarness) drain(t *testing.T) {
	t.Helper()
	select {
	case fn := <-h.posted:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted callback")
	}
}

func (h *testHarness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *testHarness) lastStatus() string {
	if len(h.statuses) == 0 {
		return ""
	}
	return h.statuses[len(h.statuses)-1]
}

func TestSuggestionController_TriggerRejections(t *testing.T) {
	t.Run("EmptyLinePrefix", func(t *testing.T) {
		h := newTestHarness(t, "   ", Position{0, 3})
		h.controller.Trigger(context.Background())
		if h.provider.callCount() != 0 {
			t.Error("provider called despite whitespace-only prefix")
		}
		if h.controller.Metrics().Rejected != 1 {
			t.Errorf("Rejected = %d, want 1", h.controller.Metrics().Rejected)
		}
	})

	t.Run("CursorMidLine", func(t *testing.T) {
		h := newTestHarness(t, "def calculate", Position{0, 5})
		h.controller.Trigger(context.Background())
		if h.provider.callCount() != 0 {
			t.Error("provider called despite mid-line cursor")
		}
		if h.controller.Metrics().Rejected != 1 {
			t.Errorf("Rejected = %d, want 1", h.controller.Metrics().Rejected)
		}
	})

	t.Run("CursorOneShortOfEndStillQualifies", func(t *testing.T) {
		h := newTestHarness(t, "def calc", Position{0, 7})
		h.controller.Trigger(context.Background())
		h.drain(t)
		if h.provider.callCount() != 1 {
			t.Errorf("calls = %d, want 1 for cursor one column short of line end", h.provider.callCount())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		h := newTestHarness(t, "def calc", Position{0, 8})
		h.controller.SetEnabled(false)
		h.controller.Trigger(context.Background())
		if h.provider.callCount() != 0 {
			t.Error("provider called while disabled")
		}
	})
}

// drainPendingIfAny consumes a posted callback if one is queued, ignoring it.
func (h *testHarness) drainPendingIfAny() {
	select {
	case fn := <-h.posted:
		fn()
	default:
	}
}

func TestSuggestionController_CompletionRoundTrip(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "def calculate_sum(a, b):"

	h.controller.Trigger(context.Background())
	if !h.controller.Pending() {
		t.Error("Pending() = false after dispatch")
	}
	if h.lastStatus() != StatusRequesting {
		t.Errorf("status = %q, want %q", h.lastStatus(), StatusRequesting)
	}

	h.drain(t)

	if h.controller.Pending() {
		t.Error("Pending() = true after delivery")
	}
	active := h.controller.Active()
	if active == nil {
		t.Fatal("no active suggestion after delivery")
	}
	if active.Text != "ulate_sum(a, b):" {
		t.Errorf("active.Text = %q, want %q", active.Text, "ulate_sum(a, b):")
	}
	if active.Anchor != (Position{0, 8}) {
		t.Errorf("active.Anchor = %v, want 0:8", active.Anchor)
	}
	// Overlay is inserted into the document, cursor stays at the anchor.
	if got, _ := h.doc.Line(0); got != "def calculate_sum(a, b):" {
		t.Errorf("document line = %q", got)
	}
	if h.doc.Cursor() != (Position{0, 8}) {
		t.Errorf("cursor = %v, want anchor 0:8", h.doc.Cursor())
	}
	if h.lastStatus() != StatusReady {
		t.Errorf("status = %q, want %q", h.lastStatus(), StatusReady)
	}

	// Accept moves the cursor past the overlay and clears state.
	if !h.controller.Accept() {
		t.Fatal("Accept() = false with active suggestion")
	}
	if h.controller.Active() != nil {
		t.Error("active suggestion not cleared by Accept")
	}
	if h.doc.Cursor() != (Position{0, 24}) {
		t.Errorf("cursor after Accept = %v, want 0:24", h.doc.Cursor())
	}
	if got, _ := h.doc.Line(0); got != "def calculate_sum(a, b):" {
		t.Errorf("document changed by Accept: %q", got)
	}

	if h.controller.Accept() {
		t.Error("second Accept() = true with nothing active")
	}
}

func TestSuggestionController_DualRateLimiters(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})

	h.controller.Trigger(context.Background())
	h.drain(t) // First request completes.
	if h.provider.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", h.provider.callCount())
	}
	h.controller.Dismiss()

	// Inside the 500ms window: suppressed, no provider call.
	h.advance(200 * time.Millisecond)
	h.controller.Trigger(context.Background())
	if h.provider.callCount() != 1 {
		t.Errorf("calls = %d after suppressed trigger, want 1", h.provider.callCount())
	}
	if h.controller.Metrics().Suppressed != 1 {
		t.Errorf("Suppressed = %d, want 1", h.controller.Metrics().Suppressed)
	}

	// Suppressed triggers do not extend either window.
	h.advance(300 * time.Millisecond)
	h.controller.Trigger(context.Background())
	h.drainPendingIfAny()
	if h.provider.callCount() != 1 {
		// The second admitted trigger hits the cache (identical window), so
		// still exactly one provider call.
		t.Errorf("calls = %d, want 1 (cache hit)", h.provider.callCount())
	}
	if h.controller.Metrics().CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", h.controller.Metrics().CacheHits)
	}
}

func TestSuggestionController_CacheHitSkipsProvider(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "def calculate_sum(a, b):"

	window := h.controller.windower.Extract(h.doc, h.doc.Cursor(), nil)
	h.engine.Store(Fingerprint(window), "def calculate_sum(a, b):")

	h.controller.Trigger(context.Background())

	if h.provider.callCount() != 0 {
		t.Errorf("provider called %d times on cache hit, want 0", h.provider.callCount())
	}
	if h.controller.Metrics().CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", h.controller.Metrics().CacheHits)
	}
	// Cache hits still run stale checks and overlap resolution.
	active := h.controller.Active()
	if active == nil {
		t.Fatal("no active suggestion after cache hit")
	}
	if active.Text != "ulate_sum(a, b):" {
		t.Errorf("active.Text = %q, want %q", active.Text, "ulate_sum(a, b):")
	}
}

func TestSuggestionController_StaleResultDiscarded(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "def calculate_sum(a, b):"

	h.controller.Trigger(context.Background())
	// The user keeps typing before the result arrives.
	h.doc.Insert(Position{0, 8}, "u")
	h.doc.SetCursor(Position{0, 9})

	h.drain(t)

	if h.controller.Active() != nil {
		t.Error("stale result installed a suggestion")
	}
	if h.controller.Metrics().StaleDiscards != 1 {
		t.Errorf("StaleDiscards = %d, want 1", h.controller.Metrics().StaleDiscards)
	}
	// The completion is cached before the stale check, so a later identical
	// context still benefits.
	if h.engine.CacheSize() != 1 {
		t.Errorf("CacheSize = %d, want 1 (stored before stale check)", h.engine.CacheSize())
	}
	if got, _ := h.doc.Line(0); got != "def calcu" {
		t.Errorf("document altered by stale result: %q", got)
	}
}

func TestSuggestionController_EmptyCompletion(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "   " // Trimmed to empty by the engine.

	h.controller.Trigger(context.Background())
	h.drain(t)

	if h.controller.Active() != nil {
		t.Error("empty completion produced a suggestion")
	}
	if h.lastStatus() != StatusNoSuggest {
		t.Errorf("status = %q, want %q", h.lastStatus(), StatusNoSuggest)
	}
	if h.controller.Metrics().Failures != 0 {
		t.Errorf("Failures = %d, empty completion is not a failure", h.controller.Metrics().Failures)
	}
}

func TestSuggestionController_ProviderError(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.err = errors.New("connection refused")

	h.controller.Trigger(context.Background())
	h.drain(t)

	if h.controller.Active() != nil {
		t.Error("failed request produced a suggestion")
	}
	if h.controller.Metrics().Failures != 1 {
		t.Errorf("Failures = %d, want 1", h.controller.Metrics().Failures)
	}
	status := h.lastStatus()
	if len(status) < len(statusErrorPrefix) || status[:len(statusErrorPrefix)] != statusErrorPrefix {
		t.Errorf("status = %q, want %q prefix", status, statusErrorPrefix)
	}

	// Errors are never retried; the next trigger is a fresh request.
	if h.provider.callCount() != 1 {
		t.Errorf("calls = %d, want 1", h.provider.callCount())
	}
}

func TestSuggestionController_Dismiss(t *testing.T) {
	t.Run("RemovesOverlay", func(t *testing.T) {
		h := newTestHarness(t, "def calc", Position{0, 8})
		h.provider.response = "def calculate_sum(a, b):"
		h.controller.Trigger(context.Background())
		h.drain(t)
		if h.controller.Active() == nil {
			t.Fatal("setup: no active suggestion")
		}

		h.controller.Dismiss()

		if h.controller.Active() != nil {
			t.Error("active suggestion not cleared")
		}
		if got, _ := h.doc.Line(0); got != "def calc" {
			t.Errorf("overlay not removed: %q", got)
		}
		if h.controller.Metrics().Dismissed != 1 {
			t.Errorf("Dismissed = %d, want 1", h.controller.Metrics().Dismissed)
		}
	})

	t.Run("NoActiveIsNoOp", func(t *testing.T) {
		h := newTestHarness(t, "def calc", Position{0, 8})
		h.controller.Dismiss()
		h.controller.Dismiss()
		if h.controller.Metrics().Dismissed != 0 {
			t.Errorf("Dismissed = %d, want 0", h.controller.Metrics().Dismissed)
		}
		if got, _ := h.doc.Line(0); got != "def calc" {
			t.Errorf("document changed by no-op dismiss: %q", got)
		}
	})

	t.Run("SpanMismatchClearsStateOnly", func(t *testing.T) {
		h := newTestHarness(t, "def calc", Position{0, 8})
		h.provider.response = "def calculate_sum(a, b):"
		h.controller.Trigger(context.Background())
		h.drain(t)
		if h.controller.Active() == nil {
			t.Fatal("setup: no active suggestion")
		}

		// The overlay span no longer matches the remembered text.
		h.doc.Insert(Position{0, 10}, "XX")
		before := h.doc.Content()

		h.controller.Dismiss()

		if h.controller.Active() != nil {
			t.Error("active suggestion not cleared")
		}
		if h.doc.Content() != before {
			t.Errorf("mismatched span was deleted anyway:\nbefore: %q\nafter:  %q", before, h.doc.Content())
		}
	})
}

func TestSuggestionController_EditAndCursorNotifications(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "def calculate_sum(a, b):"
	h.controller.Trigger(context.Background())
	h.drain(t)
	if h.controller.Active() == nil {
		t.Fatal("setup: no active suggestion")
	}

	h.controller.NotifyCursorMove()
	if h.controller.Active() != nil {
		t.Error("cursor move did not dismiss the overlay")
	}
	if got, _ := h.doc.Line(0); got != "def calc" {
		t.Errorf("overlay not removed on cursor move: %q", got)
	}

	// With nothing active, notifications are no-ops.
	h.controller.NotifyContentKey()
	h.controller.NotifyCursorMove()
	if h.controller.Metrics().Dismissed != 1 {
		t.Errorf("Dismissed = %d, want 1", h.controller.Metrics().Dismissed)
	}
}

func TestSuggestionController_ScheduleTrigger(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.controller.ScheduleTrigger(context.Background())

	// afterFunc fires inline in the harness; the trigger itself is posted.
	h.drain(t) // Runs Trigger.
	h.drain(t) // Runs the delivery.

	if h.provider.callCount() != 1 {
		t.Errorf("calls = %d, want 1", h.provider.callCount())
	}
	if h.controller.Active() == nil {
		t.Error("scheduled trigger produced no suggestion")
	}
}

func TestSuggestionController_MultilineCompletionTruncated(t *testing.T) {
	h := newTestHarness(t, "def calc", Position{0, 8})
	h.provider.response = "def calculate_sum(a, b):\n    return a + b"

	h.controller.Trigger(context.Background())
	h.drain(t)

	active := h.controller.Active()
	if active == nil {
		t.Fatal("no active suggestion")
	}
	if active.Text != "ulate_sum(a, b):" {
		t.Errorf("active.Text = %q, want first line only", active.Text)
	}
}
