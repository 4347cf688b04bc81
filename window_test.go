// ghostline/window_test.go
package ghostline

import (
	"fmt"
	"strings"
	"testing"
)

// buildNumberedDoc creates a document of n lines "line 1".."line n".
func buildNumberedDoc(n int) *Document {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return NewDocument(strings.Join(lines, "\n"))
}

func TestContextWindower_Extract(t *testing.T) {

	t.Run("RangeLimits", func(t *testing.T) {
		windower := NewContextWindower(nil)
		doc := buildNumberedDoc(30)
		cursor := Position{Line: 15, Col: 4}
		w := windower.Extract(doc, cursor, nil)

		// Exactly the 10 physical lines above and 5 below.
		wantBefore := make([]string, 0, 10)
		for i := 5; i < 15; i++ {
			wantBefore = append(wantBefore, fmt.Sprintf("line %d", i+1))
		}
		if w.Before != strings.Join(wantBefore, "\n") {
			t.Errorf("Before = %q, want %q", w.Before, strings.Join(wantBefore, "\n"))
		}

		wantAfter := make([]string, 0, 5)
		for i := 16; i <= 20; i++ {
			wantAfter = append(wantAfter, fmt.Sprintf("line %d", i+1))
		}
		if w.After != strings.Join(wantAfter, "\n") {
			t.Errorf("After = %q, want %q", w.After, strings.Join(wantAfter, "\n"))
		}

		if w.CurrentLinePrefix != "line" {
			t.Errorf("CurrentLinePrefix = %q, want %q", w.CurrentLinePrefix, "line")
		}
	})

	t.Run("DocumentEdges", func(t *testing.T) {
		windower := NewContextWindower(nil)
		doc := buildNumberedDoc(3)

		w := windower.Extract(doc, Position{Line: 0, Col: 0}, nil)
		if w.Before != "" {
			t.Errorf("Before at top of document = %q, want empty", w.Before)
		}
		if w.CurrentLinePrefix != "" {
			t.Errorf("CurrentLinePrefix at column 0 = %q, want empty", w.CurrentLinePrefix)
		}

		w = windower.Extract(doc, Position{Line: 2, Col: 6}, nil)
		if w.After != "" {
			t.Errorf("After at bottom of document = %q, want empty", w.After)
		}
	})

	t.Run("BlankLinesFilteredWithinRange", func(t *testing.T) {
		// Blank lines inside the scan range are dropped, and the range is
		// physical: blanks do not extend it to reach further content.
		content := strings.Join([]string{
			"far line",   // 0: outside the 10-line range below
			"", "", "",   // 1-3
			"kept one",   // 4
			"", "   ", "", // 5-7: blank and whitespace-only
			"kept two", // 8
			"", "",     // 9-10
			"cursor line here", // 11
			"",                 // 12
			"below one",        // 13
			"\t",               // 14
			"below two",        // 15
			"",                 // 16
			"beyond range",     // 17: outside the 5-line range above
		}, "\n")
		windower := NewContextWindower(nil)
		doc := NewDocument(content)
		cursor := Position{Line: 11, Col: 16}
		w := windower.Extract(doc, cursor, nil)

		if w.Before != "kept one\nkept two" {
			t.Errorf("Before = %q, want %q", w.Before, "kept one\nkept two")
		}
		if w.After != "below one\nbelow two" {
			t.Errorf("After = %q, want %q", w.After, "below one\nbelow two")
		}
	})

	t.Run("SuggestionExcludedFromPrefix", func(t *testing.T) {
		// Overlay text lives inside the document while displayed; the prefix
		// must stop at the anchor so the model never sees its own output.
		windower := NewContextWindower(nil)
		doc := NewDocument("def calculate_sum(a, b):")
		cursor := Position{Line: 0, Col: 8} // At the anchor, overlay after it.
		active := &ActiveSuggestion{Anchor: Position{Line: 0, Col: 8}, Text: "ulate_sum(a, b):"}

		w := windower.Extract(doc, cursor, active)
		if w.CurrentLinePrefix != "def calc" {
			t.Errorf("CurrentLinePrefix = %q, want %q", w.CurrentLinePrefix, "def calc")
		}
	})

	t.Run("Determinism", func(t *testing.T) {
		windower := NewContextWindower(nil)
		doc := buildNumberedDoc(20)
		cursor := Position{Line: 10, Col: 3}
		w1 := windower.Extract(doc, cursor, nil)
		w2 := windower.Extract(doc, cursor, nil)
		if w1 != w2 {
			t.Errorf("repeated extraction differs: %+v vs %+v", w1, w2)
		}
	})

	t.Run("ColumnPastLineEndClamped", func(t *testing.T) {
		windower := NewContextWindower(nil)
		doc := NewDocument("short")
		w := windower.Extract(doc, Position{Line: 0, Col: 99}, nil)
		if w.CurrentLinePrefix != "short" {
			t.Errorf("CurrentLinePrefix = %q, want %q", w.CurrentLinePrefix, "short")
		}
	})
}
