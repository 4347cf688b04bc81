// ghostline/document_test.go
package ghostline

import (
	"errors"
	"testing"
)

func TestDocument_LineAccess(t *testing.T) {
	doc := NewDocument("one\ntwo\nthree")
	if doc.LineCount() != 3 {
		t.Fatalf("LineCount() = %d, want 3", doc.LineCount())
	}
	if line, err := doc.Line(1); err != nil || line != "two" {
		t.Errorf("Line(1) = %q, %v, want %q, nil", line, err, "two")
	}
	if _, err := doc.Line(3); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("Line(3) error = %v, want ErrPositionOutOfRange", err)
	}
	if _, err := doc.Line(-1); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("Line(-1) error = %v, want ErrPositionOutOfRange", err)
	}

	empty := NewDocument("")
	if empty.LineCount() != 1 {
		t.Errorf("empty document LineCount() = %d, want 1", empty.LineCount())
	}
}

func TestDocument_Span(t *testing.T) {
	doc := NewDocument("hello world")

	tests := []struct {
		name       string
		start, end Position
		want       string
		wantErr    error
	}{
		{"Full line", Position{0, 0}, Position{0, 11}, "hello world", nil},
		{"Middle", Position{0, 6}, Position{0, 11}, "world", nil},
		{"Empty span", Position{0, 3}, Position{0, 3}, "", nil},
		{"Cross-line span rejected", Position{0, 0}, Position{1, 0}, "", ErrInvalidPositionInput},
		{"End past line", Position{0, 0}, Position{0, 20}, "", ErrPositionOutOfRange},
		{"End before start", Position{0, 5}, Position{0, 2}, "", ErrPositionOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := doc.Span(tt.start, tt.end)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Span() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Span() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Span() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDocument_InsertDelete(t *testing.T) {
	doc := NewDocument("def calc")
	v0 := doc.Version()

	if err := doc.Insert(Position{0, 8}, "ulate_sum(a, b):"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if got, _ := doc.Line(0); got != "def calculate_sum(a, b):" {
		t.Errorf("Line(0) after insert = %q", got)
	}
	if doc.Version() == v0 {
		t.Error("Version unchanged after insert")
	}

	if err := doc.Insert(Position{0, 0}, "a\nb"); !errors.Is(err, ErrInvalidPositionInput) {
		t.Errorf("Insert with newline error = %v, want ErrInvalidPositionInput", err)
	}

	if err := doc.Delete(Position{0, 8}, Position{0, 24}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := doc.Line(0); got != "def calc" {
		t.Errorf("Line(0) after delete = %q, want %q", got, "def calc")
	}

	if err := doc.Delete(Position{0, 2}, Position{1, 1}); !errors.Is(err, ErrInvalidPositionInput) {
		t.Errorf("cross-line Delete error = %v, want ErrInvalidPositionInput", err)
	}
}

func TestDocument_DeletePullsCursorBack(t *testing.T) {
	doc := NewDocument("hello world")
	doc.SetCursor(Position{0, 11})
	if err := doc.Delete(Position{0, 5}, Position{0, 11}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if doc.Cursor() != (Position{0, 5}) {
		t.Errorf("Cursor after delete = %v, want 0:5", doc.Cursor())
	}
}

func TestDocument_SetCursorClamps(t *testing.T) {
	doc := NewDocument("ab\ncdef")

	tests := []struct {
		name string
		in   Position
		want Position
	}{
		{"Within bounds", Position{1, 2}, Position{1, 2}},
		{"Negative line", Position{-3, 0}, Position{0, 0}},
		{"Line past end", Position{9, 1}, Position{1, 1}},
		{"Negative column", Position{0, -1}, Position{0, 0}},
		{"Column past line end", Position{0, 10}, Position{0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc.SetCursor(tt.in)
			if doc.Cursor() != tt.want {
				t.Errorf("SetCursor(%v): Cursor() = %v, want %v", tt.in, doc.Cursor(), tt.want)
			}
		})
	}
}

func TestDocument_SetContent(t *testing.T) {
	doc := NewDocument("one\ntwo")
	doc.SetCursor(Position{1, 3})
	v := doc.Version()

	doc.SetContent("x")
	if doc.Content() != "x" {
		t.Errorf("Content() = %q, want %q", doc.Content(), "x")
	}
	if doc.Version() == v {
		t.Error("Version unchanged after SetContent")
	}
	if doc.Cursor() != (Position{0, 1}) {
		t.Errorf("Cursor not clamped after SetContent: %v", doc.Cursor())
	}
}
