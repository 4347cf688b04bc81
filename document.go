// ghostline/document.go
// Text surface abstraction the pipeline edits through, plus an in-memory
// line-based implementation usable without a GUI editor.
package ghostline

import (
	"fmt"
	"strings"
)

// TextSurface is the editing surface the controller reads context from and
// writes overlay text into. Rendering, styling, and scrolling are the
// embedder's concern; the pipeline only needs line access, span edits, and
// cursor tracking. Implementations are not required to be goroutine-safe;
// all calls happen on the owning goroutine.
type TextSurface interface {
	// LineCount returns the number of lines in the document. An empty
	// document has one empty line.
	LineCount() int
	// Line returns the content of the 0-based line index, without a
	// trailing newline. Out-of-range indexes return an error.
	Line(i int) (string, error)
	// Span returns the text between start and end on a single line.
	Span(start, end Position) (string, error)
	// Insert places text at pos, shifting the remainder of the line right.
	// Text must not contain newlines.
	Insert(pos Position, text string) error
	// Delete removes the span between start and end on a single line.
	Delete(start, end Position) error
	// Cursor returns the current cursor position.
	Cursor() Position
	// SetCursor moves the cursor, clamping to document bounds.
	SetCursor(pos Position)
	// Version returns a counter incremented on every content change.
	Version() int
}

// Document is an in-memory TextSurface backed by a slice of lines.
type Document struct {
	lines   []string
	cursor  Position
	version int
}

// NewDocument builds a Document from initial content. Content is split on
// newlines; empty content yields a single empty line.
func NewDocument(content string) *Document {
	return &Document{lines: strings.Split(content, "\n")}
}

// Content returns the full document text joined with newlines.
func (d *Document) Content() string {
	return strings.Join(d.lines, "\n")
}

// SetContent replaces the whole document and clamps the cursor.
func (d *Document) SetContent(content string) {
	d.lines = strings.Split(content, "\n")
	d.version++
	d.SetCursor(d.cursor)
}

// LineCount implements TextSurface.
func (d *Document) LineCount() int {
	return len(d.lines)
}

// Line implements TextSurface.
func (d *Document) Line(i int) (string, error) {
	if i < 0 || i >= len(d.lines) {
		return "", fmt.Errorf("%w: line %d of %d", ErrPositionOutOfRange, i, len(d.lines))
	}
	return d.lines[i], nil
}

// Span implements TextSurface. Start and end must lie on the same line with
// start.Col <= end.Col.
func (d *Document) Span(start, end Position) (string, error) {
	if start.Line != end.Line {
		return "", fmt.Errorf("%w: span crosses lines %d..%d", ErrInvalidPositionInput, start.Line, end.Line)
	}
	line, err := d.Line(start.Line)
	if err != nil {
		return "", err
	}
	if start.Col < 0 || end.Col < start.Col || end.Col > len(line) {
		return "", fmt.Errorf("%w: span %d..%d on line of length %d", ErrPositionOutOfRange, start.Col, end.Col, len(line))
	}
	return line[start.Col:end.Col], nil
}

// Insert implements TextSurface.
func (d *Document) Insert(pos Position, text string) error {
	if strings.ContainsRune(text, '\n') {
		return fmt.Errorf("%w: inserted text contains newline", ErrInvalidPositionInput)
	}
	line, err := d.Line(pos.Line)
	if err != nil {
		return err
	}
	if pos.Col < 0 || pos.Col > len(line) {
		return fmt.Errorf("%w: column %d on line of length %d", ErrPositionOutOfRange, pos.Col, len(line))
	}
	d.lines[pos.Line] = line[:pos.Col] + text + line[pos.Col:]
	d.version++
	return nil
}

// Delete implements TextSurface.
func (d *Document) Delete(start, end Position) error {
	if start.Line != end.Line {
		return fmt.Errorf("%w: deletion crosses lines %d..%d", ErrInvalidPositionInput, start.Line, end.Line)
	}
	line, err := d.Line(start.Line)
	if err != nil {
		return err
	}
	if start.Col < 0 || end.Col < start.Col || end.Col > len(line) {
		return fmt.Errorf("%w: span %d..%d on line of length %d", ErrPositionOutOfRange, start.Col, end.Col, len(line))
	}
	d.lines[start.Line] = line[:start.Col] + line[end.Col:]
	d.version++
	if d.cursor.Line == start.Line && d.cursor.Col > start.Col {
		d.SetCursor(Position{Line: start.Line, Col: start.Col})
	}
	return nil
}

// Cursor implements TextSurface.
func (d *Document) Cursor() Position {
	return d.cursor
}

// SetCursor implements TextSurface.
func (d *Document) SetCursor(pos Position) {
	if pos.Line < 0 {
		pos.Line = 0
	}
	if pos.Line >= len(d.lines) {
		pos.Line = len(d.lines) - 1
	}
	if pos.Col < 0 {
		pos.Col = 0
	}
	if l := len(d.lines[pos.Line]); pos.Col > l {
		pos.Col = l
	}
	d.cursor = pos
}

// Version implements TextSurface.
func (d *Document) Version() int {
	return d.version
}
