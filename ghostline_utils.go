// ghostline_utils.go
package ghostline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Terminal Colors
// ============================================================================
var (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[38;5;119m"
	ColorYellow = "\033[38;5;220m"
	ColorBlue   = "\033[38;5;153m"
	ColorRed    = "\033[38;5;203m"
	ColorCyan   = "\033[38;5;141m"
)

// PrettyPrint prints colored text to stderr.
func PrettyPrint(color, text string) {
	fmt.Fprint(os.Stderr, color, text, ColorReset)
}

// ============================================================================
// Logging Helpers
// ============================================================================

// ParseLogLevel converts a config log level string into a slog.Level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level '%s' (expected debug, info, warn, or error)", levelStr)
	}
}

// ============================================================================
// File Path Helpers
// ============================================================================

// ValidateAndGetFilePath cleans a user-supplied path and resolves it to an
// absolute path. Rejects empty paths and paths containing NUL bytes.
func ValidateAndGetFilePath(path string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return "", errors.New("file path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", errors.New("file path contains NUL byte")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		logger.Warn("Failed to resolve absolute path", "path", path, "error", err)
		return "", fmt.Errorf("resolving absolute path for %q failed: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}

// ============================================================================
// Status Messages
// ============================================================================

// User-facing status strings emitted through the controller's status callback.
const (
	StatusRequesting  = "Requesting completion…"
	StatusNoSuggest   = "No completion available"
	StatusReady       = "Completion ready - Press Tab to accept, or keep typing to dismiss"
	statusErrorPrefix = "Completion error: "
)

// ============================================================================
// Spinner
// ============================================================================

// Spinner provides simple terminal spinner feedback.
type Spinner struct {
	chars    []string
	message  string
	index    int
	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

func NewSpinner() *Spinner {
	return &Spinner{chars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}, index: 0}
}

// Start begins the spinner animation in a separate goroutine.
func (s *Spinner) Start(initialMessage string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.message = initialMessage
	s.running = true
	s.mu.Unlock()
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		defer func() {
			s.mu.Lock()
			isRunning := s.running
			s.running = false
			s.mu.Unlock()
			if isRunning {
				fmt.Fprintf(os.Stderr, "\r\033[K")
			}
			select {
			case s.doneChan <- struct{}{}:
			default:
			}
			close(s.doneChan)
		}() // Cleanup.
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				char := s.chars[s.index]
				msg := s.message
				s.index = (s.index + 1) % len(s.chars)
				s.mu.Unlock()
				fmt.Fprintf(os.Stderr, "\r\033[K%s%s%s %s", ColorCyan, char, ColorReset, msg)
			}
		} // Animate.
	}()
}

// UpdateMessage changes the text displayed next to the spinner.
func (s *Spinner) UpdateMessage(newMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.message = newMessage
	}
}

// Stop halts the spinner animation and cleans up.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	doneChan := s.doneChan
	s.mu.Unlock()
	if doneChan != nil {
		select {
		case <-doneChan:
		case <-time.After(500 * time.Millisecond):
			slog.Warn("Timeout waiting for spinner goroutine cleanup")
		}
	}
	fmt.Fprintf(os.Stderr, "\r\033[K") // Wait & final clear.
}

// ============================================================================
// Stream Processing Helpers (Used by HTTP Provider)
// ============================================================================

// streamCompletion reads the provider's NDJSON stream and writes the text
// chunks to w.
func streamCompletion(ctx context.Context, r io.ReadCloser, w io.Writer, logger *slog.Logger) error {
	defer r.Close()
	if logger == nil {
		logger = slog.Default()
	}
	reader := bufio.NewReader(r)
	lineCount := 0
	for {
		select {
		case <-ctx.Done():
			logger.Warn("Context cancelled during streaming", "error", ctx.Err())
			return ctx.Err()
		default:
		} // Check context.

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(line) > 0 { // Process final partial line if any
					if procErr := processLine(line, w, logger); procErr != nil {
						return procErr
					}
				}
				logger.Debug("Stream processing finished (EOF)", "lines_processed", lineCount)
				return nil
			} // Handle EOF.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("error reading from provider stream: %w", err)
			} // Check context after read error.
		}
		lineCount++
		if procErr := processLine(line, w, logger); procErr != nil {
			return procErr
		} // Process line.
	}
}

// processLine decodes a single line from the provider stream and writes the content.
func processLine(line []byte, w io.Writer, logger *slog.Logger) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	} // Ignore empty lines.
	var resp providerResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		logger.Debug("Ignoring non-JSON line from provider stream", "line", string(line))
		return nil
	} // Tolerate non-JSON lines.
	if resp.Error != "" {
		logger.Error("Provider stream reported an error", "error", resp.Error)
		return fmt.Errorf("provider stream error: %s", resp.Error)
	} // Check for errors in stream.
	if _, err := fmt.Fprint(w, resp.Response); err != nil {
		logger.Error("Error writing stream chunk to output", "error", err)
		return fmt.Errorf("error writing to output: %w", err)
	} // Write content.
	return nil
}
