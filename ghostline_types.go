// ghostline/types.go
// Contains core type definitions used throughout the ghostline package.
package ghostline

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"net/url"
	"strings"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultProviderURL = "http://localhost:11434"
	defaultModel       = "qwen2.5-coder"

	// Standard prompt template used for completions. The three slots are
	// the context before the cursor, the current line prefix, and the
	// context after the cursor, in that order.
	promptTemplate = `You are an AI coding assistant. Complete the code at the cursor position.

Context before:
%s

Current line (cursor at end): %s

Context after:
%s

Complete the code at the cursor position. Provide only the completion text, no explanations.
Focus on:
1. Syntactically correct code
2. Following the existing code style and patterns
3. Completing the current statement or adding the next logical statement
4. Keeping the completion concise and relevant

Completion:`

	defaultMaxTokens         = 100           // Default maximum tokens for a completion response.
	defaultTemperature       = 0.3           // Default sampling temperature.
	defaultCompletionDelayMs = 500           // Minimum interval between admitted requests.
	defaultScheduleDelayMs   = 300           // Caller-side delay before a trigger fires after an edit.
	defaultCacheCapacity     = 50            // Bounded FIFO result cache size.
	defaultLogLevel          = "info"        // Default log level.
	defaultConfigFileName    = "config.json" // Default config file name.
	configDirName            = "ghostline"   // Subdirectory name for config/data.

	// Context window policy.
	maxBeforeLines = 10 // Non-blank lines collected above the cursor.
	maxAfterLines  = 5  // Non-blank lines collected below the cursor.

	// Fingerprint truncation bounds.
	fingerprintBeforeChars = 100 // Last N chars of the before-context.
	fingerprintAfterChars  = 50  // First M chars of the after-context.
)

// defaultStopSequences returns the stop sequences sent with every request:
// a blank line and a code-fence marker.
func defaultStopSequences() []string {
	return []string{"\n\n", "```"}
}

// Config holds the active configuration for the suggestion pipeline.
type Config struct {
	ProviderURL       string   `json:"provider_url"`
	Model             string   `json:"model"`
	PromptTemplate    string   `json:"-"` // Loaded internally, not from config file.
	MaxTokens         int      `json:"max_tokens"`
	Stop              []string `json:"stop"`
	Temperature       float64  `json:"temperature"`
	CompletionDelayMs int      `json:"completion_delay_ms"` // Rate limiter interval.
	ScheduleDelayMs   int      `json:"schedule_delay_ms"`   // Post-edit trigger coalescing delay.
	CacheCapacity     int      `json:"cache_capacity"`      // FIFO result cache size.
	Enabled           bool     `json:"enabled"`             // Master toggle for suggestion triggers.
	LogLevel          string   `json:"log_level"`           // Log level (debug, info, warn, error).
	TranscriptPath    string   `json:"transcript_path"`     // Optional bbolt transcript file. Empty disables.
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	ProviderURL       *string   `json:"provider_url"`
	Model             *string   `json:"model"`
	MaxTokens         *int      `json:"max_tokens"`
	Stop              *[]string `json:"stop"`
	Temperature       *float64  `json:"temperature"`
	CompletionDelayMs *int      `json:"completion_delay_ms"`
	ScheduleDelayMs   *int      `json:"schedule_delay_ms"`
	CacheCapacity     *int      `json:"cache_capacity"`
	Enabled           *bool     `json:"enabled"`
	LogLevel          *string   `json:"log_level"`
	TranscriptPath    *string   `json:"transcript_path"`
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		ProviderURL:       defaultProviderURL,
		Model:             defaultModel,
		PromptTemplate:    promptTemplate,
		MaxTokens:         defaultMaxTokens,
		Stop:              defaultStopSequences(),
		Temperature:       defaultTemperature,
		CompletionDelayMs: defaultCompletionDelayMs,
		ScheduleDelayMs:   defaultScheduleDelayMs,
		CacheCapacity:     defaultCacheCapacity,
		Enabled:           true,
		LogLevel:          defaultLogLevel,
	}
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if strings.TrimSpace(c.ProviderURL) == "" {
		validationErrors = append(validationErrors, errors.New("provider_url cannot be empty"))
	} else {
		parsedURL, err := url.ParseRequestURI(c.ProviderURL)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid provider_url format: %w", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			validationErrors = append(validationErrors, fmt.Errorf("invalid provider_url scheme '%s', must be http or https", parsedURL.Scheme))
		}
	}
	if strings.TrimSpace(c.Model) == "" {
		validationErrors = append(validationErrors, errors.New("model cannot be empty"))
	}
	if c.MaxTokens <= 0 {
		logger.Warn("Config validation: max_tokens is not positive, applying default.", "configured_value", c.MaxTokens, "default", tempDefault.MaxTokens)
		c.MaxTokens = tempDefault.MaxTokens
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		logger.Warn("Config validation: temperature is outside reasonable range [0.0, 2.0], applying default.", "configured_value", c.Temperature, "default", tempDefault.Temperature)
		validationErrors = append(validationErrors, fmt.Errorf("temperature %f is outside valid range [0.0, 2.0]", c.Temperature))
		c.Temperature = tempDefault.Temperature
	}
	if c.CompletionDelayMs <= 0 {
		logger.Warn("Config validation: completion_delay_ms is not positive, applying default.", "configured_value", c.CompletionDelayMs, "default", tempDefault.CompletionDelayMs)
		c.CompletionDelayMs = tempDefault.CompletionDelayMs
	}
	if c.ScheduleDelayMs < 0 {
		logger.Warn("Config validation: schedule_delay_ms is negative, applying default.", "configured_value", c.ScheduleDelayMs, "default", tempDefault.ScheduleDelayMs)
		c.ScheduleDelayMs = tempDefault.ScheduleDelayMs
	}
	if c.CacheCapacity <= 0 {
		logger.Warn("Config validation: cache_capacity is not positive, applying default.", "configured_value", c.CacheCapacity, "default", tempDefault.CacheCapacity)
		c.CacheCapacity = tempDefault.CacheCapacity
	}
	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else {
		_, err := ParseLogLevel(c.LogLevel)
		if err != nil {
			logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
			validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
			c.LogLevel = defaultLogLevel
		}
	}
	if c.Stop == nil {
		logger.Warn("Config validation: stop sequences list is nil, applying default.", "default", tempDefault.Stop)
		c.Stop = make([]string, len(tempDefault.Stop))
		copy(c.Stop, tempDefault.Stop)
	}

	if c.PromptTemplate == "" {
		c.PromptTemplate = promptTemplate
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Document & Pipeline Types
// =============================================================================

// Position is a 0-based document coordinate: line index and byte column
// within the line.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// String implements fmt.Stringer for log output.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// ContextWindow is the bounded slice of document text surrounding the cursor
// that a completion request is built from. None of its fields ever contain
// the overlay text of an active, unaccepted suggestion.
type ContextWindow struct {
	Before            string // Up to maxBeforeLines non-blank lines above the cursor, top-to-bottom.
	CurrentLinePrefix string // The cursor's line from column 0 to the cursor (or the suggestion anchor).
	After             string // Up to maxAfterLines non-blank lines below the cursor.
}

// ActiveSuggestion is the single live ghost-text overlay. The controller owns
// it exclusively; at most one instance exists at any time.
type ActiveSuggestion struct {
	Anchor Position // Coordinate where the overlay text begins.
	Text   string   // The displayed (uncommitted) suffix.
}

// End returns the position immediately after the suggestion text. Overlay
// text never contains newlines, so only the column advances.
func (s ActiveSuggestion) End() Position {
	return Position{Line: s.Anchor.Line, Col: s.Anchor.Col + len(s.Text)}
}

// Stats is a point-in-time snapshot of pipeline state, for display.
type Stats struct {
	CacheSize         int    `json:"cache_size"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"max_tokens"`
	CompletionDelayMs int    `json:"completion_delay_ms"`
}

// =============================================================================
// Provider Types
// =============================================================================

// ProviderOptions is the fixed option set passed to every provider call.
type ProviderOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// ProviderError carries an HTTP status alongside a provider failure message.
type ProviderError struct {
	Message string
	Status  int // HTTP status code, if available.
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error: %s (Status: %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// providerResponse is a single streamed chunk from an Ollama-style endpoint.
type providerResponse struct {
	Response string `json:"response"`        // The generated text chunk.
	Done     bool   `json:"done"`            // Indicates the stream is complete.
	Error    string `json:"error,omitempty"` // Error message from the endpoint, if any.
}
