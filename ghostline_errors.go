// ghostline/errors.go
// Contains exported error definitions for the ghostline package.
package ghostline

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProvider indicates a failure returned by the completion provider.
	ErrProvider = errors.New("completion provider error")

	// ErrProviderUnavailable indicates failure communicating with the provider endpoint.
	ErrProviderUnavailable = errors.New("completion provider unavailable")

	// ErrStreamProcessing indicates an error reading or processing the provider response stream.
	ErrStreamProcessing = errors.New("error processing provider stream")

	// ErrEmptyCompletion indicates the provider returned no usable text.
	ErrEmptyCompletion = errors.New("no completion available")

	// ErrStaleResult indicates a completion arrived after the cursor moved away
	// from the position it was requested for. Discarded silently, never surfaced.
	ErrStaleResult = errors.New("stale completion result")

	// ErrSpanMismatch indicates the document span at a suggestion's anchor no
	// longer contains the remembered suggestion text.
	ErrSpanMismatch = errors.New("suggestion span mismatch")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the document or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrTranscript indicates a transcript store operation failure.
	ErrTranscript = errors.New("transcript store operation failed")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)
