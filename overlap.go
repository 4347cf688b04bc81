// ghostline/overlap.go
// Reconciles a raw completion against the token the user is mid-typing,
// producing only the non-redundant suffix to display.
package ghostline

import (
	"log/slog"
	"strings"
)

// OverlapResolver trims the overlapping part between what the user has
// already typed and a raw completion. Matching is case-insensitive; output
// preserves the completion's original casing. An empty result means there is
// nothing left to display.
type OverlapResolver struct {
	logger *slog.Logger
}

// NewOverlapResolver returns a resolver logging its chosen strategy at debug level.
func NewOverlapResolver(logger *slog.Logger) *OverlapResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverlapResolver{logger: logger}
}

// Resolve returns the part of rawCompletion that extends beyond currentWord,
// the last whitespace-delimited token before the cursor. Strategies are tried
// in order; the first match wins:
//
//  1. rawCompletion starts with currentWord: return the remainder.
//  2. currentWord occurs anywhere inside rawCompletion: return everything
//     after the first occurrence's end.
//  3. some whitespace-delimited token of rawCompletion starts with
//     currentWord: return that token's remainder followed by the remaining
//     tokens joined by single spaces.
//  4. no overlap: return rawCompletion unchanged.
//
// An empty currentWord short-circuits and returns rawCompletion unchanged.
func (r *OverlapResolver) Resolve(currentWord, rawCompletion string) string {
	if currentWord == "" {
		return rawCompletion
	}

	wordLower := strings.ToLower(currentWord)
	completionLower := strings.ToLower(rawCompletion)

	if strings.HasPrefix(completionLower, wordLower) {
		trimmed := rawCompletion[len(currentWord):]
		r.logger.Debug("Overlap resolved by prefix match.", "current_word", currentWord)
		return trimmed
	}

	if pos := strings.Index(completionLower, wordLower); pos >= 0 {
		trimmed := rawCompletion[pos+len(currentWord):]
		r.logger.Debug("Overlap resolved by substring match.", "current_word", currentWord, "offset", pos)
		return trimmed
	}

	tokens := strings.Fields(rawCompletion)
	for i, token := range tokens {
		if strings.HasPrefix(strings.ToLower(token), wordLower) {
			remainder := token[len(currentWord):]
			rest := tokens[i+1:]
			r.logger.Debug("Overlap resolved by token-prefix match.", "current_word", currentWord, "token", token)
			if len(rest) > 0 {
				return remainder + " " + strings.Join(rest, " ")
			}
			return remainder
		}
	}

	r.logger.Debug("No overlap found, returning completion unchanged.", "current_word", currentWord)
	return rawCompletion
}

// CurrentWordOf extracts the last whitespace-delimited token of a line
// prefix, the token the user is mid-typing. Empty for a blank prefix.
func CurrentWordOf(linePrefix string) string {
	fields := strings.Fields(linePrefix)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
