// ghostline/prompt.go
// Assembles the completion request payload from a context window.
package ghostline

import "fmt"

// PromptFormatter defines the interface for constructing the final prompt
// sent to the completion provider.
type PromptFormatter interface {
	// FormatPrompt combines the context window fields into the final prompt
	// string. Must be deterministic and must not truncate or reorder the
	// window fields.
	FormatPrompt(window ContextWindow, config Config) string
}

// templateFormatter implements PromptFormatter with a fixed instructional
// template. Pure function, no side effects.
type templateFormatter struct{}

// newTemplateFormatter creates a new instance of the default formatter.
func newTemplateFormatter() *templateFormatter { return &templateFormatter{} }

// FormatPrompt fills the template slots with the before-context, the current
// line prefix, and the after-context, in that order, verbatim.
func (f *templateFormatter) FormatPrompt(window ContextWindow, config Config) string {
	template := config.PromptTemplate
	if template == "" {
		template = promptTemplate
	}
	return fmt.Sprintf(template, window.Before, window.CurrentLinePrefix, window.After)
}
