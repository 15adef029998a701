package security

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// Sanitizer cleans user-supplied text before it is stored or broadcast
type Sanitizer struct {
	config *SanitizerConfig
}

// SanitizerConfig holds sanitizer configuration
type SanitizerConfig struct {
	// Strip all HTML tags
	StripHTML bool

	// Trim whitespace
	TrimWhitespace bool

	// Remove null bytes
	RemoveNullBytes bool

	// Remove control characters (newlines and tabs are kept)
	RemoveControlChars bool
}

// DefaultSanitizerConfig returns a default sanitizer configuration
func DefaultSanitizerConfig() *SanitizerConfig {
	return &SanitizerConfig{
		StripHTML:          true,
		TrimWhitespace:     true,
		RemoveNullBytes:    true,
		RemoveControlChars: true,
	}
}

// NewSanitizer creates a new sanitizer instance
func NewSanitizer(config *SanitizerConfig) *Sanitizer {
	if config == nil {
		config = DefaultSanitizerConfig()
	}
	return &Sanitizer{config: config}
}

// Sanitize sanitizes a string according to the configuration
func (s *Sanitizer) Sanitize(input string) string {
	result := input

	if s.config.RemoveNullBytes {
		result = strings.ReplaceAll(result, "\x00", "")
	}
	if s.config.RemoveControlChars {
		result = controlPattern.ReplaceAllString(result, "")
	}
	if s.config.StripHTML {
		result = StripHTML(result)
	}
	if s.config.TrimWhitespace {
		result = strings.TrimSpace(result)
	}
	return result
}

// StripHTML removes all HTML tags and decodes entities
func StripHTML(input string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(input, ""))
}
