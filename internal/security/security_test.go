package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("token", "token"))
	assert.False(t, SecureCompare("token", "tokeN"))
	assert.False(t, SecureCompare("token", "token-longer"))
	assert.False(t, SecureCompare("", "token"))
}

func TestSanitizer_Default(t *testing.T) {
	s := NewSanitizer(nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"trims", "  hello \n", "hello"},
		{"strips tags", "<script>alert(1)</script>hi", "alert(1)hi"},
		{"decodes entities", "fish &amp; chips", "fish & chips"},
		{"null bytes", "a\x00b", "ab"},
		{"control chars", "a\x07b\x1bc", "abc"},
		{"keeps newlines", "line one\nline two", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.input))
		})
	}
}

func TestSanitizer_KeepsMarkupWhenConfigured(t *testing.T) {
	s := NewSanitizer(&SanitizerConfig{TrimWhitespace: true, RemoveControlChars: true})
	assert.Equal(t, "<b>bold</b>", s.Sanitize(" <b>bold</b>\x01 "))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a < b", StripHTML("<p>a &lt; b</p>"))
}
