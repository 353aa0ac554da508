package utils

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "req_"))
	assert.Less(t, id1, id2, "request ids sort by creation time")
}

func TestSanitizeString(t *testing.T) {
	tests := map[string]struct {
		input, want string
	}{
		"plain":         {"hello", "hello"},
		"nul dropped":   {"hello\x00world", "hello world"},
		"newlines":      {"line one\nline two\r\n", "line one line two"},
		"tabs and runs": {"  a\t\tb   c ", "a b c"},
		"escape codes":  {"\x1b[31mred\x1b[0m", "[31mred [0m"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := map[string]struct {
		input string
		max   int
		want  string
	}{
		"short":          {"hello", 10, "hello"},
		"exact":          {"hello", 5, "hello"},
		"long":           {"hello world", 5, "he..."},
		"tiny budget":    {"hello", 2, "he"},
		"multibyte edge": {"héllo wörld", 6, "hé..."},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.max)
		})
	}
}

func TestTruncateString_CloseReasonBudget(t *testing.T) {
	reason := strings.Repeat("ü", 100)
	got := TruncateString(reason, 123)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 123)
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "pas********", MaskSensitive("password123", 3))
	assert.Equal(t, "to***", MaskSensitive("token", 2))
	assert.Equal(t, "*****", MaskSensitive("short", 10))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{100 * time.Millisecond, "100ms"},
		{2 * time.Second, "2.00s"},
		{2*time.Minute + 30*time.Second, "2m30s"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
	}
	for _, tt := range tests {
		t.Run(tt.duration.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.duration))
		})
	}
}
