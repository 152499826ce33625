package utils

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}

	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
}

func TestGenerateTokenID(t *testing.T) {
	if !strings.HasPrefix(GenerateTokenID(), "tok_") {
		t.Error("expected prefix 'tok_'")
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with tabs", "hello\tworld", "hello\tworld"},
		{"with whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeString(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string", "hello", 10, "hello"},
		{"long string", "hello world", 5, "he..."},
		{"very short max", "hello", 2, "he"},
		{"exact length", "hello", 5, "hello"},
		{"multibyte cut on rune boundary", "яяяяяяяяяя", 5, "яя..."},
		{"multibyte within limit", "héllo", 5, "héllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateString(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
			if !utf8.ValidString(result) {
				t.Errorf("TruncateString(%q, %d) produced invalid UTF-8", tt.input, tt.maxLen)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{100 * time.Millisecond, "100ms"},
		{2 * time.Second, "2.00s"},
		{2*time.Minute + 30*time.Second, "2m30s"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.duration.String(), func(t *testing.T) {
			result := FormatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestParseDurationSafe(t *testing.T) {
	if d := ParseDurationSafe("5s", time.Minute); d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
	if d := ParseDurationSafe("garbage", time.Minute); d != time.Minute {
		t.Errorf("expected fallback to 1m, got %v", d)
	}
	if d := ParseDurationSafe("", time.Minute); d != time.Minute {
		t.Errorf("expected fallback for empty string, got %v", d)
	}
}
