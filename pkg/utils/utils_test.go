package utils

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if a == b {
		t.Error("expected different request IDs")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("request id %q is not a uuid: %v", a, err)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"req-1", "req-1"},
		{"hello\x00world", "helloworld"},
		{"req-1\r\nSet-Cookie: x", "req-1Set-Cookie: x"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := SanitizeString(tt.input); got != tt.want {
			t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"abcdefghijkl", 10, "abcdefg…"},
		{"abcdef", 2, "ab"},
		{"abcdef", 0, ""},
		{"héllo wörld", 6, "hé…"},
		{"héllo wörld", 5, "h…"},
	}
	for _, tt := range tests {
		got := TruncateString(tt.input, tt.max)
		if got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
		if len(got) > tt.max && tt.max > 0 {
			t.Errorf("TruncateString(%q, %d) returned %d bytes", tt.input, tt.max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("TruncateString(%q, %d) split a rune", tt.input, tt.max)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	if got := MaskSensitive("change-me", 2); got != "ch*******" {
		t.Errorf("MaskSensitive = %q", got)
	}
	if got := MaskSensitive("ab", 4); got != "**" {
		t.Errorf("short secret = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{5 * time.Second, "0:05"},
		{4900 * time.Millisecond, "0:05"},
		{75 * time.Second, "1:15"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{-time.Second, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
