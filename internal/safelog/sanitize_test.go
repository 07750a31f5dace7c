package safelog

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"newline", "a\nb", "a\\nb"},
		{"carriage return", "a\rb", "a\\rb"},
		{"tab", "a\tb", "a\\tb"},
		{"backslash", `a\b`, `a\\b`},
		{"control char", "a\x00b", "a?b"},
		{"plain", "model.safetensors", "model.safetensors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	input := make([]byte, 200)
	for i := range input {
		input[i] = 'a'
	}
	got := Sanitize(string(input))
	want := string(input[:100]) + "...[truncated]"
	if got != want {
		t.Errorf("expected truncation at 100 chars, got length %d", len(got))
	}
}

func TestSanitizeNoTruncationWhenDisabled(t *testing.T) {
	input := make([]byte, 200)
	for i := range input {
		input[i] = 'a'
	}
	got := Sanitize(string(input), 0)
	if got != string(input) {
		t.Error("expected no truncation when maxLength is 0")
	}
}

func TestSanitizeCustomMaxLength(t *testing.T) {
	got := Sanitize("abcdefghij", 5)
	want := "abcde...[truncated]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
