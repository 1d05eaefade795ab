package checker

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return payload
}

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "content blocks concatenated",
			raw:  `{"content":[{"type":"text","text":"po"},{"type":"tool_use","id":"t1"},{"type":"text","text":"ng"}]}`,
			want: "pong",
		},
		{
			name: "choices with message",
			raw:  `{"choices":[{"message":{"content":"pong"}}]}`,
			want: "pong",
		},
		{
			name: "choices with completion text",
			raw:  `{"choices":[{"text":"pong"}]}`,
			want: "pong",
		},
		{
			name: "unknown shape falls back to raw body",
			raw:  `{"result":"pong"}`,
			want: `{"result":"pong"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractText(decode(t, tc.raw), []byte(tc.raw)); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExtractStreamText(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "anthropic text delta",
			raw:  `{"type":"content_block_delta","delta":{"type":"text_delta","text":"po"}}`,
			want: "po",
		},
		{
			name: "openai chat delta",
			raw:  `{"choices":[{"delta":{"content":"ng"}}]}`,
			want: "ng",
		},
		{
			name: "non-text delta ignored",
			raw:  `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`,
			want: "",
		},
		{
			name: "lifecycle chunk ignored",
			raw:  `{"type":"message_start"}`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractStreamText(decode(t, tc.raw)); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
