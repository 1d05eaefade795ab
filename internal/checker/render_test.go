package checker

import (
	"encoding/json"
	"testing"
)

func TestSubstituteKeepsBodyValidJSON(t *testing.T) {
	vars := map[string]string{
		"user_prompt":   `back\slash and "quotes"`,
		"system_prompt": "line one\nline two",
	}
	rendered := substitute(`{"p":"{user_prompt}","s":"{system_prompt}"}`, vars)

	var decoded struct {
		P string `json:"p"`
		S string `json:"s"`
	}
	if err := json.Unmarshal([]byte(rendered), &decoded); err != nil {
		t.Fatalf("rendered body must stay valid JSON: %v (%q)", err, rendered)
	}
	if decoded.P != vars["user_prompt"] {
		t.Fatalf("prompt round-trip: got %q want %q", decoded.P, vars["user_prompt"])
	}
	if decoded.S != vars["system_prompt"] {
		t.Fatalf("system prompt round-trip: got %q want %q", decoded.S, vars["system_prompt"])
	}
}

func TestSubstituteLeavesUnknownPlaceholders(t *testing.T) {
	got := substitute("{model} and {nope}", map[string]string{"model": "m-1"})
	if got != "m-1 and {nope}" {
		t.Fatalf("got %q", got)
	}
}

func TestParseHeaders(t *testing.T) {
	cases := []struct {
		name     string
		template string
		want     map[string]string
		wantHost bool
	}{
		{
			name:     "basic with substitution",
			template: "content-type: application/json\nx-api-key: {key}",
			want:     map[string]string{"content-type": "application/json", "x-api-key": "sk-1"},
		},
		{
			name:     "host line detected and removed",
			template: "Host: spoof.example\naccept: */*",
			want:     map[string]string{"accept": "*/*"},
			wantHost: true,
		},
		{
			name:     "content-length dropped",
			template: "Content-Length: 5\naccept: */*",
			want:     map[string]string{"accept": "*/*"},
		},
		{
			name:     "blank and malformed lines skipped",
			template: "accept: */*\n\nnot a header\n",
			want:     map[string]string{"accept": "*/*"},
		},
		{
			name:     "value keeps colons past the first",
			template: "authorization: Bearer a:b:c",
			want:     map[string]string{"authorization": "Bearer a:b:c"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, gotHost := parseHeaders(tc.template, map[string]string{"key": "sk-1"})
			if gotHost != tc.wantHost {
				t.Fatalf("hasHost: got %v want %v", gotHost, tc.wantHost)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for name, value := range tc.want {
				if got[name] != value {
					t.Fatalf("header %q: got %q want %q", name, got[name], value)
				}
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"http://x.test", "/v1/messages", "http://x.test/v1/messages"},
		{"http://x.test/", "/v1/messages", "http://x.test/v1/messages"},
		{"http://x.test", "v1/messages", "http://x.test/v1/messages"},
		{"http://x.test/", "v1/messages", "http://x.test/v1/messages"},
	}
	for _, tc := range cases {
		if got := joinURL(tc.base, tc.path); got != tc.want {
			t.Fatalf("joinURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}
