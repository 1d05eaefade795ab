package server

import (
	"strings"
	"testing"

	"relaywatch/internal/store"
)

func TestValidateTemplateMethod(t *testing.T) {
	tpl := &store.RequestTemplate{Method: "post", Headers: "a: b", Body: "{}"}
	if err := validateTemplate(tpl); err != nil {
		t.Fatalf("lowercase method: %v", err)
	}
	if tpl.Method != "POST" {
		t.Fatalf("method not normalized: %q", tpl.Method)
	}

	for _, method := range []string{"TRACE", "OPTIONS", ""} {
		bad := &store.RequestTemplate{Method: method, Headers: "a: b", Body: "{}"}
		if err := validateTemplate(bad); err == nil {
			t.Fatalf("method %q should be rejected", method)
		}
	}
}

func TestValidateTemplateHeaders(t *testing.T) {
	tpl := &store.RequestTemplate{Method: "POST", Headers: "content-type: application/json\n\nx-api-key: {key}", Body: "{}"}
	if err := validateTemplate(tpl); err != nil {
		t.Fatalf("blank lines are allowed: %v", err)
	}

	tpl = &store.RequestTemplate{Method: "POST", Headers: "content-type: application/json\nnot a header", Body: "{}"}
	err := validateTemplate(tpl)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected the offending line number, got %v", err)
	}
}

func TestValidateTemplateBody(t *testing.T) {
	tpl := &store.RequestTemplate{Method: "POST", Headers: "a: b", Body: `{"model":"{model}","prompt":"{user_prompt}"}`}
	if err := validateTemplate(tpl); err != nil {
		t.Fatalf("placeholders substitute before validation: %v", err)
	}

	tpl = &store.RequestTemplate{Method: "POST", Headers: "a: b", Body: "{oops"}
	if err := validateTemplate(tpl); err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("bad body: %v", err)
	}
}

func TestValidateTemplateUnknownVars(t *testing.T) {
	tpl := &store.RequestTemplate{
		Method:  "POST",
		URLPath: "/v1/{zone}/messages",
		Headers: "authorization: Bearer {token}",
		Body:    `{"model":"{model}"}`,
	}
	err := validateTemplate(tpl)
	if err == nil {
		t.Fatalf("unknown variables must be rejected")
	}
	if !strings.Contains(err.Error(), "token, zone") {
		t.Fatalf("unknown variables should be listed sorted, got %v", err)
	}
}
