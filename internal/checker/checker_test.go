package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func unaryTemplate() Template {
	return Template{
		Method:  "POST",
		URLPath: "/v1/messages",
		Headers: "content-type: application/json\nx-api-key: {key}",
		Body:    `{"model":"{model}","max_tokens":16,"stream":false,"prompt":"{user_prompt}"}`,
	}
}

func TestCheckUnarySuccess(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"po"},{"type":"thinking","text":"zzz"},{"type":"text","text":"ng"}]}`)
	}))
	defer server.Close()

	res := NewHTTPChecker(nil).Check(context.Background(), Request{
		BaseURL:   server.URL,
		AuthToken: "sk-live",
		Model:     "m-1",
		Prompt:    `say "hi"`,
		Template:  unaryTemplate(),
	})

	if !res.Success || res.Error != "" {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Output != "pong" {
		t.Fatalf("expected concatenated text blocks, got %q", res.Output)
	}
	if res.HTTPStatus != 200 {
		t.Fatalf("expected status 200, got %d", res.HTTPStatus)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/messages" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotKey != "sk-live" {
		t.Fatalf("auth token not substituted into headers, got %q", gotKey)
	}
	if gotBody["model"] != "m-1" {
		t.Fatalf("model not substituted, got %v", gotBody["model"])
	}
	if gotBody["prompt"] != `say "hi"` {
		t.Fatalf("prompt must survive JSON escaping, got %v", gotBody["prompt"])
	}
}

func TestCheckStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"po\"}}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ng\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	template := unaryTemplate()
	template.Body = `{"model":"{model}","stream":true}`
	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: server.URL, Model: "m-1", Template: template})

	if !res.Success || res.Error != "" {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Output != "pong" {
		t.Fatalf("expected deltas concatenated across chunk shapes, got %q", res.Output)
	}
}

func TestCheckNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer server.Close()

	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: server.URL, Template: unaryTemplate()})

	if res.Success {
		t.Fatalf("non-200 must not be a success")
	}
	if res.Error != "HTTP 503" {
		t.Fatalf("expected HTTP 503 error, got %q", res.Error)
	}
	if res.Output != "overloaded" {
		t.Fatalf("response body should be kept for classification, got %q", res.Output)
	}
	if res.HTTPStatus != 503 {
		t.Fatalf("expected status 503, got %d", res.HTTPStatus)
	}
}

func TestCheckTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	res := NewHTTPChecker(nil).Check(context.Background(), Request{
		BaseURL:  server.URL,
		Timeout:  30 * time.Millisecond,
		Template: unaryTemplate(),
	})

	if res.Error != "timeout" {
		t.Fatalf("expected normalized timeout error, got %q", res.Error)
	}
	if res.HTTPStatus != 0 {
		t.Fatalf("no usable response, status should be 0, got %d", res.HTTPStatus)
	}
}

func TestCheckMissingTemplate(t *testing.T) {
	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: "http://unused.test", Template: Template{Headers: "a: b"}})
	if res.Error != "missing request template" {
		t.Fatalf("empty body should be rejected, got %q", res.Error)
	}
	res = NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: "http://unused.test", Template: Template{Body: "{}"}})
	if res.Error != "missing request template" {
		t.Fatalf("empty headers should be rejected, got %q", res.Error)
	}
}

func TestCheckBadTemplateBody(t *testing.T) {
	template := unaryTemplate()
	template.Body = "{oops"
	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: "http://unused.test", Template: template})
	if !strings.HasPrefix(res.Error, "request body is not valid JSON") {
		t.Fatalf("expected body validation error, got %q", res.Error)
	}
}

func TestCheckMalformedResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>gateway</html>")
	}))
	defer server.Close()

	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: server.URL, Template: unaryTemplate()})
	if res.Success {
		t.Fatalf("undecodable 200 must not be a success")
	}
	if !strings.HasPrefix(res.Error, "invalid response JSON") {
		t.Fatalf("expected decode error, got %q", res.Error)
	}
}

func TestCheckHeaderSpecialLines(t *testing.T) {
	var gotHost string
	var gotLength int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotLength = r.ContentLength
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer server.Close()

	template := unaryTemplate()
	template.Headers = "host: spoof.example\ncontent-length: 5\ncontent-type: application/json"
	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: server.URL, Model: "m-1", Template: template})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	wantHost := strings.TrimPrefix(server.URL, "http://")
	if gotHost != wantHost {
		t.Fatalf("host must be pinned to the base URL, got %q want %q", gotHost, wantHost)
	}
	if gotLength <= 5 {
		t.Fatalf("template content-length must be dropped, got %d", gotLength)
	}
}

func TestCheckMethodDefaultAndURLJoin(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer server.Close()

	template := unaryTemplate()
	template.Method = ""
	template.URLPath = "v1/messages"
	res := NewHTTPChecker(nil).Check(context.Background(), Request{BaseURL: server.URL + "/", Template: template})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("empty method should default to POST, got %s", gotMethod)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("expected joined path /v1/messages, got %q", gotPath)
	}
}
