// Package checker executes a single templated HTTP probe against a provider
// endpoint and reports the outcome as a value. Transport errors, timeouts and
// non-200 statuses are carried in the Result, never returned as Go errors.
package checker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Template is the raw request shape a probe is rendered from. Headers holds
// one "Name: value" line per header; Body holds a JSON document. Both may
// reference the placeholders {key}, {model}, {user_prompt} and
// {system_prompt}.
type Template struct {
	Method  string
	URLPath string
	Headers string
	Body    string
}

// Request carries everything one probe call needs.
type Request struct {
	BaseURL      string
	AuthToken    string
	Model        string
	Prompt       string
	SystemPrompt string
	Timeout      time.Duration
	Template     Template
}

// Result is the normalized outcome of one probe. Success is true only for an
// HTTP 200 whose body could be consumed. Error is empty on success.
// HTTPStatus is zero when no usable response was received.
type Result struct {
	Success    bool
	Output     string
	LatencyMS  int64
	Error      string
	HTTPStatus int
}

type Checker interface {
	Check(ctx context.Context, req Request) Result
}

// HTTPChecker renders the template and performs the call over net/http.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker wraps client; pass nil for a default client. The client must
// not carry its own Timeout, the per-request deadline comes from Request.
func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChecker{client: client}
}

func (c *HTTPChecker) Check(ctx context.Context, req Request) Result {
	start := time.Now()

	if req.Template.Headers == "" || req.Template.Body == "" {
		return Result{Error: "missing request template"}
	}

	vars := map[string]string{
		"key":           req.AuthToken,
		"model":         req.Model,
		"user_prompt":   req.Prompt,
		"system_prompt": req.SystemPrompt,
	}

	headers, hasHost := parseHeaders(req.Template.Headers, vars)

	bodyStr := substitute(req.Template.Body, vars)
	var bodyPayload map[string]any
	if err := json.Unmarshal([]byte(bodyStr), &bodyPayload); err != nil {
		return Result{LatencyMS: elapsed(start), Error: fmt.Sprintf("request body is not valid JSON: %v", err)}
	}
	streaming, _ := bodyPayload["stream"].(bool)

	fullURL := joinURL(req.BaseURL, substitute(req.Template.URLPath, vars))

	method := strings.ToUpper(strings.TrimSpace(req.Template.Method))
	if method == "" {
		method = http.MethodPost
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(bodyStr))
	if err != nil {
		return Result{LatencyMS: elapsed(start), Error: fmt.Sprintf("request failed: %v", err)}
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	if hasHost {
		if u, err := url.Parse(req.BaseURL); err == nil && u.Host != "" {
			request.Host = u.Host
		}
	}

	response, err := c.client.Do(request)
	if err != nil {
		return Result{LatencyMS: elapsed(start), Error: requestError(err)}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		return Result{
			Output:     string(body),
			LatencyMS:  elapsed(start),
			Error:      fmt.Sprintf("HTTP %d", response.StatusCode),
			HTTPStatus: response.StatusCode,
		}
	}

	if streaming {
		text, err := collectStream(response.Body)
		if err != nil {
			return Result{LatencyMS: elapsed(start), Error: requestError(err)}
		}
		return Result{Success: true, Output: text, LatencyMS: elapsed(start), HTTPStatus: response.StatusCode}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Result{LatencyMS: elapsed(start), Error: requestError(err)}
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{LatencyMS: elapsed(start), Error: fmt.Sprintf("invalid response JSON: %v", err)}
	}
	return Result{
		Success:    true,
		Output:     extractText(payload, body),
		LatencyMS:  elapsed(start),
		HTTPStatus: response.StatusCode,
	}
}

// collectStream consumes an SSE body, concatenating the text carried by each
// recognized chunk. Unknown chunk shapes and undecodable data lines are
// skipped.
func collectStream(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var sb strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "" || data == "[DONE]" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			continue
		}
		sb.WriteString(extractStreamText(payload))
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func requestError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return "timeout"
	}
	return fmt.Sprintf("request failed: %v", err)
}

func elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
