package checker

import "strings"

// substitute replaces every {name} placeholder with its escaped value.
// Values are JSON-escaped so tokens and prompts cannot break the rendered
// body's structure.
func substitute(text string, vars map[string]string) string {
	out := text
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", escapeJSON(value))
	}
	return out
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// parseHeaders reads one header per line. A Host line is reported back via
// the second return value rather than kept, the caller pins the request host
// to the probe's base URL. Content-Length lines are dropped, the transport
// computes that itself.
func parseHeaders(template string, vars map[string]string) (map[string]string, bool) {
	headers := map[string]string{}
	hasHost := false
	for _, line := range strings.Split(strings.TrimSpace(template), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = substitute(strings.TrimSpace(value), vars)
		switch strings.ToLower(name) {
		case "host":
			hasHost = true
			continue
		case "content-length":
			continue
		}
		headers[name] = value
	}
	return headers, hasHost
}

func joinURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
