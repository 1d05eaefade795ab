package server

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"relaywatch/internal/store"
)

var templateVarPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

var allowedTemplateVars = map[string]bool{
	"key":           true,
	"model":         true,
	"user_prompt":   true,
	"system_prompt": true,
}

var allowedTemplateMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

// validateTemplate rejects templates the checker could not render:
// unknown placeholder names, malformed header lines, and bodies that are
// not JSON once every placeholder is substituted.
func validateTemplate(t *store.RequestTemplate) error {
	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if !allowedTemplateMethods[method] {
		return fmt.Errorf("method %q not allowed (expected GET, POST, PUT, DELETE or PATCH)", t.Method)
	}
	t.Method = method

	for i, line := range strings.Split(t.Headers, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, ":") {
			return fmt.Errorf("headers line %d must be in 'Name: value' form", i+1)
		}
	}

	probeBody := templateVarPattern.ReplaceAllString(t.Body, "test_value")
	if !json.Valid([]byte(probeBody)) {
		return fmt.Errorf("body is not valid JSON")
	}

	var unknown []string
	seen := map[string]bool{}
	all := t.URLPath + t.Headers + t.Body
	for _, match := range templateVarPattern.FindAllStringSubmatch(all, -1) {
		name := match[1]
		if allowedTemplateVars[name] || seen[name] {
			continue
		}
		seen[name] = true
		unknown = append(unknown, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown template variables: %s (allowed: key, model, user_prompt, system_prompt)",
			strings.Join(unknown, ", "))
	}
	return nil
}
