package probe

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"relaywatch/internal/store"
)

// Outcome is the classification of one probe result.
type Outcome struct {
	StatusCode int
	Matched    bool
	Category   store.Category
	StatusName string
}

// RuleSource yields the current rule set. Rules are re-read on every
// classification so edits apply without a restart.
type RuleSource interface {
	ListStatusRules(ctx context.Context) ([]store.StatusRule, error)
}

type Classifier struct {
	rules RuleSource
}

func NewClassifier(rules RuleSource) *Classifier {
	return &Classifier{rules: rules}
}

func (c *Classifier) Classify(ctx context.Context, output string, httpStatus int) (Outcome, error) {
	rules, err := c.rules.ListStatusRules(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load status rules: %w", err)
	}
	return Evaluate(rules, output, httpStatus), nil
}

// Evaluate walks the rules in descending priority order and returns the
// first hit. A rule with neither pattern configured is inert and skipped; a
// rule with both patterns requires both to match. httpStatus zero means no
// HTTP status was observed, which fails any rule carrying a code pattern.
//
// A green hit always counts as matched. A non-green hit counts as matched
// only when the rule carries a regex; a code-pattern-only non-green hit
// keeps matched=false so the raw message is retained for later triage.
// When no rule hits, the unknown fallback is returned.
func Evaluate(rules []store.StatusRule, output string, httpStatus int) Outcome {
	ordered := make([]store.StatusRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Code < ordered[j].Code
	})

	for _, rule := range ordered {
		if rule.HTTPCodePattern == "" && rule.ResponseRegex == "" {
			continue
		}

		httpMatched := true
		if rule.HTTPCodePattern != "" {
			httpMatched = httpStatus != 0 && matchHTTPCode(rule.HTTPCodePattern, httpStatus)
		}
		regexMatched := true
		if rule.ResponseRegex != "" {
			re, err := regexp.Compile(rule.ResponseRegex)
			regexMatched = err == nil && re.MatchString(output)
		}
		if !httpMatched || !regexMatched {
			continue
		}

		return Outcome{
			StatusCode: rule.Code,
			Matched:    rule.Category == store.CategoryGreen || rule.ResponseRegex != "",
			Category:   rule.Category,
			StatusName: rule.Name,
		}
	}

	return Outcome{
		StatusCode: store.UnknownStatusCode,
		Matched:    false,
		Category:   store.CategoryYellow,
		StatusName: "unknown",
	}
}

// matchHTTPCode reports whether status matches a comma-separated pattern
// list. Each token is either an exact code ("429") or an "Nxx" class
// wildcard ("5xx").
func matchHTTPCode(pattern string, status int) bool {
	code := strconv.Itoa(status)
	for _, token := range strings.Split(pattern, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		if strings.Contains(token, "xx") {
			if strings.HasPrefix(code, strings.ReplaceAll(token, "xx", "")) {
				return true
			}
			continue
		}
		if code == token {
			return true
		}
	}
	return false
}
