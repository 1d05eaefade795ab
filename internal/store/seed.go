package store

import (
	"context"
	"errors"
	"fmt"
)

// DefaultGlobals are the settings seeded into an empty globals table.
// An empty admin password hash leaves the admin API open until one is set.
func DefaultGlobals() map[string]string {
	return map[string]string{
		GlobalCheckIntervalSeconds: "300",
		GlobalCheckTimeoutSeconds:  "120",
		GlobalDataRetentionDays:    "30",
		GlobalAdminPasswordHash:    "",
	}
}

// DefaultStatusRules cover the common failure modes out of the box.
// The reserved unknown rule carries no patterns; it exists so clients can
// resolve code -1 to a name and category.
func DefaultStatusRules() []StatusRule {
	return []StatusRule{
		{Code: 0, Name: "ok", Category: CategoryGreen, HTTPCodePattern: "200", Priority: 10000},
		{Code: 2, Name: "overloaded", Category: CategoryRed, HTTPCodePattern: "429,529", ResponseRegex: "rate.?limit|overloaded", Priority: 100},
		{Code: 3, Name: "client error", Category: CategoryRed, HTTPCodePattern: "4xx", Priority: 50},
		{Code: 4, Name: "server error", Category: CategoryRed, HTTPCodePattern: "5xx", Priority: 50},
		{Code: 1, Name: "timeout", Category: CategoryRed, ResponseRegex: "^timeout", Priority: 10},
		{Code: UnknownStatusCode, Name: "unknown", Category: CategoryYellow, Priority: 0},
	}
}

func defaultTemplates() []RequestTemplate {
	return []RequestTemplate{
		{
			Name:        "Anthropic Messages",
			Description: "Anthropic-compatible /v1/messages streaming probe",
			Method:      "POST",
			URLPath:     "/v1/messages",
			Headers: "content-type: application/json\n" +
				"anthropic-version: 2023-06-01\n" +
				"authorization: Bearer {key}",
			Body: `{"model":"{model}","max_tokens":1024,"stream":true,"system":"{system_prompt}","messages":[{"role":"user","content":"{user_prompt}"}]}`,
		},
		{
			Name:        "OpenAI Chat Completions",
			Description: "OpenAI-compatible /v1/chat/completions streaming probe",
			Method:      "POST",
			URLPath:     "/v1/chat/completions",
			Headers: "content-type: application/json\n" +
				"authorization: Bearer {key}",
			Body: `{"model":"{model}","max_tokens":1024,"stream":true,"messages":[{"role":"system","content":"{system_prompt}"},{"role":"user","content":"{user_prompt}"}]}`,
		},
	}
}

func defaultModels(templateID int64) []Model {
	const (
		prompt = "ping, only respond with 'pong'"
		system = "Reply with as few words as possible."
	)
	return []Model{
		{Name: "claude-haiku", ModelName: "claude-3-5-haiku-latest", DisplayName: "Claude Haiku", DefaultPrompt: prompt, SystemPrompt: system, TemplateID: templateID, Enabled: true, SortOrder: 1},
		{Name: "claude-sonnet", ModelName: "claude-sonnet-4-0", DisplayName: "Claude Sonnet", DefaultPrompt: prompt, SystemPrompt: system, TemplateID: templateID, Enabled: true, SortOrder: 2},
		{Name: "claude-opus", ModelName: "claude-opus-4-1", DisplayName: "Claude Opus", DefaultPrompt: prompt, SystemPrompt: system, TemplateID: templateID, Enabled: true, SortOrder: 3},
	}
}

// EnsureDefaults seeds missing globals, status rules, and (only into an
// otherwise empty installation) the stock templates and models. Safe to
// call on every startup.
func EnsureDefaults(ctx context.Context, s Store) error {
	for key, value := range DefaultGlobals() {
		_, err := s.GetGlobal(ctx, key)
		if errors.Is(err, ErrNotFound) {
			if err := s.SetGlobal(ctx, key, value); err != nil {
				return fmt.Errorf("seed global %s: %w", key, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read global %s: %w", key, err)
		}
	}

	existing, err := s.ListStatusRules(ctx)
	if err != nil {
		return fmt.Errorf("list status rules: %w", err)
	}
	if len(existing) == 0 {
		for _, rule := range DefaultStatusRules() {
			r := rule
			if err := s.CreateStatusRule(ctx, &r); err != nil {
				return fmt.Errorf("seed status rule %d: %w", r.Code, err)
			}
		}
	} else if _, err := s.GetStatusRule(ctx, UnknownStatusCode); errors.Is(err, ErrNotFound) {
		unknown := StatusRule{Code: UnknownStatusCode, Name: "unknown", Category: CategoryYellow}
		if err := s.CreateStatusRule(ctx, &unknown); err != nil {
			return fmt.Errorf("seed unknown status rule: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read unknown status rule: %w", err)
	}

	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	var anthropicID int64
	if len(templates) == 0 {
		for i, tpl := range defaultTemplates() {
			t := tpl
			if err := s.CreateTemplate(ctx, &t); err != nil {
				return fmt.Errorf("seed template %s: %w", t.Name, err)
			}
			if i == 0 {
				anthropicID = t.ID
			}
		}
	}

	models, err := s.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if len(models) == 0 && anthropicID != 0 {
		for _, model := range defaultModels(anthropicID) {
			m := model
			if err := s.CreateModel(ctx, &m); err != nil {
				return fmt.Errorf("seed model %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
