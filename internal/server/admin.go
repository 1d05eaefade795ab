package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"relaywatch/internal/probe"
	"relaywatch/internal/store"
)

// reconcile resynchronizes the scheduler after a configuration change.
// Failures are logged rather than surfaced: the mutation itself already
// committed.
func (a *API) reconcile() {
	if a.reconciler == nil {
		return
	}
	if err := a.reconciler.Reconcile(context.Background()); err != nil {
		slog.Error("reconcile after mutation failed", "error", err)
	}
}

func override[T any](dst, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Providers

func (a *API) handleAdminListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := a.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load providers failed")
		return
	}
	views := make([]providerAdminView, 0, len(providers))
	for _, p := range providers {
		views = append(views, adminProviderView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var payload providerPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	provider := store.Provider{Enabled: true}
	override(&provider.Name, payload.Name)
	override(&provider.BaseURL, payload.BaseURL)
	override(&provider.AuthToken, payload.AuthToken)
	override(&provider.Website, payload.Website)
	override(&provider.Enabled, payload.Enabled)
	override(&provider.IntervalSeconds, payload.IntervalSeconds)
	override(&provider.TimeoutSeconds, payload.TimeoutSeconds)
	provider.ModelNameMapping = encodeNameMapping(payload.ModelNameMapping)

	provider.Name = strings.TrimSpace(provider.Name)
	provider.BaseURL = strings.TrimSpace(provider.BaseURL)
	if provider.Name == "" || provider.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "name and base_url are required")
		return
	}

	if err := a.store.CreateProvider(r.Context(), &provider); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "provider name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "create provider failed")
		return
	}
	if len(payload.Models) > 0 {
		links := make([]store.ProviderModel, 0, len(payload.Models))
		for _, link := range payload.Models {
			links = append(links, store.ProviderModel{
				ProviderID:   provider.ID,
				ModelID:      link.ModelID,
				Enabled:      link.Enabled,
				CustomPrompt: link.CustomPrompt,
			})
		}
		if err := a.store.ReplaceProviderModels(r.Context(), provider.ID, links); err != nil {
			writeError(w, http.StatusInternalServerError, "attach provider models failed")
			return
		}
	}
	a.reconcile()
	writeJSON(w, http.StatusCreated, adminProviderView(provider))
}

func (a *API) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	var payload providerPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	provider, err := a.store.GetProvider(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load provider failed")
		return
	}

	override(&provider.Name, payload.Name)
	override(&provider.BaseURL, payload.BaseURL)
	override(&provider.AuthToken, payload.AuthToken)
	override(&provider.Website, payload.Website)
	override(&provider.Enabled, payload.Enabled)
	override(&provider.IntervalSeconds, payload.IntervalSeconds)
	override(&provider.TimeoutSeconds, payload.TimeoutSeconds)
	// An absent mapping leaves the stored one alone; an empty object
	// clears it.
	if payload.ModelNameMapping != nil {
		provider.ModelNameMapping = encodeNameMapping(payload.ModelNameMapping)
	}

	if err := a.store.UpdateProvider(r.Context(), provider); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "provider name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "update provider failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, adminProviderView(*provider))
}

func (a *API) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	err := a.store.DeleteProvider(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete provider failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}

func (a *API) handleListProviderModels(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	links, err := a.store.ListProviderModels(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load provider models failed")
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// handleReplaceProviderModels swaps the provider's whole link set in one
// transaction.
func (a *API) handleReplaceProviderModels(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	var payload []linkPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := a.store.GetProvider(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load provider failed")
		return
	}
	links := make([]store.ProviderModel, 0, len(payload))
	for _, link := range payload {
		links = append(links, store.ProviderModel{
			ProviderID:   id,
			ModelID:      link.ModelID,
			Enabled:      link.Enabled,
			CustomPrompt: link.CustomPrompt,
		})
	}
	if err := a.store.ReplaceProviderModels(r.Context(), id, links); err != nil {
		writeError(w, http.StatusInternalServerError, "replace provider models failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "updated"})
}

// Models

func (a *API) handleAdminListModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.store.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load models failed")
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (a *API) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var payload modelPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	model := store.Model{Enabled: true}
	override(&model.Name, payload.Name)
	override(&model.ModelName, payload.ModelName)
	override(&model.DisplayName, payload.DisplayName)
	override(&model.DefaultPrompt, payload.DefaultPrompt)
	override(&model.SystemPrompt, payload.SystemPrompt)
	override(&model.TemplateID, payload.TemplateID)
	override(&model.Enabled, payload.Enabled)
	override(&model.SortOrder, payload.SortOrder)

	model.Name = strings.TrimSpace(model.Name)
	model.ModelName = strings.TrimSpace(model.ModelName)
	if model.Name == "" || model.ModelName == "" {
		writeError(w, http.StatusBadRequest, "name and model_name are required")
		return
	}
	if model.DisplayName == "" {
		model.DisplayName = model.Name
	}

	if err := a.store.CreateModel(r.Context(), &model); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "model name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "create model failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusCreated, model)
}

func (a *API) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid model id")
		return
	}
	var payload modelPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	model, err := a.store.GetModel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load model failed")
		return
	}

	override(&model.Name, payload.Name)
	override(&model.ModelName, payload.ModelName)
	override(&model.DisplayName, payload.DisplayName)
	override(&model.DefaultPrompt, payload.DefaultPrompt)
	override(&model.SystemPrompt, payload.SystemPrompt)
	override(&model.TemplateID, payload.TemplateID)
	override(&model.Enabled, payload.Enabled)
	override(&model.SortOrder, payload.SortOrder)

	if err := a.store.UpdateModel(r.Context(), model); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "model name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "update model failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, model)
}

func (a *API) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid model id")
		return
	}
	err := a.store.DeleteModel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete model failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}

// Templates

func (a *API) handleAdminListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load templates failed")
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templatePayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	template := store.RequestTemplate{Method: "POST", URLPath: "/v1/messages"}
	override(&template.Name, payload.Name)
	override(&template.Description, payload.Description)
	override(&template.Method, payload.Method)
	override(&template.URLPath, payload.URLPath)
	override(&template.Headers, payload.Headers)
	override(&template.Body, payload.Body)

	template.Name = strings.TrimSpace(template.Name)
	if template.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validateTemplate(&template); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.store.CreateTemplate(r.Context(), &template); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "template name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "create template failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusCreated, template)
}

func (a *API) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	var payload templatePayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	template, err := a.store.GetTemplate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load template failed")
		return
	}

	override(&template.Name, payload.Name)
	override(&template.Description, payload.Description)
	override(&template.Method, payload.Method)
	override(&template.URLPath, payload.URLPath)
	override(&template.Headers, payload.Headers)
	override(&template.Body, payload.Body)

	// The merged template is validated, so a partial update cannot leave
	// an unrenderable template behind.
	if err := validateTemplate(template); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.store.UpdateTemplate(r.Context(), template); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "template name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "update template failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, template)
}

func (a *API) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	err := a.store.DeleteTemplate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete template failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}

// Status rules

func validCategory(c store.Category) bool {
	switch c {
	case store.CategoryGreen, store.CategoryYellow, store.CategoryRed:
		return true
	}
	return false
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := store.StatusRule{Category: store.CategoryYellow}
	override(&rule.Name, payload.Name)
	override(&rule.HTTPCodePattern, payload.HTTPCodePattern)
	override(&rule.ResponseRegex, payload.ResponseRegex)
	override(&rule.Priority, payload.Priority)
	if payload.Category != nil {
		rule.Category = store.Category(*payload.Category)
	}

	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validCategory(rule.Category) {
		writeError(w, http.StatusBadRequest, "category must be green, yellow or red")
		return
	}
	if rule.Priority < 0 {
		writeError(w, http.StatusBadRequest, "priority must not be negative")
		return
	}
	if payload.Code != nil {
		if *payload.Code < 0 {
			writeError(w, http.StatusBadRequest, "negative status codes are reserved")
			return
		}
		rule.Code = *payload.Code
	} else {
		code, err := a.nextRuleCode(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "allocate status code failed")
			return
		}
		rule.Code = code
	}

	if err := a.store.CreateStatusRule(r.Context(), &rule); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "status code already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "create status rule failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusCreated, rule)
}

// nextRuleCode picks the smallest unused non-negative code above every
// existing one.
func (a *API) nextRuleCode(ctx context.Context) (int, error) {
	rules, err := a.store.ListStatusRules(ctx)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, rule := range rules {
		if rule.Code >= next {
			next = rule.Code + 1
		}
	}
	return next, nil
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(r, "code")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status code")
		return
	}
	if code == store.UnknownStatusCode {
		writeError(w, http.StatusBadRequest, "the reserved unknown rule cannot be modified")
		return
	}
	var payload rulePayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule, err := a.store.GetStatusRule(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "status rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rule failed")
		return
	}

	override(&rule.Name, payload.Name)
	override(&rule.HTTPCodePattern, payload.HTTPCodePattern)
	override(&rule.ResponseRegex, payload.ResponseRegex)
	override(&rule.Priority, payload.Priority)
	if payload.Category != nil {
		rule.Category = store.Category(*payload.Category)
	}

	if !validCategory(rule.Category) {
		writeError(w, http.StatusBadRequest, "category must be green, yellow or red")
		return
	}
	if rule.Priority < 0 {
		writeError(w, http.StatusBadRequest, "priority must not be negative")
		return
	}

	if err := a.store.UpdateStatusRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "update status rule failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(r, "code")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status code")
		return
	}
	if code == store.UnknownStatusCode {
		writeError(w, http.StatusBadRequest, "the reserved unknown rule cannot be deleted")
		return
	}
	err := a.store.DeleteStatusRule(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "status rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete status rule failed")
		return
	}
	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}

// Unmatched-message triage

func (a *API) handleListUnmatched(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", 50)
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	messages, total, err := a.store.ListUnmatchedMessages(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load unmatched messages failed")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(messages, total, page, pageSize))
}

func (a *API) handlePreviewRule(w http.ResponseWriter, r *http.Request) {
	var payload previewRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Regex = strings.TrimSpace(payload.Regex)
	if payload.Regex == "" {
		writeError(w, http.StatusBadRequest, "regex is required")
		return
	}
	pattern, err := regexp.Compile(payload.Regex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid regex: "+err.Error())
		return
	}

	retained, err := a.store.ListRetainedMessages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load retained messages failed")
		return
	}

	counts := map[string]int64{}
	order := []string{}
	for _, row := range retained {
		if !pattern.MatchString(row.Message) {
			continue
		}
		if _, seen := counts[row.Message]; !seen {
			order = append(order, row.Message)
		}
		counts[row.Message]++
	}
	matches := make([]previewMatch, 0, len(order))
	for _, message := range order {
		matches = append(matches, previewMatch{Message: message, Count: counts[message]})
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleApplyRule reclassifies every retained message matching the
// rule's regex in one transaction.
func (a *API) handleApplyRule(w http.ResponseWriter, r *http.Request) {
	code, ok := pathCode(r, "code")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status code")
		return
	}
	rule, err := a.store.GetStatusRule(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "status rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rule failed")
		return
	}
	if strings.TrimSpace(rule.ResponseRegex) == "" {
		writeError(w, http.StatusBadRequest, "rule has no response regex")
		return
	}
	pattern, err := regexp.Compile(rule.ResponseRegex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "rule regex is invalid: "+err.Error())
		return
	}

	retained, err := a.store.ListRetainedMessages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load retained messages failed")
		return
	}
	var ids []int64
	for _, row := range retained {
		if pattern.MatchString(row.Message) {
			ids = append(ids, row.ID)
		}
	}

	var updated int64
	if len(ids) > 0 {
		updated, err = a.store.ReclassifyProbeRecords(r.Context(), ids, rule.Code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "reclassify records failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, applyResponse{
		Message:      fmt.Sprintf("updated %d records", updated),
		UpdatedCount: updated,
	})
}

// Globals

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	globals, err := a.store.ListGlobals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load config failed")
		return
	}
	writeJSON(w, http.StatusOK, configView{
		CheckIntervalSeconds: globalInt(globals, store.GlobalCheckIntervalSeconds, 300),
		CheckTimeoutSeconds:  globalInt(globals, store.GlobalCheckTimeoutSeconds, 120),
		DataRetentionDays:    globalInt(globals, store.GlobalDataRetentionDays, 30),
		HasAdminPassword:     strings.TrimSpace(globals[store.GlobalAdminPasswordHash]) != "",
	})
}

func globalInt(globals map[string]string, key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(globals[key]))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var payload configUpdate
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	set := func(key string, value *int) bool {
		if value == nil {
			return true
		}
		if *value < 1 {
			writeError(w, http.StatusBadRequest, key+" must be positive")
			return false
		}
		if err := a.store.SetGlobal(r.Context(), key, strconv.Itoa(*value)); err != nil {
			writeError(w, http.StatusInternalServerError, "update config failed")
			return false
		}
		return true
	}
	if !set(store.GlobalCheckIntervalSeconds, payload.CheckIntervalSeconds) {
		return
	}
	if !set(store.GlobalCheckTimeoutSeconds, payload.CheckTimeoutSeconds) {
		return
	}
	if !set(store.GlobalDataRetentionDays, payload.DataRetentionDays) {
		return
	}

	// Only a non-empty password changes the hash. Clearing the password
	// is done with the -set-admin-password flag.
	if payload.AdminPassword != nil && *payload.AdminPassword != "" {
		hash, err := HashAdminPassword(*payload.AdminPassword)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash password failed")
			return
		}
		if err := a.store.SetGlobal(r.Context(), store.GlobalAdminPasswordHash, hash); err != nil {
			writeError(w, http.StatusInternalServerError, "update config failed")
			return
		}
	}

	a.reconcile()
	writeJSON(w, http.StatusOK, map[string]any{"message": "updated"})
}

// Manual trigger and cleanup

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	providerID, ok := pathID(r, "provider_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	modelID, ok := pathID(r, "model_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid model id")
		return
	}
	if !a.limiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "trigger rate limit exceeded")
		return
	}

	rec, err := a.prober.Probe(r.Context(), providerID, modelID)
	if errors.Is(err, probe.ErrNotRunnable) {
		writeError(w, http.StatusBadRequest, "provider, model or link is missing or disabled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "probe failed")
		return
	}

	rules, err := a.store.ListStatusRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	category, name := probe.StatusLookup(rules)(rec.StatusCode)
	writeJSON(w, http.StatusOK, triggerResponse{
		StatusCode:     rec.StatusCode,
		StatusName:     name,
		StatusCategory: string(category),
		LatencyMS:      rec.LatencyMS,
		Message:        rec.Message,
	})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if a.cleaner == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup not configured")
		return
	}
	deleted, err := a.cleaner.CleanupOldData(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: deleted})
}
