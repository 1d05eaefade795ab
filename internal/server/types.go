package server

import (
	"encoding/json"
	"time"

	"relaywatch/internal/store"
)

type sessionResponse struct {
	Valid       bool `json:"valid"`
	PasswordSet bool `json:"password_set"`
}

// boardProvider is one row of the public status board. Auth tokens are
// never serialized on the public surface.
type boardProvider struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	BaseURL         string            `json:"base_url"`
	Website         string            `json:"website,omitempty"`
	Enabled         bool              `json:"enabled"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	ModelNameMap    map[string]string `json:"model_name_mapping,omitempty"`
	Models          []boardModel      `json:"models"`
}

type boardModel struct {
	ModelID        int64      `json:"model_id"`
	ModelName      string     `json:"model_name"`
	DisplayName    string     `json:"display_name"`
	Enabled        bool       `json:"enabled"`
	StatusCode     *int       `json:"status_code"`
	StatusName     string     `json:"status_name"`
	StatusCategory string     `json:"status_category"`
	LatencyMS      *int64     `json:"latency_ms"`
	CheckedAt      *time.Time `json:"checked_at"`
}

// historyItem enriches a stored record with the rule name and category
// its status code currently resolves to.
type historyItem struct {
	store.ProbeRecord
	StatusName     string `json:"status_name"`
	StatusCategory string `json:"status_category"`
}

type pageResponse struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int64 `json:"total_pages"`
}

func newPageResponse(items any, total int64, page, pageSize int) pageResponse {
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	return pageResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

type triggerResponse struct {
	StatusCode     int    `json:"status_code"`
	StatusName     string `json:"status_name"`
	StatusCategory string `json:"status_category"`
	LatencyMS      int64  `json:"latency_ms"`
	Message        string `json:"message,omitempty"`
}

type configView struct {
	CheckIntervalSeconds int  `json:"check_interval_seconds"`
	CheckTimeoutSeconds  int  `json:"check_timeout_seconds"`
	DataRetentionDays    int  `json:"data_retention_days"`
	HasAdminPassword     bool `json:"has_admin_password"`
}

type configUpdate struct {
	CheckIntervalSeconds *int    `json:"check_interval_seconds"`
	CheckTimeoutSeconds  *int    `json:"check_timeout_seconds"`
	DataRetentionDays    *int    `json:"data_retention_days"`
	AdminPassword        *string `json:"admin_password"`
}

type previewRequest struct {
	Regex string `json:"regex"`
}

type previewMatch struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

type applyResponse struct {
	Message      string `json:"message"`
	UpdatedCount int64  `json:"updated_count"`
}

type cleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

// Mutation payloads use pointer fields so PUT can carry a subset of
// fields: absent fields leave the stored value untouched.

type providerPayload struct {
	Name             *string           `json:"name"`
	BaseURL          *string           `json:"base_url"`
	AuthToken        *string           `json:"auth_token"`
	Website          *string           `json:"website"`
	Enabled          *bool             `json:"enabled"`
	IntervalSeconds  *int              `json:"interval_seconds"`
	TimeoutSeconds   *int              `json:"timeout_seconds"`
	ModelNameMapping map[string]string `json:"model_name_mapping"`
	Models           []linkPayload     `json:"models"`
}

type linkPayload struct {
	ModelID      int64  `json:"model_id"`
	Enabled      bool   `json:"enabled"`
	CustomPrompt string `json:"custom_prompt"`
}

type modelPayload struct {
	Name          *string `json:"name"`
	ModelName     *string `json:"model_name"`
	DisplayName   *string `json:"display_name"`
	DefaultPrompt *string `json:"default_prompt"`
	SystemPrompt  *string `json:"system_prompt"`
	TemplateID    *int64  `json:"template_id"`
	Enabled       *bool   `json:"enabled"`
	SortOrder     *int    `json:"sort_order"`
}

type templatePayload struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Method      *string `json:"method"`
	URLPath     *string `json:"url_path"`
	Headers     *string `json:"headers"`
	Body        *string `json:"body"`
}

type rulePayload struct {
	Code            *int    `json:"code"`
	Name            *string `json:"name"`
	Category        *string `json:"category"`
	HTTPCodePattern *string `json:"http_code_pattern"`
	ResponseRegex   *string `json:"response_regex"`
	Priority        *int    `json:"priority"`
}

// providerAdminView exposes the stored provider including its auth token,
// with the name mapping decoded for editing.
type providerAdminView struct {
	store.Provider
	ModelNameMapping map[string]string `json:"model_name_mapping,omitempty"`
}

func adminProviderView(p store.Provider) providerAdminView {
	return providerAdminView{
		Provider:         p,
		ModelNameMapping: decodeNameMapping(p.ModelNameMapping),
	}
}

// decodeNameMapping tolerates a malformed stored mapping the same way
// the probe executor does: it is treated as absent.
func decodeNameMapping(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil || len(mapping) == 0 {
		return nil
	}
	return mapping
}

func encodeNameMapping(mapping map[string]string) string {
	if len(mapping) == 0 {
		return ""
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return ""
	}
	return string(data)
}
