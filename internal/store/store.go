package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("already exists")
)

// Category is the coarse health bucket a status rule assigns.
type Category string

const (
	CategoryGreen  Category = "green"
	CategoryYellow Category = "yellow"
	CategoryRed    Category = "red"
)

// Global configuration keys. Values are stored as strings and parsed by
// the consumer so new keys never require a schema change.
const (
	GlobalCheckIntervalSeconds = "check_interval_seconds"
	GlobalCheckTimeoutSeconds  = "check_timeout_seconds"
	GlobalDataRetentionDays    = "data_retention_days"
	GlobalAdminPasswordHash    = "admin_password_hash"
)

// UnknownStatusCode is the reserved rule code assigned when no rule fires.
// The rule with this code can be neither edited nor deleted.
const UnknownStatusCode = -1

// Provider is an upstream LLM API endpoint under monitoring.
// IntervalSeconds and TimeoutSeconds of 0 inherit the global defaults.
// ModelNameMapping is an optional JSON object remapping canonical model
// names to the wire names this provider expects.
type Provider struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	BaseURL          string    `json:"base_url"`
	AuthToken        string    `json:"auth_token"`
	Website          string    `json:"website,omitempty"`
	Enabled          bool      `json:"enabled"`
	IntervalSeconds  int       `json:"interval_seconds,omitempty"`
	TimeoutSeconds   int       `json:"timeout_seconds,omitempty"`
	ModelNameMapping string    `json:"model_name_mapping,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Model is a probe subject. ModelName is the name sent on the wire,
// before any provider-specific remapping. TemplateID of 0 means no
// request template is attached and pairs using this model cannot run.
type Model struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ModelName     string    `json:"model_name"`
	DisplayName   string    `json:"display_name"`
	DefaultPrompt string    `json:"default_prompt,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	TemplateID    int64     `json:"template_id,omitempty"`
	Enabled       bool      `json:"enabled"`
	SortOrder     int       `json:"sort_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProviderModel links a provider to a model it serves. A pair is probed
// only while the link, the provider, and the model are all enabled.
type ProviderModel struct {
	ID           int64  `json:"id"`
	ProviderID   int64  `json:"provider_id"`
	ModelID      int64  `json:"model_id"`
	Enabled      bool   `json:"enabled"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// RequestTemplate describes how to build one probe request. Headers is
// raw "Name: value" lines; Body is a JSON document. Both may contain the
// {key}, {model}, {user_prompt} and {system_prompt} placeholders.
type RequestTemplate struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Method      string    `json:"method"`
	URLPath     string    `json:"url_path"`
	Headers     string    `json:"headers"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusRule maps probe output to a status. Code is the identity.
// Empty HTTPCodePattern and ResponseRegex make the rule inert.
type StatusRule struct {
	Code            int       `json:"code"`
	Name            string    `json:"name"`
	Category        Category  `json:"category"`
	HTTPCodePattern string    `json:"http_code_pattern,omitempty"`
	ResponseRegex   string    `json:"response_regex,omitempty"`
	Priority        int       `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Pair identifies one independently probed (provider, model) combination.
type Pair struct {
	ProviderID int64 `json:"provider_id"`
	ModelID    int64 `json:"model_id"`
}

// ProbeRecord is one appended history row. Message holds the raw probe
// output only when classification was not definitive, and is cleared
// again when the row is reclassified.
type ProbeRecord struct {
	ID         int64     `json:"id"`
	ProviderID int64     `json:"provider_id"`
	ModelID    int64     `json:"model_id"`
	StatusCode int       `json:"status_code"`
	LatencyMS  int64     `json:"latency_ms"`
	Message    string    `json:"message,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HistoryQuery filters and paginates history listings. Zero ProviderID
// or ModelID matches any. Page starts at 1.
type HistoryQuery struct {
	ProviderID int64
	ModelID    int64
	Page       int
	PageSize   int
}

// WindowQuery selects records from Since onward, oldest first. Empty ID
// lists match every provider or model.
type WindowQuery struct {
	Since       time.Time
	ProviderIDs []int64
	ModelIDs    []int64
}

// UnmatchedMessage aggregates identical retained messages for triage.
type UnmatchedMessage struct {
	Message   string    `json:"message"`
	Count     int64     `json:"occurrence_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// RetainedMessage is one history row still carrying its raw output.
type RetainedMessage struct {
	ID      int64
	Message string
}

type Store interface {
	CreateProvider(ctx context.Context, p *Provider) error
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, id int64) error
	GetProvider(ctx context.Context, id int64) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)

	CreateModel(ctx context.Context, m *Model) error
	UpdateModel(ctx context.Context, m *Model) error
	DeleteModel(ctx context.Context, id int64) error
	GetModel(ctx context.Context, id int64) (*Model, error)
	ListModels(ctx context.Context) ([]Model, error)

	CreateTemplate(ctx context.Context, t *RequestTemplate) error
	UpdateTemplate(ctx context.Context, t *RequestTemplate) error
	DeleteTemplate(ctx context.Context, id int64) error
	GetTemplate(ctx context.Context, id int64) (*RequestTemplate, error)
	ListTemplates(ctx context.Context) ([]RequestTemplate, error)

	ReplaceProviderModels(ctx context.Context, providerID int64, links []ProviderModel) error
	ListProviderModels(ctx context.Context, providerID int64) ([]ProviderModel, error)
	GetProviderModel(ctx context.Context, providerID, modelID int64) (*ProviderModel, error)
	GetEnabledPairs(ctx context.Context) ([]Pair, error)

	CreateStatusRule(ctx context.Context, r *StatusRule) error
	UpdateStatusRule(ctx context.Context, r *StatusRule) error
	DeleteStatusRule(ctx context.Context, code int) error
	GetStatusRule(ctx context.Context, code int) (*StatusRule, error)
	ListStatusRules(ctx context.Context) ([]StatusRule, error)

	GetGlobal(ctx context.Context, key string) (string, error)
	SetGlobal(ctx context.Context, key, value string) error
	ListGlobals(ctx context.Context) (map[string]string, error)

	AppendProbeRecord(ctx context.Context, rec *ProbeRecord) error
	ListProbeRecords(ctx context.Context, q HistoryQuery) ([]ProbeRecord, int64, error)
	ListProbeRecordsWindow(ctx context.Context, q WindowQuery) ([]ProbeRecord, error)
	LatestProbeRecords(ctx context.Context) ([]ProbeRecord, error)
	DeleteProbeRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListUnmatchedMessages(ctx context.Context, page, pageSize int) ([]UnmatchedMessage, int64, error)
	ListRetainedMessages(ctx context.Context) ([]RetainedMessage, error)
	ReclassifyProbeRecords(ctx context.Context, ids []int64, statusCode int) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 500 {
		pageSize = 500
	}
	return page, pageSize
}
