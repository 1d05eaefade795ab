package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaywatch/internal/checker"
	"relaywatch/internal/observability"
	"relaywatch/internal/store"
)

// ErrNotRunnable reports that a pair cannot be probed right now: provider,
// link or model missing or disabled, or the model has no request template.
// No history is written for a not-runnable pair.
var ErrNotRunnable = errors.New("pair is not runnable")

const (
	fallbackPrompt         = "What is 1+1? Reply with the number only."
	defaultTimeoutSeconds  = 120
	defaultIntervalSeconds = 300
	maxMessageRunes        = 1000
)

// GlobalSource reads one global setting by key.
type GlobalSource interface {
	GetGlobal(ctx context.Context, key string) (string, error)
}

// ConfigSource is the slice of storage one probe execution reads and writes.
// Every call is an independent short-lived operation; nothing is cached
// across probe cycles.
type ConfigSource interface {
	GlobalSource
	GetProvider(ctx context.Context, id int64) (*store.Provider, error)
	GetProviderModel(ctx context.Context, providerID, modelID int64) (*store.ProviderModel, error)
	GetModel(ctx context.Context, id int64) (*store.Model, error)
	GetTemplate(ctx context.Context, id int64) (*store.RequestTemplate, error)
	AppendProbeRecord(ctx context.Context, rec *store.ProbeRecord) error
}

// Target is the fully resolved configuration for one probe call, rebuilt
// from storage on every cycle so edits take effect on the next iteration.
type Target struct {
	ProviderID   int64
	ModelID      int64
	BaseURL      string
	AuthToken    string
	ModelName    string
	Prompt       string
	SystemPrompt string
	Timeout      time.Duration
	Template     checker.Template
}

// Executor runs one full probe cycle: resolve target, check, classify,
// persist.
type Executor struct {
	store    ConfigSource
	checker  checker.Checker
	classify *Classifier
	obs      *observability.Observability
}

func NewExecutor(cfg ConfigSource, chk checker.Checker, classifier *Classifier, obs *observability.Observability) *Executor {
	return &Executor{store: cfg, checker: chk, classify: classifier, obs: obs}
}

// Probe executes one cycle for a pair and appends exactly one history
// record. It returns ErrNotRunnable, with nothing written, when the pair is
// not eligible.
func (e *Executor) Probe(ctx context.Context, providerID, modelID int64) (*store.ProbeRecord, error) {
	target, err := e.resolveTarget(ctx, providerID, modelID)
	if err != nil {
		return nil, err
	}

	res := e.checker.Check(ctx, checker.Request{
		BaseURL:      target.BaseURL,
		AuthToken:    target.AuthToken,
		Model:        target.ModelName,
		Prompt:       target.Prompt,
		SystemPrompt: target.SystemPrompt,
		Timeout:      target.Timeout,
		Template:     target.Template,
	})

	// The error string joins the output so classification rules can match
	// on transport failures as well as API response text.
	output := res.Output
	if res.Error != "" {
		output = res.Error + "\n" + output
	}

	outcome, err := e.classify.Classify(ctx, output, res.HTTPStatus)
	if err != nil {
		return nil, err
	}

	message := ""
	if !outcome.Matched && output != "" {
		message = truncate(output, maxMessageRunes)
	}

	rec := &store.ProbeRecord{
		ProviderID: providerID,
		ModelID:    modelID,
		StatusCode: outcome.StatusCode,
		LatencyMS:  res.LatencyMS,
		Message:    message,
		CheckedAt:  time.Now().UTC(),
	}
	if err := e.store.AppendProbeRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("append probe record: %w", err)
	}
	if e.obs != nil {
		e.obs.MarkProbe(ctx, string(outcome.Category), res.LatencyMS, outcome.Matched)
	}
	return rec, nil
}

func (e *Executor) resolveTarget(ctx context.Context, providerID, modelID int64) (*Target, error) {
	provider, err := e.store.GetProvider(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRunnable
	}
	if err != nil {
		return nil, fmt.Errorf("load provider %d: %w", providerID, err)
	}
	if !provider.Enabled {
		return nil, ErrNotRunnable
	}

	link, err := e.store.GetProviderModel(ctx, providerID, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRunnable
	}
	if err != nil {
		return nil, fmt.Errorf("load provider link %d/%d: %w", providerID, modelID, err)
	}
	if !link.Enabled {
		return nil, ErrNotRunnable
	}

	model, err := e.store.GetModel(ctx, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRunnable
	}
	if err != nil {
		return nil, fmt.Errorf("load model %d: %w", modelID, err)
	}
	if !model.Enabled || model.TemplateID == 0 {
		return nil, ErrNotRunnable
	}

	template, err := e.store.GetTemplate(ctx, model.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRunnable
	}
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", model.TemplateID, err)
	}

	prompt := link.CustomPrompt
	if prompt == "" {
		prompt = model.DefaultPrompt
	}
	if prompt == "" {
		prompt = fallbackPrompt
	}

	timeoutSeconds := provider.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = globalInt(ctx, e.store, store.GlobalCheckTimeoutSeconds, defaultTimeoutSeconds)
	}

	// A provider may publish the model under its own name. A mapping that
	// fails to decode is treated as absent.
	modelName := model.ModelName
	if provider.ModelNameMapping != "" {
		var mapping map[string]string
		if err := json.Unmarshal([]byte(provider.ModelNameMapping), &mapping); err == nil {
			if mapped, ok := mapping[model.ModelName]; ok {
				modelName = mapped
			}
		}
	}

	return &Target{
		ProviderID:   providerID,
		ModelID:      modelID,
		BaseURL:      provider.BaseURL,
		AuthToken:    provider.AuthToken,
		ModelName:    modelName,
		Prompt:       prompt,
		SystemPrompt: model.SystemPrompt,
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
		Template: checker.Template{
			Method:  template.Method,
			URLPath: template.URLPath,
			Headers: template.Headers,
			Body:    template.Body,
		},
	}, nil
}

func globalInt(ctx context.Context, src GlobalSource, key string, fallback int) int {
	value, err := src.GetGlobal(ctx, key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
