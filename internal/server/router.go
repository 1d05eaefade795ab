package server

import (
	"context"
	"net/http"
	"time"

	"relaywatch/internal/probe"
	"relaywatch/internal/store"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Reconciler resynchronizes running probe tasks with the stored
// configuration. Every admin mutation triggers it after commit.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Prober runs one probe cycle on demand.
type Prober interface {
	Probe(ctx context.Context, providerID, modelID int64) (*store.ProbeRecord, error)
}

// Cleaner removes history past the retention window.
type Cleaner interface {
	CleanupOldData(ctx context.Context) (int64, error)
}

type API struct {
	store      store.Store
	reconciler Reconciler
	prober     Prober
	cleaner    Cleaner
	limiter    *triggerLimiter
	origins    []string
}

func NewAPI(st store.Store, reconciler Reconciler, prober Prober, cleaner Cleaner, cfg Config) *API {
	return &API{
		store:      st,
		reconciler: reconciler,
		prober:     prober,
		cleaner:    cleaner,
		limiter:    newTriggerLimiter(cfg.Probe.TriggerPerMinute, cfg.Probe.TriggerBurst),
		origins:    cfg.CORS.AllowedOrigins,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/status", a.handleStatusBoard)
	mux.HandleFunc("GET /api/history/{provider_id}/{model_id}", a.handleHistory)
	mux.HandleFunc("GET /api/timeline/batch", a.handleTimelineBatch)
	mux.HandleFunc("GET /api/timeline/{provider_id}/{model_id}", a.handleTimeline)
	mux.HandleFunc("GET /api/rules", a.handleListRules)

	mux.HandleFunc("GET /api/admin/session", a.handleAdminSession)

	admin := func(h http.HandlerFunc) http.Handler { return a.requireAdmin(h) }
	mux.Handle("GET /api/admin/providers", admin(a.handleAdminListProviders))
	mux.Handle("POST /api/admin/providers", admin(a.handleCreateProvider))
	mux.Handle("PUT /api/admin/providers/{id}", admin(a.handleUpdateProvider))
	mux.Handle("DELETE /api/admin/providers/{id}", admin(a.handleDeleteProvider))
	mux.Handle("GET /api/admin/providers/{id}/models", admin(a.handleListProviderModels))
	mux.Handle("PUT /api/admin/providers/{id}/models", admin(a.handleReplaceProviderModels))

	mux.Handle("GET /api/admin/models", admin(a.handleAdminListModels))
	mux.Handle("POST /api/admin/models", admin(a.handleCreateModel))
	mux.Handle("PUT /api/admin/models/{id}", admin(a.handleUpdateModel))
	mux.Handle("DELETE /api/admin/models/{id}", admin(a.handleDeleteModel))

	mux.Handle("GET /api/admin/templates", admin(a.handleAdminListTemplates))
	mux.Handle("POST /api/admin/templates", admin(a.handleCreateTemplate))
	mux.Handle("PUT /api/admin/templates/{id}", admin(a.handleUpdateTemplate))
	mux.Handle("DELETE /api/admin/templates/{id}", admin(a.handleDeleteTemplate))

	mux.Handle("GET /api/admin/rules", admin(a.handleListRules))
	mux.Handle("POST /api/admin/rules", admin(a.handleCreateRule))
	mux.Handle("PUT /api/admin/rules/{code}", admin(a.handleUpdateRule))
	mux.Handle("DELETE /api/admin/rules/{code}", admin(a.handleDeleteRule))
	mux.Handle("POST /api/admin/rules/preview", admin(a.handlePreviewRule))
	mux.Handle("POST /api/admin/rules/{code}/apply", admin(a.handleApplyRule))

	mux.Handle("GET /api/admin/config", admin(a.handleGetConfig))
	mux.Handle("PUT /api/admin/config", admin(a.handleUpdateConfig))
	mux.Handle("GET /api/admin/unmatched", admin(a.handleListUnmatched))
	mux.Handle("POST /api/admin/trigger/{provider_id}/{model_id}", admin(a.handleTrigger))
	mux.Handle("POST /api/admin/cleanup", admin(a.handleCleanup))

	wrapped := otelhttp.NewHandler(mux, "relaywatch-http")
	return a.withCORS(wrapped)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleStatusBoard renders every provider with its linked models and the
// latest classification per pair. Pairs that were never probed resolve
// status code 0.
func (a *API) handleStatusBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providers, err := a.store.ListProviders(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load providers failed")
		return
	}
	models, err := a.store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load models failed")
		return
	}
	rules, err := a.store.ListStatusRules(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	latest, err := a.store.LatestProbeRecords(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load latest records failed")
		return
	}

	modelByID := make(map[int64]store.Model, len(models))
	for _, m := range models {
		modelByID[m.ID] = m
	}
	latestByPair := make(map[store.Pair]store.ProbeRecord, len(latest))
	for _, rec := range latest {
		latestByPair[store.Pair{ProviderID: rec.ProviderID, ModelID: rec.ModelID}] = rec
	}
	lookup := probe.StatusLookup(rules)

	board := make([]boardProvider, 0, len(providers))
	for _, p := range providers {
		links, err := a.store.ListProviderModels(ctx, p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load provider models failed")
			return
		}
		row := boardProvider{
			ID:              p.ID,
			Name:            p.Name,
			BaseURL:         p.BaseURL,
			Website:         p.Website,
			Enabled:         p.Enabled,
			IntervalSeconds: p.IntervalSeconds,
			ModelNameMap:    decodeNameMapping(p.ModelNameMapping),
			Models:          make([]boardModel, 0, len(links)),
		}
		for _, link := range links {
			model := modelByID[link.ModelID]
			entry := boardModel{
				ModelID:     link.ModelID,
				ModelName:   model.ModelName,
				DisplayName: model.DisplayName,
				Enabled:     link.Enabled,
			}
			code := 0
			if rec, ok := latestByPair[store.Pair{ProviderID: p.ID, ModelID: link.ModelID}]; ok {
				code = rec.StatusCode
				latency, checkedAt := rec.LatencyMS, rec.CheckedAt
				entry.StatusCode = &code
				entry.LatencyMS = &latency
				entry.CheckedAt = &checkedAt
			}
			category, name := lookup(code)
			entry.StatusCategory, entry.StatusName = string(category), name
			row.Models = append(row.Models, entry)
		}
		board = append(board, row)
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
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

	records, total, err := a.store.ListProbeRecords(r.Context(), store.HistoryQuery{
		ProviderID: providerID,
		ModelID:    modelID,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	rules, err := a.store.ListStatusRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	lookup := probe.StatusLookup(rules)

	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		category, name := lookup(rec.StatusCode)
		items = append(items, historyItem{
			ProbeRecord:    rec,
			StatusName:     name,
			StatusCategory: string(category),
		})
	}
	writeJSON(w, http.StatusOK, newPageResponse(items, total, page, pageSize))
}

const (
	minTimelineHours     = 0.1
	maxTimelineHours     = 720
	defaultTimelineHours = 24
)

func timelineWindow(r *http.Request) (time.Time, probe.Aggregation, error) {
	hours := queryFloat(r, "hours", defaultTimelineHours)
	if hours < minTimelineHours {
		hours = minTimelineHours
	}
	if hours > maxTimelineHours {
		hours = maxTimelineHours
	}
	agg, err := probe.ParseAggregation(r.URL.Query().Get("aggregation"))
	if err != nil {
		return time.Time{}, "", err
	}
	since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	return since, agg, nil
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
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
	since, agg, err := timelineWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.store.ListProbeRecordsWindow(r.Context(), store.WindowQuery{
		Since:       since,
		ProviderIDs: []int64{providerID},
		ModelIDs:    []int64{modelID},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load timeline failed")
		return
	}
	rules, err := a.store.ListStatusRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	writeJSON(w, http.StatusOK, probe.BuildTimeline(records, rules, agg))
}

func (a *API) handleTimelineBatch(w http.ResponseWriter, r *http.Request) {
	since, agg, err := timelineWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var categories []store.Category
	for _, raw := range splitCSV(r.URL.Query().Get("status_categories")) {
		categories = append(categories, store.Category(raw))
	}

	records, err := a.store.ListProbeRecordsWindow(r.Context(), store.WindowQuery{
		Since:       since,
		ProviderIDs: queryIDList(r, "provider_ids"),
		ModelIDs:    queryIDList(r, "model_ids"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load timeline failed")
		return
	}
	rules, err := a.store.ListStatusRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": probe.GroupTimelines(records, rules, agg, categories),
	})
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.ListStatusRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load status rules failed")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) withCORS(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(a.origins))
	for _, origin := range a.origins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Password")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
