package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "probe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustProvider(t *testing.T, s *SQLite, name string, enabled bool) *Provider {
	t.Helper()
	p := &Provider{Name: name, BaseURL: "https://" + name + ".test", AuthToken: "sk-" + name, Enabled: enabled}
	if err := s.CreateProvider(context.Background(), p); err != nil {
		t.Fatalf("create provider %s: %v", name, err)
	}
	return p
}

func mustModel(t *testing.T, s *SQLite, name string, enabled bool, templateID int64) *Model {
	t.Helper()
	m := &Model{Name: name, ModelName: name + "-wire", Enabled: enabled, TemplateID: templateID}
	if err := s.CreateModel(context.Background(), m); err != nil {
		t.Fatalf("create model %s: %v", name, err)
	}
	return m
}

func mustAppend(t *testing.T, s *SQLite, providerID, modelID int64, code int, latency int64, message string, at time.Time) *ProbeRecord {
	t.Helper()
	rec := &ProbeRecord{ProviderID: providerID, ModelID: modelID, StatusCode: code, LatencyMS: latency, Message: message, CheckedAt: at}
	if err := s.AppendProbeRecord(context.Background(), rec); err != nil {
		t.Fatalf("append record: %v", err)
	}
	return rec
}

func TestProviderCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := mustProvider(t, s, "acme", true)
	if p.ID == 0 {
		t.Fatalf("create must assign an id")
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Fatalf("create must stamp timestamps")
	}

	got, err := s.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "acme" || got.BaseURL != "https://acme.test" || got.AuthToken != "sk-acme" || !got.Enabled {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	dupe := &Provider{Name: "acme", BaseURL: "https://other.test"}
	if err := s.CreateProvider(ctx, dupe); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name: want ErrConflict, got %v", err)
	}

	got.Name = "acme-eu"
	got.Enabled = false
	if err := s.UpdateProvider(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := s.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if updated.Name != "acme-eu" || updated.Enabled {
		t.Fatalf("update not persisted: %+v", updated)
	}

	missing := &Provider{ID: 9999, Name: "ghost"}
	if err := s.UpdateProvider(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: want ErrNotFound, got %v", err)
	}

	if err := s.DeleteProvider(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetProvider(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: want ErrNotFound, got %v", err)
	}
	if err := s.DeleteProvider(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}
}

func TestListProvidersOrderedByName(t *testing.T) {
	s := openTestStore(t)
	mustProvider(t, s, "zeta", true)
	mustProvider(t, s, "alpha", true)

	providers, err := s.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(providers) != 2 || providers[0].Name != "alpha" || providers[1].Name != "zeta" {
		t.Fatalf("expected name order, got %+v", providers)
	}
}

func TestDeleteTemplateDetachesModels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tpl := &RequestTemplate{Name: "messages", URLPath: "/v1/messages", Headers: "a: b", Body: "{}"}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	m := mustModel(t, s, "haiku", true, tpl.ID)

	if err := s.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	got, err := s.GetModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if got.TemplateID != 0 {
		t.Fatalf("template_id should be cleared, got %d", got.TemplateID)
	}
}

func TestReplaceProviderModels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := mustProvider(t, s, "acme", true)
	m1 := mustModel(t, s, "haiku", true, 0)
	m2 := mustModel(t, s, "sonnet", true, 0)

	err := s.ReplaceProviderModels(ctx, p.ID, []ProviderModel{
		{ModelID: m1.ID, Enabled: true, CustomPrompt: "ping"},
		{ModelID: m2.ID, Enabled: false},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	links, err := s.ListProviderModels(ctx, p.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	link, err := s.GetProviderModel(ctx, p.ID, m1.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if !link.Enabled || link.CustomPrompt != "ping" {
		t.Fatalf("link mismatch: %+v", link)
	}

	if err := s.ReplaceProviderModels(ctx, p.ID, []ProviderModel{{ModelID: m2.ID, Enabled: true}}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if _, err := s.GetProviderModel(ctx, p.ID, m1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed link: want ErrNotFound, got %v", err)
	}
}

func TestGetEnabledPairs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p1 := mustProvider(t, s, "up", true)
	p2 := mustProvider(t, s, "down", false)
	m1 := mustModel(t, s, "haiku", true, 0)
	m2 := mustModel(t, s, "retired", false, 0)
	m3 := mustModel(t, s, "sonnet", true, 0)

	if err := s.ReplaceProviderModels(ctx, p1.ID, []ProviderModel{
		{ModelID: m1.ID, Enabled: true},
		{ModelID: m2.ID, Enabled: true},
		{ModelID: m3.ID, Enabled: true},
	}); err != nil {
		t.Fatalf("replace p1: %v", err)
	}
	if err := s.ReplaceProviderModels(ctx, p2.ID, []ProviderModel{{ModelID: m1.ID, Enabled: true}}); err != nil {
		t.Fatalf("replace p2: %v", err)
	}

	pairs, err := s.GetEnabledPairs(ctx)
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	want := []Pair{{ProviderID: p1.ID, ModelID: m1.ID}, {ProviderID: p1.ID, ModelID: m3.ID}}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %+v", len(want), pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pair %d: got %+v want %+v", i, pairs[i], want[i])
		}
	}

	if err := s.ReplaceProviderModels(ctx, p1.ID, []ProviderModel{{ModelID: m1.ID, Enabled: false}}); err != nil {
		t.Fatalf("disable link: %v", err)
	}
	pairs, err = s.GetEnabledPairs(ctx)
	if err != nil {
		t.Fatalf("pairs after disable: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("disabled link must drop the pair, got %+v", pairs)
	}
}

func TestProbeHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p1 := mustProvider(t, s, "one", true)
	p2 := mustProvider(t, s, "two", true)
	m1 := mustModel(t, s, "haiku", true, 0)
	m2 := mustModel(t, s, "sonnet", true, 0)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r1 := mustAppend(t, s, p1.ID, m1.ID, 0, 100, "", base)
	r2 := mustAppend(t, s, p1.ID, m1.ID, 1, 0, "timeout", base.Add(1*time.Hour))
	r3 := mustAppend(t, s, p2.ID, m2.ID, 0, 50, "", base.Add(2*time.Hour))
	r4 := mustAppend(t, s, p1.ID, m1.ID, 0, 120, "", base.Add(3*time.Hour))

	t.Run("paginates newest first", func(t *testing.T) {
		recs, total, err := s.ListProbeRecords(ctx, HistoryQuery{ProviderID: p1.ID, ModelID: m1.ID, Page: 1, PageSize: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 3 {
			t.Fatalf("total: got %d want 3", total)
		}
		if len(recs) != 2 || recs[0].ID != r4.ID || recs[1].ID != r2.ID {
			t.Fatalf("page 1: got %+v", recs)
		}
		recs, _, err = s.ListProbeRecords(ctx, HistoryQuery{ProviderID: p1.ID, ModelID: m1.ID, Page: 2, PageSize: 2})
		if err != nil {
			t.Fatalf("page 2: %v", err)
		}
		if len(recs) != 1 || recs[0].ID != r1.ID {
			t.Fatalf("page 2: got %+v", recs)
		}
	})

	t.Run("unfiltered counts everything", func(t *testing.T) {
		_, total, err := s.ListProbeRecords(ctx, HistoryQuery{Page: 1, PageSize: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 4 {
			t.Fatalf("total: got %d want 4", total)
		}
	})

	t.Run("window is oldest first", func(t *testing.T) {
		recs, err := s.ListProbeRecordsWindow(ctx, WindowQuery{Since: base.Add(30 * time.Minute)})
		if err != nil {
			t.Fatalf("window: %v", err)
		}
		if len(recs) != 3 || recs[0].ID != r2.ID || recs[1].ID != r3.ID || recs[2].ID != r4.ID {
			t.Fatalf("window: got %+v", recs)
		}
		recs, err = s.ListProbeRecordsWindow(ctx, WindowQuery{Since: base, ProviderIDs: []int64{p2.ID}})
		if err != nil {
			t.Fatalf("filtered window: %v", err)
		}
		if len(recs) != 1 || recs[0].ID != r3.ID {
			t.Fatalf("filtered window: got %+v", recs)
		}
	})

	t.Run("latest keeps one row per pair", func(t *testing.T) {
		recs, err := s.LatestProbeRecords(ctx)
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		byPair := map[Pair]int64{}
		for _, rec := range recs {
			byPair[Pair{ProviderID: rec.ProviderID, ModelID: rec.ModelID}] = rec.ID
		}
		if len(byPair) != 2 {
			t.Fatalf("expected 2 pairs, got %+v", recs)
		}
		if byPair[Pair{ProviderID: p1.ID, ModelID: m1.ID}] != r4.ID {
			t.Fatalf("pair one latest: got %+v", byPair)
		}
		if byPair[Pair{ProviderID: p2.ID, ModelID: m2.ID}] != r3.ID {
			t.Fatalf("pair two latest: got %+v", byPair)
		}
	})

	t.Run("retention delete", func(t *testing.T) {
		n, err := s.DeleteProbeRecordsBefore(ctx, base.Add(90*time.Minute))
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if n != 2 {
			t.Fatalf("deleted: got %d want 2", n)
		}
		_, total, err := s.ListProbeRecords(ctx, HistoryQuery{Page: 1, PageSize: 10})
		if err != nil {
			t.Fatalf("list after delete: %v", err)
		}
		if total != 2 {
			t.Fatalf("remaining: got %d want 2", total)
		}
	})
}

func TestAppendStampsCheckedAt(t *testing.T) {
	s := openTestStore(t)
	p := mustProvider(t, s, "acme", true)
	m := mustModel(t, s, "haiku", true, 0)

	rec := &ProbeRecord{ProviderID: p.ID, ModelID: m.ID, StatusCode: 0}
	if err := s.AppendProbeRecord(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.ID == 0 || rec.CheckedAt.IsZero() {
		t.Fatalf("append must assign id and timestamp: %+v", rec)
	}
}

func TestUnmatchedMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := mustProvider(t, s, "acme", true)
	m := mustModel(t, s, "haiku", true, 0)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mustAppend(t, s, p.ID, m.ID, -1, 0, "boom", base)
	mustAppend(t, s, p.ID, m.ID, -1, 0, "boom", base.Add(1*time.Hour))
	mustAppend(t, s, p.ID, m.ID, -1, 0, "boom", base.Add(2*time.Hour))
	mustAppend(t, s, p.ID, m.ID, -1, 0, "crash", base.Add(3*time.Hour))
	mustAppend(t, s, p.ID, m.ID, 0, 90, "", base.Add(4*time.Hour))

	messages, total, err := s.ListUnmatchedMessages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("distinct total: got %d want 2", total)
	}
	if len(messages) != 2 || messages[0].Message != "boom" || messages[1].Message != "crash" {
		t.Fatalf("expected count order, got %+v", messages)
	}
	if messages[0].Count != 3 {
		t.Fatalf("boom count: got %d want 3", messages[0].Count)
	}
	if !messages[0].FirstSeen.Equal(base) || !messages[0].LastSeen.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("boom window: %+v", messages[0])
	}

	retained, err := s.ListRetainedMessages(ctx)
	if err != nil {
		t.Fatalf("retained: %v", err)
	}
	if len(retained) != 4 {
		t.Fatalf("expected 4 retained rows, got %+v", retained)
	}
}

func TestReclassifyProbeRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := mustProvider(t, s, "acme", true)
	m := mustModel(t, s, "haiku", true, 0)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r1 := mustAppend(t, s, p.ID, m.ID, -1, 0, "boom", base)
	r2 := mustAppend(t, s, p.ID, m.ID, -1, 0, "boom", base.Add(time.Hour))
	r3 := mustAppend(t, s, p.ID, m.ID, -1, 0, "other", base.Add(2*time.Hour))

	n, err := s.ReclassifyProbeRecords(ctx, []int64{r1.ID, r2.ID}, 7)
	if err != nil {
		t.Fatalf("reclassify: %v", err)
	}
	if n != 2 {
		t.Fatalf("updated: got %d want 2", n)
	}

	recs, _, err := s.ListProbeRecords(ctx, HistoryQuery{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rec := range recs {
		switch rec.ID {
		case r1.ID, r2.ID:
			if rec.StatusCode != 7 || rec.Message != "" {
				t.Fatalf("record %d not reclassified: %+v", rec.ID, rec)
			}
		case r3.ID:
			if rec.StatusCode != -1 || rec.Message != "other" {
				t.Fatalf("record %d should be untouched: %+v", rec.ID, rec)
			}
		}
	}

	if n, err := s.ReclassifyProbeRecords(ctx, nil, 7); err != nil || n != 0 {
		t.Fatalf("empty id list: got %d, %v", n, err)
	}
}

func TestGlobals(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.GetGlobal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: want ErrNotFound, got %v", err)
	}
	if err := s.SetGlobal(ctx, GlobalCheckIntervalSeconds, "60"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetGlobal(ctx, GlobalCheckIntervalSeconds, "90"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	value, err := s.GetGlobal(ctx, GlobalCheckIntervalSeconds)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "90" {
		t.Fatalf("upsert must win: got %q", value)
	}
	if err := s.SetGlobal(ctx, GlobalDataRetentionDays, "7"); err != nil {
		t.Fatalf("set second: %v", err)
	}
	globals, err := s.ListGlobals(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if globals[GlobalCheckIntervalSeconds] != "90" || globals[GlobalDataRetentionDays] != "7" {
		t.Fatalf("list mismatch: %v", globals)
	}
}

func TestEnsureDefaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := EnsureDefaults(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	globals, err := s.ListGlobals(ctx)
	if err != nil {
		t.Fatalf("globals: %v", err)
	}
	if globals[GlobalCheckIntervalSeconds] != "300" || globals[GlobalCheckTimeoutSeconds] != "120" || globals[GlobalDataRetentionDays] != "30" {
		t.Fatalf("seeded globals: %v", globals)
	}
	if _, ok := globals[GlobalAdminPasswordHash]; !ok {
		t.Fatalf("admin hash key must exist even when empty")
	}

	rules, err := s.ListStatusRules(ctx)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	wantCodes := []int{0, 2, 3, 4, 1, UnknownStatusCode}
	if len(rules) != len(wantCodes) {
		t.Fatalf("expected %d rules, got %+v", len(wantCodes), rules)
	}
	for i, code := range wantCodes {
		if rules[i].Code != code {
			t.Fatalf("rule order at %d: got %d want %d", i, rules[i].Code, code)
		}
	}

	templates, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(templates) != 2 || templates[0].Name != "Anthropic Messages" || templates[1].Name != "OpenAI Chat Completions" {
		t.Fatalf("seeded templates: %+v", templates)
	}

	models, err := s.ListModels(ctx)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %+v", models)
	}
	for _, m := range models {
		if m.TemplateID != templates[0].ID {
			t.Fatalf("model %s should attach to the first template, got %d", m.Name, m.TemplateID)
		}
	}

	// Reseeding must not clobber operator changes.
	if err := s.SetGlobal(ctx, GlobalCheckIntervalSeconds, "60"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.DeleteStatusRule(ctx, 2); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if err := EnsureDefaults(ctx, s); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if value, _ := s.GetGlobal(ctx, GlobalCheckIntervalSeconds); value != "60" {
		t.Fatalf("reseed overwrote global: %q", value)
	}
	rules, err = s.ListStatusRules(ctx)
	if err != nil {
		t.Fatalf("rules after reseed: %v", err)
	}
	if len(rules) != 5 {
		t.Fatalf("reseed must not restore deleted rules, got %+v", rules)
	}

	// The reserved unknown rule is the one exception.
	if err := s.DeleteStatusRule(ctx, UnknownStatusCode); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	if err := EnsureDefaults(ctx, s); err != nil {
		t.Fatalf("reseed unknown: %v", err)
	}
	unknown, err := s.GetStatusRule(ctx, UnknownStatusCode)
	if err != nil {
		t.Fatalf("unknown rule must come back: %v", err)
	}
	if unknown.Category != CategoryYellow {
		t.Fatalf("unknown rule category: %+v", unknown)
	}
}
