package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded Store implementation and the default backend.
type SQLite struct {
	db *sql.DB
}

var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS request_templates (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT 'POST',
	url_path    TEXT NOT NULL DEFAULT '/v1/messages',
	headers     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS providers (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL UNIQUE,
	base_url           TEXT NOT NULL,
	auth_token         TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	enabled            INTEGER NOT NULL DEFAULT 1,
	interval_seconds   INTEGER NOT NULL DEFAULT 0,
	timeout_seconds    INTEGER NOT NULL DEFAULT 0,
	model_name_mapping TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS models (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	model_name     TEXT NOT NULL DEFAULT '',
	display_name   TEXT NOT NULL DEFAULT '',
	default_prompt TEXT NOT NULL DEFAULT '',
	system_prompt  TEXT NOT NULL DEFAULT '',
	template_id    INTEGER REFERENCES request_templates(id) ON DELETE SET NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	sort_order     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS provider_models (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id   INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	model_id      INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
	enabled       INTEGER NOT NULL DEFAULT 1,
	custom_prompt TEXT NOT NULL DEFAULT '',
	UNIQUE(provider_id, model_id)
);
CREATE TABLE IF NOT EXISTS status_rules (
	code              INTEGER PRIMARY KEY,
	name              TEXT NOT NULL,
	category          TEXT NOT NULL,
	http_code_pattern TEXT NOT NULL DEFAULT '',
	response_regex    TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS probe_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	model_id    INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
	status_code INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	message     TEXT,
	checked_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_history_pair_time ON probe_history (provider_id, model_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_probe_history_checked_at ON probe_history (checked_at);
CREATE INDEX IF NOT EXISTS idx_probe_history_status ON probe_history (status_code);
CREATE TABLE IF NOT EXISTS globals (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`,
}

// OpenSQLite opens (creating if needed) the database at path and brings
// the schema up to date. A single connection is used so concurrent probe
// tasks serialize their writes instead of hitting SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return err
	}
	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	for i, stmt := range sqliteMigrations {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, fmtTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

// --- providers ---

func (s *SQLite) CreateProvider(ctx context.Context, p *Provider) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (name, base_url, auth_token, website, enabled, interval_seconds, timeout_seconds, model_name_mapping, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.BaseURL, p.AuthToken, p.Website, boolInt(p.Enabled),
		p.IntervalSeconds, p.TimeoutSeconds, p.ModelNameMapping, fmtTime(now), fmtTime(now))
	if err != nil {
		return sqliteErr("insert provider", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) UpdateProvider(ctx context.Context, p *Provider) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET name=?, base_url=?, auth_token=?, website=?, enabled=?,
		 interval_seconds=?, timeout_seconds=?, model_name_mapping=?, updated_at=? WHERE id=?`,
		p.Name, p.BaseURL, p.AuthToken, p.Website, boolInt(p.Enabled),
		p.IntervalSeconds, p.TimeoutSeconds, p.ModelNameMapping, fmtTime(p.UpdatedAt), p.ID)
	if err != nil {
		return sqliteErr("update provider", err)
	}
	return requireRow(res)
}

func (s *SQLite) DeleteProvider(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) GetProvider(ctx context.Context, id int64) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, auth_token, website, enabled, interval_seconds, timeout_seconds, model_name_mapping, created_at, updated_at
		 FROM providers WHERE id=?`, id)
	return scanProvider(row)
}

func (s *SQLite) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, base_url, auth_token, website, enabled, interval_seconds, timeout_seconds, model_name_mapping, created_at, updated_at
		 FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	out := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProvider(row scannable) (*Provider, error) {
	var p Provider
	var enabled int64
	var created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.AuthToken, &p.Website, &enabled,
		&p.IntervalSeconds, &p.TimeoutSeconds, &p.ModelNameMapping, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	p.Enabled = enabled != 0
	p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
	return &p, nil
}

// --- models ---

func (s *SQLite) CreateModel(ctx context.Context, m *Model) error {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO models (name, model_name, display_name, default_prompt, system_prompt, template_id, enabled, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.ModelName, m.DisplayName, m.DefaultPrompt, m.SystemPrompt,
		nullID(m.TemplateID), boolInt(m.Enabled), m.SortOrder, fmtTime(now), fmtTime(now))
	if err != nil {
		return sqliteErr("insert model", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) UpdateModel(ctx context.Context, m *Model) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET name=?, model_name=?, display_name=?, default_prompt=?, system_prompt=?,
		 template_id=?, enabled=?, sort_order=?, updated_at=? WHERE id=?`,
		m.Name, m.ModelName, m.DisplayName, m.DefaultPrompt, m.SystemPrompt,
		nullID(m.TemplateID), boolInt(m.Enabled), m.SortOrder, fmtTime(m.UpdatedAt), m.ID)
	if err != nil {
		return sqliteErr("update model", err)
	}
	return requireRow(res)
}

func (s *SQLite) DeleteModel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) GetModel(ctx context.Context, id int64) (*Model, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, model_name, display_name, default_prompt, system_prompt, template_id, enabled, sort_order, created_at, updated_at
		 FROM models WHERE id=?`, id)
	return scanModel(row)
}

func (s *SQLite) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model_name, display_name, default_prompt, system_prompt, template_id, enabled, sort_order, created_at, updated_at
		 FROM models ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()
	out := []Model{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanModel(row scannable) (*Model, error) {
	var m Model
	var enabled int64
	var templateID sql.NullInt64
	var created, updated string
	err := row.Scan(&m.ID, &m.Name, &m.ModelName, &m.DisplayName, &m.DefaultPrompt, &m.SystemPrompt,
		&templateID, &enabled, &m.SortOrder, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model: %w", err)
	}
	m.TemplateID = templateID.Int64
	m.Enabled = enabled != 0
	m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
	return &m, nil
}

// --- request templates ---

func (s *SQLite) CreateTemplate(ctx context.Context, t *RequestTemplate) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Method == "" {
		t.Method = "POST"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_templates (name, description, method, url_path, headers, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Description, t.Method, t.URLPath, t.Headers, t.Body, fmtTime(now), fmtTime(now))
	if err != nil {
		return sqliteErr("insert template", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) UpdateTemplate(ctx context.Context, t *RequestTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE request_templates SET name=?, description=?, method=?, url_path=?, headers=?, body=?, updated_at=? WHERE id=?`,
		t.Name, t.Description, t.Method, t.URLPath, t.Headers, t.Body, fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		return sqliteErr("update template", err)
	}
	return requireRow(res)
}

func (s *SQLite) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_templates WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) GetTemplate(ctx context.Context, id int64) (*RequestTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, method, url_path, headers, body, created_at, updated_at
		 FROM request_templates WHERE id=?`, id)
	return scanTemplate(row)
}

func (s *SQLite) ListTemplates(ctx context.Context) ([]RequestTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, method, url_path, headers, body, created_at, updated_at
		 FROM request_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []RequestTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTemplate(row scannable) (*RequestTemplate, error) {
	var t RequestTemplate
	var created, updated string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Method, &t.URLPath, &t.Headers, &t.Body, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
	return &t, nil
}

// --- provider-model links ---

func (s *SQLite) ReplaceProviderModels(ctx context.Context, providerID int64, links []ProviderModel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace links: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_models WHERE provider_id=?`, providerID); err != nil {
		return fmt.Errorf("clear provider links: %w", err)
	}
	for i := range links {
		link := &links[i]
		link.ProviderID = providerID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO provider_models (provider_id, model_id, enabled, custom_prompt) VALUES (?, ?, ?, ?)`,
			providerID, link.ModelID, boolInt(link.Enabled), link.CustomPrompt)
		if err != nil {
			return sqliteErr("insert provider link", err)
		}
		link.ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

func (s *SQLite) ListProviderModels(ctx context.Context, providerID int64) ([]ProviderModel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, model_id, enabled, custom_prompt FROM provider_models WHERE provider_id=? ORDER BY model_id`,
		providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider links: %w", err)
	}
	defer rows.Close()
	out := []ProviderModel{}
	for rows.Next() {
		var link ProviderModel
		var enabled int64
		if err := rows.Scan(&link.ID, &link.ProviderID, &link.ModelID, &enabled, &link.CustomPrompt); err != nil {
			return nil, fmt.Errorf("scan provider link: %w", err)
		}
		link.Enabled = enabled != 0
		out = append(out, link)
	}
	return out, rows.Err()
}

func (s *SQLite) GetProviderModel(ctx context.Context, providerID, modelID int64) (*ProviderModel, error) {
	var link ProviderModel
	var enabled int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, model_id, enabled, custom_prompt FROM provider_models WHERE provider_id=? AND model_id=?`,
		providerID, modelID).Scan(&link.ID, &link.ProviderID, &link.ModelID, &enabled, &link.CustomPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider link: %w", err)
	}
	link.Enabled = enabled != 0
	return &link, nil
}

func (s *SQLite) GetEnabledPairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pm.provider_id, pm.model_id
		 FROM provider_models pm
		 JOIN providers p ON p.id = pm.provider_id
		 JOIN models m ON m.id = pm.model_id
		 WHERE pm.enabled = 1 AND p.enabled = 1 AND m.enabled = 1
		 ORDER BY pm.provider_id, pm.model_id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled pairs: %w", err)
	}
	defer rows.Close()
	out := []Pair{}
	for rows.Next() {
		var pair Pair
		if err := rows.Scan(&pair.ProviderID, &pair.ModelID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

// --- status rules ---

func (s *SQLite) CreateStatusRule(ctx context.Context, r *StatusRule) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_rules (code, name, category, http_code_pattern, response_regex, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Code, r.Name, string(r.Category), r.HTTPCodePattern, r.ResponseRegex, r.Priority, fmtTime(now), fmtTime(now))
	return sqliteErr("insert status rule", err)
}

func (s *SQLite) UpdateStatusRule(ctx context.Context, r *StatusRule) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE status_rules SET name=?, category=?, http_code_pattern=?, response_regex=?, priority=?, updated_at=? WHERE code=?`,
		r.Name, string(r.Category), r.HTTPCodePattern, r.ResponseRegex, r.Priority, fmtTime(r.UpdatedAt), r.Code)
	if err != nil {
		return fmt.Errorf("update status rule: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) DeleteStatusRule(ctx context.Context, code int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM status_rules WHERE code=?`, code)
	if err != nil {
		return fmt.Errorf("delete status rule: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) GetStatusRule(ctx context.Context, code int) (*StatusRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, name, category, http_code_pattern, response_regex, priority, created_at, updated_at
		 FROM status_rules WHERE code=?`, code)
	return scanStatusRule(row)
}

func (s *SQLite) ListStatusRules(ctx context.Context) ([]StatusRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, category, http_code_pattern, response_regex, priority, created_at, updated_at
		 FROM status_rules ORDER BY priority DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("list status rules: %w", err)
	}
	defer rows.Close()
	out := []StatusRule{}
	for rows.Next() {
		r, err := scanStatusRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanStatusRule(row scannable) (*StatusRule, error) {
	var r StatusRule
	var category string
	var created, updated string
	err := row.Scan(&r.Code, &r.Name, &category, &r.HTTPCodePattern, &r.ResponseRegex, &r.Priority, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan status rule: %w", err)
	}
	r.Category = Category(category)
	r.CreatedAt, r.UpdatedAt = parseTime(created), parseTime(updated)
	return &r, nil
}

// --- globals ---

func (s *SQLite) GetGlobal(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM globals WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get global %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) SetGlobal(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO globals (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set global %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) ListGlobals(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM globals`)
	if err != nil {
		return nil, fmt.Errorf("list globals: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan global: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// --- probe history ---

func (s *SQLite) AppendProbeRecord(ctx context.Context, rec *ProbeRecord) error {
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_history (provider_id, model_id, status_code, latency_ms, message, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ProviderID, rec.ModelID, rec.StatusCode, rec.LatencyMS, nullStr(rec.Message), fmtTime(rec.CheckedAt))
	if err != nil {
		return fmt.Errorf("append probe record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) ListProbeRecords(ctx context.Context, q HistoryQuery) ([]ProbeRecord, int64, error) {
	page, pageSize := clampPage(q.Page, q.PageSize)
	where, args := historyFilter(q)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM probe_history WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count probe records: %w", err)
	}
	listArgs := append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, model_id, status_code, latency_ms, message, checked_at
		 FROM probe_history WHERE `+where+` ORDER BY checked_at DESC, id DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list probe records: %w", err)
	}
	defer rows.Close()
	out, err := collectRecords(rows)
	return out, total, err
}

func (s *SQLite) ListProbeRecordsWindow(ctx context.Context, q WindowQuery) ([]ProbeRecord, error) {
	where := "checked_at >= ?"
	args := []any{fmtTime(q.Since)}
	if len(q.ProviderIDs) > 0 {
		where += " AND provider_id IN (" + placeholders(len(q.ProviderIDs)) + ")"
		for _, id := range q.ProviderIDs {
			args = append(args, id)
		}
	}
	if len(q.ModelIDs) > 0 {
		where += " AND model_id IN (" + placeholders(len(q.ModelIDs)) + ")"
		for _, id := range q.ModelIDs {
			args = append(args, id)
		}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, model_id, status_code, latency_ms, message, checked_at
		 FROM probe_history WHERE `+where+` ORDER BY checked_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list probe record window: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLite) LatestProbeRecords(ctx context.Context) ([]ProbeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.provider_id, h.model_id, h.status_code, h.latency_ms, h.message, h.checked_at
		 FROM probe_history h
		 JOIN (SELECT provider_id, model_id, MAX(id) AS last_id FROM probe_history GROUP BY provider_id, model_id) last
		   ON last.last_id = h.id`)
	if err != nil {
		return nil, fmt.Errorf("list latest probe records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLite) DeleteProbeRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_history WHERE checked_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete probe records: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) ListUnmatchedMessages(ctx context.Context, page, pageSize int) ([]UnmatchedMessage, int64, error) {
	page, pageSize = clampPage(page, pageSize)
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT message) FROM probe_history WHERE message IS NOT NULL AND message != ''`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unmatched messages: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message, COUNT(*), MIN(checked_at), MAX(checked_at)
		 FROM probe_history WHERE message IS NOT NULL AND message != ''
		 GROUP BY message ORDER BY COUNT(*) DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list unmatched messages: %w", err)
	}
	defer rows.Close()
	out := []UnmatchedMessage{}
	for rows.Next() {
		var u UnmatchedMessage
		var first, last string
		if err := rows.Scan(&u.Message, &u.Count, &first, &last); err != nil {
			return nil, 0, fmt.Errorf("scan unmatched message: %w", err)
		}
		u.FirstSeen, u.LastSeen = parseTime(first), parseTime(last)
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *SQLite) ListRetainedMessages(ctx context.Context) ([]RetainedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message FROM probe_history WHERE message IS NOT NULL AND message != '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list retained messages: %w", err)
	}
	defer rows.Close()
	out := []RetainedMessage{}
	for rows.Next() {
		var r RetainedMessage
		if err := rows.Scan(&r.ID, &r.Message); err != nil {
			return nil, fmt.Errorf("scan retained message: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) ReclassifyProbeRecords(ctx context.Context, ids []int64, statusCode int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reclassify: %w", err)
	}
	defer tx.Rollback()
	args := make([]any, 0, len(ids)+1)
	args = append(args, statusCode)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE probe_history SET status_code=?, message=NULL WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("reclassify probe records: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return updated, tx.Commit()
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func historyFilter(q HistoryQuery) (string, []any) {
	where := "1=1"
	args := []any{}
	if q.ProviderID != 0 {
		where += " AND provider_id = ?"
		args = append(args, q.ProviderID)
	}
	if q.ModelID != 0 {
		where += " AND model_id = ?"
		args = append(args, q.ModelID)
	}
	return where, args
}

func collectRecords(rows *sql.Rows) ([]ProbeRecord, error) {
	out := []ProbeRecord{}
	for rows.Next() {
		var rec ProbeRecord
		var message sql.NullString
		var checked string
		if err := rows.Scan(&rec.ID, &rec.ProviderID, &rec.ModelID, &rec.StatusCode, &rec.LatencyMS, &message, &checked); err != nil {
			return nil, fmt.Errorf("scan probe record: %w", err)
		}
		rec.Message = message.String
		rec.CheckedAt = parseTime(checked)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func sqliteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ Store = (*SQLite)(nil)
