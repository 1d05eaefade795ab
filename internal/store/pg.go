package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the pgx-backed Store implementation for shared deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

var pgMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS request_templates (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT 'POST',
	url_path    TEXT NOT NULL DEFAULT '/v1/messages',
	headers     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS providers (
	id                 BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	base_url           TEXT NOT NULL,
	auth_token         TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	interval_seconds   INTEGER NOT NULL DEFAULT 0,
	timeout_seconds    INTEGER NOT NULL DEFAULT 0,
	model_name_mapping TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS models (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	model_name     TEXT NOT NULL DEFAULT '',
	display_name   TEXT NOT NULL DEFAULT '',
	default_prompt TEXT NOT NULL DEFAULT '',
	system_prompt  TEXT NOT NULL DEFAULT '',
	template_id    BIGINT REFERENCES request_templates(id) ON DELETE SET NULL,
	enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	sort_order     INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS provider_models (
	id            BIGSERIAL PRIMARY KEY,
	provider_id   BIGINT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	model_id      BIGINT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
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
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS probe_history (
	id          BIGSERIAL PRIMARY KEY,
	provider_id BIGINT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	model_id    BIGINT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
	status_code INTEGER NOT NULL,
	latency_ms  BIGINT NOT NULL,
	message     TEXT,
	checked_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_history_pair_time ON probe_history (provider_id, model_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_probe_history_checked_at ON probe_history (checked_at);
CREATE INDEX IF NOT EXISTS idx_probe_history_status ON probe_history (status_code);
CREATE TABLE IF NOT EXISTS globals (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`,
}

// OpenPostgres connects a pool to dsn and brings the schema up to date.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return err
	}
	var current int
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	for i, stmt := range pgMigrations {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// --- providers ---

func (s *Postgres) CreateProvider(ctx context.Context, p *Provider) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	err := s.pool.QueryRow(ctx,
		`INSERT INTO providers (name, base_url, auth_token, website, enabled, interval_seconds, timeout_seconds, model_name_mapping, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		p.Name, p.BaseURL, p.AuthToken, p.Website, p.Enabled,
		p.IntervalSeconds, p.TimeoutSeconds, p.ModelNameMapping, now, now).Scan(&p.ID)
	return pgErr("insert provider", err)
}

func (s *Postgres) UpdateProvider(ctx context.Context, p *Provider) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET name=$1, base_url=$2, auth_token=$3, website=$4, enabled=$5,
		 interval_seconds=$6, timeout_seconds=$7, model_name_mapping=$8, updated_at=$9 WHERE id=$10`,
		p.Name, p.BaseURL, p.AuthToken, p.Website, p.Enabled,
		p.IntervalSeconds, p.TimeoutSeconds, p.ModelNameMapping, p.UpdatedAt, p.ID)
	if err != nil {
		return pgErr("update provider", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) DeleteProvider(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return requireAffected(tag)
}

const providerColumns = `id, name, base_url, auth_token, website, enabled, interval_seconds, timeout_seconds, model_name_mapping, created_at, updated_at`

func (s *Postgres) GetProvider(ctx context.Context, id int64) (*Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id=$1`, id)
	return scanPgProvider(row)
}

func (s *Postgres) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	out := []Provider{}
	for rows.Next() {
		p, err := scanPgProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPgProvider(row scannable) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.AuthToken, &p.Website, &p.Enabled,
		&p.IntervalSeconds, &p.TimeoutSeconds, &p.ModelNameMapping, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	return &p, nil
}

// --- models ---

const modelColumns = `id, name, model_name, display_name, default_prompt, system_prompt, template_id, enabled, sort_order, created_at, updated_at`

func (s *Postgres) CreateModel(ctx context.Context, m *Model) error {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	err := s.pool.QueryRow(ctx,
		`INSERT INTO models (name, model_name, display_name, default_prompt, system_prompt, template_id, enabled, sort_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		m.Name, m.ModelName, m.DisplayName, m.DefaultPrompt, m.SystemPrompt,
		nullID(m.TemplateID), m.Enabled, m.SortOrder, now, now).Scan(&m.ID)
	return pgErr("insert model", err)
}

func (s *Postgres) UpdateModel(ctx context.Context, m *Model) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE models SET name=$1, model_name=$2, display_name=$3, default_prompt=$4, system_prompt=$5,
		 template_id=$6, enabled=$7, sort_order=$8, updated_at=$9 WHERE id=$10`,
		m.Name, m.ModelName, m.DisplayName, m.DefaultPrompt, m.SystemPrompt,
		nullID(m.TemplateID), m.Enabled, m.SortOrder, m.UpdatedAt, m.ID)
	if err != nil {
		return pgErr("update model", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) DeleteModel(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM models WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) GetModel(ctx context.Context, id int64) (*Model, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE id=$1`, id)
	return scanPgModel(row)
}

func (s *Postgres) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+modelColumns+` FROM models ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()
	out := []Model{}
	for rows.Next() {
		m, err := scanPgModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanPgModel(row scannable) (*Model, error) {
	var m Model
	var templateID *int64
	err := row.Scan(&m.ID, &m.Name, &m.ModelName, &m.DisplayName, &m.DefaultPrompt, &m.SystemPrompt,
		&templateID, &m.Enabled, &m.SortOrder, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model: %w", err)
	}
	if templateID != nil {
		m.TemplateID = *templateID
	}
	return &m, nil
}

// --- request templates ---

const templateColumns = `id, name, description, method, url_path, headers, body, created_at, updated_at`

func (s *Postgres) CreateTemplate(ctx context.Context, t *RequestTemplate) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Method == "" {
		t.Method = "POST"
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO request_templates (name, description, method, url_path, headers, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		t.Name, t.Description, t.Method, t.URLPath, t.Headers, t.Body, now, now).Scan(&t.ID)
	return pgErr("insert template", err)
}

func (s *Postgres) UpdateTemplate(ctx context.Context, t *RequestTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE request_templates SET name=$1, description=$2, method=$3, url_path=$4, headers=$5, body=$6, updated_at=$7 WHERE id=$8`,
		t.Name, t.Description, t.Method, t.URLPath, t.Headers, t.Body, t.UpdatedAt, t.ID)
	if err != nil {
		return pgErr("update template", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) DeleteTemplate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_templates WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) GetTemplate(ctx context.Context, id int64) (*RequestTemplate, error) {
	var t RequestTemplate
	err := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM request_templates WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.Method, &t.URLPath, &t.Headers, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (s *Postgres) ListTemplates(ctx context.Context) ([]RequestTemplate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM request_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []RequestTemplate{}
	for rows.Next() {
		var t RequestTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Method, &t.URLPath, &t.Headers, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- provider-model links ---

func (s *Postgres) ReplaceProviderModels(ctx context.Context, providerID int64, links []ProviderModel) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace links: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM provider_models WHERE provider_id=$1`, providerID); err != nil {
		return fmt.Errorf("clear provider links: %w", err)
	}
	for i := range links {
		link := &links[i]
		link.ProviderID = providerID
		err := tx.QueryRow(ctx,
			`INSERT INTO provider_models (provider_id, model_id, enabled, custom_prompt) VALUES ($1, $2, $3, $4) RETURNING id`,
			providerID, link.ModelID, link.Enabled, link.CustomPrompt).Scan(&link.ID)
		if err != nil {
			return pgErr("insert provider link", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListProviderModels(ctx context.Context, providerID int64) ([]ProviderModel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_id, model_id, enabled, custom_prompt FROM provider_models WHERE provider_id=$1 ORDER BY model_id`,
		providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider links: %w", err)
	}
	defer rows.Close()
	out := []ProviderModel{}
	for rows.Next() {
		var link ProviderModel
		if err := rows.Scan(&link.ID, &link.ProviderID, &link.ModelID, &link.Enabled, &link.CustomPrompt); err != nil {
			return nil, fmt.Errorf("scan provider link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProviderModel(ctx context.Context, providerID, modelID int64) (*ProviderModel, error) {
	var link ProviderModel
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider_id, model_id, enabled, custom_prompt FROM provider_models WHERE provider_id=$1 AND model_id=$2`,
		providerID, modelID).Scan(&link.ID, &link.ProviderID, &link.ModelID, &link.Enabled, &link.CustomPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider link: %w", err)
	}
	return &link, nil
}

func (s *Postgres) GetEnabledPairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pm.provider_id, pm.model_id
		 FROM provider_models pm
		 JOIN providers p ON p.id = pm.provider_id
		 JOIN models m ON m.id = pm.model_id
		 WHERE pm.enabled AND p.enabled AND m.enabled
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

const ruleColumns = `code, name, category, http_code_pattern, response_regex, priority, created_at, updated_at`

func (s *Postgres) CreateStatusRule(ctx context.Context, r *StatusRule) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO status_rules (code, name, category, http_code_pattern, response_regex, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Code, r.Name, string(r.Category), r.HTTPCodePattern, r.ResponseRegex, r.Priority, now, now)
	return pgErr("insert status rule", err)
}

func (s *Postgres) UpdateStatusRule(ctx context.Context, r *StatusRule) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE status_rules SET name=$1, category=$2, http_code_pattern=$3, response_regex=$4, priority=$5, updated_at=$6 WHERE code=$7`,
		r.Name, string(r.Category), r.HTTPCodePattern, r.ResponseRegex, r.Priority, r.UpdatedAt, r.Code)
	if err != nil {
		return fmt.Errorf("update status rule: %w", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) DeleteStatusRule(ctx context.Context, code int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM status_rules WHERE code=$1`, code)
	if err != nil {
		return fmt.Errorf("delete status rule: %w", err)
	}
	return requireAffected(tag)
}

func (s *Postgres) GetStatusRule(ctx context.Context, code int) (*StatusRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM status_rules WHERE code=$1`, code)
	return scanPgRule(row)
}

func (s *Postgres) ListStatusRules(ctx context.Context) ([]StatusRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM status_rules ORDER BY priority DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("list status rules: %w", err)
	}
	defer rows.Close()
	out := []StatusRule{}
	for rows.Next() {
		r, err := scanPgRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanPgRule(row scannable) (*StatusRule, error) {
	var r StatusRule
	var category string
	err := row.Scan(&r.Code, &r.Name, &category, &r.HTTPCodePattern, &r.ResponseRegex, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan status rule: %w", err)
	}
	r.Category = Category(category)
	return &r, nil
}

// --- globals ---

func (s *Postgres) GetGlobal(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM globals WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get global %s: %w", key, err)
	}
	return value, nil
}

func (s *Postgres) SetGlobal(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO globals (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set global %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) ListGlobals(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM globals`)
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

const recordColumns = `id, provider_id, model_id, status_code, latency_ms, message, checked_at`

func (s *Postgres) AppendProbeRecord(ctx context.Context, rec *ProbeRecord) error {
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO probe_history (provider_id, model_id, status_code, latency_ms, message, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.ProviderID, rec.ModelID, rec.StatusCode, rec.LatencyMS, nullStr(rec.Message), rec.CheckedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("append probe record: %w", err)
	}
	return nil
}

func (s *Postgres) ListProbeRecords(ctx context.Context, q HistoryQuery) ([]ProbeRecord, int64, error) {
	page, pageSize := clampPage(q.Page, q.PageSize)
	where, args := pgHistoryFilter(q)
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM probe_history WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count probe records: %w", err)
	}
	listArgs := append(args, pageSize, (page-1)*pageSize)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM probe_history WHERE %s ORDER BY checked_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			recordColumns, where, len(args)+1, len(args)+2), listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list probe records: %w", err)
	}
	defer rows.Close()
	out, err := collectPgRecords(rows)
	return out, total, err
}

func (s *Postgres) ListProbeRecordsWindow(ctx context.Context, q WindowQuery) ([]ProbeRecord, error) {
	where := "checked_at >= $1"
	args := []any{q.Since}
	if len(q.ProviderIDs) > 0 {
		args = append(args, q.ProviderIDs)
		where += fmt.Sprintf(" AND provider_id = ANY($%d)", len(args))
	}
	if len(q.ModelIDs) > 0 {
		args = append(args, q.ModelIDs)
		where += fmt.Sprintf(" AND model_id = ANY($%d)", len(args))
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM probe_history WHERE `+where+` ORDER BY checked_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list probe record window: %w", err)
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *Postgres) LatestProbeRecords(ctx context.Context) ([]ProbeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (provider_id, model_id) `+recordColumns+`
		 FROM probe_history ORDER BY provider_id, model_id, checked_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list latest probe records: %w", err)
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *Postgres) DeleteProbeRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM probe_history WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete probe records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) ListUnmatchedMessages(ctx context.Context, page, pageSize int) ([]UnmatchedMessage, int64, error) {
	page, pageSize = clampPage(page, pageSize)
	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT message) FROM probe_history WHERE message IS NOT NULL AND message != ''`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unmatched messages: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message, COUNT(*), MIN(checked_at), MAX(checked_at)
		 FROM probe_history WHERE message IS NOT NULL AND message != ''
		 GROUP BY message ORDER BY COUNT(*) DESC LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list unmatched messages: %w", err)
	}
	defer rows.Close()
	out := []UnmatchedMessage{}
	for rows.Next() {
		var u UnmatchedMessage
		if err := rows.Scan(&u.Message, &u.Count, &u.FirstSeen, &u.LastSeen); err != nil {
			return nil, 0, fmt.Errorf("scan unmatched message: %w", err)
		}
		u.FirstSeen = u.FirstSeen.UTC()
		u.LastSeen = u.LastSeen.UTC()
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *Postgres) ListRetainedMessages(ctx context.Context) ([]RetainedMessage, error) {
	rows, err := s.pool.Query(ctx,
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

func (s *Postgres) ReclassifyProbeRecords(ctx context.Context, ids []int64, statusCode int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reclassify: %w", err)
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx,
		`UPDATE probe_history SET status_code=$1, message=NULL WHERE id = ANY($2)`, statusCode, ids)
	if err != nil {
		return 0, fmt.Errorf("reclassify probe records: %w", err)
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}

// --- helpers ---

func pgHistoryFilter(q HistoryQuery) (string, []any) {
	where := "1=1"
	args := []any{}
	if q.ProviderID != 0 {
		args = append(args, q.ProviderID)
		where += fmt.Sprintf(" AND provider_id = $%d", len(args))
	}
	if q.ModelID != 0 {
		args = append(args, q.ModelID)
		where += fmt.Sprintf(" AND model_id = $%d", len(args))
	}
	return where, args
}

func collectPgRecords(rows pgx.Rows) ([]ProbeRecord, error) {
	out := []ProbeRecord{}
	for rows.Next() {
		var rec ProbeRecord
		var message *string
		if err := rows.Scan(&rec.ID, &rec.ProviderID, &rec.ModelID, &rec.StatusCode, &rec.LatencyMS, &message, &rec.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan probe record: %w", err)
		}
		if message != nil {
			rec.Message = *message
		}
		rec.CheckedAt = rec.CheckedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
