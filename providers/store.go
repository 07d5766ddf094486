// Package providers persists provider descriptors and their API keys.
package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/shenzihan666/search/llm"
)

const table = "providers"

var columns = []string{
	"id", "name", "provider_type", "base_url", "model",
	"is_active", "display_order", "created_at", "updated_at",
}

// CreateRequest describes a new provider. Empty BaseURL and Model take the
// family defaults.
type CreateRequest struct {
	Name    string           `yaml:"name" json:"name"`
	Type    llm.ProviderType `yaml:"type" json:"provider_type"`
	BaseURL string           `yaml:"base_url" json:"base_url,omitempty"`
	Model   string           `yaml:"model" json:"model,omitempty"`
	APIKey  string           `yaml:"api_key" json:"api_key,omitempty"`
}

// UpdateRequest changes the non-nil fields of a provider.
type UpdateRequest struct {
	Name    *string
	BaseURL *string
	Model   *string
}

// Store is the SQLite provider repository. It implements llm.ProviderStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ llm.ProviderStore = (*Store)(nil)

// NewStore creates a Store over an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() int64 {
	return s.now().UnixMilli()
}

// Create inserts a provider at the end of the display order. The first
// provider ever created starts active.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*llm.Provider, error) {
	typ := llm.ParseProviderType(string(req.Type))
	p := llm.Provider{
		ID:      uuid.NewString(),
		Name:    strings.TrimSpace(req.Name),
		Type:    typ,
		BaseURL: strings.TrimSpace(req.BaseURL),
		Model:   strings.TrimSpace(req.Model),
	}
	if p.Name == "" {
		p.Name = typ.String()
	}
	if p.BaseURL == "" {
		p.BaseURL = typ.DefaultBaseURL()
	}
	if p.Model == "" {
		p.Model = typ.DefaultModel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	var maxOrder int
	query, args, err := sq.Select("COALESCE(MAX(display_order), -1)").From(table).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&maxOrder); err != nil {
		return nil, fmt.Errorf("read display order: %w", err)
	}
	p.DisplayOrder = maxOrder + 1
	p.IsActive = maxOrder < 0
	p.CreatedAt = s.timestamp()
	p.UpdatedAt = p.CreatedAt

	query, args, err = sq.Insert(table).
		Columns(append(append([]string(nil), columns...), "api_key")...).
		Values(p.ID, p.Name, p.Type.String(), nullable(p.BaseURL), p.Model,
			p.IsActive, p.DisplayOrder, p.CreatedAt, p.UpdatedAt, nullable(req.APIKey)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &p, nil
}

// List returns every provider in display order, flagging which have a key.
func (s *Store) List(ctx context.Context) ([]llm.ProviderView, error) {
	query, args, err := sq.Select(append(append([]string(nil), columns...),
		"CASE WHEN api_key IS NULL OR TRIM(api_key) = '' THEN 0 ELSE 1 END")...).
		From(table).
		OrderBy("display_order ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []llm.ProviderView
	for rows.Next() {
		var v llm.ProviderView
		if err := scanProvider(rows, &v.Provider, &v.HasAPIKey); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Get returns one provider, or llm.ErrProviderNotFound.
func (s *Store) Get(ctx context.Context, id string) (*llm.Provider, error) {
	query, args, err := sq.Select(columns...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p llm.Provider
	if err := scanProvider(s.db.QueryRowContext(ctx, query, args...), &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, llm.ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetActiveWithKey returns the first active provider, in display order, that
// has a non-blank key.
func (s *Store) GetActiveWithKey(ctx context.Context) (*llm.Provider, string, error) {
	query, args, err := sq.Select(append(append([]string(nil), columns...), "api_key")...).
		From(table).
		Where(sq.Eq{"is_active": true}).
		Where("api_key IS NOT NULL AND TRIM(api_key) <> ''").
		OrderBy("display_order ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, "", fmt.Errorf("build query: %w", err)
	}

	var (
		p   llm.Provider
		key string
	)
	if err := scanProvider(s.db.QueryRowContext(ctx, query, args...), &p, &key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", llm.ErrNoActiveProvider
		}
		return nil, "", err
	}
	return &p, strings.TrimSpace(key), nil
}

// APIKey returns the stored key for a provider, "" when none is set.
func (s *Store) APIKey(ctx context.Context, id string) (string, error) {
	query, args, err := sq.Select("api_key").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}

	var key sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", llm.ErrProviderNotFound
		}
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(key.String), nil
}

// Update applies the non-nil fields of req.
func (s *Store) Update(ctx context.Context, id string, req UpdateRequest) (*llm.Provider, error) {
	set := map[string]interface{}{}
	if req.Name != nil {
		set["name"] = strings.TrimSpace(*req.Name)
	}
	if req.BaseURL != nil {
		set["base_url"] = nullable(*req.BaseURL)
	}
	if req.Model != nil {
		set["model"] = strings.TrimSpace(*req.Model)
	}
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	set["updated_at"] = s.timestamp()

	if err := s.update(ctx, id, set); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// SetAPIKey stores a key. A blank key clears it.
func (s *Store) SetAPIKey(ctx context.Context, id, apiKey string) error {
	return s.update(ctx, id, map[string]interface{}{
		"api_key":    nullable(apiKey),
		"updated_at": s.timestamp(),
	})
}

// SetActive enables or disables a provider. Any number may be active.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, map[string]interface{}{
		"is_active":  active,
		"updated_at": s.timestamp(),
	})
}

func (s *Store) update(ctx context.Context, id string, set map[string]interface{}) error {
	query, args, err := sq.Update(table).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return llm.ErrProviderNotFound
	}
	return nil
}

// Delete removes a provider. When the active provider is deleted the first
// remaining provider in display order becomes active.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	query, args, err := sq.Select("is_active").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	var wasActive bool
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&wasActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return llm.ErrProviderNotFound
		}
		return fmt.Errorf("read provider: %w", err)
	}

	query, args, err = sq.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}

	if wasActive {
		query, args, err = sq.Select("id").From(table).OrderBy("display_order ASC").Limit(1).ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		var next string
		err = tx.QueryRowContext(ctx, query, args...).Scan(&next)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read next provider: %w", err)
		default:
			query, args, err = sq.Update(table).Set("is_active", true).Where(sq.Eq{"id": next}).ToSql()
			if err != nil {
				return fmt.Errorf("build query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("activate next provider: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Seed creates the given providers only when the table is empty, and reports
// how many were inserted.
func (s *Store) Seed(ctx context.Context, seeds []CreateRequest) (int, error) {
	views, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(views) > 0 {
		return 0, nil
	}
	for i, req := range seeds {
		if _, err := s.Create(ctx, req); err != nil {
			return i, fmt.Errorf("seed provider %q: %w", req.Name, err)
		}
	}
	return len(seeds), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanProvider reads the standard columns into p followed by any extra
// destinations.
func scanProvider(row scanner, p *llm.Provider, extra ...any) error {
	var (
		typ     string
		baseURL sql.NullString
	)
	dest := append([]any{
		&p.ID, &p.Name, &typ, &baseURL, &p.Model,
		&p.IsActive, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan provider: %w", err)
	}
	p.Type = llm.ParseProviderType(typ)
	p.BaseURL = baseURL.String
	return nil
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
