package providers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/migrations"
)

// setupTestStore creates an in-memory database with migrations applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := migrations.Open(migrations.MemoryDSN, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db)
	tick := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return s
}

func TestCreate_DefaultsAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	first, err := s.Create(ctx, CreateRequest{Name: "OpenAI", Type: "OpenAI", APIKey: "  sk-1  "})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, llm.ProviderOpenAI, first.Type)
	assert.Equal(t, "https://api.openai.com/v1", first.BaseURL)
	assert.Equal(t, "gpt-4o-mini", first.Model)
	assert.True(t, first.IsActive, "first provider starts active")
	assert.Equal(t, 0, first.DisplayOrder)

	second, err := s.Create(ctx, CreateRequest{Name: "Claude", Type: "anthropic", Model: "claude-x"})
	require.NoError(t, err)
	assert.False(t, second.IsActive)
	assert.Equal(t, 1, second.DisplayOrder)
	assert.Equal(t, "claude-x", second.Model)

	custom, err := s.Create(ctx, CreateRequest{Name: "Local", Type: "something-else"})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderCustom, custom.Type)
	assert.Empty(t, custom.BaseURL)

	views, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []string{first.ID, second.ID, custom.ID},
		[]string{views[0].ID, views[1].ID, views[2].ID})
	assert.True(t, views[0].HasAPIKey)
	assert.False(t, views[1].HasAPIKey)

	key, err := s.APIKey(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", key)
}

func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, llm.ErrProviderNotFound)

	_, err = s.APIKey(context.Background(), "missing")
	assert.ErrorIs(t, err, llm.ErrProviderNotFound)

	assert.ErrorIs(t, s.SetAPIKey(context.Background(), "missing", "k"), llm.ErrProviderNotFound)
	assert.ErrorIs(t, s.SetActive(context.Background(), "missing", true), llm.ErrProviderNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "missing"), llm.ErrProviderNotFound)
}

func TestGetActiveWithKey(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, _, err := s.GetActiveWithKey(ctx)
	assert.ErrorIs(t, err, llm.ErrNoActiveProvider)

	first, err := s.Create(ctx, CreateRequest{Name: "A", Type: "openai"})
	require.NoError(t, err)
	second, err := s.Create(ctx, CreateRequest{Name: "B", Type: "google", APIKey: "g-key"})
	require.NoError(t, err)

	// Active but keyless.
	_, _, err = s.GetActiveWithKey(ctx)
	assert.ErrorIs(t, err, llm.ErrNoActiveProvider)

	require.NoError(t, s.SetActive(ctx, second.ID, true))
	p, key, err := s.GetActiveWithKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, p.ID)
	assert.Equal(t, "g-key", key)

	// Earlier display order wins once it has a key.
	require.NoError(t, s.SetAPIKey(ctx, first.ID, "o-key"))
	p, key, err = s.GetActiveWithKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, p.ID)
	assert.Equal(t, "o-key", key)

	// A blank key clears it.
	require.NoError(t, s.SetAPIKey(ctx, first.ID, "   "))
	k, err := s.APIKey(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, k)
	p, _, err = s.GetActiveWithKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, p.ID)
}

func TestUpdate_Partial(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	p, err := s.Create(ctx, CreateRequest{Name: "A", Type: "openai"})
	require.NoError(t, err)

	model := "gpt-4.1"
	updated, err := s.Update(ctx, p.ID, UpdateRequest{Model: &model})
	require.NoError(t, err)
	assert.Equal(t, "A", updated.Name)
	assert.Equal(t, "gpt-4.1", updated.Model)
	assert.Equal(t, p.BaseURL, updated.BaseURL)
	assert.Greater(t, updated.UpdatedAt, p.UpdatedAt)

	base := "https://proxy.example.com/v1/"
	updated, err = s.Update(ctx, p.ID, UpdateRequest{BaseURL: &base})
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/v1/", updated.BaseURL)
	assert.Equal(t, "https://proxy.example.com/v1", updated.ResolvedBaseURL())

	_, err = s.Update(ctx, "missing", UpdateRequest{Model: &model})
	assert.ErrorIs(t, err, llm.ErrProviderNotFound)
}

func TestDelete_ActivatesNext(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	first, err := s.Create(ctx, CreateRequest{Name: "A", Type: "openai"})
	require.NoError(t, err)
	second, err := s.Create(ctx, CreateRequest{Name: "B", Type: "anthropic"})
	require.NoError(t, err)
	third, err := s.Create(ctx, CreateRequest{Name: "C", Type: "google"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, first.ID))

	got, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	got, err = s.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// Deleting an inactive provider leaves the others alone.
	require.NoError(t, s.Delete(ctx, third.ID))
	got, err = s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	seeds := []CreateRequest{
		{Name: "OpenAI", Type: "openai", APIKey: "k"},
		{Name: "Gemini", Type: "gemini"},
	}
	n, err := s.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	views, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, llm.ProviderGoogle, views[1].Type)
}
