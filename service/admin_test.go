package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/query"
)

func TestSessionAdmin(t *testing.T) {
	f := newFixture(t, streamWords("ok"))
	p := f.addProvider(t, "Main", "sk")
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, "chat", "Be kind.")
	require.NoError(t, err)
	assert.Equal(t, "Be kind.", sess.SystemPrompt)

	list, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	require.NoError(t, f.svc.SetSystemPrompt(ctx, sess.ID, "Be terse."))
	_, err = f.svc.QueryProviderStream(ctx, events.Discard, p.ID, "hello", nil, sess.ID)
	require.NoError(t, err)
	body := <-f.bodies
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Be terse.", msgs[0].(map[string]any)["content"])

	assert.ErrorIs(t, f.svc.SetSystemPrompt(ctx, "missing", "x"), llm.ErrSessionNotFound)

	require.NoError(t, f.svc.DeleteSession(ctx, sess.ID))
	list, err = f.svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, f.svc.DeleteSession(ctx, sess.ID), llm.ErrSessionNotFound)
}

func TestSessionAdmin_Disabled(t *testing.T) {
	f := newFixture(t, streamWords())
	svc := New(query.NewEngine(zerolog.Nop()), f.providers, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, "chat", "")
	assert.ErrorIs(t, err, ErrSessionsDisabled)
	_, err = svc.ListSessions(ctx)
	assert.ErrorIs(t, err, ErrSessionsDisabled)
	assert.ErrorIs(t, svc.SetSystemPrompt(ctx, "s", ""), ErrSessionsDisabled)
	assert.ErrorIs(t, svc.DeleteSession(ctx, "s"), ErrSessionsDisabled)
	assert.ErrorIs(t, svc.SetAPIKey(ctx, "p", "k"), ErrAdminDisabled)
	assert.ErrorIs(t, svc.SetActive(ctx, "p", true), ErrAdminDisabled)
}

func TestSetAPIKey(t *testing.T) {
	f := newFixture(t, streamWords("Hi"))
	p := f.addProvider(t, "Main", "")
	ctx := context.Background()

	_, err := f.svc.QueryActiveStream(ctx, events.Discard, "hi", nil)
	require.ErrorIs(t, err, llm.ErrNoActiveProvider)

	require.NoError(t, f.svc.SetAPIKey(ctx, p.ID, "  sk  "))
	key, err := f.providers.APIKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk", key)

	text, err := f.svc.QueryActiveStream(ctx, events.Discard, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi", text)

	// A new key invalidates the last connection test result.
	assert.True(t, f.svc.TestProvider(ctx, p.ID).Success)
	require.Len(t, f.svc.LastProbes(), 1)
	require.NoError(t, f.svc.SetAPIKey(ctx, p.ID, ""))
	assert.Empty(t, f.svc.LastProbes())

	results, err := f.svc.TestAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, f.svc.SetAPIKey(ctx, "missing", "k"), llm.ErrProviderNotFound)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t, streamWords("Hi"))
	first := f.addProvider(t, "First", "sk")
	second := f.addProvider(t, "Second", "sk")
	ctx := context.Background()

	require.NoError(t, f.svc.SetActive(ctx, first.ID, false))
	_, err := f.svc.QueryActiveStream(ctx, events.Discard, "hi", nil)
	require.ErrorIs(t, err, llm.ErrNoActiveProvider)

	require.NoError(t, f.svc.SetActive(ctx, second.ID, true))
	_, err = f.svc.QueryActiveStream(ctx, events.Discard, "hi", nil)
	require.NoError(t, err)

	views, err := f.svc.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.False(t, views[0].IsActive)
	assert.True(t, views[1].IsActive)

	assert.ErrorIs(t, f.svc.SetActive(ctx, "missing", true), llm.ErrProviderNotFound)
}
