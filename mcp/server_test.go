package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
)

type fakeBackend struct {
	active   string
	once     map[string]string
	probes   map[string]llm.ConnectionTestResult
	views    []llm.ProviderView
	queryErr error
	lastID   string
}

func (f *fakeBackend) QueryActiveStream(_ context.Context, em events.Emitter, prompt string, _ []llm.ChatMessage) (string, error) {
	if f.queryErr != nil {
		return "", f.queryErr
	}
	_ = em.Emit(events.QueryChunk, f.active)
	return f.active, nil
}

func (f *fakeBackend) QueryOnce(_ context.Context, providerID, _ string, _ []llm.ChatMessage) (string, error) {
	f.lastID = providerID
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.once[providerID], nil
}

func (f *fakeBackend) TestProvider(_ context.Context, providerID string) llm.ConnectionTestResult {
	return f.probes[providerID]
}

func (f *fakeBackend) ListProviders(context.Context) ([]llm.ProviderView, error) {
	return f.views, nil
}

func connect(t *testing.T, b Backend) *client.Client {
	t.Helper()
	srv := NewServer(b, zerolog.Nop())

	c, err := client.NewInProcessClient(srv.MCPServer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "launcher-test", Version: "1.0.0"},
		},
	})
	require.NoError(t, err)
	return c
}

func call(t *testing.T, c *client.Client, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := c.CallTool(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)

	texts := lo.FilterMap(res.Content, func(content mcp.Content, _ int) (string, bool) {
		tc, ok := mcp.AsTextContent(content)
		if !ok {
			return "", false
		}
		return tc.Text, true
	})
	return strings.Join(texts, "\n"), res.IsError
}

func TestListTools(t *testing.T) {
	c := connect(t, &fakeBackend{})

	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	names := lo.Map(res.Tools, func(tool mcp.Tool, _ int) string { return tool.Name })
	assert.ElementsMatch(t, []string{QueryProviderTool, TestProviderTool, ListProvidersTool}, names)

	query, ok := lo.Find(res.Tools, func(tool mcp.Tool) bool { return tool.Name == QueryProviderTool })
	require.True(t, ok)
	assert.Equal(t, []string{"prompt"}, query.InputSchema.Required)
}

func TestQueryProvider(t *testing.T) {
	b := &fakeBackend{active: "from active", once: map[string]string{"p2": "from p2"}}
	c := connect(t, b)

	text, isErr := call(t, c, QueryProviderTool, map[string]any{"prompt": "hi"})
	assert.False(t, isErr)
	assert.Equal(t, "from active", text)

	text, isErr = call(t, c, QueryProviderTool, map[string]any{"prompt": "hi", "provider_id": "p2"})
	assert.False(t, isErr)
	assert.Equal(t, "from p2", text)
	assert.Equal(t, "p2", b.lastID)

	_, isErr = call(t, c, QueryProviderTool, map[string]any{})
	assert.True(t, isErr)
}

func TestQueryProvider_Failure(t *testing.T) {
	c := connect(t, &fakeBackend{queryErr: errors.New("Rate limited (HTTP 429) for model m")})

	text, isErr := call(t, c, QueryProviderTool, map[string]any{"prompt": "hi"})
	assert.True(t, isErr)
	assert.Contains(t, text, "HTTP 429")
}

func TestTestProviderAndList(t *testing.T) {
	b := &fakeBackend{
		probes: map[string]llm.ConnectionTestResult{
			"ok":  llm.NewConnectionTestResult(true, "Connection OK", 200, 12),
			"bad": llm.NewConnectionTestResult(false, "Authentication failed (HTTP 401) for model m", 401, 5),
		},
		views: []llm.ProviderView{{Provider: llm.Provider{ID: "ok", Name: "Main"}, HasAPIKey: true}},
	}
	c := connect(t, b)

	text, isErr := call(t, c, TestProviderTool, map[string]any{"provider_id": "ok"})
	assert.False(t, isErr)
	var res llm.ConnectionTestResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.True(t, res.Success)
	assert.Equal(t, int64(12), res.LatencyMS)

	_, isErr = call(t, c, TestProviderTool, map[string]any{"provider_id": "bad"})
	assert.True(t, isErr)

	text, isErr = call(t, c, ListProvidersTool, nil)
	assert.False(t, isErr)
	var views []llm.ProviderView
	require.NoError(t, json.Unmarshal([]byte(text), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Main", views[0].Name)
	assert.True(t, views[0].HasAPIKey)
}
