// Package mcp exposes the query service to MCP hosts over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
)

const (
	ServerName    = "launcherd"
	ServerVersion = "1.0.0"

	QueryProviderTool = "query_provider"
	TestProviderTool  = "test_provider"
	ListProvidersTool = "list_providers"
)

// Backend is the subset of the query service the tools call into.
type Backend interface {
	QueryActiveStream(ctx context.Context, em events.Emitter, prompt string, history []llm.ChatMessage) (string, error)
	QueryOnce(ctx context.Context, providerID, prompt string, history []llm.ChatMessage) (string, error)
	TestProvider(ctx context.Context, providerID string) llm.ConnectionTestResult
	ListProviders(ctx context.Context) ([]llm.ProviderView, error)
}

// Server serves the query tools.
type Server struct {
	backend Backend
	mcp     *server.MCPServer
	logger  zerolog.Logger
}

// NewServer registers the query tools on a new MCP server.
func NewServer(backend Backend, logger zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		mcp:     server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		logger:  logger.With().Str("component", "mcpServer").Logger(),
	}

	s.mcp.AddTool(mcp.NewTool(QueryProviderTool,
		mcp.WithDescription("Ask a configured LLM provider a question and return its complete answer. Uses the active provider when provider_id is omitted."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The question to ask")),
		mcp.WithString("provider_id", mcp.Description("Provider to ask; defaults to the active provider")),
	), s.queryProvider)

	s.mcp.AddTool(mcp.NewTool(TestProviderTool,
		mcp.WithDescription("Probe a configured provider's endpoint and credentials."),
		mcp.WithString("provider_id", mcp.Required(), mcp.Description("Provider to probe")),
	), s.testProvider)

	s.mcp.AddTool(mcp.NewTool(ListProvidersTool,
		mcp.WithDescription("List configured providers in display order."),
	), s.listProviders)

	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP requests read from in and written to out until ctx
// is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("Serving MCP over stdio")
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) queryProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	providerID := req.GetString("provider_id", "")

	s.logger.Debug().
		Str("tool", QueryProviderTool).
		Str("provider_id", providerID).
		Int("prompt_len", len(prompt)).
		Msg("Tool invoked")

	var text string
	if providerID == "" {
		text, err = s.backend.QueryActiveStream(ctx, events.Discard, prompt, nil)
	} else {
		text, err = s.backend.QueryOnce(ctx, providerID, prompt, nil)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", QueryProviderTool).Msg("Tool failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) testProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := s.backend.TestProvider(ctx, providerID)
	out, err := jsonResult(res)
	if err != nil {
		return nil, err
	}
	out.IsError = !res.Success
	return out, nil
}

func (s *Server) listProviders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := s.backend.ListProviders(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if views == nil {
		views = []llm.ProviderView{}
	}
	return jsonResult(views)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
