package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/conversations"
)

// CreateSession opens a chat session.
func (c *Client) CreateSession(ctx context.Context, title, systemPrompt string) (*conversations.Session, error) {
	in, err := launcherpb.Encode(launcherpb.CreateSessionRequest{Title: title, SystemPrompt: systemPrompt})
	if err != nil {
		return nil, err
	}
	out, err := c.Query.CreateSession(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	var sess conversations.Session
	if err := launcherpb.Decode(out, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions lists sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context) ([]conversations.Session, error) {
	out, err := c.Query.ListSessions(ctx, &structpb.Struct{})
	if err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	var resp launcherpb.ListSessionsResponse
	if err := launcherpb.Decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// SetSystemPrompt replaces a session's system prompt.
func (c *Client) SetSystemPrompt(ctx context.Context, sessionID, prompt string) error {
	return c.call(ctx, "set system prompt", c.Query.SetSystemPrompt,
		launcherpb.SetSystemPromptRequest{SessionID: sessionID, SystemPrompt: prompt})
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "delete session", c.Query.DeleteSession,
		launcherpb.DeleteSessionRequest{SessionID: sessionID})
}

// SetAPIKey stores a provider key. An empty key clears it.
func (c *Client) SetAPIKey(ctx context.Context, providerID, apiKey string) error {
	return c.call(ctx, "set api key", c.Query.SetAPIKey,
		launcherpb.SetAPIKeyRequest{ProviderID: providerID, APIKey: apiKey})
}

// SetActive enables or disables a provider.
func (c *Client) SetActive(ctx context.Context, providerID string, active bool) error {
	return c.call(ctx, "set active", c.Query.SetActive,
		launcherpb.SetActiveRequest{ProviderID: providerID, Active: active})
}

type unaryCall func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) call(ctx context.Context, what string, rpc unaryCall, req any) error {
	in, err := launcherpb.Encode(req)
	if err != nil {
		return err
	}
	if _, err := rpc(ctx, in); err != nil {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	return nil
}
