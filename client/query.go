package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
)

// Ask returns a complete answer for req.
func (c *Client) Ask(ctx context.Context, req launcherpb.QueryRequest) (string, error) {
	in, err := launcherpb.Encode(req)
	if err != nil {
		return "", err
	}
	out, err := c.Query.Query(ctx, in)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	var resp launcherpb.QueryResponse
	if err := launcherpb.Decode(out, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Stream streams an answer for req, forwarding every event to em, and
// returns the concatenated chunk payloads. An error event from the daemon
// is returned as an error after the stream ends.
func (c *Client) Stream(ctx context.Context, req launcherpb.QueryRequest, em events.Emitter) (string, error) {
	in, err := launcherpb.Encode(req)
	if err != nil {
		return "", err
	}
	stream, err := c.Query.QueryStream(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to start query stream: %w", err)
	}

	var (
		b       strings.Builder
		failure string
	)
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if failure != "" {
				return b.String(), errors.New(failure)
			}
			return b.String(), fmt.Errorf("stream error: %w", err)
		}

		var ev launcherpb.QueryEvent
		if err := launcherpb.Decode(msg, &ev); err != nil {
			return b.String(), err
		}
		if err := em.Emit(ev.Event, ev.Payload); err != nil {
			return b.String(), fmt.Errorf("stream callback error: %w", err)
		}

		switch {
		case isEvent(ev.Event, events.QueryChunk):
			b.WriteString(ev.Payload)
		case isEvent(ev.Event, events.QueryError):
			failure = ev.Payload
		}
	}
	return b.String(), nil
}

func isEvent(name, base string) bool {
	return name == base || strings.HasPrefix(name, base+":")
}

// TestProvider probes one provider.
func (c *Client) TestProvider(ctx context.Context, providerID string) (llm.ConnectionTestResult, error) {
	results, err := c.testProviders(ctx, launcherpb.TestProviderRequest{ProviderID: providerID})
	if err != nil {
		return llm.ConnectionTestResult{}, err
	}
	return results[providerID], nil
}

// TestAll probes every provider that has a key.
func (c *Client) TestAll(ctx context.Context) (map[string]llm.ConnectionTestResult, error) {
	return c.testProviders(ctx, launcherpb.TestProviderRequest{All: true})
}

func (c *Client) testProviders(ctx context.Context, req launcherpb.TestProviderRequest) (map[string]llm.ConnectionTestResult, error) {
	in, err := launcherpb.Encode(req)
	if err != nil {
		return nil, err
	}
	out, err := c.Query.TestProvider(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("test provider failed: %w", err)
	}
	var resp launcherpb.TestProviderResponse
	if err := launcherpb.Decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListProviders lists the configured providers.
func (c *Client) ListProviders(ctx context.Context) (*launcherpb.ListProvidersResponse, error) {
	out, err := c.Query.ListProviders(ctx, &structpb.Struct{})
	if err != nil {
		return nil, fmt.Errorf("list providers failed: %w", err)
	}
	var resp launcherpb.ListProvidersResponse
	if err := launcherpb.Decode(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
