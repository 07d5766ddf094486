package server

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/service"
)

// Query returns a complete answer. Without a provider id the active
// provider is streamed and collected; with a session id the exchange is
// recorded; otherwise the provider is asked once without streaming.
func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.QueryRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.History) == 0 {
		return nil, status.Error(codes.InvalidArgument, "prompt is required")
	}

	s.logger.Info().
		Str("provider_id", req.ProviderID).
		Int("prompt_len", len(req.Prompt)).
		Msg("Query request received")

	var (
		text string
		err  error
	)
	switch {
	case req.ProviderID == "":
		text, err = s.service.QueryActiveStream(ctx, events.Discard, req.Prompt, req.History)
	case req.SessionID != "":
		text, err = s.service.QueryProviderStream(ctx, events.Discard, req.ProviderID, req.Prompt, req.History, req.SessionID)
	default:
		text, err = s.service.QueryOnce(ctx, req.ProviderID, req.Prompt, req.History)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(launcherpb.QueryResponse{Text: text})
}

// QueryStream streams an answer as named events: query:chunk/query:done for
// the active provider, or the provider-namespaced variants when a provider
// id is given.
func (s *Server) QueryStream(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	var req launcherpb.QueryRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.History) == 0 {
		return status.Error(codes.InvalidArgument, "prompt is required")
	}

	em := events.EmitterFunc(func(name, payload string) error {
		msg, err := launcherpb.Encode(launcherpb.QueryEvent{Event: name, Payload: payload})
		if err != nil {
			return err
		}
		return stream.Send(msg)
	})

	var (
		text string
		err  error
	)
	if req.ProviderID == "" {
		text, err = s.service.QueryActiveStream(ctx, em, req.Prompt, req.History)
	} else {
		text, err = s.service.QueryProviderStream(ctx, em, req.ProviderID, req.Prompt, req.History, req.SessionID)
	}
	if err != nil {
		return toStatus(err)
	}

	s.logger.Info().
		Str("provider_id", req.ProviderID).
		Int("response_len", len(text)).
		Msg("Query stream completed")
	return nil
}

// TestProvider probes one provider, or all of them.
func (s *Server) TestProvider(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req launcherpb.TestProviderRequest
	if err := launcherpb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp := launcherpb.TestProviderResponse{}
	switch {
	case req.All:
		results, err := s.service.TestAll(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Results = results
	case req.ProviderID != "":
		resp.Results = map[string]llm.ConnectionTestResult{
			req.ProviderID: s.service.TestProvider(ctx, req.ProviderID),
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "provider_id or all is required")
	}

	return encode(resp)
}

// ListProviders returns the configured providers and their last probes.
func (s *Server) ListProviders(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	views, err := s.service.ListProviders(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	probes := lo.SliceToMap(s.service.LastProbes(), func(r service.ProbeRecord) (string, llm.ConnectionTestResult) {
		return r.ProviderID, r.Result
	})

	return encode(launcherpb.ListProvidersResponse{
		Providers:  lo.Ternary(views == nil, []llm.ProviderView{}, views),
		LastProbes: probes,
	})
}

func encode(v any) (*structpb.Struct, error) {
	out, err := launcherpb.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps query failures onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case llm.IsValidationError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, llm.ErrProviderNotFound), errors.Is(err, llm.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, llm.ErrNoActiveProvider):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrSessionsDisabled), errors.Is(err, service.ErrAdminDisabled):
		return status.Error(codes.Unimplemented, err.Error())
	case llm.IsHTTPStatusError(err):
		code := llm.StatusCode(err)
		if code == 429 || code >= 500 {
			return status.Error(codes.Unavailable, err.Error())
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
